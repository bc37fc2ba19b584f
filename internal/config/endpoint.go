package config

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultProbeTimeout bounds each eth_chainId probe.
const DefaultProbeTimeout = 5 * time.Second

// ErrNoHealthyEndpoint is returned when no endpoint answered with the
// expected chain id.
var ErrNoHealthyEndpoint = errors.New("no rpc endpoint available")

// ChainIDReader is the part of an RPC client SelectEndpoint probes.
type ChainIDReader interface {
	ChainID(ctx context.Context) (*big.Int, error)
}

// Dialer returns a client for endpoint.
type Dialer func(endpoint string) ChainIDReader

// SelectEndpoint probes every endpoint concurrently and returns the first
// one, in preference order, that reports chainID.
func SelectEndpoint(ctx context.Context, endpoints []string, chainID int64, dial Dialer, logger *zap.Logger) (string, error) {
	if len(endpoints) == 0 {
		return "", ErrNoEndpoints
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	errs := make([]error, len(endpoints))
	want := big.NewInt(chainID)

	var g errgroup.Group
	g.SetLimit(4)
	for i, endpoint := range endpoints {
		g.Go(func() error {
			pctx, cancel := context.WithTimeout(ctx, DefaultProbeTimeout)
			defer cancel()

			got, err := dial(endpoint).ChainID(pctx)
			switch {
			case err != nil:
				errs[i] = fmt.Errorf("%s: %w", endpoint, err)
			case got.Cmp(want) != 0:
				errs[i] = fmt.Errorf("%s: chain id %s, want %d", endpoint, got, chainID)
			}
			return nil
		})
	}
	_ = g.Wait()

	for i, endpoint := range endpoints {
		if errs[i] == nil {
			logger.Info("rpc endpoint selected", zap.String("endpoint", endpoint), zap.Int("preference", i))
			return endpoint, nil
		}
		logger.Warn("rpc endpoint unavailable", zap.Error(errs[i]))
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}
	return "", fmt.Errorf("%w: %w", ErrNoHealthyEndpoint, errors.Join(errs...))
}
