// Package app wires configuration into the running collaborators shared by
// the interactive and one-shot front ends.
package app

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market/internal/config"
	"nft-market/internal/contracts"
	"nft-market/internal/domain"
	"nft-market/internal/evm"
	"nft-market/internal/market"
	"nft-market/internal/metadata"
	"nft-market/internal/observability"
	"nft-market/internal/query"
	"nft-market/internal/storage"
	"nft-market/internal/storage/memory"
	"nft-market/internal/storage/migrations"
	pgstore "nft-market/internal/storage/postgres"
	"nft-market/internal/txn"
	"nft-market/internal/wallet"
)

// App holds the wired collaborators.
type App struct {
	Config  config.Config
	Logger  *zap.Logger
	RPC     evm.RPCClient
	Chain   *contracts.Chain
	Wallet  *wallet.Provider
	Tracker *txn.Tracker
	Query   *query.Client
	Journal storage.ActivityStore
	View    *market.ListingsView
	Header  *market.Header

	changes chan struct{}
	cancel  context.CancelFunc
	closers []func()
}

// Option configures New.
type Option func(*options)

type options struct {
	rpc evm.RPCClient
}

// WithRPCClient skips endpoint selection and uses rpc.
func WithRPCClient(rpc evm.RPCClient) Option {
	return func(o *options) {
		o.rpc = rpc
	}
}

// New selects an RPC endpoint and builds every collaborator. The caller
// must Close the returned App.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	addrs, err := cfg.Contracts()
	if err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(context.Background())
	a := &App{
		Config:  cfg,
		Logger:  logger,
		changes: make(chan struct{}, 1),
		cancel:  cancel,
	}
	a.closers = append(a.closers, cancel)

	a.RPC = o.rpc
	if a.RPC == nil {
		endpoint, err := config.SelectEndpoint(ctx, cfg.Endpoints(), cfg.Network.ChainID, func(endpoint string) config.ChainIDReader {
			return evm.NewHTTPClient(endpoint, evm.WithMaxRetries(0), evm.WithTimeout(config.DefaultProbeTimeout))
		}, logger)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.RPC = evm.NewHTTPClient(endpoint)
	}

	waiter := txn.NewReceiptWaiter(a.RPC, txn.DefaultPollInterval, logger)
	if cfg.WSURL != "" {
		a.followHeads(runCtx, waiter)
	}

	a.Journal, err = a.openJournal(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	connectors, err := buildConnectors(cfg, a.RPC)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.Chain = contracts.NewChain(contracts.NewReader(a.RPC), a.RPC, addrs)
	a.Wallet = wallet.NewProvider(logger, connectors...)
	a.Tracker = txn.NewTracker(a.Wallet, waiter,
		txn.WithConfirmationTimeout(cfg.ConfirmationTimeout),
		txn.WithActivityStore(a.Journal),
		txn.WithLogger(logger),
	)
	a.closers = append(a.closers, a.Tracker.Close)
	a.Query = query.New(query.WithLogger(logger))
	a.closers = append(a.closers, a.Query.Close)

	fetcher := metadata.NewFetcher(a.Chain,
		metadata.WithGateway(cfg.IPFSGateway),
		metadata.WithLogger(logger),
	)

	a.View = market.NewListingsView(market.Deps{
		Chain:        a.Chain,
		Metadata:     fetcher,
		Wallet:       a.Wallet,
		Tx:           a.Tracker,
		Query:        a.Query,
		NativeSymbol: cfg.Network.NativeSymbol,
		Explorer:     cfg.Network.ExplorerURL,
		OnChange:     a.notify,
		Logger:       logger,
	})
	a.Header = market.HeaderFor(a.View)

	a.closers = append(a.closers, a.Query.WatchAll(func(query.Snapshot) { a.notify() }))
	a.closers = append(a.closers, a.Wallet.Subscribe(func(domain.Session) { a.notify() }))

	if cfg.MetricsAddr != "" {
		a.serveMetrics(cfg.MetricsAddr)
	}
	return a, nil
}

// Hydrate resolves the initial wallet session from the configured
// connector. A failed reconnect leaves the wallet disconnected and is
// returned for display only.
func (a *App) Hydrate(ctx context.Context) error {
	return a.Wallet.Hydrate(ctx, a.Config.Connector)
}

// Changes receives a value whenever a read settles, a transaction changes
// status or the session changes. Bursts are coalesced.
func (a *App) Changes() <-chan struct{} {
	return a.changes
}

func (a *App) notify() {
	select {
	case a.changes <- struct{}{}:
	default:
	}
}

// History returns the settled transactions of the connected account,
// newest first.
func (a *App) History(ctx context.Context, limit int) ([]*domain.ActivityRecord, error) {
	session := a.Wallet.Session()
	if !session.Connected {
		return nil, wallet.ErrNotConnected
	}
	return a.Journal.ListByAccount(ctx, domain.NormalizeAddress(session.Address.Hex()), limit)
}

// TxURL returns the explorer link of hash.
func (a *App) TxURL(hash common.Hash) string {
	return market.ExplorerTxURL(a.Config.Network.ExplorerURL, hash)
}

// Close stops background work and waits for submitted transactions.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func (a *App) followHeads(ctx context.Context, waiter *txn.ReceiptWaiter) {
	wsCfg := evm.DefaultWSConfig()
	wsCfg.Logger = a.Logger
	ws, err := evm.NewWSClient(ctx, a.Config.WSURL, &wsCfg)
	if err != nil {
		a.Logger.Warn("websocket unavailable, polling for receipts", zap.Error(err))
		return
	}
	a.closers = append(a.closers, func() { _ = ws.Close() })

	heads, err := ws.SubscribeNewHeads(ctx)
	if err != nil {
		a.Logger.Warn("newHeads subscription failed, polling for receipts", zap.Error(err))
		return
	}
	go waiter.FollowHeads(ctx, heads)
}

func (a *App) openJournal(ctx context.Context) (storage.ActivityStore, error) {
	if a.Config.PostgresDSN == "" {
		return memory.NewActivityStore(), nil
	}

	pool, err := pgstore.NewPool(ctx, a.Config.PostgresDSN)
	if err != nil {
		return nil, err
	}
	if err := migrations.RunPostgresMigrations(ctx, pool, a.Logger); err != nil {
		pool.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.closers = append(a.closers, pool.Close)
	return pgstore.NewActivityStore(pool), nil
}

func buildConnectors(cfg config.Config, rpc evm.RPCClient) ([]wallet.Connector, error) {
	var connectors []wallet.Connector

	switch {
	case cfg.PrivateKey != "":
		key, err := wallet.KeyFromHex(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.EnvPrivateKey, err)
		}
		connectors = append(connectors, wallet.NewKeyConnector(rpc, key, big.NewInt(cfg.Network.ChainID)))
	case cfg.KeystorePath != "":
		key, err := wallet.KeyFromKeystore(cfg.KeystorePath, cfg.KeystorePassword)
		if err != nil {
			return nil, fmt.Errorf("keystore: %w", err)
		}
		connectors = append(connectors, wallet.NewKeyConnector(rpc, key, big.NewInt(cfg.Network.ChainID)))
	}

	connectors = append(connectors, wallet.NewNodeConnector(rpc))
	return connectors, nil
}

func (a *App) serveMetrics(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", observability.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		a.Logger.Info("metrics server listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Warn("metrics server stopped", zap.Error(err))
		}
	}()
	a.closers = append(a.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	})
}
