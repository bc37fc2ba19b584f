package txn

import (
	"context"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market/internal/evm"
	"nft-market/internal/observability"
)

// DefaultPollInterval is how often ReceiptWaiter polls for a receipt.
const DefaultPollInterval = 4 * time.Second

// Confirmer waits for a broadcast transaction to be mined.
type Confirmer interface {
	// WaitMined blocks until the receipt of hash is available or ctx ends.
	WaitMined(ctx context.Context, hash common.Hash) (*evm.Receipt, error)
}

// ReceiptSource returns receipts, nil while the transaction is pending.
type ReceiptSource interface {
	TransactionReceipt(ctx context.Context, hash common.Hash) (*evm.Receipt, error)
}

// ReceiptWaiter polls eth_getTransactionReceipt. New block heads, when
// followed, wake every waiter immediately instead of at the next tick.
type ReceiptWaiter struct {
	source   ReceiptSource
	interval time.Duration
	logger   *zap.Logger

	mu   sync.Mutex
	wake chan struct{}
}

// Compile-time interface check.
var _ Confirmer = (*ReceiptWaiter)(nil)

// NewReceiptWaiter creates a waiter polling source every interval.
func NewReceiptWaiter(source ReceiptSource, interval time.Duration, logger *zap.Logger) *ReceiptWaiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReceiptWaiter{
		source:   source,
		interval: interval,
		logger:   logger.Named("receipts"),
		wake:     make(chan struct{}),
	}
}

// Wake makes every blocked WaitMined poll now.
func (w *ReceiptWaiter) Wake() {
	w.mu.Lock()
	close(w.wake)
	w.wake = make(chan struct{})
	w.mu.Unlock()
}

// FollowHeads wakes waiters on every head until heads closes or ctx ends.
func (w *ReceiptWaiter) FollowHeads(ctx context.Context, heads <-chan evm.Head) {
	for {
		select {
		case <-ctx.Done():
			return
		case h, ok := <-heads:
			if !ok {
				return
			}
			observability.RecordHead()
			w.logger.Debug("new head", zap.Uint64("number", h.Number))
			w.Wake()
		}
	}
}

// WaitMined implements Confirmer. Lookup errors are logged and retried on
// the next tick; only ctx ends the wait without a receipt.
func (w *ReceiptWaiter) WaitMined(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		receipt, err := w.source.TransactionReceipt(ctx, hash)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			w.logger.Debug("receipt lookup failed", zap.Stringer("hash", hash), zap.Error(err))
		} else if receipt != nil {
			return receipt, nil
		}

		w.mu.Lock()
		wake := w.wake
		w.mu.Unlock()

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		case <-wake:
		}
	}
}
