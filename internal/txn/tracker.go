// Package txn drives a write from submission to a terminal status:
// pending while the wallet signs and broadcasts, confirming while the
// transaction is mined, then success or failed. Settlement is the single
// event dependent reads are invalidated on.
package txn

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"slices"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market/internal/contracts"
	"nft-market/internal/domain"
	"nft-market/internal/evm"
	"nft-market/internal/observability"
	"nft-market/internal/storage"
)

// DefaultConfirmationTimeout bounds the wait for a receipt.
const DefaultConfirmationTimeout = 5 * time.Minute

// Writer signs and broadcasts a contract call.
type Writer interface {
	Write(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...any) (common.Hash, error)
}

// Request describes one write.
type Request struct {
	Kind    domain.TxKind
	TokenID *big.Int // nil for spending approval
	Call    contracts.Call
	// Account is the sender recorded in the activity journal.
	Account common.Address
}

// Observer receives every status change of a transaction.
type Observer func(domain.PendingTx)

// Pending is a submitted write.
type Pending struct {
	mu        sync.Mutex
	tx        domain.PendingTx
	receipt   *evm.Receipt
	observers []Observer
	settled   []func(domain.PendingTx)
	done      chan struct{}
}

func newPending(req Request, now time.Time) *Pending {
	return &Pending{
		tx: domain.PendingTx{
			Kind:        req.Kind,
			TokenID:     req.TokenID,
			Status:      domain.TxStatusPending,
			SubmittedAt: now,
		},
		done: make(chan struct{}),
	}
}

// Snapshot returns the current state.
func (p *Pending) Snapshot() domain.PendingTx {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.tx
}

// Receipt returns the receipt once mined.
func (p *Pending) Receipt() *evm.Receipt {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.receipt
}

// Done is closed when the transaction reaches a terminal status.
func (p *Pending) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the transaction settles and returns its final state
// and error.
func (p *Pending) Wait(ctx context.Context) (domain.PendingTx, error) {
	select {
	case <-p.done:
		tx := p.Snapshot()
		return tx, tx.Err
	case <-ctx.Done():
		return p.Snapshot(), ctx.Err()
	}
}

// OnSettle registers fn to run once when the transaction settles. If it
// already settled fn runs immediately.
func (p *Pending) OnSettle(fn func(domain.PendingTx)) {
	p.mu.Lock()
	if p.tx.Status.Terminal() {
		tx := p.tx
		p.mu.Unlock()
		fn(tx)
		return
	}
	p.settled = append(p.settled, fn)
	p.mu.Unlock()
}

func (p *Pending) update(fn func(tx *domain.PendingTx)) domain.PendingTx {
	p.mu.Lock()
	fn(&p.tx)
	tx := p.tx
	observers := append([]Observer(nil), p.observers...)
	var settled []func(domain.PendingTx)
	if tx.Status.Terminal() {
		settled = p.settled
		p.settled = nil
	}
	p.mu.Unlock()

	for _, o := range observers {
		o(tx)
	}
	if tx.Status.Terminal() {
		for _, fn := range settled {
			fn(tx)
		}
		close(p.done)
	}
	return tx
}

// Tracker submits writes and follows them to a terminal status.
type Tracker struct {
	writer    Writer
	confirmer Confirmer
	journal   storage.ActivityStore
	timeout   time.Duration
	logger    *zap.Logger
	now       func() time.Time

	mu     sync.Mutex
	hooks  []func(domain.PendingTx)
	closed bool
	wg     sync.WaitGroup
}

// Option configures Tracker.
type Option func(*Tracker)

// WithConfirmationTimeout bounds the wait for a receipt.
func WithConfirmationTimeout(d time.Duration) Option {
	return func(t *Tracker) {
		t.timeout = d
	}
}

// WithActivityStore journals every settled transaction.
func WithActivityStore(s storage.ActivityStore) Option {
	return func(t *Tracker) {
		t.journal = s
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(t *Tracker) {
		t.logger = l
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) {
		t.now = now
	}
}

// NewTracker creates a Tracker.
func NewTracker(writer Writer, confirmer Confirmer, opts ...Option) *Tracker {
	t := &Tracker{
		writer:    writer,
		confirmer: confirmer,
		timeout:   DefaultConfirmationTimeout,
		logger:    zap.NewNop(),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = t.logger.Named("txn")
	return t
}

// OnSettle registers fn to run after every transaction settles.
func (t *Tracker) OnSettle(fn func(domain.PendingTx)) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.hooks = append(t.hooks, fn)
}

// Close waits for every submitted transaction to settle. Cancel the
// submission contexts first to abandon them.
func (t *Tracker) Close() {
	t.mu.Lock()
	t.closed = true
	t.mu.Unlock()
	t.wg.Wait()
}

// Submit starts req and returns immediately with the transaction in the
// pending status. Observers are registered before the goroutine starts, so
// they see every later transition. They run on that goroutine, never on
// the caller's.
func (t *Tracker) Submit(ctx context.Context, req Request, observers ...Observer) *Pending {
	p := newPending(req, t.now())
	p.observers = append(p.observers, observers...)

	t.mu.Lock()
	closed := t.closed
	if !closed {
		t.wg.Add(1)
	}
	t.mu.Unlock()

	if closed {
		go t.settle(context.Background(), p, req, nil, ErrTrackerClosed)
		return p
	}

	go func() {
		defer t.wg.Done()
		t.run(ctx, p, req)
	}()
	return p
}

func (t *Tracker) run(ctx context.Context, p *Pending, req Request) {
	logger := t.logger.With(zap.String("kind", req.Kind.String()), zap.String("method", req.Call.Method))
	if req.TokenID != nil {
		logger = logger.With(zap.String("token_id", req.TokenID.String()))
	}

	hash, err := t.writer.Write(ctx, req.Call.Contract, req.Call.ABI, req.Call.Method, req.Call.Args...)
	if err != nil {
		logger.Info("write failed", zap.Error(err))
		t.settle(ctx, p, req, nil, err)
		return
	}

	observability.RecordTxSubmitted(req.Kind.String())
	logger = logger.With(zap.Stringer("hash", hash))
	logger.Info("transaction broadcast")

	p.update(func(tx *domain.PendingTx) {
		tx.Hash = hash
		tx.Status = domain.TxStatusConfirming
	})

	wctx, cancel := context.WithTimeout(ctx, t.timeout)
	receipt, err := t.confirmer.WaitMined(wctx, hash)
	cancel()

	switch {
	case err != nil && errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		err = fmt.Errorf("%w after %s", ErrConfirmationTimeout, t.timeout)
	case err != nil:
		err = fmt.Errorf("wait for receipt: %w", err)
	case !receipt.Succeeded():
		err = ErrReverted
	}

	if err != nil {
		logger.Warn("transaction failed", zap.Error(err))
	} else {
		logger.Info("transaction confirmed", zap.Uint64("block", receipt.BlockNumber))
	}
	t.settle(ctx, p, req, receipt, err)
}

// settle journals the outcome and runs tracker hooks before publishing the
// terminal status, so everything is recorded once Done is closed.
func (t *Tracker) settle(ctx context.Context, p *Pending, req Request, receipt *evm.Receipt, err error) {
	final := p.Snapshot()
	final.SettledAt = t.now()
	final.Err = err
	if receipt != nil {
		final.BlockNumber = receipt.BlockNumber
	}
	if err != nil {
		final.Status = domain.TxStatusFailed
	} else {
		final.Status = domain.TxStatusSuccess
	}

	if final.Hash != (common.Hash{}) {
		observability.RecordTxSettled(req.Kind.String(), final.Status.String(), final.SettledAt.Sub(final.SubmittedAt).Seconds())
		t.journalRecord(ctx, req, final)
	}

	t.mu.Lock()
	hooks := slices.Clone(t.hooks)
	t.mu.Unlock()
	for _, fn := range hooks {
		fn(final)
	}

	p.mu.Lock()
	p.receipt = receipt
	p.mu.Unlock()
	p.update(func(tx *domain.PendingTx) {
		*tx = final
	})
}

// journalRecord appends tx to the activity journal. Only broadcast
// transactions are recorded; a refused signature never reached the chain.
func (t *Tracker) journalRecord(ctx context.Context, req Request, tx domain.PendingTx) {
	if t.journal == nil {
		return
	}

	rec := &domain.ActivityRecord{
		TxHash:      tx.Hash.Hex(),
		Kind:        tx.Kind,
		Account:     domain.NormalizeAddress(req.Account.Hex()),
		Status:      tx.Status,
		SubmittedAt: tx.SubmittedAt.UnixMilli(),
		SettledAt:   tx.SettledAt.UnixMilli(),
		CreatedAt:   t.now().UnixMilli(),
	}
	if tx.TokenID != nil {
		id := tx.TokenID.String()
		rec.TokenID = &id
	}
	if tx.Err != nil {
		msg := tx.Err.Error()
		rec.Error = &msg
	}
	if tx.BlockNumber != 0 {
		n := int64(tx.BlockNumber)
		rec.BlockNumber = &n
	}

	// The submission context may already be cancelled on shutdown
	jctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := t.journal.Insert(jctx, rec); err != nil {
		t.logger.Warn("journal insert failed", zap.String("hash", rec.TxHash), zap.Error(err))
	}
}
