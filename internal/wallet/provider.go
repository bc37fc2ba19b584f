// Package wallet owns the connected session: which connectors exist, which
// account is connected, and how writes are signed and broadcast.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market/internal/domain"
	"nft-market/internal/evm"
)

// Provider is the wallet connection provider observed by the views.
type Provider struct {
	connectors []Connector
	logger     *zap.Logger

	mu      sync.Mutex
	ready   bool
	active  Connector
	session domain.Session
	subs    map[uint64]func(domain.Session)
	nextSub uint64
}

// NewProvider creates a provider over connectors in preference order.
func NewProvider(logger *zap.Logger, connectors ...Connector) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		connectors: connectors,
		logger:     logger.Named("wallet"),
		subs:       make(map[uint64]func(domain.Session)),
	}
}

// Hydrate resolves the initial session. With a non-empty connectorID it
// reconnects that connector; a failed reconnect leaves the provider
// disconnected. The provider is ready once Hydrate returns.
func (p *Provider) Hydrate(ctx context.Context, connectorID string) error {
	var err error
	if connectorID != "" {
		_, err = p.connect(ctx, connectorID)
		if err != nil {
			p.logger.Warn("reconnect failed", zap.String("connector", connectorID), zap.Error(err))
		}
	}

	p.mu.Lock()
	p.ready = true
	session := p.session
	p.mu.Unlock()

	p.notify(session)
	return err
}

// Ready reports whether the initial session has been resolved.
func (p *Provider) Ready() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ready
}

// Connectors returns the configured connectors in preference order.
func (p *Provider) Connectors() []Connector {
	return append([]Connector(nil), p.connectors...)
}

// Connect connects connectorID and returns the new session.
func (p *Provider) Connect(ctx context.Context, connectorID string) (domain.Session, error) {
	session, err := p.connect(ctx, connectorID)
	if err != nil {
		return domain.Session{}, err
	}
	p.notify(session)
	return session, nil
}

func (p *Provider) connect(ctx context.Context, connectorID string) (domain.Session, error) {
	if len(p.connectors) == 0 {
		return domain.Session{}, ErrNoConnectors
	}
	var c Connector
	for _, candidate := range p.connectors {
		if candidate.ID() == connectorID {
			c = candidate
			break
		}
	}
	if c == nil {
		return domain.Session{}, fmt.Errorf("%w: %q", ErrUnknownConnector, connectorID)
	}

	addr, err := c.Connect(ctx)
	if err != nil {
		return domain.Session{}, fmt.Errorf("connect %s: %w", c.ID(), err)
	}

	session := domain.Session{Address: addr, Connected: true, ConnectorID: c.ID()}

	p.mu.Lock()
	prev := p.active
	p.active = c
	p.session = session
	p.mu.Unlock()

	if prev != nil && prev != c {
		prev.Disconnect()
	}
	p.logger.Info("connected", zap.String("connector", c.ID()), zap.Stringer("address", addr))
	return session, nil
}

// Disconnect clears the session.
func (p *Provider) Disconnect() {
	p.mu.Lock()
	prev := p.active
	p.active = nil
	p.session = domain.Session{}
	p.mu.Unlock()

	if prev == nil {
		return
	}
	prev.Disconnect()
	p.logger.Info("disconnected", zap.String("connector", prev.ID()))
	p.notify(domain.Session{})
}

// Session returns the current session.
func (p *Provider) Session() domain.Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.session
}

// Subscribe registers fn to run on every session change. The returned
// function removes it.
func (p *Provider) Subscribe(fn func(domain.Session)) (cancel func()) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextSub++
	id := p.nextSub
	p.subs[id] = fn
	return func() {
		p.mu.Lock()
		defer p.mu.Unlock()
		delete(p.subs, id)
	}
}

func (p *Provider) notify(session domain.Session) {
	p.mu.Lock()
	subs := make([]func(domain.Session), 0, len(p.subs))
	for _, fn := range p.subs {
		subs = append(subs, fn)
	}
	p.mu.Unlock()

	for _, fn := range subs {
		fn(session)
	}
}

// Write ABI-encodes method and sends it to contract from the connected
// account.
func (p *Provider) Write(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...any) (common.Hash, error) {
	p.mu.Lock()
	c := p.active
	session := p.session
	p.mu.Unlock()

	if c == nil || !session.Connected {
		return common.Hash{}, ErrNotConnected
	}

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return common.Hash{}, fmt.Errorf("pack %s: %w", method, err)
	}

	hash, err := c.Send(ctx, session.Address, evm.CallMsg{To: contract, Data: data})
	if err != nil {
		if evm.IsUserRejected(err) {
			return common.Hash{}, fmt.Errorf("%w: %v", ErrRejected, err)
		}
		if errors.Is(err, context.Canceled) {
			return common.Hash{}, err
		}
		return common.Hash{}, fmt.Errorf("send %s: %w", method, err)
	}
	return hash, nil
}
