package market

import (
	"context"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market/internal/domain"
	"nft-market/internal/query"
	"nft-market/internal/txn"
	"nft-market/internal/wallet"
)

// Phase is what the listings area shows.
type Phase int

const (
	PhaseLoading Phase = iota
	PhaseEmpty
	PhaseReady
	PhaseFailed
)

func (p Phase) String() string {
	switch p {
	case PhaseLoading:
		return "loading"
	case PhaseEmpty:
		return "empty"
	case PhaseReady:
		return "ready"
	case PhaseFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Listings view texts.
const (
	EmptyMessage           = "No NFTs are currently listed on the market."
	LoadingMessage         = "Loading listings…"
	ListingsFailedMessage  = "Could not load listings."
	LabelApprovingSpending = "Approving..."
	AllowanceUnknown       = "unknown"
	AllowanceUnavailable   = "unavailable"
)

// AllowanceView is the spending approval area of the listings view.
type AllowanceView struct {
	State query.State
	// Value is the formatted allowance, AllowanceUnknown while loading or
	// AllowanceUnavailable when the read failed.
	Value string

	// ApproveOffered is true only when the allowance loaded as exactly zero,
	// or while an approval started from here is still settling.
	ApproveOffered  bool
	ApproveLabel    string
	ApproveDisabled bool

	Error  string
	TxHash string
	TxURL  string
}

// ListingsRender is the render output of the listings view.
type ListingsRender struct {
	Phase   Phase
	Message string
	Error   string
	Cards   []CardView

	Connected bool
	Allowance AllowanceView
}

// ListingsView is the marketplace page: the listing grid and the one-time
// spending approval.
type ListingsView struct {
	deps   *Deps
	logger *zap.Logger

	mu         sync.Mutex
	cards      map[string]*Card
	order      []string
	approving  *txn.Pending
	approveErr error
	approveGen uint64
	// settling is set from the approval's confirmation until the allowance
	// re-read it triggered has landed.
	settling bool
}

// NewListingsView creates the listings view.
func NewListingsView(deps Deps) *ListingsView {
	deps.defaults()
	return &ListingsView{
		deps:   &deps,
		logger: deps.Logger.Named("listings"),
		cards:  make(map[string]*Card),
	}
}

// Deps returns the collaborators the view was built with.
func (v *ListingsView) Deps() *Deps {
	return v.deps
}

// Render returns the page as it should be drawn now, starting any reads
// it needs.
func (v *ListingsView) Render() ListingsRender {
	session := v.deps.Wallet.Session()
	out := ListingsRender{Connected: session.Connected}

	res := v.deps.listings()
	switch {
	case res.IsPending() || (res.State == query.Failed && res.Refreshing):
		out.Phase = PhaseLoading
		out.Message = LoadingMessage
	case res.State == query.Failed:
		out.Phase = PhaseFailed
		out.Message = ListingsFailedMessage
		out.Error = res.Err.Error()
	case len(res.Value) == 0:
		out.Phase = PhaseEmpty
		out.Message = EmptyMessage
	default:
		out.Phase = PhaseReady
	}

	if out.Phase == PhaseReady {
		for _, card := range v.sync(res.Value) {
			out.Cards = append(out.Cards, card.Render())
		}
	}

	if session.Connected {
		out.Allowance = v.allowanceView(session)
	}
	return out
}

// sync updates the card set to listings and returns the cards in display
// order. Cards with a transaction in flight survive a listing's removal.
func (v *ListingsView) sync(listings []domain.Listing) []*Card {
	v.mu.Lock()
	defer v.mu.Unlock()

	seen := make(map[string]bool, len(listings))
	order := make([]string, 0, len(listings))
	for _, l := range listings {
		key := l.Key()
		seen[key] = true
		order = append(order, key)
		if card, ok := v.cards[key]; ok {
			card.setListing(l)
			continue
		}
		v.cards[key] = newCard(v.deps, l)
	}
	for key, card := range v.cards {
		if seen[key] {
			continue
		}
		card.mu.Lock()
		keep := card.busy()
		card.mu.Unlock()
		if !keep {
			delete(v.cards, key)
		}
	}
	v.order = order

	out := make([]*Card, 0, len(order))
	for _, key := range order {
		out = append(out, v.cards[key])
	}
	return out
}

// Card returns the card of tokenID once listings have rendered.
func (v *ListingsView) Card(tokenID *big.Int) (*Card, bool) {
	v.mu.Lock()
	defer v.mu.Unlock()
	card, ok := v.cards[tokenID.String()]
	return card, ok
}

// Cards returns the cards in display order.
func (v *ListingsView) Cards() []*Card {
	v.mu.Lock()
	defer v.mu.Unlock()
	out := make([]*Card, 0, len(v.order))
	for _, key := range v.order {
		out = append(out, v.cards[key])
	}
	return out
}

// Retry re-reads the listing set after a failure.
func (v *ListingsView) Retry() {
	v.deps.Query.Invalidate(query.ListingsKey())
}

// Refresh re-reads the listing set and the connected account's reads.
func (v *ListingsView) Refresh() {
	session := v.deps.Wallet.Session()
	if !session.Connected {
		v.deps.Query.Invalidate(query.ListingsKey())
		return
	}
	v.deps.invalidateAccount(session.Address)
}

func (v *ListingsView) allowanceView(session domain.Session) AllowanceView {
	res := v.deps.allowance(session.Address)

	v.mu.Lock()
	inFlight := v.approving != nil && v.approving.Snapshot().Status.InFlight()
	settling := v.settling
	approveErr := v.approveErr
	var hash string
	var url string
	if v.approving != nil {
		if h := v.approving.Snapshot().Hash; h != (common.Hash{}) {
			hash = h.Hex()
			url = v.deps.TxURL(h)
		}
	}
	v.mu.Unlock()

	out := AllowanceView{
		State:        res.State,
		ApproveLabel: spendingLabel(v.deps.TokenSymbol),
		TxHash:       hash,
		TxURL:        url,
	}
	if approveErr != nil {
		out.Error = approveErr.Error()
	}

	switch res.State {
	case query.Loaded:
		out.Value = domain.FormatUnits(res.Value, TokenDecimals)
	case query.Failed:
		out.Value = AllowanceUnavailable
	default:
		out.Value = AllowanceUnknown
	}

	switch {
	case inFlight || settling:
		out.ApproveOffered = true
		out.ApproveLabel = LabelApprovingSpending
		out.ApproveDisabled = true
	case res.IsLoaded() && res.Value != nil && res.Value.Sign() == 0:
		out.ApproveOffered = true
	}
	return out
}

func spendingLabel(symbol string) string {
	return "Approve " + symbol
}

// ApproveSpending grants the marketplace the fixed token allowance. It is
// accepted only while the allowance reads exactly zero.
func (v *ListingsView) ApproveSpending(ctx context.Context) (*txn.Pending, error) {
	session := v.deps.Wallet.Session()
	if !session.Connected {
		return nil, wallet.ErrNotConnected
	}

	res := query.Peek[*big.Int](v.deps.Query, query.AllowanceKey(session.Address))

	v.mu.Lock()
	defer v.mu.Unlock()

	if (v.approving != nil && v.approving.Snapshot().Status.InFlight()) || v.settling {
		return nil, ErrBusy
	}
	if !res.IsLoaded() || res.Value == nil || res.Value.Sign() != 0 {
		return nil, ErrNoAllowanceRead
	}

	req := txn.Request{
		Kind:    domain.TxApproveSpending,
		Call:    v.deps.bindings().ApproveSpending(),
		Account: session.Address,
	}
	v.approveGen++
	gen := v.approveGen
	v.approveErr = nil

	v.logger.Info("submitting spending approval", zap.Stringer("account", session.Address))
	v.approving = v.deps.Tx.Submit(ctx, req, func(tx domain.PendingTx) {
		v.observeApproval(gen, session, tx)
	})
	return v.approving, nil
}

func (v *ListingsView) observeApproval(gen uint64, session domain.Session, tx domain.PendingTx) {
	if tx.Status == domain.TxStatusFailed {
		v.mu.Lock()
		if gen == v.approveGen {
			v.approveErr = tx.Err
		}
		v.mu.Unlock()
	}

	if tx.Status == domain.TxStatusSuccess {
		v.mu.Lock()
		v.settling = true
		v.mu.Unlock()

		key := query.AllowanceKey(session.Address)
		v.deps.allowance(session.Address)
		v.deps.Query.Refetch(key, func(query.Snapshot) {
			v.mu.Lock()
			if gen == v.approveGen {
				v.settling = false
			}
			v.mu.Unlock()
			v.deps.changed()
		})
		v.deps.Query.Invalidate(query.TokenBalanceKey(session.Address), query.NativeBalanceKey(session.Address))
	}
	v.deps.changed()
}
