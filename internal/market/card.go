package market

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market/internal/domain"
	"nft-market/internal/query"
	"nft-market/internal/txn"
	"nft-market/internal/wallet"
)

// CardState is the position of a listing card in its state machine.
type CardState int

const (
	Viewing CardState = iota
	ListingDraft
	AwaitingApproval
	ApprovedDraft
	Submitting
	Confirming
	Done
	Failed
)

func (s CardState) String() string {
	switch s {
	case Viewing:
		return "viewing"
	case ListingDraft:
		return "listing-draft"
	case AwaitingApproval:
		return "awaiting-approval"
	case ApprovedDraft:
		return "approved-draft"
	case Submitting:
		return "submitting"
	case Confirming:
		return "confirming"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Role is the viewer's relationship to a listing.
type Role int

const (
	Buyer Role = iota
	Owner
)

func (r Role) String() string {
	if r == Owner {
		return "owner"
	}
	return "buyer"
}

// Action identifies a card button.
type Action string

const (
	ActionBuy           Action = "buy"
	ActionCancel        Action = "cancel"
	ActionStartListing  Action = "start-listing"
	ActionApproveNFT    Action = "approve-nft"
	ActionSubmitListing Action = "submit-listing"
	ActionBack          Action = "back"
	ActionRetry         Action = "retry"
	ActionDismiss       Action = "dismiss"
)

// Button labels.
const (
	LabelBuy           = "Buy Now"
	LabelCancel        = "Cancel Listing"
	LabelStartListing  = "List for Sale"
	LabelApproveNFT    = "Approve NFT"
	LabelSubmitListing = "List"
	LabelBack          = "Back"
	LabelRetry         = "Retry"
	LabelDismiss       = "Dismiss"
	LabelProcessing    = "Processing…"
)

// Card notices.
const (
	NoticeSuccess         = "Transaction Successful! Refreshing…"
	NoticeApprovalNotSeen = "Approval confirmed but not yet visible on chain. Approve again or wait."
	NoImage               = "No Image"
)

// Button is one card action as rendered.
type Button struct {
	Action   Action
	Label    string
	Disabled bool
}

// CardView is the render output of a card.
type CardView struct {
	Key      string
	TokenID  *big.Int
	State    CardState
	Role     Role
	Skeleton bool // metadata still loading

	Title      string
	Image      string // empty renders the placeholder
	ImageLabel string // NoImage when Image is empty
	TokenLabel string
	Listed     bool
	Price      string // "<amount> <symbol>", empty when not listed or free
	PriceUnits string

	// Draft fields.
	PriceInput       string
	PricePlaceholder string
	Approval         query.State
	Approved         bool

	Actions []Button
	Busy    bool
	Notice  string
	Error   string
	TxHash  string
	TxURL   string
}

// Action returns the button for a, if rendered.
func (v CardView) Action(a Action) (Button, bool) {
	for _, b := range v.Actions {
		if b.Action == a {
			return b, true
		}
	}
	return Button{}, false
}

// Card is the view-model of one listing.
type Card struct {
	deps    *Deps
	tokenID *big.Int
	logger  *zap.Logger

	mu       sync.Mutex
	listing  domain.Listing
	state    CardState
	resume   CardState // state Dismiss returns to from Failed
	price    string
	gen      uint64
	pending  *txn.Pending
	lastReq  *txn.Request
	lastNext CardState
	hash     common.Hash
	err      error
	notice   string
	metadata *query.Result[domain.TokenMetadata]
}

func newCard(deps *Deps, listing domain.Listing) *Card {
	return &Card{
		deps:    deps,
		tokenID: new(big.Int).Set(listing.TokenID),
		logger:  deps.Logger.With(zap.String("token_id", listing.TokenID.String())),
		listing: listing,
	}
}

// TokenID returns the token the card shows.
func (c *Card) TokenID() *big.Int {
	return new(big.Int).Set(c.tokenID)
}

// State returns the current state.
func (c *Card) State() CardState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Listing returns the listing the card was last rendered from.
func (c *Card) Listing() domain.Listing {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listing
}

func (c *Card) setListing(l domain.Listing) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listing = l
}

// role is computed against the current session. Disconnected viewers are buyers.
func (c *Card) role() Role {
	session := c.deps.Wallet.Session()
	if session.Connected && domain.SameAddress(c.listing.Seller.Hex(), session.Address.Hex()) {
		return Owner
	}
	return Buyer
}

// busy reports whether a transaction from this card is pending or confirming.
// Caller holds c.mu.
func (c *Card) busy() bool {
	return c.pending != nil && c.pending.Snapshot().Status.InFlight()
}

func (c *Card) viewing() bool {
	return c.state == Viewing || c.state == Done
}

func (c *Card) isApproved(r query.Result[common.Address]) bool {
	return r.IsLoaded() && domain.SameAddress(r.Value.Hex(), c.deps.Chain.Addresses().Marketplace.Hex())
}

// StartListing opens the price draft of an unlisted owned token.
func (c *Card) StartListing() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy() {
		return ErrBusy
	}
	if c.role() != Owner {
		return ErrNotOwner
	}
	if c.listing.IsListed || !c.viewing() {
		return ErrInvalidTransition
	}
	c.state = ListingDraft
	c.notice = ""
	c.err = nil
	return nil
}

// SetPrice stores the draft price as typed.
func (c *Card) SetPrice(price string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case ListingDraft, ApprovedDraft, AwaitingApproval:
		c.price = price
		return nil
	}
	return ErrInvalidTransition
}

// BackToView leaves the price draft.
func (c *Card) BackToView() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy() {
		return ErrBusy
	}
	if c.state != ListingDraft && c.state != ApprovedDraft {
		return ErrInvalidTransition
	}
	c.state = Viewing
	c.notice = ""
	return nil
}

// ApproveNFT lets the marketplace transfer this token.
func (c *Card) ApproveNFT(ctx context.Context) (*txn.Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy() {
		return nil, ErrBusy
	}
	if c.state != ListingDraft {
		return nil, ErrInvalidTransition
	}
	if c.role() != Owner {
		return nil, ErrNotOwner
	}

	req := txn.Request{
		Kind:    domain.TxApproveNFT,
		TokenID: c.TokenID(),
		Call:    c.deps.bindings().ApproveNFT(c.TokenID()),
		Account: c.deps.Wallet.Session().Address,
	}
	c.resume = ListingDraft
	return c.submit(ctx, req, AwaitingApproval), nil
}

// SubmitListing lists the token at the draft price. It requires the
// approval read to equal the marketplace address.
func (c *Card) SubmitListing(ctx context.Context) (*txn.Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy() {
		return nil, ErrBusy
	}
	if c.state != ListingDraft && c.state != ApprovedDraft {
		return nil, ErrInvalidTransition
	}
	if c.role() != Owner {
		return nil, ErrNotOwner
	}

	price, err := domain.ParseUnits(c.price, TokenDecimals)
	if err != nil || price.Sign() <= 0 {
		return nil, ErrInvalidPrice
	}
	if !c.isApproved(query.Peek[common.Address](c.deps.Query, query.ApprovedKey(c.tokenID))) {
		return nil, ErrNotApproved
	}

	req := txn.Request{
		Kind:    domain.TxList,
		TokenID: c.TokenID(),
		Call:    c.deps.bindings().ListItem(c.TokenID(), price),
		Account: c.deps.Wallet.Session().Address,
	}
	c.resume = c.state
	return c.submit(ctx, req, Submitting), nil
}

// Buy purchases the listed token at its listing price.
func (c *Card) Buy(ctx context.Context) (*txn.Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy() {
		return nil, ErrBusy
	}
	if !c.viewing() {
		return nil, ErrInvalidTransition
	}
	if !c.listing.IsListed {
		return nil, ErrNotListed
	}
	if !c.deps.Wallet.Session().Connected {
		return nil, wallet.ErrNotConnected
	}
	if c.role() == Owner {
		return nil, ErrInvalidTransition
	}

	req := txn.Request{
		Kind:    domain.TxBuy,
		TokenID: c.TokenID(),
		Call:    c.deps.bindings().BuyItem(c.TokenID()),
		Account: c.deps.Wallet.Session().Address,
	}
	c.resume = Viewing
	return c.submit(ctx, req, Submitting), nil
}

// Cancel withdraws the owner's listing.
func (c *Card) Cancel(ctx context.Context) (*txn.Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.busy() {
		return nil, ErrBusy
	}
	if !c.viewing() {
		return nil, ErrInvalidTransition
	}
	if c.role() != Owner {
		return nil, ErrNotOwner
	}
	if !c.listing.IsListed {
		return nil, ErrNotListed
	}

	req := txn.Request{
		Kind:    domain.TxCancel,
		TokenID: c.TokenID(),
		Call:    c.deps.bindings().CancelListing(c.TokenID()),
		Account: c.deps.Wallet.Session().Address,
	}
	c.resume = Viewing
	return c.submit(ctx, req, Submitting), nil
}

// Retry resubmits the failed transaction.
func (c *Card) Retry(ctx context.Context) (*txn.Pending, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state != Failed || c.lastReq == nil {
		return nil, ErrInvalidTransition
	}
	if err := c.retryAllowed(c.lastReq.Kind); err != nil {
		return nil, err
	}
	req := *c.lastReq
	req.Account = c.deps.Wallet.Session().Address
	return c.submit(ctx, req, c.lastNext), nil
}

// retryAllowed re-checks the preconditions of the original action against
// the current listing, role and approval, which may have moved since the
// failure.
func (c *Card) retryAllowed(kind domain.TxKind) error {
	switch kind {
	case domain.TxApproveNFT:
		if c.role() != Owner {
			return ErrNotOwner
		}
	case domain.TxList:
		if c.role() != Owner {
			return ErrNotOwner
		}
		if !c.isApproved(query.Peek[common.Address](c.deps.Query, query.ApprovedKey(c.tokenID))) {
			return ErrNotApproved
		}
	case domain.TxBuy:
		if !c.listing.IsListed {
			return ErrNotListed
		}
		if !c.deps.Wallet.Session().Connected {
			return wallet.ErrNotConnected
		}
		if c.role() == Owner {
			return ErrInvalidTransition
		}
	case domain.TxCancel:
		if c.role() != Owner {
			return ErrNotOwner
		}
		if !c.listing.IsListed {
			return ErrNotListed
		}
	}
	return nil
}

// Dismiss clears a failure or success notice.
func (c *Card) Dismiss() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case Failed:
		c.state = c.resume
	case Done:
		c.state = Viewing
	default:
		return ErrInvalidTransition
	}
	c.err = nil
	c.notice = ""
	return nil
}

// Do performs the action a button stands for. Actions that do not submit
// a transaction return a nil Pending.
func (c *Card) Do(ctx context.Context, a Action) (*txn.Pending, error) {
	switch a {
	case ActionBuy:
		return c.Buy(ctx)
	case ActionCancel:
		return c.Cancel(ctx)
	case ActionApproveNFT:
		return c.ApproveNFT(ctx)
	case ActionSubmitListing:
		return c.SubmitListing(ctx)
	case ActionRetry:
		return c.Retry(ctx)
	case ActionStartListing:
		return nil, c.StartListing()
	case ActionBack:
		return nil, c.BackToView()
	case ActionDismiss:
		return nil, c.Dismiss()
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidTransition, a)
}

// submit hands req to the tracker and moves to next. Caller holds c.mu.
// Observers run on the tracker goroutine and block on c.mu until submit
// returns, so c.pending is always set before the first update lands.
func (c *Card) submit(ctx context.Context, req txn.Request, next CardState) *txn.Pending {
	c.gen++
	gen := c.gen
	c.state = next
	c.lastReq = &req
	c.lastNext = next
	c.err = nil
	c.notice = ""
	c.hash = common.Hash{}

	c.logger.Info("submitting", zap.String("kind", req.Kind.String()))
	c.pending = c.deps.Tx.Submit(ctx, req, func(tx domain.PendingTx) {
		c.observe(gen, req, tx)
	})
	return c.pending
}

func (c *Card) observe(gen uint64, req txn.Request, tx domain.PendingTx) {
	c.mu.Lock()
	if gen != c.gen {
		c.mu.Unlock()
		return
	}

	var invalidate func()
	switch tx.Status {
	case domain.TxStatusConfirming:
		c.hash = tx.Hash
		if req.Kind != domain.TxApproveNFT {
			c.state = Confirming
		}
	case domain.TxStatusSuccess:
		c.hash = tx.Hash
		if req.Kind == domain.TxApproveNFT {
			invalidate = func() { c.awaitApprovalRead(gen) }
		} else {
			c.state = Done
			c.notice = NoticeSuccess
			invalidate = func() {
				c.deps.invalidateAccount(req.Account, query.ApprovedKey(c.tokenID))
			}
		}
	case domain.TxStatusFailed:
		c.state = Failed
		c.err = tx.Err
		c.logger.Info("transaction failed", zap.String("kind", req.Kind.String()), zap.Error(tx.Err))
	}
	c.mu.Unlock()

	if invalidate != nil {
		invalidate()
	}
	c.deps.changed()
}

// awaitApprovalRead re-reads the token approval after an approve confirmed
// and settles the card on that read.
func (c *Card) awaitApprovalRead(gen uint64) {
	key := query.ApprovedKey(c.tokenID)
	c.deps.approved(c.tokenID)
	c.deps.Query.Refetch(key, func(query.Snapshot) {
		c.settleApproval(gen, query.Peek[common.Address](c.deps.Query, key))
	})
}

func (c *Card) settleApproval(gen uint64, r query.Result[common.Address]) {
	c.mu.Lock()
	if gen != c.gen || c.state != AwaitingApproval {
		c.mu.Unlock()
		return
	}
	if c.isApproved(r) {
		c.state = ApprovedDraft
		c.notice = ""
	} else {
		c.state = ListingDraft
		c.notice = NoticeApprovalNotSeen
	}
	c.mu.Unlock()
	c.deps.changed()
}

// Render returns the card as it should be drawn now. It starts any reads
// the card needs.
func (c *Card) Render() CardView {
	md := c.metadataResult()

	c.mu.Lock()
	defer c.mu.Unlock()

	role := c.role()
	var approval query.Result[common.Address]
	if role == Owner {
		approval = c.deps.approved(c.tokenID)
		if c.state == ListingDraft && c.isApproved(approval) {
			c.state = ApprovedDraft
			c.notice = ""
		}
	}

	id := c.tokenID.String()
	v := CardView{
		Key:              id,
		TokenID:          c.TokenID(),
		State:            c.state,
		Role:             role,
		Skeleton:         md.IsPending(),
		Title:            domain.FallbackName(c.tokenID),
		ImageLabel:       NoImage,
		TokenLabel:       "Token ID #" + id,
		Listed:           c.listing.IsListed,
		PriceInput:       c.price,
		PricePlaceholder: "Price in " + c.deps.TokenSymbol,
		Approval:         approval.State,
		Approved:         c.isApproved(approval),
		Busy:             c.busy(),
		Notice:           c.notice,
	}
	if md.IsLoaded() {
		v.Title = md.Value.DisplayName()
		if md.Value.Image != "" {
			v.Image = md.Value.Image
			v.ImageLabel = ""
		}
	}
	if c.listing.IsListed && c.listing.HasPrice() {
		v.PriceUnits = domain.FormatUnits(c.listing.Price, TokenDecimals)
		v.Price = v.PriceUnits + " " + c.deps.TokenSymbol
	}
	if c.err != nil {
		v.Error = c.err.Error()
	}
	if c.hash != (common.Hash{}) {
		v.TxHash = c.hash.Hex()
		v.TxURL = c.deps.TxURL(c.hash)
	}
	v.Actions = c.actions(role, v.Approved, v.Busy)
	return v
}

// actions lists the buttons of the current state. Caller holds c.mu.
func (c *Card) actions(role Role, approved, busy bool) []Button {
	kind := domain.TxKind("")
	if c.lastReq != nil {
		kind = c.lastReq.Kind
	}
	label := func(a Action, idle string, k domain.TxKind) Button {
		if busy && kind == k {
			return Button{Action: a, Label: LabelProcessing, Disabled: true}
		}
		return Button{Action: a, Label: idle, Disabled: busy}
	}

	switch c.state {
	case Viewing, Done, Submitting, Confirming:
		if (c.state == Submitting || c.state == Confirming) && kind == domain.TxList {
			return []Button{
				{Action: ActionSubmitListing, Label: LabelProcessing, Disabled: true},
			}
		}
		connected := c.deps.Wallet.Session().Connected
		switch {
		case c.listing.IsListed && role == Owner:
			return []Button{label(ActionCancel, LabelCancel, domain.TxCancel)}
		case c.listing.IsListed:
			b := label(ActionBuy, LabelBuy, domain.TxBuy)
			if !connected {
				b.Disabled = true
			}
			return []Button{b}
		case role == Owner:
			return []Button{{Action: ActionStartListing, Label: LabelStartListing, Disabled: busy}}
		}
		return nil

	case ListingDraft, AwaitingApproval, ApprovedDraft:
		var out []Button
		if !approved {
			b := label(ActionApproveNFT, LabelApproveNFT, domain.TxApproveNFT)
			if c.state == AwaitingApproval {
				b = Button{Action: ActionApproveNFT, Label: LabelProcessing, Disabled: true}
			}
			out = append(out, b)
		}
		out = append(out,
			Button{Action: ActionSubmitListing, Label: LabelSubmitListing, Disabled: busy || !approved},
			Button{Action: ActionBack, Label: LabelBack, Disabled: busy},
		)
		return out

	case Failed:
		return []Button{
			{Action: ActionRetry, Label: LabelRetry},
			{Action: ActionDismiss, Label: LabelDismiss},
		}
	}
	return nil
}

// metadataResult returns the card's metadata, memoized once it settles so
// a card never fetches twice.
func (c *Card) metadataResult() query.Result[domain.TokenMetadata] {
	c.mu.Lock()
	if c.metadata != nil {
		r := *c.metadata
		c.mu.Unlock()
		return r
	}
	c.mu.Unlock()

	if c.deps.Metadata == nil {
		return query.Result[domain.TokenMetadata]{State: query.Failed}
	}
	tokenID := c.TokenID()
	r := query.Get(c.deps.Query, query.MetadataKey(tokenID), func(ctx context.Context) (domain.TokenMetadata, error) {
		return c.deps.Metadata.Fetch(ctx, tokenID)
	})
	if r.State == query.Loaded || r.State == query.Failed {
		c.mu.Lock()
		c.metadata = &r
		c.mu.Unlock()
	}
	return r
}
