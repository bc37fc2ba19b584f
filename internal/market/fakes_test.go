package market

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"nft-market/internal/contracts"
	"nft-market/internal/domain"
	"nft-market/internal/evm"
	"nft-market/internal/evm/stub"
	"nft-market/internal/query"
	"nft-market/internal/txn"
	"nft-market/internal/wallet"
)

var (
	addrs = contracts.Addresses{
		Token:       common.HexToAddress("0x5B0c1b8a6e4fD5b1a0D6a8E5b7fE3c6a1D2e4F60"),
		NFT:         common.HexToAddress("0x3aB2E7F0c1d4e5F6a7B8c9D0e1F2a3B4c5D6e7F8"),
		Marketplace: common.HexToAddress("0x180931FD7B481e0A3741B21A923a93eB56460aFF"),
	}
	alice = common.HexToAddress("0x0000000000000000000000000000000000000ABC")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000B0B")
)

func ether(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

type fakeChain struct {
	mu            sync.Mutex
	listings      []domain.Listing
	listingsErr   error
	listingsCalls int
	allowance     map[common.Address]*big.Int
	allowanceErr  error
	approved      map[string]common.Address
	approvedErr   error
	native        map[common.Address]*big.Int
	token         map[common.Address]*big.Int
	tokenErr      error
}

func newFakeChain() *fakeChain {
	return &fakeChain{
		allowance: make(map[common.Address]*big.Int),
		approved:  make(map[string]common.Address),
		native:    make(map[common.Address]*big.Int),
		token:     make(map[common.Address]*big.Int),
	}
}

func (c *fakeChain) Addresses() contracts.Addresses { return addrs }

func (c *fakeChain) Listings(context.Context) ([]domain.Listing, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.listingsCalls++
	if c.listingsErr != nil {
		return nil, c.listingsErr
	}
	return append([]domain.Listing(nil), c.listings...), nil
}

func (c *fakeChain) Allowance(_ context.Context, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.allowanceErr != nil {
		return nil, c.allowanceErr
	}
	if v, ok := c.allowance[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) TokenBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.tokenErr != nil {
		return nil, c.tokenErr
	}
	if v, ok := c.token[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) NativeBalance(_ context.Context, owner common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.native[owner]; ok {
		return new(big.Int).Set(v), nil
	}
	return new(big.Int), nil
}

func (c *fakeChain) GetApproved(_ context.Context, tokenID *big.Int) (common.Address, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.approvedErr != nil {
		return common.Address{}, c.approvedErr
	}
	return c.approved[tokenID.String()], nil
}

func (c *fakeChain) set(fn func(c *fakeChain)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c)
}

func (c *fakeChain) calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.listingsCalls
}

type fakeMetadata map[string]domain.TokenMetadata

func (m fakeMetadata) Fetch(_ context.Context, tokenID *big.Int) (domain.TokenMetadata, error) {
	md, ok := m[tokenID.String()]
	if !ok {
		return domain.TokenMetadata{}, errors.New("metadata gateway timeout")
	}
	return md, nil
}

type writeCall struct {
	Contract common.Address
	Method   string
	Args     []any
}

// fakeWriter records writes and can mutate the fake chain as if the
// transaction had executed. A non-nil gate holds every write, as a wallet
// waiting for the user's signature would, until it is closed.
type fakeWriter struct {
	mu      sync.Mutex
	writes  []writeCall
	err     error
	onWrite func(method string, args []any)
	gate    chan struct{}
}

func (w *fakeWriter) Write(ctx context.Context, contract common.Address, _ *abi.ABI, method string, args ...any) (common.Hash, error) {
	w.mu.Lock()
	gate := w.gate
	w.mu.Unlock()
	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return common.Hash{}, ctx.Err()
		}
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return common.Hash{}, w.err
	}
	w.writes = append(w.writes, writeCall{Contract: contract, Method: method, Args: args})
	if w.onWrite != nil {
		w.onWrite(method, args)
	}
	return common.BigToHash(big.NewInt(int64(len(w.writes)))), nil
}

func (w *fakeWriter) calls() []writeCall {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]writeCall(nil), w.writes...)
}

func (w *fakeWriter) setErr(err error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.err = err
}

// fakeConfirmer mines every transaction, optionally holding it until gate
// is closed.
type fakeConfirmer struct {
	gate   chan struct{}
	status uint64
}

func (c *fakeConfirmer) WaitMined(ctx context.Context, hash common.Hash) (*evm.Receipt, error) {
	if c.gate != nil {
		select {
		case <-c.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return &evm.Receipt{TxHash: hash, Status: c.status, BlockNumber: 100}, nil
}

type harness struct {
	chain     *fakeChain
	writer    *fakeWriter
	confirmer *fakeConfirmer
	rpc       *stub.RPCClient
	wallet    *wallet.Provider
	query     *query.Client
	tracker   *txn.Tracker
	view      *ListingsView
	header    *Header
	account   common.Address
}

// newHarness builds the views over fakes. A zero account leaves the wallet
// disconnected.
func newHarness(t *testing.T, account common.Address, listings ...domain.Listing) *harness {
	t.Helper()

	h := &harness{
		chain:     newFakeChain(),
		writer:    &fakeWriter{},
		confirmer: &fakeConfirmer{status: 1},
		rpc:       stub.NewRPCClient(),
		query:     query.New(),
		account:   account,
	}
	h.chain.listings = listings
	h.tracker = txn.NewTracker(h.writer, h.confirmer)
	h.wallet = wallet.NewProvider(nil, wallet.NewNodeConnector(h.rpc))

	connector := ""
	if account != (common.Address{}) {
		h.rpc.Nodes = []common.Address{account}
		connector = wallet.NodeConnectorID
	}
	require.NoError(t, h.wallet.Hydrate(context.Background(), connector))

	h.view = NewListingsView(Deps{
		Chain:    h.chain,
		Metadata: fakeMetadata{},
		Wallet:   h.wallet,
		Tx:       h.tracker,
		Query:    h.query,
		Explorer: "https://sepolia.etherscan.io/",
	})
	h.header = HeaderFor(h.view)

	t.Cleanup(func() {
		for _, gate := range []chan struct{}{h.writer.gate, h.confirmer.gate} {
			if gate == nil {
				continue
			}
			select {
			case <-gate:
			default:
				close(gate)
			}
		}
		h.tracker.Close()
		h.query.Close()
	})
	return h
}

// settle renders until every read the views started has landed.
func (h *harness) settle(t *testing.T) ListingsRender {
	t.Helper()
	for i := 0; i < 3; i++ {
		h.view.Render()
		h.header.Render()
		h.awaitKeys(t)
	}
	return h.view.Render()
}

func (h *harness) awaitKeys(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	keys := []string{
		query.ListingsKey(),
		query.AllowanceKey(h.account),
		query.NativeBalanceKey(h.account),
		query.TokenBalanceKey(h.account),
	}
	for _, card := range h.view.Cards() {
		keys = append(keys, query.ApprovedKey(card.TokenID()), query.MetadataKey(card.TokenID()))
	}
	for _, key := range keys {
		_, err := h.query.Await(ctx, key)
		require.NoError(t, err, "await %s", key)
	}
}

func (h *harness) card(t *testing.T, id int64) *Card {
	t.Helper()
	card, ok := h.view.Card(big.NewInt(id))
	require.True(t, ok, "card %d not rendered", id)
	return card
}

func (h *harness) cardView(t *testing.T, id int64) CardView {
	t.Helper()
	r := h.settle(t)
	for _, v := range r.Cards {
		if v.TokenID.Int64() == id {
			return v
		}
	}
	t.Fatalf("card %d not rendered", id)
	return CardView{}
}

func waitDone(t *testing.T, p *txn.Pending) domain.PendingTx {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("transaction did not settle")
	}
	return p.Snapshot()
}

func actionsOf(v CardView) []Action {
	out := make([]Action, 0, len(v.Actions))
	for _, b := range v.Actions {
		out = append(out, b.Action)
	}
	return out
}
