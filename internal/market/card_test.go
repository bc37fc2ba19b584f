package market

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market/internal/domain"
	"nft-market/internal/query"
	"nft-market/internal/wallet"
)

func listing(id int64, seller common.Address, listed bool, price *big.Int) domain.Listing {
	return domain.Listing{TokenID: big.NewInt(id), Seller: seller, Price: price, IsListed: listed}
}

func TestCard_UnlistedOffersNoBuyOrCancel(t *testing.T) {
	h := newHarness(t, alice,
		listing(1, bob, false, nil),
		listing(2, alice, false, nil),
	)
	ctx := context.Background()

	other := h.cardView(t, 1)
	assert.Empty(t, other.Actions)
	assert.Empty(t, other.Price)

	own := h.cardView(t, 2)
	assert.Equal(t, []Action{ActionStartListing}, actionsOf(own))

	_, err := h.card(t, 1).Buy(ctx)
	assert.ErrorIs(t, err, ErrNotListed)
	_, err = h.card(t, 2).Cancel(ctx)
	assert.ErrorIs(t, err, ErrNotListed)
	assert.Empty(t, h.writer.calls())
}

func TestCard_DisconnectedViewerIsBuyer(t *testing.T) {
	h := newHarness(t, common.Address{}, listing(1, alice, true, ether(1)))

	v := h.cardView(t, 1)
	assert.Equal(t, Buyer, v.Role)
	buy, ok := v.Action(ActionBuy)
	require.True(t, ok)
	assert.True(t, buy.Disabled, "buying needs a wallet")

	_, err := h.card(t, 1).Buy(context.Background())
	assert.ErrorIs(t, err, wallet.ErrNotConnected)
}

func TestCard_SellerSeesCancelInsteadOfBuy(t *testing.T) {
	// Parsing erases case, so this only checks the role wiring; case
	// folding itself is covered by domain.SameAddress.
	seller := common.HexToAddress(strings.ToLower(alice.Hex()))
	h := newHarness(t, alice, listing(1, seller, true, ether(5)))

	v := h.cardView(t, 1)
	assert.Equal(t, Owner, v.Role)
	assert.Equal(t, []Action{ActionCancel}, actionsOf(v))
	assert.Equal(t, "5", v.PriceUnits)
	assert.Equal(t, "5 MTK", v.Price)
	assert.Equal(t, "Token ID #1", v.TokenLabel)

	_, err := h.card(t, 1).Buy(context.Background())
	assert.ErrorIs(t, err, ErrInvalidTransition)

	p, err := h.card(t, 1).Cancel(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	calls := h.writer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "cancelListing", calls[0].Method)
	assert.Equal(t, addrs.Marketplace, calls[0].Contract)
}

func TestCard_BuyerSeesBuy(t *testing.T) {
	h := newHarness(t, bob, listing(1, alice, true, ether(5)))

	v := h.cardView(t, 1)
	assert.Equal(t, Buyer, v.Role)
	assert.Equal(t, []Action{ActionBuy}, actionsOf(v))
	assert.Equal(t, LabelBuy, v.Actions[0].Label)
	assert.False(t, v.Actions[0].Disabled)
}

func TestCard_ListingBlockedUntilApproved(t *testing.T) {
	h := newHarness(t, alice, listing(1, alice, false, nil))
	h.chain.approved["1"] = bob
	ctx := context.Background()

	h.settle(t)
	card := h.card(t, 1)
	require.NoError(t, card.StartListing())
	require.NoError(t, card.SetPrice("1.5"))

	v := h.cardView(t, 1)
	assert.Equal(t, ListingDraft, v.State)
	assert.False(t, v.Approved)
	submit, ok := v.Action(ActionSubmitListing)
	require.True(t, ok)
	assert.True(t, submit.Disabled)
	_, ok = v.Action(ActionApproveNFT)
	assert.True(t, ok)

	_, err := card.SubmitListing(ctx)
	assert.ErrorIs(t, err, ErrNotApproved)
	assert.Empty(t, h.writer.calls(), "no transaction may be submitted without approval")

	// Approval read fails: still blocked
	h.chain.set(func(c *fakeChain) { c.approvedErr = errors.New("rpc down") })
	h.query.Invalidate(query.ApprovedKey(big.NewInt(1)))
	h.settle(t)
	_, err = card.SubmitListing(ctx)
	assert.ErrorIs(t, err, ErrNotApproved)
	assert.Empty(t, h.writer.calls())

	// Approved for the marketplace, address written in another case
	h.chain.set(func(c *fakeChain) {
		c.approvedErr = nil
		c.approved["1"] = common.HexToAddress(strings.ToLower(addrs.Marketplace.Hex()))
	})
	h.query.Invalidate(query.ApprovedKey(big.NewInt(1)))
	v = h.cardView(t, 1)
	assert.Equal(t, ApprovedDraft, v.State)
	assert.True(t, v.Approved)

	p, err := card.SubmitListing(ctx)
	require.NoError(t, err)
	waitDone(t, p)

	calls := h.writer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, "listItem", calls[0].Method)
	assert.Equal(t, "1500000000000000000", calls[0].Args[1].(*big.Int).String())
}

func TestCard_InvalidPrice(t *testing.T) {
	h := newHarness(t, alice, listing(1, alice, false, nil))
	h.chain.approved["1"] = addrs.Marketplace
	h.settle(t)

	card := h.card(t, 1)
	require.NoError(t, card.StartListing())
	h.settle(t)

	for _, price := range []string{"", "0", "-1", "abc", "1.0000000000000000001"} {
		require.NoError(t, card.SetPrice(price))
		_, err := card.SubmitListing(context.Background())
		assert.ErrorIs(t, err, ErrInvalidPrice, "price %q", price)
	}
	assert.Empty(t, h.writer.calls())
}

func TestCard_ApproveNFTThenList(t *testing.T) {
	h := newHarness(t, alice, listing(1, alice, false, nil))
	h.writer.onWrite = func(method string, args []any) {
		if method == "approve" {
			h.chain.set(func(c *fakeChain) { c.approved["1"] = addrs.Marketplace })
		}
	}
	ctx := context.Background()

	h.settle(t)
	card := h.card(t, 1)
	require.NoError(t, card.StartListing())
	require.NoError(t, card.SetPrice("2"))
	h.settle(t)

	p, err := card.ApproveNFT(ctx)
	require.NoError(t, err)
	assert.Equal(t, AwaitingApproval, card.State())
	waitDone(t, p)

	require.Eventually(t, func() bool { return card.State() == ApprovedDraft }, 2*time.Second, 5*time.Millisecond)

	calls := h.writer.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, addrs.NFT, calls[0].Contract)
	assert.Equal(t, []any{addrs.Marketplace, big.NewInt(1)}, calls[0].Args)

	p, err = card.SubmitListing(ctx)
	require.NoError(t, err)
	waitDone(t, p)
	assert.Equal(t, Done, card.State())
}

func TestCard_ApprovalNotVisibleReturnsToDraft(t *testing.T) {
	h := newHarness(t, alice, listing(1, alice, false, nil))
	h.settle(t)

	card := h.card(t, 1)
	require.NoError(t, card.StartListing())
	h.settle(t)

	p, err := card.ApproveNFT(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	require.Eventually(t, func() bool { return card.State() == ListingDraft }, 2*time.Second, 5*time.Millisecond)
	v := h.cardView(t, 1)
	assert.Equal(t, NoticeApprovalNotSeen, v.Notice)
	approve, ok := v.Action(ActionApproveNFT)
	require.True(t, ok)
	assert.False(t, approve.Disabled)
}

func TestCard_ActionsDisabledWhileSigning(t *testing.T) {
	h := newHarness(t, alice, listing(1, alice, true, ether(5)))
	h.writer.gate = make(chan struct{})
	ctx := context.Background()

	h.settle(t)
	card := h.card(t, 1)

	p, err := card.Cancel(ctx)
	require.NoError(t, err)
	assert.Equal(t, Submitting, card.State())

	v := card.Render()
	assert.True(t, v.Busy)
	assert.Empty(t, v.TxHash)
	require.NotEmpty(t, v.Actions)
	for _, b := range v.Actions {
		assert.True(t, b.Disabled, "%s must be disabled while the wallet signs", b.Action)
	}

	_, err = card.Cancel(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = card.Buy(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	assert.ErrorIs(t, card.StartListing(), ErrBusy)
	assert.Empty(t, h.writer.calls())

	close(h.writer.gate)
	waitDone(t, p)
	assert.Equal(t, Done, card.State())
	require.Len(t, h.writer.calls(), 1)
}

func TestCard_ActionsDisabledUntilConfirmed(t *testing.T) {
	h := newHarness(t, bob, listing(1, alice, true, ether(5)))
	h.confirmer.gate = make(chan struct{})
	ctx := context.Background()

	h.settle(t)
	card := h.card(t, 1)

	p, err := card.Buy(ctx)
	require.NoError(t, err)

	require.Eventually(t, func() bool { return card.State() == Confirming }, 2*time.Second, 5*time.Millisecond)

	v := card.Render()
	assert.True(t, v.Busy)
	require.NotEmpty(t, v.Actions)
	for _, b := range v.Actions {
		assert.True(t, b.Disabled, "%s must be disabled while confirming", b.Action)
	}
	assert.Equal(t, LabelProcessing, v.Actions[0].Label)
	assert.NotEmpty(t, v.TxHash)
	assert.True(t, strings.HasPrefix(v.TxURL, "https://sepolia.etherscan.io/tx/0x"))

	_, err = card.Buy(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	_, err = card.Cancel(ctx)
	assert.ErrorIs(t, err, ErrBusy)
	assert.Len(t, h.writer.calls(), 1, "second submission must not reach the wallet")

	close(h.confirmer.gate)
	tx := waitDone(t, p)
	assert.Equal(t, domain.TxStatusSuccess, tx.Status)

	v = card.Render()
	assert.Equal(t, Done, v.State)
	assert.Equal(t, NoticeSuccess, v.Notice)
	assert.False(t, v.Busy)
}

func TestCard_SuccessInvalidatesDependentReads(t *testing.T) {
	h := newHarness(t, bob, listing(1, alice, true, ether(5)))
	h.chain.token[bob] = ether(10)
	h.writer.onWrite = func(method string, args []any) {
		h.chain.set(func(c *fakeChain) {
			c.listings = []domain.Listing{listing(1, bob, false, nil)}
			c.token[bob] = ether(5)
		})
	}

	h.settle(t)
	before := h.chain.calls()
	assert.Equal(t, "10", h.header.Render().TokenBalance)

	p, err := h.card(t, 1).Buy(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	require.Eventually(t, func() bool { return h.chain.calls() > before }, 2*time.Second, 5*time.Millisecond)
	v := h.cardView(t, 1)
	assert.Equal(t, Owner, v.Role)
	assert.False(t, v.Listed)
	assert.Equal(t, "5", h.header.Render().TokenBalance)
}

func TestCard_FailedWriteOffersRetryAndDismiss(t *testing.T) {
	h := newHarness(t, bob, listing(1, alice, true, ether(5)))
	h.writer.setErr(errors.New("request rejected by signer"))
	ctx := context.Background()

	h.settle(t)
	card := h.card(t, 1)

	p, err := card.Buy(ctx)
	require.NoError(t, err)
	waitDone(t, p)
	require.Eventually(t, func() bool { return card.State() == Failed }, 2*time.Second, 5*time.Millisecond)

	v := card.Render()
	assert.Equal(t, "request rejected by signer", v.Error)
	assert.Equal(t, []Action{ActionRetry, ActionDismiss}, actionsOf(v))
	for _, b := range v.Actions {
		assert.False(t, b.Disabled)
	}

	require.NoError(t, card.Dismiss())
	assert.Equal(t, Viewing, card.State())
	assert.Empty(t, card.Render().Error)

	// Fail again, then retry with a working wallet
	p, err = card.Buy(ctx)
	require.NoError(t, err)
	waitDone(t, p)
	require.Eventually(t, func() bool { return card.State() == Failed }, 2*time.Second, 5*time.Millisecond)

	h.writer.setErr(nil)
	p, err = card.Retry(ctx)
	require.NoError(t, err)
	waitDone(t, p)
	assert.Equal(t, Done, card.State())
	require.Len(t, h.writer.calls(), 1)
	assert.Equal(t, "buyItem", h.writer.calls()[0].Method)
}

func TestCard_RetryRechecksApproval(t *testing.T) {
	h := newHarness(t, alice, listing(1, alice, false, nil))
	h.chain.approved["1"] = addrs.Marketplace
	h.confirmer.status = 0
	ctx := context.Background()

	h.settle(t)
	card := h.card(t, 1)
	require.NoError(t, card.StartListing())
	require.NoError(t, card.SetPrice("3"))
	h.settle(t)

	p, err := card.SubmitListing(ctx)
	require.NoError(t, err)
	waitDone(t, p)
	require.Eventually(t, func() bool { return card.State() == Failed }, 2*time.Second, 5*time.Millisecond)

	// Approval moved to another operator after the revert
	h.chain.set(func(c *fakeChain) { c.approved["1"] = bob })
	h.query.Invalidate(query.ApprovedKey(big.NewInt(1)))
	h.settle(t)

	_, err = card.Retry(ctx)
	assert.ErrorIs(t, err, ErrNotApproved)
	assert.Equal(t, Failed, card.State())
	assert.Len(t, h.writer.calls(), 1)
}

func TestCard_RetryRechecksListing(t *testing.T) {
	h := newHarness(t, bob, listing(1, alice, true, ether(2)))
	h.confirmer.status = 0
	ctx := context.Background()

	h.settle(t)
	card := h.card(t, 1)
	p, err := card.Buy(ctx)
	require.NoError(t, err)
	waitDone(t, p)
	require.Eventually(t, func() bool { return card.State() == Failed }, 2*time.Second, 5*time.Millisecond)

	h.chain.set(func(c *fakeChain) {
		c.listings = []domain.Listing{listing(1, alice, false, nil)}
	})
	h.view.Retry()
	h.settle(t)

	_, err = card.Retry(ctx)
	assert.ErrorIs(t, err, ErrNotListed)
	assert.Len(t, h.writer.calls(), 1)
}

func TestCard_RevertedTransactionFails(t *testing.T) {
	h := newHarness(t, alice, listing(1, alice, true, ether(1)))
	h.confirmer.status = 0
	h.settle(t)

	card := h.card(t, 1)
	p, err := card.Cancel(context.Background())
	require.NoError(t, err)
	waitDone(t, p)

	require.Eventually(t, func() bool { return card.State() == Failed }, 2*time.Second, 5*time.Millisecond)
	assert.Contains(t, card.Render().Error, "reverted")
}

func TestCard_MetadataFailureRendersPlaceholders(t *testing.T) {
	h := newHarness(t, bob, listing(3, alice, true, ether(1)), listing(4, alice, true, ether(2)))
	h.view.deps.Metadata = fakeMetadata{
		"4": {TokenID: big.NewInt(4), Name: "Blue Cat", Image: "https://img.example/4.png"},
	}

	first := h.view.Render()
	assert.Equal(t, PhaseLoading, first.Phase)

	failed := h.cardView(t, 3)
	assert.False(t, failed.Skeleton)
	assert.Equal(t, "NFT #3", failed.Title)
	assert.Empty(t, failed.Image)
	assert.Equal(t, NoImage, failed.ImageLabel)
	assert.Equal(t, "1 MTK", failed.Price)

	ok := h.cardView(t, 4)
	assert.Equal(t, "Blue Cat", ok.Title)
	assert.Equal(t, "https://img.example/4.png", ok.Image)
	assert.Empty(t, ok.ImageLabel)
}

func TestCard_BackToView(t *testing.T) {
	h := newHarness(t, alice, listing(1, alice, false, nil))
	h.settle(t)
	card := h.card(t, 1)

	assert.ErrorIs(t, card.BackToView(), ErrInvalidTransition)
	require.NoError(t, card.StartListing())
	assert.ErrorIs(t, card.StartListing(), ErrInvalidTransition)
	require.NoError(t, card.BackToView())
	assert.Equal(t, Viewing, card.State())
	assert.ErrorIs(t, card.SetPrice("1"), ErrInvalidTransition)
}

func TestCard_StartListingRequiresOwner(t *testing.T) {
	h := newHarness(t, bob, listing(1, alice, false, nil))
	h.settle(t)

	assert.ErrorIs(t, h.card(t, 1).StartListing(), ErrNotOwner)
}

func TestCard_DoDispatchesButtons(t *testing.T) {
	h := newHarness(t, alice, listing(1, bob, true, ether(2)), listing(2, alice, false, nil))
	h.settle(t)

	p, err := h.card(t, 1).Do(context.Background(), ActionBuy)
	require.NoError(t, err)
	require.NotNil(t, p)
	waitDone(t, p)
	require.Len(t, h.writer.calls(), 1)
	assert.Equal(t, "buyItem", h.writer.calls()[0].Method)

	own := h.card(t, 2)
	p, err = own.Do(context.Background(), ActionStartListing)
	require.NoError(t, err)
	assert.Nil(t, p)
	assert.Equal(t, ListingDraft, own.State())

	_, err = own.Do(context.Background(), Action("teleport"))
	assert.ErrorIs(t, err, ErrInvalidTransition)
}
