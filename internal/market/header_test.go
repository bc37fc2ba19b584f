package market

import (
	"context"
	"errors"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market/internal/query"
	"nft-market/internal/wallet"
)

func TestHeader_HydratingShowsNothing(t *testing.T) {
	provider := wallet.NewProvider(nil)
	q := query.New()
	defer q.Close()

	header := NewHeader(Deps{Chain: newFakeChain(), Wallet: provider, Query: q})
	r := header.Render()
	assert.Equal(t, HeaderHydrating, r.Phase)
	assert.Empty(t, r.ConnectLabel)
	assert.Empty(t, r.Address)
}

func TestHeader_NoConnectors(t *testing.T) {
	provider := wallet.NewProvider(nil)
	require.NoError(t, provider.Hydrate(context.Background(), ""))
	q := query.New()
	defer q.Close()

	header := NewHeader(Deps{Chain: newFakeChain(), Wallet: provider, Query: q})
	r := header.Render()
	assert.Equal(t, HeaderDisconnected, r.Phase)
	assert.True(t, r.ConnectDisabled)
	assert.Equal(t, NoticeNoConnector, r.Notice)

	_, err := header.Connect(context.Background())
	assert.ErrorIs(t, err, wallet.ErrNoConnectors)
}

func TestHeader_ConnectShowsBalances(t *testing.T) {
	h := newHarness(t, common.Address{})
	h.rpc.Nodes = []common.Address{alice}
	h.chain.native[alice] = big.NewInt(1_234_567_890_000_000_000)
	h.chain.token[alice] = ether(42)

	r := h.header.Render()
	assert.Equal(t, HeaderDisconnected, r.Phase)
	assert.Equal(t, LabelConnect, r.ConnectLabel)
	assert.Equal(t, "Node account", r.ConnectorName)

	s, err := h.header.Connect(context.Background())
	require.NoError(t, err)
	assert.Equal(t, alice, s.Address)
	h.account = alice

	r = h.header.Render()
	assert.Equal(t, HeaderConnected, r.Phase)
	assert.Equal(t, "0x0000…0aBc", r.Address)
	assert.Equal(t, alice.Hex(), r.FullAddress)
	assert.Equal(t, NativePlaceholder, r.NativeBalance)
	assert.Equal(t, TokenPlaceholder, r.TokenBalance)

	h.settle(t)
	r = h.header.Render()
	assert.Equal(t, "1.2346", r.NativeBalance)
	assert.Equal(t, "ETH", r.NativeSymbol)
	assert.Equal(t, "42", r.TokenBalance)
	assert.Equal(t, "MTK", r.TokenSymbol)

	h.header.Disconnect()
	assert.Equal(t, HeaderDisconnected, h.header.Render().Phase)
}

func TestHeader_ZeroBalanceHasFourDecimals(t *testing.T) {
	h := newHarness(t, alice)
	h.settle(t)

	r := h.header.Render()
	assert.Equal(t, "0.0000", r.NativeBalance)
	assert.Equal(t, "0", r.TokenBalance)
}

func TestHeader_FailedTokenBalance(t *testing.T) {
	h := newHarness(t, alice)
	h.chain.tokenErr = errors.New("rpc down")
	h.settle(t)

	assert.Equal(t, BalanceFailed, h.header.Render().TokenBalance)
}
