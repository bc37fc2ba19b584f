// Package market holds the framework-free view-models of the marketplace:
// the listings view, the wallet header and the per-listing card. Each
// returns a plain render struct; front ends draw it and call back into the
// action methods.
package market

import (
	"context"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"nft-market/internal/contracts"
	"nft-market/internal/domain"
	"nft-market/internal/query"
	"nft-market/internal/txn"
	"nft-market/internal/wallet"
)

// TokenDecimals is the decimals of the payment token and of listing prices.
const TokenDecimals = 18

// Chain is the subset of on-chain reads the views need.
type Chain interface {
	Addresses() contracts.Addresses
	Listings(ctx context.Context) ([]domain.Listing, error)
	Allowance(ctx context.Context, owner common.Address) (*big.Int, error)
	TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error)
	GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error)
}

// MetadataSource loads the off-chain metadata of a token.
type MetadataSource interface {
	Fetch(ctx context.Context, tokenID *big.Int) (domain.TokenMetadata, error)
}

// Wallet is the wallet connection provider.
type Wallet interface {
	Ready() bool
	Session() domain.Session
	Connectors() []wallet.Connector
	Connect(ctx context.Context, connectorID string) (domain.Session, error)
	Disconnect()
}

// Submitter starts transactions.
type Submitter interface {
	Submit(ctx context.Context, req txn.Request, observers ...txn.Observer) *txn.Pending
}

// Compile-time interface checks.
var (
	_ Chain     = (*contracts.Chain)(nil)
	_ Wallet    = (*wallet.Provider)(nil)
	_ Submitter = (*txn.Tracker)(nil)
)

// Deps are the collaborators shared by every view.
type Deps struct {
	Chain    Chain
	Metadata MetadataSource
	Wallet   Wallet
	Tx       Submitter
	Query    *query.Client

	// TokenSymbol labels token amounts. Defaults to "MTK".
	TokenSymbol string
	// NativeSymbol labels the native balance. Defaults to "ETH".
	NativeSymbol string
	// Explorer is the block explorer base URL used for transaction links.
	Explorer string

	// OnChange runs after any view state changes outside a method call,
	// such as a transaction status update.
	OnChange func()

	Logger *zap.Logger
}

func (d *Deps) defaults() {
	if d.TokenSymbol == "" {
		d.TokenSymbol = "MTK"
	}
	if d.NativeSymbol == "" {
		d.NativeSymbol = "ETH"
	}
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
}

func (d *Deps) changed() {
	if d.OnChange != nil {
		d.OnChange()
	}
}

func (d *Deps) bindings() contracts.Bindings {
	return contracts.Bindings{Addresses: d.Chain.Addresses()}
}

// TxURL returns the explorer link of hash, or "" without an explorer.
func (d *Deps) TxURL(hash common.Hash) string {
	return ExplorerTxURL(d.Explorer, hash)
}

// ExplorerTxURL joins a block explorer base URL and a transaction hash. It
// returns "" when either is missing.
func ExplorerTxURL(explorer string, hash common.Hash) string {
	if explorer == "" || hash == (common.Hash{}) {
		return ""
	}
	if !strings.HasSuffix(explorer, "/") {
		explorer += "/"
	}
	return explorer + "tx/" + hash.Hex()
}

// invalidateAccount re-reads everything a confirmed transaction of account
// may have changed.
func (d *Deps) invalidateAccount(account common.Address, extra ...string) {
	keys := append([]string{
		query.ListingsKey(),
		query.AllowanceKey(account),
		query.NativeBalanceKey(account),
		query.TokenBalanceKey(account),
	}, extra...)
	d.Query.Invalidate(keys...)
}

// Reads bound to query keys.

func (d *Deps) listings() query.Result[[]domain.Listing] {
	return query.Get(d.Query, query.ListingsKey(), d.Chain.Listings)
}

func (d *Deps) allowance(owner common.Address) query.Result[*big.Int] {
	return query.Get(d.Query, query.AllowanceKey(owner), func(ctx context.Context) (*big.Int, error) {
		return d.Chain.Allowance(ctx, owner)
	})
}

func (d *Deps) approved(tokenID *big.Int) query.Result[common.Address] {
	return query.Get(d.Query, query.ApprovedKey(tokenID), func(ctx context.Context) (common.Address, error) {
		return d.Chain.GetApproved(ctx, tokenID)
	})
}

func (d *Deps) nativeBalance(addr common.Address) query.Result[*big.Int] {
	return query.Get(d.Query, query.NativeBalanceKey(addr), func(ctx context.Context) (*big.Int, error) {
		return d.Chain.NativeBalance(ctx, addr)
	})
}

func (d *Deps) tokenBalance(addr common.Address) query.Result[*big.Int] {
	return query.Get(d.Query, query.TokenBalanceKey(addr), func(ctx context.Context) (*big.Int, error) {
		return d.Chain.TokenBalance(ctx, addr)
	})
}
