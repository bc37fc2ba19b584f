package contracts

import (
	"context"
	"fmt"
	"math/big"
	"sort"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"nft-market/internal/domain"
)

// BalanceReader returns native balances.
type BalanceReader interface {
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)
}

// Chain exposes typed reads over the three contracts.
type Chain struct {
	reader   Reader
	balances BalanceReader
	addrs    Addresses
}

// NewChain creates typed reads over reader. balances may be nil when native
// balances are not needed.
func NewChain(reader Reader, balances BalanceReader, addrs Addresses) *Chain {
	return &Chain{reader: reader, balances: balances, addrs: addrs}
}

// Addresses returns the contract addresses the chain reads from.
func (c *Chain) Addresses() Addresses {
	return c.addrs
}

// listingTuple mirrors the marketplace Listing struct for ABI conversion.
type listingTuple struct {
	TokenId  *big.Int
	Seller   common.Address
	Price    *big.Int
	IsListed bool
}

// Listings returns every marketplace listing ordered by token id. When the
// contract returns duplicate ids the last entry wins.
func (c *Chain) Listings(ctx context.Context) ([]domain.Listing, error) {
	out, err := c.reader.Read(ctx, c.addrs.Marketplace, MarketplaceABI, "getAllListings")
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: getAllListings returned %d values", ErrUnexpectedOutput, len(out))
	}

	converted, ok := abi.ConvertType(out[0], new([]listingTuple)).(*[]listingTuple)
	if !ok {
		return nil, fmt.Errorf("%w: getAllListings returned %T", ErrUnexpectedOutput, out[0])
	}

	byID := make(map[string]domain.Listing, len(*converted))
	for _, t := range *converted {
		l := domain.Listing{
			TokenID:  t.TokenId,
			Seller:   t.Seller,
			Price:    t.Price,
			IsListed: t.IsListed,
		}
		byID[l.Key()] = l
	}

	listings := make([]domain.Listing, 0, len(byID))
	for _, l := range byID {
		listings = append(listings, l)
	}
	sort.Slice(listings, func(i, j int) bool {
		return listings[i].TokenID.Cmp(listings[j].TokenID) < 0
	})
	return listings, nil
}

// Allowance returns how much of owner's token the marketplace may spend.
func (c *Chain) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return c.readUint(ctx, c.addrs.Token, TokenABI, "allowance", owner, c.addrs.Marketplace)
}

// TokenBalance returns owner's fungible token balance.
func (c *Chain) TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return c.readUint(ctx, c.addrs.Token, TokenABI, "balanceOf", owner)
}

// NativeBalance returns owner's native currency balance.
func (c *Chain) NativeBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	if c.balances == nil {
		return nil, fmt.Errorf("native balance: no balance reader")
	}
	return c.balances.BalanceAt(ctx, owner)
}

// GetApproved returns the account approved to transfer tokenID.
func (c *Chain) GetApproved(ctx context.Context, tokenID *big.Int) (common.Address, error) {
	out, err := c.reader.Read(ctx, c.addrs.NFT, NFTABI, "getApproved", tokenID)
	if err != nil {
		return common.Address{}, err
	}
	if len(out) != 1 {
		return common.Address{}, fmt.Errorf("%w: getApproved returned %d values", ErrUnexpectedOutput, len(out))
	}
	addr, ok := out[0].(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%w: getApproved returned %T", ErrUnexpectedOutput, out[0])
	}
	return addr, nil
}

// TokenURI returns the metadata URI of tokenID.
func (c *Chain) TokenURI(ctx context.Context, tokenID *big.Int) (string, error) {
	out, err := c.reader.Read(ctx, c.addrs.NFT, NFTABI, "tokenURI", tokenID)
	if err != nil {
		return "", err
	}
	if len(out) != 1 {
		return "", fmt.Errorf("%w: tokenURI returned %d values", ErrUnexpectedOutput, len(out))
	}
	uri, ok := out[0].(string)
	if !ok {
		return "", fmt.Errorf("%w: tokenURI returned %T", ErrUnexpectedOutput, out[0])
	}
	return uri, nil
}

func (c *Chain) readUint(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...any) (*big.Int, error) {
	out, err := c.reader.Read(ctx, contract, contractABI, method, args...)
	if err != nil {
		return nil, err
	}
	if len(out) != 1 {
		return nil, fmt.Errorf("%w: %s returned %d values", ErrUnexpectedOutput, method, len(out))
	}
	v, ok := out[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%w: %s returned %T", ErrUnexpectedOutput, method, out[0])
	}
	return v, nil
}
