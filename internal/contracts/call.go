package contracts

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Call describes a state-changing contract call before it is signed.
type Call struct {
	Contract common.Address
	ABI      *abi.ABI
	Method   string
	Args     []any
}

// Data returns the ABI-encoded calldata.
func (c Call) Data() ([]byte, error) {
	if _, ok := c.ABI.Methods[c.Method]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, c.Method)
	}
	return c.ABI.Pack(c.Method, c.Args...)
}

func (c Call) String() string {
	return fmt.Sprintf("%s.%s%v", c.Contract.Hex(), c.Method, c.Args)
}

// Addresses are the deployed contract addresses.
type Addresses struct {
	Token       common.Address
	NFT         common.Address
	Marketplace common.Address
}

// SpendingApprovalUnits is the whole-token amount granted to the marketplace
// by ApproveSpending.
const SpendingApprovalUnits = 100_000_000_000_000

// SpendingApprovalAmount returns SpendingApprovalUnits scaled to 18 decimals.
func SpendingApprovalAmount() *big.Int {
	scale := new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)
	return new(big.Int).Mul(big.NewInt(SpendingApprovalUnits), scale)
}

// Bindings builds the write calls the marketplace UI issues.
type Bindings struct {
	Addresses Addresses
}

// ApproveSpending lets the marketplace pull token funds on purchases.
func (b Bindings) ApproveSpending() Call {
	return Call{
		Contract: b.Addresses.Token,
		ABI:      TokenABI,
		Method:   "approve",
		Args:     []any{b.Addresses.Marketplace, SpendingApprovalAmount()},
	}
}

// ApproveNFT lets the marketplace transfer tokenID on sale.
func (b Bindings) ApproveNFT(tokenID *big.Int) Call {
	return Call{
		Contract: b.Addresses.NFT,
		ABI:      NFTABI,
		Method:   "approve",
		Args:     []any{b.Addresses.Marketplace, tokenID},
	}
}

// ListItem lists tokenID at price (smallest token unit).
func (b Bindings) ListItem(tokenID, price *big.Int) Call {
	return Call{
		Contract: b.Addresses.Marketplace,
		ABI:      MarketplaceABI,
		Method:   "listItem",
		Args:     []any{tokenID, price},
	}
}

// BuyItem purchases tokenID at its listed price.
func (b Bindings) BuyItem(tokenID *big.Int) Call {
	return Call{
		Contract: b.Addresses.Marketplace,
		ABI:      MarketplaceABI,
		Method:   "buyItem",
		Args:     []any{tokenID},
	}
}

// CancelListing withdraws tokenID from sale.
func (b Bindings) CancelListing(tokenID *big.Int) Call {
	return Call{
		Contract: b.Addresses.Marketplace,
		ABI:      MarketplaceABI,
		Method:   "cancelListing",
		Args:     []any{tokenID},
	}
}
