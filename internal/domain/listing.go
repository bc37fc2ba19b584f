package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// Listing is one entry of the marketplace contract's listing table.
type Listing struct {
	TokenID  *big.Int
	Seller   common.Address
	Price    *big.Int // smallest token unit
	IsListed bool
}

// Key returns the identifier cards are keyed by.
func (l Listing) Key() string {
	if l.TokenID == nil {
		return ""
	}
	return l.TokenID.String()
}

// HasPrice reports whether the listing carries a positive price.
func (l Listing) HasPrice() bool {
	return l.Price != nil && l.Price.Sign() > 0
}

// Equal compares two listings field by field.
func (l Listing) Equal(o Listing) bool {
	return cmpBig(l.TokenID, o.TokenID) &&
		l.Seller == o.Seller &&
		cmpBig(l.Price, o.Price) &&
		l.IsListed == o.IsListed
}

func cmpBig(a, b *big.Int) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Cmp(b) == 0
}
