package query

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"nft-market/internal/domain"
)

// Key namespaces.
const (
	NSListings      = "listings"
	NSAllowance     = "allowance"
	NSApproved      = "approved"
	NSNativeBalance = "balance/native"
	NSTokenBalance  = "balance/token"
	NSMetadata      = "metadata"
)

// ListingsKey is the key of the marketplace listing set.
func ListingsKey() string {
	return NSListings
}

// AllowanceKey is the key of owner's spending allowance to the marketplace.
func AllowanceKey(owner common.Address) string {
	return NSAllowance + "/" + addrKey(owner)
}

// ApprovedKey is the key of the approved operator of tokenID.
func ApprovedKey(tokenID *big.Int) string {
	return NSApproved + "/" + tokenID.String()
}

// NativeBalanceKey is the key of addr's native balance.
func NativeBalanceKey(addr common.Address) string {
	return NSNativeBalance + "/" + addrKey(addr)
}

// TokenBalanceKey is the key of addr's token balance.
func TokenBalanceKey(addr common.Address) string {
	return NSTokenBalance + "/" + addrKey(addr)
}

// MetadataKey is the key of tokenID's off-chain metadata.
func MetadataKey(tokenID *big.Int) string {
	return NSMetadata + "/" + tokenID.String()
}

func addrKey(addr common.Address) string {
	return domain.NormalizeAddress(addr.Hex())
}
