package domain

import "math/big"

// TokenMetadata is the off-chain description of an NFT, resolved from the
// URI returned by tokenURI(tokenId).
type TokenMetadata struct {
	TokenID     *big.Int
	Name        string // empty when the document has no name
	Image       string // resolved http(s) URL, empty when absent
	Description string
}

// DisplayName returns the metadata name or the "NFT #<id>" fallback.
func (m TokenMetadata) DisplayName() string {
	if m.Name != "" {
		return m.Name
	}
	return FallbackName(m.TokenID)
}

// FallbackName is the title used when metadata is missing or failed.
func FallbackName(tokenID *big.Int) string {
	if tokenID == nil {
		return "NFT #?"
	}
	return "NFT #" + tokenID.String()
}
