// Package contracts holds the ABI bindings for the fungible token, the NFT
// collection and the marketplace, plus typed reads over them.
package contracts

import (
	"bytes"
	"embed"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

//go:embed abi/*.json
var abiFS embed.FS

// Parsed ABIs of the three contracts the client talks to.
var (
	TokenABI       = mustParseABI("abi/erc20.json")
	NFTABI         = mustParseABI("abi/erc721.json")
	MarketplaceABI = mustParseABI("abi/marketplace.json")
)

func mustParseABI(name string) *abi.ABI {
	parsed, err := ParseABI(name)
	if err != nil {
		panic(err)
	}
	return parsed
}

// ParseABI parses an embedded ABI definition.
func ParseABI(name string) (*abi.ABI, error) {
	raw, err := abiFS.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	parsed, err := abi.JSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", name, err)
	}
	return &parsed, nil
}
