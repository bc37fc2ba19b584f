package domain

import "github.com/ethereum/go-ethereum/common"

// Session is the wallet connection state observed by the views.
type Session struct {
	Address     common.Address
	Connected   bool
	ConnectorID string
}

// AddressHex returns the connected address, or "" when disconnected.
func (s Session) AddressHex() string {
	if !s.Connected {
		return ""
	}
	return s.Address.Hex()
}
