package evm

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

// HeadSubscriber defines the WebSocket subscription interface used to
// learn about new blocks without polling.
type HeadSubscriber interface {
	// SubscribeNewHeads subscribes to eth_subscribe("newHeads").
	SubscribeNewHeads(ctx context.Context) (<-chan Head, error)

	// Close closes the WebSocket connection.
	Close() error
}

// Head is a newHeads notification.
type Head struct {
	Number uint64
	Hash   common.Hash
}
