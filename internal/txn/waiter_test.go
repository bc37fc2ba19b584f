package txn

import (
	"context"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"nft-market/internal/evm"
	"nft-market/internal/evm/stub"
)

func TestReceiptWaiter_PollsUntilMined(t *testing.T) {
	rpc := stub.NewRPCClient()
	hash := common.HexToHash("0xbeef")
	waiter := NewReceiptWaiter(rpc, 10*time.Millisecond, nil)

	go func() {
		time.Sleep(30 * time.Millisecond)
		rpc.SetReceipt(hash, 1, 99)
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	receipt, err := waiter.WaitMined(ctx, hash)
	require.NoError(t, err)
	assert.True(t, receipt.Succeeded())
	assert.Equal(t, uint64(99), receipt.BlockNumber)
}

func TestReceiptWaiter_WokenByHead(t *testing.T) {
	rpc := stub.NewRPCClient()
	hash := common.HexToHash("0xcafe")
	// Poll interval far beyond the test deadline: only a head can wake it
	waiter := NewReceiptWaiter(rpc, time.Hour, nil)

	heads := make(chan evm.Head)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	go waiter.FollowHeads(ctx, heads)

	result := make(chan *evm.Receipt, 1)
	go func() {
		r, _ := waiter.WaitMined(ctx, hash)
		result <- r
	}()

	time.Sleep(20 * time.Millisecond)
	rpc.SetReceipt(hash, 1, 5)
	heads <- evm.Head{Number: 5}

	select {
	case r := <-result:
		require.NotNil(t, r)
		assert.Equal(t, uint64(5), r.BlockNumber)
	case <-ctx.Done():
		t.Fatal("waiter not woken by head")
	}
}

func TestReceiptWaiter_ContextCancelled(t *testing.T) {
	waiter := NewReceiptWaiter(stub.NewRPCClient(), 10*time.Millisecond, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	_, err := waiter.WaitMined(ctx, common.HexToHash("0x01"))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
