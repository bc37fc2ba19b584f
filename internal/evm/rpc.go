package evm

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// RPCClient defines the Ethereum JSON-RPC surface the marketplace client uses.
type RPCClient interface {
	// ChainID returns eth_chainId.
	ChainID(ctx context.Context) (*big.Int, error)

	// BlockNumber returns the latest block number.
	BlockNumber(ctx context.Context) (uint64, error)

	// Call executes eth_call against the latest block.
	Call(ctx context.Context, msg CallMsg) ([]byte, error)

	// BalanceAt returns the native balance of addr at the latest block.
	BalanceAt(ctx context.Context, addr common.Address) (*big.Int, error)

	// TransactionReceipt returns the receipt, or nil if not yet mined.
	TransactionReceipt(ctx context.Context, hash common.Hash) (*Receipt, error)

	// PendingNonceAt returns the next nonce including pending transactions.
	PendingNonceAt(ctx context.Context, addr common.Address) (uint64, error)

	// SuggestGasTipCap returns eth_maxPriorityFeePerGas.
	SuggestGasTipCap(ctx context.Context) (*big.Int, error)

	// LatestBaseFee returns the base fee of the latest block.
	LatestBaseFee(ctx context.Context) (*big.Int, error)

	// EstimateGas returns eth_estimateGas for msg.
	EstimateGas(ctx context.Context, msg CallMsg) (uint64, error)

	// SendRawTransaction broadcasts a signed transaction.
	SendRawTransaction(ctx context.Context, raw []byte) (common.Hash, error)

	// SendTransaction asks the node to sign and broadcast with one of its accounts.
	SendTransaction(ctx context.Context, msg CallMsg) (common.Hash, error)

	// Accounts returns eth_accounts.
	Accounts(ctx context.Context) ([]common.Address, error)
}

// CallMsg holds the arguments of eth_call, eth_estimateGas and eth_sendTransaction.
type CallMsg struct {
	From  *common.Address
	To    common.Address
	Data  []byte
	Value *big.Int
	Gas   uint64
}

// Receipt is the subset of a transaction receipt the client needs.
type Receipt struct {
	TxHash      common.Hash
	Status      uint64 // 1 success, 0 reverted
	BlockNumber uint64
	GasUsed     uint64
}

// Succeeded reports whether the transaction executed without reverting.
func (r *Receipt) Succeeded() bool {
	return r != nil && r.Status == 1
}
