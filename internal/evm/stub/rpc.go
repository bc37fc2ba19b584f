package stub

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"nft-market/internal/evm"
)

// ErrNoCallResult is returned when no result was registered for an eth_call.
var ErrNoCallResult = errors.New("stub: no call result")

// RPCClient implements evm.RPCClient for testing.
type RPCClient struct {
	mu sync.Mutex

	Chain    *big.Int
	Block    uint64
	BaseFee  *big.Int
	TipCap   *big.Int
	Gas      uint64
	Nodes    []common.Address
	Balances map[common.Address]*big.Int
	Nonces   map[common.Address]uint64
	Receipts map[common.Hash]*evm.Receipt

	// Calls maps contract address + hex calldata to the raw return value.
	Calls map[string][]byte

	// SentRaw collects every decoded transaction passed to SendRawTransaction.
	SentRaw []*types.Transaction
	// SentNode collects every message passed to SendTransaction.
	SentNode []evm.CallMsg

	// SendErr, when set, is returned by both send methods.
	SendErr error
	// CallErr, when set, is returned by Call.
	CallErr error
}

// Compile-time interface check.
var _ evm.RPCClient = (*RPCClient)(nil)

// NewRPCClient creates a new stub RPC client on chain id 11155111.
func NewRPCClient() *RPCClient {
	return &RPCClient{
		Chain:    big.NewInt(11155111),
		BaseFee:  big.NewInt(1_000_000_000),
		TipCap:   big.NewInt(1_500_000_000),
		Gas:      100_000,
		Balances: make(map[common.Address]*big.Int),
		Nonces:   make(map[common.Address]uint64),
		Receipts: make(map[common.Hash]*evm.Receipt),
		Calls:    make(map[string][]byte),
	}
}

func callKey(to common.Address, data []byte) string {
	return to.Hex() + ":" + hexutil.Encode(data)
}

// SetCall registers the return value of an eth_call.
func (c *RPCClient) SetCall(to common.Address, data, result []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Calls[callKey(to, data)] = result
}

// SetReceipt marks hash as mined with the given status.
func (c *RPCClient) SetReceipt(hash common.Hash, status uint64, block uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Receipts[hash] = &evm.Receipt{TxHash: hash, Status: status, BlockNumber: block}
}

// ChainID returns the configured chain id.
func (c *RPCClient) ChainID(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.Chain), nil
}

// BlockNumber returns the configured block number.
func (c *RPCClient) BlockNumber(_ context.Context) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Block, nil
}

// Call returns the registered result for msg.
func (c *RPCClient) Call(_ context.Context, msg evm.CallMsg) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.CallErr != nil {
		return nil, c.CallErr
	}
	out, ok := c.Calls[callKey(msg.To, msg.Data)]
	if !ok {
		return nil, ErrNoCallResult
	}
	return out, nil
}

// BalanceAt returns the stored balance or zero.
func (c *RPCClient) BalanceAt(_ context.Context, addr common.Address) (*big.Int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if b, ok := c.Balances[addr]; ok {
		return new(big.Int).Set(b), nil
	}
	return new(big.Int), nil
}

// TransactionReceipt returns the stored receipt or nil while pending.
func (c *RPCClient) TransactionReceipt(_ context.Context, hash common.Hash) (*evm.Receipt, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.Receipts[hash]
	if !ok {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

// PendingNonceAt returns the stored nonce.
func (c *RPCClient) PendingNonceAt(_ context.Context, addr common.Address) (uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Nonces[addr], nil
}

// SuggestGasTipCap returns the configured tip.
func (c *RPCClient) SuggestGasTipCap(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.TipCap), nil
}

// LatestBaseFee returns the configured base fee.
func (c *RPCClient) LatestBaseFee(_ context.Context) (*big.Int, error) {
	return new(big.Int).Set(c.BaseFee), nil
}

// EstimateGas returns the configured gas limit.
func (c *RPCClient) EstimateGas(_ context.Context, _ evm.CallMsg) (uint64, error) {
	return c.Gas, nil
}

// SendRawTransaction decodes and records raw, returning its hash.
func (c *RPCClient) SendRawTransaction(_ context.Context, raw []byte) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return common.Hash{}, c.SendErr
	}

	tx := new(types.Transaction)
	if err := tx.UnmarshalBinary(raw); err != nil {
		return common.Hash{}, err
	}
	c.SentRaw = append(c.SentRaw, tx)
	return tx.Hash(), nil
}

// SendTransaction records msg and returns a deterministic hash.
func (c *RPCClient) SendTransaction(_ context.Context, msg evm.CallMsg) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return common.Hash{}, c.SendErr
	}
	c.SentNode = append(c.SentNode, msg)
	return common.BigToHash(big.NewInt(int64(len(c.SentNode)))), nil
}

// Accounts returns the configured node accounts.
func (c *RPCClient) Accounts(_ context.Context) ([]common.Address, error) {
	return c.Nodes, nil
}
