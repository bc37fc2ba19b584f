package contracts

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"nft-market/internal/evm"
)

// Reader executes read-only contract calls.
type Reader interface {
	// Read packs method with args, runs eth_call against contract and
	// returns the unpacked outputs.
	Read(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...any) ([]any, error)
}

// RPCReader implements Reader over an evm.RPCClient.
type RPCReader struct {
	rpc evm.RPCClient
}

// Compile-time interface check.
var _ Reader = (*RPCReader)(nil)

// NewReader creates a Reader backed by rpc.
func NewReader(rpc evm.RPCClient) *RPCReader {
	return &RPCReader{rpc: rpc}
}

// Read implements Reader.
func (r *RPCReader) Read(ctx context.Context, contract common.Address, contractABI *abi.ABI, method string, args ...any) ([]any, error) {
	m, ok := contractABI.Methods[method]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMethod, method)
	}

	data, err := contractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}

	out, err := r.rpc.Call(ctx, evm.CallMsg{To: contract, Data: data})
	if err != nil {
		return nil, fmt.Errorf("call %s: %w", method, err)
	}

	if len(out) == 0 && len(m.Outputs) > 0 {
		return nil, fmt.Errorf("%w: %s returned no data from %s", ErrUnexpectedOutput, method, contract.Hex())
	}

	values, err := contractABI.Unpack(method, out)
	if err != nil {
		return nil, fmt.Errorf("%w: unpack %s: %v", ErrUnexpectedOutput, method, err)
	}
	return values, nil
}
