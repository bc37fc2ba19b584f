package wallet

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"os"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"nft-market/internal/evm"
)

// Connector IDs.
const (
	KeyConnectorID  = "key"
	NodeConnectorID = "node"
)

// Connector is one way of obtaining an account and sending transactions
// from it.
type Connector interface {
	ID() string
	Name() string

	// Connect resolves the account the connector signs for.
	Connect(ctx context.Context) (common.Address, error)

	// Disconnect releases any connector state.
	Disconnect()

	// Send signs and broadcasts msg from the connected account.
	Send(ctx context.Context, from common.Address, msg evm.CallMsg) (common.Hash, error)
}

// KeyConnector signs EIP-1559 transactions with a local secp256k1 key and
// broadcasts them with eth_sendRawTransaction.
type KeyConnector struct {
	rpc     evm.RPCClient
	key     *ecdsa.PrivateKey
	chainID *big.Int

	// mu serializes Send so concurrent writes never sign the same nonce.
	mu sync.Mutex
	// next is one past the last nonce broadcast, a floor over a node whose
	// pending count has not caught up yet.
	next map[common.Address]uint64
}

// Compile-time interface check.
var _ Connector = (*KeyConnector)(nil)

// NewKeyConnector creates a connector signing for key on chainID.
func NewKeyConnector(rpc evm.RPCClient, key *ecdsa.PrivateKey, chainID *big.Int) *KeyConnector {
	return &KeyConnector{
		rpc:     rpc,
		key:     key,
		chainID: new(big.Int).Set(chainID),
		next:    make(map[common.Address]uint64),
	}
}

// KeyFromHex parses a hex private key with or without the 0x prefix.
func KeyFromHex(s string) (*ecdsa.PrivateKey, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return key, nil
}

// KeyFromKeystore decrypts a web3 secret storage file.
func KeyFromKeystore(path, password string) (*ecdsa.PrivateKey, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read keystore: %w", err)
	}
	k, err := keystore.DecryptKey(data, password)
	if err != nil {
		return nil, fmt.Errorf("decrypt keystore: %w", err)
	}
	return k.PrivateKey, nil
}

func (c *KeyConnector) ID() string   { return KeyConnectorID }
func (c *KeyConnector) Name() string { return "Local key" }

// Address returns the account of the key.
func (c *KeyConnector) Address() common.Address {
	return crypto.PubkeyToAddress(c.key.PublicKey)
}

// Connect checks the endpoint serves the configured chain.
func (c *KeyConnector) Connect(ctx context.Context) (common.Address, error) {
	id, err := c.rpc.ChainID(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("chain id: %w", err)
	}
	if id.Cmp(c.chainID) != 0 {
		return common.Address{}, fmt.Errorf("%w: got %s, want %s", ErrWrongChain, id, c.chainID)
	}
	return c.Address(), nil
}

func (c *KeyConnector) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	clear(c.next)
}

// Send fills nonce, fees and gas, signs and broadcasts msg.
func (c *KeyConnector) Send(ctx context.Context, from common.Address, msg evm.CallMsg) (common.Hash, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nonce, err := c.rpc.PendingNonceAt(ctx, from)
	if err != nil {
		return common.Hash{}, fmt.Errorf("nonce: %w", err)
	}
	nonce = max(nonce, c.next[from])
	tip, err := c.rpc.SuggestGasTipCap(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("gas tip: %w", err)
	}
	baseFee, err := c.rpc.LatestBaseFee(ctx)
	if err != nil {
		return common.Hash{}, fmt.Errorf("base fee: %w", err)
	}

	gas := msg.Gas
	if gas == 0 {
		msg.From = &from
		estimate, err := c.rpc.EstimateGas(ctx, msg)
		if err != nil {
			return common.Hash{}, fmt.Errorf("estimate gas: %w", err)
		}
		gas = estimate + estimate/5
	}

	// Room for the base fee to double before the transaction is priced out
	feeCap := new(big.Int).Add(new(big.Int).Mul(baseFee, big.NewInt(2)), tip)

	value := msg.Value
	if value == nil {
		value = new(big.Int)
	}
	to := msg.To
	tx, err := types.SignNewTx(c.key, types.LatestSignerForChainID(c.chainID), &types.DynamicFeeTx{
		ChainID:   c.chainID,
		Nonce:     nonce,
		GasTipCap: tip,
		GasFeeCap: feeCap,
		Gas:       gas,
		To:        &to,
		Value:     value,
		Data:      msg.Data,
	})
	if err != nil {
		return common.Hash{}, fmt.Errorf("sign: %w", err)
	}

	raw, err := tx.MarshalBinary()
	if err != nil {
		return common.Hash{}, fmt.Errorf("encode transaction: %w", err)
	}
	hash, err := c.rpc.SendRawTransaction(ctx, raw)
	if err != nil {
		return common.Hash{}, err
	}
	c.next[from] = nonce + 1
	return hash, nil
}

// NodeConnector uses an account unlocked on the node itself, as on a
// development chain.
type NodeConnector struct {
	rpc evm.RPCClient
}

// Compile-time interface check.
var _ Connector = (*NodeConnector)(nil)

// NewNodeConnector creates a connector over the node's accounts.
func NewNodeConnector(rpc evm.RPCClient) *NodeConnector {
	return &NodeConnector{rpc: rpc}
}

func (c *NodeConnector) ID() string   { return NodeConnectorID }
func (c *NodeConnector) Name() string { return "Node account" }

// Connect returns the first account of eth_accounts.
func (c *NodeConnector) Connect(ctx context.Context) (common.Address, error) {
	accounts, err := c.rpc.Accounts(ctx)
	if err != nil {
		return common.Address{}, fmt.Errorf("accounts: %w", err)
	}
	if len(accounts) == 0 {
		return common.Address{}, ErrNoAccounts
	}
	return accounts[0], nil
}

func (c *NodeConnector) Disconnect() {}

// Send hands msg to eth_sendTransaction.
func (c *NodeConnector) Send(ctx context.Context, from common.Address, msg evm.CallMsg) (common.Hash, error) {
	msg.From = &from
	return c.rpc.SendTransaction(ctx, msg)
}
