// Package config resolves the network, contract addresses, RPC endpoints and
// local settings the binaries run with. Values come from the process
// environment, optionally seeded from a .env file, and can be overridden by
// command-line flags.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"nft-market/internal/contracts"
	"nft-market/internal/domain"
)

// Sepolia deployments of the marketplace contracts.
const (
	DefaultTokenAddress       = "0x534e62Fd15c4306Ab30573b71Ddc81bD7c69bCd0"
	DefaultNFTAddress         = "0xCA0AbBb9B1beF88a304773e97B8a3a918d32814f"
	DefaultMarketplaceAddress = "0x180931FD7B481e0A3741B21A923a93eB56460aFF"
)

// Public Sepolia endpoints tried after any configured RPC URL.
const (
	PublicRPC         = "https://rpc.sepolia.org"
	PublicInfuraRPC   = "https://sepolia.infura.io/v3/9aa3d95b3bc440fa88ea12eaa4456161"
	PublicNodeRPC     = "https://ethereum-sepolia-rpc.publicnode.com"
	PublicFallbackRPC = "https://rpc2.sepolia.org"
)

// Environment variables read by FromEnv.
const (
	EnvRPCURL           = "SEPOLIA_RPC_URL"
	EnvRPCURLAlias      = "NEXT_PUBLIC_SEPOLIA_RPC_URL"
	EnvWSURL            = "SEPOLIA_WS_URL"
	EnvTokenAddress     = "MARKET_TOKEN_ADDRESS"
	EnvNFTAddress       = "MARKET_NFT_ADDRESS"
	EnvMarketplace      = "MARKET_MARKETPLACE_ADDRESS"
	EnvPrivateKey       = "MARKET_PRIVATE_KEY"
	EnvKeystore         = "MARKET_KEYSTORE"
	EnvKeystorePassword = "MARKET_KEYSTORE_PASSWORD"
	EnvConnector        = "MARKET_CONNECTOR"
	EnvPostgresDSN      = "MARKET_POSTGRES_DSN"
	EnvMetricsAddr      = "MARKET_METRICS_ADDR"
	EnvIPFSGateway      = "MARKET_IPFS_GATEWAY"
	EnvLogLevel         = "MARKET_LOG_LEVEL"
	EnvLogFile          = "MARKET_LOG_FILE"
)

// DefaultConfirmationTimeout bounds the wait for a transaction receipt.
const DefaultConfirmationTimeout = 5 * time.Minute

var (
	// ErrInvalidAddress is returned when a contract address does not parse.
	ErrInvalidAddress = errors.New("invalid contract address")
	// ErrNoEndpoints is returned when no RPC endpoint is configured.
	ErrNoEndpoints = errors.New("no rpc endpoints configured")
)

// Network describes the chain the client is bound to.
type Network struct {
	ChainID        int64
	Name           string
	NativeName     string
	NativeSymbol   string
	NativeDecimals int32
	ExplorerURL    string
}

// Sepolia is the Ethereum Sepolia test network.
var Sepolia = Network{
	ChainID:        11155111,
	Name:           "Sepolia",
	NativeName:     "Ether",
	NativeSymbol:   "ETH",
	NativeDecimals: 18,
	ExplorerURL:    "https://sepolia.etherscan.io/",
}

// ChainIDHex returns the chain id as a 0x-prefixed hex string.
func (n Network) ChainIDHex() string {
	return fmt.Sprintf("0x%x", n.ChainID)
}

// Config holds everything the binaries need to start.
type Config struct {
	Network Network

	TokenAddress       string
	NFTAddress         string
	MarketplaceAddress string

	// RPCURL is the user-provided endpoint tried before the public ones.
	RPCURL string
	WSURL  string

	PrivateKey       string
	KeystorePath     string
	KeystorePassword string
	// Connector is the connector id reconnected on start. Empty means
	// start disconnected.
	Connector string

	PostgresDSN         string
	MetricsAddr         string
	IPFSGateway         string
	ConfirmationTimeout time.Duration

	LogLevel string
	LogFile  string
}

// LoadEnv loads files (".env" when none are given) into the process
// environment. Variables already set are kept and missing files are
// ignored.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if _, err := os.Stat(f); errors.Is(err, os.ErrNotExist) {
			continue
		}
		if err := godotenv.Load(f); err != nil {
			return fmt.Errorf("load %s: %w", f, err)
		}
	}
	return nil
}

// FromEnv returns the configuration described by the environment, with
// defaults for everything unset.
func FromEnv() Config {
	rpcURL := os.Getenv(EnvRPCURL)
	if rpcURL == "" {
		rpcURL = os.Getenv(EnvRPCURLAlias)
	}

	return Config{
		Network:             Sepolia,
		TokenAddress:        getenv(EnvTokenAddress, DefaultTokenAddress),
		NFTAddress:          getenv(EnvNFTAddress, DefaultNFTAddress),
		MarketplaceAddress:  getenv(EnvMarketplace, DefaultMarketplaceAddress),
		RPCURL:              strings.TrimSpace(rpcURL),
		WSURL:               os.Getenv(EnvWSURL),
		PrivateKey:          os.Getenv(EnvPrivateKey),
		KeystorePath:        os.Getenv(EnvKeystore),
		KeystorePassword:    os.Getenv(EnvKeystorePassword),
		Connector:           os.Getenv(EnvConnector),
		PostgresDSN:         os.Getenv(EnvPostgresDSN),
		MetricsAddr:         os.Getenv(EnvMetricsAddr),
		IPFSGateway:         getenv(EnvIPFSGateway, "https://ipfs.io/ipfs/"),
		ConfirmationTimeout: DefaultConfirmationTimeout,
		LogLevel:            getenv(EnvLogLevel, "info"),
		LogFile:             os.Getenv(EnvLogFile),
	}
}

func getenv(key, def string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return def
}

// BindFlags registers flags on fs that default to the current values of c.
// Secrets are only read from the environment.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.RPCURL, "rpc-url", c.RPCURL, "JSON-RPC endpoint tried before the public Sepolia endpoints")
	fs.StringVar(&c.WSURL, "ws-url", c.WSURL, "WebSocket endpoint for newHeads (optional)")
	fs.StringVar(&c.TokenAddress, "token", c.TokenAddress, "ERC-20 token contract address")
	fs.StringVar(&c.NFTAddress, "nft", c.NFTAddress, "ERC-721 contract address")
	fs.StringVar(&c.MarketplaceAddress, "marketplace", c.MarketplaceAddress, "marketplace contract address")
	fs.StringVar(&c.Connector, "connector", c.Connector, "wallet connector to connect on start (key, node)")
	fs.StringVar(&c.KeystorePath, "keystore", c.KeystorePath, "encrypted keystore file for the key connector")
	fs.StringVar(&c.PostgresDSN, "postgres-dsn", c.PostgresDSN, "PostgreSQL DSN for the activity journal (memory when empty)")
	fs.StringVar(&c.MetricsAddr, "metrics-addr", c.MetricsAddr, "Prometheus metrics HTTP address (empty to disable)")
	fs.StringVar(&c.IPFSGateway, "ipfs-gateway", c.IPFSGateway, "gateway used to resolve ipfs:// URIs")
	fs.DurationVar(&c.ConfirmationTimeout, "confirm-timeout", c.ConfirmationTimeout, "maximum wait for a transaction receipt")
	fs.StringVar(&c.LogLevel, "log-level", c.LogLevel, "log level (debug, info, warn, error)")
	fs.StringVar(&c.LogFile, "log-file", c.LogFile, "write logs to this file instead of stderr")
}

// Validate checks the contract addresses and endpoint list.
func (c Config) Validate() error {
	if _, err := c.Contracts(); err != nil {
		return err
	}
	if len(c.Endpoints()) == 0 {
		return ErrNoEndpoints
	}
	if c.ConfirmationTimeout <= 0 {
		return fmt.Errorf("confirmation timeout must be positive, got %s", c.ConfirmationTimeout)
	}
	return nil
}

// Contracts parses the three contract addresses.
func (c Config) Contracts() (contracts.Addresses, error) {
	token, err := parseAddress("token", c.TokenAddress)
	if err != nil {
		return contracts.Addresses{}, err
	}
	nft, err := parseAddress("nft", c.NFTAddress)
	if err != nil {
		return contracts.Addresses{}, err
	}
	marketplace, err := parseAddress("marketplace", c.MarketplaceAddress)
	if err != nil {
		return contracts.Addresses{}, err
	}
	return contracts.Addresses{Token: token, NFT: nft, Marketplace: marketplace}, nil
}

func parseAddress(name, raw string) (common.Address, error) {
	addr, err := domain.ParseAddress(raw)
	if err != nil || addr == (common.Address{}) {
		return common.Address{}, fmt.Errorf("%w: %s %q", ErrInvalidAddress, name, raw)
	}
	return addr, nil
}

// Endpoints returns the RPC endpoints in preference order.
func (c Config) Endpoints() []string {
	return RPCEndpoints(c.RPCURL)
}

// RPCEndpoints returns override followed by the public fallbacks. The shared
// Infura endpoint is only used when no override is given.
func RPCEndpoints(override string) []string {
	override = strings.TrimSpace(override)
	if override != "" {
		return dedupe([]string{override, PublicRPC, PublicNodeRPC, PublicFallbackRPC})
	}
	return []string{PublicRPC, PublicInfuraRPC, PublicNodeRPC, PublicFallbackRPC}
}

func dedupe(urls []string) []string {
	seen := make(map[string]bool, len(urls))
	out := urls[:0]
	for _, u := range urls {
		if seen[u] {
			continue
		}
		seen[u] = true
		out = append(out, u)
	}
	return out
}
