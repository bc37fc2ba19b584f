// Package metadata resolves the off-chain description of a token from its
// tokenURI.
package metadata

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"nft-market/internal/domain"
	"nft-market/internal/observability"
)

// Default configuration values.
const (
	DefaultGateway  = "https://ipfs.io/ipfs/"
	DefaultTimeout  = 15 * time.Second
	maxDocumentSize = 1 << 20
)

var (
	// ErrUnsupportedURI is returned for URI schemes the fetcher cannot load.
	ErrUnsupportedURI = errors.New("unsupported metadata uri")

	// ErrBadStatus is returned for non-2xx HTTP responses.
	ErrBadStatus = errors.New("unexpected http status")
)

// URIResolver returns the metadata URI of a token.
type URIResolver interface {
	TokenURI(ctx context.Context, tokenID *big.Int) (string, error)
}

// Fetcher loads token metadata documents.
type Fetcher struct {
	uris    URIResolver
	client  *http.Client
	gateway string
	logger  *zap.Logger
}

// Option configures Fetcher.
type Option func(*Fetcher)

// WithGateway sets the IPFS HTTP gateway prefix.
func WithGateway(gateway string) Option {
	return func(f *Fetcher) {
		if !strings.HasSuffix(gateway, "/") {
			gateway += "/"
		}
		f.gateway = gateway
	}
}

// WithHTTPClient sets custom http.Client.
func WithHTTPClient(client *http.Client) Option {
	return func(f *Fetcher) {
		f.client = client
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(f *Fetcher) {
		f.logger = l
	}
}

// NewFetcher creates a Fetcher reading token URIs from uris.
func NewFetcher(uris URIResolver, opts ...Option) *Fetcher {
	f := &Fetcher{
		uris:    uris,
		client:  &http.Client{Timeout: DefaultTimeout},
		gateway: DefaultGateway,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(f)
	}
	f.logger = f.logger.Named("metadata")
	return f
}

// document is the ERC-721 metadata JSON schema subset the cards display.
type document struct {
	Name        string `json:"name"`
	Image       string `json:"image"`
	ImageURL    string `json:"image_url"`
	Description string `json:"description"`
}

// Fetch returns the metadata of tokenID.
func (f *Fetcher) Fetch(ctx context.Context, tokenID *big.Int) (domain.TokenMetadata, error) {
	uri, err := f.uris.TokenURI(ctx, tokenID)
	if err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("token uri %s: %w", tokenID, err)
	}

	scheme := schemeOf(uri)
	raw, err := f.load(ctx, uri)
	observability.RecordMetadataFetch(scheme, err)
	if err != nil {
		f.logger.Debug("metadata fetch failed", zap.String("token_id", tokenID.String()), zap.String("uri", uri), zap.Error(err))
		return domain.TokenMetadata{}, fmt.Errorf("metadata %s: %w", tokenID, err)
	}

	var doc document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return domain.TokenMetadata{}, fmt.Errorf("decode metadata %s: %w", tokenID, err)
	}

	image := doc.Image
	if image == "" {
		image = doc.ImageURL
	}
	if image != "" {
		if resolved, err := f.Resolve(image); err == nil {
			image = resolved
		}
	}

	return domain.TokenMetadata{
		TokenID:     new(big.Int).Set(tokenID),
		Name:        strings.TrimSpace(doc.Name),
		Image:       image,
		Description: doc.Description,
	}, nil
}

// Resolve maps a metadata or image URI onto a URL an HTTP client can load.
// ipfs:// goes through the gateway; http(s) and data URIs are returned as is.
func (f *Fetcher) Resolve(uri string) (string, error) {
	uri = strings.TrimSpace(uri)
	switch schemeOf(uri) {
	case "ipfs":
		path := strings.TrimPrefix(uri, "ipfs://")
		path = strings.TrimPrefix(path, "ipfs/")
		return f.gateway + path, nil
	case "http", "https", "data":
		return uri, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnsupportedURI, uri)
	}
}

func (f *Fetcher) load(ctx context.Context, uri string) ([]byte, error) {
	if schemeOf(uri) == "data" {
		return decodeDataURI(uri)
	}

	target, err := f.Resolve(uri)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%w: %d", ErrBadStatus, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDocumentSize))
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return body, nil
}

// decodeDataURI decodes data:application/json[;base64],<payload>.
func decodeDataURI(uri string) ([]byte, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return nil, fmt.Errorf("%w: malformed data uri", ErrUnsupportedURI)
	}
	if strings.HasSuffix(header, ";base64") {
		out, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode base64 data uri: %w", err)
		}
		return out, nil
	}
	out, err := url.PathUnescape(payload)
	if err != nil {
		return nil, fmt.Errorf("decode data uri: %w", err)
	}
	return []byte(out), nil
}

func schemeOf(uri string) string {
	i := strings.Index(uri, ":")
	if i <= 0 {
		return "none"
	}
	return strings.ToLower(uri[:i])
}
