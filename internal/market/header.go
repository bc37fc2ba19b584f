package market

import (
	"context"

	"nft-market/internal/domain"
	"nft-market/internal/query"
	"nft-market/internal/wallet"
)

// HeaderPhase is which half of the header is drawn.
type HeaderPhase int

const (
	// HeaderHydrating draws neither connected nor disconnected UI.
	HeaderHydrating HeaderPhase = iota
	HeaderDisconnected
	HeaderConnected
)

func (p HeaderPhase) String() string {
	switch p {
	case HeaderHydrating:
		return "hydrating"
	case HeaderDisconnected:
		return "disconnected"
	case HeaderConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Header texts.
const (
	LabelConnect      = "Connect Wallet"
	LabelDisconnect   = "Disconnect"
	NoticeNoConnector = "No wallet connector available."
	NativePlaceholder = "0.0000"
	TokenPlaceholder  = "0"
	BalanceFailed     = "unavailable"
)

// HeaderRender is the render output of the wallet header.
type HeaderRender struct {
	Phase HeaderPhase

	// Disconnected.
	ConnectLabel    string
	ConnectDisabled bool
	ConnectorName   string
	Notice          string

	// Connected.
	Address       string // shortened, EIP-55 checksum case
	FullAddress   string
	NativeBalance string // exactly 4 decimals
	NativeSymbol  string
	TokenBalance  string
	TokenSymbol   string
}

// Header is the wallet header view-model.
type Header struct {
	deps *Deps
}

// NewHeader creates the header.
func NewHeader(deps Deps) *Header {
	deps.defaults()
	return &Header{deps: &deps}
}

// HeaderFor creates a header sharing the listings view's collaborators.
func HeaderFor(v *ListingsView) *Header {
	return &Header{deps: v.deps}
}

// Render returns the header as it should be drawn now.
func (h *Header) Render() HeaderRender {
	w := h.deps.Wallet
	if !w.Ready() {
		return HeaderRender{Phase: HeaderHydrating}
	}

	session := w.Session()
	if !session.Connected {
		out := HeaderRender{Phase: HeaderDisconnected, ConnectLabel: LabelConnect}
		connectors := w.Connectors()
		if len(connectors) == 0 {
			out.ConnectDisabled = true
			out.Notice = NoticeNoConnector
		} else {
			out.ConnectorName = connectors[0].Name()
		}
		return out
	}

	out := HeaderRender{
		Phase:        HeaderConnected,
		Address:      domain.ShortAddress(session.Address.Hex()),
		FullAddress:  session.Address.Hex(),
		NativeSymbol: h.deps.NativeSymbol,
		TokenSymbol:  h.deps.TokenSymbol,
	}

	native := h.deps.nativeBalance(session.Address)
	switch native.State {
	case query.Loaded:
		out.NativeBalance = domain.FormatFixed(native.Value, 18, 4)
	case query.Failed:
		out.NativeBalance = BalanceFailed
	default:
		out.NativeBalance = NativePlaceholder
	}

	token := h.deps.tokenBalance(session.Address)
	switch token.State {
	case query.Loaded:
		out.TokenBalance = domain.FormatUnits(token.Value, TokenDecimals)
	case query.Failed:
		out.TokenBalance = BalanceFailed
	default:
		out.TokenBalance = TokenPlaceholder
	}
	return out
}

// Connect connects the first available connector.
func (h *Header) Connect(ctx context.Context) (domain.Session, error) {
	connectors := h.deps.Wallet.Connectors()
	if len(connectors) == 0 {
		return domain.Session{}, wallet.ErrNoConnectors
	}
	return h.deps.Wallet.Connect(ctx, connectors[0].ID())
}

// Disconnect clears the session.
func (h *Header) Disconnect() {
	h.deps.Wallet.Disconnect()
}
