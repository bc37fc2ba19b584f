package wallet

import "errors"

var (
	// ErrNotConnected is returned by writes without a session.
	ErrNotConnected = errors.New("wallet not connected")

	// ErrUnknownConnector is returned when no connector has the requested id.
	ErrUnknownConnector = errors.New("unknown connector")

	// ErrNoConnectors is returned by Connect when nothing is configured.
	ErrNoConnectors = errors.New("no wallet connectors available")

	// ErrRejected is returned when the signer refuses a request.
	ErrRejected = errors.New("request rejected by signer")

	// ErrNoAccounts is returned when the node manages no accounts.
	ErrNoAccounts = errors.New("node has no accounts")

	// ErrWrongChain is returned when the endpoint serves another chain.
	ErrWrongChain = errors.New("endpoint serves a different chain")
)
