package market

import "errors"

var (
	// ErrBusy is returned while a transaction from the same card is in flight.
	ErrBusy = errors.New("a transaction is already in progress")

	// ErrNotApproved is returned when listing without a confirmed marketplace approval.
	ErrNotApproved = errors.New("marketplace is not approved for this token")

	// ErrInvalidPrice is returned for a listing price that is not a positive amount.
	ErrInvalidPrice = errors.New("invalid price")

	// ErrNotOwner is returned for owner-only actions.
	ErrNotOwner = errors.New("connected account is not the seller")

	// ErrNotListed is returned when buying or cancelling an unlisted token.
	ErrNotListed = errors.New("token is not listed")

	// ErrInvalidTransition is returned when an action is not available in the current state.
	ErrInvalidTransition = errors.New("action not available")

	// ErrNoAllowanceRead is returned when the allowance has not loaded as exactly zero.
	ErrNoAllowanceRead = errors.New("spending approval is only offered for a zero allowance")
)
