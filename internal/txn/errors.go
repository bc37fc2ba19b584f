package txn

import "errors"

var (
	// ErrReverted is returned when the transaction was mined with status 0.
	ErrReverted = errors.New("transaction reverted")

	// ErrConfirmationTimeout is returned when no receipt appears within the
	// confirmation timeout. The transaction may still be mined later.
	ErrConfirmationTimeout = errors.New("transaction not confirmed in time")

	// ErrTrackerClosed is returned for submissions after Close.
	ErrTrackerClosed = errors.New("tracker closed")
)
