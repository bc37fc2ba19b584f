package contracts

import "errors"

var (
	// ErrUnknownMethod is returned when a method is not part of the contract ABI.
	ErrUnknownMethod = errors.New("unknown contract method")

	// ErrUnexpectedOutput is returned when a call returns data that does not
	// match the method outputs, including an empty result from a non-contract address.
	ErrUnexpectedOutput = errors.New("unexpected call output")
)
