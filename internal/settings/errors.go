package settings

import "errors"

// Domain-specific errors for the configuration store.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrUnavailable is returned when the store cannot be read or written,
	// or when the persisted record is corrupt. Callers treat the node as
	// factory-default and enter Setup.
	ErrUnavailable = errors.New("settings: store unavailable")

	// ErrInvalid is returned when a record violates a field invariant.
	ErrInvalid = errors.New("settings: invalid value")
)
