package broker

import "errors"

// Domain-specific errors for broker session operations.
var (
	// ErrUnreachable is returned when a connection attempt fails, whether
	// the transport could not be opened or the broker refused the session.
	ErrUnreachable = errors.New("broker: unreachable")

	// ErrDisabled is returned when no broker endpoint is configured.
	ErrDisabled = errors.New("broker: no endpoint configured")
)
