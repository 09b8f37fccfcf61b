package timesync

import "errors"

var (
	// ErrNoServer is returned when no server is configured.
	ErrNoServer = errors.New("timesync: no server configured")

	// ErrExhausted is returned when every attempt failed.
	ErrExhausted = errors.New("timesync: attempts exhausted")
)
