package link

import "errors"

// Domain-specific errors for link operations.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrTimeout is returned when association does not complete within the
	// connect timeout.
	ErrTimeout = errors.New("link: association timed out")

	// ErrRejected is returned when the driver refuses the association
	// outright (unknown SSID, bad credential).
	ErrRejected = errors.New("link: association rejected")

	// ErrAccessPoint is returned when the provisioning access point cannot
	// be brought up.
	ErrAccessPoint = errors.New("link: access point failed")
)
