package node

import "errors"

var (
	// ErrRestart is returned by Run when the node must be rebuilt from a
	// clean state: after a portal save, a factory reset or a restart
	// command. Pending writes have completed when it is returned.
	ErrRestart = errors.New("node: restart requested")

	// ErrNotBooted is returned by Run before Boot succeeded.
	ErrNotBooted = errors.New("node: not booted")

	// ErrStopped is returned by requests submitted after Run returned.
	ErrStopped = errors.New("node: stopped")

	// ErrWrongMode is returned by portal operations outside Setup.
	ErrWrongMode = errors.New("node: operation not available in this mode")
)
