package command

import "errors"

// Parse errors. Use errors.Is() to check for these errors in calling code.
var (
	// ErrBadFormat is returned when a verb is recognised but its
	// parameters cannot be parsed.
	ErrBadFormat = errors.New("command: bad format")

	// ErrOutOfRange is returned when a parameter parses but lies outside
	// the field's bounds.
	ErrOutOfRange = errors.New("command: value out of range")

	// ErrTooLong is returned for lines longer than MaxLineLength.
	ErrTooLong = errors.New("command: line too long")
)
