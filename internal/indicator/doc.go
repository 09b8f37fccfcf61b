// Package indicator drives the status LED and watches the factory-reset
// button over the Linux GPIO character device.
//
// The LED shows one Pattern at a time; the node switches patterns on mode
// and connectivity changes. Holding the button for the configured time
// fires the reset callback once per press.
package indicator
