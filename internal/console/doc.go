// Package console is the local operator channel.
//
// It reads command lines from the terminal (or a serial device) with
// readline, hands each one to a Handler and prints the reply. The same
// writer carries the telemetry diagnostic lines, so operator output and
// JSON_STATUS lines share one stream without corrupting the prompt.
package console
