// Package timesync queries an SNTP server for the local clock offset.
//
// Sync runs on its own goroutine and retries a fixed number of times,
// one second apart. The single Result is delivered on a buffered channel
// that the orchestrator polls each tick, so the control loop never waits
// on the network.
package timesync
