// Package node is the mode state machine and orchestrator.
//
// A Node boots into one of two modes and stays there until it is
// restarted:
//
//   - Setup: no usable link. The access point, captive DNS and the
//     provisioning portal are up; the loop only refreshes gauges.
//   - Running: joined to the configured network. Each tick monitors the
//     link, rejoins on cooldown while it is down, advances the broker
//     session and emits telemetry when due.
//
// Link loss never reverts to Setup. The only way back is a restart, which
// Run signals by returning ErrRestart after a portal save, a factory reset
// or a restart command; the caller then builds a fresh Node and boots it.
//
// One goroutine (the one calling Run) owns all state. HTTP handlers, the
// console and the broker command topic reach it through Execute and the
// portal operations, which queue work onto that goroutine, and through
// Snapshot, which returns a copy published after every tick.
package node
