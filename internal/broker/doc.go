// Package broker manages the node's MQTT session.
//
// A Session connects to the persisted broker endpoint, retries no more often
// than its cooldown, publishes a retained presence document on every
// successful connect and carries outbound telemetry while connected.
//
// Publishing is fire-and-forget: while the session is not Connected,
// Publish returns false and the reading is dropped. Nothing is queued or
// replayed after a reconnect.
//
// The broker holds a retained Last Will on the status topic, so subscribers
// see "offline" with reason "unexpected_disconnect" when the node vanishes,
// and "graceful_shutdown" when Close is called.
package broker
