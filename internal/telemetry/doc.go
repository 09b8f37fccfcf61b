// Package telemetry produces sensor readings and delivers them.
//
// A Publisher samples the enabled sensor classes every read interval and
// hands each reading to:
//   - the diagnostic side-channel, as a "JSON_STATUS:{...}" line
//   - the broker session, on the sensors topic and one topic per class
//   - an optional Sink (InfluxDB)
//   - an optional Broadcaster (dashboard websocket)
//
// Broker delivery is best effort. While the session is down readings are
// counted as dropped and never replayed.
//
// Alarm thresholds are checked on every reading. Only transitions are
// reported: an alarm is published once when raised and once when cleared.
package telemetry
