// Package settings is the node's configuration store: the single persisted
// device record (identity, link credentials, broker endpoint, tunables).
//
// The record lives in one namespace of key/value rows in the SQLite store.
// Absent keys take their defaults; an unreadable or corrupt namespace yields
// the factory-default record together with ErrUnavailable, which callers
// treat as "unconfigured" rather than a fatal condition.
//
// Saves write every field in one transaction, so a crash mid-write leaves
// the previously committed record intact.
package settings
