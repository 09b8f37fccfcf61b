// Package database provides the SQLite store for the Gray Logic node.
//
// This package manages:
//   - Opening the store file with WAL journaling and a busy timeout
//   - Forward-only schema migrations embedded in the binary
//   - Health checks and lifecycle
//
// Security Considerations:
//   - All queries use parameterised statements
//   - The store file is restricted to 0600; it holds the link passphrase
//
// Usage:
//
//	db, err := database.Open(cfg.Store)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
package database
