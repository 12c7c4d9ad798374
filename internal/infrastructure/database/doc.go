// Package database provides the SQLite connection behind the observation journal.
//
// This package manages:
//   - Database connection with WAL mode
//   - Embedded, additive-only schema migrations
//   - Transaction helpers
//
// The journal records runs, exposures, passes and the scheduler state needed
// to resume a night after a restart. See package journal for the queries.
//
// Usage:
//
//	db, err := database.Open(cfg.Database)
//	if err != nil {
//	    return err
//	}
//	defer db.Close()
//
//	if err := db.Migrate(ctx); err != nil {
//	    return err
//	}
//
// Migration files live in migrations/ and are named
// YYYYMMDD_HHMMSS_description.up.sql. New columns must be nullable or carry
// a default.
package database
