// Package sqlite implements store.Store on SQLite through database/sql and
// the pure-Go modernc.org/sqlite driver. Suitable for single-node
// deployments, CLI tools and tests.
//
// SQLite allows one writer at a time, so the store keeps a single open
// connection and every transaction is serialized. That makes dedupe
// inserts and slot claims atomic without explicit locking.
//
//	store, err := sqlite.Open(ctx, "file:cadence.db")
//	if err != nil { ... }
//	defer store.Close()
//	store.Migrate(ctx)
//
// A caller that owns its *sql.DB can pass it to New instead; the store
// then never closes it.
package sqlite
