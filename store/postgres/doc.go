// Package postgres implements store.Store on PostgreSQL using pgx/v5 with
// raw SQL. Run transitions commit in one transaction together with their
// worker slot changes and outbox events. Claims lock the run row, the
// worker row and, under a concurrency limit, the job row. Dedupe checks
// serialize on a transaction-scoped advisory lock. Migrations are
// embedded SQL files.
package postgres
