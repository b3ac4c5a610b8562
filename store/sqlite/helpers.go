package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// isNoRows returns true when err indicates no rows were found.
func isNoRows(err error) bool {
	return errors.Is(err, sql.ErrNoRows)
}

// isDuplicateKey reports a UNIQUE or PRIMARY KEY constraint violation.
func isDuplicateKey(err error) bool {
	var se *sqlite.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE ||
			se.Code() == sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY
	}
	return false
}

// scanner is satisfied by *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// inTx runs fn in a transaction, committing when it returns nil.
func (s *Store) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("cadence/sqlite: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("cadence/sqlite: commit: %w", err)
	}
	return nil
}

// ──────────────────────────────────────────────────
// Column codecs
// ──────────────────────────────────────────────────

// nanos encodes t as unix nanoseconds. The zero time is stored as 0.
func nanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

// nullNanos encodes an optional time; nil is stored as NULL.
func nullNanos(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: nanos(*t), Valid: true}
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

// timeCol scans a unix-nanosecond column into a time.Time.
type timeCol struct{ t *time.Time }

func (c timeCol) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c.t = time.Time{}
	case int64:
		*c.t = fromNanos(v)
	default:
		return fmt.Errorf("cadence/sqlite: cannot scan %T into time", src)
	}
	return nil
}

// nullTimeCol scans a nullable unix-nanosecond column into a *time.Time.
type nullTimeCol struct{ t **time.Time }

func (c nullTimeCol) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*c.t = nil
	case int64:
		t := fromNanos(v)
		*c.t = &t
	default:
		return fmt.Errorf("cadence/sqlite: cannot scan %T into time", src)
	}
	return nil
}

// jsonCol scans a JSON TEXT column into v. NULL leaves v untouched.
type jsonCol struct{ v any }

func (c jsonCol) Scan(src any) error {
	switch b := src.(type) {
	case nil:
		return nil
	case string:
		return json.Unmarshal([]byte(b), c.v)
	case []byte:
		return json.Unmarshal(b, c.v)
	default:
		return fmt.Errorf("cadence/sqlite: cannot scan %T as JSON", src)
	}
}

// jsonText marshals v for a TEXT column.
func jsonText(field string, v any) (string, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cadence/sqlite: marshal %s: %w", field, err)
	}
	return string(b), nil
}

// ──────────────────────────────────────────────────
// Query building
// ──────────────────────────────────────────────────

// filter accumulates WHERE conditions with positional placeholders.
type filter struct {
	conds []string
	args  []any
}

func (f *filter) add(cond string, arg any) {
	f.conds = append(f.conds, cond)
	f.args = append(f.args, arg)
}

// in appends a column IN (...) condition over values.
func (f *filter) in(column string, values []string) {
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		f.args = append(f.args, v)
	}
	f.conds = append(f.conds, column+" IN ("+strings.Join(marks, ", ")+")")
}

func (f *filter) where() string {
	if len(f.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(f.conds, " AND ")
}

// page appends LIMIT and OFFSET clauses. SQLite needs a LIMIT before an
// OFFSET, and -1 means no limit.
func (f *filter) page(limit, offset int) string {
	switch {
	case limit <= 0 && offset <= 0:
		return ""
	case limit <= 0:
		limit = -1
	}
	f.args = append(f.args, limit, max(offset, 0))
	return " LIMIT ? OFFSET ?"
}
