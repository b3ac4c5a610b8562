package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
)

const eventColumns = `id, type, tenant_id, subject, payload, attempts, last_error, acked, parked, acked_at, created_at`

func insertEvent(ctx context.Context, q querier, evt *event.Event) error {
	var payload []byte
	if len(evt.Payload) > 0 {
		payload = evt.Payload
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO cadence_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		evt.ID, string(evt.Type), evt.TenantID, evt.Subject, payload,
		evt.Attempts, evt.LastError, evt.Acked, evt.Parked, nullNanos(evt.AckedAt), nanos(evt.CreatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateKey
		}
		return fmt.Errorf("cadence/sqlite: insert event: %w", err)
	}
	return nil
}

// PublishEvent persists a standalone event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	return insertEvent(ctx, s.db, evt)
}

// ListUnacked returns undelivered events in insertion order.
func (s *Store) ListUnacked(ctx context.Context, limit int) ([]*event.Event, error) {
	var f filter
	f.conds = append(f.conds, "acked = 0", "parked = 0")
	q := `SELECT ` + eventColumns + ` FROM cadence_events` + f.where() + ` ORDER BY seq`
	q += f.page(limit, 0)

	rows, err := s.db.QueryContext(ctx, q, f.args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/sqlite: list unacked: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		var (
			evt     event.Event
			payload []byte
		)
		if err := rows.Scan(
			&evt.ID, &evt.Type, &evt.TenantID, &evt.Subject, &payload,
			&evt.Attempts, &evt.LastError, &evt.Acked, &evt.Parked, nullTimeCol{&evt.AckedAt}, timeCol{&evt.CreatedAt},
		); err != nil {
			return nil, fmt.Errorf("cadence/sqlite: scan event: %w", err)
		}
		evt.Payload = payload
		out = append(out, &evt)
	}
	return out, rows.Err()
}

// AckEvent marks an event delivered.
func (s *Store) AckEvent(ctx context.Context, eventID id.ID) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cadence_events SET acked = 1, acked_at = ? WHERE id = ?`,
		nanos(s.now()), eventID,
	)
	if err != nil {
		return fmt.Errorf("cadence/sqlite: ack event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cadence.NotFound("event", eventID.String())
	}
	return nil
}

// RecordAttempt counts a failed delivery.
func (s *Store) RecordAttempt(ctx context.Context, eventID id.ID, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cadence_events SET attempts = attempts + 1, last_error = ? WHERE id = ?`,
		lastErr, eventID,
	)
	if err != nil {
		return fmt.Errorf("cadence/sqlite: record attempt: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cadence.NotFound("event", eventID.String())
	}
	return nil
}

// ParkEvent counts a final failed delivery and parks the event.
func (s *Store) ParkEvent(ctx context.Context, eventID id.ID, lastErr string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE cadence_events SET attempts = attempts + 1, last_error = ?, parked = 1 WHERE id = ?`,
		lastErr, eventID,
	)
	if err != nil {
		return fmt.Errorf("cadence/sqlite: park event: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cadence.NotFound("event", eventID.String())
	}
	return nil
}
