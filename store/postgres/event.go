package postgres

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
	_, err := q.Exec(ctx, `
		INSERT INTO cadence_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		evt.ID, string(evt.Type), evt.TenantID, evt.Subject, payload,
		evt.Attempts, evt.LastError, evt.Acked, evt.Parked, evt.AckedAt, evt.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateKey
		}
		return fmt.Errorf("cadence/postgres: insert event: %w", err)
	}
	return nil
}

// PublishEvent persists a standalone event.
func (s *Store) PublishEvent(ctx context.Context, evt *event.Event) error {
	return insertEvent(ctx, s.pool, evt)
}

// ListUnacked returns undelivered events in insertion order.
func (s *Store) ListUnacked(ctx context.Context, limit int) ([]*event.Event, error) {
	var f filter
	f.conds = append(f.conds, "NOT acked", "NOT parked")
	q := `SELECT ` + eventColumns + ` FROM cadence_events` + f.where() + ` ORDER BY seq`
	q += f.page(limit, 0)

	rows, err := s.pool.Query(ctx, q, f.args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list unacked: %w", err)
	}
	defer rows.Close()

	var out []*event.Event
	for rows.Next() {
		var evt event.Event
		if err := rows.Scan(
			&evt.ID, &evt.Type, &evt.TenantID, &evt.Subject, &evt.Payload,
			&evt.Attempts, &evt.LastError, &evt.Acked, &evt.Parked, &evt.AckedAt, &evt.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan event: %w", err)
		}
		out = append(out, &evt)
	}
	return out, rows.Err()
}

// AckEvent marks an event delivered.
func (s *Store) AckEvent(ctx context.Context, eventID id.ID) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cadence_events SET acked = TRUE, acked_at = $2 WHERE id = $1`,
		eventID, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: ack event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.NotFound("event", eventID.String())
	}
	return nil
}

// RecordAttempt counts a failed delivery.
func (s *Store) RecordAttempt(ctx context.Context, eventID id.ID, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cadence_events SET attempts = attempts + 1, last_error = $2 WHERE id = $1`,
		eventID, lastErr,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: record attempt: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.NotFound("event", eventID.String())
	}
	return nil
}

// ParkEvent counts a final failed delivery and parks the event.
func (s *Store) ParkEvent(ctx context.Context, eventID id.ID, lastErr string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE cadence_events SET attempts = attempts + 1, last_error = $2, parked = TRUE WHERE id = $1`,
		eventID, lastErr,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: park event: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.NotFound("event", eventID.String())
	}
	return nil
}
