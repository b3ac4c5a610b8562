package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/trigger"
)

const scheduleColumns = `id, tenant_id, name, job_key, expr, timezone, calendar_key, roll, payload,
	enabled, last_run_at, next_run_at, locked_by, locked_until, version, created_at, updated_at`

func scanSchedule(row scanner) (*trigger.Schedule, error) {
	var sc trigger.Schedule
	err := row.Scan(
		&sc.ID, &sc.TenantID, &sc.Name, &sc.JobKey, &sc.Expr, &sc.Timezone, &sc.CalendarKey, &sc.Roll, &sc.Payload,
		&sc.Enabled, &sc.LastRunAt, &sc.NextRunAt, &sc.LockedBy, &sc.LockedUntil, &sc.Version, &sc.CreatedAt, &sc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &sc, nil
}

// CreateSchedule persists a new schedule. Names are unique per tenant.
func (s *Store) CreateSchedule(ctx context.Context, sc *trigger.Schedule) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO cadence_schedules (`+scheduleColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)`,
		sc.ID, sc.TenantID, sc.Name, sc.JobKey, sc.Expr, sc.Timezone, sc.CalendarKey, string(sc.Roll), sc.Payload,
		sc.Enabled, sc.LastRunAt, sc.NextRunAt, sc.LockedBy, sc.LockedUntil, sc.Version, sc.CreatedAt, sc.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateKey
		}
		return fmt.Errorf("cadence/postgres: create schedule: %w", err)
	}
	return nil
}

// GetSchedule retrieves a schedule by ID.
func (s *Store) GetSchedule(ctx context.Context, scheduleID id.ID) (*trigger.Schedule, error) {
	sc, err := scanSchedule(s.pool.QueryRow(ctx,
		`SELECT `+scheduleColumns+` FROM cadence_schedules WHERE id = $1`, scheduleID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.NotFound("schedule", scheduleID.String())
		}
		return nil, fmt.Errorf("cadence/postgres: get schedule: %w", err)
	}
	return sc, nil
}

func (s *Store) querySchedules(ctx context.Context, q string, args ...any) ([]*trigger.Schedule, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: query schedules: %w", err)
	}
	defer rows.Close()

	var out []*trigger.Schedule
	for rows.Next() {
		sc, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan schedule: %w", err)
		}
		out = append(out, sc)
	}
	return out, rows.Err()
}

// ListSchedules returns schedules matching opts ordered by name.
func (s *Store) ListSchedules(ctx context.Context, opts trigger.ListOpts) ([]*trigger.Schedule, error) {
	var f filter
	if opts.Tenant != "" {
		f.add("tenant_id = ?", opts.Tenant)
	}
	if opts.JobKey != "" {
		f.add("job_key = ?", opts.JobKey)
	}
	q := `SELECT ` + scheduleColumns + ` FROM cadence_schedules` + f.where() + ` ORDER BY name`
	q += f.page(opts.Limit, opts.Offset)
	return s.querySchedules(ctx, q, f.args...)
}

// ListDueSchedules returns enabled schedules due at now, earliest first.
func (s *Store) ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*trigger.Schedule, error) {
	var f filter
	f.conds = append(f.conds, "enabled")
	f.add("next_run_at <= ?", now)
	q := `SELECT ` + scheduleColumns + ` FROM cadence_schedules` + f.where() + ` ORDER BY next_run_at`
	q += f.page(limit, 0)
	return s.querySchedules(ctx, q, f.args...)
}

// UpdateSchedule replaces a schedule under a version check. The lock
// columns are left alone.
func (s *Store) UpdateSchedule(ctx context.Context, sc *trigger.Schedule, expectedVersion int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_schedules SET
			name = $2, job_key = $3, expr = $4, timezone = $5, calendar_key = $6, roll = $7,
			payload = $8, enabled = $9, last_run_at = $10, next_run_at = $11,
			version = $12, updated_at = $13
		WHERE id = $1 AND version = $14`,
		sc.ID, sc.Name, sc.JobKey, sc.Expr, sc.Timezone, sc.CalendarKey, string(sc.Roll),
		sc.Payload, sc.Enabled, sc.LastRunAt, sc.NextRunAt,
		sc.Version, sc.UpdatedAt, expectedVersion,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateKey
		}
		return fmt.Errorf("cadence/postgres: update schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSchedule(ctx, sc.ID); err != nil {
			return err
		}
		return cadence.ErrVersionConflict
	}
	return nil
}

// AdvanceSchedule records a firing.
func (s *Store) AdvanceSchedule(ctx context.Context, scheduleID id.ID, lastRunAt, nextRunAt time.Time) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_schedules SET last_run_at = $2, next_run_at = $3, updated_at = $4
		WHERE id = $1`,
		scheduleID, lastRunAt, nextRunAt, s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: advance schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.NotFound("schedule", scheduleID.String())
	}
	return nil
}

// AcquireScheduleLock takes the per-schedule lock for nodeID when it is
// free, expired or already held by nodeID.
func (s *Store) AcquireScheduleLock(ctx context.Context, scheduleID id.ID, nodeID string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_schedules SET locked_by = $2, locked_until = $3
		WHERE id = $1
		  AND (locked_by = '' OR locked_by = $2 OR locked_until IS NULL OR locked_until <= $4)`,
		scheduleID, nodeID, now.Add(ttl), now,
	)
	if err != nil {
		return false, fmt.Errorf("cadence/postgres: acquire schedule lock: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetSchedule(ctx, scheduleID); err != nil {
			return false, err
		}
		return false, nil
	}
	return true, nil
}

// ReleaseScheduleLock releases a lock held by nodeID.
func (s *Store) ReleaseScheduleLock(ctx context.Context, scheduleID id.ID, nodeID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE cadence_schedules SET locked_by = '', locked_until = NULL
		WHERE id = $1 AND locked_by = $2`,
		scheduleID, nodeID,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: release schedule lock: %w", err)
	}
	return nil
}

// DeleteSchedule removes a schedule.
func (s *Store) DeleteSchedule(ctx context.Context, scheduleID id.ID) error {
	tag, err := s.pool.Exec(ctx, `DELETE FROM cadence_schedules WHERE id = $1`, scheduleID)
	if err != nil {
		return fmt.Errorf("cadence/postgres: delete schedule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.NotFound("schedule", scheduleID.String())
	}
	return nil
}
