package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
)

const calendarColumns = `id, tenant_id, key, name, location, weekdays, holidays, version, created_at, updated_at`

func scanCalendar(row scanner) (*calendar.Calendar, error) {
	var c calendar.Calendar
	err := row.Scan(&c.ID, &c.TenantID, &c.Key, &c.Name, &c.Location,
		&c.Weekdays, &c.Holidays, &c.Version, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateCalendar persists a new calendar.
func (s *Store) CreateCalendar(ctx context.Context, c *calendar.Calendar) error {
	weekdays, holidays, err := calendarJSON(c)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO cadence_calendars (`+calendarColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		c.ID, c.TenantID, c.Key, c.Name, c.Location,
		weekdays, holidays, c.Version, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateKey
		}
		return fmt.Errorf("cadence/postgres: create calendar: %w", err)
	}
	return nil
}

func calendarJSON(c *calendar.Calendar) (weekdays, holidays []byte, err error) {
	if weekdays, err = json.Marshal(c.Weekdays); err != nil {
		return nil, nil, fmt.Errorf("cadence/postgres: marshal weekdays: %w", err)
	}
	hol := c.Holidays
	if hol == nil {
		hol = []string{}
	}
	if holidays, err = json.Marshal(hol); err != nil {
		return nil, nil, fmt.Errorf("cadence/postgres: marshal holidays: %w", err)
	}
	return weekdays, holidays, nil
}

// GetCalendar retrieves a calendar by tenant and key.
func (s *Store) GetCalendar(ctx context.Context, tenant, key string) (*calendar.Calendar, error) {
	c, err := scanCalendar(s.pool.QueryRow(ctx,
		`SELECT `+calendarColumns+` FROM cadence_calendars WHERE tenant_id = $1 AND key = $2`,
		tenant, key,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.NotFound("calendar", key)
		}
		return nil, fmt.Errorf("cadence/postgres: get calendar: %w", err)
	}
	return c, nil
}

// UpdateCalendar replaces a calendar under a version check.
func (s *Store) UpdateCalendar(ctx context.Context, c *calendar.Calendar, expectedVersion int64) error {
	weekdays, holidays, err := calendarJSON(c)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE cadence_calendars SET
			name = $3, location = $4, weekdays = $5, holidays = $6,
			version = $7, updated_at = $8
		WHERE tenant_id = $1 AND key = $2 AND version = $9`,
		c.TenantID, c.Key, c.Name, c.Location, weekdays, holidays,
		c.Version, c.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: update calendar: %w", err)
	}
	if tag.RowsAffected() == 0 {
		if _, err := s.GetCalendar(ctx, c.TenantID, c.Key); err != nil {
			return err
		}
		return cadence.ErrVersionConflict
	}
	return nil
}

// ListCalendars returns a tenant's calendars ordered by key.
func (s *Store) ListCalendars(ctx context.Context, tenant string, opts calendar.ListOpts) ([]*calendar.Calendar, error) {
	var f filter
	f.add("tenant_id = ?", tenant)
	q := `SELECT ` + calendarColumns + ` FROM cadence_calendars` + f.where() + ` ORDER BY key`
	q += f.page(opts.Limit, opts.Offset)

	rows, err := s.pool.Query(ctx, q, f.args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: list calendars: %w", err)
	}
	defer rows.Close()

	var out []*calendar.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan calendar: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCalendar removes a calendar.
func (s *Store) DeleteCalendar(ctx context.Context, tenant, key string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM cadence_calendars WHERE tenant_id = $1 AND key = $2`,
		tenant, key,
	)
	if err != nil {
		return fmt.Errorf("cadence/postgres: delete calendar: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return cadence.NotFound("calendar", key)
	}
	return nil
}
