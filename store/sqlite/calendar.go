package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
)

const calendarColumns = `id, tenant_id, key, name, location, weekdays, holidays, version, created_at, updated_at`

func scanCalendar(row scanner) (*calendar.Calendar, error) {
	var c calendar.Calendar
	err := row.Scan(&c.ID, &c.TenantID, &c.Key, &c.Name, &c.Location,
		jsonCol{&c.Weekdays}, jsonCol{&c.Holidays}, &c.Version,
		timeCol{&c.CreatedAt}, timeCol{&c.UpdatedAt})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func calendarJSON(c *calendar.Calendar) (weekdays, holidays string, err error) {
	if weekdays, err = jsonText("weekdays", c.Weekdays); err != nil {
		return "", "", err
	}
	hol := c.Holidays
	if hol == nil {
		hol = []string{}
	}
	if holidays, err = jsonText("holidays", hol); err != nil {
		return "", "", err
	}
	return weekdays, holidays, nil
}

// CreateCalendar persists a new calendar.
func (s *Store) CreateCalendar(ctx context.Context, c *calendar.Calendar) error {
	weekdays, holidays, err := calendarJSON(c)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cadence_calendars (`+calendarColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.TenantID, c.Key, c.Name, c.Location,
		weekdays, holidays, c.Version, nanos(c.CreatedAt), nanos(c.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateKey
		}
		return fmt.Errorf("cadence/sqlite: create calendar: %w", err)
	}
	return nil
}

// GetCalendar retrieves a calendar by tenant and key.
func (s *Store) GetCalendar(ctx context.Context, tenant, key string) (*calendar.Calendar, error) {
	c, err := scanCalendar(s.db.QueryRowContext(ctx,
		`SELECT `+calendarColumns+` FROM cadence_calendars WHERE tenant_id = ? AND key = ?`,
		tenant, key,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.NotFound("calendar", key)
		}
		return nil, fmt.Errorf("cadence/sqlite: get calendar: %w", err)
	}
	return c, nil
}

// UpdateCalendar replaces a calendar under a version check.
func (s *Store) UpdateCalendar(ctx context.Context, c *calendar.Calendar, expectedVersion int64) error {
	weekdays, holidays, err := calendarJSON(c)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE cadence_calendars SET
			name = ?, location = ?, weekdays = ?, holidays = ?, version = ?, updated_at = ?
		WHERE tenant_id = ? AND key = ? AND version = ?`,
		c.Name, c.Location, weekdays, holidays, c.Version, nanos(c.UpdatedAt),
		c.TenantID, c.Key, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("cadence/sqlite: update calendar: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
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

	rows, err := s.db.QueryContext(ctx, q, f.args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/sqlite: list calendars: %w", err)
	}
	defer rows.Close()

	var out []*calendar.Calendar
	for rows.Next() {
		c, err := scanCalendar(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/sqlite: scan calendar: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCalendar removes a calendar.
func (s *Store) DeleteCalendar(ctx context.Context, tenant, key string) error {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM cadence_calendars WHERE tenant_id = ? AND key = ?`,
		tenant, key,
	)
	if err != nil {
		return fmt.Errorf("cadence/sqlite: delete calendar: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cadence.NotFound("calendar", key)
	}
	return nil
}
