package calendar

import "context"

// ListOpts controls pagination for calendar list queries.
type ListOpts struct {
	// Limit is the maximum number of calendars to return. Zero means no limit.
	Limit int
	// Offset is the number of calendars to skip.
	Offset int
}

// Store defines the persistence contract for calendars. Keys are unique
// per tenant.
type Store interface {
	// CreateCalendar persists a new calendar. A taken key returns
	// cadence.ErrDuplicateKey.
	CreateCalendar(ctx context.Context, c *Calendar) error

	// GetCalendar retrieves a calendar by tenant and key.
	GetCalendar(ctx context.Context, tenant, key string) (*Calendar, error)

	// UpdateCalendar replaces a calendar if its stored version still equals
	// expectedVersion, otherwise cadence.ErrVersionConflict.
	UpdateCalendar(ctx context.Context, c *Calendar, expectedVersion int64) error

	// ListCalendars returns a tenant's calendars ordered by key.
	ListCalendars(ctx context.Context, tenant string, opts ListOpts) ([]*Calendar, error)

	// DeleteCalendar removes a calendar.
	DeleteCalendar(ctx context.Context, tenant, key string) error
}
