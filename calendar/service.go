package calendar

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/scope"
)

const calendarCacheKey = "calendar:%s:%s"

// Service manages calendars and answers business-day questions by key.
type Service struct {
	store  Store
	cache  *cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewService creates a calendar service. ttl bounds how long a cached
// calendar may serve reads before it is reloaded from the store.
func NewService(store Store, ttl time.Duration, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &Service{
		store:  store,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
		now:    time.Now,
	}
}

// Create validates and persists a new calendar for the context tenant.
func (s *Service) Create(ctx context.Context, c *Calendar) (*Calendar, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	c.Entity = cadence.NewEntity(scope.Tenant(ctx))
	c.ID = id.NewCalendarID()
	if err := s.store.CreateCalendar(ctx, c); err != nil {
		return nil, fmt.Errorf("create calendar %q: %w", c.Key, err)
	}
	s.logger.Info("calendar created",
		slog.String("calendar", c.Key),
		slog.String("tenant", c.TenantID),
	)
	return c, nil
}

// Update replaces the mask, holidays, name and location of a calendar,
// bumping its version. expectedVersion of zero skips the version check.
func (s *Service) Update(ctx context.Context, key string, next Calendar, expectedVersion int64) (*Calendar, error) {
	tenant := scope.Tenant(ctx)
	cur, err := s.store.GetCalendar(ctx, tenant, key)
	if err != nil {
		return nil, err
	}
	if expectedVersion != 0 && cur.Version != expectedVersion {
		return nil, cadence.ErrVersionConflict
	}
	updated := *cur
	updated.Name = next.Name
	updated.Location = next.Location
	updated.Weekdays = next.Weekdays
	updated.Holidays = append([]string(nil), next.Holidays...)
	if err := updated.Validate(); err != nil {
		return nil, err
	}
	prev := cur.Version
	updated.Touch(s.now())
	if err := s.store.UpdateCalendar(ctx, &updated, prev); err != nil {
		return nil, fmt.Errorf("update calendar %q: %w", key, err)
	}
	s.cache.Delete(fmt.Sprintf(calendarCacheKey, tenant, key))
	s.logger.Info("calendar updated",
		slog.String("calendar", key),
		slog.Int64("version", updated.Version),
	)
	return &updated, nil
}

// Get returns a validated calendar, serving from cache when possible.
func (s *Service) Get(ctx context.Context, key string) (*Calendar, error) {
	tenant := scope.Tenant(ctx)
	ck := fmt.Sprintf(calendarCacheKey, tenant, key)
	if cached, found := s.cache.Get(ck); found {
		return cached.(*Calendar), nil
	}
	c, err := s.store.GetCalendar(ctx, tenant, key)
	if err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("stored calendar %q: %w", key, err)
	}
	s.cache.Set(ck, c, cache.DefaultExpiration)
	return c, nil
}

// List returns the context tenant's calendars.
func (s *Service) List(ctx context.Context, opts ListOpts) ([]*Calendar, error) {
	return s.store.ListCalendars(ctx, scope.Tenant(ctx), opts)
}

// Delete removes a calendar and evicts it from the cache.
func (s *Service) Delete(ctx context.Context, key string) error {
	tenant := scope.Tenant(ctx)
	if err := s.store.DeleteCalendar(ctx, tenant, key); err != nil {
		return err
	}
	s.cache.Delete(fmt.Sprintf(calendarCacheKey, tenant, key))
	return nil
}

// IsBusinessDay resolves key and evaluates instant against it.
func (s *Service) IsBusinessDay(ctx context.Context, key string, instant time.Time) (bool, error) {
	c, err := s.Get(ctx, key)
	if err != nil {
		return false, err
	}
	return IsBusinessDay(c, instant), nil
}

// NextBusinessInstant resolves key and returns the next schedulable instant.
func (s *Service) NextBusinessInstant(ctx context.Context, key string, instant time.Time) (time.Time, error) {
	c, err := s.Get(ctx, key)
	if err != nil {
		return time.Time{}, err
	}
	return NextBusinessInstant(c, instant)
}
