package trigger

import (
	"context"
	"time"

	"github.com/xraph/cadence/id"
)

// ListOpts controls pagination and filtering for schedule list queries.
type ListOpts struct {
	// Tenant filters by tenant. Empty means all tenants.
	Tenant string
	// JobKey filters by job key.
	JobKey string
	// Limit is the maximum number of schedules to return. Zero means no limit.
	Limit int
	// Offset is the number of schedules to skip.
	Offset int
}

// Store defines the persistence contract for schedules.
type Store interface {
	// CreateSchedule persists a new schedule. A name already used by the
	// tenant returns cadence.ErrDuplicateKey.
	CreateSchedule(ctx context.Context, s *Schedule) error

	// GetSchedule retrieves a schedule by ID.
	GetSchedule(ctx context.Context, scheduleID id.ID) (*Schedule, error)

	// ListSchedules returns schedules matching opts ordered by name.
	ListSchedules(ctx context.Context, opts ListOpts) ([]*Schedule, error)

	// ListDueSchedules returns enabled schedules with NextRunAt <= now.
	ListDueSchedules(ctx context.Context, now time.Time, limit int) ([]*Schedule, error)

	// UpdateSchedule replaces a schedule if its stored version still
	// equals expectedVersion, otherwise cadence.ErrVersionConflict.
	UpdateSchedule(ctx context.Context, s *Schedule, expectedVersion int64) error

	// AdvanceSchedule records a firing: LastRunAt and NextRunAt.
	AdvanceSchedule(ctx context.Context, scheduleID id.ID, lastRunAt, nextRunAt time.Time) error

	// AcquireScheduleLock takes a per-schedule lock for nodeID until ttl
	// passes. Returns true if the lock was acquired.
	AcquireScheduleLock(ctx context.Context, scheduleID id.ID, nodeID string, ttl time.Duration) (bool, error)

	// ReleaseScheduleLock releases a lock held by nodeID.
	ReleaseScheduleLock(ctx context.Context, scheduleID id.ID, nodeID string) error

	// DeleteSchedule removes a schedule.
	DeleteSchedule(ctx context.Context, scheduleID id.ID) error
}
