package job

import (
	"context"

	"github.com/xraph/cadence/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// Key filters by job key. Empty means all keys.
	Key string
	// Enabled filters by enabled flag. Nil means both.
	Enabled *bool
}

// Store defines the persistence contract for job definitions. Jobs are
// never deleted; disabling is the only way to retire one.
type Store interface {
	// CreateJob persists a new job. A key already used by the tenant
	// returns cadence.ErrJobAlreadyExists.
	CreateJob(ctx context.Context, j *Job) error

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.ID) (*Job, error)

	// GetJobByKey retrieves a job by tenant and key.
	GetJobByKey(ctx context.Context, tenant, key string) (*Job, error)

	// UpdateJob replaces a job if its stored version still equals
	// expectedVersion, otherwise cadence.ErrVersionConflict.
	UpdateJob(ctx context.Context, j *Job, expectedVersion int64) error

	// ListJobs returns a tenant's jobs ordered by key.
	ListJobs(ctx context.Context, tenant string, opts ListOpts) ([]*Job, error)
}
