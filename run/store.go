package run

import (
	"context"
	"time"

	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
)

// DispatchFilter narrows ListDispatchable to the runs one worker may take.
type DispatchFilter struct {
	Queue  string
	Tenant string
	// JobKeys limits the result to these jobs. Empty means any job.
	JobKeys []string
}

// ListOpts controls pagination and filtering for run list queries.
type ListOpts struct {
	// Tenant filters by tenant. Empty means all tenants.
	Tenant string
	// JobID filters by job.
	JobID id.ID
	// Queue filters by queue name.
	Queue string
	// Status filters by status.
	Status Status
	// WorkerID filters by claiming worker.
	WorkerID id.ID
	// RootID filters by retry chain.
	RootID id.ID
	// DedupeKey filters by dedupe key.
	DedupeKey string
	// Limit is the maximum number of runs to return. Zero means no limit.
	Limit int
	// Offset is the number of runs to skip.
	Offset int
}

// WorkerClaim asks Apply to reserve a slot on a worker for the run.
type WorkerClaim struct {
	WorkerID id.ID
	// ConcurrencyLimit caps running runs of the run's job. Zero means none.
	ConcurrencyLimit int
}

// Change is a single atomic ledger write. Apply either performs all of it
// or none of it.
type Change struct {
	// Run is the next state of an existing run.
	Run *Run
	// ExpectedVersion must equal the stored version of Run.
	ExpectedVersion int64
	// Claim reserves a worker slot. It fails with ErrWorkerUnavailable,
	// ErrWorkerAtCapacity or ErrConcurrencyLimit.
	Claim *WorkerClaim
	// Release frees one slot on this worker.
	Release id.ID
	// Successor is a new run inserted alongside.
	Successor *Run
	// Events are appended to the outbox.
	Events []*event.Event
}

// Store defines the persistence contract for the run ledger.
type Store interface {
	// CreateRun inserts a pending run. If r carries a dedupe key held by
	// an active run of the same job created inside the job's dedupe
	// window, nothing is inserted and the holder is returned together
	// with a cadence.ConflictError of kind dedupe.
	CreateRun(ctx context.Context, r *Run) (*Run, error)

	// GetRun retrieves a run by ID.
	GetRun(ctx context.Context, runID id.ID) (*Run, error)

	// ListRuns returns runs matching opts, newest first.
	ListRuns(ctx context.Context, opts ListOpts) ([]*Run, error)

	// ListDispatchable returns pending runs matching f with NotBefore <= now
	// in dispatch order: priority descending, then ScheduledAt, CreatedAt
	// and ID ascending.
	ListDispatchable(ctx context.Context, f DispatchFilter, now time.Time, limit int) ([]*Run, error)

	// CountRunning returns the number of running runs of a job.
	CountRunning(ctx context.Context, jobID id.ID) (int, error)

	// Apply performs a Change atomically. A stale ExpectedVersion returns
	// cadence.ErrVersionConflict.
	Apply(ctx context.Context, ch *Change) error
}
