package job

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/patrickmn/go-cache"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/scope"
)

const jobKeyCacheKey = "job:%s:%s"

// Registry manages job definitions. Lookups by key are cached and the
// cache entry is dropped on every version bump.
type Registry struct {
	store  Store
	cache  *cache.Cache
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a job registry over store.
func NewRegistry(store Store, ttl time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = time.Minute
	}
	return &Registry{
		store:  store,
		cache:  cache.New(ttl, 2*ttl),
		logger: logger,
		now:    time.Now,
	}
}

// Create validates j and persists it at version 1 for the context tenant.
func (r *Registry) Create(ctx context.Context, j *Job) (*Job, error) {
	if err := j.Validate(); err != nil {
		return nil, err
	}
	j.Entity = cadence.NewEntity(scope.Tenant(ctx))
	j.ID = id.NewJobID()
	if err := r.store.CreateJob(ctx, j); err != nil {
		return nil, fmt.Errorf("create job %q: %w", j.Key, err)
	}
	r.logger.Info("job created",
		slog.String("job_id", j.ID.String()),
		slog.String("job_key", j.Key),
		slog.String("queue", j.Queue),
	)
	return j, nil
}

// Update applies patch and stores the result as a new version. A non-zero
// expectedVersion must match the stored version. Without one, a lost race
// against a concurrent writer is retried on the fresh record.
func (r *Registry) Update(ctx context.Context, jobID id.ID, patch Patch, expectedVersion int64) (*Job, error) {
	for attempt := 0; attempt < 5; attempt++ {
		cur, err := r.Get(ctx, jobID)
		if err != nil {
			return nil, err
		}
		if expectedVersion != 0 && cur.Version != expectedVersion {
			return nil, cadence.ErrVersionConflict
		}
		next := patch.Apply(*cur)
		if err := next.Validate(); err != nil {
			return nil, err
		}
		prev := cur.Version
		next.Touch(r.now())
		err = r.store.UpdateJob(ctx, &next, prev)
		if errors.Is(err, cadence.ErrVersionConflict) && expectedVersion == 0 {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update job %s: %w", jobID, err)
		}
		r.invalidate(&next)
		r.logger.Info("job updated",
			slog.String("job_id", next.ID.String()),
			slog.Int64("version", next.Version),
		)
		return &next, nil
	}
	return nil, cadence.ErrVersionConflict
}

// Get returns a job of the context tenant by ID.
func (r *Registry) Get(ctx context.Context, jobID id.ID) (*Job, error) {
	j, err := r.store.GetJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if j.TenantID != scope.Tenant(ctx) {
		return nil, cadence.NotFound("job", jobID.String())
	}
	return j, nil
}

// GetByKey returns a job of the context tenant by key, from cache when
// possible. Callers must not modify the result.
func (r *Registry) GetByKey(ctx context.Context, key string) (*Job, error) {
	tenant := scope.Tenant(ctx)
	ck := fmt.Sprintf(jobKeyCacheKey, tenant, key)
	if cached, found := r.cache.Get(ck); found {
		return cached.(*Job), nil
	}
	j, err := r.store.GetJobByKey(ctx, tenant, key)
	if err != nil {
		return nil, err
	}
	r.cache.Set(ck, j, cache.DefaultExpiration)
	return j, nil
}

// List returns the context tenant's jobs.
func (r *Registry) List(ctx context.Context, opts ListOpts) ([]*Job, error) {
	return r.store.ListJobs(ctx, scope.Tenant(ctx), opts)
}

// Disable stops new trigger activity for a job. In-flight runs continue.
func (r *Registry) Disable(ctx context.Context, jobID id.ID) (*Job, error) {
	off := false
	return r.Update(ctx, jobID, Patch{Enabled: &off}, 0)
}

// Enable re-enables a disabled job.
func (r *Registry) Enable(ctx context.Context, jobID id.ID) (*Job, error) {
	on := true
	return r.Update(ctx, jobID, Patch{Enabled: &on}, 0)
}

func (r *Registry) invalidate(j *Job) {
	r.cache.Delete(fmt.Sprintf(jobKeyCacheKey, j.TenantID, j.Key))
}
