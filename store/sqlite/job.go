package sqlite

import (
	"context"
	"fmt"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

const jobColumns = `id, tenant_id, key, description, enabled, policy, version, created_at, updated_at`

func scanJob(row scanner) (*job.Job, error) {
	var j job.Job
	err := row.Scan(&j.ID, &j.TenantID, &j.Key, &j.Description, &j.Enabled,
		jsonCol{&j.Policy}, &j.Version, timeCol{&j.CreatedAt}, timeCol{&j.UpdatedAt})
	if err != nil {
		return nil, err
	}
	return &j, nil
}

// CreateJob persists a new job.
func (s *Store) CreateJob(ctx context.Context, j *job.Job) error {
	policy, err := jsonText("policy", j.Policy)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cadence_jobs (
			id, tenant_id, key, description, enabled, queue, policy,
			version, created_at, updated_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.TenantID, j.Key, j.Description, j.Enabled, j.Queue, policy,
		j.Version, nanos(j.CreatedAt), nanos(j.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrJobAlreadyExists
		}
		return fmt.Errorf("cadence/sqlite: create job: %w", err)
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.ID) (*job.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM cadence_jobs WHERE id = ?`, jobID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.NotFound("job", jobID.String())
		}
		return nil, fmt.Errorf("cadence/sqlite: get job: %w", err)
	}
	return j, nil
}

// GetJobByKey retrieves a job by tenant and key.
func (s *Store) GetJobByKey(ctx context.Context, tenant, key string) (*job.Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx,
		`SELECT `+jobColumns+` FROM cadence_jobs WHERE tenant_id = ? AND key = ?`,
		tenant, key,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.NotFound("job", key)
		}
		return nil, fmt.Errorf("cadence/sqlite: get job by key: %w", err)
	}
	return j, nil
}

// UpdateJob replaces a job under a version check.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job, expectedVersion int64) error {
	policy, err := jsonText("policy", j.Policy)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE cadence_jobs SET
			description = ?, enabled = ?, queue = ?, policy = ?, version = ?, updated_at = ?
		WHERE id = ? AND version = ?`,
		j.Description, j.Enabled, j.Queue, policy, j.Version, nanos(j.UpdatedAt),
		j.ID, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("cadence/sqlite: update job: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, err := s.GetJob(ctx, j.ID); err != nil {
			return err
		}
		return cadence.ErrVersionConflict
	}
	return nil
}

// ListJobs returns a tenant's jobs ordered by key.
func (s *Store) ListJobs(ctx context.Context, tenant string, opts job.ListOpts) ([]*job.Job, error) {
	var f filter
	f.add("tenant_id = ?", tenant)
	if opts.Queue != "" {
		f.add("queue = ?", opts.Queue)
	}
	if opts.Key != "" {
		f.add("key = ?", opts.Key)
	}
	if opts.Enabled != nil {
		f.add("enabled = ?", *opts.Enabled)
	}
	q := `SELECT ` + jobColumns + ` FROM cadence_jobs` + f.where() + ` ORDER BY key`
	q += f.page(opts.Limit, opts.Offset)

	rows, err := s.db.QueryContext(ctx, q, f.args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/sqlite: list jobs: %w", err)
	}
	defer rows.Close()

	var out []*job.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/sqlite: scan job: %w", err)
		}
		out = append(out, j)
	}
	return out, rows.Err()
}
