package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/run"
)

const runColumns = `id, tenant_id, job_id, job_key, job_version, schedule_id, queue, priority,
	policy, dedupe_key, status, attempt, scheduled_at, not_before, started_at, finished_at,
	error, latency_ms, duration_ms, worker_id, payload, previous_id, root_id,
	version, created_at, updated_at`

func scanRun(row scanner) (*run.Run, error) {
	var r run.Run
	err := row.Scan(
		&r.ID, &r.TenantID, &r.JobID, &r.JobKey, &r.JobVersion, &r.ScheduleID, &r.Queue, &r.Priority,
		&r.Policy, &r.DedupeKey, &r.Status, &r.Attempt, &r.ScheduledAt, &r.NotBefore, &r.StartedAt, &r.FinishedAt,
		&r.Error, &r.Metrics.LatencyMs, &r.Metrics.DurationMs, &r.WorkerID, &r.Payload, &r.PreviousID, &r.RootID,
		&r.Version, &r.CreatedAt, &r.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func insertRun(ctx context.Context, q querier, r *run.Run) error {
	policy, err := json.Marshal(r.Policy)
	if err != nil {
		return fmt.Errorf("cadence/postgres: marshal policy: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO cadence_runs (`+runColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13,
			$14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24, $25, $26)`,
		r.ID, r.TenantID, r.JobID, r.JobKey, r.JobVersion, r.ScheduleID, r.Queue, r.Priority,
		policy, r.DedupeKey, string(r.Status), r.Attempt, r.ScheduledAt, r.NotBefore, r.StartedAt, r.FinishedAt,
		r.Error, r.Metrics.LatencyMs, r.Metrics.DurationMs, r.WorkerID, r.Payload, r.PreviousID, r.RootID,
		r.Version, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateKey
		}
		return fmt.Errorf("cadence/postgres: insert run: %w", err)
	}
	return nil
}

// CreateRun inserts a pending run unless its dedupe key is held. Inserts
// sharing a job and dedupe key serialize on an advisory lock.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) (*run.Run, error) {
	var holder *run.Run
	err := s.inTx(ctx, func(tx pgx.Tx) error {
		if r.DedupeKey != "" {
			if _, err := tx.Exec(ctx,
				`SELECT pg_advisory_xact_lock(hashtext($1))`,
				r.JobID.String()+"|"+r.DedupeKey,
			); err != nil {
				return fmt.Errorf("cadence/postgres: dedupe lock: %w", err)
			}
			var err error
			holder, err = dedupeHolder(ctx, tx, r)
			if err != nil || holder != nil {
				return err
			}
		}
		return insertRun(ctx, tx, r)
	})
	if err != nil {
		return nil, err
	}
	if holder != nil {
		return holder, &cadence.ConflictError{
			Kind:       cadence.ConflictDedupe,
			ExistingID: holder.ID,
			Detail:     "dedupe key " + r.DedupeKey + " is held",
		}
	}
	return nil, nil
}

func dedupeHolder(ctx context.Context, tx pgx.Tx, r *run.Run) (*run.Run, error) {
	var f filter
	f.add("job_id = ?", r.JobID)
	f.add("dedupe_key = ?", r.DedupeKey)
	f.conds = append(f.conds, "status IN ('pending', 'running')")
	if window := r.Policy.DedupeWindow(); window > 0 {
		f.add("created_at > ?", r.CreatedAt.Add(-window))
	}
	holder, err := scanRun(tx.QueryRow(ctx,
		`SELECT `+runColumns+` FROM cadence_runs`+f.where()+` ORDER BY created_at LIMIT 1`,
		f.args...,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cadence/postgres: dedupe lookup: %w", err)
	}
	return holder, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.ID) (*run.Run, error) {
	r, err := scanRun(s.pool.QueryRow(ctx,
		`SELECT `+runColumns+` FROM cadence_runs WHERE id = $1`, runID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.NotFound("run", runID.String())
		}
		return nil, fmt.Errorf("cadence/postgres: get run: %w", err)
	}
	return r, nil
}

func (s *Store) queryRuns(ctx context.Context, q string, args ...any) ([]*run.Run, error) {
	rows, err := s.pool.Query(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/postgres: query runs: %w", err)
	}
	defer rows.Close()

	var out []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/postgres: scan run: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// ListRuns returns runs matching opts, newest first.
func (s *Store) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	var f filter
	if opts.Tenant != "" {
		f.add("tenant_id = ?", opts.Tenant)
	}
	if !opts.JobID.IsNil() {
		f.add("job_id = ?", opts.JobID)
	}
	if opts.Queue != "" {
		f.add("queue = ?", opts.Queue)
	}
	if opts.Status != "" {
		f.add("status = ?", string(opts.Status))
	}
	if !opts.WorkerID.IsNil() {
		f.add("worker_id = ?", opts.WorkerID)
	}
	if !opts.RootID.IsNil() {
		f.add("root_id = ?", opts.RootID)
	}
	if opts.DedupeKey != "" {
		f.add("dedupe_key = ?", opts.DedupeKey)
	}
	q := `SELECT ` + runColumns + ` FROM cadence_runs` + f.where() + ` ORDER BY created_at DESC, id DESC`
	q += f.page(opts.Limit, opts.Offset)
	return s.queryRuns(ctx, q, f.args...)
}

// ListDispatchable returns eligible pending runs of a queue in dispatch
// order.
func (s *Store) ListDispatchable(ctx context.Context, df run.DispatchFilter, now time.Time, limit int) ([]*run.Run, error) {
	var f filter
	f.add("queue = ?", df.Queue)
	f.conds = append(f.conds, "status = 'pending'")
	f.add("not_before <= ?", now)
	if df.Tenant != "" {
		f.add("tenant_id = ?", df.Tenant)
	}
	if len(df.JobKeys) > 0 {
		f.add("job_key = ANY(?)", df.JobKeys)
	}
	q := `SELECT ` + runColumns + ` FROM cadence_runs` + f.where() +
		` ORDER BY priority DESC, scheduled_at, created_at, id`
	q += f.page(limit, 0)
	return s.queryRuns(ctx, q, f.args...)
}

// CountRunning returns the number of running runs of a job.
func (s *Store) CountRunning(ctx context.Context, jobID id.ID) (int, error) {
	var n int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM cadence_runs WHERE job_id = $1 AND status = 'running'`, jobID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cadence/postgres: count running: %w", err)
	}
	return n, nil
}

// Apply performs a Change in one transaction. The run row is locked and
// its version compared; a claim additionally locks the worker row and,
// under a concurrency limit, the job row.
func (s *Store) Apply(ctx context.Context, ch *run.Change) error {
	return s.inTx(ctx, func(tx pgx.Tx) error {
		var version int64
		err := tx.QueryRow(ctx,
			`SELECT version FROM cadence_runs WHERE id = $1 FOR UPDATE`, ch.Run.ID,
		).Scan(&version)
		if err != nil {
			if isNoRows(err) {
				return cadence.NotFound("run", ch.Run.ID.String())
			}
			return fmt.Errorf("cadence/postgres: lock run: %w", err)
		}
		if version != ch.ExpectedVersion {
			return cadence.ErrVersionConflict
		}

		if ch.Claim != nil {
			if err := claimSlot(ctx, tx, ch); err != nil {
				return err
			}
		}

		policy, err := json.Marshal(ch.Run.Policy)
		if err != nil {
			return fmt.Errorf("cadence/postgres: marshal policy: %w", err)
		}
		r := ch.Run
		_, err = tx.Exec(ctx, `
			UPDATE cadence_runs SET
				queue = $2, priority = $3, policy = $4, status = $5, attempt = $6,
				scheduled_at = $7, not_before = $8, started_at = $9, finished_at = $10,
				error = $11, latency_ms = $12, duration_ms = $13, worker_id = $14,
				version = $15, updated_at = $16
			WHERE id = $1`,
			r.ID, r.Queue, r.Priority, policy, string(r.Status), r.Attempt,
			r.ScheduledAt, r.NotBefore, r.StartedAt, r.FinishedAt,
			r.Error, r.Metrics.LatencyMs, r.Metrics.DurationMs, r.WorkerID,
			r.Version, r.UpdatedAt,
		)
		if err != nil {
			return fmt.Errorf("cadence/postgres: update run: %w", err)
		}

		if ch.Claim != nil {
			if _, err := tx.Exec(ctx,
				`UPDATE cadence_workers SET current_jobs = current_jobs + 1 WHERE id = $1`,
				ch.Claim.WorkerID,
			); err != nil {
				return fmt.Errorf("cadence/postgres: take slot: %w", err)
			}
		}
		if !ch.Release.IsNil() {
			if _, err := tx.Exec(ctx,
				`UPDATE cadence_workers SET current_jobs = current_jobs - 1 WHERE id = $1 AND current_jobs > 0`,
				ch.Release,
			); err != nil {
				return fmt.Errorf("cadence/postgres: release slot: %w", err)
			}
		}
		if ch.Successor != nil {
			if err := insertRun(ctx, tx, ch.Successor); err != nil {
				return err
			}
		}
		for _, evt := range ch.Events {
			if err := insertEvent(ctx, tx, evt); err != nil {
				return err
			}
		}
		return nil
	})
}

func claimSlot(ctx context.Context, tx pgx.Tx, ch *run.Change) error {
	var (
		status      string
		currentJobs int
		maxParallel int
	)
	err := tx.QueryRow(ctx,
		`SELECT status, current_jobs, max_parallel FROM cadence_workers WHERE id = $1 FOR UPDATE`,
		ch.Claim.WorkerID,
	).Scan(&status, &currentJobs, &maxParallel)
	if err != nil {
		if isNoRows(err) {
			return cadence.ErrWorkerUnavailable
		}
		return fmt.Errorf("cadence/postgres: lock worker: %w", err)
	}
	if cluster.Status(status) != cluster.StatusOnline {
		return cadence.ErrWorkerUnavailable
	}
	if currentJobs >= maxParallel {
		return cadence.ErrWorkerAtCapacity
	}

	if lim := ch.Claim.ConcurrencyLimit; lim > 0 {
		if _, err := tx.Exec(ctx,
			`SELECT 1 FROM cadence_jobs WHERE id = $1 FOR UPDATE`, ch.Run.JobID,
		); err != nil {
			return fmt.Errorf("cadence/postgres: lock job: %w", err)
		}
		var running int
		err := tx.QueryRow(ctx,
			`SELECT COUNT(*) FROM cadence_runs WHERE job_id = $1 AND status = 'running' AND id <> $2`,
			ch.Run.JobID, ch.Run.ID,
		).Scan(&running)
		if err != nil {
			return fmt.Errorf("cadence/postgres: count running: %w", err)
		}
		if running >= lim {
			return cadence.ErrConcurrencyLimit
		}
	}
	return nil
}
