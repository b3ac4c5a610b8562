package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

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
		jsonCol{&r.Policy}, &r.DedupeKey, &r.Status, &r.Attempt,
		timeCol{&r.ScheduledAt}, timeCol{&r.NotBefore}, nullTimeCol{&r.StartedAt}, nullTimeCol{&r.FinishedAt},
		&r.Error, &r.Metrics.LatencyMs, &r.Metrics.DurationMs, &r.WorkerID, &r.Payload, &r.PreviousID, &r.RootID,
		&r.Version, timeCol{&r.CreatedAt}, timeCol{&r.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	return &r, nil
}

func insertRun(ctx context.Context, q querier, r *run.Run) error {
	policy, err := jsonText("policy", r.Policy)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO cadence_runs (`+runColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?,
			?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.TenantID, r.JobID, r.JobKey, r.JobVersion, r.ScheduleID, r.Queue, r.Priority,
		policy, r.DedupeKey, string(r.Status), r.Attempt,
		nanos(r.ScheduledAt), nanos(r.NotBefore), nullNanos(r.StartedAt), nullNanos(r.FinishedAt),
		r.Error, r.Metrics.LatencyMs, r.Metrics.DurationMs, r.WorkerID, r.Payload, r.PreviousID, r.RootID,
		r.Version, nanos(r.CreatedAt), nanos(r.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateKey
		}
		return fmt.Errorf("cadence/sqlite: insert run: %w", err)
	}
	return nil
}

// CreateRun inserts a pending run unless its dedupe key is held. The
// lookup and insert share one transaction on the single connection.
func (s *Store) CreateRun(ctx context.Context, r *run.Run) (*run.Run, error) {
	var holder *run.Run
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if r.DedupeKey != "" {
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

func dedupeHolder(ctx context.Context, tx *sql.Tx, r *run.Run) (*run.Run, error) {
	var f filter
	f.add("job_id = ?", r.JobID)
	f.add("dedupe_key = ?", r.DedupeKey)
	f.conds = append(f.conds, "status IN ('pending', 'running')")
	if window := r.Policy.DedupeWindow(); window > 0 {
		f.add("created_at > ?", nanos(r.CreatedAt.Add(-window)))
	}
	holder, err := scanRun(tx.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM cadence_runs`+f.where()+` ORDER BY created_at LIMIT 1`,
		f.args...,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("cadence/sqlite: dedupe lookup: %w", err)
	}
	return holder, nil
}

// GetRun retrieves a run by ID.
func (s *Store) GetRun(ctx context.Context, runID id.ID) (*run.Run, error) {
	r, err := scanRun(s.db.QueryRowContext(ctx,
		`SELECT `+runColumns+` FROM cadence_runs WHERE id = ?`, runID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.NotFound("run", runID.String())
		}
		return nil, fmt.Errorf("cadence/sqlite: get run: %w", err)
	}
	return r, nil
}

func (s *Store) queryRuns(ctx context.Context, q string, args ...any) ([]*run.Run, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/sqlite: query runs: %w", err)
	}
	defer rows.Close()

	var out []*run.Run
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/sqlite: scan run: %w", err)
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
	f.add("not_before <= ?", nanos(now))
	if df.Tenant != "" {
		f.add("tenant_id = ?", df.Tenant)
	}
	if len(df.JobKeys) > 0 {
		f.in("job_key", df.JobKeys)
	}
	q := `SELECT ` + runColumns + ` FROM cadence_runs` + f.where() +
		` ORDER BY priority DESC, scheduled_at, created_at, id`
	q += f.page(limit, 0)
	return s.queryRuns(ctx, q, f.args...)
}

// CountRunning returns the number of running runs of a job.
func (s *Store) CountRunning(ctx context.Context, jobID id.ID) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM cadence_runs WHERE job_id = ? AND status = 'running'`, jobID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("cadence/sqlite: count running: %w", err)
	}
	return n, nil
}

// Apply performs a Change in one transaction.
func (s *Store) Apply(ctx context.Context, ch *run.Change) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var version int64
		err := tx.QueryRowContext(ctx,
			`SELECT version FROM cadence_runs WHERE id = ?`, ch.Run.ID,
		).Scan(&version)
		if err != nil {
			if isNoRows(err) {
				return cadence.NotFound("run", ch.Run.ID.String())
			}
			return fmt.Errorf("cadence/sqlite: read run version: %w", err)
		}
		if version != ch.ExpectedVersion {
			return cadence.ErrVersionConflict
		}

		if ch.Claim != nil {
			if err := claimSlot(ctx, tx, ch); err != nil {
				return err
			}
		}

		policy, err := jsonText("policy", ch.Run.Policy)
		if err != nil {
			return err
		}
		r := ch.Run
		_, err = tx.ExecContext(ctx, `
			UPDATE cadence_runs SET
				queue = ?, priority = ?, policy = ?, status = ?, attempt = ?,
				scheduled_at = ?, not_before = ?, started_at = ?, finished_at = ?,
				error = ?, latency_ms = ?, duration_ms = ?, worker_id = ?,
				version = ?, updated_at = ?
			WHERE id = ?`,
			r.Queue, r.Priority, policy, string(r.Status), r.Attempt,
			nanos(r.ScheduledAt), nanos(r.NotBefore), nullNanos(r.StartedAt), nullNanos(r.FinishedAt),
			r.Error, r.Metrics.LatencyMs, r.Metrics.DurationMs, r.WorkerID,
			r.Version, nanos(r.UpdatedAt), r.ID,
		)
		if err != nil {
			return fmt.Errorf("cadence/sqlite: update run: %w", err)
		}

		if ch.Claim != nil {
			if _, err := tx.ExecContext(ctx,
				`UPDATE cadence_workers SET current_jobs = current_jobs + 1 WHERE id = ?`,
				ch.Claim.WorkerID,
			); err != nil {
				return fmt.Errorf("cadence/sqlite: take slot: %w", err)
			}
		}
		if !ch.Release.IsNil() {
			if _, err := tx.ExecContext(ctx,
				`UPDATE cadence_workers SET current_jobs = current_jobs - 1 WHERE id = ? AND current_jobs > 0`,
				ch.Release,
			); err != nil {
				return fmt.Errorf("cadence/sqlite: release slot: %w", err)
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

func claimSlot(ctx context.Context, tx *sql.Tx, ch *run.Change) error {
	var (
		status      string
		currentJobs int
		maxParallel int
	)
	err := tx.QueryRowContext(ctx,
		`SELECT status, current_jobs, max_parallel FROM cadence_workers WHERE id = ?`,
		ch.Claim.WorkerID,
	).Scan(&status, &currentJobs, &maxParallel)
	if err != nil {
		if isNoRows(err) {
			return cadence.ErrWorkerUnavailable
		}
		return fmt.Errorf("cadence/sqlite: read worker: %w", err)
	}
	if cluster.Status(status) != cluster.StatusOnline {
		return cadence.ErrWorkerUnavailable
	}
	if currentJobs >= maxParallel {
		return cadence.ErrWorkerAtCapacity
	}

	if lim := ch.Claim.ConcurrencyLimit; lim > 0 {
		var running int
		err := tx.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM cadence_runs WHERE job_id = ? AND status = 'running' AND id <> ?`,
			ch.Run.JobID, ch.Run.ID,
		).Scan(&running)
		if err != nil {
			return fmt.Errorf("cadence/sqlite: count running: %w", err)
		}
		if running >= lim {
			return cadence.ErrConcurrencyLimit
		}
	}
	return nil
}
