package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
)

const workerColumns = `id, tenant_id, name, hostname, capabilities, status, max_parallel,
	current_jobs, heartbeat_at, metadata, version, created_at, updated_at`

func scanWorker(row scanner) (*cluster.Worker, error) {
	var w cluster.Worker
	err := row.Scan(
		&w.ID, &w.TenantID, &w.Name, &w.Hostname, jsonCol{&w.Capabilities}, &w.Status, &w.MaxParallel,
		&w.CurrentJobs, timeCol{&w.HeartbeatAt}, jsonCol{&w.Metadata}, &w.Version,
		timeCol{&w.CreatedAt}, timeCol{&w.UpdatedAt},
	)
	if err != nil {
		return nil, err
	}
	return &w, nil
}

// RegisterWorker adds a worker.
func (s *Store) RegisterWorker(ctx context.Context, w *cluster.Worker) error {
	caps, err := jsonText("capabilities", w.Capabilities)
	if err != nil {
		return err
	}
	var meta sql.NullString
	if len(w.Metadata) > 0 {
		if meta.String, err = jsonText("metadata", w.Metadata); err != nil {
			return err
		}
		meta.Valid = true
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cadence_workers (`+workerColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.TenantID, w.Name, w.Hostname, caps, string(w.Status), w.MaxParallel,
		w.CurrentJobs, nanos(w.HeartbeatAt), meta, w.Version, nanos(w.CreatedAt), nanos(w.UpdatedAt),
	)
	if err != nil {
		if isDuplicateKey(err) {
			return cadence.ErrDuplicateKey
		}
		return fmt.Errorf("cadence/sqlite: register worker: %w", err)
	}
	return nil
}

// GetWorker retrieves a worker by ID.
func (s *Store) GetWorker(ctx context.Context, workerID id.ID) (*cluster.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx,
		`SELECT `+workerColumns+` FROM cadence_workers WHERE id = ?`, workerID,
	))
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.NotFound("worker", workerID.String())
		}
		return nil, fmt.Errorf("cadence/sqlite: get worker: %w", err)
	}
	return w, nil
}

// HeartbeatWorker records a heartbeat and optional status change. An
// offline worker heartbeating without a status comes back online.
func (s *Store) HeartbeatWorker(ctx context.Context, workerID id.ID, status cluster.Status, at time.Time) (*cluster.Worker, error) {
	w, err := scanWorker(s.db.QueryRowContext(ctx, `
		UPDATE cadence_workers SET
			heartbeat_at = ?2,
			status = CASE
				WHEN ?3 <> '' THEN ?3
				WHEN status = 'offline' THEN 'online'
				ELSE status
			END,
			version = version + 1,
			updated_at = ?2
		WHERE id = ?1
		RETURNING `+workerColumns,
		workerID, nanos(at), string(status),
	))
	if err != nil {
		if isNoRows(err) {
			return nil, cadence.NotFound("worker", workerID.String())
		}
		return nil, fmt.Errorf("cadence/sqlite: heartbeat worker: %w", err)
	}
	return w, nil
}

func (s *Store) queryWorkers(ctx context.Context, q string, args ...any) ([]*cluster.Worker, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("cadence/sqlite: query workers: %w", err)
	}
	defer rows.Close()

	var out []*cluster.Worker
	for rows.Next() {
		w, err := scanWorker(rows)
		if err != nil {
			return nil, fmt.Errorf("cadence/sqlite: scan worker: %w", err)
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// ListWorkers returns workers matching opts ordered by name.
func (s *Store) ListWorkers(ctx context.Context, opts cluster.ListOpts) ([]*cluster.Worker, error) {
	var f filter
	if opts.Tenant != "" {
		f.add("tenant_id = ?", opts.Tenant)
	}
	if opts.Status != "" {
		f.add("status = ?", string(opts.Status))
	}
	q := `SELECT ` + workerColumns + ` FROM cadence_workers` + f.where() + ` ORDER BY name, id`
	q += f.page(opts.Limit, opts.Offset)
	return s.queryWorkers(ctx, q, f.args...)
}

// ListStaleWorkers returns live workers silent since before.
func (s *Store) ListStaleWorkers(ctx context.Context, before time.Time) ([]*cluster.Worker, error) {
	return s.queryWorkers(ctx,
		`SELECT `+workerColumns+` FROM cadence_workers WHERE status <> 'offline' AND heartbeat_at < ?`,
		nanos(before),
	)
}

// MarkWorkerOffline sets a stale worker offline and records evt in the
// same transaction.
func (s *Store) MarkWorkerOffline(ctx context.Context, workerID id.ID, before time.Time, evt *event.Event) (bool, error) {
	changed := false
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			UPDATE cadence_workers SET status = 'offline', version = version + 1, updated_at = ?
			WHERE id = ? AND status <> 'offline' AND heartbeat_at < ?`,
			nanos(s.now()), workerID, nanos(before),
		)
		if err != nil {
			return fmt.Errorf("cadence/sqlite: mark worker offline: %w", err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var exists bool
			if err := tx.QueryRowContext(ctx,
				`SELECT EXISTS(SELECT 1 FROM cadence_workers WHERE id = ?)`, workerID,
			).Scan(&exists); err != nil {
				return fmt.Errorf("cadence/sqlite: check worker: %w", err)
			}
			if !exists {
				return cadence.NotFound("worker", workerID.String())
			}
			return nil
		}
		changed = true
		if evt != nil {
			return insertEvent(ctx, tx, evt)
		}
		return nil
	})
	return changed, err
}

// DeregisterWorker removes a worker.
func (s *Store) DeregisterWorker(ctx context.Context, workerID id.ID) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cadence_workers WHERE id = ?`, workerID)
	if err != nil {
		return fmt.Errorf("cadence/sqlite: deregister worker: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return cadence.NotFound("worker", workerID.String())
	}
	return nil
}

// ──────────────────────────────────────────────────
// Leadership
// ──────────────────────────────────────────────────

const leaseName = "scheduler"

// AcquireLeadership makes nodeID leader if the lease is free, expired or
// already held by nodeID.
func (s *Store) AcquireLeadership(ctx context.Context, nodeID string, ttl time.Duration) (bool, error) {
	now := s.now()
	var holder string
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO cadence_leadership (name, node_id, expires_at)
		VALUES (?1, ?2, ?3)
		ON CONFLICT (name) DO UPDATE SET
			node_id = excluded.node_id,
			expires_at = excluded.expires_at
		WHERE cadence_leadership.node_id = excluded.node_id
		   OR cadence_leadership.expires_at <= ?4
		RETURNING node_id`,
		leaseName, nodeID, nanos(now.Add(ttl)), nanos(now),
	).Scan(&holder)
	if err != nil {
		if isNoRows(err) {
			return false, nil
		}
		return false, fmt.Errorf("cadence/sqlite: acquire leadership: %w", err)
	}
	return holder == nodeID, nil
}

// RenewLeadership extends nodeID's lease if it still holds it.
func (s *Store) RenewLeadership(ctx context.Context, nodeID string, ttl time.Duration) (bool, error) {
	now := s.now()
	res, err := s.db.ExecContext(ctx, `
		UPDATE cadence_leadership SET expires_at = ?
		WHERE name = ? AND node_id = ? AND expires_at > ?`,
		nanos(now.Add(ttl)), leaseName, nodeID, nanos(now),
	)
	if err != nil {
		return false, fmt.Errorf("cadence/sqlite: renew leadership: %w", err)
	}
	n, _ := res.RowsAffected()
	return n == 1, nil
}

// GetLeader returns the current leader, or "" if the lease expired.
func (s *Store) GetLeader(ctx context.Context) (string, error) {
	var nodeID string
	err := s.db.QueryRowContext(ctx,
		`SELECT node_id FROM cadence_leadership WHERE name = ? AND expires_at > ?`,
		leaseName, nanos(s.now()),
	).Scan(&nodeID)
	if err != nil {
		if isNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("cadence/sqlite: get leader: %w", err)
	}
	return nodeID, nil
}
