package engine

import (
	"context"
	"errors"
	"log/slog"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/retry"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/scope"
	"github.com/xraph/cadence/trigger"
)

// Runs and workers are looked up by ID, which carries no tenant; the
// engine hides records of other tenants behind NotFound.

func (e *Engine) ownRun(ctx context.Context, runID id.ID) (*run.Run, error) {
	r, err := e.ledger.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.TenantID != scope.Tenant(ctx) {
		return nil, cadence.NotFound("run", runID.String())
	}
	return r, nil
}

func (e *Engine) ownWorker(ctx context.Context, workerID id.ID) (*cluster.Worker, error) {
	w, err := e.workers.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if w.TenantID != scope.Tenant(ctx) {
		return nil, cadence.NotFound("worker", workerID.String())
	}
	return w, nil
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

// Submit creates an on-demand run. A fresh run is handed straight to the
// dispatcher.
func (e *Engine) Submit(ctx context.Context, req trigger.SubmitRequest) (*trigger.SubmitResult, error) {
	return e.trigger.Submit(ctx, req)
}

// GetRun returns a run of the context tenant.
func (e *Engine) GetRun(ctx context.Context, runID id.ID) (*run.Run, error) {
	return e.ownRun(ctx, runID)
}

// ListRuns returns runs of the context tenant, newest first.
func (e *Engine) ListRuns(ctx context.Context, opts run.ListOpts) ([]*run.Run, error) {
	opts.Tenant = scope.Tenant(ctx)
	return e.ledger.List(ctx, opts)
}

// Complete records a worker-reported success.
func (e *Engine) Complete(ctx context.Context, runID, workerID id.ID) (*run.Run, error) {
	if _, err := e.ownRun(ctx, runID); err != nil {
		return nil, err
	}
	return e.retries.Complete(ctx, runID, workerID)
}

// Fail records a worker-reported failure and schedules the retry, if any.
func (e *Engine) Fail(ctx context.Context, runID, workerID id.ID, cause string) (*retry.Result, error) {
	if _, err := e.ownRun(ctx, runID); err != nil {
		return nil, err
	}
	res, err := e.retries.Fail(ctx, runID, workerID, cause)
	if err != nil {
		return nil, err
	}
	if res.Next != nil {
		e.dispatcher.Offer(res.Next)
	}
	return res, nil
}

// Retry starts a manual retry of a dead, failed or missed run. When the
// run's dedupe key is held, the holder comes back with a dedupe
// ConflictError.
func (e *Engine) Retry(ctx context.Context, runID id.ID) (*run.Run, error) {
	if _, err := e.ownRun(ctx, runID); err != nil {
		return nil, err
	}
	r, err := e.retries.Replay(ctx, runID)
	if err != nil {
		return r, err
	}
	e.dispatcher.Offer(r)
	return r, nil
}

// Cancel ends an active run as Dead.
func (e *Engine) Cancel(ctx context.Context, runID id.ID, reason string) (*run.Run, error) {
	if _, err := e.ownRun(ctx, runID); err != nil {
		return nil, err
	}
	return e.retries.Cancel(ctx, runID, reason)
}

// ──────────────────────────────────────────────────
// Workers
// ──────────────────────────────────────────────────

// RegisterWorker adds a worker for the context tenant.
func (e *Engine) RegisterWorker(ctx context.Context, req cluster.RegisterRequest) (*cluster.Worker, error) {
	return e.workers.Register(ctx, req)
}

// GetWorker returns a worker of the context tenant.
func (e *Engine) GetWorker(ctx context.Context, workerID id.ID) (*cluster.Worker, error) {
	return e.ownWorker(ctx, workerID)
}

// ListWorkers returns the context tenant's workers.
func (e *Engine) ListWorkers(ctx context.Context, opts cluster.ListOpts) ([]*cluster.Worker, error) {
	opts.Tenant = scope.Tenant(ctx)
	return e.workers.List(ctx, opts)
}

// DeregisterWorker takes a worker out of rotation, returns the runs it
// still holds to pending and removes it.
func (e *Engine) DeregisterWorker(ctx context.Context, workerID id.ID) error {
	if _, err := e.ownWorker(ctx, workerID); err != nil {
		return err
	}
	if _, err := e.workers.Heartbeat(ctx, workerID, cluster.StatusOffline); err != nil {
		return err
	}
	held, err := e.ledger.List(ctx, run.ListOpts{WorkerID: workerID, Status: run.StatusRunning})
	if err != nil {
		return err
	}
	for _, r := range held {
		updated, err := e.ledger.Mutate(ctx, r.ID, func(cur run.Run) (*run.Change, error) {
			if cur.Status != run.StatusRunning || cur.WorkerID.String() != workerID.String() {
				return nil, nil
			}
			next, err := run.Requeue(cur, e.now())
			if err != nil {
				return nil, err
			}
			return &run.Change{Run: &next, Release: workerID}, nil
		})
		if err != nil {
			return err
		}
		e.dispatcher.Offer(updated)
	}
	return e.workers.Deregister(ctx, workerID)
}

// Heartbeat records a worker's liveness and answers with the runs it
// reported active but no longer holds.
func (e *Engine) Heartbeat(ctx context.Context, workerID id.ID, req cluster.HeartbeatRequest) (*cluster.HeartbeatResponse, error) {
	if _, err := e.ownWorker(ctx, workerID); err != nil {
		return nil, err
	}
	w, err := e.workers.Heartbeat(ctx, workerID, req.Status)
	if err != nil {
		return nil, err
	}
	resp := &cluster.HeartbeatResponse{Worker: w}
	for _, runID := range req.Active {
		r, err := e.ledger.Get(ctx, runID)
		switch {
		case errors.Is(err, cadence.ErrRunNotFound):
			resp.Revoke = append(resp.Revoke, runID)
		case err != nil:
			return nil, err
		case r.Status != run.StatusRunning || r.WorkerID.String() != workerID.String():
			resp.Revoke = append(resp.Revoke, runID)
		}
	}
	if len(resp.Revoke) > 0 {
		e.logger.Info("revoking runs on worker",
			slog.String("worker_id", workerID.String()),
			slog.Int("count", len(resp.Revoke)),
		)
	}
	return resp, nil
}

// Claim hands the worker up to limit runs; zero means its free capacity.
func (e *Engine) Claim(ctx context.Context, workerID id.ID, limit int) ([]*run.Run, error) {
	if _, err := e.ownWorker(ctx, workerID); err != nil {
		return nil, err
	}
	return e.dispatcher.Claim(ctx, workerID, limit)
}
