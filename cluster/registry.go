package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/scope"
)

// RegisterRequest describes a worker joining the pool.
type RegisterRequest struct {
	Name         string            `json:"name"`
	Hostname     string            `json:"hostname,omitempty"`
	Capabilities Capabilities      `json:"capabilities"`
	MaxParallel  int               `json:"max_parallel"`
	Metadata     map[string]string `json:"metadata,omitempty"`
}

// HeartbeatRequest is a worker's liveness report. Active lists the runs
// the worker is executing.
type HeartbeatRequest struct {
	Status Status  `json:"status,omitempty"`
	Active []id.ID `json:"active,omitempty"`
}

// HeartbeatResponse tells a worker which of its active runs it must stop:
// runs cancelled, timed out or reclaimed since it claimed them.
type HeartbeatResponse struct {
	Worker *Worker `json:"worker"`
	Revoke []id.ID `json:"revoke,omitempty"`
}

// OfflinePayload is the body of a worker.offline event.
type OfflinePayload struct {
	WorkerID    id.ID     `json:"worker_id"`
	Name        string    `json:"name"`
	HeartbeatAt time.Time `json:"heartbeat_at"`
	Reason      string    `json:"reason"`
}

// Registry tracks workers and their liveness.
type Registry struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

// NewRegistry creates a worker registry.
func NewRegistry(store Store, logger *slog.Logger, now func() time.Time) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	if now == nil {
		now = time.Now
	}
	return &Registry{store: store, logger: logger, now: now}
}

// Register validates and persists a new online worker.
func (r *Registry) Register(ctx context.Context, req RegisterRequest) (*Worker, error) {
	now := r.now().UTC()
	w := &Worker{
		Entity:       cadence.NewEntity(scope.Tenant(ctx)),
		ID:           id.NewWorkerID(),
		Name:         req.Name,
		Hostname:     req.Hostname,
		Capabilities: req.Capabilities,
		Status:       StatusOnline,
		MaxParallel:  req.MaxParallel,
		HeartbeatAt:  now,
		Metadata:     req.Metadata,
	}
	w.CreatedAt, w.UpdatedAt = now, now
	if err := w.Validate(); err != nil {
		return nil, err
	}
	if err := r.store.RegisterWorker(ctx, w); err != nil {
		return nil, fmt.Errorf("register worker %q: %w", req.Name, err)
	}
	r.logger.Info("worker registered",
		slog.String("worker_id", w.ID.String()),
		slog.String("name", w.Name),
		slog.Any("queues", w.Capabilities.Queues),
		slog.Int("max_parallel", w.MaxParallel),
	)
	return w, nil
}

// Heartbeat records liveness and an optional status change.
func (r *Registry) Heartbeat(ctx context.Context, workerID id.ID, status Status) (*Worker, error) {
	if status != "" && !status.Valid() {
		return nil, cadence.Invalid("status", "unknown worker status %q", status)
	}
	w, err := r.store.HeartbeatWorker(ctx, workerID, status, r.now().UTC())
	if err != nil {
		return nil, err
	}
	return w, nil
}

// Get retrieves a worker.
func (r *Registry) Get(ctx context.Context, workerID id.ID) (*Worker, error) {
	return r.store.GetWorker(ctx, workerID)
}

// List returns workers matching opts.
func (r *Registry) List(ctx context.Context, opts ListOpts) ([]*Worker, error) {
	return r.store.ListWorkers(ctx, opts)
}

// Deregister removes a worker.
func (r *Registry) Deregister(ctx context.Context, workerID id.ID) error {
	if err := r.store.DeregisterWorker(ctx, workerID); err != nil {
		return err
	}
	r.logger.Info("worker deregistered", slog.String("worker_id", workerID.String()))
	return nil
}

// Stale returns workers silent for longer than window.
func (r *Registry) Stale(ctx context.Context, window time.Duration) ([]*Worker, time.Time, error) {
	cutoff := r.now().UTC().Add(-window)
	ws, err := r.store.ListStaleWorkers(ctx, cutoff)
	return ws, cutoff, err
}

// MarkOffline sets a stale worker offline and emits worker.offline. It
// reports false if the worker heartbeated since the cutoff.
func (r *Registry) MarkOffline(ctx context.Context, w *Worker, cutoff time.Time, reason string) (bool, error) {
	evt := event.New(w.TenantID, event.WorkerOffline, w.ID, OfflinePayload{
		WorkerID:    w.ID,
		Name:        w.Name,
		HeartbeatAt: w.HeartbeatAt,
		Reason:      reason,
	}, r.now())
	changed, err := r.store.MarkWorkerOffline(ctx, w.ID, cutoff, evt)
	if err != nil {
		return false, fmt.Errorf("mark worker %s offline: %w", w.ID, err)
	}
	if changed {
		r.logger.Warn("worker marked offline",
			slog.String("worker_id", w.ID.String()),
			slog.String("name", w.Name),
			slog.Time("heartbeat_at", w.HeartbeatAt),
			slog.String("reason", reason),
		)
	}
	return changed, nil
}
