package cluster

import (
	"context"
	"time"

	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
)

// ListOpts controls pagination and filtering for worker list queries.
type ListOpts struct {
	// Tenant filters by tenant. Empty means all tenants.
	Tenant string
	// Status filters by status. Empty means all.
	Status Status
	// Limit is the maximum number of workers to return. Zero means no limit.
	Limit int
	// Offset is the number of workers to skip.
	Offset int
}

// Store defines the persistence contract of the worker registry.
type Store interface {
	// RegisterWorker adds a worker.
	RegisterWorker(ctx context.Context, w *Worker) error

	// GetWorker retrieves a worker by ID.
	GetWorker(ctx context.Context, workerID id.ID) (*Worker, error)

	// HeartbeatWorker sets HeartbeatAt to at and, when status is not
	// empty, the status. An offline worker that heartbeats without a
	// status comes back online. Returns the updated worker.
	HeartbeatWorker(ctx context.Context, workerID id.ID, status Status, at time.Time) (*Worker, error)

	// ListWorkers returns workers matching opts ordered by name.
	ListWorkers(ctx context.Context, opts ListOpts) ([]*Worker, error)

	// ListStaleWorkers returns online or maintenance workers whose last
	// heartbeat is before the cutoff.
	ListStaleWorkers(ctx context.Context, before time.Time) ([]*Worker, error)

	// MarkWorkerOffline sets a worker offline and appends evt to the
	// outbox, but only if it is not offline already and its heartbeat is
	// still before the cutoff. Reports whether the worker changed.
	MarkWorkerOffline(ctx context.Context, workerID id.ID, before time.Time, evt *event.Event) (bool, error)

	// DeregisterWorker removes a worker.
	DeregisterWorker(ctx context.Context, workerID id.ID) error
}

// Leadership elects the single scheduling authority among scheduler
// nodes. Store backends implement it with a leader row; cluster/k8s with
// a coordination Lease.
type Leadership interface {
	// AcquireLeadership makes nodeID leader if nobody holds an unexpired
	// lease. Returns true if nodeID is now leader.
	AcquireLeadership(ctx context.Context, nodeID string, ttl time.Duration) (bool, error)

	// RenewLeadership extends nodeID's lease. Returns false if nodeID
	// no longer holds it.
	RenewLeadership(ctx context.Context, nodeID string, ttl time.Duration) (bool, error)

	// GetLeader returns the current leader, or "" if there is none.
	GetLeader(ctx context.Context) (string, error)
}
