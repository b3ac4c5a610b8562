package dispatcher

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/run"
)

// WorkerLookup resolves the claiming worker.
type WorkerLookup interface {
	Get(ctx context.Context, workerID id.ID) (*cluster.Worker, error)
}

// Option configures a Dispatcher.
type Option func(*Dispatcher)

// WithRefresh sets how stale a queue heap may get before it is reloaded.
func WithRefresh(d time.Duration) Option { return func(x *Dispatcher) { x.refresh = d } }

// WithBatch sets how many dispatchable runs are loaded per queue.
func WithBatch(n int) Option { return func(x *Dispatcher) { x.batch = n } }

// WithLimits sets the queue rate limiter.
func WithLimits(m *queue.Manager) Option { return func(x *Dispatcher) { x.limits = m } }

// WithClock sets the dispatcher time source.
func WithClock(now func() time.Time) Option { return func(x *Dispatcher) { x.now = now } }

// queueState is the local view of the pending runs one kind of worker may
// take from a queue.
type queueState struct {
	mu       sync.Mutex
	filter   run.DispatchFilter
	heap     runHeap
	loadedAt time.Time
}

// accepts reports whether r belongs in this heap.
func (qs *queueState) accepts(r *run.Run) bool {
	f := qs.filter
	return r.Queue == f.Queue && r.TenantID == f.Tenant &&
		(len(f.JobKeys) == 0 || slices.Contains(f.JobKeys, r.JobKey))
}

// Dispatcher matches pending runs to workers. It keeps one priority heap
// per tenant, queue and set of accepted job keys, reloaded from the
// ledger when stale and fed directly with runs created on this node. The
// heaps are a cache: a claim only succeeds through a version-checked
// ledger write, so several dispatchers may run against one ledger.
type Dispatcher struct {
	ledger  *run.Ledger
	workers WorkerLookup
	limits  *queue.Manager
	logger  *slog.Logger
	now     func() time.Time
	refresh time.Duration
	batch   int

	mu     sync.Mutex
	queues map[string]*queueState
}

// New creates a dispatcher.
func New(ledger *run.Ledger, workers WorkerLookup, logger *slog.Logger, opts ...Option) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	d := &Dispatcher{
		ledger:  ledger,
		workers: workers,
		logger:  logger,
		now:     time.Now,
		refresh: 500 * time.Millisecond,
		batch:   256,
		queues:  make(map[string]*queueState),
	}
	for _, opt := range opts {
		opt(d)
	}
	if d.limits == nil {
		d.limits = queue.NewManager()
	}
	return d
}

// filterFor builds the dispatch filter of worker w on queue name.
func filterFor(w *cluster.Worker, name string) run.DispatchFilter {
	f := run.DispatchFilter{Queue: name, Tenant: w.TenantID}
	keys := w.Capabilities.JobKeys
	if len(keys) > 0 && !slices.Contains(keys, cluster.AnyJob) {
		f.JobKeys = slices.Compact(slices.Sorted(slices.Values(keys)))
	}
	return f
}

func poolKey(f run.DispatchFilter) string {
	return f.Tenant + "\x00" + f.Queue + "\x00" + strings.Join(f.JobKeys, ",")
}

func (d *Dispatcher) pool(f run.DispatchFilter) *queueState {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := poolKey(f)
	qs, ok := d.queues[key]
	if !ok {
		qs = &queueState{filter: f}
		d.queues[key] = qs
	}
	return qs
}

// Offer pushes a freshly created pending run onto every heap it belongs
// in. Runs no worker has asked for yet are picked up by the first load.
func (d *Dispatcher) Offer(r *run.Run) {
	if r == nil || r.Status != run.StatusPending {
		return
	}
	d.mu.Lock()
	var targets []*queueState
	for _, qs := range d.queues {
		if qs.accepts(r) {
			targets = append(targets, qs)
		}
	}
	d.mu.Unlock()
	for _, qs := range targets {
		qs.mu.Lock()
		heap.Push(&qs.heap, r.Clone())
		qs.mu.Unlock()
	}
}

// Depth returns the number of runs held locally for a queue.
func (d *Dispatcher) Depth(queueName string) int {
	d.mu.Lock()
	var pools []*queueState
	for _, qs := range d.queues {
		if qs.filter.Queue == queueName {
			pools = append(pools, qs)
		}
	}
	d.mu.Unlock()
	n := 0
	for _, qs := range pools {
		qs.mu.Lock()
		n += qs.heap.Len()
		qs.mu.Unlock()
	}
	return n
}

// load rebuilds a heap from the ledger. Caller holds qs.mu.
func (d *Dispatcher) load(ctx context.Context, qs *queueState, now time.Time) error {
	runs, err := d.ledger.Store().ListDispatchable(ctx, qs.filter, now, d.batch)
	if err != nil {
		return fmt.Errorf("load queue %q: %w", qs.filter.Queue, err)
	}
	qs.heap = runHeap(runs)
	heap.Init(&qs.heap)
	qs.loadedAt = now
	return nil
}

// Claim hands up to limit runs to a worker. A limit of zero or less means
// as many as the worker has free slots. Each claim is an atomic ledger
// write that moves the run to running, records the worker and reserves a
// worker slot, conditioned on the run's version, the worker's capacity and
// the job's concurrency limit.
func (d *Dispatcher) Claim(ctx context.Context, workerID id.ID, limit int) ([]*run.Run, error) {
	w, err := d.workers.Get(ctx, workerID)
	if err != nil {
		return nil, err
	}
	if w.Status != cluster.StatusOnline {
		return nil, fmt.Errorf("claim for worker %s in status %s: %w", w.ID, w.Status, cadence.ErrWorkerUnavailable)
	}
	slots := w.FreeSlots()
	if limit > 0 && limit < slots {
		slots = limit
	}
	var claimed []*run.Run
	for _, name := range w.Capabilities.Queues {
		if len(claimed) >= slots {
			break
		}
		got, stop, err := d.claimFrom(ctx, name, w, slots-len(claimed))
		claimed = append(claimed, got...)
		if err != nil {
			return claimed, err
		}
		if stop {
			break
		}
	}
	return claimed, nil
}

// claimFrom claims up to n runs of one queue. stop is true when the worker
// itself can take no more.
func (d *Dispatcher) claimFrom(ctx context.Context, name string, w *cluster.Worker, n int) (claimed []*run.Run, stop bool, err error) {
	qs := d.pool(filterFor(w, name))
	qs.mu.Lock()
	defer qs.mu.Unlock()

	now := d.now()
	if qs.loadedAt.IsZero() || now.Sub(qs.loadedAt) >= d.refresh {
		if err := d.load(ctx, qs, now); err != nil {
			return nil, false, err
		}
	}

	var deferred []*run.Run
	defer func() {
		for _, r := range deferred {
			heap.Push(&qs.heap, r)
		}
	}()

	for len(claimed) < n && qs.heap.Len() > 0 {
		cand := heap.Pop(&qs.heap).(*run.Run)
		if !cand.Dispatchable(now) {
			if cand.Status == run.StatusPending {
				deferred = append(deferred, cand)
			}
			continue
		}
		undo, ok := d.limits.Take(name, cand.TenantID)
		if !ok {
			deferred = append(deferred, cand)
			return claimed, false, nil
		}
		next, err := run.Claim(*cand, w.ID, now)
		if err != nil {
			undo()
			continue
		}
		err = d.ledger.Apply(ctx, &run.Change{
			Run:             &next,
			ExpectedVersion: cand.Version,
			Claim:           &run.WorkerClaim{WorkerID: w.ID, ConcurrencyLimit: cand.Policy.ConcurrencyLimit},
		})
		switch {
		case err == nil:
			claimed = append(claimed, &next)
			d.logger.Info("run claimed",
				slog.String("run_id", next.ID.String()),
				slog.String("job_key", next.JobKey),
				slog.String("worker_id", w.ID.String()),
				slog.Int("attempt", next.Attempt),
				slog.Int64("latency_ms", next.Metrics.LatencyMs),
			)
		case errors.Is(err, cadence.ErrVersionConflict), errors.Is(err, cadence.ErrRunNotFound):
			// Claimed or changed elsewhere; the next reload has the truth.
			undo()
		case errors.Is(err, cadence.ErrConcurrencyLimit):
			undo()
			deferred = append(deferred, cand)
		case errors.Is(err, cadence.ErrWorkerAtCapacity), errors.Is(err, cadence.ErrWorkerUnavailable):
			undo()
			deferred = append(deferred, cand)
			return claimed, true, nil
		default:
			undo()
			deferred = append(deferred, cand)
			return claimed, true, fmt.Errorf("claim run %s: %w", cand.ID, err)
		}
	}
	return claimed, false, nil
}
