package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/middleware"
	"github.com/xraph/cadence/retry"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/scope"
)

// Backend is the scheduler as seen by a worker. engine.Engine serves it
// in-process and client.Client over HTTP.
type Backend interface {
	RegisterWorker(ctx context.Context, req cluster.RegisterRequest) (*cluster.Worker, error)
	Heartbeat(ctx context.Context, workerID id.ID, req cluster.HeartbeatRequest) (*cluster.HeartbeatResponse, error)
	Claim(ctx context.Context, workerID id.ID, limit int) ([]*run.Run, error)
	Complete(ctx context.Context, runID, workerID id.ID) (*run.Run, error)
	Fail(ctx context.Context, runID, workerID id.ID, cause string) (*retry.Result, error)
	DeregisterWorker(ctx context.Context, workerID id.ID) error
}

// Pool executes claimed runs concurrently, up to MaxParallel at a time.
type Pool struct {
	backend  Backend
	executor *Executor
	logger   *slog.Logger

	name              string
	hostname          string
	tenant            string
	queues            []string
	jobKeys           []string
	maxParallel       int
	pollInterval      time.Duration
	heartbeatInterval time.Duration
	extra             []middleware.Middleware
	handlers          *Handlers

	workerID id.ID

	stopCh  chan struct{}
	loops   sync.WaitGroup
	running sync.WaitGroup
	mu      sync.Mutex
	started bool

	activeMu sync.Mutex
	active   map[string]*activeRun
}

type activeRun struct {
	cancel  context.CancelFunc
	revoked bool
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithName sets the worker name shown in the registry.
func WithName(name string) PoolOption { return func(p *Pool) { p.name = name } }

// WithTenant sets the tenant the worker serves.
func WithTenant(tenant string) PoolOption { return func(p *Pool) { p.tenant = tenant } }

// WithQueues sets the queues the worker claims from.
func WithQueues(queues ...string) PoolOption { return func(p *Pool) { p.queues = queues } }

// WithJobKeys restricts the job keys the worker accepts. The default is
// every key with a registered handler.
func WithJobKeys(keys ...string) PoolOption { return func(p *Pool) { p.jobKeys = keys } }

// WithMaxParallel sets how many runs execute at once.
func WithMaxParallel(n int) PoolOption { return func(p *Pool) { p.maxParallel = n } }

// WithPollInterval sets how often an idle worker asks for runs.
func WithPollInterval(d time.Duration) PoolOption { return func(p *Pool) { p.pollInterval = d } }

// WithHeartbeatInterval sets the heartbeat period. It must stay well below
// the scheduler's liveness window.
func WithHeartbeatInterval(d time.Duration) PoolOption {
	return func(p *Pool) { p.heartbeatInterval = d }
}

// WithMiddleware appends middleware after the default chain.
func WithMiddleware(mws ...middleware.Middleware) PoolOption {
	return func(p *Pool) { p.extra = append(p.extra, mws...) }
}

// NewPool creates a worker pool executing handlers against backend.
func NewPool(backend Backend, handlers *Handlers, logger *slog.Logger, opts ...PoolOption) *Pool {
	if logger == nil {
		logger = slog.Default()
	}
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	p := &Pool{
		backend:           backend,
		handlers:          handlers,
		logger:            logger,
		name:              host,
		hostname:          host,
		queues:            []string{"default"},
		maxParallel:       10,
		pollInterval:      time.Second,
		heartbeatInterval: 10 * time.Second,
		stopCh:            make(chan struct{}),
		active:            make(map[string]*activeRun),
	}
	for _, opt := range opts {
		opt(p)
	}
	mws := append(DefaultMiddleware(logger), p.extra...)
	p.executor = NewExecutor(handlers, logger, mws...)
	return p
}

// WorkerID returns the ID assigned at registration.
func (p *Pool) WorkerID() id.ID { return p.workerID }

func (p *Pool) ctx() context.Context {
	return scope.WithTenant(context.Background(), p.tenant)
}

// Start registers the worker and launches the claim and heartbeat loops.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		return nil
	}
	if err := p.Validate(); err != nil {
		return err
	}

	keys := p.jobKeys
	if len(keys) == 0 {
		keys = p.handlers.Keys()
	}
	w, err := p.backend.RegisterWorker(scope.WithTenant(ctx, p.tenant), cluster.RegisterRequest{
		Name:         p.name,
		Hostname:     p.hostname,
		Capabilities: cluster.Capabilities{Queues: p.queues, JobKeys: keys},
		MaxParallel:  p.maxParallel,
	})
	if err != nil {
		return fmt.Errorf("register worker: %w", err)
	}
	p.workerID = w.ID
	p.started = true

	p.logger.Info("worker pool starting",
		slog.String("worker_id", p.workerID.String()),
		slog.Int("max_parallel", p.maxParallel),
		slog.Any("queues", p.queues),
		slog.Any("job_keys", keys),
	)

	p.loops.Add(2)
	go p.claimLoop()
	go p.heartbeatLoop()
	return nil
}

// Stop stops claiming, waits for executing runs to finish and deregisters.
// If ctx ends first, executing runs are cancelled; the scheduler requeues
// them on deregistration.
func (p *Pool) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = false
	p.mu.Unlock()

	p.logger.Info("worker pool stopping", slog.String("worker_id", p.workerID.String()))
	close(p.stopCh)
	p.loops.Wait()

	done := make(chan struct{})
	go func() {
		p.running.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.logger.Info("worker pool stopped gracefully")
	case <-ctx.Done():
		p.logger.Warn("worker pool shutdown timed out, cancelling active runs")
		p.cancelAll()
		<-done
	}

	return p.backend.DeregisterWorker(scope.WithTenant(context.WithoutCancel(ctx), p.tenant), p.workerID)
}

func (p *Pool) claimLoop() {
	defer p.loops.Done()

	for {
		select {
		case <-p.stopCh:
			return
		default:
		}

		free := p.maxParallel - p.activeCount()
		if free <= 0 {
			p.sleep()
			continue
		}
		runs, err := p.backend.Claim(p.ctx(), p.workerID, free)
		if err != nil {
			p.logger.Error("claim error", slog.String("error", err.Error()))
			p.sleep()
			continue
		}
		if len(runs) == 0 {
			p.sleep()
			continue
		}
		for _, r := range runs {
			p.launch(r)
		}
	}
}

func (p *Pool) launch(r *run.Run) {
	ctx, cancel := context.WithCancel(p.ctx())
	p.activeMu.Lock()
	p.active[r.ID.String()] = &activeRun{cancel: cancel}
	p.activeMu.Unlock()

	p.running.Add(1)
	go func() {
		defer p.running.Done()
		defer cancel()
		err := p.executor.Execute(ctx, r)
		if p.untrack(r.ID) {
			p.logger.Info("run revoked by scheduler", slog.String("run_id", r.ID.String()))
			return
		}
		p.report(r, err)
	}()
}

// report sends the outcome. It outlives pool shutdown so finished work is
// not lost.
func (p *Pool) report(r *run.Run, execErr error) {
	ctx := p.ctx()
	var err error
	if execErr == nil {
		_, err = p.backend.Complete(ctx, r.ID, p.workerID)
	} else {
		_, err = p.backend.Fail(ctx, r.ID, p.workerID, execErr.Error())
	}
	if err != nil {
		p.logger.Warn("report run outcome failed",
			slog.String("run_id", r.ID.String()),
			slog.Bool("success", execErr == nil),
			slog.String("error", err.Error()),
		)
	}
}

func (p *Pool) heartbeatLoop() {
	defer p.loops.Done()

	ticker := time.NewTicker(p.heartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.heartbeat()
		}
	}
}

func (p *Pool) heartbeat() {
	resp, err := p.backend.Heartbeat(p.ctx(), p.workerID, cluster.HeartbeatRequest{Active: p.activeIDs()})
	if err != nil {
		p.logger.Warn("heartbeat failed",
			slog.String("worker_id", p.workerID.String()),
			slog.String("error", err.Error()),
		)
		return
	}
	for _, runID := range resp.Revoke {
		p.revoke(runID)
	}
}

func (p *Pool) sleep() {
	select {
	case <-time.After(p.pollInterval):
	case <-p.stopCh:
	}
}

func (p *Pool) activeCount() int {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	return len(p.active)
}

func (p *Pool) activeIDs() []id.ID {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	ids := make([]id.ID, 0, len(p.active))
	for k := range p.active {
		rid, err := id.ParseRunID(k)
		if err == nil {
			ids = append(ids, rid)
		}
	}
	return ids
}

// untrack forgets a finished run and reports whether it had been revoked.
func (p *Pool) untrack(runID id.ID) bool {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	a, ok := p.active[runID.String()]
	delete(p.active, runID.String())
	return ok && a.revoked
}

func (p *Pool) revoke(runID id.ID) {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	if a, ok := p.active[runID.String()]; ok {
		a.revoked = true
		a.cancel()
	}
}

// cancelAll abandons every executing run without reporting it.
func (p *Pool) cancelAll() {
	p.activeMu.Lock()
	defer p.activeMu.Unlock()
	for runID, a := range p.active {
		p.logger.Warn("cancelling active run", slog.String("run_id", runID))
		a.revoked = true
		a.cancel()
	}
}

// ErrNoHandlers is returned by Validate for a pool with nothing to run.
var ErrNoHandlers = errors.New("worker: no handlers registered")

// Validate checks the pool can do useful work.
func (p *Pool) Validate() error {
	if len(p.handlers.Keys()) == 0 {
		return ErrNoHandlers
	}
	if p.maxParallel < 1 {
		return fmt.Errorf("worker: max parallel must be at least 1, got %d", p.maxParallel)
	}
	return nil
}
