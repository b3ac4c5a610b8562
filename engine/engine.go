package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	gu "github.com/xraph/go-utils/metrics"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/backoff"
	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/dispatcher"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/observability"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/retry"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/sla"
	"github.com/xraph/cadence/store"
	"github.com/xraph/cadence/trigger"
)

// definitionCacheTTL bounds how long a job or calendar stays cached on a
// node that did not perform the update.
const definitionCacheTTL = 30 * time.Second

// Engine wires every subsystem of a scheduler node around one store.
// Use Build to create one from a cadence.Scheduler.
type Engine struct {
	s      *cadence.Scheduler
	store  store.Store
	config cadence.Config
	logger *slog.Logger
	now    func() time.Time
	nodeID string

	calendars  *calendar.Service
	jobs       *job.Registry
	ledger     *run.Ledger
	workers    *cluster.Registry
	elector    *cluster.Elector
	limits     *queue.Manager
	dispatcher *dispatcher.Dispatcher
	trigger    *trigger.Engine
	retries    *retry.Controller
	monitor    *sla.Monitor
	relay      *event.Relay

	sink          event.Sink
	leadership    cluster.Leadership
	queueConfigs  []queue.Config
	tenantConfigs []queue.TenantConfig
	meterProvider metric.MeterProvider
	counters      *observability.Counters
}

// Option configures an Engine.
type Option func(*Engine)

// WithSink sets the destination of outbox events. The default logs them.
func WithSink(s event.Sink) Option { return func(e *Engine) { e.sink = s } }

// WithLeadership replaces the store-backed leader election, for example
// with a Kubernetes Lease.
func WithLeadership(l cluster.Leadership) Option { return func(e *Engine) { e.leadership = l } }

// WithNodeID names this scheduler node. The default is hostname-pid.
func WithNodeID(nodeID string) Option { return func(e *Engine) { e.nodeID = nodeID } }

// WithQueueConfig registers per-queue rate limits. Queues not listed have
// no limits.
func WithQueueConfig(configs ...queue.Config) Option {
	return func(e *Engine) { e.queueConfigs = append(e.queueConfigs, configs...) }
}

// WithTenantConfig registers per-tenant rate limits within a queue.
func WithTenantConfig(configs ...queue.TenantConfig) Option {
	return func(e *Engine) { e.tenantConfigs = append(e.tenantConfigs, configs...) }
}

// WithMeterProvider sets the OTel MeterProvider used to instrument the
// event sink. If not set, the global provider is used.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(e *Engine) { e.meterProvider = mp }
}

// WithMetricFactory sets the go-utils factory behind the process counters
// reported by the stats endpoint.
func WithMetricFactory(f gu.MetricFactory) Option {
	return func(e *Engine) { e.counters = observability.NewCountersWithFactory(f) }
}

func defaultNodeID() string {
	host, err := os.Hostname()
	if err != nil {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

// Build wires an Engine from a Scheduler. The Scheduler's store must
// implement store.Store.
func Build(s *cadence.Scheduler, opts ...Option) (*Engine, error) {
	if s.Store() == nil {
		return nil, cadence.ErrNoStore
	}
	st, ok := s.Store().(store.Store)
	if !ok {
		return nil, fmt.Errorf("cadence: store %T does not implement store.Store", s.Store())
	}

	cfg := s.Config()
	logger := s.Logger()
	now := s.Clock()

	e := &Engine{
		s:      s,
		store:  st,
		config: cfg,
		logger: logger,
		now:    now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.nodeID == "" {
		e.nodeID = defaultNodeID()
	}
	if e.leadership == nil {
		e.leadership = st
	}
	if e.sink == nil {
		e.sink = event.LogSink{Logger: logger}
	}
	if e.meterProvider != nil {
		e.sink = observability.NewInstrumentSinkWithMeter(e.sink, e.meterProvider.Meter("github.com/xraph/cadence/observability"))
	} else {
		e.sink = observability.NewInstrumentSink(e.sink)
	}
	if e.counters == nil {
		e.counters = observability.NewCounters()
	}
	e.sink = e.counters.Sink(e.sink)

	e.limits = queue.NewManager(e.queueConfigs...)
	for _, tc := range e.tenantConfigs {
		e.limits.SetTenantConfig(tc)
	}

	e.relay = event.NewRelay(st, e.sink,
		event.WithLogger(logger),
		event.WithBatch(cfg.EventBatch),
		event.WithInterval(cfg.EventPollInterval),
		event.WithMaxAttempts(cfg.EventMaxAttempts),
		event.WithBackoff(backoff.NewExponential(cfg.EventPollInterval, time.Minute)),
	)
	e.ledger = run.NewLedger(st, logger,
		run.WithClock(now),
		run.WithRetries(cfg.MutateRetries),
		run.WithWriteHook(func(int) { e.relay.Notify() }),
	)
	e.calendars = calendar.NewService(st, definitionCacheTTL, logger)
	e.jobs = job.NewRegistry(st, definitionCacheTTL, logger)
	e.workers = cluster.NewRegistry(st, logger, now)
	e.elector = cluster.NewElector(e.leadership, e.nodeID, cfg.LeaderTTL, logger)
	e.retries = retry.NewController(e.ledger, logger)

	e.dispatcher = dispatcher.New(e.ledger, e.workers, logger,
		dispatcher.WithRefresh(cfg.DispatchRefresh),
		dispatcher.WithLimits(e.limits),
		dispatcher.WithClock(now),
	)
	e.trigger = trigger.NewEngine(st, e.jobs, e.calendars, e.ledger, e.elector, e.nodeID, logger,
		trigger.WithTickInterval(cfg.TickInterval),
		trigger.WithLockTTL(cfg.LeaderTTL),
		trigger.WithDedupePolicy(cfg.DedupePolicy),
		trigger.WithOnCreate(e.dispatcher.Offer),
		trigger.WithClock(now),
	)
	e.monitor = sla.NewMonitor(e.ledger, e.retries, e.workers, logger,
		sla.WithInterval(cfg.SweepInterval),
		sla.WithLivenessWindow(cfg.LivenessWindow()),
		sla.WithOnPending(e.dispatcher.Offer),
		sla.WithClock(now),
	)

	s.SetRunner(e)
	return e, nil
}

// Start begins leader election, schedule firing, SLA sweeps and event
// delivery.
func (e *Engine) Start(ctx context.Context) error {
	if err := e.elector.Start(ctx); err != nil {
		return fmt.Errorf("start elector: %w", err)
	}
	if err := e.trigger.Start(ctx); err != nil {
		return fmt.Errorf("start trigger engine: %w", err)
	}
	if err := e.monitor.Start(ctx); err != nil {
		return fmt.Errorf("start sla monitor: %w", err)
	}
	if err := e.relay.Start(ctx); err != nil {
		return fmt.Errorf("start event relay: %w", err)
	}
	e.logger.Info("cadence engine started",
		slog.String("node_id", e.nodeID),
		slog.Bool("leader", e.elector.IsLeader()),
	)
	return nil
}

// Stop shuts the background loops down concurrently, bounded by the
// configured shutdown timeout.
func (e *Engine) Stop(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, e.config.ShutdownTimeout)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	for _, c := range []interface{ Stop(context.Context) error }{e.trigger, e.monitor, e.elector} {
		g.Go(func() error { return c.Stop(gctx) })
	}
	err := g.Wait()

	// The relay goes last so events written during shutdown still leave.
	if rerr := e.relay.Stop(ctx); rerr != nil {
		err = errors.Join(err, rerr)
	}
	e.logger.Info("cadence engine stopped", slog.String("node_id", e.nodeID))
	return err
}

// Run starts the engine, blocks until ctx is done, then stops it.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	return e.Stop(context.WithoutCancel(ctx))
}

// NodeID returns this node's name.
func (e *Engine) NodeID() string { return e.nodeID }

// IsLeader reports whether this node currently fires schedules.
func (e *Engine) IsLeader() bool { return e.elector.IsLeader() }

// Store returns the composite store.
func (e *Engine) Store() store.Store { return e.store }

// Calendars returns the calendar service.
func (e *Engine) Calendars() *calendar.Service { return e.calendars }

// Jobs returns the job registry.
func (e *Engine) Jobs() *job.Registry { return e.jobs }

// Ledger returns the run ledger.
func (e *Engine) Ledger() *run.Ledger { return e.ledger }

// Workers returns the worker registry.
func (e *Engine) Workers() *cluster.Registry { return e.workers }

// Dispatcher returns the dispatcher.
func (e *Engine) Dispatcher() *dispatcher.Dispatcher { return e.dispatcher }

// Trigger returns the trigger engine.
func (e *Engine) Trigger() *trigger.Engine { return e.trigger }

// Retries returns the retry controller.
func (e *Engine) Retries() *retry.Controller { return e.retries }

// Monitor returns the SLA monitor.
func (e *Engine) Monitor() *sla.Monitor { return e.monitor }

// Relay returns the event relay.
func (e *Engine) Relay() *event.Relay { return e.relay }

// Counters returns the process event counters.
func (e *Engine) Counters() *observability.Counters { return e.counters }

// QueueManager returns the rate limiter consulted on every claim.
func (e *Engine) QueueManager() *queue.Manager { return e.limits }

// Health pings the store.
func (e *Engine) Health(ctx context.Context) error {
	return e.store.Ping(ctx)
}
