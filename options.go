package cadence

import (
	"context"
	"log/slog"
	"time"
)

// Option configures a Scheduler.
type Option func(*Scheduler) error

// Storer is the minimal store interface held by the Scheduler. The full
// composite interface (store.Store) lives in the store package to avoid
// import cycles; engine.Build asserts it.
type Storer interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close() error
}

// runner is the lifecycle of the wired engine.
type runner interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
}

// Scheduler is the root handle. It holds configuration, the logger and the
// store. engine.Build wires the subsystems and attaches itself as the runner.
type Scheduler struct {
	config Config
	logger *slog.Logger
	store  Storer
	clock  func() time.Time
	runner runner

	started bool
}

// New creates a Scheduler with the given options.
func New(opts ...Option) (*Scheduler, error) {
	s := &Scheduler{
		config: DefaultConfig(),
		logger: slog.Default(),
		clock:  time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if !s.config.DedupePolicy.Valid() {
		return nil, Invalid("dedupe_policy", "unknown policy %q", s.config.DedupePolicy)
	}
	return s, nil
}

// Logger returns the scheduler's logger.
func (s *Scheduler) Logger() *slog.Logger { return s.logger }

// Store returns the scheduler's store.
func (s *Scheduler) Store() Storer { return s.store }

// Config returns a copy of the scheduler's configuration.
func (s *Scheduler) Config() Config { return s.config }

// Clock returns the time source used by every component.
func (s *Scheduler) Clock() func() time.Time { return s.clock }

// SetRunner attaches the wired engine (called by engine.Build).
func (s *Scheduler) SetRunner(r runner) { s.runner = r }

// Start begins the background loops.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.runner == nil {
		return ErrNoStore
	}
	if err := s.runner.Start(ctx); err != nil {
		return err
	}
	s.started = true
	return nil
}

// Stop gracefully shuts down the loops and closes the store.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.runner != nil && s.started {
		if err := s.runner.Stop(ctx); err != nil {
			s.logger.Error("engine stop error", slog.String("error", err.Error()))
		}
		s.started = false
	}
	if s.store != nil {
		return s.store.Close()
	}
	return nil
}

// WithLogger sets the structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Scheduler) error {
		s.logger = l
		return nil
	}
}

// WithStore sets the persistence backend. It is typically a store.Store.
func WithStore(st Storer) Option {
	return func(s *Scheduler) error {
		s.store = st
		return nil
	}
}

// WithConfig replaces the whole configuration.
func WithConfig(c Config) Option {
	return func(s *Scheduler) error {
		s.config = c
		return nil
	}
}

// WithDedupePolicy sets how on-demand submissions treat an active dedupe key.
func WithDedupePolicy(p DedupePolicy) Option {
	return func(s *Scheduler) error {
		s.config.DedupePolicy = p
		return nil
	}
}

// WithHeartbeat sets the expected worker heartbeat interval and the number
// of missed intervals tolerated before reclaim.
func WithHeartbeat(interval time.Duration, multiple int) Option {
	return func(s *Scheduler) error {
		if interval <= 0 || multiple < 1 {
			return Invalid("heartbeat", "interval must be positive and multiple at least 1")
		}
		s.config.HeartbeatInterval = interval
		s.config.LivenessMultiple = multiple
		return nil
	}
}

// WithClock overrides the time source. Tests use it to drive time.
func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) error {
		s.clock = now
		return nil
	}
}
