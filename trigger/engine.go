package trigger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/scope"
)

// LeaderCheck reports whether this node may fire schedules.
type LeaderCheck interface {
	IsLeader() bool
}

// Option configures an Engine.
type Option func(*Engine)

// WithTickInterval sets how often the engine looks for due schedules.
func WithTickInterval(d time.Duration) Option { return func(e *Engine) { e.tickInterval = d } }

// WithLockTTL sets the TTL of per-schedule locks.
func WithLockTTL(d time.Duration) Option { return func(e *Engine) { e.lockTTL = d } }

// WithDedupePolicy sets how Submit treats an active dedupe key.
func WithDedupePolicy(p cadence.DedupePolicy) Option { return func(e *Engine) { e.dedupe = p } }

// WithOnCreate is called with every run the engine creates.
func WithOnCreate(fn func(*run.Run)) Option { return func(e *Engine) { e.onCreate = fn } }

// WithClock sets the engine time source.
func WithClock(now func() time.Time) Option { return func(e *Engine) { e.now = now } }

// Engine materializes due runs from schedules and on-demand submissions.
// Only the leader fires schedules; any node accepts submissions.
type Engine struct {
	store     Store
	jobs      *job.Registry
	calendars *calendar.Service
	ledger    *run.Ledger
	leader    LeaderCheck
	nodeID    string
	logger    *slog.Logger

	tickInterval time.Duration
	lockTTL      time.Duration
	dedupe       cadence.DedupePolicy
	onCreate     func(*run.Run)
	now          func() time.Time

	parsedMu sync.RWMutex
	parsed   map[string]cronlib.Schedule

	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewEngine creates a trigger engine.
func NewEngine(
	store Store,
	jobs *job.Registry,
	calendars *calendar.Service,
	ledger *run.Ledger,
	leader LeaderCheck,
	nodeID string,
	logger *slog.Logger,
	opts ...Option,
) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{
		store:        store,
		jobs:         jobs,
		calendars:    calendars,
		ledger:       ledger,
		leader:       leader,
		nodeID:       nodeID,
		logger:       logger,
		tickInterval: time.Second,
		lockTTL:      30 * time.Second,
		dedupe:       cadence.DedupeReturnExisting,
		now:          time.Now,
		parsed:       make(map[string]cronlib.Schedule),
		stopCh:       make(chan struct{}),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// ──────────────────────────────────────────────────
// On-demand submission
// ──────────────────────────────────────────────────

// SubmitRequest asks for a run of a job outside any schedule.
type SubmitRequest struct {
	JobKey    string    `json:"job_key"`
	Payload   []byte    `json:"payload,omitempty"`
	DedupeKey string    `json:"dedupe_key,omitempty"`
	RunAt     time.Time `json:"run_at,omitempty"`
}

// SubmitResult is the outcome of a submission. Created is false when an
// active run already held the dedupe key and was returned instead.
type SubmitResult struct {
	Run     *run.Run `json:"run"`
	Created bool     `json:"created"`
}

// Submit creates a pending run for the context tenant. A disabled job
// returns cadence.ErrJobDisabled. When an active run holds the dedupe key
// the configured policy decides: return-existing answers with that run,
// reject returns it alongside a dedupe ConflictError.
func (e *Engine) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	if req.JobKey == "" {
		return nil, cadence.Invalid("job_key", "must not be empty")
	}
	j, err := e.jobs.GetByKey(ctx, req.JobKey)
	if err != nil {
		return nil, err
	}
	if !j.Enabled {
		return nil, fmt.Errorf("submit %q: %w", j.Key, cadence.ErrJobDisabled)
	}
	now := e.now()
	r := run.New(j, req.Payload, req.RunAt, now)
	r.DedupeKey = req.DedupeKey

	got, created, err := e.ledger.Create(ctx, r)
	if errors.Is(err, cadence.ErrDedupeConflict) {
		e.logger.Info("submission deduplicated",
			slog.String("job_key", j.Key),
			slog.String("dedupe_key", req.DedupeKey),
			slog.String("run_id", got.ID.String()),
			slog.String("policy", string(e.dedupe)),
		)
		if e.dedupe == cadence.DedupeReject {
			return &SubmitResult{Run: got}, err
		}
		return &SubmitResult{Run: got}, nil
	}
	if err != nil {
		return nil, err
	}
	e.created(got)
	return &SubmitResult{Run: got, Created: created}, nil
}

func (e *Engine) created(r *run.Run) {
	if e.onCreate != nil {
		e.onCreate(r)
	}
}

// ──────────────────────────────────────────────────
// Schedule management
// ──────────────────────────────────────────────────

// CreateSchedule validates and persists a schedule for the context tenant.
// The job and calendar must exist.
func (e *Engine) CreateSchedule(ctx context.Context, s *Schedule) (*Schedule, error) {
	if err := e.validate(ctx, s); err != nil {
		return nil, err
	}
	s.Entity = cadence.NewEntity(scope.Tenant(ctx))
	s.ID = id.NewScheduleID()
	if s.Roll == "" {
		s.Roll = RollForward
	}
	next, err := e.next(s, e.now())
	if err != nil {
		return nil, err
	}
	s.NextRunAt = &next
	if err := e.store.CreateSchedule(ctx, s); err != nil {
		return nil, fmt.Errorf("create schedule %q: %w", s.Name, err)
	}
	e.logger.Info("schedule created",
		slog.String("schedule_id", s.ID.String()),
		slog.String("name", s.Name),
		slog.String("job_key", s.JobKey),
		slog.String("expr", s.Expr),
		slog.Time("next_run_at", next),
	)
	return s, nil
}

// UpdateSchedule replaces the rule of a schedule and recomputes NextRunAt.
func (e *Engine) UpdateSchedule(ctx context.Context, scheduleID id.ID, next Schedule) (*Schedule, error) {
	cur, err := e.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	upd := *cur
	upd.Name = next.Name
	upd.JobKey = next.JobKey
	upd.Expr = next.Expr
	upd.Timezone = next.Timezone
	upd.CalendarKey = next.CalendarKey
	upd.Roll = next.Roll
	upd.Payload = next.Payload
	upd.Enabled = next.Enabled
	if upd.Roll == "" {
		upd.Roll = RollForward
	}
	if err := e.validate(ctx, &upd); err != nil {
		return nil, err
	}
	return e.save(ctx, cur, &upd)
}

// SetScheduleEnabled turns a schedule on or off. Turning it on recomputes
// NextRunAt from now so occurrences missed while off do not fire.
func (e *Engine) SetScheduleEnabled(ctx context.Context, scheduleID id.ID, enabled bool) (*Schedule, error) {
	cur, err := e.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	upd := *cur
	upd.Enabled = enabled
	return e.save(ctx, cur, &upd)
}

func (e *Engine) save(ctx context.Context, cur, upd *Schedule) (*Schedule, error) {
	now := e.now()
	nextAt, err := e.next(upd, now)
	if err != nil {
		return nil, err
	}
	upd.NextRunAt = &nextAt
	upd.Touch(now)
	if err := e.store.UpdateSchedule(ctx, upd, cur.Version); err != nil {
		return nil, fmt.Errorf("update schedule %s: %w", cur.ID, err)
	}
	return upd, nil
}

// GetSchedule returns a schedule of the context tenant.
func (e *Engine) GetSchedule(ctx context.Context, scheduleID id.ID) (*Schedule, error) {
	s, err := e.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, err
	}
	if s.TenantID != scope.Tenant(ctx) {
		return nil, cadence.NotFound("schedule", scheduleID.String())
	}
	return s, nil
}

// ListSchedules returns the context tenant's schedules.
func (e *Engine) ListSchedules(ctx context.Context, opts ListOpts) ([]*Schedule, error) {
	opts.Tenant = scope.Tenant(ctx)
	return e.store.ListSchedules(ctx, opts)
}

// DeleteSchedule removes a schedule. Runs it created are kept.
func (e *Engine) DeleteSchedule(ctx context.Context, scheduleID id.ID) error {
	if _, err := e.GetSchedule(ctx, scheduleID); err != nil {
		return err
	}
	return e.store.DeleteSchedule(ctx, scheduleID)
}

func (e *Engine) validate(ctx context.Context, s *Schedule) error {
	if err := s.Validate(); err != nil {
		return err
	}
	if _, err := e.jobs.GetByKey(ctx, s.JobKey); err != nil {
		return err
	}
	if s.CalendarKey != "" {
		if _, err := e.calendars.Get(ctx, s.CalendarKey); err != nil {
			return err
		}
	}
	return nil
}

// next returns the first occurrence of s strictly after t.
func (e *Engine) next(s *Schedule, t time.Time) (time.Time, error) {
	sched, err := e.schedule(s.Expr)
	if err != nil {
		return time.Time{}, cadence.Invalid("expr", "%v", err)
	}
	loc, err := s.location()
	if err != nil {
		return time.Time{}, cadence.Invalid("timezone", "unknown time zone %q", s.Timezone)
	}
	return sched.Next(t.In(loc)).UTC(), nil
}

// schedule caches parsed expressions.
func (e *Engine) schedule(expr string) (cronlib.Schedule, error) {
	e.parsedMu.RLock()
	sched, ok := e.parsed[expr]
	e.parsedMu.RUnlock()
	if ok {
		return sched, nil
	}
	sched, err := ParseExpr(expr)
	if err != nil {
		return nil, err
	}
	e.parsedMu.Lock()
	e.parsed[expr] = sched
	e.parsedMu.Unlock()
	return sched, nil
}
