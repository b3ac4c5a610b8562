package trigger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/scope"
)

// dueBatch bounds the schedules fired per tick.
const dueBatch = 500

// Outcome describes what a firing did.
type Outcome string

const (
	OutcomeFired    Outcome = "fired"
	OutcomeRolled   Outcome = "rolled"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeDisabled Outcome = "job_disabled"
	OutcomeExisting Outcome = "already_fired"
	OutcomeError    Outcome = "error"
)

// Start launches the tick loop.
func (e *Engine) Start(_ context.Context) error {
	e.wg.Add(1)
	go e.tickLoop()
	e.logger.Info("trigger engine started",
		slog.String("node_id", e.nodeID),
		slog.Duration("tick_interval", e.tickInterval),
	)
	return nil
}

// Stop signals the loop to stop and waits for it.
func (e *Engine) Stop(_ context.Context) error {
	close(e.stopCh)
	e.wg.Wait()
	e.logger.Info("trigger engine stopped")
	return nil
}

func (e *Engine) tickLoop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			if e.leader != nil && !e.leader.IsLeader() {
				continue
			}
			if _, err := e.Tick(context.Background()); err != nil {
				e.logger.Error("trigger tick error", slog.String("error", err.Error()))
			}
		}
	}
}

// Tick fires every due schedule once and returns the outcome per schedule
// ID. Callers are responsible for only ticking on the leader.
func (e *Engine) Tick(ctx context.Context) (map[string]Outcome, error) {
	now := e.now().UTC()
	due, err := e.store.ListDueSchedules(ctx, now, dueBatch)
	if err != nil {
		return nil, err
	}
	out := make(map[string]Outcome, len(due))
	for _, s := range due {
		if o, ok := e.fire(ctx, s, now); ok {
			out[s.ID.String()] = o
		}
	}
	return out, nil
}

// fire handles the occurrence of s due at s.NextRunAt. It reports false if
// another node holds the schedule lock.
func (e *Engine) fire(ctx context.Context, s *Schedule, now time.Time) (Outcome, bool) {
	acquired, err := e.store.AcquireScheduleLock(ctx, s.ID, e.nodeID, e.lockTTL)
	if err != nil {
		e.logger.Error("acquire schedule lock error",
			slog.String("schedule_id", s.ID.String()),
			slog.String("error", err.Error()),
		)
		return OutcomeError, true
	}
	if !acquired {
		return "", false
	}
	defer func() {
		if relErr := e.store.ReleaseScheduleLock(ctx, s.ID, e.nodeID); relErr != nil {
			e.logger.Error("release schedule lock error",
				slog.String("schedule_id", s.ID.String()),
				slog.String("error", relErr.Error()),
			)
		}
	}()

	ctx = scope.WithTenant(ctx, s.TenantID)
	due := s.NextRunAt.UTC()
	outcome, err := e.materialize(ctx, s, due, now)
	log := e.logger.With(
		slog.String("schedule_id", s.ID.String()),
		slog.String("schedule", s.Name),
		slog.String("job_key", s.JobKey),
		slog.Time("due", due),
	)
	if err != nil {
		// Leave NextRunAt on this occurrence so the next tick retries it.
		// The firing key keeps a retry from creating a second run.
		log.Error("schedule firing failed", slog.String("error", err.Error()))
		return OutcomeError, true
	}
	log.Info("schedule fired", slog.String("outcome", string(outcome)))

	// Occurrences missed while down collapse into the one just handled.
	next, nextErr := e.next(s, now)
	if nextErr != nil {
		log.Error("compute next occurrence failed", slog.String("error", nextErr.Error()))
		return OutcomeError, true
	}
	if advErr := e.store.AdvanceSchedule(ctx, s.ID, due, next); advErr != nil {
		log.Error("advance schedule failed", slog.String("error", advErr.Error()))
	}
	return outcome, true
}

// materialize creates the run for one occurrence, applying the job's
// enabled flag and the schedule's calendar.
func (e *Engine) materialize(ctx context.Context, s *Schedule, due, now time.Time) (Outcome, error) {
	j, err := e.jobs.GetByKey(ctx, s.JobKey)
	if err != nil {
		return OutcomeError, err
	}
	if !j.Enabled {
		return OutcomeDisabled, nil
	}

	fireAt, outcome := due, OutcomeFired
	if s.CalendarKey != "" {
		cal, err := e.calendars.Get(ctx, s.CalendarKey)
		if err != nil {
			return OutcomeError, err
		}
		if !calendar.IsBusinessDay(cal, due) {
			if s.rollPolicy() == RollSkip {
				return OutcomeSkipped, nil
			}
			fireAt, err = calendar.RollForward(cal, due)
			if err != nil {
				return OutcomeError, err
			}
			outcome = OutcomeRolled
		}
	}

	key := FiringKey(s.ID, due)
	prior, err := e.ledger.List(ctx, run.ListOpts{JobID: j.ID, DedupeKey: key, Limit: 1})
	if err != nil {
		return OutcomeError, err
	}
	if len(prior) > 0 {
		return OutcomeExisting, nil
	}

	r := run.New(j, s.Payload, fireAt, now)
	r.ScheduleID = s.ID
	r.DedupeKey = key
	if _, _, err := e.ledger.Create(ctx, r); err != nil {
		if errors.Is(err, cadence.ErrDedupeConflict) {
			return OutcomeExisting, nil
		}
		return OutcomeError, err
	}
	e.created(r)
	return outcome, nil
}
