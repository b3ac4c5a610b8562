package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/run"
)

// Result is the outcome of a worker report or forced failure.
type Result struct {
	// Run is the updated record of the reported attempt.
	Run *run.Run `json:"run"`
	// Next is the retry successor, if one was scheduled.
	Next *run.Run `json:"next,omitempty"`
}

// Controller turns worker reports and timeouts into ledger writes and
// schedules retries with the backoff captured in each run's policy.
type Controller struct {
	ledger *run.Ledger
	logger *slog.Logger
}

// NewController creates a retry controller.
func NewController(ledger *run.Ledger, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{ledger: ledger, logger: logger}
}

// owned checks that a report concerns the attempt workerID is running. A
// nil workerID skips the ownership check.
func owned(cur run.Run, workerID id.ID) error {
	if cur.Status.Terminal() {
		return fmt.Errorf("run %s in status %s: %w", cur.ID, cur.Status, cadence.ErrAlreadyTerminal)
	}
	if cur.Status != run.StatusRunning {
		return fmt.Errorf("run %s in status %s: %w", cur.ID, cur.Status, cadence.ErrInvalidState)
	}
	if !workerID.IsNil() && cur.WorkerID.String() != workerID.String() {
		return fmt.Errorf("run %s is held by worker %s, not %s: %w", cur.ID, cur.WorkerID, workerID, cadence.ErrInvalidState)
	}
	return nil
}

// Complete records a worker-reported success and frees its slot.
func (c *Controller) Complete(ctx context.Context, runID, workerID id.ID) (*run.Run, error) {
	updated, err := c.ledger.Mutate(ctx, runID, func(cur run.Run) (*run.Change, error) {
		if err := owned(cur, workerID); err != nil {
			return nil, err
		}
		next, events, err := run.Succeed(cur, c.ledger.Now())
		if err != nil {
			return nil, err
		}
		return &run.Change{Run: &next, Release: cur.WorkerID, Events: events}, nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("run succeeded",
		slog.String("run_id", updated.ID.String()),
		slog.String("job_key", updated.JobKey),
		slog.Int("attempt", updated.Attempt),
		slog.Int64("duration_ms", updated.Metrics.DurationMs),
	)
	return updated, nil
}

// Fail records a worker-reported failure. Below MaxAttempts the run ends
// Failed and a successor is inserted, dispatchable after the backoff
// delay; the final attempt ends Dead.
func (c *Controller) Fail(ctx context.Context, runID, workerID id.ID, cause string) (*Result, error) {
	return c.fail(ctx, runID, workerID, cause, nil)
}

// Timeout force-fails a running run that exceeded its timeout. It is a
// no-op returning nil if the attempt is no longer the one observed.
func (c *Controller) Timeout(ctx context.Context, observed *run.Run) (*Result, error) {
	if observed.StartedAt == nil {
		return nil, nil
	}
	startedAt := *observed.StartedAt
	return c.fail(ctx, observed.ID, observed.WorkerID, "", func(cur run.Run, now time.Time) (string, bool) {
		if cur.Status != run.StatusRunning || cur.StartedAt == nil || !cur.StartedAt.Equal(startedAt) {
			return "", false
		}
		return (&cadence.TimeoutError{
			RunID:   cur.ID,
			Timeout: cur.Policy.Timeout(),
			Elapsed: now.Sub(startedAt),
		}).Error(), true
	})
}

// causeFunc derives a failure cause from the current record; false leaves
// the run untouched.
type causeFunc func(cur run.Run, now time.Time) (string, bool)

func (c *Controller) fail(ctx context.Context, runID, workerID id.ID, cause string, derive causeFunc) (*Result, error) {
	var res *Result
	updated, err := c.ledger.Mutate(ctx, runID, func(cur run.Run) (*run.Change, error) {
		res = nil
		now := c.ledger.Now()
		reason := cause
		if derive != nil {
			var ok bool
			if reason, ok = derive(cur, now); !ok {
				return nil, nil
			}
		} else if err := owned(cur, workerID); err != nil {
			return nil, err
		}
		next, events, err := run.Fail(cur, reason, now)
		if err != nil {
			return nil, err
		}
		ch := &run.Change{Run: &next, Release: cur.WorkerID, Events: events}
		res = &Result{Run: &next}
		if next.Status == run.StatusFailed {
			succ, err := run.Successor(next, next.Policy.Backoff.Delay(next.Attempt), now)
			if err != nil {
				return nil, err
			}
			ch.Successor = succ
			res.Next = succ
		}
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	if res == nil {
		return nil, nil
	}
	res.Run = updated
	if res.Next != nil {
		c.logger.Warn("run failed, retry scheduled",
			slog.String("run_id", updated.ID.String()),
			slog.String("job_key", updated.JobKey),
			slog.Int("attempt", updated.Attempt),
			slog.String("next_run_id", res.Next.ID.String()),
			slog.Time("not_before", res.Next.NotBefore),
			slog.String("error", updated.Error),
		)
	} else {
		c.logger.Error("run dead",
			slog.String("run_id", updated.ID.String()),
			slog.String("job_key", updated.JobKey),
			slog.Int("attempt", updated.Attempt),
			slog.String("error", updated.Error),
		)
	}
	return res, nil
}

// Cancel ends an active run as Dead. A running run's slot is released at
// once; its worker learns of the cancellation on its next heartbeat.
func (c *Controller) Cancel(ctx context.Context, runID id.ID, reason string) (*run.Run, error) {
	updated, err := c.ledger.Mutate(ctx, runID, func(cur run.Run) (*run.Change, error) {
		next, events, err := run.Cancel(cur, reason, c.ledger.Now())
		if err != nil {
			return nil, err
		}
		ch := &run.Change{Run: &next, Events: events}
		if cur.Status == run.StatusRunning {
			ch.Release = cur.WorkerID
		}
		return ch, nil
	})
	if err != nil {
		return nil, err
	}
	c.logger.Info("run cancelled",
		slog.String("run_id", updated.ID.String()),
		slog.String("job_key", updated.JobKey),
		slog.String("reason", updated.Error),
	)
	return updated, nil
}

// Replay starts a manual retry of a dead, failed or missed run. It is
// refused while another run of the same chain is still active, such as
// the pending successor of a failed run. If the run's dedupe key is held
// by another active run, that run is returned with a dedupe ConflictError.
func (c *Controller) Replay(ctx context.Context, runID id.ID) (*run.Run, error) {
	cur, err := c.ledger.Get(ctx, runID)
	if err != nil {
		return nil, err
	}
	next, err := run.Replay(*cur, c.ledger.Now())
	if err != nil {
		return nil, err
	}
	chain, err := c.ledger.List(ctx, run.ListOpts{RootID: cur.RootID})
	if err != nil {
		return nil, fmt.Errorf("list chain of run %s: %w", cur.ID, err)
	}
	for _, r := range chain {
		if r.Status.Active() {
			return nil, fmt.Errorf("retry run %s while run %s of its chain is %s: %w", cur.ID, r.ID, r.Status, cadence.ErrNotRetryable)
		}
	}
	created, ok, err := c.ledger.Create(ctx, next)
	if err != nil {
		if !ok && errors.Is(err, cadence.ErrDedupeConflict) {
			return created, err
		}
		return nil, err
	}
	c.logger.Info("run replayed",
		slog.String("run_id", created.ID.String()),
		slog.String("previous_id", runID.String()),
		slog.String("job_key", created.JobKey),
	)
	return created, nil
}
