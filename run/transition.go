package run

import (
	"fmt"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
)

// Transitions are pure: they take a run by value and return the next
// record plus the events it emits. The input is never modified. Every
// transition bumps the version.

// EventPayload is the body of every job.run.* event.
type EventPayload struct {
	RunID       id.ID     `json:"run_id"`
	RootID      id.ID     `json:"root_id"`
	JobID       id.ID     `json:"job_id"`
	JobKey      string    `json:"job_key"`
	Attempt     int       `json:"attempt"`
	MaxAttempts int       `json:"max_attempts"`
	Status      Status    `json:"status"`
	Error       string    `json:"error,omitempty"`
	WorkerID    id.ID     `json:"worker_id,omitempty"`
	ScheduledAt time.Time `json:"scheduled_at"`
}

func emit(r *Run, typ event.Type, now time.Time) *event.Event {
	return event.New(r.TenantID, typ, r.ID, EventPayload{
		RunID:       r.ID,
		RootID:      r.RootID,
		JobID:       r.JobID,
		JobKey:      r.JobKey,
		Attempt:     r.Attempt,
		MaxAttempts: r.Policy.MaxAttempts,
		Status:      r.Status,
		Error:       r.Error,
		WorkerID:    r.WorkerID,
		ScheduledAt: r.ScheduledAt,
	}, now)
}

func invalid(r Run, op string) error {
	return fmt.Errorf("%s run %s in status %s: %w", op, r.ID, r.Status, cadence.ErrInvalidState)
}

func finish(r *Run, now time.Time) {
	t := now.UTC()
	r.FinishedAt = &t
	if r.StartedAt != nil {
		r.Metrics.DurationMs = t.Sub(*r.StartedAt).Milliseconds()
	}
	r.Touch(now)
}

// Claim moves a dispatchable pending run to running on workerID.
func Claim(r Run, workerID id.ID, now time.Time) (Run, error) {
	if r.Status != StatusPending {
		return r, invalid(r, "claim")
	}
	if r.NotBefore.After(now) {
		return r, fmt.Errorf("claim run %s before %s: %w", r.ID, r.NotBefore.Format(time.RFC3339), cadence.ErrNotDispatchable)
	}
	t := now.UTC()
	r.Status = StatusRunning
	r.WorkerID = workerID
	r.StartedAt = &t
	r.Metrics.LatencyMs = max(t.Sub(r.ScheduledAt).Milliseconds(), 0)
	r.Touch(now)
	return r, nil
}

// Succeed records a worker-reported success.
func Succeed(r Run, now time.Time) (Run, []*event.Event, error) {
	if r.Status != StatusRunning {
		return r, nil, invalid(r, "complete")
	}
	r.Status = StatusSucceeded
	r.Error = ""
	finish(&r, now)
	return r, []*event.Event{emit(&r, event.RunSucceeded, now)}, nil
}

// Fail records a failed attempt. The attempt that exhausts MaxAttempts
// ends in Dead with an ExhaustedRetriesError, any earlier one in Failed.
func Fail(r Run, cause string, now time.Time) (Run, []*event.Event, error) {
	if r.Status != StatusRunning {
		return r, nil, invalid(r, "fail")
	}
	if r.Attempt >= r.Policy.MaxAttempts {
		r.Status = StatusDead
		r.Error = (&cadence.ExhaustedRetriesError{RunID: r.ID, Attempts: r.Attempt, Cause: cause}).Error()
		finish(&r, now)
		return r, []*event.Event{emit(&r, event.RunDead, now)}, nil
	}
	r.Status = StatusFailed
	r.Error = cause
	finish(&r, now)
	return r, []*event.Event{emit(&r, event.RunFailed, now)}, nil
}

// Miss marks a pending run that breached its SLA.
func Miss(r Run, now time.Time) (Run, []*event.Event, error) {
	if r.Status != StatusPending {
		return r, nil, invalid(r, "miss")
	}
	r.Status = StatusMissed
	r.Error = (&cadence.SLABreachError{RunID: r.ID, ScheduledAt: r.ScheduledAt, SLA: r.Policy.SLA()}).Error()
	finish(&r, now)
	return r, []*event.Event{emit(&r, event.RunMissed, now)}, nil
}

// Cancel moves an active run to Dead with reason. A running run's worker
// learns of it on its next heartbeat.
func Cancel(r Run, reason string, now time.Time) (Run, []*event.Event, error) {
	if r.Status.Terminal() {
		return r, nil, fmt.Errorf("cancel run %s in status %s: %w", r.ID, r.Status, cadence.ErrAlreadyTerminal)
	}
	if reason == "" {
		reason = "cancelled"
	}
	r.Status = StatusDead
	r.Error = reason
	finish(&r, now)
	return r, []*event.Event{emit(&r, event.RunDead, now)}, nil
}

// Requeue returns a running run to pending after its worker was lost. The
// run started in time, so its SLA is measured again from now.
func Requeue(r Run, now time.Time) (Run, error) {
	if r.Status != StatusRunning {
		return r, invalid(r, "requeue")
	}
	t := now.UTC()
	r.Status = StatusPending
	r.ScheduledAt = t
	r.NotBefore = t
	r.WorkerID = id.Nil
	r.StartedAt = nil
	r.Metrics = Metrics{}
	r.Touch(now)
	return r, nil
}

// Successor builds the next attempt of a failed run, dispatchable after
// delay. Its SLA is measured from that time.
func Successor(failed Run, delay time.Duration, now time.Time) (*Run, error) {
	if failed.Status != StatusFailed {
		return nil, invalid(failed, "retry")
	}
	due := now.Add(delay).UTC()
	next := &Run{
		Entity:      cadence.Entity{TenantID: failed.TenantID, CreatedAt: now.UTC(), UpdatedAt: now.UTC(), Version: 1},
		ID:          id.NewRunID(),
		JobID:       failed.JobID,
		JobKey:      failed.JobKey,
		JobVersion:  failed.JobVersion,
		ScheduleID:  failed.ScheduleID,
		Queue:       failed.Queue,
		Priority:    failed.Priority,
		Policy:      failed.Policy,
		DedupeKey:   failed.DedupeKey,
		Status:      StatusPending,
		Attempt:     failed.Attempt + 1,
		ScheduledAt: due,
		NotBefore:   due,
		Payload:     failed.Payload,
		PreviousID:  failed.ID,
		RootID:      failed.RootID,
	}
	return next, nil
}

// Replay starts a manual retry of a dead, failed or missed run as a new
// attempt 1 in the same chain.
func Replay(r Run, now time.Time) (*Run, error) {
	if !r.Status.Retryable() {
		return nil, fmt.Errorf("retry run %s in status %s: %w", r.ID, r.Status, cadence.ErrNotRetryable)
	}
	t := now.UTC()
	return &Run{
		Entity:      cadence.Entity{TenantID: r.TenantID, CreatedAt: t, UpdatedAt: t, Version: 1},
		ID:          id.NewRunID(),
		JobID:       r.JobID,
		JobKey:      r.JobKey,
		JobVersion:  r.JobVersion,
		ScheduleID:  r.ScheduleID,
		Queue:       r.Queue,
		Priority:    r.Priority,
		Policy:      r.Policy,
		DedupeKey:   r.DedupeKey,
		Status:      StatusPending,
		Attempt:     1,
		ScheduledAt: t,
		NotBefore:   t,
		Payload:     r.Payload,
		PreviousID:  r.ID,
		RootID:      r.RootID,
	}, nil
}
