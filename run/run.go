package run

import (
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
)

// Status is the lifecycle state of a run.
type Status string

const (
	// StatusPending means the run waits for a worker.
	StatusPending Status = "pending"
	// StatusRunning means a worker claimed the run.
	StatusRunning Status = "running"
	// StatusSucceeded means the worker reported success.
	StatusSucceeded Status = "succeeded"
	// StatusFailed means the attempt failed and a successor was queued.
	StatusFailed Status = "failed"
	// StatusDead means attempts were exhausted or the run was cancelled.
	StatusDead Status = "dead"
	// StatusMissed means the run never started within its SLA.
	StatusMissed Status = "missed"
)

// Active reports whether the status is pending or running.
func (s Status) Active() bool { return s == StatusPending || s == StatusRunning }

// Terminal reports whether the record is immutable.
func (s Status) Terminal() bool { return !s.Active() }

// Retryable reports whether a manual retry may start a new chain from s.
func (s Status) Retryable() bool {
	return s == StatusDead || s == StatusFailed || s == StatusMissed
}

// Metrics are timings recorded on a run.
type Metrics struct {
	// LatencyMs is the delay between ScheduledAt and StartedAt.
	LatencyMs int64 `json:"latency_ms"`
	// DurationMs is the time between StartedAt and FinishedAt.
	DurationMs int64 `json:"duration_ms"`
}

// Run is one execution attempt of a job. Each retry is a separate run
// linked to its predecessor through PreviousID and to the first attempt
// of the chain through RootID.
type Run struct {
	cadence.Entity

	ID         id.ID      `json:"id"`
	JobID      id.ID      `json:"job_id"`
	JobKey     string     `json:"job_key"`
	JobVersion int64      `json:"job_version"`
	ScheduleID id.ID      `json:"schedule_id,omitempty"`
	Queue      string     `json:"queue"`
	Priority   int        `json:"priority"`
	Policy     job.Policy `json:"policy"`
	DedupeKey  string     `json:"dedupe_key,omitempty"`
	Status     Status     `json:"status"`
	Attempt    int        `json:"attempt"`

	// ScheduledAt is the nominal start time the SLA is measured from.
	ScheduledAt time.Time `json:"scheduled_at"`
	// NotBefore is the earliest time the run may be dispatched.
	NotBefore  time.Time  `json:"not_before"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`

	Error    string  `json:"error,omitempty"`
	Metrics  Metrics `json:"metrics"`
	WorkerID id.ID   `json:"worker_id,omitempty"`
	Payload  []byte  `json:"payload,omitempty"`

	PreviousID id.ID `json:"previous_id,omitempty"`
	RootID     id.ID `json:"root_id"`
}

// New creates the first attempt of a run of j, due at scheduledAt. The
// job's policy is copied into the run.
func New(j *job.Job, payload []byte, scheduledAt, now time.Time) *Run {
	if scheduledAt.IsZero() {
		scheduledAt = now
	}
	rid := id.NewRunID()
	ent := cadence.NewEntity(j.TenantID)
	ent.CreatedAt = now.UTC()
	ent.UpdatedAt = now.UTC()
	return &Run{
		Entity:      ent,
		ID:          rid,
		JobID:       j.ID,
		JobKey:      j.Key,
		JobVersion:  j.Version,
		Queue:       j.Queue,
		Priority:    j.Priority,
		Policy:      j.Policy,
		Status:      StatusPending,
		Attempt:     1,
		ScheduledAt: scheduledAt.UTC(),
		NotBefore:   scheduledAt.UTC(),
		Payload:     payload,
		RootID:      rid,
	}
}

// Clone returns a deep copy.
func (r *Run) Clone() *Run {
	cp := *r
	if r.StartedAt != nil {
		t := *r.StartedAt
		cp.StartedAt = &t
	}
	if r.FinishedAt != nil {
		t := *r.FinishedAt
		cp.FinishedAt = &t
	}
	if r.Payload != nil {
		cp.Payload = append([]byte(nil), r.Payload...)
	}
	return &cp
}

// Dispatchable reports whether the run may be claimed at now.
func (r *Run) Dispatchable(now time.Time) bool {
	return r.Status == StatusPending && !r.NotBefore.After(now)
}

// DispatchBefore reports whether a is dispatched before b within a queue:
// higher priority first, then earlier ScheduledAt, then earlier creation,
// then ID.
func DispatchBefore(a, b *Run) bool {
	if a.Priority != b.Priority {
		return a.Priority > b.Priority
	}
	if !a.ScheduledAt.Equal(b.ScheduledAt) {
		return a.ScheduledAt.Before(b.ScheduledAt)
	}
	if !a.CreatedAt.Equal(b.CreatedAt) {
		return a.CreatedAt.Before(b.CreatedAt)
	}
	return a.ID.Compare(b.ID) < 0
}
