package job

import (
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/backoff"
	"github.com/xraph/cadence/id"
)

// Strategy names a retry backoff strategy.
type Strategy string

const (
	// StrategyFixed waits BaseSec between every attempt.
	StrategyFixed Strategy = "fixed"
	// StrategyExponential waits BaseSec * 2^(attempt-1), capped at MaxSec.
	StrategyExponential Strategy = "exponential"
)

// Backoff is the retry delay policy of a job.
type Backoff struct {
	Strategy Strategy `json:"strategy"`
	BaseSec  int      `json:"base_sec"`
	MaxSec   int      `json:"max_sec,omitempty"`
}

// Schedule returns the backoff strategy this policy describes.
func (b Backoff) Schedule() backoff.Strategy {
	base := time.Duration(b.BaseSec) * time.Second
	if b.Strategy == StrategyExponential {
		return backoff.NewExponential(base, time.Duration(b.MaxSec)*time.Second)
	}
	return backoff.NewConstant(base)
}

// Delay returns the wait after failed attempt n (1-based).
func (b Backoff) Delay(attempt int) time.Duration {
	return b.Schedule().Delay(attempt)
}

// Policy is the execution policy of a job. Runs copy it at creation so
// later edits never change in-flight retry arithmetic.
type Policy struct {
	Queue            string  `json:"queue"`
	Priority         int     `json:"priority"`
	MaxAttempts      int     `json:"max_attempts"`
	Backoff          Backoff `json:"backoff"`
	TimeoutSec       int     `json:"timeout_sec"`
	ConcurrencyLimit int     `json:"concurrency_limit,omitempty"`
	SLASec           int     `json:"sla_sec,omitempty"`
	DedupeWindowSec  int     `json:"dedupe_window_sec,omitempty"`
}

// Priority bounds. MaxPriority is the most urgent.
const (
	MinPriority = 1
	MaxPriority = 9
)

// Validate checks the policy bounds.
func (p Policy) Validate() error {
	switch {
	case p.Queue == "":
		return cadence.Invalid("queue", "must not be empty")
	case p.Priority < MinPriority || p.Priority > MaxPriority:
		return cadence.Invalid("priority", "must be in [%d,%d], got %d", MinPriority, MaxPriority, p.Priority)
	case p.MaxAttempts < 1:
		return cadence.Invalid("max_attempts", "must be at least 1, got %d", p.MaxAttempts)
	case p.TimeoutSec < 1:
		return cadence.Invalid("timeout_sec", "must be at least 1, got %d", p.TimeoutSec)
	case p.Backoff.Strategy != StrategyFixed && p.Backoff.Strategy != StrategyExponential:
		return cadence.Invalid("backoff.strategy", "must be fixed or exponential, got %q", p.Backoff.Strategy)
	case p.Backoff.BaseSec <= 0:
		return cadence.Invalid("backoff.base_sec", "must be positive, got %d", p.Backoff.BaseSec)
	case p.Backoff.MaxSec != 0 && p.Backoff.MaxSec < p.Backoff.BaseSec:
		return cadence.Invalid("backoff.max_sec", "must be at least base_sec (%d), got %d", p.Backoff.BaseSec, p.Backoff.MaxSec)
	case p.ConcurrencyLimit < 0:
		return cadence.Invalid("concurrency_limit", "must not be negative")
	case p.SLASec < 0:
		return cadence.Invalid("sla_sec", "must not be negative")
	case p.DedupeWindowSec < 0:
		return cadence.Invalid("dedupe_window_sec", "must not be negative")
	}
	return nil
}

// Timeout is the maximum running time of one attempt.
func (p Policy) Timeout() time.Duration { return time.Duration(p.TimeoutSec) * time.Second }

// SLA is the maximum delay between scheduled time and start. Zero means none.
func (p Policy) SLA() time.Duration { return time.Duration(p.SLASec) * time.Second }

// DedupeWindow is how far back a dedupe key blocks new runs. Zero means
// for as long as the holder is active.
func (p Policy) DedupeWindow() time.Duration { return time.Duration(p.DedupeWindowSec) * time.Second }

// Job is a named, versioned execution policy.
type Job struct {
	cadence.Entity
	Policy

	ID          id.ID  `json:"id"`
	Key         string `json:"key"`
	Description string `json:"description,omitempty"`
	Enabled     bool   `json:"enabled"`
}

// Validate checks the key and policy.
func (j *Job) Validate() error {
	if j.Key == "" {
		return cadence.Invalid("key", "must not be empty")
	}
	return j.Policy.Validate()
}

// Patch is a partial update. Nil fields are left unchanged.
type Patch struct {
	Description      *string  `json:"description,omitempty"`
	Queue            *string  `json:"queue,omitempty"`
	Priority         *int     `json:"priority,omitempty"`
	MaxAttempts      *int     `json:"max_attempts,omitempty"`
	Backoff          *Backoff `json:"backoff,omitempty"`
	TimeoutSec       *int     `json:"timeout_sec,omitempty"`
	ConcurrencyLimit *int     `json:"concurrency_limit,omitempty"`
	SLASec           *int     `json:"sla_sec,omitempty"`
	DedupeWindowSec  *int     `json:"dedupe_window_sec,omitempty"`
	Enabled          *bool    `json:"enabled,omitempty"`
}

// Apply returns j with the patch applied. j is not modified.
func (p Patch) Apply(j Job) Job {
	if p.Description != nil {
		j.Description = *p.Description
	}
	if p.Queue != nil {
		j.Queue = *p.Queue
	}
	if p.Priority != nil {
		j.Priority = *p.Priority
	}
	if p.MaxAttempts != nil {
		j.MaxAttempts = *p.MaxAttempts
	}
	if p.Backoff != nil {
		j.Backoff = *p.Backoff
	}
	if p.TimeoutSec != nil {
		j.TimeoutSec = *p.TimeoutSec
	}
	if p.ConcurrencyLimit != nil {
		j.ConcurrencyLimit = *p.ConcurrencyLimit
	}
	if p.SLASec != nil {
		j.SLASec = *p.SLASec
	}
	if p.DedupeWindowSec != nil {
		j.DedupeWindowSec = *p.DedupeWindowSec
	}
	if p.Enabled != nil {
		j.Enabled = *p.Enabled
	}
	return j
}
