package cadence

import (
	"errors"
	"fmt"
	"time"
)

var (
	// Store errors.
	ErrNoStore         = errors.New("cadence: no store configured")
	ErrStoreClosed     = errors.New("cadence: store closed")
	ErrMigrationFailed = errors.New("cadence: migration failed")

	// Taxonomy roots. Typed errors below match these with errors.Is.
	ErrValidation = errors.New("cadence: validation failed")
	ErrNotFound   = errors.New("cadence: not found")
	ErrConflict   = errors.New("cadence: conflict")

	// Not found errors.
	ErrJobNotFound      = &NotFoundError{Kind: "job"}
	ErrRunNotFound      = &NotFoundError{Kind: "run"}
	ErrWorkerNotFound   = &NotFoundError{Kind: "worker"}
	ErrCalendarNotFound = &NotFoundError{Kind: "calendar"}
	ErrScheduleNotFound = &NotFoundError{Kind: "schedule"}
	ErrEventNotFound    = &NotFoundError{Kind: "event"}

	// Conflict errors.
	ErrVersionConflict  = &ConflictError{Kind: ConflictVersion}
	ErrDedupeConflict   = &ConflictError{Kind: ConflictDedupe}
	ErrJobAlreadyExists = &ConflictError{Kind: ConflictDuplicate, Detail: "job key already exists"}
	ErrDuplicateKey     = &ConflictError{Kind: ConflictDuplicate}

	// State errors.
	ErrInvalidState      = errors.New("cadence: invalid state transition")
	ErrAlreadyTerminal   = errors.New("cadence: run already terminal")
	ErrNotRetryable      = errors.New("cadence: run is not in a retryable state")
	ErrJobDisabled       = errors.New("cadence: job disabled")
	ErrNotDispatchable   = errors.New("cadence: run not yet dispatchable")
	ErrNoBusinessDays    = errors.New("cadence: calendar has no business days")
	ErrWorkerUnavailable = errors.New("cadence: worker not online")
	ErrWorkerAtCapacity  = errors.New("cadence: worker at capacity")
	ErrConcurrencyLimit  = errors.New("cadence: job concurrency limit reached")
	ErrRateLimited       = errors.New("cadence: queue rate limited")

	// Cluster errors.
	ErrLeadershipLost = errors.New("cadence: leadership lost")
	ErrNotLeader      = errors.New("cadence: not the leader")
)

// ValidationError reports a malformed policy or submission. It is
// rejected synchronously and never retried.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "cadence: invalid: " + e.Message
	}
	return fmt.Sprintf("cadence: invalid %s: %s", e.Field, e.Message)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

// Invalid builds a ValidationError.
func Invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

// NotFoundError reports an unknown job, run, worker, calendar or schedule.
type NotFoundError struct {
	Kind string
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return "cadence: " + e.Kind + " not found"
	}
	return fmt.Sprintf("cadence: %s %q not found", e.Kind, e.Key)
}

// Is matches ErrNotFound and any NotFoundError of the same kind.
func (e *NotFoundError) Is(target error) bool {
	if target == ErrNotFound {
		return true
	}
	var nf *NotFoundError
	if errors.As(target, &nf) {
		return nf.Kind == e.Kind
	}
	return false
}

// NotFound returns a NotFoundError naming the missing key.
func NotFound(kind, key string) error { return &NotFoundError{Kind: kind, Key: key} }

// ConflictKind distinguishes the causes of a ConflictError.
type ConflictKind string

const (
	ConflictVersion   ConflictKind = "version"
	ConflictDedupe    ConflictKind = "dedupe"
	ConflictDuplicate ConflictKind = "duplicate"
)

// ConflictError reports a lost compare-and-swap, a dedupe collision or a
// duplicate unique key. Version conflicts are retried by the writer;
// dedupe collisions are surfaced to the caller with the holder's ID.
type ConflictError struct {
	Kind       ConflictKind
	ExistingID ID
	Detail     string
}

func (e *ConflictError) Error() string {
	msg := "cadence: " + string(e.Kind) + " conflict"
	if e.Detail != "" {
		msg += ": " + e.Detail
	}
	if !e.ExistingID.IsNil() {
		msg += " (existing " + e.ExistingID.String() + ")"
	}
	return msg
}

// Is matches ErrConflict and any ConflictError of the same kind.
func (e *ConflictError) Is(target error) bool {
	if target == ErrConflict {
		return true
	}
	var ce *ConflictError
	if errors.As(target, &ce) {
		return ce.Kind == e.Kind
	}
	return false
}

// TimeoutError marks a running run that exceeded its timeout. It is
// converted into a retryable failure.
type TimeoutError struct {
	RunID   ID
	Timeout time.Duration
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("cadence: run %s timed out after %s (limit %s)", e.RunID, e.Elapsed.Truncate(time.Millisecond), e.Timeout)
}

// SLABreachError describes a pending run that never started within its SLA.
// It is reported, never retried.
type SLABreachError struct {
	RunID       ID
	ScheduledAt time.Time
	SLA         time.Duration
}

func (e *SLABreachError) Error() string {
	return fmt.Sprintf("cadence: run %s missed SLA of %s (scheduled %s)", e.RunID, e.SLA, e.ScheduledAt.Format(time.RFC3339))
}

// ExhaustedRetriesError is recorded on a run that reached Dead by
// failing its final attempt.
type ExhaustedRetriesError struct {
	RunID    ID
	Attempts int
	Cause    string
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("cadence: run %s exhausted %d attempts: %s", e.RunID, e.Attempts, e.Cause)
}

// IsNotFound reports whether err is any NotFoundError.
func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

// IsConflict reports whether err is any ConflictError.
func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

// IsValidation reports whether err is a ValidationError.
func IsValidation(err error) bool { return errors.Is(err, ErrValidation) }
