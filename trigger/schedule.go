package trigger

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	cronlib "github.com/robfig/cron/v3"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
)

// RollPolicy decides what happens to an occurrence that falls on a
// non-business day of the schedule's calendar.
type RollPolicy string

const (
	// RollForward fires at the same wall-clock time on the next business day.
	RollForward RollPolicy = "forward"
	// RollSkip drops the occurrence.
	RollSkip RollPolicy = "skip"
)

// Schedule is a recurrence rule that materializes runs of a job.
type Schedule struct {
	cadence.Entity

	ID          id.ID      `json:"id"`
	Name        string     `json:"name"`
	JobKey      string     `json:"job_key"`
	Expr        string     `json:"expr"`
	Timezone    string     `json:"timezone,omitempty"`
	CalendarKey string     `json:"calendar_key,omitempty"`
	Roll        RollPolicy `json:"roll,omitempty"`
	Payload     []byte     `json:"payload,omitempty"`
	Enabled     bool       `json:"enabled"`
	LastRunAt   *time.Time `json:"last_run_at,omitempty"`
	NextRunAt   *time.Time `json:"next_run_at,omitempty"`
	LockedBy    string     `json:"locked_by,omitempty"`
	LockedUntil *time.Time `json:"locked_until,omitempty"`
}

// parser supports standard 5-field cron and descriptors like "@every 30s".
var parser = cronlib.NewParser(
	cronlib.Minute | cronlib.Hour | cronlib.Dom | cronlib.Month | cronlib.Dow | cronlib.Descriptor,
)

// ParseExpr parses a recurrence expression.
func ParseExpr(expr string) (cronlib.Schedule, error) {
	return parser.Parse(expr)
}

// Validate checks the fields that do not need other subsystems.
func (s *Schedule) Validate() error {
	switch {
	case s.Name == "":
		return cadence.Invalid("name", "must not be empty")
	case s.JobKey == "":
		return cadence.Invalid("job_key", "must not be empty")
	case s.Roll != "" && s.Roll != RollForward && s.Roll != RollSkip:
		return cadence.Invalid("roll", "must be forward or skip, got %q", s.Roll)
	}
	if _, err := ParseExpr(s.Expr); err != nil {
		return cadence.Invalid("expr", "%v", err)
	}
	if _, err := s.location(); err != nil {
		return cadence.Invalid("timezone", "unknown time zone %q", s.Timezone)
	}
	return nil
}

func (s *Schedule) location() (*time.Location, error) {
	if s.Timezone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(s.Timezone)
}

// rollPolicy returns the effective roll policy.
func (s *Schedule) rollPolicy() RollPolicy {
	if s.Roll == "" {
		return RollForward
	}
	return s.Roll
}

// firingNamespace scopes deterministic firing keys.
var firingNamespace = uuid.MustParse("6f1d9c3e-2b6a-4f0e-9d59-5a4c2f7e8b10")

// FiringKey is the dedupe key of the run created for the occurrence of
// scheduleID nominally due at due. Every scan computes the same key for
// the same occurrence.
func FiringKey(scheduleID id.ID, due time.Time) string {
	name := fmt.Sprintf("%s|%d", scheduleID, due.UTC().Unix())
	return "sched:" + uuid.NewSHA1(firingNamespace, []byte(name)).String()
}
