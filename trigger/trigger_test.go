package trigger_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/scope"
	"github.com/xraph/cadence/store/memory"
	"github.com/xraph/cadence/trigger"
)

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

type fixture struct {
	st     *memory.Store
	clk    *clock
	jobs   *job.Registry
	cals   *calendar.Service
	ledger *run.Ledger
	ctx    context.Context
}

func newFixture(t *testing.T, start time.Time) *fixture {
	t.Helper()
	clk := &clock{t: start}
	st := memory.New(memory.WithClock(clk.now))
	f := &fixture{
		st:     st,
		clk:    clk,
		jobs:   job.NewRegistry(st, time.Minute, nil),
		cals:   calendar.NewService(st, time.Minute, nil),
		ledger: run.NewLedger(st, nil, run.WithClock(clk.now)),
		ctx:    scope.WithTenant(context.Background(), "acme"),
	}
	if _, err := f.jobs.Create(f.ctx, job.New("daily-report")); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return f
}

func (f *fixture) engine(node string, opts ...trigger.Option) *trigger.Engine {
	opts = append([]trigger.Option{trigger.WithClock(f.clk.now)}, opts...)
	return trigger.NewEngine(f.st, f.jobs, f.cals, f.ledger, nil, node, nil, opts...)
}

func (f *fixture) runsOf(t *testing.T, scheduleID id.ID) []*run.Run {
	t.Helper()
	all, err := f.ledger.List(f.ctx, run.ListOpts{Tenant: "acme"})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	var out []*run.Run
	for _, r := range all {
		if r.ScheduleID.String() == scheduleID.String() {
			out = append(out, r)
		}
	}
	return out
}

func TestScheduleValidate(t *testing.T) {
	tests := []struct {
		name  string
		s     trigger.Schedule
		field string
	}{
		{"missing name", trigger.Schedule{JobKey: "j", Expr: "@daily"}, "name"},
		{"missing job", trigger.Schedule{Name: "n", Expr: "@daily"}, "job_key"},
		{"bad expr", trigger.Schedule{Name: "n", JobKey: "j", Expr: "61 * * * *"}, "expr"},
		{"seconds field", trigger.Schedule{Name: "n", JobKey: "j", Expr: "0 0 9 * * *"}, "expr"},
		{"bad zone", trigger.Schedule{Name: "n", JobKey: "j", Expr: "@daily", Timezone: "Nowhere/City"}, "timezone"},
		{"bad roll", trigger.Schedule{Name: "n", JobKey: "j", Expr: "@daily", Roll: "backward"}, "roll"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ve *cadence.ValidationError
			if err := tt.s.Validate(); !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected a validation error on %q, got %v", tt.field, err)
			}
		})
	}

	ok := trigger.Schedule{Name: "n", JobKey: "j", Expr: "@every 30s"}
	if err := ok.Validate(); err != nil {
		t.Fatalf("expected @every to be accepted: %v", err)
	}
}

func TestFiringKey(t *testing.T) {
	sid := id.NewScheduleID()
	due := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

	if trigger.FiringKey(sid, due) != trigger.FiringKey(sid, due.In(time.FixedZone("X", 3600))) {
		t.Fatal("the same instant must give the same key")
	}
	if trigger.FiringKey(sid, due) == trigger.FiringKey(sid, due.Add(time.Minute)) {
		t.Fatal("different occurrences must give different keys")
	}
	if trigger.FiringKey(sid, due) == trigger.FiringKey(id.NewScheduleID(), due) {
		t.Fatal("different schedules must give different keys")
	}
}

func TestCreateScheduleInTimezone(t *testing.T) {
	f := newFixture(t, time.Date(2024, 6, 3, 12, 0, 0, 0, time.UTC))
	e := f.engine("node-a")

	s, err := e.CreateSchedule(f.ctx, &trigger.Schedule{
		Name: "ny-morning", JobKey: "daily-report", Expr: "0 9 * * *", Timezone: "America/New_York", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	// 09:00 EDT is 13:00 UTC.
	if want := time.Date(2024, 6, 3, 13, 0, 0, 0, time.UTC); !s.NextRunAt.Equal(want) {
		t.Fatalf("expected %s, got %s", want, s.NextRunAt)
	}
	if s.Roll != trigger.RollForward || s.TenantID != "acme" {
		t.Fatalf("unexpected defaults: roll=%q tenant=%q", s.Roll, s.TenantID)
	}

	if _, err := e.CreateSchedule(f.ctx, &trigger.Schedule{Name: "x", JobKey: "missing", Expr: "@daily"}); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
	if _, err := e.CreateSchedule(f.ctx, &trigger.Schedule{Name: "x", JobKey: "daily-report", Expr: "@daily", CalendarKey: "nope"}); !errors.Is(err, cadence.ErrCalendarNotFound) {
		t.Fatalf("expected ErrCalendarNotFound, got %v", err)
	}
}

func TestTickIsIdempotentPerOccurrence(t *testing.T) {
	start := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	a := f.engine("node-a")
	b := f.engine("node-b")

	s, err := a.CreateSchedule(f.ctx, &trigger.Schedule{Name: "daily", JobKey: "daily-report", Expr: "0 9 * * *", Enabled: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	due := *s.NextRunAt

	f.clk.set(due.Add(10 * time.Second))
	out, err := a.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick a: %v", err)
	}
	if out[s.ID.String()] != trigger.OutcomeFired {
		t.Fatalf("expected fired, got %v", out)
	}
	if out, _ := b.Tick(context.Background()); len(out) != 0 {
		t.Fatalf("expected node-b to find nothing due, got %v", out)
	}

	// Rewind the schedule as if the advance had been lost.
	if err := f.st.AdvanceSchedule(context.Background(), s.ID, due, due); err != nil {
		t.Fatalf("rewind: %v", err)
	}
	out, err = b.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick b: %v", err)
	}
	if out[s.ID.String()] != trigger.OutcomeExisting {
		t.Fatalf("expected the occurrence to be recognised, got %v", out)
	}

	runs := f.runsOf(t, s.ID)
	if len(runs) != 1 {
		t.Fatalf("expected exactly one run for the occurrence, got %d", len(runs))
	}
	if runs[0].DedupeKey != trigger.FiringKey(s.ID, due) || !runs[0].ScheduledAt.Equal(due) {
		t.Fatalf("unexpected run: key=%q scheduled=%s", runs[0].DedupeKey, runs[0].ScheduledAt)
	}
}

func TestTickCollapsesMissedOccurrences(t *testing.T) {
	start := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	e := f.engine("node-a")

	s, err := e.CreateSchedule(f.ctx, &trigger.Schedule{Name: "hourly", JobKey: "daily-report", Expr: "0 * * * *", Enabled: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	// Down for five hours.
	f.clk.set(start.Add(5*time.Hour + 30*time.Minute))
	if _, err := e.Tick(context.Background()); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if n := len(f.runsOf(t, s.ID)); n != 1 {
		t.Fatalf("expected missed occurrences to collapse into one run, got %d", n)
	}
	got, err := e.GetSchedule(f.ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if want := start.Add(6 * time.Hour); !got.NextRunAt.Equal(want) {
		t.Fatalf("expected next run %s, got %s", want, got.NextRunAt)
	}
}

// flakyRuns fails run inserts while down is set.
type flakyRuns struct {
	*memory.Store
	down bool
}

func (s *flakyRuns) CreateRun(ctx context.Context, r *run.Run) (*run.Run, error) {
	if s.down {
		return nil, errors.New("connection reset")
	}
	return s.Store.CreateRun(ctx, r)
}

func TestTickRetriesFailedFiring(t *testing.T) {
	start := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	runs := &flakyRuns{Store: f.st, down: true}
	ledger := run.NewLedger(runs, nil, run.WithClock(f.clk.now))
	e := trigger.NewEngine(f.st, f.jobs, f.cals, ledger, nil, "node-a", nil, trigger.WithClock(f.clk.now))

	s, err := e.CreateSchedule(f.ctx, &trigger.Schedule{Name: "daily", JobKey: "daily-report", Expr: "0 9 * * *", Enabled: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	due := *s.NextRunAt

	f.clk.set(due.Add(time.Second))
	out, err := e.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if out[s.ID.String()] != trigger.OutcomeError {
		t.Fatalf("expected an error outcome, got %v", out)
	}
	got, err := e.GetSchedule(f.ctx, s.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.NextRunAt.Equal(due) {
		t.Fatalf("expected the occurrence kept due at %s, got %s", due, got.NextRunAt)
	}

	runs.down = false
	f.clk.set(due.Add(time.Minute))
	out, err = e.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if out[s.ID.String()] != trigger.OutcomeFired {
		t.Fatalf("expected the retried firing to succeed, got %v", out)
	}
	created := f.runsOf(t, s.ID)
	if len(created) != 1 || !created[0].ScheduledAt.Equal(due) {
		t.Fatalf("expected one run for the original occurrence, got %v", created)
	}
}

func TestTickRollSkip(t *testing.T) {
	friday := time.Date(2024, 6, 7, 10, 0, 0, 0, time.UTC)
	f := newFixture(t, friday)
	e := f.engine("node-a")
	if _, err := f.cals.Create(f.ctx, &calendar.Calendar{Key: "weekdays", Weekdays: calendar.MondayToFriday}); err != nil {
		t.Fatalf("create calendar: %v", err)
	}
	s, err := e.CreateSchedule(f.ctx, &trigger.Schedule{
		Name: "daily", JobKey: "daily-report", Expr: "0 9 * * *", CalendarKey: "weekdays", Roll: trigger.RollSkip, Enabled: true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	f.clk.set(time.Date(2024, 6, 8, 9, 0, 1, 0, time.UTC))
	out, err := e.Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if out[s.ID.String()] != trigger.OutcomeSkipped {
		t.Fatalf("expected skipped, got %v", out)
	}
	if n := len(f.runsOf(t, s.ID)); n != 0 {
		t.Fatalf("expected no run on Saturday, got %d", n)
	}
}

func TestSetScheduleEnabledRecomputes(t *testing.T) {
	start := time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC)
	f := newFixture(t, start)
	e := f.engine("node-a")
	s, err := e.CreateSchedule(f.ctx, &trigger.Schedule{Name: "hourly", JobKey: "daily-report", Expr: "0 * * * *", Enabled: true})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := e.SetScheduleEnabled(f.ctx, s.ID, false); err != nil {
		t.Fatalf("disable: %v", err)
	}

	f.clk.set(start.Add(3*time.Hour + 15*time.Minute))
	if out, _ := e.Tick(context.Background()); len(out) != 0 {
		t.Fatalf("expected a disabled schedule not to fire, got %v", out)
	}
	on, err := e.SetScheduleEnabled(f.ctx, s.ID, true)
	if err != nil {
		t.Fatalf("enable: %v", err)
	}
	if want := start.Add(4 * time.Hour); !on.NextRunAt.Equal(want) {
		t.Fatalf("expected next run recomputed to %s, got %s", want, on.NextRunAt)
	}
}

func TestSubmitDedupePolicies(t *testing.T) {
	tests := []struct {
		name    string
		policy  cadence.DedupePolicy
		wantErr bool
	}{
		{"return existing", cadence.DedupeReturnExisting, false},
		{"reject", cadence.DedupeReject, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC))
			var offered []*run.Run
			e := f.engine("node-a",
				trigger.WithDedupePolicy(tt.policy),
				trigger.WithOnCreate(func(r *run.Run) { offered = append(offered, r) }),
			)
			req := trigger.SubmitRequest{JobKey: "daily-report", DedupeKey: "2024-06-03"}

			first, err := e.Submit(f.ctx, req)
			if err != nil || !first.Created {
				t.Fatalf("first submit: %+v %v", first, err)
			}
			second, err := e.Submit(f.ctx, req)
			if (err != nil) != tt.wantErr {
				t.Fatalf("second submit error = %v, want error %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, cadence.ErrDedupeConflict) {
				t.Fatalf("expected a dedupe conflict, got %v", err)
			}
			if second.Created || second.Run.ID.String() != first.Run.ID.String() {
				t.Fatalf("expected the holder back, got %+v", second)
			}
			if len(offered) != 1 {
				t.Fatalf("expected only the created run offered, got %d", len(offered))
			}
		})
	}
}

func TestSubmitDisabledJob(t *testing.T) {
	f := newFixture(t, time.Date(2024, 6, 3, 8, 0, 0, 0, time.UTC))
	e := f.engine("node-a")
	j, err := f.jobs.GetByKey(f.ctx, "daily-report")
	if err != nil {
		t.Fatalf("get job: %v", err)
	}
	if _, err := f.jobs.Disable(f.ctx, j.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}
	if _, err := e.Submit(f.ctx, trigger.SubmitRequest{JobKey: "daily-report"}); !errors.Is(err, cadence.ErrJobDisabled) {
		t.Fatalf("expected ErrJobDisabled, got %v", err)
	}
	if _, err := e.Submit(f.ctx, trigger.SubmitRequest{}); !cadence.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}
}
