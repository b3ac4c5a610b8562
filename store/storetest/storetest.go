// Package storetest is a conformance suite for store.Store backends.
// Every backend runs it from its own tests:
//
//	func TestConformance(t *testing.T) {
//		storetest.Run(t, func(t *testing.T) store.Store { return memory.New() })
//	}
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/store"
	"github.com/xraph/cadence/trigger"
)

// Open returns a fresh, migrated, empty store.
type Open func(t *testing.T) store.Store

// base is a fixed instant at millisecond precision, which every backend
// stores exactly.
var base = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

// Run executes the suite against stores produced by open.
func Run(t *testing.T, open Open) {
	t.Run("Calendars", func(t *testing.T) { testCalendars(t, open(t)) })
	t.Run("Jobs", func(t *testing.T) { testJobs(t, open(t)) })
	t.Run("RunCreateAndList", func(t *testing.T) { testRunCreateAndList(t, open(t)) })
	t.Run("RunDedupe", func(t *testing.T) { testRunDedupe(t, open(t)) })
	t.Run("RunDispatchOrder", func(t *testing.T) { testDispatchOrder(t, open(t)) })
	t.Run("ApplyClaim", func(t *testing.T) { testApplyClaim(t, open(t)) })
	t.Run("ApplyFailWithSuccessor", func(t *testing.T) { testApplySuccessor(t, open(t)) })
	t.Run("ApplyConcurrencyLimit", func(t *testing.T) { testConcurrencyLimit(t, open(t)) })
	t.Run("Schedules", func(t *testing.T) { testSchedules(t, open(t)) })
	t.Run("ScheduleLock", func(t *testing.T) { testScheduleLock(t, open(t)) })
	t.Run("Events", func(t *testing.T) { testEvents(t, open(t)) })
	t.Run("Workers", func(t *testing.T) { testWorkers(t, open(t)) })
	t.Run("Leadership", func(t *testing.T) { testLeadership(t, open(t)) })
}

// ──────────────────────────────────────────────────
// Fixtures
// ──────────────────────────────────────────────────

func newJob(t *testing.T, s store.Store, tenant, key string, opts ...job.Option) *job.Job {
	t.Helper()
	j := job.New(key, opts...)
	j.ID = id.NewJobID()
	j.Entity = cadence.NewEntity(tenant)
	j.CreatedAt, j.UpdatedAt = base, base
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create job %s: %v", key, err)
	}
	return j
}

func newRun(t *testing.T, s store.Store, j *job.Job, at time.Time, mutate func(*run.Run)) *run.Run {
	t.Helper()
	r := run.New(j, []byte(`{"month":"2024-06"}`), at, at)
	if mutate != nil {
		mutate(r)
	}
	holder, err := s.CreateRun(context.Background(), r)
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	if holder != nil {
		t.Fatalf("unexpected dedupe holder %s", holder.ID)
	}
	return r
}

func newWorker(t *testing.T, s store.Store, tenant, name string, maxParallel int) *cluster.Worker {
	t.Helper()
	w := &cluster.Worker{
		Entity:       cadence.NewEntity(tenant),
		ID:           id.NewWorkerID(),
		Name:         name,
		Hostname:     "host-" + name,
		Capabilities: cluster.Capabilities{Queues: []string{"default"}},
		Status:       cluster.StatusOnline,
		MaxParallel:  maxParallel,
		HeartbeatAt:  base,
		Metadata:     map[string]string{"zone": "eu-1"},
	}
	w.CreatedAt, w.UpdatedAt = base, base
	if err := s.RegisterWorker(context.Background(), w); err != nil {
		t.Fatalf("register worker %s: %v", name, err)
	}
	return w
}

func mustGetRun(t *testing.T, s store.Store, runID id.ID) *run.Run {
	t.Helper()
	r, err := s.GetRun(context.Background(), runID)
	if err != nil {
		t.Fatalf("get run %s: %v", runID, err)
	}
	return r
}

func claim(t *testing.T, s store.Store, r *run.Run, w *cluster.Worker, limit int, at time.Time) (*run.Run, error) {
	t.Helper()
	next, err := run.Claim(*r, w.ID, at)
	if err != nil {
		t.Fatalf("claim transition: %v", err)
	}
	err = s.Apply(context.Background(), &run.Change{
		Run:             &next,
		ExpectedVersion: r.Version,
		Claim:           &run.WorkerClaim{WorkerID: w.ID, ConcurrencyLimit: limit},
	})
	return &next, err
}

func ids[T any](items []T, get func(T) id.ID) []string {
	out := make([]string, len(items))
	for i, it := range items {
		out[i] = get(it).String()
	}
	return out
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// ──────────────────────────────────────────────────
// Calendars and jobs
// ──────────────────────────────────────────────────

func testCalendars(t *testing.T, s store.Store) {
	ctx := context.Background()
	c := &calendar.Calendar{
		Entity:   cadence.NewEntity("acme"),
		ID:       id.NewCalendarID(),
		Key:      "us-business",
		Name:     "US business days",
		Location: "America/New_York",
		Weekdays: calendar.MondayToFriday,
		Holidays: []string{"2024-07-04", "2024-12-25"},
	}
	if err := s.CreateCalendar(ctx, c); err != nil {
		t.Fatalf("create calendar: %v", err)
	}
	if err := s.CreateCalendar(ctx, c); !errors.Is(err, cadence.ErrConflict) {
		t.Fatalf("expected duplicate key conflict, got %v", err)
	}

	got, err := s.GetCalendar(ctx, "acme", "us-business")
	if err != nil {
		t.Fatalf("get calendar: %v", err)
	}
	if got.Weekdays != calendar.MondayToFriday || len(got.Holidays) != 2 || got.Location != "America/New_York" {
		t.Fatalf("unexpected calendar: %+v", got)
	}
	if _, err := s.GetCalendar(ctx, "globex", "us-business"); !errors.Is(err, cadence.ErrCalendarNotFound) {
		t.Fatalf("expected calendar not found for other tenant, got %v", err)
	}

	next := *got
	next.Holidays = append(next.Holidays, "2024-11-28")
	next.Touch(base)
	if err := s.UpdateCalendar(ctx, &next, got.Version); err != nil {
		t.Fatalf("update calendar: %v", err)
	}
	if err := s.UpdateCalendar(ctx, &next, got.Version); !errors.Is(err, cadence.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	list, err := s.ListCalendars(ctx, "acme", calendar.ListOpts{})
	if err != nil {
		t.Fatalf("list calendars: %v", err)
	}
	if len(list) != 1 || len(list[0].Holidays) != 3 {
		t.Fatalf("expected one calendar with 3 holidays, got %+v", list)
	}

	if err := s.DeleteCalendar(ctx, "acme", "us-business"); err != nil {
		t.Fatalf("delete calendar: %v", err)
	}
	if err := s.DeleteCalendar(ctx, "acme", "us-business"); !errors.Is(err, cadence.ErrNotFound) {
		t.Fatalf("expected not found on second delete, got %v", err)
	}
}

func testJobs(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newJob(t, s, "acme", "invoice-export", job.WithQueue("billing"), job.WithPriority(7))
	newJob(t, s, "acme", "ledger-close")
	newJob(t, s, "globex", "invoice-export")

	dup := job.New("invoice-export")
	dup.ID = id.NewJobID()
	dup.Entity = cadence.NewEntity("acme")
	if err := s.CreateJob(ctx, dup); !errors.Is(err, cadence.ErrJobAlreadyExists) {
		t.Fatalf("expected job already exists, got %v", err)
	}

	got, err := s.GetJobByKey(ctx, "acme", "invoice-export")
	if err != nil {
		t.Fatalf("get job by key: %v", err)
	}
	if got.ID.String() != a.ID.String() || got.Queue != "billing" || got.Priority != 7 || got.MaxAttempts != 3 {
		t.Fatalf("unexpected job: %+v", got)
	}

	next := *got
	next.Enabled = false
	next.Touch(base)
	if err := s.UpdateJob(ctx, &next, got.Version); err != nil {
		t.Fatalf("update job: %v", err)
	}
	if err := s.UpdateJob(ctx, &next, got.Version); !errors.Is(err, cadence.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if _, err := s.GetJob(ctx, id.NewJobID()); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Fatalf("expected job not found, got %v", err)
	}

	enabled := true
	list, err := s.ListJobs(ctx, "acme", job.ListOpts{Enabled: &enabled})
	if err != nil {
		t.Fatalf("list jobs: %v", err)
	}
	if len(list) != 1 || list[0].Key != "ledger-close" {
		t.Fatalf("expected only ledger-close enabled, got %d jobs", len(list))
	}
	list, err = s.ListJobs(ctx, "acme", job.ListOpts{Limit: 1, Offset: 1})
	if err != nil {
		t.Fatalf("list jobs page: %v", err)
	}
	if len(list) != 1 || list[0].Key != "ledger-close" {
		t.Fatalf("expected second page to hold ledger-close, got %+v", list)
	}
}

// ──────────────────────────────────────────────────
// Runs
// ──────────────────────────────────────────────────

func testRunCreateAndList(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(t, s, "acme", "invoice-export")
	first := newRun(t, s, j, base, nil)
	second := newRun(t, s, j, base.Add(time.Minute), nil)

	got := mustGetRun(t, s, first.ID)
	if got.Status != run.StatusPending || got.Attempt != 1 || got.RootID.String() != first.ID.String() {
		t.Fatalf("unexpected run: %+v", got)
	}
	if string(got.Payload) != `{"month":"2024-06"}` || got.Policy.MaxAttempts != 3 {
		t.Fatalf("payload or policy not persisted: %+v", got)
	}
	if !got.WorkerID.IsNil() || !got.PreviousID.IsNil() || got.StartedAt != nil {
		t.Fatalf("expected unset optional fields, got %+v", got)
	}

	list, err := s.ListRuns(ctx, run.ListOpts{Tenant: "acme", JobID: j.ID})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	want := []string{second.ID.String(), first.ID.String()}
	if got := ids(list, func(r *run.Run) id.ID { return r.ID }); !equalStrings(got, want) {
		t.Fatalf("expected newest first %v, got %v", want, got)
	}

	list, err = s.ListRuns(ctx, run.ListOpts{Tenant: "globex"})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected no runs for other tenant, got %d", len(list))
	}
	if _, err := s.GetRun(ctx, id.NewRunID()); !errors.Is(err, cadence.ErrRunNotFound) {
		t.Fatalf("expected run not found, got %v", err)
	}
}

func testRunDedupe(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(t, s, "acme", "invoice-export", job.WithDedupeWindow(3600))
	held := newRun(t, s, j, base, func(r *run.Run) { r.DedupeKey = "2024-06" })

	dup := run.New(j, nil, base.Add(time.Minute), base.Add(time.Minute))
	dup.DedupeKey = "2024-06"
	holder, err := s.CreateRun(ctx, dup)
	if !errors.Is(err, cadence.ErrDedupeConflict) {
		t.Fatalf("expected dedupe conflict, got %v", err)
	}
	if holder == nil || holder.ID.String() != held.ID.String() {
		t.Fatalf("expected holder %s, got %+v", held.ID, holder)
	}
	var ce *cadence.ConflictError
	if !errors.As(err, &ce) || ce.ExistingID.String() != held.ID.String() {
		t.Fatalf("expected conflict naming holder, got %v", err)
	}

	// Outside the window the key is free again.
	late := run.New(j, nil, base.Add(2*time.Hour), base.Add(2*time.Hour))
	late.DedupeKey = "2024-06"
	if holder, err := s.CreateRun(ctx, late); err != nil || holder != nil {
		t.Fatalf("expected insert outside window, got holder=%v err=%v", holder, err)
	}

	// A terminal run releases its key.
	other := newRun(t, s, j, base, func(r *run.Run) { r.DedupeKey = "2024-07" })
	cancelled, _, err := run.Cancel(*other, "operator", base)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if err := s.Apply(ctx, &run.Change{Run: &cancelled, ExpectedVersion: other.Version}); err != nil {
		t.Fatalf("apply cancel: %v", err)
	}
	again := run.New(j, nil, base.Add(time.Minute), base.Add(time.Minute))
	again.DedupeKey = "2024-07"
	if holder, err := s.CreateRun(ctx, again); err != nil || holder != nil {
		t.Fatalf("expected insert after terminal holder, got holder=%v err=%v", holder, err)
	}
}

func testDispatchOrder(t *testing.T, s store.Store) {
	ctx := context.Background()
	low := newJob(t, s, "acme", "low", job.WithPriority(2))
	high := newJob(t, s, "acme", "high", job.WithPriority(9))
	other := newJob(t, s, "acme", "other", job.WithQueue("reports"))

	a := newRun(t, s, low, base, nil)
	b := newRun(t, s, high, base.Add(2*time.Minute), nil)
	c := newRun(t, s, high, base.Add(time.Minute), nil)
	newRun(t, s, high, base.Add(time.Hour), nil) // not yet due
	newRun(t, s, other, base, nil)               // other queue

	list, err := s.ListDispatchable(ctx, run.DispatchFilter{Queue: "default"}, base.Add(5*time.Minute), 0)
	if err != nil {
		t.Fatalf("list dispatchable: %v", err)
	}
	want := []string{c.ID.String(), b.ID.String(), a.ID.String()}
	if got := ids(list, func(r *run.Run) id.ID { return r.ID }); !equalStrings(got, want) {
		t.Fatalf("expected dispatch order %v, got %v", want, got)
	}

	list, err = s.ListDispatchable(ctx, run.DispatchFilter{Queue: "default"}, base.Add(5*time.Minute), 1)
	if err != nil {
		t.Fatalf("list dispatchable: %v", err)
	}
	if len(list) != 1 || list[0].ID.String() != c.ID.String() {
		t.Fatalf("expected limit to keep the first run")
	}

	foreign := newJob(t, s, "globex", "low")
	newRun(t, s, foreign, base, nil)
	list, err = s.ListDispatchable(ctx, run.DispatchFilter{Queue: "default", Tenant: "acme", JobKeys: []string{"low"}}, base.Add(5*time.Minute), 0)
	if err != nil {
		t.Fatalf("list dispatchable: %v", err)
	}
	if len(list) != 1 || list[0].ID.String() != a.ID.String() {
		t.Fatalf("expected only the acme low run, got %v", ids(list, func(r *run.Run) id.ID { return r.ID }))
	}
}

func testApplyClaim(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(t, s, "acme", "invoice-export")
	w := newWorker(t, s, "acme", "w-1", 1)
	r1 := newRun(t, s, j, base, nil)
	r2 := newRun(t, s, j, base, nil)

	claimed, err := claim(t, s, r1, w, 0, base.Add(time.Second))
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	got := mustGetRun(t, s, r1.ID)
	if got.Status != run.StatusRunning || got.WorkerID.String() != w.ID.String() || got.Version != claimed.Version {
		t.Fatalf("unexpected claimed run: %+v", got)
	}
	if ww, _ := s.GetWorker(ctx, w.ID); ww.CurrentJobs != 1 {
		t.Fatalf("expected one slot taken, got %d", ww.CurrentJobs)
	}

	// Stale version.
	if _, err := claim(t, s, r1, w, 0, base); !errors.Is(err, cadence.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	if _, err := claim(t, s, r2, w, 0, base.Add(time.Second)); !errors.Is(err, cadence.ErrWorkerAtCapacity) {
		t.Fatalf("expected worker at capacity, got %v", err)
	}
	if mustGetRun(t, s, r2.ID).Status != run.StatusPending {
		t.Fatal("expected rejected claim to leave the run pending")
	}

	succeeded, events, err := run.Succeed(*got, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("succeed: %v", err)
	}
	if err := s.Apply(ctx, &run.Change{
		Run: &succeeded, ExpectedVersion: got.Version, Release: w.ID, Events: events,
	}); err != nil {
		t.Fatalf("apply succeed: %v", err)
	}
	if ww, _ := s.GetWorker(ctx, w.ID); ww.CurrentJobs != 0 {
		t.Fatalf("expected slot released, got %d", ww.CurrentJobs)
	}
	unacked, err := s.ListUnacked(ctx, 0)
	if err != nil {
		t.Fatalf("list unacked: %v", err)
	}
	if len(unacked) != 1 || unacked[0].Type != event.RunSucceeded {
		t.Fatalf("expected one succeeded event, got %+v", unacked)
	}

	if _, err := s.HeartbeatWorker(ctx, w.ID, cluster.StatusMaintenance, base.Add(time.Minute)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if _, err := claim(t, s, r2, w, 0, base.Add(time.Minute)); !errors.Is(err, cadence.ErrWorkerUnavailable) {
		t.Fatalf("expected worker unavailable, got %v", err)
	}
}

func testApplySuccessor(t *testing.T, s store.Store) {
	ctx := context.Background()
	j := newJob(t, s, "acme", "invoice-export")
	w := newWorker(t, s, "acme", "w-1", 2)
	r := newRun(t, s, j, base, nil)

	claimed, err := claim(t, s, r, w, 0, base)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	failed, events, err := run.Fail(*claimed, "upstream 503", base.Add(time.Minute))
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	next, err := run.Successor(failed, 30*time.Second, base.Add(time.Minute))
	if err != nil {
		t.Fatalf("successor: %v", err)
	}
	if err := s.Apply(ctx, &run.Change{
		Run: &failed, ExpectedVersion: claimed.Version, Release: w.ID, Successor: next, Events: events,
	}); err != nil {
		t.Fatalf("apply fail: %v", err)
	}

	chain, err := s.ListRuns(ctx, run.ListOpts{RootID: r.ID})
	if err != nil {
		t.Fatalf("list chain: %v", err)
	}
	if len(chain) != 2 {
		t.Fatalf("expected two records in chain, got %d", len(chain))
	}
	got := mustGetRun(t, s, next.ID)
	if got.Attempt != 2 || got.PreviousID.String() != r.ID.String() || !got.NotBefore.Equal(base.Add(90*time.Second)) {
		t.Fatalf("unexpected successor: %+v", got)
	}
	if prev := mustGetRun(t, s, r.ID); prev.Status != run.StatusFailed || prev.Error != "upstream 503" {
		t.Fatalf("unexpected failed record: %+v", prev)
	}
}

func testConcurrencyLimit(t *testing.T, s store.Store) {
	j := newJob(t, s, "acme", "invoice-export", job.WithConcurrencyLimit(1))
	w := newWorker(t, s, "acme", "w-1", 4)
	r1 := newRun(t, s, j, base, nil)
	r2 := newRun(t, s, j, base, nil)

	if _, err := claim(t, s, r1, w, 1, base); err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if _, err := claim(t, s, r2, w, 1, base); !errors.Is(err, cadence.ErrConcurrencyLimit) {
		t.Fatalf("expected concurrency limit, got %v", err)
	}
	n, err := s.CountRunning(context.Background(), j.ID)
	if err != nil {
		t.Fatalf("count running: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one running, got %d", n)
	}
}

// ──────────────────────────────────────────────────
// Schedules
// ──────────────────────────────────────────────────

func newSchedule(t *testing.T, s store.Store, name string, next time.Time, enabled bool) *trigger.Schedule {
	t.Helper()
	sc := &trigger.Schedule{
		Entity:      cadence.NewEntity("acme"),
		ID:          id.NewScheduleID(),
		Name:        name,
		JobKey:      "invoice-export",
		Expr:        "0 9 * * 1-5",
		Timezone:    "America/New_York",
		CalendarKey: "us-business",
		Roll:        trigger.RollForward,
		Payload:     []byte(`{"month":"2024-06"}`),
		Enabled:     enabled,
		NextRunAt:   &next,
	}
	if err := s.CreateSchedule(context.Background(), sc); err != nil {
		t.Fatalf("create schedule %s: %v", name, err)
	}
	return sc
}

func testSchedules(t *testing.T, s store.Store) {
	ctx := context.Background()
	a := newSchedule(t, s, "a-daily", base.Add(time.Minute), true)
	b := newSchedule(t, s, "b-early", base, true)
	newSchedule(t, s, "c-later", base.Add(time.Hour), true)
	newSchedule(t, s, "d-off", base, false)

	dup := *a
	dup.ID = id.NewScheduleID()
	if err := s.CreateSchedule(ctx, &dup); !errors.Is(err, cadence.ErrConflict) {
		t.Fatalf("expected duplicate name conflict, got %v", err)
	}

	due, err := s.ListDueSchedules(ctx, base.Add(5*time.Minute), 0)
	if err != nil {
		t.Fatalf("list due: %v", err)
	}
	want := []string{b.ID.String(), a.ID.String()}
	if got := ids(due, func(sc *trigger.Schedule) id.ID { return sc.ID }); !equalStrings(got, want) {
		t.Fatalf("expected due %v, got %v", want, got)
	}

	next := base.Add(24 * time.Hour)
	if err := s.AdvanceSchedule(ctx, b.ID, base, next); err != nil {
		t.Fatalf("advance: %v", err)
	}
	got, err := s.GetSchedule(ctx, b.ID)
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.LastRunAt == nil || !got.LastRunAt.Equal(base) || !got.NextRunAt.Equal(next) {
		t.Fatalf("unexpected advanced schedule: %+v", got)
	}
	if got.Roll != trigger.RollForward || got.CalendarKey != "us-business" || string(got.Payload) != `{"month":"2024-06"}` {
		t.Fatalf("fields not persisted: %+v", got)
	}

	upd := *got
	upd.Enabled = false
	upd.Touch(base)
	if err := s.UpdateSchedule(ctx, &upd, got.Version); err != nil {
		t.Fatalf("update schedule: %v", err)
	}
	if err := s.UpdateSchedule(ctx, &upd, got.Version); !errors.Is(err, cadence.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}

	list, err := s.ListSchedules(ctx, trigger.ListOpts{Tenant: "acme", Limit: 2})
	if err != nil {
		t.Fatalf("list schedules: %v", err)
	}
	if len(list) != 2 || list[0].Name != "a-daily" || list[1].Name != "b-early" {
		t.Fatalf("unexpected schedule page: %v", ids(list, func(sc *trigger.Schedule) id.ID { return sc.ID }))
	}

	if err := s.DeleteSchedule(ctx, a.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetSchedule(ctx, a.ID); !errors.Is(err, cadence.ErrScheduleNotFound) {
		t.Fatalf("expected schedule not found, got %v", err)
	}
}

func testScheduleLock(t *testing.T, s store.Store) {
	ctx := context.Background()
	sc := newSchedule(t, s, "daily", base, true)

	ok, err := s.AcquireScheduleLock(ctx, sc.ID, "node-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("node-a should acquire: ok=%v err=%v", ok, err)
	}
	ok, err = s.AcquireScheduleLock(ctx, sc.ID, "node-b", time.Minute)
	if err != nil || ok {
		t.Fatalf("node-b should not acquire: ok=%v err=%v", ok, err)
	}
	if err := s.ReleaseScheduleLock(ctx, sc.ID, "node-b"); err != nil {
		t.Fatalf("release by non-holder: %v", err)
	}
	if ok, _ := s.AcquireScheduleLock(ctx, sc.ID, "node-b", time.Minute); ok {
		t.Fatal("release by non-holder must not free the lock")
	}
	if err := s.ReleaseScheduleLock(ctx, sc.ID, "node-a"); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = s.AcquireScheduleLock(ctx, sc.ID, "node-b", time.Minute)
	if err != nil || !ok {
		t.Fatalf("node-b should acquire after release: ok=%v err=%v", ok, err)
	}
	if _, err := s.AcquireScheduleLock(ctx, id.NewScheduleID(), "node-a", time.Minute); !errors.Is(err, cadence.ErrNotFound) {
		t.Fatalf("expected not found for unknown schedule, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Events, workers, leadership
// ──────────────────────────────────────────────────

func testEvents(t *testing.T, s store.Store) {
	ctx := context.Background()
	var evts []*event.Event
	for i := range 3 {
		evt := event.New("acme", event.RunMissed, id.NewRunID(), map[string]int{"n": i}, base.Add(time.Duration(i)*time.Second))
		if err := s.PublishEvent(ctx, evt); err != nil {
			t.Fatalf("publish: %v", err)
		}
		evts = append(evts, evt)
	}

	if err := s.AckEvent(ctx, evts[0].ID); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if err := s.RecordAttempt(ctx, evts[1].ID, "sink down"); err != nil {
		t.Fatalf("record attempt: %v", err)
	}

	unacked, err := s.ListUnacked(ctx, 10)
	if err != nil {
		t.Fatalf("list unacked: %v", err)
	}
	want := []string{evts[1].ID.String(), evts[2].ID.String()}
	if got := ids(unacked, func(e *event.Event) id.ID { return e.ID }); !equalStrings(got, want) {
		t.Fatalf("expected unacked %v, got %v", want, got)
	}
	if unacked[0].Attempts != 1 || unacked[0].LastError != "sink down" {
		t.Fatalf("expected attempt recorded, got %+v", unacked[0])
	}
	var payload map[string]int
	if err := unacked[1].Decode(&payload); err != nil || payload["n"] != 2 {
		t.Fatalf("expected payload n=2, got %v (%v)", payload, err)
	}

	if err := s.ParkEvent(ctx, evts[1].ID, "sink rejected"); err != nil {
		t.Fatalf("park: %v", err)
	}
	unacked, err = s.ListUnacked(ctx, 10)
	if err != nil || len(unacked) != 1 || unacked[0].ID.String() != evts[2].ID.String() {
		t.Fatalf("expected the parked event left out, got %v (%v)", unacked, err)
	}

	if err := s.AckEvent(ctx, id.NewEventID()); !errors.Is(err, cadence.ErrEventNotFound) {
		t.Fatalf("expected event not found, got %v", err)
	}
	if err := s.ParkEvent(ctx, id.NewEventID(), "x"); !errors.Is(err, cadence.ErrEventNotFound) {
		t.Fatalf("expected event not found, got %v", err)
	}
}

func testWorkers(t *testing.T, s store.Store) {
	ctx := context.Background()
	w1 := newWorker(t, s, "acme", "w-1", 2)
	w2 := newWorker(t, s, "acme", "w-2", 2)
	newWorker(t, s, "globex", "w-3", 2)

	got, err := s.GetWorker(ctx, w1.ID)
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if got.Metadata["zone"] != "eu-1" || len(got.Capabilities.Queues) != 1 {
		t.Fatalf("unexpected worker: %+v", got)
	}

	cutoff := base.Add(time.Minute)
	if _, err := s.HeartbeatWorker(ctx, w2.ID, "", base.Add(2*time.Minute)); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	stale, err := s.ListStaleWorkers(ctx, cutoff)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 2 {
		t.Fatalf("expected w-1 and w-3 stale, got %d", len(stale))
	}

	evt := event.New("acme", event.WorkerOffline, w1.ID, nil, cutoff)
	changed, err := s.MarkWorkerOffline(ctx, w1.ID, cutoff, evt)
	if err != nil || !changed {
		t.Fatalf("expected w-1 marked offline: changed=%v err=%v", changed, err)
	}
	changed, err = s.MarkWorkerOffline(ctx, w1.ID, cutoff, evt)
	if err != nil || changed {
		t.Fatalf("expected second mark to be a no-op: changed=%v err=%v", changed, err)
	}
	changed, err = s.MarkWorkerOffline(ctx, w2.ID, cutoff, nil)
	if err != nil || changed {
		t.Fatalf("expected fresh w-2 untouched: changed=%v err=%v", changed, err)
	}
	unacked, _ := s.ListUnacked(ctx, 0)
	if len(unacked) != 1 || unacked[0].Type != event.WorkerOffline {
		t.Fatalf("expected one offline event, got %d", len(unacked))
	}

	back, err := s.HeartbeatWorker(ctx, w1.ID, "", base.Add(3*time.Minute))
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if back.Status != cluster.StatusOnline {
		t.Fatalf("expected offline worker back online, got %s", back.Status)
	}

	list, err := s.ListWorkers(ctx, cluster.ListOpts{Tenant: "acme"})
	if err != nil {
		t.Fatalf("list workers: %v", err)
	}
	if got := []string{list[0].Name, list[1].Name}; len(list) != 2 || !equalStrings(got, []string{"w-1", "w-2"}) {
		t.Fatalf("expected acme workers by name, got %+v", list)
	}

	if err := s.DeregisterWorker(ctx, w1.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := s.GetWorker(ctx, w1.ID); !errors.Is(err, cadence.ErrWorkerNotFound) {
		t.Fatalf("expected worker not found, got %v", err)
	}
}

func testLeadership(t *testing.T, s store.Store) {
	ctx := context.Background()

	ok, err := s.AcquireLeadership(ctx, "node-a", time.Minute)
	if err != nil || !ok {
		t.Fatalf("node-a should lead: ok=%v err=%v", ok, err)
	}
	if ok, _ := s.AcquireLeadership(ctx, "node-b", time.Minute); ok {
		t.Fatal("node-b must not take an unexpired lease")
	}
	if ok, _ := s.RenewLeadership(ctx, "node-a", time.Minute); !ok {
		t.Fatal("node-a should renew")
	}
	if ok, _ := s.RenewLeadership(ctx, "node-b", time.Minute); ok {
		t.Fatal("node-b must not renew a lease it does not hold")
	}
	leader, err := s.GetLeader(ctx)
	if err != nil || leader != "node-a" {
		t.Fatalf("expected node-a leader, got %q (%v)", leader, err)
	}

	// Let the lease lapse.
	if ok, _ := s.AcquireLeadership(ctx, "node-a", time.Millisecond); !ok {
		t.Fatal("node-a should re-acquire its own lease")
	}
	time.Sleep(20 * time.Millisecond)
	if leader, _ := s.GetLeader(ctx); leader != "" {
		t.Fatalf("expected no leader after expiry, got %q", leader)
	}
	if ok, _ := s.AcquireLeadership(ctx, "node-b", time.Minute); !ok {
		t.Fatal("node-b should take an expired lease")
	}
}
