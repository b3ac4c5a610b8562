package engine_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/calendar"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/engine"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/scope"
	"github.com/xraph/cadence/store/memory"
	"github.com/xraph/cadence/trigger"
)

// ──────────────────────────────────────────────────
// Harness
// ──────────────────────────────────────────────────

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

type harness struct {
	eng   *engine.Engine
	store *memory.Store
	clock *fakeClock
	sink  *event.ChannelSink
	ctx   context.Context
}

// Monday 2024-06-03 09:00 UTC.
var monday = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

func newHarness(t *testing.T, start time.Time, opts ...cadence.Option) *harness {
	t.Helper()
	clk := &fakeClock{t: start}
	st := memory.New(memory.WithClock(clk.Now))
	return newHarnessOn(t, st, clk, "node-a", opts...)
}

func newHarnessOn(t *testing.T, st *memory.Store, clk *fakeClock, node string, opts ...cadence.Option) *harness {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	opts = append([]cadence.Option{
		cadence.WithStore(st),
		cadence.WithLogger(logger),
		cadence.WithClock(clk.Now),
	}, opts...)
	s, err := cadence.New(opts...)
	if err != nil {
		t.Fatalf("cadence.New: %v", err)
	}
	sink := event.NewChannelSink(64)
	eng, err := engine.Build(s, engine.WithNodeID(node), engine.WithSink(sink))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}
	return &harness{
		eng:   eng,
		store: st,
		clock: clk,
		sink:  sink,
		ctx:   scope.WithTenant(context.Background(), "acme"),
	}
}

func (h *harness) createJob(t *testing.T, key string, opts ...job.Option) *job.Job {
	t.Helper()
	j, err := h.eng.Jobs().Create(h.ctx, job.New(key, opts...))
	if err != nil {
		t.Fatalf("create job %q: %v", key, err)
	}
	return j
}

func (h *harness) submit(t *testing.T, req trigger.SubmitRequest) *run.Run {
	t.Helper()
	res, err := h.eng.Submit(h.ctx, req)
	if err != nil {
		t.Fatalf("submit %q: %v", req.JobKey, err)
	}
	return res.Run
}

func (h *harness) register(t *testing.T, name string, maxParallel int) *cluster.Worker {
	t.Helper()
	w, err := h.eng.RegisterWorker(h.ctx, cluster.RegisterRequest{
		Name:         name,
		Capabilities: cluster.Capabilities{Queues: []string{"default"}},
		MaxParallel:  maxParallel,
	})
	if err != nil {
		t.Fatalf("register worker: %v", err)
	}
	return w
}

func (h *harness) claim(t *testing.T, w *cluster.Worker, limit int) []*run.Run {
	t.Helper()
	runs, err := h.eng.Claim(h.ctx, w.ID, limit)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	return runs
}

func (h *harness) get(t *testing.T, runID id.ID) *run.Run {
	t.Helper()
	r, err := h.eng.GetRun(h.ctx, runID)
	if err != nil {
		t.Fatalf("get run %s: %v", runID, err)
	}
	return r
}

// drain flushes the outbox and returns the event types delivered.
func (h *harness) drain(t *testing.T) []event.Type {
	t.Helper()
	n, err := h.eng.Relay().Flush(context.Background())
	if err != nil {
		t.Fatalf("flush relay: %v", err)
	}
	types := make([]event.Type, 0, n)
	for range n {
		types = append(types, (<-h.sink.C()).Type)
	}
	return types
}

// ──────────────────────────────────────────────────
// Build
// ──────────────────────────────────────────────────

func TestBuild_NoStore(t *testing.T) {
	s, err := cadence.New()
	if err != nil {
		t.Fatalf("cadence.New: %v", err)
	}
	if _, err := engine.Build(s); !errors.Is(err, cadence.ErrNoStore) {
		t.Fatalf("expected ErrNoStore, got %v", err)
	}
}

type bareStore struct{}

func (bareStore) Migrate(context.Context) error { return nil }
func (bareStore) Ping(context.Context) error    { return nil }
func (bareStore) Close() error                  { return nil }

func TestBuild_IncompleteStore(t *testing.T) {
	s, err := cadence.New(cadence.WithStore(bareStore{}))
	if err != nil {
		t.Fatalf("cadence.New: %v", err)
	}
	if _, err := engine.Build(s); err == nil {
		t.Fatal("expected an error for a store without the subsystem interfaces")
	}
}

func TestStartStop(t *testing.T) {
	h := newHarness(t, monday)
	ctx := context.Background()

	if err := h.eng.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	if !h.eng.IsLeader() {
		t.Fatal("expected the only node to lead")
	}
	if err := h.eng.Health(ctx); err != nil {
		t.Fatalf("health: %v", err)
	}
	if err := h.eng.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	if h.eng.IsLeader() {
		t.Fatal("expected leadership to be dropped on stop")
	}
}

func TestLeadership_SingleLeader(t *testing.T) {
	clk := &fakeClock{t: monday}
	st := memory.New(memory.WithClock(clk.Now))
	a := newHarnessOn(t, st, clk, "node-a")
	b := newHarnessOn(t, st, clk, "node-b")
	ctx := context.Background()

	if err := a.eng.Start(ctx); err != nil {
		t.Fatalf("start a: %v", err)
	}
	defer a.eng.Stop(ctx)
	if err := b.eng.Start(ctx); err != nil {
		t.Fatalf("start b: %v", err)
	}
	defer b.eng.Stop(ctx)

	if !a.eng.IsLeader() || b.eng.IsLeader() {
		t.Fatalf("expected exactly node-a to lead, got a=%v b=%v", a.eng.IsLeader(), b.eng.IsLeader())
	}
	leader, err := st.GetLeader(ctx)
	if err != nil || leader != "node-a" {
		t.Fatalf("expected node-a in the lease, got %q (%v)", leader, err)
	}
}

// ──────────────────────────────────────────────────
// Run lifecycle
// ──────────────────────────────────────────────────

// A run that fails twice and then succeeds leaves three records in one
// chain, retried after 10s and then 20s.
func TestRetryThenSucceed(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "invoice-export", job.WithMaxAttempts(3), job.WithExponentialBackoff(10, 300))
	w := h.register(t, "w-1", 2)

	first := h.submit(t, trigger.SubmitRequest{JobKey: "invoice-export", Payload: []byte(`{"month":"2024-05"}`)})

	claimed := h.claim(t, w, 1)
	if len(claimed) != 1 || claimed[0].ID.String() != first.ID.String() {
		t.Fatalf("expected the first attempt, got %d runs", len(claimed))
	}
	res, err := h.eng.Fail(h.ctx, first.ID, w.ID, "ledger locked")
	if err != nil {
		t.Fatalf("fail attempt 1: %v", err)
	}
	if res.Run.Status != run.StatusFailed || res.Next == nil {
		t.Fatalf("expected failed with a successor, got %s", res.Run.Status)
	}
	if want := monday.Add(10 * time.Second); !res.Next.NotBefore.Equal(want) {
		t.Fatalf("expected attempt 2 at %s, got %s", want, res.Next.NotBefore)
	}

	if got := h.claim(t, w, 1); len(got) != 0 {
		t.Fatal("expected nothing dispatchable before the backoff elapsed")
	}

	h.clock.Advance(10 * time.Second)
	claimed = h.claim(t, w, 1)
	if len(claimed) != 1 || claimed[0].Attempt != 2 {
		t.Fatalf("expected attempt 2, got %+v", claimed)
	}
	res, err = h.eng.Fail(h.ctx, claimed[0].ID, w.ID, "ledger locked")
	if err != nil {
		t.Fatalf("fail attempt 2: %v", err)
	}
	if want := h.clock.Now().Add(20 * time.Second); !res.Next.NotBefore.Equal(want) {
		t.Fatalf("expected attempt 3 at %s, got %s", want, res.Next.NotBefore)
	}

	h.clock.Advance(20 * time.Second)
	claimed = h.claim(t, w, 1)
	if len(claimed) != 1 || claimed[0].Attempt != 3 {
		t.Fatalf("expected attempt 3, got %+v", claimed)
	}
	done, err := h.eng.Complete(h.ctx, claimed[0].ID, w.ID)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if done.Status != run.StatusSucceeded || string(done.Payload) != `{"month":"2024-05"}` {
		t.Fatalf("unexpected final run: status=%s payload=%s", done.Status, done.Payload)
	}

	chain, err := h.eng.ListRuns(h.ctx, run.ListOpts{RootID: first.ID})
	if err != nil {
		t.Fatalf("list chain: %v", err)
	}
	if len(chain) != 3 {
		t.Fatalf("expected 3 runs in the chain, got %d", len(chain))
	}

	got := h.drain(t)
	want := []event.Type{event.RunFailed, event.RunFailed, event.RunSucceeded}
	if len(got) != len(want) {
		t.Fatalf("expected events %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("expected events %v, got %v", want, got)
		}
	}

	wk, err := h.eng.GetWorker(h.ctx, w.ID)
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if wk.CurrentJobs != 0 {
		t.Fatalf("expected every slot released, got %d in use", wk.CurrentJobs)
	}
}

func TestExhaustedRetriesEndDead(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "ledger-close", job.WithMaxAttempts(1))
	w := h.register(t, "w-1", 1)
	r := h.submit(t, trigger.SubmitRequest{JobKey: "ledger-close"})
	h.claim(t, w, 0)

	res, err := h.eng.Fail(h.ctx, r.ID, w.ID, "boom")
	if err != nil {
		t.Fatalf("fail: %v", err)
	}
	if res.Run.Status != run.StatusDead || res.Next != nil {
		t.Fatalf("expected dead without successor, got %s", res.Run.Status)
	}

	if _, err := h.eng.Complete(h.ctx, r.ID, w.ID); !errors.Is(err, cadence.ErrAlreadyTerminal) {
		t.Fatalf("expected ErrAlreadyTerminal, got %v", err)
	}

	replay, err := h.eng.Retry(h.ctx, r.ID)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if replay.Attempt != 1 || replay.PreviousID.String() != r.ID.String() || replay.RootID.String() != r.RootID.String() {
		t.Fatalf("unexpected replay: %+v", replay)
	}
	if types := h.drain(t); len(types) != 1 || types[0] != event.RunDead {
		t.Fatalf("expected one dead event, got %v", types)
	}
	if totals := h.eng.Counters().Snapshot(); totals["runs_dead"] != 1 || totals["events_delivered"] != 1 {
		t.Fatalf("expected the dead run counted, got %v", totals)
	}
}

func TestReportFromWrongWorker(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "invoice-export")
	a := h.register(t, "w-a", 1)
	b := h.register(t, "w-b", 1)
	r := h.submit(t, trigger.SubmitRequest{JobKey: "invoice-export"})
	h.claim(t, a, 1)

	if _, err := h.eng.Complete(h.ctx, r.ID, b.ID); !errors.Is(err, cadence.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState, got %v", err)
	}
	if got := h.get(t, r.ID); got.Status != run.StatusRunning {
		t.Fatalf("expected run still running, got %s", got.Status)
	}
}

func TestDispatchOrder(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "low", job.WithPriority(2))
	h.createJob(t, "high", job.WithPriority(8))
	w := h.register(t, "w-1", 1)

	h.submit(t, trigger.SubmitRequest{JobKey: "low"})
	h.clock.Advance(time.Second)
	high := h.submit(t, trigger.SubmitRequest{JobKey: "high"})

	claimed := h.claim(t, w, 0)
	if len(claimed) != 1 || claimed[0].ID.String() != high.ID.String() {
		t.Fatalf("expected the high priority run first, got %+v", claimed)
	}
}

func TestConcurrencyLimit(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "payroll", job.WithConcurrencyLimit(1))
	w := h.register(t, "w-1", 4)
	h.submit(t, trigger.SubmitRequest{JobKey: "payroll"})
	h.submit(t, trigger.SubmitRequest{JobKey: "payroll"})

	if got := h.claim(t, w, 0); len(got) != 1 {
		t.Fatalf("expected one run under the concurrency limit, got %d", len(got))
	}
	if got := h.claim(t, w, 0); len(got) != 0 {
		t.Fatalf("expected the second run to wait, got %d", len(got))
	}
}

func TestCancelRevokesOnHeartbeat(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "invoice-export")
	w := h.register(t, "w-1", 1)
	r := h.submit(t, trigger.SubmitRequest{JobKey: "invoice-export"})
	h.claim(t, w, 1)

	cancelled, err := h.eng.Cancel(h.ctx, r.ID, "operator")
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if cancelled.Status != run.StatusDead || cancelled.Error != "operator" {
		t.Fatalf("unexpected cancelled run: %+v", cancelled)
	}

	resp, err := h.eng.Heartbeat(h.ctx, w.ID, cluster.HeartbeatRequest{Active: []id.ID{r.ID}})
	if err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if len(resp.Revoke) != 1 || resp.Revoke[0].String() != r.ID.String() {
		t.Fatalf("expected the cancelled run revoked, got %v", resp.Revoke)
	}
	if resp.Worker.CurrentJobs != 0 {
		t.Fatalf("expected the slot released, got %d", resp.Worker.CurrentJobs)
	}
}

func TestDeregisterRequeues(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "invoice-export")
	a := h.register(t, "w-a", 1)
	r := h.submit(t, trigger.SubmitRequest{JobKey: "invoice-export"})
	h.claim(t, a, 1)

	if err := h.eng.DeregisterWorker(h.ctx, a.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if got := h.get(t, r.ID); got.Status != run.StatusPending || !got.WorkerID.IsNil() {
		t.Fatalf("expected the run back to pending, got %s on %s", got.Status, got.WorkerID)
	}

	b := h.register(t, "w-b", 1)
	if got := h.claim(t, b, 1); len(got) != 1 || got[0].ID.String() != r.ID.String() {
		t.Fatal("expected another worker to pick the run up")
	}
}

func TestTenantIsolation(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "invoice-export")
	r := h.submit(t, trigger.SubmitRequest{JobKey: "invoice-export"})
	w := h.register(t, "w-1", 1)

	other := scope.WithTenant(context.Background(), "globex")
	if _, err := h.eng.GetRun(other, r.ID); !errors.Is(err, cadence.ErrRunNotFound) {
		t.Fatalf("expected ErrRunNotFound across tenants, got %v", err)
	}
	if _, err := h.eng.Claim(other, w.ID, 1); !errors.Is(err, cadence.ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound across tenants, got %v", err)
	}
	if _, err := h.eng.Submit(other, trigger.SubmitRequest{JobKey: "invoice-export"}); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound across tenants, got %v", err)
	}
}

// ──────────────────────────────────────────────────
// Schedules
// ──────────────────────────────────────────────────

func TestScheduleRollsForwardOverWeekend(t *testing.T) {
	friday := time.Date(2024, 6, 7, 10, 0, 0, 0, time.UTC)
	h := newHarness(t, friday)
	j := h.createJob(t, "daily-report")
	if _, err := h.eng.Calendars().Create(h.ctx, &calendar.Calendar{Key: "business", Weekdays: calendar.MondayToFriday}); err != nil {
		t.Fatalf("create calendar: %v", err)
	}
	s, err := h.eng.Trigger().CreateSchedule(h.ctx, &trigger.Schedule{
		Name:        "daily",
		JobKey:      "daily-report",
		Expr:        "0 9 * * *",
		CalendarKey: "business",
		Enabled:     true,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	saturday := time.Date(2024, 6, 8, 9, 0, 0, 0, time.UTC)
	if !s.NextRunAt.Equal(saturday) {
		t.Fatalf("expected next run %s, got %s", saturday, s.NextRunAt)
	}

	h.clock.Advance(23*time.Hour + 30*time.Second)
	out, err := h.eng.Trigger().Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := out[s.ID.String()]; got != trigger.OutcomeRolled {
		t.Fatalf("expected outcome %q, got %q", trigger.OutcomeRolled, got)
	}

	runs, err := h.eng.ListRuns(h.ctx, run.ListOpts{JobID: j.ID})
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected one run, got %d", len(runs))
	}
	wantAt := time.Date(2024, 6, 10, 9, 0, 0, 0, time.UTC)
	if !runs[0].ScheduledAt.Equal(wantAt) || runs[0].ScheduleID.String() != s.ID.String() {
		t.Fatalf("expected a run at %s from the schedule, got %s", wantAt, runs[0].ScheduledAt)
	}

	// The occurrence is consumed; another tick in the same minute is a no-op.
	out, err = h.eng.Trigger().Tick(context.Background())
	if err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if len(out) != 0 {
		t.Fatalf("expected nothing due, got %v", out)
	}
}

func TestScheduleSkipsDisabledJob(t *testing.T) {
	h := newHarness(t, monday)
	j := h.createJob(t, "daily-report")
	s, err := h.eng.Trigger().CreateSchedule(h.ctx, &trigger.Schedule{
		Name: "every-minute", JobKey: "daily-report", Expr: "@every 1m", Enabled: true,
	})
	if err != nil {
		t.Fatalf("create schedule: %v", err)
	}
	if _, err := h.eng.Jobs().Disable(h.ctx, j.ID); err != nil {
		t.Fatalf("disable: %v", err)
	}

	h.clock.Advance(time.Minute)
	out, err := h.eng.Trigger().Tick(context.Background())
	if err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := out[s.ID.String()]; got != trigger.OutcomeDisabled {
		t.Fatalf("expected %q, got %q", trigger.OutcomeDisabled, got)
	}
}

// ──────────────────────────────────────────────────
// SLA and liveness
// ──────────────────────────────────────────────────

func TestSLAMiss(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "ledger-close", job.WithSLA(30))
	r := h.submit(t, trigger.SubmitRequest{JobKey: "ledger-close"})

	h.clock.Advance(29 * time.Second)
	rep, err := h.eng.Monitor().Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.Missed != 0 {
		t.Fatal("expected no miss before the SLA elapsed")
	}

	h.clock.Advance(time.Second)
	rep, err = h.eng.Monitor().Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.Missed != 1 {
		t.Fatalf("expected one miss at the SLA, got %+v", rep)
	}
	if got := h.get(t, r.ID); got.Status != run.StatusMissed {
		t.Fatalf("expected missed, got %s", got.Status)
	}
	if types := h.drain(t); len(types) != 1 || types[0] != event.RunMissed {
		t.Fatalf("expected a missed event, got %v", types)
	}
}

func TestTimeoutSchedulesRetry(t *testing.T) {
	h := newHarness(t, monday)
	h.createJob(t, "invoice-export", job.WithTimeout(60), job.WithFixedBackoff(5))
	w := h.register(t, "w-1", 1)
	r := h.submit(t, trigger.SubmitRequest{JobKey: "invoice-export"})
	h.claim(t, w, 1)

	h.clock.Advance(61 * time.Second)
	rep, err := h.eng.Monitor().Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.TimedOut != 1 {
		t.Fatalf("expected one timeout, got %+v", rep)
	}
	got := h.get(t, r.ID)
	if got.Status != run.StatusFailed || got.Error == "" {
		t.Fatalf("expected failed with a timeout error, got %s %q", got.Status, got.Error)
	}

	h.clock.Advance(5 * time.Second)
	next := h.claim(t, w, 1)
	if len(next) != 1 || next[0].PreviousID.String() != r.ID.String() {
		t.Fatal("expected the retry to be claimable after the backoff")
	}
}

func TestLostWorkerIsReclaimed(t *testing.T) {
	h := newHarness(t, monday, cadence.WithHeartbeat(10*time.Second, 3))
	h.createJob(t, "invoice-export")
	w := h.register(t, "w-1", 1)
	r := h.submit(t, trigger.SubmitRequest{JobKey: "invoice-export"})
	h.claim(t, w, 1)

	h.clock.Advance(20 * time.Second)
	if _, err := h.eng.Heartbeat(h.ctx, w.ID, cluster.HeartbeatRequest{}); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	h.clock.Advance(29 * time.Second)
	rep, err := h.eng.Monitor().Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.WorkersOffline != 0 {
		t.Fatal("expected the worker alive within the liveness window")
	}

	h.clock.Advance(2 * time.Second)
	rep, err = h.eng.Monitor().Sweep(context.Background())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if rep.WorkersOffline != 1 || rep.Requeued != 1 {
		t.Fatalf("expected the worker lost and its run requeued, got %+v", rep)
	}
	if got := h.get(t, r.ID); got.Status != run.StatusPending {
		t.Fatalf("expected pending, got %s", got.Status)
	}
	wk, err := h.eng.GetWorker(h.ctx, w.ID)
	if err != nil {
		t.Fatalf("get worker: %v", err)
	}
	if wk.Status != cluster.StatusOffline || wk.CurrentJobs != 0 {
		t.Fatalf("expected offline with no slots, got %s/%d", wk.Status, wk.CurrentJobs)
	}
	if types := h.drain(t); len(types) != 1 || types[0] != event.WorkerOffline {
		t.Fatalf("expected a worker.offline event, got %v", types)
	}

	if _, err := h.eng.Claim(h.ctx, w.ID, 1); !errors.Is(err, cadence.ErrWorkerUnavailable) {
		t.Fatalf("expected an offline worker to be refused, got %v", err)
	}
}
