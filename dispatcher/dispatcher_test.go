package dispatcher_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/dispatcher"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/queue"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/scope"
	"github.com/xraph/cadence/store/memory"
)

var t0 = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

type fixture struct {
	now     time.Time
	jobs    *job.Registry
	ledger  *run.Ledger
	workers *cluster.Registry
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: t0}
	st := memory.New(memory.WithClock(f.clock))
	f.jobs = job.NewRegistry(st, time.Minute, nil)
	f.ledger = run.NewLedger(st, nil, run.WithClock(f.clock))
	f.workers = cluster.NewRegistry(st, nil, f.clock)
	return f
}

func (f *fixture) clock() time.Time { return f.now }

func (f *fixture) dispatcher(opts ...dispatcher.Option) *dispatcher.Dispatcher {
	opts = append([]dispatcher.Option{dispatcher.WithClock(f.clock), dispatcher.WithRefresh(0)}, opts...)
	return dispatcher.New(f.ledger, f.workers, nil, opts...)
}

func (f *fixture) job(t *testing.T, tenant, key string, opts ...job.Option) *job.Job {
	t.Helper()
	j, err := f.jobs.Create(scope.WithTenant(context.Background(), tenant), job.New(key, opts...))
	if err != nil {
		t.Fatalf("create job %q: %v", key, err)
	}
	return j
}

func (f *fixture) pending(t *testing.T, j *job.Job, at time.Time) *run.Run {
	t.Helper()
	r, _, err := f.ledger.Create(context.Background(), run.New(j, nil, at, f.now))
	if err != nil {
		t.Fatalf("create run: %v", err)
	}
	return r
}

func (f *fixture) worker(t *testing.T, tenant string, caps cluster.Capabilities, slots int) *cluster.Worker {
	t.Helper()
	w, err := f.workers.Register(scope.WithTenant(context.Background(), tenant), cluster.RegisterRequest{
		Name: "w-" + tenant, Capabilities: caps, MaxParallel: slots,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	return w
}

var defaultQueue = cluster.Capabilities{Queues: []string{"default"}}

func TestClaimOrderAndCapacity(t *testing.T) {
	f := newFixture(t)
	low := f.pending(t, f.job(t, "acme", "low", job.WithPriority(3)), t0)
	high := f.pending(t, f.job(t, "acme", "high", job.WithPriority(9)), t0)
	mid := f.pending(t, f.job(t, "acme", "mid", job.WithPriority(5)), t0)
	w := f.worker(t, "acme", defaultQueue, 2)
	d := f.dispatcher()

	got, err := d.Claim(context.Background(), w.ID, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(got) != 2 || got[0].ID.String() != high.ID.String() || got[1].ID.String() != mid.ID.String() {
		t.Fatalf("expected high then mid, got %v", got)
	}
	for _, r := range got {
		if r.Status != run.StatusRunning || r.WorkerID.String() != w.ID.String() {
			t.Fatalf("unexpected claimed run: %+v", r)
		}
	}

	if more, err := d.Claim(context.Background(), w.ID, 0); err != nil || len(more) != 0 {
		t.Fatalf("expected a full worker to get nothing, got %d (%v)", len(more), err)
	}
	left, err := f.ledger.Get(context.Background(), low.ID)
	if err != nil || left.Status != run.StatusPending {
		t.Fatalf("expected the low priority run still pending, got %v (%v)", left, err)
	}
	held, _ := f.workers.Get(context.Background(), w.ID)
	if held.CurrentJobs != 2 {
		t.Fatalf("expected 2 slots reserved, got %d", held.CurrentJobs)
	}
}

func TestClaimFilters(t *testing.T) {
	f := newFixture(t)
	other := f.pending(t, f.job(t, "acme", "other-job"), t0)
	foreign := f.pending(t, f.job(t, "globex", "report"), t0)
	later := f.pending(t, f.job(t, "acme", "report"), t0.Add(time.Minute))
	w := f.worker(t, "acme", cluster.Capabilities{Queues: []string{"default"}, JobKeys: []string{"report"}}, 5)
	d := f.dispatcher()

	got, err := d.Claim(context.Background(), w.ID, 0)
	if err != nil || len(got) != 0 {
		t.Fatalf("expected nothing claimable yet, got %d (%v)", len(got), err)
	}

	f.now = t0.Add(time.Minute)
	got, err = d.Claim(context.Background(), w.ID, 0)
	if err != nil || len(got) != 1 || got[0].ID.String() != later.ID.String() {
		t.Fatalf("expected the due run once its time came, got %v (%v)", got, err)
	}
	for _, r := range []*run.Run{other, foreign} {
		cur, _ := f.ledger.Get(context.Background(), r.ID)
		if cur.Status != run.StatusPending {
			t.Fatalf("run %s of job %s must not go to this worker", cur.ID, cur.JobKey)
		}
	}
}

func TestClaimRespectsLimit(t *testing.T) {
	f := newFixture(t)
	j := f.job(t, "acme", "report")
	for range 3 {
		f.pending(t, j, t0)
	}
	w := f.worker(t, "acme", defaultQueue, 5)

	got, err := f.dispatcher().Claim(context.Background(), w.ID, 1)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected one run, got %d (%v)", len(got), err)
	}
}

func TestClaimRateLimited(t *testing.T) {
	f := newFixture(t)
	j := f.job(t, "acme", "report")
	f.pending(t, j, t0)
	f.pending(t, j, t0)
	w := f.worker(t, "acme", defaultQueue, 5)
	limits := queue.NewManager(queue.Config{Name: "default", RateLimit: 0.001, RateBurst: 1})

	got, err := f.dispatcher(dispatcher.WithLimits(limits)).Claim(context.Background(), w.ID, 0)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected the bucket to allow one claim, got %d", len(got))
	}
}

func TestClaimConcurrencyLimit(t *testing.T) {
	f := newFixture(t)
	j := f.job(t, "acme", "report", job.WithConcurrencyLimit(1))
	f.pending(t, j, t0)
	f.pending(t, j, t0)
	w := f.worker(t, "acme", defaultQueue, 5)

	got, err := f.dispatcher().Claim(context.Background(), w.ID, 0)
	if err != nil || len(got) != 1 {
		t.Fatalf("expected the job's limit to cap the claim at one, got %d (%v)", len(got), err)
	}
}

func TestClaimUnavailableWorker(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, "acme", defaultQueue, 1)
	if _, err := f.workers.Heartbeat(context.Background(), w.ID, cluster.StatusMaintenance); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	if _, err := f.dispatcher().Claim(context.Background(), w.ID, 0); !errors.Is(err, cadence.ErrWorkerUnavailable) {
		t.Fatalf("expected ErrWorkerUnavailable, got %v", err)
	}
}

func TestOfferFeedsHeap(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, "acme", defaultQueue, 1)
	d := f.dispatcher(dispatcher.WithRefresh(time.Hour))

	// Load the empty queue so the heap is not reloaded afterwards.
	if got, err := d.Claim(context.Background(), w.ID, 0); err != nil || len(got) != 0 {
		t.Fatalf("expected an empty queue, got %d (%v)", len(got), err)
	}

	r := f.pending(t, f.job(t, "acme", "report"), t0)
	d.Offer(r)
	running := *r
	running.Status = run.StatusRunning
	d.Offer(&running)
	if d.Depth("default") != 1 {
		t.Fatalf("expected only the pending run offered, depth %d", d.Depth("default"))
	}

	got, err := d.Claim(context.Background(), w.ID, 0)
	if err != nil || len(got) != 1 || got[0].ID.String() != r.ID.String() {
		t.Fatalf("expected the offered run claimed, got %v (%v)", got, err)
	}
	if d.Depth("default") != 0 {
		t.Fatalf("expected an empty heap, got %d", d.Depth("default"))
	}
}

func TestClaimLoadsOnlyRunsTheWorkerAccepts(t *testing.T) {
	f := newFixture(t)
	for range 3 {
		f.pending(t, f.job(t, "globex", "report", job.WithPriority(9)), t0)
	}
	noisy := f.job(t, "acme", "other-job", job.WithPriority(8))
	f.pending(t, noisy, t0)
	f.pending(t, noisy, t0)
	want := f.pending(t, f.job(t, "acme", "report", job.WithPriority(1)), t0)
	w := f.worker(t, "acme", cluster.Capabilities{Queues: []string{"default"}, JobKeys: []string{"report"}}, 1)

	got, err := f.dispatcher(dispatcher.WithBatch(2)).Claim(context.Background(), w.ID, 0)
	if err != nil || len(got) != 1 || got[0].ID.String() != want.ID.String() {
		t.Fatalf("expected the low priority run behind foreign work, got %v (%v)", got, err)
	}
}

func TestOfferSkipsOtherTenants(t *testing.T) {
	f := newFixture(t)
	w := f.worker(t, "acme", defaultQueue, 1)
	d := f.dispatcher(dispatcher.WithRefresh(time.Hour))
	if _, err := d.Claim(context.Background(), w.ID, 0); err != nil {
		t.Fatalf("claim: %v", err)
	}

	d.Offer(f.pending(t, f.job(t, "globex", "report"), t0))
	if d.Depth("default") != 0 {
		t.Fatalf("expected a foreign run kept out of the acme heap, depth %d", d.Depth("default"))
	}
}
