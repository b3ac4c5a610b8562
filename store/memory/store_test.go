package memory_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/store"
	"github.com/xraph/cadence/store/memory"
	"github.com/xraph/cadence/store/storetest"
)

var _ store.Store = (*memory.Store)(nil)

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		return memory.New()
	})
}

// ──────────────────────────────────────────────────
// Lifecycle tests
// ──────────────────────────────────────────────────

func TestLifecycle(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()

	tests := []struct {
		name string
		fn   func() error
	}{
		{"Migrate", func() error { return s.Migrate(ctx) }},
		{"Ping", func() error { return s.Ping(ctx) }},
		{"Close", func() error { return s.Close() }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.fn(); err != nil {
				t.Fatalf("%s returned error: %v", tt.name, err)
			}
		})
	}
}

// ──────────────────────────────────────────────────
// Isolation and timing
// ──────────────────────────────────────────────────

func seedJob(t *testing.T, s *memory.Store, opts ...job.Option) *job.Job {
	t.Helper()
	j := job.New("invoice-export", opts...)
	j.ID = id.NewJobID()
	j.Entity = cadence.NewEntity("acme")
	if err := s.CreateJob(context.Background(), j); err != nil {
		t.Fatalf("create job: %v", err)
	}
	return j
}

func TestReturnsCopies(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()
	j := seedJob(t, s)

	now := time.Now()
	r := run.New(j, []byte("abc"), now, now)
	if _, err := s.CreateRun(ctx, r); err != nil {
		t.Fatalf("create run: %v", err)
	}
	r.Payload[0] = 'z'
	r.Status = run.StatusDead

	got, err := s.GetRun(ctx, r.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if string(got.Payload) != "abc" || got.Status != run.StatusPending {
		t.Fatalf("stored run changed through caller's pointer: %+v", got)
	}

	got.Policy.MaxAttempts = 99
	again, _ := s.GetRun(ctx, r.ID)
	if again.Policy.MaxAttempts != 3 {
		t.Fatalf("stored run changed through returned copy: %d", again.Policy.MaxAttempts)
	}
}

func TestLeaseUsesClock(t *testing.T) {
	t.Parallel()
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)
	s := memory.New(memory.WithClock(func() time.Time { return now }))
	ctx := context.Background()

	if ok, _ := s.AcquireLeadership(ctx, "node-a", 15*time.Second); !ok {
		t.Fatal("node-a should lead")
	}
	now = now.Add(14 * time.Second)
	if ok, _ := s.AcquireLeadership(ctx, "node-b", 15*time.Second); ok {
		t.Fatal("lease should still be held at T+14s")
	}
	now = now.Add(time.Second)
	if ok, _ := s.AcquireLeadership(ctx, "node-b", 15*time.Second); !ok {
		t.Fatal("lease should have lapsed at T+15s")
	}
	if leader, _ := s.GetLeader(ctx); leader != "node-b" {
		t.Fatalf("expected node-b, got %q", leader)
	}
}

func TestConcurrentClaimsRespectCapacity(t *testing.T) {
	t.Parallel()
	s := memory.New()
	ctx := context.Background()
	j := seedJob(t, s)

	w := &cluster.Worker{
		Entity:      cadence.NewEntity("acme"),
		ID:          id.NewWorkerID(),
		Name:        "w-1",
		Status:      cluster.StatusOnline,
		MaxParallel: 3,
		HeartbeatAt: time.Now(),
	}
	if err := s.RegisterWorker(ctx, w); err != nil {
		t.Fatalf("register: %v", err)
	}

	now := time.Now()
	var runs []*run.Run
	for range 10 {
		r := run.New(j, nil, now, now)
		if _, err := s.CreateRun(ctx, r); err != nil {
			t.Fatalf("create run: %v", err)
		}
		runs = append(runs, r)
	}

	var (
		wg       sync.WaitGroup
		won      atomic.Int32
		capacity atomic.Int32
	)
	for _, r := range runs {
		wg.Add(1)
		go func(r *run.Run) {
			defer wg.Done()
			next, err := run.Claim(*r, w.ID, now)
			if err != nil {
				t.Errorf("claim transition: %v", err)
				return
			}
			err = s.Apply(ctx, &run.Change{
				Run:             &next,
				ExpectedVersion: r.Version,
				Claim:           &run.WorkerClaim{WorkerID: w.ID},
			})
			switch {
			case err == nil:
				won.Add(1)
			case errors.Is(err, cadence.ErrWorkerAtCapacity):
				capacity.Add(1)
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(r)
	}
	wg.Wait()

	if won.Load() != 3 || capacity.Load() != 7 {
		t.Fatalf("expected 3 claims and 7 rejections, got %d and %d", won.Load(), capacity.Load())
	}
	got, _ := s.GetWorker(ctx, w.ID)
	if got.CurrentJobs != 3 {
		t.Fatalf("expected 3 slots taken, got %d", got.CurrentJobs)
	}
}
