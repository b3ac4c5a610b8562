package cluster_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/cluster"
	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/scope"
	"github.com/xraph/cadence/store/memory"
)

var t0 = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

type clock struct{ t time.Time }

func (c *clock) now() time.Time { return c.t }

func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func TestCapabilitiesAccepts(t *testing.T) {
	tests := []struct {
		name   string
		caps   cluster.Capabilities
		queue  string
		jobKey string
		want   bool
	}{
		{"queue only", cluster.Capabilities{Queues: []string{"default"}}, "default", "any", true},
		{"other queue", cluster.Capabilities{Queues: []string{"default"}}, "finance", "any", false},
		{"listed job", cluster.Capabilities{Queues: []string{"default"}, JobKeys: []string{"a", "b"}}, "default", "b", true},
		{"unlisted job", cluster.Capabilities{Queues: []string{"default"}, JobKeys: []string{"a"}}, "default", "b", false},
		{"wildcard", cluster.Capabilities{Queues: []string{"default"}, JobKeys: []string{cluster.AnyJob}}, "default", "z", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.caps.Accepts(tt.queue, tt.jobKey); got != tt.want {
				t.Fatalf("Accepts(%q, %q) = %v, want %v", tt.queue, tt.jobKey, got, tt.want)
			}
		})
	}
}

func TestWorkerValidate(t *testing.T) {
	tests := []struct {
		name  string
		w     cluster.Worker
		field string
	}{
		{"no name", cluster.Worker{Capabilities: cluster.Capabilities{Queues: []string{"q"}}, MaxParallel: 1}, "name"},
		{"no queues", cluster.Worker{Name: "w", MaxParallel: 1}, "capabilities.queues"},
		{"empty queue", cluster.Worker{Name: "w", Capabilities: cluster.Capabilities{Queues: []string{""}}, MaxParallel: 1}, "capabilities.queues"},
		{"no slots", cluster.Worker{Name: "w", Capabilities: cluster.Capabilities{Queues: []string{"q"}}}, "max_parallel"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var ve *cadence.ValidationError
			if err := tt.w.Validate(); !errors.As(err, &ve) || ve.Field != tt.field {
				t.Fatalf("expected a validation error on %q, got %v", tt.field, err)
			}
		})
	}
}

func TestWorkerFreeSlots(t *testing.T) {
	w := cluster.Worker{Status: cluster.StatusOnline, MaxParallel: 4, CurrentJobs: 1}
	if w.FreeSlots() != 3 || !w.HasCapacity() {
		t.Fatalf("expected 3 free slots, got %d", w.FreeSlots())
	}
	w.CurrentJobs = 4
	if w.FreeSlots() != 0 || w.HasCapacity() {
		t.Fatal("a full worker has no capacity")
	}
	w.CurrentJobs, w.Status = 0, cluster.StatusMaintenance
	if w.FreeSlots() != 0 {
		t.Fatal("a worker in maintenance takes no runs")
	}
}

func TestRegistryLiveness(t *testing.T) {
	clk := &clock{t: t0}
	st := memory.New(memory.WithClock(clk.now))
	reg := cluster.NewRegistry(st, nil, clk.now)
	ctx := scope.WithTenant(context.Background(), "acme")

	w, err := reg.Register(ctx, cluster.RegisterRequest{
		Name:         "etl-1",
		Capabilities: cluster.Capabilities{Queues: []string{"default"}},
		MaxParallel:  2,
	})
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if w.Status != cluster.StatusOnline || w.TenantID != "acme" || !w.HeartbeatAt.Equal(t0) {
		t.Fatalf("unexpected registered worker: %+v", w)
	}
	if _, err := reg.Register(ctx, cluster.RegisterRequest{Name: "bad", MaxParallel: 1}); !cadence.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}

	window := 30 * time.Second
	clk.advance(20 * time.Second)
	if _, err := reg.Heartbeat(ctx, w.ID, ""); err != nil {
		t.Fatalf("heartbeat: %v", err)
	}
	clk.advance(29 * time.Second)
	if stale, _, err := reg.Stale(ctx, window); err != nil || len(stale) != 0 {
		t.Fatalf("expected no stale workers 29s after a heartbeat, got %d (%v)", len(stale), err)
	}

	clk.advance(2 * time.Second)
	stale, cutoff, err := reg.Stale(ctx, window)
	if err != nil || len(stale) != 1 {
		t.Fatalf("expected one stale worker, got %d (%v)", len(stale), err)
	}
	changed, err := reg.MarkOffline(ctx, stale[0], cutoff, "heartbeat timeout")
	if err != nil || !changed {
		t.Fatalf("mark offline: changed=%v err=%v", changed, err)
	}
	if again, _ := reg.MarkOffline(ctx, stale[0], cutoff, "heartbeat timeout"); again {
		t.Fatal("marking an offline worker again must be a no-op")
	}

	events, err := st.ListUnacked(ctx, 0)
	if err != nil || len(events) != 1 || events[0].Type != event.WorkerOffline {
		t.Fatalf("expected one worker.offline event, got %v (%v)", events, err)
	}
	var p cluster.OfflinePayload
	if err := events[0].Decode(&p); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if p.Name != "etl-1" || p.Reason != "heartbeat timeout" {
		t.Fatalf("unexpected payload: %+v", p)
	}

	// A heartbeat without a status brings the worker back.
	back, err := reg.Heartbeat(ctx, w.ID, "")
	if err != nil || back.Status != cluster.StatusOnline {
		t.Fatalf("expected the worker online again, got %v (%v)", back, err)
	}
	if _, err := reg.Heartbeat(ctx, w.ID, cluster.Status("sleeping")); !cadence.IsValidation(err) {
		t.Fatalf("expected an unknown status to be rejected, got %v", err)
	}

	if err := reg.Deregister(ctx, w.ID); err != nil {
		t.Fatalf("deregister: %v", err)
	}
	if _, err := reg.Get(ctx, w.ID); !errors.Is(err, cadence.ErrWorkerNotFound) {
		t.Fatalf("expected ErrWorkerNotFound, got %v", err)
	}
	if _, err := reg.Heartbeat(ctx, id.NewWorkerID(), ""); !errors.Is(err, cadence.ErrNotFound) {
		t.Fatalf("expected not found for an unknown worker, got %v", err)
	}
}

func TestElectorSingleLeader(t *testing.T) {
	clk := &clock{t: t0}
	st := memory.New(memory.WithClock(clk.now))
	a := cluster.NewElector(st, "node-a", 10*time.Second, nil)
	b := cluster.NewElector(st, "node-b", 10*time.Second, nil)
	ctx := context.Background()

	if !a.Campaign(ctx) || b.Campaign(ctx) {
		t.Fatal("expected node-a to lead and node-b to follow")
	}
	if !a.IsLeader() || b.IsLeader() {
		t.Fatal("IsLeader must reflect the last campaign")
	}

	clk.advance(5 * time.Second)
	if !a.Campaign(ctx) {
		t.Fatal("expected node-a to renew")
	}

	// node-a stops renewing and its lease lapses.
	clk.advance(11 * time.Second)
	if leader, _ := st.GetLeader(ctx); leader != "" {
		t.Fatalf("expected no leader after expiry, got %q", leader)
	}
	if !b.Campaign(ctx) {
		t.Fatal("expected node-b to take over")
	}
	if a.Campaign(ctx) {
		t.Fatal("expected node-a to have lost leadership")
	}
	if leader, _ := st.GetLeader(ctx); leader != "node-b" {
		t.Fatalf("expected node-b as leader, got %q", leader)
	}
}
