package k8s

import (
	"context"
	"testing"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes/fake"

	"github.com/xraph/cadence/cluster"
)

const testNS = "scheduling"

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestLock(t *testing.T) (*LeaseLock, *fake.Clientset, *clock) {
	t.Helper()
	clk := &clock{t: time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)}
	cs := fake.NewClientset()
	return New(cs, testNS, WithClock(clk.now)), cs, clk
}

func getLease(t *testing.T, cs *fake.Clientset) *coordinationv1.Lease {
	t.Helper()
	lease, err := cs.CoordinationV1().Leases(testNS).Get(context.Background(), defaultLeaseName, metav1.GetOptions{})
	if err != nil {
		t.Fatalf("get lease: %v", err)
	}
	return lease
}

func TestAcquireLeadership_New(t *testing.T) {
	p, cs, _ := newTestLock(t)

	acquired, err := p.AcquireLeadership(context.Background(), "node-a", 15*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership: %v", err)
	}
	if !acquired {
		t.Fatal("expected to acquire leadership")
	}

	lease := getLease(t, cs)
	if got := *lease.Spec.HolderIdentity; got != "node-a" {
		t.Errorf("holder identity: got %q, want node-a", got)
	}
	if got := *lease.Spec.LeaseDurationSeconds; got != 15 {
		t.Errorf("lease duration: got %d, want 15", got)
	}
}

func TestAcquireLeadership_Contested(t *testing.T) {
	p, _, clk := newTestLock(t)
	ctx := context.Background()

	if ok, _ := p.AcquireLeadership(ctx, "node-a", 15*time.Second); !ok {
		t.Fatal("expected node-a to acquire")
	}
	if ok, _ := p.AcquireLeadership(ctx, "node-a", 15*time.Second); !ok {
		t.Fatal("expected node-a to re-acquire its own lease")
	}

	clk.advance(14 * time.Second)
	ok, err := p.AcquireLeadership(ctx, "node-b", 15*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership node-b: %v", err)
	}
	if ok {
		t.Fatal("expected node-b to NOT acquire (node-a holds lease)")
	}
}

func TestAcquireLeadership_ExpiredLease(t *testing.T) {
	p, cs, clk := newTestLock(t)
	ctx := context.Background()

	if ok, _ := p.AcquireLeadership(ctx, "node-a", 15*time.Second); !ok {
		t.Fatal("expected node-a to acquire")
	}
	clk.advance(15 * time.Second)

	ok, err := p.AcquireLeadership(ctx, "node-b", 15*time.Second)
	if err != nil {
		t.Fatalf("AcquireLeadership node-b: %v", err)
	}
	if !ok {
		t.Fatal("expected node-b to acquire expired lease")
	}
	lease := getLease(t, cs)
	if *lease.Spec.HolderIdentity != "node-b" || lease.Spec.LeaseTransitions == nil || *lease.Spec.LeaseTransitions != 1 {
		t.Fatalf("expected one transition to node-b, got %+v", lease.Spec)
	}
}

func TestRenewLeadership(t *testing.T) {
	p, cs, clk := newTestLock(t)
	ctx := context.Background()

	if renewed, _ := p.RenewLeadership(ctx, "node-a", 15*time.Second); renewed {
		t.Fatal("expected renew without a lease to fail")
	}
	if ok, _ := p.AcquireLeadership(ctx, "node-a", 15*time.Second); !ok {
		t.Fatal("expected node-a to acquire")
	}

	clk.advance(10 * time.Second)
	renewed, err := p.RenewLeadership(ctx, "node-a", 30*time.Second)
	if err != nil {
		t.Fatalf("RenewLeadership: %v", err)
	}
	if !renewed {
		t.Fatal("expected renewal to succeed")
	}
	if got := *getLease(t, cs).Spec.LeaseDurationSeconds; got != 30 {
		t.Errorf("lease duration after renew: got %d, want 30", got)
	}

	if renewed, _ := p.RenewLeadership(ctx, "node-b", 15*time.Second); renewed {
		t.Fatal("expected node-b renew to fail")
	}

	clk.advance(31 * time.Second)
	if renewed, _ := p.RenewLeadership(ctx, "node-a", 15*time.Second); renewed {
		t.Fatal("expected renew of an expired lease to fail")
	}
}

func TestGetLeader(t *testing.T) {
	p, _, clk := newTestLock(t)
	ctx := context.Background()

	if leader, err := p.GetLeader(ctx); err != nil || leader != "" {
		t.Fatalf("expected no leader, got %q (%v)", leader, err)
	}
	if ok, _ := p.AcquireLeadership(ctx, "node-a", 15*time.Second); !ok {
		t.Fatal("expected node-a to acquire")
	}
	if leader, _ := p.GetLeader(ctx); leader != "node-a" {
		t.Fatalf("expected node-a, got %q", leader)
	}
	clk.advance(16 * time.Second)
	if leader, _ := p.GetLeader(ctx); leader != "" {
		t.Fatalf("expected no leader after expiry, got %q", leader)
	}
}

func TestLeaseSecondsRoundsUp(t *testing.T) {
	tests := []struct {
		ttl  time.Duration
		want int32
	}{
		{time.Millisecond, 1},
		{1500 * time.Millisecond, 2},
		{15 * time.Second, 15},
	}
	for _, tt := range tests {
		if got := leaseSeconds(tt.ttl); got != tt.want {
			t.Errorf("leaseSeconds(%v) = %d, want %d", tt.ttl, got, tt.want)
		}
	}
}

func TestElectorOverLease(t *testing.T) {
	p, _, _ := newTestLock(t)
	ctx := context.Background()

	a := cluster.NewElector(p, "node-a", 15*time.Second, nil)
	b := cluster.NewElector(p, "node-b", 15*time.Second, nil)

	if !a.Campaign(ctx) {
		t.Fatal("expected node-a to win the first campaign")
	}
	if b.Campaign(ctx) {
		t.Fatal("expected node-b to lose while node-a holds the lease")
	}
	if !a.Campaign(ctx) || !a.IsLeader() {
		t.Fatal("expected node-a to keep leadership on renew")
	}
}

func TestOptions(t *testing.T) {
	p := New(fake.NewClientset(), testNS, WithLeaseName("billing-scheduler"))
	if p.LeaseName() != "billing-scheduler" {
		t.Fatalf("expected custom lease name, got %q", p.LeaseName())
	}
}
