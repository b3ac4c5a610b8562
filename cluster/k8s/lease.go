package k8s

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	coordinationv1 "k8s.io/api/coordination/v1"
	"k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/client-go/kubernetes"

	"github.com/xraph/cadence/cluster"
)

var _ cluster.Leadership = (*LeaseLock)(nil)

const defaultLeaseName = "cadence-scheduler"

// LeaseLock implements cluster.Leadership with a coordination/v1 Lease.
// Updates carry the object's resourceVersion, so two nodes racing for an
// expired lease cannot both win.
type LeaseLock struct {
	client    kubernetes.Interface
	namespace string
	leaseName string
	logger    *slog.Logger
	now       func() time.Time
}

// New creates a LeaseLock in namespace.
func New(client kubernetes.Interface, namespace string, opts ...Option) *LeaseLock {
	p := &LeaseLock{
		client:    client,
		namespace: namespace,
		leaseName: defaultLeaseName,
		logger:    slog.Default(),
		now:       time.Now,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// LeaseName returns the name of the Lease object.
func (p *LeaseLock) LeaseName() string { return p.leaseName }

// leaseSeconds rounds ttl up to whole seconds, the Lease's resolution.
func leaseSeconds(ttl time.Duration) int32 {
	return int32(max(math.Ceil(ttl.Seconds()), 1))
}

// AcquireLeadership takes the Lease for nodeID if it is absent, expired or
// already held by nodeID.
func (p *LeaseLock) AcquireLeadership(ctx context.Context, nodeID string, ttl time.Duration) (bool, error) {
	now := metav1.NewMicroTime(p.now().UTC())
	ttlSec := leaseSeconds(ttl)
	leases := p.client.CoordinationV1().Leases(p.namespace)

	lease, err := leases.Get(ctx, p.leaseName, metav1.GetOptions{})
	if errors.IsNotFound(err) {
		holder := nodeID
		_, createErr := leases.Create(ctx, &coordinationv1.Lease{
			ObjectMeta: metav1.ObjectMeta{
				Name:      p.leaseName,
				Namespace: p.namespace,
			},
			Spec: coordinationv1.LeaseSpec{
				HolderIdentity:       &holder,
				LeaseDurationSeconds: &ttlSec,
				AcquireTime:          &now,
				RenewTime:            &now,
			},
		}, metav1.CreateOptions{})
		if createErr != nil {
			if errors.IsAlreadyExists(createErr) {
				return false, nil
			}
			return false, fmt.Errorf("cadence/k8s: create lease: %w", createErr)
		}
		return true, nil
	}
	if err != nil {
		return false, fmt.Errorf("cadence/k8s: get lease: %w", err)
	}

	if p.heldByOther(lease, nodeID) {
		return false, nil
	}

	holder := nodeID
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != nodeID {
		lease.Spec.AcquireTime = &now
		transitions := int32(0)
		if lease.Spec.LeaseTransitions != nil {
			transitions = *lease.Spec.LeaseTransitions
		}
		transitions++
		lease.Spec.LeaseTransitions = &transitions
		p.logger.Info("taking scheduler lease",
			slog.String("lease", p.leaseName),
			slog.String("node_id", nodeID),
		)
	}
	lease.Spec.HolderIdentity = &holder
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if errors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("cadence/k8s: update lease: %w", err)
	}
	return true, nil
}

// RenewLeadership extends nodeID's hold on an unexpired Lease.
func (p *LeaseLock) RenewLeadership(ctx context.Context, nodeID string, ttl time.Duration) (bool, error) {
	leases := p.client.CoordinationV1().Leases(p.namespace)

	lease, err := leases.Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("cadence/k8s: get lease: %w", err)
	}
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity != nodeID || p.expired(lease) {
		return false, nil
	}

	now := metav1.NewMicroTime(p.now().UTC())
	ttlSec := leaseSeconds(ttl)
	lease.Spec.LeaseDurationSeconds = &ttlSec
	lease.Spec.RenewTime = &now

	if _, err := leases.Update(ctx, lease, metav1.UpdateOptions{}); err != nil {
		if errors.IsConflict(err) {
			return false, nil
		}
		return false, fmt.Errorf("cadence/k8s: renew lease: %w", err)
	}
	return true, nil
}

// GetLeader returns the holder of an unexpired Lease, or "".
func (p *LeaseLock) GetLeader(ctx context.Context) (string, error) {
	lease, err := p.client.CoordinationV1().Leases(p.namespace).Get(ctx, p.leaseName, metav1.GetOptions{})
	if err != nil {
		if errors.IsNotFound(err) {
			return "", nil
		}
		return "", fmt.Errorf("cadence/k8s: get lease: %w", err)
	}
	if lease.Spec.HolderIdentity == nil || p.expired(lease) {
		return "", nil
	}
	return *lease.Spec.HolderIdentity, nil
}

func (p *LeaseLock) heldByOther(lease *coordinationv1.Lease, nodeID string) bool {
	if lease.Spec.HolderIdentity == nil || *lease.Spec.HolderIdentity == "" {
		return false
	}
	if *lease.Spec.HolderIdentity == nodeID {
		return false
	}
	return !p.expired(lease)
}

// expired reports whether renew time plus duration has passed.
func (p *LeaseLock) expired(lease *coordinationv1.Lease) bool {
	if lease.Spec.RenewTime == nil || lease.Spec.LeaseDurationSeconds == nil {
		return true
	}
	dur := time.Duration(*lease.Spec.LeaseDurationSeconds) * time.Second
	return !p.now().Before(lease.Spec.RenewTime.Add(dur))
}
