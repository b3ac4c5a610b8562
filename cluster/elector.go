package cluster

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Elector keeps trying to hold leadership for one scheduler node and
// exposes the outcome through IsLeader.
type Elector struct {
	lead   Leadership
	nodeID string
	ttl    time.Duration
	logger *slog.Logger

	leader atomic.Bool
	stopCh chan struct{}
	wg     sync.WaitGroup
}

// NewElector creates an elector for nodeID.
func NewElector(lead Leadership, nodeID string, ttl time.Duration, logger *slog.Logger) *Elector {
	if logger == nil {
		logger = slog.Default()
	}
	if ttl <= 0 {
		ttl = 15 * time.Second
	}
	return &Elector{
		lead:   lead,
		nodeID: nodeID,
		ttl:    ttl,
		logger: logger,
		stopCh: make(chan struct{}),
	}
}

// NodeID returns the node this elector campaigns for.
func (e *Elector) NodeID() string { return e.nodeID }

// IsLeader reports whether the last campaign round held leadership.
func (e *Elector) IsLeader() bool { return e.leader.Load() }

// Start campaigns once synchronously, then renews every ttl/2.
func (e *Elector) Start(ctx context.Context) error {
	e.Campaign(ctx)
	e.wg.Add(1)
	go e.loop()
	return nil
}

// Stop ends the campaign loop.
func (e *Elector) Stop(_ context.Context) error {
	close(e.stopCh)
	e.wg.Wait()
	e.leader.Store(false)
	return nil
}

func (e *Elector) loop() {
	defer e.wg.Done()

	ticker := time.NewTicker(e.ttl / 2)
	defer ticker.Stop()

	for {
		select {
		case <-e.stopCh:
			return
		case <-ticker.C:
			e.Campaign(context.Background())
		}
	}
}

// Campaign renews leadership, or tries to acquire it, once.
func (e *Elector) Campaign(ctx context.Context) bool {
	renewed, err := e.lead.RenewLeadership(ctx, e.nodeID, e.ttl)
	if err != nil {
		e.logger.Warn("leadership renew error", slog.String("error", err.Error()))
		e.set(false)
		return false
	}
	if renewed {
		e.set(true)
		return true
	}
	acquired, err := e.lead.AcquireLeadership(ctx, e.nodeID, e.ttl)
	if err != nil {
		e.logger.Warn("leadership acquire error", slog.String("error", err.Error()))
		e.set(false)
		return false
	}
	e.set(acquired)
	return acquired
}

func (e *Elector) set(leader bool) {
	if was := e.leader.Swap(leader); was != leader {
		if leader {
			e.logger.Info("acquired scheduling leadership", slog.String("node_id", e.nodeID))
		} else {
			e.logger.Warn("lost scheduling leadership", slog.String("node_id", e.nodeID))
		}
	}
}
