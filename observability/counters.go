package observability

import (
	"context"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/cadence/event"
)

// Counters tallies outbox traffic on this node with go-utils counters. The
// totals are served by the management API and need no metrics backend.
type Counters struct {
	Delivered      gu.Counter
	Rejected       gu.Counter
	RunSucceeded   gu.Counter
	RunFailed      gu.Counter
	RunDead        gu.Counter
	RunMissed      gu.Counter
	WorkersOffline gu.Counter
}

// NewCounters creates Counters backed by a default metrics collector.
func NewCounters() *Counters {
	return NewCountersWithFactory(gu.NewMetricsCollector("cadence/observability"))
}

// NewCountersWithFactory creates Counters with the provided MetricFactory.
func NewCountersWithFactory(factory gu.MetricFactory) *Counters {
	return &Counters{
		Delivered:      factory.Counter("cadence.events.delivered"),
		Rejected:       factory.Counter("cadence.events.rejected"),
		RunSucceeded:   factory.Counter("cadence.runs.succeeded"),
		RunFailed:      factory.Counter("cadence.runs.failed"),
		RunDead:        factory.Counter("cadence.runs.dead"),
		RunMissed:      factory.Counter("cadence.runs.missed"),
		WorkersOffline: factory.Counter("cadence.workers.offline"),
	}
}

// Sink wraps next so every delivery attempt is counted.
func (c *Counters) Sink(next event.Sink) event.Sink {
	return event.SinkFunc(func(ctx context.Context, evt *event.Event) error {
		if err := next.Send(ctx, evt); err != nil {
			c.Rejected.Inc()
			return err
		}
		c.Delivered.Inc()
		switch evt.Type {
		case event.RunSucceeded:
			c.RunSucceeded.Inc()
		case event.RunFailed:
			c.RunFailed.Inc()
		case event.RunDead:
			c.RunDead.Inc()
		case event.RunMissed:
			c.RunMissed.Inc()
		case event.WorkerOffline:
			c.WorkersOffline.Inc()
		}
		return nil
	})
}

// Snapshot returns the current totals keyed by short name.
func (c *Counters) Snapshot() map[string]float64 {
	return map[string]float64{
		"events_delivered": c.Delivered.Value(),
		"events_rejected":  c.Rejected.Value(),
		"runs_succeeded":   c.RunSucceeded.Value(),
		"runs_failed":      c.RunFailed.Value(),
		"runs_dead":        c.RunDead.Value(),
		"runs_missed":      c.RunMissed.Value(),
		"workers_offline":  c.WorkersOffline.Value(),
	}
}
