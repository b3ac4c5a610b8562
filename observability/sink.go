package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/cadence/event"
)

// meterName is the instrumentation scope of scheduler-wide metrics.
const meterName = "github.com/xraph/cadence/observability"

// Compile-time interface check.
var _ event.Sink = (*InstrumentSink)(nil)

// InstrumentSink counts every event handed to the wrapped sink, so run
// outcomes and worker losses show up as metrics without a separate hook.
//
// Instruments:
//   - cadence.events.delivered (Int64Counter): by type and tenant
//   - cadence.events.failed (Int64Counter): deliveries the inner sink rejected
//   - cadence.runs.dead, cadence.runs.missed, cadence.workers.offline
//     (Int64Counter): the outcomes that need operator attention
type InstrumentSink struct {
	next      event.Sink
	delivered metric.Int64Counter
	failed    metric.Int64Counter
	dead      metric.Int64Counter
	missed    metric.Int64Counter
	offline   metric.Int64Counter
}

// NewInstrumentSink wraps next using the global MeterProvider.
func NewInstrumentSink(next event.Sink) *InstrumentSink {
	return NewInstrumentSinkWithMeter(next, otel.Meter(meterName))
}

// NewInstrumentSinkWithMeter wraps next using meter.
func NewInstrumentSinkWithMeter(next event.Sink, meter metric.Meter) *InstrumentSink {
	counter := func(name, desc string) metric.Int64Counter {
		c, _ := meter.Int64Counter(name, metric.WithDescription(desc))
		return c
	}
	return &InstrumentSink{
		next:      next,
		delivered: counter("cadence.events.delivered", "Events delivered to the sink"),
		failed:    counter("cadence.events.failed", "Event deliveries rejected by the sink"),
		dead:      counter("cadence.runs.dead", "Runs that ended dead"),
		missed:    counter("cadence.runs.missed", "Runs that missed their SLA"),
		offline:   counter("cadence.workers.offline", "Workers marked offline"),
	}
}

// Send implements event.Sink.
func (s *InstrumentSink) Send(ctx context.Context, evt *event.Event) error {
	attrs := metric.WithAttributes(
		attribute.String("type", string(evt.Type)),
		attribute.String("tenant", evt.TenantID),
	)
	if err := s.next.Send(ctx, evt); err != nil {
		s.failed.Add(ctx, 1, attrs)
		return err
	}
	s.delivered.Add(ctx, 1, attrs)

	tenant := metric.WithAttributes(attribute.String("tenant", evt.TenantID))
	switch evt.Type {
	case event.RunDead:
		s.dead.Add(ctx, 1, tenant)
	case event.RunMissed:
		s.missed.Add(ctx, 1, tenant)
	case event.WorkerOffline:
		s.offline.Add(ctx, 1, tenant)
	}
	return nil
}
