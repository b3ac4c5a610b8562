package middleware

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/xraph/cadence/run"
)

// tracerName is the instrumentation scope name for worker tracing.
const tracerName = "github.com/xraph/cadence/worker"

// Tracing returns middleware that wraps run execution in an OpenTelemetry
// span. Without a configured TracerProvider the global noop tracer is used.
//
// Span attributes: cadence.run.id, cadence.run.root_id, cadence.job.key,
// cadence.queue, cadence.attempt, cadence.tenant.
func Tracing() Middleware {
	return TracingWithTracer(otel.Tracer(tracerName))
}

// TracingWithTracer returns tracing middleware using the provided tracer.
func TracingWithTracer(tracer trace.Tracer) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		ctx, span := tracer.Start(ctx, "cadence.run.execute",
			trace.WithAttributes(
				attribute.String("cadence.run.id", r.ID.String()),
				attribute.String("cadence.run.root_id", r.RootID.String()),
				attribute.String("cadence.job.key", r.JobKey),
				attribute.String("cadence.queue", r.Queue),
				attribute.Int("cadence.attempt", r.Attempt),
				attribute.String("cadence.tenant", r.TenantID),
			),
			trace.WithSpanKind(trace.SpanKindConsumer),
		)
		defer span.End()

		err := next(ctx)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		return err
	}
}
