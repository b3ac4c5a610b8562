package middleware

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/xraph/cadence/run"
)

// meterName is the instrumentation scope name for worker metrics.
const meterName = "github.com/xraph/cadence/worker"

// Metrics returns middleware that records per-run execution metrics using
// the global OTel MeterProvider.
//
// Instruments:
//   - cadence.run.duration (Float64Histogram): execution time in seconds
//   - cadence.run.executions (Int64Counter): total executions
//
// Both carry job_key, queue and status ("ok" or "error").
func Metrics() Middleware {
	return MetricsWithMeter(otel.Meter(meterName))
}

// MetricsWithMeter returns metrics middleware using the provided meter.
func MetricsWithMeter(meter metric.Meter) Middleware {
	// On error the OTel API hands back noop instruments.
	duration, _ := meter.Float64Histogram(
		"cadence.run.duration",
		metric.WithDescription("Duration of run execution in seconds"),
		metric.WithUnit("s"),
	)
	executions, _ := meter.Int64Counter(
		"cadence.run.executions",
		metric.WithDescription("Total number of run executions"),
		metric.WithUnit("{execution}"),
	)

	return func(ctx context.Context, r *run.Run, next Handler) error {
		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start).Seconds()

		status := "ok"
		if err != nil {
			status = "error"
		}
		attrs := metric.WithAttributes(
			attribute.String("job_key", r.JobKey),
			attribute.String("queue", r.Queue),
			attribute.String("status", status),
		)
		duration.Record(ctx, elapsed, attrs)
		executions.Add(ctx, 1, attrs)
		return err
	}
}
