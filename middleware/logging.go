package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/xraph/cadence/run"
)

// Logging returns middleware that logs run start and completion.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		logger.Info("run started",
			slog.String("job_key", r.JobKey),
			slog.String("run_id", r.ID.String()),
			slog.String("queue", r.Queue),
			slog.Int("attempt", r.Attempt),
		)

		start := time.Now()
		err := next(ctx)
		elapsed := time.Since(start)

		if err != nil {
			logger.Error("run failed",
				slog.String("job_key", r.JobKey),
				slog.String("run_id", r.ID.String()),
				slog.Duration("elapsed", elapsed),
				slog.String("error", err.Error()),
			)
		} else {
			logger.Info("run completed",
				slog.String("job_key", r.JobKey),
				slog.String("run_id", r.ID.String()),
				slog.Duration("elapsed", elapsed),
			)
		}
		return err
	}
}
