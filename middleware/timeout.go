package middleware

import (
	"context"
	"log/slog"

	"github.com/xraph/cadence/run"
)

// Timeout returns middleware that bounds a handler by the run's policy
// timeout. The SLA monitor enforces the same limit on the scheduler side;
// this deadline only lets a cooperative handler stop in time.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		if d := r.Policy.Timeout(); d > 0 {
			logger.Debug("run timeout set",
				slog.String("run_id", r.ID.String()),
				slog.Duration("timeout", d),
			)
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, d)
			defer cancel()
		}
		return next(ctx)
	}
}
