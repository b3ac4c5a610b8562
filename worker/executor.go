// Package worker is the execution agent. A Pool registers with the
// scheduler, heartbeats, claims runs up to its free capacity, executes
// them through middleware and the registered handler, and reports the
// outcome.
package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/xraph/cadence/middleware"
	"github.com/xraph/cadence/run"
)

// Executor runs one claimed run through middleware and its handler.
type Executor struct {
	handlers *Handlers
	mw       middleware.Middleware
	logger   *slog.Logger
}

// DefaultMiddleware is the chain every pool applies:
// recover → tracing → metrics → logging → tenant → timeout.
func DefaultMiddleware(logger *slog.Logger) []middleware.Middleware {
	return []middleware.Middleware{
		middleware.Recover(logger),
		middleware.Tracing(),
		middleware.Metrics(),
		middleware.Logging(logger),
		middleware.Tenant(),
		middleware.Timeout(logger),
	}
}

// NewExecutor creates an Executor.
func NewExecutor(handlers *Handlers, logger *slog.Logger, mws ...middleware.Middleware) *Executor {
	return &Executor{
		handlers: handlers,
		mw:       middleware.Chain(mws...),
		logger:   logger,
	}
}

// Execute runs r and returns the handler's error.
func (e *Executor) Execute(ctx context.Context, r *run.Run) error {
	handler, ok := e.handlers.Get(r.JobKey)
	if !ok {
		return fmt.Errorf("no handler registered for job %q", r.JobKey)
	}
	return e.mw(ctx, r, func(ctx context.Context) error {
		return handler(ctx, r.Payload)
	})
}
