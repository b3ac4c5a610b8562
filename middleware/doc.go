// Package middleware provides composable middleware for run execution on a
// worker.
//
// A [Middleware] wraps a job handler. Middleware are composed with [Chain]
// and applied around each claimed run. The first middleware in the slice
// is the outermost wrapper.
//
//	// logging → recover → handler
//	chain := middleware.Chain(middleware.Logging(logger), middleware.Recover(logger))
//
// # Built-in Middleware
//
//   - [Logging] logs job key, queue, duration and outcome
//   - [Recover] converts panics to errors
//   - [Timeout] bounds the handler by the run's policy timeout
//   - [Tracing] wraps execution in an OpenTelemetry span
//   - [Metrics] records per-run duration and outcome counters
//   - [Tenant] puts the run's tenant into the context
//
// Middleware MUST call next to continue the chain unless intentionally
// short-circuiting.
package middleware
