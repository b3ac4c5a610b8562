// Package observability exports scheduler outcomes as OpenTelemetry
// metrics.
//
// [InstrumentSink] wraps the event sink the relay delivers to. Every event
// the outbox produces passes through it, so the counters are exact with
// respect to delivered events and need no extra hooks in the scheduler.
//
//	sink := observability.NewInstrumentSink(event.LogSink{Logger: logger})
//	eng, err := engine.Build(s, engine.WithSink(sink))
//
// Per-run execution metrics on the worker side live in the middleware
// package.
package observability
