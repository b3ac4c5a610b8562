// Package engine wires every scheduler subsystem around one store and
// exposes the operations of a scheduler node.
//
// The engine package exists to break an import cycle: the root cadence
// package defines Entity and the error taxonomy, imported by every
// subsystem, and therefore cannot import those subsystems back. Engine
// sits above them and below the application layer (api, cmd).
//
// # Building an Engine
//
//	s, err := cadence.New(
//	    cadence.WithStore(pgStore),
//	    cadence.WithHeartbeat(10*time.Second, 3),
//	)
//
//	eng, err := engine.Build(s,
//	    engine.WithSink(redisSink),
//	    engine.WithQueueConfig(queue.Config{Name: "reports", RateLimit: 5, RateBurst: 5}),
//	)
//
//	if err := s.Start(ctx); err != nil { ... }
//	defer s.Stop(ctx)
//
// # Subsystems
//
//   - leader election (cluster.Elector) gates schedule firing
//   - trigger.Engine materializes runs from schedules and submissions
//   - dispatcher.Dispatcher hands pending runs to workers
//   - retry.Controller applies worker reports and schedules retries
//   - sla.Monitor enforces SLAs, timeouts and worker liveness
//   - event.Relay delivers the outbox to the configured sink
//
// Engine also satisfies worker.Backend, so an in-process worker.Pool can
// execute runs without going through HTTP.
package engine
