// Package event is the scheduler's outbound event path.
//
// Run and worker state changes write [Event] records into an outbox in the
// same atomic store write as the change itself. A [Relay] drains the
// outbox into a [Sink] and acks each event only after the sink accepted
// it, giving at-least-once delivery. A slow sink applies backpressure: the
// relay stalls and undelivered events stay in the outbox.
//
// Sinks provided here are [LogSink], [ChannelSink] for in-process
// consumers and [Multi]. The redisstream subpackage publishes to Redis
// Streams.
package event
