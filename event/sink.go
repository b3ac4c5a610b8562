package event

import (
	"context"
	"errors"
	"log/slog"
	"sync"
)

// ErrSinkClosed is returned by a ChannelSink after Close.
var ErrSinkClosed = errors.New("event: sink closed")

// Sink is the external destination of domain events. Send returning nil
// means the event was accepted and will be acked in the outbox.
type Sink interface {
	Send(ctx context.Context, evt *Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt *Event) error

// Send calls f.
func (f SinkFunc) Send(ctx context.Context, evt *Event) error { return f(ctx, evt) }

// LogSink writes every event to a structured logger. Dead and missed runs
// are logged at warn level so they stand out.
type LogSink struct {
	Logger *slog.Logger
}

// Send logs evt.
func (s LogSink) Send(ctx context.Context, evt *Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	level := slog.LevelInfo
	switch evt.Type {
	case RunDead, RunMissed, WorkerOffline:
		level = slog.LevelWarn
	}
	logger.LogAttrs(ctx, level, "event",
		slog.String("event_id", evt.ID.String()),
		slog.String("type", string(evt.Type)),
		slog.String("tenant", evt.TenantID),
		slog.String("subject", evt.Subject.String()),
		slog.String("payload", string(evt.Payload)),
	)
	return nil
}

// ChannelSink hands events to an in-process consumer over a bounded
// channel. Send blocks while the buffer is full, which stalls the relay
// and leaves later events in the outbox.
type ChannelSink struct {
	ch     chan *Event
	filter func(*Event) bool

	mu     sync.RWMutex
	closed bool
}

// NewChannelSink creates a sink buffering up to size events.
func NewChannelSink(size int) *ChannelSink {
	return &ChannelSink{ch: make(chan *Event, size)}
}

// C returns the read-only event channel.
func (s *ChannelSink) C() <-chan *Event { return s.ch }

// SetFilter sets a predicate. Events it rejects are accepted and dropped.
func (s *ChannelSink) SetFilter(fn func(*Event) bool) { s.filter = fn }

// Send delivers evt or waits until ctx is done.
func (s *ChannelSink) Send(ctx context.Context, evt *Event) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	if s.filter != nil && !s.filter(evt) {
		return nil
	}
	cp := *evt
	select {
	case s.ch <- &cp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close closes the channel. Further sends fail.
func (s *ChannelSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.ch)
	}
}

// Multi fans an event out to several sinks. It fails if any sink fails,
// so every sink sees the event at least once.
type Multi []Sink

// Send delivers evt to every sink.
func (m Multi) Send(ctx context.Context, evt *Event) error {
	var errs []error
	for _, s := range m {
		if err := s.Send(ctx, evt); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
