package event

import (
	"context"

	"github.com/xraph/cadence/id"
)

// Store defines the persistence contract of the event outbox.
type Store interface {
	// PublishEvent persists a standalone event. Events tied to a state
	// change are written by that change instead.
	PublishEvent(ctx context.Context, evt *Event) error

	// ListUnacked returns up to limit undelivered events, oldest first.
	// Parked events are left out.
	ListUnacked(ctx context.Context, limit int) ([]*Event, error)

	// AckEvent marks an event delivered.
	AckEvent(ctx context.Context, eventID id.ID) error

	// RecordAttempt counts a failed delivery and keeps the last error.
	RecordAttempt(ctx context.Context, eventID id.ID, lastErr string) error

	// ParkEvent counts a final failed delivery and takes the event out of
	// the delivery order. The record is kept for inspection.
	ParkEvent(ctx context.Context, eventID id.ID, lastErr string) error
}
