package event

import (
	"encoding/json"
	"time"

	"github.com/xraph/cadence/id"
)

// Type names a domain event.
type Type string

// Domain event types published to the sink.
const (
	RunSucceeded  Type = "job.run.succeeded"
	RunFailed     Type = "job.run.failed"
	RunDead       Type = "job.run.dead"
	RunMissed     Type = "job.run.missed"
	WorkerOffline Type = "worker.offline"
)

// Event is an outbox record. It is written in the same atomic write as the
// state change it describes, then delivered at least once by a Relay.
type Event struct {
	ID        id.ID           `json:"id"`
	Type      Type            `json:"type"`
	TenantID  string          `json:"tenant_id"`
	Subject   id.ID           `json:"subject"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Attempts  int             `json:"attempts,omitempty"`
	LastError string          `json:"last_error,omitempty"`
	Acked     bool            `json:"acked"`
	Parked    bool            `json:"parked,omitempty"`
	AckedAt   *time.Time      `json:"acked_at,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// New builds an event about subject with a JSON payload. payload must be
// a plain data struct.
func New(tenant string, typ Type, subject id.ID, payload any, now time.Time) *Event {
	data, err := json.Marshal(payload)
	if err != nil {
		data = nil
	}
	return &Event{
		ID:        id.NewEventID(),
		Type:      typ,
		TenantID:  tenant,
		Subject:   subject,
		Payload:   data,
		CreatedAt: now.UTC(),
	}
}

// Decode unmarshals the payload into v.
func (e *Event) Decode(v any) error {
	return json.Unmarshal(e.Payload, v)
}
