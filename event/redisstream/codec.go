package redisstream

import (
	"encoding/json"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
)

// Codec encodes an event for the stream's "data" field.
type Codec interface {
	Encode(evt *event.Event) ([]byte, error)
	Decode(data []byte) (*event.Event, error)

	// Name is written to the entry's "codec" field.
	Name() string
}

// Codec names.
const (
	CodecNameJSON    = "json"
	CodecNameMsgpack = "msgpack"
)

// CodecFor returns a codec by name. Defaults to JSON.
func CodecFor(name string) Codec {
	if name == CodecNameMsgpack {
		return MsgpackCodec{}
	}
	return JSONCodec{}
}

// message is the wire form shared by both codecs. IDs travel as strings.
type message struct {
	ID        string          `json:"id" msgpack:"id"`
	Type      string          `json:"type" msgpack:"type"`
	TenantID  string          `json:"tenant_id" msgpack:"tenant_id"`
	Subject   string          `json:"subject,omitempty" msgpack:"subject,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty" msgpack:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at" msgpack:"created_at"`
}

func toMessage(evt *event.Event) message {
	return message{
		ID:        evt.ID.String(),
		Type:      string(evt.Type),
		TenantID:  evt.TenantID,
		Subject:   evt.Subject.String(),
		Payload:   evt.Payload,
		CreatedAt: evt.CreatedAt,
	}
}

func fromMessage(m message) (*event.Event, error) {
	eid, err := id.ParseEventID(m.ID)
	if err != nil {
		return nil, err
	}
	var subject id.ID
	if m.Subject != "" {
		if subject, err = id.Parse(m.Subject); err != nil {
			return nil, err
		}
	}
	return &event.Event{
		ID:        eid,
		Type:      event.Type(m.Type),
		TenantID:  m.TenantID,
		Subject:   subject,
		Payload:   m.Payload,
		CreatedAt: m.CreatedAt.UTC(),
	}, nil
}

// JSONCodec encodes events as JSON.
type JSONCodec struct{}

func (JSONCodec) Encode(evt *event.Event) ([]byte, error) { return json.Marshal(toMessage(evt)) }

func (JSONCodec) Decode(data []byte) (*event.Event, error) {
	var m message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return fromMessage(m)
}

func (JSONCodec) Name() string { return CodecNameJSON }

// MsgpackCodec encodes events as MessagePack. The payload stays JSON.
type MsgpackCodec struct{}

func (MsgpackCodec) Encode(evt *event.Event) ([]byte, error) { return msgpack.Marshal(toMessage(evt)) }

func (MsgpackCodec) Decode(data []byte) (*event.Event, error) {
	var m message
	if err := msgpack.Unmarshal(data, &m); err != nil {
		return nil, err
	}
	return fromMessage(m)
}

func (MsgpackCodec) Name() string { return CodecNameMsgpack }
