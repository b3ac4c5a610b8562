package event_test

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/store/memory"
)

var t0 = time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

type payload struct {
	JobKey string `json:"job_key"`
}

func publish(t *testing.T, st *memory.Store, typ event.Type, n int) []*event.Event {
	t.Helper()
	var out []*event.Event
	for i := range n {
		evt := event.New("acme", typ, id.NewRunID(), payload{JobKey: "report"}, t0.Add(time.Duration(i)*time.Second))
		if err := st.PublishEvent(context.Background(), evt); err != nil {
			t.Fatalf("publish: %v", err)
		}
		out = append(out, evt)
	}
	return out
}

func TestNewAndDecode(t *testing.T) {
	subject := id.NewRunID()
	evt := event.New("acme", event.RunSucceeded, subject, payload{JobKey: "report"}, t0)
	if evt.ID.IsNil() || evt.Subject.String() != subject.String() || !evt.CreatedAt.Equal(t0) {
		t.Fatalf("unexpected event: %+v", evt)
	}
	var p payload
	if err := evt.Decode(&p); err != nil || p.JobKey != "report" {
		t.Fatalf("decode: %+v %v", p, err)
	}
}

func TestRelayFlushDeliversInOrder(t *testing.T) {
	st := memory.New()
	want := publish(t, st, event.RunFailed, 3)
	sink := event.NewChannelSink(8)
	relay := event.NewRelay(st, sink)

	n, err := relay.Flush(context.Background())
	if err != nil || n != 3 {
		t.Fatalf("flush: delivered %d (%v)", n, err)
	}
	for i := range want {
		got := <-sink.C()
		if got.ID.String() != want[i].ID.String() {
			t.Fatalf("event %d out of order", i)
		}
	}
	if left, _ := st.ListUnacked(context.Background(), 0); len(left) != 0 {
		t.Fatalf("expected every event acked, %d left", len(left))
	}
	if n, err := relay.Flush(context.Background()); err != nil || n != 0 {
		t.Fatalf("expected an empty second pass, got %d (%v)", n, err)
	}
}

func TestRelayFlushStopsOnFailure(t *testing.T) {
	st := memory.New()
	evts := publish(t, st, event.RunDead, 3)
	boom := errors.New("broker down")
	calls := 0
	sink := event.SinkFunc(func(_ context.Context, evt *event.Event) error {
		calls++
		if evt.ID.String() == evts[1].ID.String() {
			return boom
		}
		return nil
	})

	n, err := event.NewRelay(st, sink).Flush(context.Background())
	if !errors.Is(err, boom) || n != 1 || calls != 2 {
		t.Fatalf("expected the pass to stop at the second event, delivered %d calls %d (%v)", n, calls, err)
	}
	left, _ := st.ListUnacked(context.Background(), 0)
	if len(left) != 2 {
		t.Fatalf("expected 2 events left, got %d", len(left))
	}
	if left[0].ID.String() != evts[1].ID.String() || left[0].Attempts != 1 || left[0].LastError != "broker down" {
		t.Fatalf("expected the failed attempt recorded, got %+v", left[0])
	}
	if left[1].Attempts != 0 {
		t.Fatal("events after the failure must not be attempted")
	}
}

func TestRelayStartNotify(t *testing.T) {
	st := memory.New()
	sink := event.NewChannelSink(4)
	relay := event.NewRelay(st, sink, event.WithInterval(time.Hour))
	if err := relay.Start(context.Background()); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer func() { _ = relay.Stop(context.Background()) }()

	publish(t, st, event.RunMissed, 1)
	relay.Notify()

	select {
	case got := <-sink.C():
		if got.Type != event.RunMissed {
			t.Fatalf("unexpected event type %s", got.Type)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("expected Notify to wake the relay")
	}
}

func TestChannelSink(t *testing.T) {
	sink := event.NewChannelSink(1)
	sink.SetFilter(func(e *event.Event) bool { return e.Type == event.RunDead })
	ctx := context.Background()

	if err := sink.Send(ctx, event.New("acme", event.RunSucceeded, id.NewRunID(), nil, t0)); err != nil {
		t.Fatalf("filtered send: %v", err)
	}
	dead := event.New("acme", event.RunDead, id.NewRunID(), nil, t0)
	if err := sink.Send(ctx, dead); err != nil {
		t.Fatalf("send: %v", err)
	}
	if got := <-sink.C(); got.ID.String() != dead.ID.String() {
		t.Fatal("expected only the dead event to pass the filter")
	}

	// A full buffer blocks until the context ends.
	if err := sink.Send(ctx, dead); err != nil {
		t.Fatalf("send: %v", err)
	}
	short, cancel := context.WithTimeout(ctx, 10*time.Millisecond)
	defer cancel()
	if err := sink.Send(short, dead); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected the context error, got %v", err)
	}

	sink.Close()
	sink.Close()
	if err := sink.Send(ctx, dead); !errors.Is(err, event.ErrSinkClosed) {
		t.Fatalf("expected ErrSinkClosed, got %v", err)
	}
}

func TestMultiAndLogSink(t *testing.T) {
	var buf bytes.Buffer
	logs := event.LogSink{Logger: slog.New(slog.NewJSONHandler(&buf, nil))}
	boom := errors.New("down")
	failing := event.SinkFunc(func(context.Context, *event.Event) error { return boom })

	evt := event.New("acme", event.WorkerOffline, id.NewWorkerID(), nil, t0)
	err := event.Multi{logs, failing}.Send(context.Background(), evt)
	if !errors.Is(err, boom) {
		t.Fatalf("expected the failing sink's error, got %v", err)
	}
	out := buf.String()
	if !strings.Contains(out, `"level":"WARN"`) || !strings.Contains(out, `"type":"worker.offline"`) {
		t.Fatalf("expected a warn log for the event, got %s", out)
	}
}

func TestRelayParksUndeliverableEvent(t *testing.T) {
	st := memory.New()
	evts := publish(t, st, event.RunDead, 2)
	sink := event.SinkFunc(func(_ context.Context, evt *event.Event) error {
		if evt.ID.String() == evts[0].ID.String() {
			return errors.New("payload rejected")
		}
		return nil
	})
	relay := event.NewRelay(st, sink, event.WithMaxAttempts(2))

	if n, err := relay.Flush(context.Background()); err == nil || n != 0 {
		t.Fatalf("expected the first failure to stop the pass, delivered %d (%v)", n, err)
	}
	n, err := relay.Flush(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("expected the event behind the parked one delivered, got %d (%v)", n, err)
	}
	if left, _ := st.ListUnacked(context.Background(), 0); len(left) != 0 {
		t.Fatalf("expected nothing left to deliver, got %d", len(left))
	}
}
