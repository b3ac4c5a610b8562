package observability_test

import (
	"context"
	"errors"
	"testing"
	"time"

	gu "github.com/xraph/go-utils/metrics"

	"github.com/xraph/cadence/event"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/observability"
)

func TestCountersSink(t *testing.T) {
	c := observability.NewCountersWithFactory(gu.NewMetricsCollector("test"))
	down := false
	sink := c.Sink(event.SinkFunc(func(context.Context, *event.Event) error {
		if down {
			return errors.New("down")
		}
		return nil
	}))
	ctx := context.Background()
	now := time.Date(2024, 6, 3, 9, 0, 0, 0, time.UTC)

	for _, typ := range []event.Type{event.RunSucceeded, event.RunFailed, event.RunDead, event.RunMissed, event.WorkerOffline, event.RunSucceeded} {
		if err := sink.Send(ctx, event.New("acme", typ, id.NewRunID(), nil, now)); err != nil {
			t.Fatalf("send %s: %v", typ, err)
		}
	}
	down = true
	if err := sink.Send(ctx, event.New("acme", event.RunDead, id.NewRunID(), nil, now)); err == nil {
		t.Fatal("expected the inner error")
	}

	want := map[string]float64{
		"events_delivered": 6,
		"events_rejected":  1,
		"runs_succeeded":   2,
		"runs_failed":      1,
		"runs_dead":        1,
		"runs_missed":      1,
		"workers_offline":  1,
	}
	got := c.Snapshot()
	for name, n := range want {
		if got[name] != n {
			t.Fatalf("%s = %v, want %v (all: %v)", name, got[name], n, got)
		}
	}
}
