package sqlite_test

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/id"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/store"
	"github.com/xraph/cadence/store/sqlite"
	"github.com/xraph/cadence/store/storetest"
)

var _ store.Store = (*sqlite.Store)(nil)

func openTestStore(t *testing.T, opts ...sqlite.Option) *sqlite.Store {
	t.Helper()
	ctx := context.Background()

	dsn := "file:" + filepath.Join(t.TempDir(), "cadence.db")
	s, err := sqlite.Open(ctx, dsn, opts...)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return s
}

func TestConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) store.Store {
		t.Helper()
		return openTestStore(t)
	})
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("second migrate: %v", err)
	}
	if err := s.Ping(context.Background()); err != nil {
		t.Fatalf("ping: %v", err)
	}
}

func TestInMemoryDatabase(t *testing.T) {
	ctx := context.Background()
	s, err := sqlite.Open(ctx, ":memory:")
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer s.Close()
	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	j := job.New("invoice-export")
	j.ID = id.NewJobID()
	j.Entity = cadence.NewEntity("acme")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create job: %v", err)
	}
	if _, err := s.GetJobByKey(ctx, "acme", "invoice-export"); err != nil {
		t.Fatalf("job lost between calls: %v", err)
	}
}

// Times survive at nanosecond precision, which keeps dedupe windows exact.
func TestTimePrecision(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	j := job.New("invoice-export", job.WithDedupeWindow(60))
	j.ID = id.NewJobID()
	j.Entity = cadence.NewEntity("acme")
	if err := s.CreateJob(ctx, j); err != nil {
		t.Fatalf("create job: %v", err)
	}

	at := time.Date(2024, 6, 3, 9, 0, 0, 123456789, time.UTC)
	first := run.New(j, nil, at, at)
	first.DedupeKey = "k"
	if _, err := s.CreateRun(ctx, first); err != nil {
		t.Fatalf("create run: %v", err)
	}
	got, err := s.GetRun(ctx, first.ID)
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if !got.CreatedAt.Equal(at) || !got.NotBefore.Equal(at) {
		t.Fatalf("expected %v, got created=%v not_before=%v", at, got.CreatedAt, got.NotBefore)
	}

	// One nanosecond before the window closes the key is still held.
	edge := at.Add(time.Minute - time.Nanosecond)
	second := run.New(j, nil, edge, edge)
	second.DedupeKey = "k"
	if _, err := s.CreateRun(ctx, second); !errors.Is(err, cadence.ErrDedupeConflict) {
		t.Fatalf("expected dedupe conflict inside window, got %v", err)
	}
	third := run.New(j, nil, at.Add(time.Minute), at.Add(time.Minute))
	third.DedupeKey = "k"
	if _, err := s.CreateRun(ctx, third); err != nil {
		t.Fatalf("expected insert at window edge, got %v", err)
	}
}
