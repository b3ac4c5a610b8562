package job_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/job"
	"github.com/xraph/cadence/scope"
	"github.com/xraph/cadence/store/memory"
)

func TestNewAppliesDefaults(t *testing.T) {
	j := job.New("invoice-export")
	if !j.Enabled || j.Policy != job.DefaultPolicy() {
		t.Fatalf("expected an enabled job with the default policy, got %+v", j)
	}
	if err := j.Validate(); err != nil {
		t.Fatalf("default job should validate: %v", err)
	}

	j = job.New("payroll",
		job.WithQueue("finance"),
		job.WithPriority(9),
		job.WithMaxAttempts(5),
		job.WithFixedBackoff(15),
		job.WithTimeout(120),
		job.WithConcurrencyLimit(1),
		job.WithSLA(600),
		job.WithDedupeWindow(3600),
	)
	want := job.Policy{
		Queue:            "finance",
		Priority:         9,
		MaxAttempts:      5,
		Backoff:          job.Backoff{Strategy: job.StrategyFixed, BaseSec: 15},
		TimeoutSec:       120,
		ConcurrencyLimit: 1,
		SLASec:           600,
		DedupeWindowSec:  3600,
	}
	if j.Policy != want {
		t.Fatalf("options not applied:\n got %+v\nwant %+v", j.Policy, want)
	}
	if j.Timeout() != 2*time.Minute || j.SLA() != 10*time.Minute || j.DedupeWindow() != time.Hour {
		t.Fatal("unexpected duration helpers")
	}
}

func TestPolicyValidate(t *testing.T) {
	tests := []struct {
		name  string
		opt   job.Option
		field string
	}{
		{"empty queue", job.WithQueue(""), "queue"},
		{"priority too low", job.WithPriority(0), "priority"},
		{"priority too high", job.WithPriority(10), "priority"},
		{"no attempts", job.WithMaxAttempts(0), "max_attempts"},
		{"no timeout", job.WithTimeout(0), "timeout_sec"},
		{"zero backoff", job.WithFixedBackoff(0), "backoff.base_sec"},
		{"cap below base", job.WithExponentialBackoff(60, 30), "backoff.max_sec"},
		{"negative concurrency", job.WithConcurrencyLimit(-1), "concurrency_limit"},
		{"negative sla", job.WithSLA(-1), "sla_sec"},
		{"negative dedupe window", job.WithDedupeWindow(-5), "dedupe_window_sec"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := job.New("k", tt.opt).Validate()
			var ve *cadence.ValidationError
			if !errors.As(err, &ve) {
				t.Fatalf("expected a ValidationError, got %v", err)
			}
			if ve.Field != tt.field {
				t.Fatalf("expected field %q, got %q", tt.field, ve.Field)
			}
		})
	}
}

func TestBackoffDelay(t *testing.T) {
	exp := job.Backoff{Strategy: job.StrategyExponential, BaseSec: 60, MaxSec: 300}
	want := []time.Duration{60 * time.Second, 120 * time.Second, 240 * time.Second, 300 * time.Second, 300 * time.Second}
	for i, w := range want {
		if got := exp.Delay(i + 1); got != w {
			t.Fatalf("exponential delay after attempt %d = %v, want %v", i+1, got, w)
		}
	}

	fixed := job.Backoff{Strategy: job.StrategyFixed, BaseSec: 45}
	for attempt := 1; attempt <= 3; attempt++ {
		if got := fixed.Delay(attempt); got != 45*time.Second {
			t.Fatalf("fixed delay after attempt %d = %v", attempt, got)
		}
	}
}

func TestPatchApply(t *testing.T) {
	base := *job.New("invoice-export")
	prio, off := 8, false
	got := job.Patch{Priority: &prio, Enabled: &off}.Apply(base)

	if got.Priority != 8 || got.Enabled {
		t.Fatalf("patch not applied: %+v", got)
	}
	if base.Priority != 5 || !base.Enabled {
		t.Fatal("patch must not modify its input")
	}
	if got.Queue != base.Queue || got.MaxAttempts != base.MaxAttempts {
		t.Fatal("nil fields must be left unchanged")
	}
}

func TestRegistry(t *testing.T) {
	reg := job.NewRegistry(memory.New(), time.Minute, nil)
	ctx := scope.WithTenant(context.Background(), "acme")

	j, err := reg.Create(ctx, job.New("invoice-export"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if j.ID.IsNil() || j.TenantID != "acme" || j.Version != 1 {
		t.Fatalf("unexpected created job: %+v", j)
	}
	if _, err := reg.Create(ctx, job.New("invoice-export")); !errors.Is(err, cadence.ErrJobAlreadyExists) {
		t.Fatalf("expected ErrJobAlreadyExists, got %v", err)
	}
	if _, err := reg.Create(ctx, job.New("", job.WithPriority(3))); !cadence.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}

	// Warm the cache, then make sure a version bump is visible by key.
	if _, err := reg.GetByKey(ctx, "invoice-export"); err != nil {
		t.Fatalf("get by key: %v", err)
	}
	prio := 7
	updated, err := reg.Update(ctx, j.ID, job.Patch{Priority: &prio}, j.Version)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2, got %d", updated.Version)
	}
	byKey, err := reg.GetByKey(ctx, "invoice-export")
	if err != nil {
		t.Fatalf("get by key: %v", err)
	}
	if byKey.Priority != 7 || byKey.Version != 2 {
		t.Fatalf("expected the cache to be invalidated, got priority=%d version=%d", byKey.Priority, byKey.Version)
	}

	if _, err := reg.Update(ctx, j.ID, job.Patch{Priority: &prio}, 1); !errors.Is(err, cadence.ErrVersionConflict) {
		t.Fatalf("expected a version conflict, got %v", err)
	}
	bad := 0
	if _, err := reg.Update(ctx, j.ID, job.Patch{MaxAttempts: &bad}, 0); !cadence.IsValidation(err) {
		t.Fatalf("expected a validation error, got %v", err)
	}

	disabled, err := reg.Disable(ctx, j.ID)
	if err != nil || disabled.Enabled {
		t.Fatalf("disable: %v (enabled=%v)", err, disabled != nil && disabled.Enabled)
	}
	enabled, err := reg.Enable(ctx, j.ID)
	if err != nil || !enabled.Enabled || enabled.Version != 4 {
		t.Fatalf("enable: %v", err)
	}

	other := scope.WithTenant(context.Background(), "globex")
	if _, err := reg.Get(other, j.ID); !errors.Is(err, cadence.ErrJobNotFound) {
		t.Fatalf("expected another tenant not to see the job, got %v", err)
	}
	if list, err := reg.List(other, job.ListOpts{}); err != nil || len(list) != 0 {
		t.Fatalf("expected an empty list for another tenant, got %d (%v)", len(list), err)
	}
}
