package scope_test

import (
	"context"
	"testing"

	"github.com/xraph/cadence"
	"github.com/xraph/cadence/scope"
)

func TestTenantDefaults(t *testing.T) {
	ctx := context.Background()
	if got := scope.Tenant(ctx); got != cadence.DefaultTenant {
		t.Errorf("Tenant() = %q, want %q", got, cadence.DefaultTenant)
	}
	if _, ok := scope.Capture(ctx); ok {
		t.Error("expected no captured tenant")
	}
	if scope.WithTenant(ctx, "") != ctx {
		t.Error("empty tenant should leave context unchanged")
	}
}

func TestTenantRoundTrip(t *testing.T) {
	ctx := scope.WithTenant(context.Background(), "acme")
	if got := scope.Tenant(ctx); got != "acme" {
		t.Errorf("Tenant() = %q, want acme", got)
	}
	if got, ok := scope.Capture(ctx); !ok || got != "acme" {
		t.Errorf("Capture() = %q, %v", got, ok)
	}
}
