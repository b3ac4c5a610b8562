// Package scope carries the tenant identity on a context.Context. The API
// layer captures it from the request, services read it to partition data,
// and worker middleware restores it from the run before a handler executes.
package scope

import (
	"context"

	"github.com/xraph/cadence"
)

type tenantKey struct{}

// WithTenant attaches a tenant to the context. An empty tenant is a no-op.
func WithTenant(ctx context.Context, tenant string) context.Context {
	if tenant == "" {
		return ctx
	}
	return context.WithValue(ctx, tenantKey{}, tenant)
}

// Tenant returns the tenant on the context, or cadence.DefaultTenant.
func Tenant(ctx context.Context) string {
	if t, ok := ctx.Value(tenantKey{}).(string); ok && t != "" {
		return t
	}
	return cadence.DefaultTenant
}

// Capture returns the tenant on the context and whether one was set.
func Capture(ctx context.Context) (string, bool) {
	t, ok := ctx.Value(tenantKey{}).(string)
	return t, ok && t != ""
}
