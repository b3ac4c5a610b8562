package middleware

import (
	"context"

	"github.com/xraph/cadence/run"
	"github.com/xraph/cadence/scope"
)

// Tenant returns middleware that puts the run's tenant into the context,
// so handlers calling back into the scheduler act for the same tenant.
func Tenant() Middleware {
	return func(ctx context.Context, r *run.Run, next Handler) error {
		return next(scope.WithTenant(ctx, r.TenantID))
	}
}
