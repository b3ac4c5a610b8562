package k8s

import (
	"log/slog"
	"time"
)

// Option configures a LeaseLock.
type Option func(*LeaseLock)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *LeaseLock) { p.logger = l }
}

// WithLeaseName sets the Lease object name used for leader election.
// Default: "cadence-scheduler".
func WithLeaseName(name string) Option {
	return func(p *LeaseLock) { p.leaseName = name }
}

// WithClock sets the time source used for expiry checks.
func WithClock(now func() time.Time) Option {
	return func(p *LeaseLock) { p.now = now }
}
