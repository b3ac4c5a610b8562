package cadence

import "time"

// DedupePolicy decides what a submission does when an active run already
// holds its dedupe key.
type DedupePolicy string

const (
	// DedupeReturnExisting answers the submission with the active run.
	DedupeReturnExisting DedupePolicy = "return-existing"
	// DedupeReject fails the submission with a ConflictError.
	DedupeReject DedupePolicy = "reject"
)

// Valid reports whether p is a known policy.
func (p DedupePolicy) Valid() bool {
	return p == DedupeReturnExisting || p == DedupeReject
}

// Config holds configuration for the Scheduler.
type Config struct {
	// HeartbeatInterval is how often workers are expected to heartbeat.
	HeartbeatInterval time.Duration

	// LivenessMultiple is how many heartbeat intervals may pass before a
	// worker is considered dead and its runs are reclaimed.
	LivenessMultiple int

	// SweepInterval is how often the SLA monitor sweeps the ledger.
	SweepInterval time.Duration

	// TickInterval is how often the trigger engine looks for due schedules.
	TickInterval time.Duration

	// LeaderTTL is the lifetime of the scheduling leadership lease.
	LeaderTTL time.Duration

	// DispatchRefresh is how stale a queue heap may get before the
	// dispatcher reloads it from the ledger.
	DispatchRefresh time.Duration

	// DedupePolicy governs on-demand submissions that hit an active
	// dedupe key.
	DedupePolicy DedupePolicy

	// MutateRetries bounds how often a writer retries after losing a
	// version compare-and-swap.
	MutateRetries int

	// EventBatch is the number of outbox events delivered per relay pass.
	EventBatch int

	// EventPollInterval is how often the relay polls the outbox when idle.
	EventPollInterval time.Duration

	// EventMaxAttempts is how many failed deliveries an event gets before
	// it is parked. Zero means never park.
	EventMaxAttempts int

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		HeartbeatInterval: 10 * time.Second,
		LivenessMultiple:  3,
		SweepInterval:     5 * time.Second,
		TickInterval:      1 * time.Second,
		LeaderTTL:         15 * time.Second,
		DispatchRefresh:   500 * time.Millisecond,
		DedupePolicy:      DedupeReturnExisting,
		MutateRetries:     5,
		EventBatch:        100,
		EventPollInterval: 1 * time.Second,
		EventMaxAttempts:  20,
		ShutdownTimeout:   30 * time.Second,
	}
}

// LivenessWindow is the heartbeat silence after which a worker is stale.
func (c Config) LivenessWindow() time.Duration {
	m := c.LivenessMultiple
	if m < 1 {
		m = 1
	}
	return c.HeartbeatInterval * time.Duration(m)
}
