package job

// DefaultPolicy returns the policy a job starts from before options apply.
func DefaultPolicy() Policy {
	return Policy{
		Queue:       "default",
		Priority:    5,
		MaxAttempts: 3,
		Backoff:     Backoff{Strategy: StrategyExponential, BaseSec: 30, MaxSec: 600},
		TimeoutSec:  300,
	}
}

// Option is a functional option for building a job definition.
type Option func(*Policy)

// New returns an enabled job with the default policy and opts applied. It
// is not persisted; pass it to Registry.Create.
func New(key string, opts ...Option) *Job {
	j := &Job{Key: key, Enabled: true, Policy: DefaultPolicy()}
	for _, opt := range opts {
		opt(&j.Policy)
	}
	return j
}

// WithQueue sets the queue runs are dispatched from.
func WithQueue(q string) Option {
	return func(p *Policy) { p.Queue = q }
}

// WithPriority sets the dispatch priority. 9 is the most urgent.
func WithPriority(n int) Option {
	return func(p *Policy) { p.Priority = n }
}

// WithMaxAttempts sets the attempt budget, including the first attempt.
func WithMaxAttempts(n int) Option {
	return func(p *Policy) { p.MaxAttempts = n }
}

// WithFixedBackoff waits baseSec seconds between attempts.
func WithFixedBackoff(baseSec int) Option {
	return func(p *Policy) { p.Backoff = Backoff{Strategy: StrategyFixed, BaseSec: baseSec} }
}

// WithExponentialBackoff doubles the wait from baseSec, capped at maxSec
// when maxSec is positive.
func WithExponentialBackoff(baseSec, maxSec int) Option {
	return func(p *Policy) {
		p.Backoff = Backoff{Strategy: StrategyExponential, BaseSec: baseSec, MaxSec: maxSec}
	}
}

// WithTimeout sets the per-attempt timeout in seconds.
func WithTimeout(sec int) Option {
	return func(p *Policy) { p.TimeoutSec = sec }
}

// WithConcurrencyLimit caps simultaneously running runs of the job.
func WithConcurrencyLimit(n int) Option {
	return func(p *Policy) { p.ConcurrencyLimit = n }
}

// WithSLA sets the maximum start delay in seconds.
func WithSLA(sec int) Option {
	return func(p *Policy) { p.SLASec = sec }
}

// WithDedupeWindow bounds how long a dedupe key blocks new runs.
func WithDedupeWindow(sec int) Option {
	return func(p *Policy) { p.DedupeWindowSec = sec }
}
