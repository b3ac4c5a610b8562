package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config defines the dispatch rate of one queue.
type Config struct {
	// Name is the queue identifier (must match job.Policy.Queue).
	Name string `yaml:"name" json:"name"`

	// RateLimit is the maximum sustained claims per second from this
	// queue. Zero disables rate limiting.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// RateBurst is the burst size for the token-bucket rate limiter.
	// Defaults to 1 if RateLimit is set but RateBurst is zero.
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// Manager enforces per-queue and per-tenant dispatch rate limits. Slot
// accounting lives in the run ledger; the Manager only paces claims. It
// is safe for concurrent use.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*rate.Limiter
	tenants map[string]*rate.Limiter
	now     func() time.Time
}

// NewManager creates a Manager with the given queue configurations.
// Queues not listed here are not limited.
func NewManager(configs ...Config) *Manager {
	m := &Manager{
		queues:  make(map[string]*rate.Limiter, len(configs)),
		tenants: make(map[string]*rate.Limiter),
		now:     time.Now,
	}
	for _, cfg := range configs {
		m.SetQueueConfig(cfg)
	}
	return m
}

func newLimiter(limit float64, burst int) *rate.Limiter {
	if limit <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(limit), burst)
}

// Take consumes one token from the queue and the queue+tenant buckets.
// It returns false, consuming nothing, if either bucket is empty. When
// the caller ends up not claiming, it calls undo to return the tokens.
func (m *Manager) Take(queue, tenantID string) (undo func(), ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var held []*rate.Reservation
	cancel := func() {
		for _, r := range held {
			r.CancelAt(now)
		}
	}
	for _, lim := range []*rate.Limiter{m.queues[queue], m.tenants[tenantKey(queue, tenantID)]} {
		if lim == nil {
			continue
		}
		r := lim.ReserveN(now, 1)
		if !r.OK() || r.DelayFrom(now) > 0 {
			r.CancelAt(now)
			cancel()
			return func() {}, false
		}
		held = append(held, r)
	}
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for _, r := range held {
			r.CancelAt(m.now())
		}
	}, true
}

// Allow reports whether a claim from queue for tenantID may proceed now
// and consumes the tokens if so.
func (m *Manager) Allow(queue, tenantID string) bool {
	_, ok := m.Take(queue, tenantID)
	return ok
}

// SetQueueConfig dynamically updates (or creates) a queue rate limit.
func (m *Manager) SetQueueConfig(cfg Config) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if lim := newLimiter(cfg.RateLimit, cfg.RateBurst); lim != nil {
		m.queues[cfg.Name] = lim
	} else {
		delete(m.queues, cfg.Name)
	}
}

// Limited reports whether queue has a rate limit.
func (m *Manager) Limited(queue string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.queues[queue]
	return ok
}
