package queue

import "fmt"

// TenantConfig defines the dispatch rate of one tenant on one queue.
type TenantConfig struct {
	// QueueName is the queue this config applies to.
	QueueName string `yaml:"queue" json:"queue"`

	// TenantID is the tenant identifier.
	TenantID string `yaml:"tenant" json:"tenant"`

	// RateLimit is the sustained claims per second for this tenant.
	RateLimit float64 `yaml:"rate_limit" json:"rate_limit"`

	// RateBurst is the burst size for the tenant's rate limiter.
	RateBurst int `yaml:"rate_burst" json:"rate_burst"`
}

// tenantKey builds the map key for a queue+tenant pair.
func tenantKey(queue, tenantID string) string {
	return fmt.Sprintf("%s:%s", queue, tenantID)
}

// SetTenantConfig configures the rate limit of a tenant on a queue.
// Calling it again for the same pair replaces the previous limit.
func (m *Manager) SetTenantConfig(cfg TenantConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := tenantKey(cfg.QueueName, cfg.TenantID)
	if lim := newLimiter(cfg.RateLimit, cfg.RateBurst); lim != nil {
		m.tenants[key] = lim
	} else {
		delete(m.tenants, key)
	}
}
