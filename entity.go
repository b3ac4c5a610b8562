package cadence

import "time"

// Entity carries the bookkeeping fields shared by every persisted record.
// Version is bumped on every write and compared by optimistic updates.
type Entity struct {
	TenantID  string    `json:"tenant_id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	Version   int64     `json:"version"`
}

// DefaultTenant is used when a caller does not name a tenant.
const DefaultTenant = "default"

// NewEntity returns an Entity at version 1 stamped with the current time.
func NewEntity(tenant string) Entity {
	if tenant == "" {
		tenant = DefaultTenant
	}
	now := time.Now().UTC()
	return Entity{
		TenantID:  tenant,
		CreatedAt: now,
		UpdatedAt: now,
		Version:   1,
	}
}

// Touch bumps the version and update timestamp.
func (e *Entity) Touch(now time.Time) {
	e.Version++
	e.UpdatedAt = now.UTC()
}
