package queue

import (
	"testing"
	"time"
)

func TestManager_UnconfiguredQueueIsUnlimited(t *testing.T) {
	m := NewManager()
	for i := 0; i < 100; i++ {
		if !m.Allow("any-queue", "") {
			t.Fatalf("Allow #%d failed on an unlimited queue", i)
		}
	}
	if m.Limited("any-queue") {
		t.Error("expected queue to be unlimited")
	}
}

func TestManager_QueueBurst(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(Config{Name: "emails", RateLimit: 1, RateBurst: 2})
	m.now = func() time.Time { return now }

	if !m.Allow("emails", "") || !m.Allow("emails", "") {
		t.Fatal("burst of 2 should be allowed")
	}
	if m.Allow("emails", "") {
		t.Fatal("third claim within the same instant should be limited")
	}

	now = now.Add(time.Second)
	if !m.Allow("emails", "") {
		t.Fatal("a token should refill after one second")
	}
}

func TestManager_UndoReturnsTokens(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(Config{Name: "reports", RateLimit: 1, RateBurst: 1})
	m.now = func() time.Time { return now }

	undo, ok := m.Take("reports", "")
	if !ok {
		t.Fatal("first Take should succeed")
	}
	if m.Allow("reports", "") {
		t.Fatal("bucket should be empty")
	}
	undo()
	if !m.Allow("reports", "") {
		t.Fatal("token should be back after undo")
	}
}

func TestManager_TenantLimitIsolated(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager()
	m.now = func() time.Time { return now }
	m.SetTenantConfig(TenantConfig{QueueName: "default", TenantID: "acme", RateLimit: 1, RateBurst: 1})

	if !m.Allow("default", "acme") {
		t.Fatal("first acme claim should pass")
	}
	if m.Allow("default", "acme") {
		t.Fatal("second acme claim should be limited")
	}
	if !m.Allow("default", "globex") {
		t.Fatal("other tenants must not share acme's bucket")
	}
}

func TestManager_FailedTenantCheckKeepsQueueToken(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	m := NewManager(Config{Name: "default", RateLimit: 1, RateBurst: 2})
	m.now = func() time.Time { return now }
	m.SetTenantConfig(TenantConfig{QueueName: "default", TenantID: "acme", RateLimit: 1, RateBurst: 1})

	if !m.Allow("default", "acme") {
		t.Fatal("first acme claim should pass")
	}
	if m.Allow("default", "acme") {
		t.Fatal("second acme claim should hit the tenant limit")
	}
	// The rejected claim must have handed its queue token back.
	if !m.Allow("default", "globex") {
		t.Fatal("queue bucket should still hold one token")
	}
	if m.Allow("default", "globex") {
		t.Fatal("queue bucket should now be empty")
	}
}
