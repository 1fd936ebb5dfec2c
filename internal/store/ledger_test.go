package store

import "testing"

func TestNotificationHashKeyOrderIndependent(t *testing.T) {
	a := NotificationHash(NotifyRedate, "42", map[string]any{
		"manager_key": "m1",
		"period":      "2026-02-10T09:00:00Z",
	})
	b := NotificationHash(NotifyRedate, "42", map[string]any{
		"period":      "2026-02-10T09:00:00Z",
		"manager_key": "m1",
	})
	if a != b {
		t.Error("map key order must not change the hash")
	}
}

func TestNotificationHashDiscriminates(t *testing.T) {
	base := NotificationHash(NotifyQueueUpdate, "42", map[string]any{"manager": "m1", "position": 2})

	tests := []struct {
		name     string
		typ, ent string
		data     map[string]any
	}{
		{"different type", NotifyRedate, "42", map[string]any{"manager": "m1", "position": 2}},
		{"different entity", NotifyQueueUpdate, "43", map[string]any{"manager": "m1", "position": 2}},
		{"different position", NotifyQueueUpdate, "42", map[string]any{"manager": "m1", "position": 3}},
		{"different manager", NotifyQueueUpdate, "42", map[string]any{"manager": "m2", "position": 2}},
	}
	for _, tt := range tests {
		if NotificationHash(tt.typ, tt.ent, tt.data) == base {
			t.Errorf("%s: hash collision", tt.name)
		}
	}
}

func TestNotificationHashNilAsEmptyString(t *testing.T) {
	withNil := NotificationHash(NotifyRating, "42", map[string]any{"value": nil})
	withEmpty := NotificationHash(NotifyRating, "42", map[string]any{"value": ""})
	if withNil != withEmpty {
		t.Error("nil must canonicalize to empty string")
	}
}

func TestNotificationHashNested(t *testing.T) {
	a := NotificationHash("t", "e", map[string]any{
		"outer": map[string]any{"b": 1, "a": []any{"x", nil}},
	})
	b := NotificationHash("t", "e", map[string]any{
		"outer": map[string]any{"a": []any{"x", nil}, "b": 1},
	})
	if a != b {
		t.Error("nested maps must canonicalize recursively")
	}
}

func TestNotificationHashStable(t *testing.T) {
	// Pinned value: a change here invalidates every ledger row already
	// written in production.
	got := NotificationHash(NotifyCancelled, "77", map[string]any{"status": "cancelled"})
	if len(got) != 64 {
		t.Fatalf("hash length = %d", len(got))
	}
	again := NotificationHash(NotifyCancelled, "77", map[string]any{"status": "cancelled"})
	if got != again {
		t.Error("hash must be deterministic")
	}
}
