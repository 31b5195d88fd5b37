package event

import (
	"testing"
	"time"
)

func TestIdempotencyKeyStable(t *testing.T) {
	ev := &CanonicalEvent{
		Provider:   "clickup",
		Kind:       KindStatusChanged,
		EntityType: EntityTask,
		EntityID:   "task_1",
		RawEventID: "evt_abc",
		OccurredAt: time.Now(),
	}
	k1 := ev.IdempotencyKey()

	// A redelivery carries the same identifying fields but may arrive with
	// different payload details and timestamps.
	redelivery := &CanonicalEvent{
		Provider:   "clickup",
		Kind:       KindStatusChanged,
		EntityType: EntityTask,
		EntityID:   "task_1",
		RawEventID: "evt_abc",
		OccurredAt: time.Now().Add(time.Minute),
		After:      map[string]interface{}{"status": "done"},
	}
	if k2 := redelivery.IdempotencyKey(); k2 != k1 {
		t.Fatalf("redelivery key mismatch: %s != %s", k2, k1)
	}
}

func TestIdempotencyKeyDistinguishes(t *testing.T) {
	base := CanonicalEvent{
		Provider:   "clickup",
		Kind:       KindUpdated,
		EntityID:   "task_1",
		RawEventID: "evt_1",
	}
	seen := map[string]string{base.IdempotencyKey(): "base"}

	variants := map[string]CanonicalEvent{
		"provider": {Provider: "github", Kind: KindUpdated, EntityID: "task_1", RawEventID: "evt_1"},
		"kind":     {Provider: "clickup", Kind: KindDeleted, EntityID: "task_1", RawEventID: "evt_1"},
		"entity":   {Provider: "clickup", Kind: KindUpdated, EntityID: "task_2", RawEventID: "evt_1"},
		"event id": {Provider: "clickup", Kind: KindUpdated, EntityID: "task_1", RawEventID: "evt_2"},
	}
	for name, v := range variants {
		k := v.IdempotencyKey()
		if prev, dup := seen[k]; dup {
			t.Errorf("%s variant collides with %s", name, prev)
		}
		seen[k] = name
	}
}

func TestIdempotencyKeyNoFieldBleed(t *testing.T) {
	a := CanonicalEvent{Provider: "p", RawEventID: "ab", EntityID: "c", Kind: "k"}
	b := CanonicalEvent{Provider: "p", RawEventID: "a", EntityID: "bc", Kind: "k"}
	if a.IdempotencyKey() == b.IdempotencyKey() {
		t.Fatal("adjacent fields must not concatenate ambiguously")
	}
}

func TestAfterString(t *testing.T) {
	ev := CanonicalEvent{After: map[string]interface{}{"status": "done", "points": 3.0}}
	if s, ok := ev.AfterString("status"); !ok || s != "done" {
		t.Fatalf("got %q, %v", s, ok)
	}
	if _, ok := ev.AfterString("points"); ok {
		t.Fatal("non-string field should not resolve")
	}
	if _, ok := ev.AfterString("missing"); ok {
		t.Fatal("missing field should not resolve")
	}
	var empty CanonicalEvent
	if _, ok := empty.AfterString("status"); ok {
		t.Fatal("nil After should not resolve")
	}
}
