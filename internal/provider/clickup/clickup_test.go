package clickup

import (
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/workpulse/graphsync/internal/event"
	"github.com/workpulse/graphsync/internal/provider"
	"github.com/workpulse/graphsync/internal/security"
)

func newTestProvider(events ...string) *Provider {
	return New(provider.Config{
		Name:    "clickup",
		Enabled: true,
		Secret:  []byte("whsec"),
		Events:  events,
	})
}

func TestVerifySignature(t *testing.T) {
	p := newTestProvider()
	body := []byte(`{"event":"taskCreated","task_id":"t1"}`)

	h := http.Header{}
	h.Set("X-Signature", security.Sign([]byte("whsec"), body, "sha256="))
	if !p.VerifySignature(body, h) {
		t.Fatal("valid signature rejected")
	}

	// Tampered body, unchanged header.
	if p.VerifySignature([]byte(`{"event":"taskDeleted","task_id":"t1"}`), h) {
		t.Fatal("tampered body accepted")
	}

	if p.VerifySignature(body, http.Header{}) {
		t.Fatal("missing header accepted")
	}
}

func TestNormalizeTaskCreated(t *testing.T) {
	body := []byte(`{
		"event": "taskCreated",
		"task_id": "86abc123",
		"webhook_id": "wh-1",
		"task": {
			"id": "86abc123",
			"name": "Ship ingestion pipeline",
			"status": {"status": "in progress"},
			"priority": {"priority": "high"},
			"assignees": [],
			"list_id": "l-900",
			"points": 3
		}
	}`)

	ev, err := newTestProvider().Normalize(body, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != event.KindCreated || ev.EntityType != event.EntityTask {
		t.Fatalf("kind=%s type=%s", ev.Kind, ev.EntityType)
	}
	if ev.EntityID != "86abc123" {
		t.Fatalf("entity id %q", ev.EntityID)
	}
	if ev.After["name"] != "Ship ingestion pipeline" || ev.After["status"] != "in progress" {
		t.Fatalf("after = %v", ev.After)
	}
	if ev.After["list_id"] != "l-900" {
		t.Fatalf("list_id = %v", ev.After["list_id"])
	}
	assignees, ok := ev.After["assignees"].([]interface{})
	if !ok || len(assignees) != 0 {
		t.Fatalf("assignees = %v", ev.After["assignees"])
	}
	// No history items: dedup key is derived per entity.
	if ev.RawEventID != "taskCreated:86abc123" {
		t.Fatalf("raw event id %q", ev.RawEventID)
	}
}

func TestNormalizeStatusUpdated(t *testing.T) {
	body := []byte(`{
		"event": "taskStatusUpdated",
		"task_id": "86abc123",
		"webhook_id": "wh-1",
		"history_items": [{
			"id": "hist-42",
			"date": "1756300000000",
			"field": "status",
			"before": {"status": "in progress"},
			"after": {"status": "done"}
		}]
	}`)

	ev, err := newTestProvider().Normalize(body, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != event.KindStatusChanged {
		t.Fatalf("kind = %s", ev.Kind)
	}
	if ev.Before["status"] != "in progress" || ev.After["status"] != "done" {
		t.Fatalf("before=%v after=%v", ev.Before, ev.After)
	}
	if ev.RawEventID != "hist-42" {
		t.Fatalf("raw event id %q", ev.RawEventID)
	}
	want := time.UnixMilli(1756300000000).UTC()
	if !ev.OccurredAt.Equal(want) {
		t.Fatalf("occurred_at = %v, want %v", ev.OccurredAt, want)
	}
}

func TestNormalizeAssigneeUpdated(t *testing.T) {
	body := []byte(`{
		"event": "taskAssigneeUpdated",
		"task_id": "t1",
		"history_items": [{
			"id": "hist-7",
			"date": "1756300000000",
			"field": "assignee_add",
			"after": {"id": 1234, "username": "adaeze"}
		}]
	}`)

	ev, err := newTestProvider().Normalize(body, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.Kind != event.KindAssigneeChanged {
		t.Fatalf("kind = %s", ev.Kind)
	}
	if ev.Before != nil {
		t.Fatalf("before = %v", ev.Before)
	}
	if ev.After["assignee"] != "1234" {
		t.Fatalf("after = %v", ev.After)
	}
}

func TestNormalizeCommentPosted(t *testing.T) {
	body := []byte(`{
		"event": "taskCommentPosted",
		"task_id": "t1",
		"history_items": [{
			"id": "hist-9",
			"date": "1756300000000",
			"user": {"id": 55},
			"comment": {"id": "cm-100", "text_content": "looks good"}
		}]
	}`)

	ev, err := newTestProvider().Normalize(body, nil)
	if err != nil {
		t.Fatal(err)
	}
	if ev.EntityType != event.EntityComment || ev.EntityID != "cm-100" {
		t.Fatalf("entity %s/%s", ev.EntityType, ev.EntityID)
	}
	if ev.After["task_id"] != "t1" || ev.After["author"] != "55" {
		t.Fatalf("after = %v", ev.After)
	}
}

func TestNormalizeErrors(t *testing.T) {
	p := newTestProvider()

	if _, err := p.Normalize([]byte(`not json`), nil); !errors.Is(err, provider.ErrMalformedPayload) {
		t.Fatalf("invalid json: %v", err)
	}
	if _, err := p.Normalize([]byte(`{"event":"taskCreated"}`), nil); !errors.Is(err, provider.ErrMalformedPayload) {
		t.Fatalf("missing task_id: %v", err)
	}
	if _, err := p.Normalize([]byte(`{"event":"goalCreated","task_id":"t1"}`), nil); !errors.Is(err, provider.ErrUnsupportedEventKind) {
		t.Fatalf("unmapped event: %v", err)
	}

	// An event outside the configured subset is unsupported even if mapped.
	restricted := newTestProvider("taskCreated")
	if _, err := restricted.Normalize([]byte(`{"event":"taskDeleted","task_id":"t1"}`), nil); !errors.Is(err, provider.ErrUnsupportedEventKind) {
		t.Fatalf("restricted event: %v", err)
	}
}

func TestSupportedEventsSubset(t *testing.T) {
	p := newTestProvider("taskDeleted", "taskCreated")
	got := p.SupportedEvents()
	if len(got) != 2 || got[0] != "taskCreated" || got[1] != "taskDeleted" {
		t.Fatalf("SupportedEvents = %v", got)
	}
	if n := len(newTestProvider().SupportedEvents()); n != len(defaultEvents) {
		t.Fatalf("default taxonomy size = %d", n)
	}
}
