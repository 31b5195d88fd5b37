package event

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Kind is the provider-agnostic classification of a change notification.
type Kind string

const (
	KindCreated         Kind = "created"
	KindUpdated         Kind = "updated"
	KindDeleted         Kind = "deleted"
	KindStatusChanged   Kind = "status_changed"
	KindAssigneeChanged Kind = "assignee_changed"
	KindPriorityChanged Kind = "priority_changed"
	KindMoved           Kind = "moved"
	KindFieldChanged    Kind = "field_changed"
)

// EntityType identifies which node label an event targets in the graph.
type EntityType string

const (
	EntityTask    EntityType = "Task"
	EntityUser    EntityType = "User"
	EntityList    EntityType = "List"
	EntityComment EntityType = "Comment"
)

// CanonicalEvent is the normalized input model for all incoming webhook
// notifications, regardless of which provider emitted them.
type CanonicalEvent struct {
	Provider   string                 `json:"provider"`
	Kind       Kind                   `json:"kind"`
	EntityType EntityType             `json:"entity_type"`
	EntityID   string                 `json:"entity_id"`
	OccurredAt time.Time              `json:"occurred_at"`
	ReceivedAt time.Time              `json:"-"`
	Before     map[string]interface{} `json:"before,omitempty"`
	After      map[string]interface{} `json:"after,omitempty"`

	// RawEventID is the provider-supplied delivery identifier, used for
	// duplicate suppression across redeliveries.
	RawEventID string `json:"raw_event_id"`

	// RawKind is the provider's native event type string, kept for logs.
	RawKind string `json:"raw_kind"`
}

// IdempotencyKey returns a deterministic identifier for the logical change
// this event describes. Redeliveries of the same change (same provider,
// delivery id, entity and kind) always hash to the same key.
func (e *CanonicalEvent) IdempotencyKey() string {
	h := sha256.New()
	h.Write([]byte(e.Provider))
	h.Write([]byte{0})
	h.Write([]byte(e.RawEventID))
	h.Write([]byte{0})
	h.Write([]byte(e.EntityID))
	h.Write([]byte{0})
	h.Write([]byte(e.Kind))
	return hex.EncodeToString(h.Sum(nil))
}

// AfterString returns After[field] as a string, with ok=false when the
// field is absent or not a string.
func (e *CanonicalEvent) AfterString(field string) (string, bool) {
	if e.After == nil {
		return "", false
	}
	s, ok := e.After[field].(string)
	return s, ok
}

// BeforeString returns Before[field] as a string, with ok=false when the
// field is absent or not a string.
func (e *CanonicalEvent) BeforeString(field string) (string, bool) {
	if e.Before == nil {
		return "", false
	}
	s, ok := e.Before[field].(string)
	return s, ok
}
