package graph

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by point reads when the target does not exist.
var ErrNotFound = errors.New("graph: not found")

// Batch is the unit of atomic application: all mutations, history records
// and bookkeeping for one event commit together or not at all.
type Batch struct {
	Mutations []Mutation
	History   []HistoryRecord

	// IdempotencyKey marks the event as applied inside the same
	// transaction, with DedupTTL retention.
	IdempotencyKey string
	DedupTTL       time.Duration

	// EntityID and OccurredAt advance the per-entity high-water mark.
	EntityID   string
	OccurredAt time.Time

	// FieldTimes records per-field apply timestamps used for the
	// last-writer-wins rule on reordered deliveries.
	FieldTimes map[string]time.Time
}

// Store is the persistence contract the mutation engine drives.
// Apply is transactional; everything else is read-only except
// MarkEventApplied, which exists for no-op duplicate acknowledgement.
type Store interface {
	// Apply commits a batch atomically. A failure leaves no partial state.
	Apply(ctx context.Context, b *Batch) error

	// GetNode returns a node's properties, ErrNotFound if absent.
	GetNode(ctx context.Context, nodeType, id string) (map[string]interface{}, error)

	// NodeExists reports whether a node is present.
	NodeExists(ctx context.Context, nodeType, id string) (bool, error)

	// NodeRelationships returns every edge touching id.
	NodeRelationships(ctx context.Context, id string) ([]Relationship, error)

	// SeenEvent reports whether an idempotency key is recorded as applied.
	SeenEvent(ctx context.Context, key string) (bool, error)

	// MarkEventApplied records a key without any graph mutation, used when
	// a duplicate is acknowledged as a no-op.
	MarkEventApplied(ctx context.Context, key string, ttl time.Duration) error

	// LastApplied returns the entity's high-water occurred_at mark.
	LastApplied(ctx context.Context, entityID string) (time.Time, bool, error)

	// FieldTimes returns the per-field apply timestamps for an entity.
	FieldTimes(ctx context.Context, entityID string) (map[string]time.Time, error)

	// History returns the append-only records for one entity field,
	// oldest first. An empty field returns all fields.
	History(ctx context.Context, entityID, field string) ([]HistoryRecord, error)

	// TaskCounts aggregates task progress for one list. The scheduled
	// snapshot job consumes this at read time.
	TaskCounts(ctx context.Context, listID string) (ProgressCounts, error)

	Close() error
}
