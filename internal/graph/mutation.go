// Package graph defines the mutation primitives applied to the work-item
// graph and the store contract they run against.
//
// Mutations are derived purely from one canonical event plus the current
// graph state. They carry no accumulated in-memory state, so a crashed
// apply can always be re-derived from the event alone.
package graph

import "time"

// Relationship types produced by the mutation engine.
const (
	RelAssignedTo  = "ASSIGNED_TO"
	RelBelongsTo   = "BELONGS_TO"
	RelSubtaskOf   = "SUBTASK_OF"
	RelHasStatus   = "HAS_STATUS"
	RelHasPriority = "HAS_PRIORITY"
	RelCommentOn   = "COMMENT_ON"
)

// Op discriminates the four mutation primitives.
type Op string

const (
	OpUpsertNode         Op = "upsert_node"
	OpDeleteNode         Op = "delete_node"
	OpUpsertRelationship Op = "upsert_relationship"
	OpDeleteRelationship Op = "delete_relationship"
)

// Mutation is one primitive create/update/delete against the graph.
type Mutation struct {
	Op Op

	// Node fields (upsert_node, delete_node).
	NodeType string
	NodeID   string

	// Relationship fields (upsert_relationship, delete_relationship).
	RelType string
	From    string
	To      string

	// Props are merged into the target on upserts.
	Props map[string]interface{}
}

// UpsertNode creates or updates a node, merging props over existing ones.
func UpsertNode(nodeType, id string, props map[string]interface{}) Mutation {
	return Mutation{Op: OpUpsertNode, NodeType: nodeType, NodeID: id, Props: props}
}

// DeleteNode removes a node and, at apply time, every edge touching it.
func DeleteNode(nodeType, id string) Mutation {
	return Mutation{Op: OpDeleteNode, NodeType: nodeType, NodeID: id}
}

// UpsertRelationship creates or updates a typed edge from → to.
func UpsertRelationship(relType, from, to string, props map[string]interface{}) Mutation {
	return Mutation{Op: OpUpsertRelationship, RelType: relType, From: from, To: to, Props: props}
}

// DeleteRelationship removes a typed edge from → to.
func DeleteRelationship(relType, from, to string) Mutation {
	return Mutation{Op: OpDeleteRelationship, RelType: relType, From: from, To: to}
}

// HistoryRecord is an append-only fact recording one field transition.
// Records are never updated or deleted; they feed velocity analytics.
type HistoryRecord struct {
	EntityID  string      `json:"entity_id"`
	Field     string      `json:"field"`
	OldValue  interface{} `json:"old_value"`
	NewValue  interface{} `json:"new_value"`
	ChangedAt time.Time   `json:"changed_at"`

	// SourceKey is the idempotency key of the event that produced this
	// record, tying the audit trail back to the delivery.
	SourceKey string `json:"source_event_idempotency_key"`
}

// Relationship is a stored edge, returned by read queries.
type Relationship struct {
	RelType string                 `json:"rel_type"`
	From    string                 `json:"from"`
	To      string                 `json:"to"`
	Props   map[string]interface{} `json:"props,omitempty"`
}

// ProgressCounts aggregates task states for one list, backing the weekly
// progress snapshot job.
type ProgressCounts struct {
	Total      int `json:"total_tasks"`
	Completed  int `json:"completed_tasks"`
	InProgress int `json:"in_progress_tasks"`
}

// Percentage returns completed/total in [0,100], 0 for an empty list.
func (p ProgressCounts) Percentage() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Completed) / float64(p.Total) * 100
}
