package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"reflect"
	"sort"
	"time"

	"github.com/workpulse/graphsync/internal/event"
	"github.com/workpulse/graphsync/internal/graph"
)

// deriveBatch computes the transactional batch for one canonical event
// from the event plus current graph state only. It is re-run on every
// attempt, so a crashed or timed-out apply re-derives cleanly.
//
// Per-field last-writer-wins: a field is only written when the event's
// occurred_at is not older than the field's last applied timestamp, which
// tolerates network-level reordering without regressing newer state.
func deriveBatch(ctx context.Context, st graph.Store, ev *event.CanonicalEvent, dedupTTL time.Duration) (*graph.Batch, error) {
	b := &graph.Batch{
		IdempotencyKey: ev.IdempotencyKey(),
		DedupTTL:       dedupTTL,
		EntityID:       ev.EntityID,
		OccurredAt:     ev.OccurredAt,
		FieldTimes:     map[string]time.Time{},
	}

	nodeType := string(ev.EntityType)

	switch ev.Kind {
	case event.KindDeleted:
		// A delete older than the entity's last applied change would erase
		// state written by later events; it lost the race and is ignored.
		if hw, ok, err := st.LastApplied(ctx, ev.EntityID); err != nil {
			return nil, err
		} else if ok && ev.OccurredAt.Before(hw) {
			return nil, fmt.Errorf("%w: delete for %s %s at %s", ErrSuperseded, ev.EntityType, ev.EntityID, ev.OccurredAt)
		}
		// The store cascades edge deletion inside the same transaction.
		b.Mutations = append(b.Mutations, graph.DeleteNode(nodeType, ev.EntityID))
		return b, nil

	case event.KindCreated:
		return deriveCreated(ctx, st, ev, b)
	}

	// Every remaining kind mutates an entity that must already exist.
	exists, err := st.NodeExists(ctx, nodeType, ev.EntityID)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s %s (%s)", ErrMissingEntity, nodeType, ev.EntityID, ev.RawKind)
	}

	times, err := st.FieldTimes(ctx, ev.EntityID)
	if err != nil {
		return nil, err
	}
	fresh := func(field string) bool {
		t, ok := times[field]
		return !ok || !t.After(ev.OccurredAt)
	}
	current, err := st.GetNode(ctx, nodeType, ev.EntityID)
	if err != nil {
		return nil, err
	}

	switch ev.Kind {
	case event.KindStatusChanged:
		deriveEdgeField(ev, b, current, fresh, "status", "Status", graph.RelHasStatus)
	case event.KindPriorityChanged:
		deriveEdgeField(ev, b, current, fresh, "priority", "Priority", graph.RelHasPriority)
	case event.KindAssigneeChanged:
		deriveAssignee(ev, b, fresh)
	case event.KindMoved:
		deriveMoved(ev, b, current, fresh)
	case event.KindUpdated, event.KindFieldChanged:
		deriveUpdated(ev, b, current, fresh)
	default:
		return nil, fmt.Errorf("engine: unhandled event kind %q", ev.Kind)
	}
	return b, nil
}

// deriveCreated builds a full node plus its containment, status, priority
// and assignee edges. A create that arrives after the entity was deleted
// at a later occurred_at is superseded and must not resurrect it; a
// create for an entity that already exists is demoted to an update so the
// per-field filter keeps it from regressing newer state.
func deriveCreated(ctx context.Context, st graph.Store, ev *event.CanonicalEvent, b *graph.Batch) (*graph.Batch, error) {
	exists, err := st.NodeExists(ctx, string(ev.EntityType), ev.EntityID)
	if err != nil {
		return nil, err
	}
	if exists {
		if ev.EntityType == event.EntityComment {
			// Same upserts as the first delivery, no history to duplicate.
			return deriveCommentCreated(ev, b), nil
		}
		times, err := st.FieldTimes(ctx, ev.EntityID)
		if err != nil {
			return nil, err
		}
		fresh := func(field string) bool {
			t, ok := times[field]
			return !ok || !t.After(ev.OccurredAt)
		}
		current, err := st.GetNode(ctx, string(ev.EntityType), ev.EntityID)
		if err != nil {
			return nil, err
		}
		deriveUpdated(ev, b, current, fresh)
		return b, nil
	}

	if hw, ok, err := st.LastApplied(ctx, ev.EntityID); err != nil {
		return nil, err
	} else if ok && !ev.OccurredAt.After(hw) {
		return nil, fmt.Errorf("%w: create for %s %s at %s", ErrSuperseded, ev.EntityType, ev.EntityID, ev.OccurredAt)
	}

	if ev.EntityType == event.EntityComment {
		return deriveCommentCreated(ev, b), nil
	}

	props := map[string]interface{}{}
	for f, v := range ev.After {
		if f == "assignees" {
			continue
		}
		props[f] = v
	}
	b.Mutations = append(b.Mutations, graph.UpsertNode(string(ev.EntityType), ev.EntityID, props))

	if listID, ok := ev.AfterString("list_id"); ok && listID != "" {
		ensureEdge(b, "List", listID, graph.RelBelongsTo, ev.EntityID, listID, nil)
	}
	if parent, ok := ev.AfterString("parent"); ok && parent != "" {
		b.Mutations = append(b.Mutations, graph.UpsertRelationship(graph.RelSubtaskOf, ev.EntityID, parent, nil))
	}
	if status, ok := ev.AfterString("status"); ok && status != "" {
		ensureEdge(b, "Status", status, graph.RelHasStatus, ev.EntityID, status,
			map[string]interface{}{"status": status})
	}
	if pri, ok := ev.AfterString("priority"); ok && pri != "" {
		ensureEdge(b, "Priority", pri, graph.RelHasPriority, ev.EntityID, pri,
			map[string]interface{}{"priority": pri})
	}
	if assignees, ok := ev.After["assignees"].([]interface{}); ok {
		for _, a := range assignees {
			uid, ok := a.(string)
			if !ok || uid == "" {
				continue
			}
			b.Mutations = append(b.Mutations,
				graph.UpsertNode("User", uid, nil),
				graph.UpsertRelationship(graph.RelAssignedTo, uid, ev.EntityID,
					map[string]interface{}{"assigned_at": ev.OccurredAt}),
			)
		}
	}

	// One history record per initial scalar field, old value null.
	for _, f := range sortedFields(props) {
		b.History = append(b.History, graph.HistoryRecord{
			EntityID:  ev.EntityID,
			Field:     f,
			OldValue:  nil,
			NewValue:  props[f],
			ChangedAt: ev.OccurredAt,
			SourceKey: b.IdempotencyKey,
		})
		b.FieldTimes[f] = ev.OccurredAt
	}
	return b, nil
}

func deriveCommentCreated(ev *event.CanonicalEvent, b *graph.Batch) *graph.Batch {
	props := map[string]interface{}{}
	for f, v := range ev.After {
		if f == "task_id" {
			continue
		}
		props[f] = v
	}
	b.Mutations = append(b.Mutations, graph.UpsertNode("Comment", ev.EntityID, props))
	if taskID, ok := ev.AfterString("task_id"); ok && taskID != "" {
		b.Mutations = append(b.Mutations,
			graph.UpsertRelationship(graph.RelCommentOn, ev.EntityID, taskID, nil))
	}
	if author, ok := ev.AfterString("author"); ok && author != "" {
		b.Mutations = append(b.Mutations, graph.UpsertNode("User", author, nil))
	}
	return b
}

// deriveEdgeField replaces the HAS_STATUS / HAS_PRIORITY edge and records
// the transition. Used for status and priority changes.
func deriveEdgeField(ev *event.CanonicalEvent, b *graph.Batch, current map[string]interface{}, fresh func(string) bool, field, targetType, relType string) {
	newVal, ok := ev.AfterString(field)
	if !ok || newVal == "" || !fresh(field) {
		return
	}
	oldVal := oldValue(ev, current, field)

	if prev, _ := current[field].(string); prev != "" && prev != newVal {
		b.Mutations = append(b.Mutations, graph.DeleteRelationship(relType, ev.EntityID, prev))
	}
	b.Mutations = append(b.Mutations,
		graph.UpsertNode(string(ev.EntityType), ev.EntityID, map[string]interface{}{field: newVal}))
	ensureEdge(b, targetType, newVal, relType, ev.EntityID, newVal,
		map[string]interface{}{field: newVal})

	appendHistory(ev, b, field, oldVal, newVal)
}

func deriveAssignee(ev *event.CanonicalEvent, b *graph.Batch, fresh func(string) bool) {
	if !fresh("assignee") {
		return
	}
	oldUID, _ := ev.BeforeString("assignee")
	newUID, _ := ev.AfterString("assignee")
	if oldUID == "" && newUID == "" {
		return
	}
	if oldUID != "" {
		b.Mutations = append(b.Mutations,
			graph.DeleteRelationship(graph.RelAssignedTo, oldUID, ev.EntityID))
	}
	if newUID != "" {
		b.Mutations = append(b.Mutations,
			graph.UpsertNode("User", newUID, nil),
			graph.UpsertRelationship(graph.RelAssignedTo, newUID, ev.EntityID,
				map[string]interface{}{"assigned_at": ev.OccurredAt}),
		)
	}
	appendHistory(ev, b, "assignee", nullable(oldUID), nullable(newUID))
}

func deriveMoved(ev *event.CanonicalEvent, b *graph.Batch, current map[string]interface{}, fresh func(string) bool) {
	newList, ok := ev.AfterString("list_id")
	if !ok || newList == "" || !fresh("list_id") {
		return
	}
	oldList, _ := ev.BeforeString("list_id")
	if oldList == "" {
		oldList, _ = current["list_id"].(string)
	}
	if oldList != "" && oldList != newList {
		b.Mutations = append(b.Mutations,
			graph.DeleteRelationship(graph.RelBelongsTo, ev.EntityID, oldList))
	}
	b.Mutations = append(b.Mutations,
		graph.UpsertNode(string(ev.EntityType), ev.EntityID, map[string]interface{}{"list_id": newList}))
	ensureEdge(b, "List", newList, graph.RelBelongsTo, ev.EntityID, newList, nil)

	appendHistory(ev, b, "list_id", nullable(oldList), newList)
}

// deriveUpdated writes only the changed, non-superseded fields and one
// history record per field.
func deriveUpdated(ev *event.CanonicalEvent, b *graph.Batch, current map[string]interface{}, fresh func(string) bool) {
	changed := map[string]interface{}{}
	for f, v := range ev.After {
		if f == "assignees" || !fresh(f) {
			continue
		}
		if cur, ok := current[f]; ok && fieldEqual(cur, v) {
			continue
		}
		changed[f] = v
	}
	if len(changed) == 0 {
		return
	}
	b.Mutations = append(b.Mutations,
		graph.UpsertNode(string(ev.EntityType), ev.EntityID, changed))

	if listID, ok := changed["list_id"].(string); ok && listID != "" {
		if prev, _ := current["list_id"].(string); prev != "" && prev != listID {
			b.Mutations = append(b.Mutations,
				graph.DeleteRelationship(graph.RelBelongsTo, ev.EntityID, prev))
		}
		ensureEdge(b, "List", listID, graph.RelBelongsTo, ev.EntityID, listID, nil)
	}
	if status, ok := changed["status"].(string); ok && status != "" {
		if prev, _ := current["status"].(string); prev != "" && prev != status {
			b.Mutations = append(b.Mutations,
				graph.DeleteRelationship(graph.RelHasStatus, ev.EntityID, prev))
		}
		ensureEdge(b, "Status", status, graph.RelHasStatus, ev.EntityID, status,
			map[string]interface{}{"status": status})
	}
	if pri, ok := changed["priority"].(string); ok && pri != "" {
		if prev, _ := current["priority"].(string); prev != "" && prev != pri {
			b.Mutations = append(b.Mutations,
				graph.DeleteRelationship(graph.RelHasPriority, ev.EntityID, prev))
		}
		ensureEdge(b, "Priority", pri, graph.RelHasPriority, ev.EntityID, pri,
			map[string]interface{}{"priority": pri})
	}

	for _, f := range sortedFields(changed) {
		appendHistory(ev, b, f, oldValue(ev, current, f), changed[f])
	}
}

// ensureEdge upserts the far endpoint node then the edge itself, so an
// edge never dangles to a node the graph has not seen yet.
func ensureEdge(b *graph.Batch, targetType, targetID, relType, from, to string, targetProps map[string]interface{}) {
	b.Mutations = append(b.Mutations,
		graph.UpsertNode(targetType, targetID, targetProps),
		graph.UpsertRelationship(relType, from, to, nil),
	)
}

func appendHistory(ev *event.CanonicalEvent, b *graph.Batch, field string, oldVal, newVal interface{}) {
	b.History = append(b.History, graph.HistoryRecord{
		EntityID:  ev.EntityID,
		Field:     field,
		OldValue:  oldVal,
		NewValue:  newVal,
		ChangedAt: ev.OccurredAt,
		SourceKey: b.IdempotencyKey,
	})
	b.FieldTimes[field] = ev.OccurredAt
}

// oldValue prefers the provider-reported before value, falling back to
// the graph's current state.
func oldValue(ev *event.CanonicalEvent, current map[string]interface{}, field string) interface{} {
	if ev.Before != nil {
		if v, ok := ev.Before[field]; ok {
			return v
		}
	}
	return current[field]
}

// fieldEqual compares property values by JSON representation. Fields can
// hold slices and maps straight out of a decoded payload, which Go's ==
// panics on, and the same number round-trips through the store as a
// different concrete type.
func fieldEqual(a, b interface{}) bool {
	if reflect.DeepEqual(a, b) {
		return true
	}
	ab, err := json.Marshal(a)
	if err != nil {
		return false
	}
	bb, err := json.Marshal(b)
	if err != nil {
		return false
	}
	return bytes.Equal(ab, bb)
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func sortedFields(m map[string]interface{}) []string {
	out := make([]string, 0, len(m))
	for f := range m {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}
