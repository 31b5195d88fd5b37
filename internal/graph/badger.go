package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Key layout, segments joined by a zero byte (never present in ids):
//
//	n <type> <id>                    node properties (JSON)
//	r <rel> <from> <to>              relationship properties (JSON)
//	ri <endpoint> <rel> <from> <to>  edge index, one entry per endpoint
//	h <entity> <field> <ts> <src>    history record (JSON), ts zero-padded
//	f <entity> <field>               per-field apply timestamp (unixnano)
//	e <entity>                       entity high-water occurred_at
//	d <idempotency key>              applied marker, TTL-bounded
const keySep = 0x00

// Options configures the embedded store.
type Options struct {
	Path       string
	InMemory   bool
	SyncWrites bool
}

// BadgerStore implements Store on an embedded BadgerDB instance.
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

// Open creates or opens the store at opts.Path.
func Open(opts Options) (*BadgerStore, error) {
	bo := badger.DefaultOptions(opts.Path).
		WithInMemory(opts.InMemory).
		WithSyncWrites(opts.SyncWrites).
		WithLogger(nil)
	if opts.InMemory {
		bo = bo.WithDir("").WithValueDir("")
	}
	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("open graph store: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

// OpenInMemory opens a throwaway store, used by tests.
func OpenInMemory() (*BadgerStore, error) {
	return Open(Options{InMemory: true})
}

func (s *BadgerStore) Close() error { return s.db.Close() }

func key(parts ...string) []byte {
	var b bytes.Buffer
	for i, p := range parts {
		if i > 0 {
			b.WriteByte(keySep)
		}
		b.WriteString(p)
	}
	return b.Bytes()
}

// prefix returns a key with a trailing separator so a scan cannot match a
// sibling whose segment merely shares the same leading bytes.
func prefix(parts ...string) []byte {
	return append(key(parts...), keySep)
}

func splitKey(k []byte) []string {
	var out []string
	for _, seg := range bytes.Split(k, []byte{keySep}) {
		out = append(out, string(seg))
	}
	return out
}

// Apply commits a batch in one transaction.
func (s *BadgerStore) Apply(ctx context.Context, b *Batch) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		for _, m := range b.Mutations {
			if err := s.applyMutation(txn, m); err != nil {
				return err
			}
		}
		for _, rec := range b.History {
			if err := appendHistory(txn, rec); err != nil {
				return err
			}
		}
		if b.IdempotencyKey != "" {
			if err := markApplied(txn, b.IdempotencyKey, b.DedupTTL); err != nil {
				return err
			}
		}
		if b.EntityID != "" && !b.OccurredAt.IsZero() {
			if err := advanceHighWater(txn, b.EntityID, b.OccurredAt); err != nil {
				return err
			}
		}
		for field, ts := range b.FieldTimes {
			if err := txn.Set(key("f", b.EntityID, field), unixNano(ts)); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BadgerStore) applyMutation(txn *badger.Txn, m Mutation) error {
	switch m.Op {
	case OpUpsertNode:
		return upsertNode(txn, m)
	case OpDeleteNode:
		return deleteNodeCascade(txn, m)
	case OpUpsertRelationship:
		return upsertRelationship(txn, m)
	case OpDeleteRelationship:
		return deleteRelationship(txn, m.RelType, m.From, m.To)
	default:
		return fmt.Errorf("graph: unknown mutation op %q", m.Op)
	}
}

func upsertNode(txn *badger.Txn, m Mutation) error {
	k := key("n", m.NodeType, m.NodeID)
	props := map[string]interface{}{}
	item, err := txn.Get(k)
	switch {
	case err == nil:
		err = item.Value(func(val []byte) error {
			return json.Unmarshal(val, &props)
		})
		if err != nil {
			return err
		}
	case errors.Is(err, badger.ErrKeyNotFound):
		// New node.
	default:
		return err
	}
	for f, v := range m.Props {
		props[f] = v
	}
	val, err := json.Marshal(props)
	if err != nil {
		return err
	}
	return txn.Set(k, val)
}

// deleteNodeCascade removes the node and every edge touching it, using
// the edge index so the enumeration stays inside the same transaction.
func deleteNodeCascade(txn *badger.Txn, m Mutation) error {
	if err := txn.Delete(key("n", m.NodeType, m.NodeID)); err != nil {
		return err
	}
	pfx := prefix("ri", m.NodeID)
	it := txn.NewIterator(badger.IteratorOptions{Prefix: pfx})
	var edges [][3]string
	for it.Rewind(); it.ValidForPrefix(pfx); it.Next() {
		segs := splitKey(it.Item().KeyCopy(nil))
		if len(segs) != 5 {
			continue
		}
		edges = append(edges, [3]string{segs[2], segs[3], segs[4]})
	}
	it.Close()
	for _, e := range edges {
		if err := deleteRelationship(txn, e[0], e[1], e[2]); err != nil {
			return err
		}
	}
	return nil
}

func upsertRelationship(txn *badger.Txn, m Mutation) error {
	val, err := json.Marshal(m.Props)
	if err != nil {
		return err
	}
	if err := txn.Set(key("r", m.RelType, m.From, m.To), val); err != nil {
		return err
	}
	if err := txn.Set(key("ri", m.From, m.RelType, m.From, m.To), nil); err != nil {
		return err
	}
	if m.To != m.From {
		if err := txn.Set(key("ri", m.To, m.RelType, m.From, m.To), nil); err != nil {
			return err
		}
	}
	return nil
}

func deleteRelationship(txn *badger.Txn, relType, from, to string) error {
	if err := txn.Delete(key("r", relType, from, to)); err != nil {
		return err
	}
	if err := txn.Delete(key("ri", from, relType, from, to)); err != nil {
		return err
	}
	return txn.Delete(key("ri", to, relType, from, to))
}

func appendHistory(txn *badger.Txn, rec HistoryRecord) error {
	val, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	ts := fmt.Sprintf("%020d", rec.ChangedAt.UnixNano())
	return txn.Set(key("h", rec.EntityID, rec.Field, ts, rec.SourceKey), val)
}

func markApplied(txn *badger.Txn, idemKey string, ttl time.Duration) error {
	e := badger.NewEntry(key("d", idemKey), []byte{1})
	if ttl > 0 {
		e = e.WithTTL(ttl)
	}
	return txn.SetEntry(e)
}

func advanceHighWater(txn *badger.Txn, entityID string, occurredAt time.Time) error {
	k := key("e", entityID)
	if cur, ok, err := readTime(txn, k); err != nil {
		return err
	} else if ok && !occurredAt.After(cur) {
		return nil
	}
	return txn.Set(k, unixNano(occurredAt))
}

func unixNano(t time.Time) []byte {
	return []byte(strconv.FormatInt(t.UnixNano(), 10))
}

func readTime(txn *badger.Txn, k []byte) (time.Time, bool, error) {
	item, err := txn.Get(k)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	var t time.Time
	err = item.Value(func(val []byte) error {
		n, perr := strconv.ParseInt(string(val), 10, 64)
		if perr != nil {
			return perr
		}
		t = time.Unix(0, n).UTC()
		return nil
	})
	return t, err == nil, err
}

func (s *BadgerStore) GetNode(ctx context.Context, nodeType, id string) (map[string]interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var props map[string]interface{}
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key("n", nodeType, id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &props)
		})
	})
	return props, err
}

func (s *BadgerStore) NodeExists(ctx context.Context, nodeType, id string) (bool, error) {
	_, err := s.GetNode(ctx, nodeType, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (s *BadgerStore) NodeRelationships(ctx context.Context, id string) ([]Relationship, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var rels []Relationship
	err := s.db.View(func(txn *badger.Txn) error {
		pfx := prefix("ri", id)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: pfx})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(pfx); it.Next() {
			segs := splitKey(it.Item().KeyCopy(nil))
			if len(segs) != 5 {
				continue
			}
			rel := Relationship{RelType: segs[2], From: segs[3], To: segs[4]}
			if item, err := txn.Get(key("r", rel.RelType, rel.From, rel.To)); err == nil {
				_ = item.Value(func(val []byte) error {
					if len(val) > 0 {
						return json.Unmarshal(val, &rel.Props)
					}
					return nil
				})
			}
			rels = append(rels, rel)
		}
		return nil
	})
	return rels, err
}

func (s *BadgerStore) SeenEvent(ctx context.Context, idemKey string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	var seen bool
	err := s.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get(key("d", idemKey))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		seen = true
		return nil
	})
	return seen, err
}

func (s *BadgerStore) MarkEventApplied(ctx context.Context, idemKey string, ttl time.Duration) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return markApplied(txn, idemKey, ttl)
	})
}

func (s *BadgerStore) LastApplied(ctx context.Context, entityID string) (time.Time, bool, error) {
	if err := ctx.Err(); err != nil {
		return time.Time{}, false, err
	}
	var (
		t  time.Time
		ok bool
	)
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		t, ok, err = readTime(txn, key("e", entityID))
		return err
	})
	return t, ok, err
}

func (s *BadgerStore) FieldTimes(ctx context.Context, entityID string) (map[string]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time)
	err := s.db.View(func(txn *badger.Txn) error {
		pfx := prefix("f", entityID)
		it := txn.NewIterator(badger.IteratorOptions{Prefix: pfx, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(pfx); it.Next() {
			segs := splitKey(it.Item().KeyCopy(nil))
			if len(segs) != 3 {
				continue
			}
			field := segs[2]
			err := it.Item().Value(func(val []byte) error {
				n, perr := strconv.ParseInt(string(val), 10, 64)
				if perr != nil {
					return perr
				}
				out[field] = time.Unix(0, n).UTC()
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) History(ctx context.Context, entityID, field string) ([]HistoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	parts := []string{"h", entityID}
	if field != "" {
		parts = append(parts, field)
	}
	pfx := prefix(parts...)
	var recs []HistoryRecord
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.IteratorOptions{Prefix: pfx, PrefetchValues: true})
		defer it.Close()
		for it.Rewind(); it.ValidForPrefix(pfx); it.Next() {
			var rec HistoryRecord
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			})
			if err != nil {
				return err
			}
			recs = append(recs, rec)
		}
		return nil
	})
	return recs, err
}

// completedStatuses classify a task as done for progress aggregation.
var completedStatuses = map[string]bool{
	"done": true, "complete": true, "completed": true, "closed": true,
}

var inProgressStatuses = map[string]bool{
	"in progress": true, "in_progress": true, "in review": true, "review": true,
}

func (s *BadgerStore) TaskCounts(ctx context.Context, listID string) (ProgressCounts, error) {
	var counts ProgressCounts
	if err := ctx.Err(); err != nil {
		return counts, err
	}
	rels, err := s.NodeRelationships(ctx, listID)
	if err != nil {
		return counts, err
	}
	for _, rel := range rels {
		if rel.RelType != RelBelongsTo || rel.To != listID {
			continue
		}
		counts.Total++
		props, err := s.GetNode(ctx, "Task", rel.From)
		if err != nil {
			if errors.Is(err, ErrNotFound) {
				continue
			}
			return counts, err
		}
		status, _ := props["status"].(string)
		switch {
		case completedStatuses[status]:
			counts.Completed++
		case inProgressStatuses[status]:
			counts.InProgress++
		}
	}
	return counts, nil
}
