// Package stats aggregates per-provider processing outcomes.
//
// Counters only ever increase within a process lifetime; the observation
// path never fails and never blocks beyond atomic increments.
package stats

import (
	"sync"
	"sync/atomic"
	"time"
)

// ProcessingStats is a read-time snapshot for one provider.
type ProcessingStats struct {
	Provider        string     `json:"provider"`
	EventsProcessed uint64     `json:"events_processed"`
	EventsFailed    uint64     `json:"events_failed"`
	LastProcessed   *time.Time `json:"last_processed,omitempty"`
	SuccessRate     float64    `json:"success_rate"`
}

type counters struct {
	processed atomic.Uint64
	failed    atomic.Uint64
	lastNano  atomic.Int64
}

// Collector tracks outcome counters keyed by provider name.
type Collector struct {
	mu        sync.RWMutex
	providers map[string]*counters
}

// NewCollector creates an empty Collector.
func NewCollector() *Collector {
	return &Collector{providers: make(map[string]*counters)}
}

func (c *Collector) forProvider(name string) *counters {
	c.mu.RLock()
	ctr, ok := c.providers[name]
	c.mu.RUnlock()
	if ok {
		return ctr
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctr, ok = c.providers[name]; ok {
		return ctr
	}
	ctr = &counters{}
	c.providers[name] = ctr
	return ctr
}

// RecordSuccess counts one applied event for the provider.
func (c *Collector) RecordSuccess(provider string) {
	ctr := c.forProvider(provider)
	ctr.processed.Add(1)
	ctr.lastNano.Store(time.Now().UnixNano())
}

// RecordFailure counts one terminally failed event for the provider.
func (c *Collector) RecordFailure(provider string) {
	ctr := c.forProvider(provider)
	ctr.failed.Add(1)
	ctr.lastNano.Store(time.Now().UnixNano())
}

// Snapshot returns current counters for one provider. Unknown providers
// snapshot as all-zero with a success rate of 1.
func (c *Collector) Snapshot(provider string) ProcessingStats {
	ctr := c.forProvider(provider)
	return snapshot(provider, ctr)
}

// SnapshotAll returns snapshots for every provider seen so far.
func (c *Collector) SnapshotAll() map[string]ProcessingStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(map[string]ProcessingStats, len(c.providers))
	for name, ctr := range c.providers {
		out[name] = snapshot(name, ctr)
	}
	return out
}

func snapshot(name string, ctr *counters) ProcessingStats {
	s := ProcessingStats{
		Provider:        name,
		EventsProcessed: ctr.processed.Load(),
		EventsFailed:    ctr.failed.Load(),
	}
	total := s.EventsProcessed + s.EventsFailed
	if total == 0 {
		s.SuccessRate = 1.0
	} else {
		s.SuccessRate = float64(s.EventsProcessed) / float64(total)
	}
	if nano := ctr.lastNano.Load(); nano > 0 {
		t := time.Unix(0, nano).UTC()
		s.LastProcessed = &t
	}
	return s
}
