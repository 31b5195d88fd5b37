package stats

import (
	"sync"
	"testing"
)

func TestSnapshotEmpty(t *testing.T) {
	c := NewCollector()
	s := c.Snapshot("clickup")
	if s.EventsProcessed != 0 || s.EventsFailed != 0 {
		t.Fatalf("fresh counters: %+v", s)
	}
	if s.SuccessRate != 1.0 {
		t.Fatalf("success rate with zero counters = %v, want 1.0", s.SuccessRate)
	}
	if s.LastProcessed != nil {
		t.Fatalf("last processed should be unset")
	}
}

func TestSuccessRate(t *testing.T) {
	c := NewCollector()
	for i := 0; i < 3; i++ {
		c.RecordSuccess("clickup")
	}
	c.RecordFailure("clickup")

	s := c.Snapshot("clickup")
	if s.EventsProcessed != 3 || s.EventsFailed != 1 {
		t.Fatalf("counters: %+v", s)
	}
	if s.SuccessRate != 0.75 {
		t.Fatalf("success rate = %v", s.SuccessRate)
	}
	if s.LastProcessed == nil {
		t.Fatal("last processed unset after activity")
	}
}

func TestProvidersIsolated(t *testing.T) {
	c := NewCollector()
	c.RecordSuccess("clickup")
	c.RecordFailure("github")

	if s := c.Snapshot("clickup"); s.EventsFailed != 0 {
		t.Fatalf("clickup: %+v", s)
	}
	if s := c.Snapshot("github"); s.EventsProcessed != 0 || s.EventsFailed != 1 {
		t.Fatalf("github: %+v", s)
	}
	if all := c.SnapshotAll(); len(all) != 2 {
		t.Fatalf("SnapshotAll: %v", all)
	}
}

func TestConcurrentMonotonic(t *testing.T) {
	c := NewCollector()
	const n = 64
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if i%2 == 0 {
				c.RecordSuccess("clickup")
			} else {
				c.RecordFailure("clickup")
			}
		}(i)
	}
	wg.Wait()

	s := c.Snapshot("clickup")
	if s.EventsProcessed != n/2 || s.EventsFailed != n/2 {
		t.Fatalf("counters after concurrent writes: %+v", s)
	}
	if s.SuccessRate < 0 || s.SuccessRate > 1 {
		t.Fatalf("success rate out of bounds: %v", s.SuccessRate)
	}
}
