package engine

import (
	"context"
	"hash/fnv"
	"sync"

	"github.com/workpulse/graphsync/internal/event"
)

// lanePool is a fixed set of sequential execution lanes. Every event for
// a given entity hashes to the same lane, so same-entity events apply in
// the order the lane's queue presents them while different entities
// proceed in parallel.
type lanePool struct {
	lanes   []chan *event.CanonicalEvent
	process func(ctx context.Context, ev *event.CanonicalEvent)
	wg      sync.WaitGroup
}

// newLanePool creates and starts n lanes with queue capacity depth each.
func newLanePool(ctx context.Context, n, depth int, fn func(context.Context, *event.CanonicalEvent)) *lanePool {
	p := &lanePool{
		lanes:   make([]chan *event.CanonicalEvent, n),
		process: fn,
	}
	for i := range p.lanes {
		p.lanes[i] = make(chan *event.CanonicalEvent, depth)
		p.wg.Add(1)
		go func(queue chan *event.CanonicalEvent) {
			defer p.wg.Done()
			p.run(ctx, queue)
		}(p.lanes[i])
	}
	return p
}

func (p *lanePool) run(ctx context.Context, queue chan *event.CanonicalEvent) {
	for {
		select {
		case ev, ok := <-queue:
			if !ok {
				return
			}
			p.process(ctx, ev)
		case <-ctx.Done():
			return
		}
	}
}

// laneFor returns the lane index an entity id serializes on.
func (p *lanePool) laneFor(entityID string) int {
	h := fnv.New32a()
	h.Write([]byte(entityID))
	return int(h.Sum32() % uint32(len(p.lanes)))
}

// Submit enqueues an event on its entity's lane without blocking.
// Returns false when that lane's queue is full.
func (p *lanePool) Submit(ev *event.CanonicalEvent) bool {
	select {
	case p.lanes[p.laneFor(ev.EntityID)] <- ev:
		return true
	default:
		return false
	}
}

// Drain closes all queues and waits for in-flight events to finish.
func (p *lanePool) Drain() {
	for _, q := range p.lanes {
		close(q)
	}
	p.wg.Wait()
}

// Utilization returns the fullest lane's queue used/capacity (0–1).
func (p *lanePool) Utilization() float64 {
	var max float64
	for _, q := range p.lanes {
		if cap(q) == 0 {
			continue
		}
		if u := float64(len(q)) / float64(cap(q)); u > max {
			max = u
		}
	}
	return max
}
