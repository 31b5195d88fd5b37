// Package engine consumes canonical events and applies them to the graph
// store as idempotent, per-entity-ordered transactional mutations.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/workpulse/graphsync/internal/config"
	"github.com/workpulse/graphsync/internal/event"
	"github.com/workpulse/graphsync/internal/graph"
	"github.com/workpulse/graphsync/internal/metrics"
	"github.com/workpulse/graphsync/internal/stats"
)

// Engine is the mutation engine. Events move through
// Received → Validated → Normalized before they reach Submit; from there
// each runs Applying → Applied or Failed on its entity's lane.
type Engine struct {
	store graph.Store
	stats *stats.Collector
	conf  config.EngineConf
	pool  *lanePool
	log   *slog.Logger

	applyTimeout time.Duration
	retryBase    time.Duration
	retryMax     time.Duration
	dedupTTL     time.Duration
}

// New creates an Engine and starts its lanes. ctx cancellation stops the
// lanes; call Shutdown to drain them instead.
func New(ctx context.Context, st graph.Store, collector *stats.Collector, conf config.EngineConf) *Engine {
	e := &Engine{
		store:        st,
		stats:        collector,
		conf:         conf,
		log:          slog.With("component", "engine"),
		applyTimeout: time.Duration(conf.ApplyTimeoutMs) * time.Millisecond,
		retryBase:    time.Duration(conf.RetryBaseMs) * time.Millisecond,
		retryMax:     time.Duration(conf.RetryMaxMs) * time.Millisecond,
		dedupTTL:     time.Duration(conf.DedupWindowH) * time.Hour,
	}
	e.pool = newLanePool(ctx, conf.Lanes, conf.LaneDepth, e.process)
	return e
}

// Submit routes an event to its entity's lane without blocking. A false
// return means the lane is saturated; the boundary maps this to a
// retry-later response and the provider's own redelivery covers it.
func (e *Engine) Submit(ev *event.CanonicalEvent) bool {
	if !e.pool.Submit(ev) {
		return false
	}
	metrics.EventsEnqueued.WithLabelValues(ev.Provider).Inc()
	return true
}

// Utilization returns the fullest lane's queue utilization (0–1).
func (e *Engine) Utilization() float64 {
	return e.pool.Utilization()
}

// Shutdown drains the lanes gracefully.
func (e *Engine) Shutdown() {
	e.pool.Drain()
}

// process runs one event to a terminal state. Derivation happens inside
// the attempt loop: a timed-out transaction rolls back and the next
// attempt re-derives against current graph state.
func (e *Engine) process(ctx context.Context, ev *event.CanonicalEvent) {
	start := time.Now()
	key := ev.IdempotencyKey()
	log := e.log.With("provider", ev.Provider, "kind", ev.RawKind, "entity", ev.EntityID, "event_id", ev.RawEventID)

	// One poison event must not take its lane goroutine down with it.
	defer func() {
		if r := recover(); r != nil {
			metrics.EventsApplied.WithLabelValues(ev.Provider, "failed_permanent").Inc()
			e.stats.RecordFailure(ev.Provider)
			log.Error("panic while applying event, event dropped",
				"panic", r, "idempotency_key", key)
		}
	}()

	seen, err := e.store.SeenEvent(ctx, key)
	if err == nil && seen {
		// Applied before: acknowledge the redelivery as a no-op.
		metrics.EventsDuplicate.WithLabelValues(ev.Provider).Inc()
		e.stats.RecordSuccess(ev.Provider)
		log.Debug("duplicate event suppressed", "idempotency_key", key)
		return
	}
	if err != nil {
		log.Warn("dedup lookup failed, applying anyway", "err", err)
	}

	var lastErr error
	for attempt := 1; attempt <= e.conf.MaxAttempts; attempt++ {
		lastErr = e.applyOnce(ctx, ev)
		if lastErr == nil {
			metrics.EventsApplied.WithLabelValues(ev.Provider, "applied").Inc()
			metrics.ApplyDuration.Observe(float64(time.Since(start).Milliseconds()))
			e.stats.RecordSuccess(ev.Provider)
			log.Info("event applied", "attempt", attempt, "duration_ms", time.Since(start).Milliseconds())
			return
		}
		if isSemantic(lastErr) {
			// A missing referent cannot appear by retrying; record enough
			// context for an operator backfill and drop the event.
			metrics.EventsApplied.WithLabelValues(ev.Provider, "failed_semantic").Inc()
			e.stats.RecordFailure(ev.Provider)
			log.Error("semantic failure, event dropped",
				"err", lastErr, "idempotency_key", key, "occurred_at", ev.OccurredAt)
			return
		}
		if isSuperseded(lastErr) {
			// Outdated by newer applied state: mark applied so the
			// redelivery window stays quiet, then ack as a no-op.
			if merr := e.store.MarkEventApplied(ctx, key, e.dedupTTL); merr != nil {
				log.Warn("failed to mark superseded event", "err", merr)
			}
			metrics.EventsApplied.WithLabelValues(ev.Provider, "superseded").Inc()
			e.stats.RecordSuccess(ev.Provider)
			log.Info("superseded event ignored", "err", lastErr)
			return
		}
		if !isTransient(lastErr) {
			break // shutdown in progress
		}
		if attempt < e.conf.MaxAttempts {
			metrics.ApplyRetries.WithLabelValues(ev.Provider).Inc()
			delay := e.backoff(attempt)
			log.Warn("transient apply failure, retrying",
				"err", lastErr, "attempt", attempt, "backoff", delay)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				log.Warn("shutdown during retry wait, event left to provider redelivery",
					"err", lastErr, "idempotency_key", key)
				return
			}
		}
	}

	// An attempt cut short by shutdown is not a processing failure; the
	// provider's redelivery picks the event back up.
	if errors.Is(lastErr, context.Canceled) || ctx.Err() != nil {
		log.Warn("apply interrupted by shutdown, event left to provider redelivery",
			"err", lastErr, "idempotency_key", key)
		return
	}

	// Permanently failed: surfaced via stats and logs for manual
	// reconciliation, never silently dropped.
	metrics.EventsApplied.WithLabelValues(ev.Provider, "failed_permanent").Inc()
	e.stats.RecordFailure(ev.Provider)
	log.Error("event permanently failed, manual reconciliation required",
		"err", lastErr, "attempts", e.conf.MaxAttempts, "idempotency_key", key)
}

func (e *Engine) applyOnce(ctx context.Context, ev *event.CanonicalEvent) error {
	actx, cancel := context.WithTimeout(ctx, e.applyTimeout)
	defer cancel()

	batch, err := deriveBatch(actx, e.store, ev, e.dedupTTL)
	if err != nil {
		return err
	}
	if err := e.store.Apply(actx, batch); err != nil {
		return fmt.Errorf("apply batch: %w", err)
	}
	return nil
}

// backoff returns the exponential delay for the given attempt, capped.
func (e *Engine) backoff(attempt int) time.Duration {
	d := e.retryBase << (attempt - 1)
	if d > e.retryMax || d <= 0 {
		return e.retryMax
	}
	return d
}
