package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/workpulse/graphsync/internal/engine"
	"github.com/workpulse/graphsync/internal/metrics"
	"github.com/workpulse/graphsync/internal/provider"
	"github.com/workpulse/graphsync/internal/security"
	"github.com/workpulse/graphsync/internal/stats"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	registry *provider.Registry
	eng      *engine.Engine
	stats    *stats.Collector
	mux      *http.ServeMux
}

// New creates an HTTP handler and registers all routes.
func New(registry *provider.Registry, eng *engine.Engine, collector *stats.Collector) http.Handler {
	h := &Handler{registry: registry, eng: eng, stats: collector, mux: http.NewServeMux()}

	h.mux.HandleFunc("POST /webhooks/{provider}", h.handleWebhook)
	h.mux.HandleFunc("GET /health", h.health)
	h.mux.HandleFunc("GET /providers", h.listProviders)
	h.mux.HandleFunc("GET /stats", h.webhookStats)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// POST /webhooks/{provider} — boundary validation and async hand-off.
// The response only ever reflects boundary acceptance; apply failures are
// observable via /stats and logs.
func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("provider")

	// Resolve before labeling any metric: the path segment is attacker
	// controlled and must not mint unbounded label values.
	p, err := h.registry.Resolve(name)
	if err != nil {
		metrics.EventsRejected.WithLabelValues("unknown", "unknown_provider").Inc()
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown webhook provider: %s", name))
		return
	}
	metrics.EventsReceived.WithLabelValues(name).Inc()

	// Bound the body read before any parsing.
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, security.MaxPayloadBytes))
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			metrics.EventsRejected.WithLabelValues(name, "too_large").Inc()
			writeError(w, http.StatusRequestEntityTooLarge,
				fmt.Sprintf("payload exceeds %d bytes", security.MaxPayloadBytes))
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if !p.Config().Enabled {
		metrics.EventsRejected.WithLabelValues(name, "disabled").Inc()
		writeError(w, http.StatusForbidden, fmt.Sprintf("webhook provider %q is disabled", name))
		return
	}
	if !p.VerifySignature(body, r.Header) {
		metrics.EventsRejected.WithLabelValues(name, "bad_signature").Inc()
		slog.Warn("invalid webhook signature", "provider", name)
		writeError(w, http.StatusUnauthorized, "invalid webhook signature")
		return
	}

	ev, err := p.Normalize(body, r.Header)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrUnsupportedEventKind):
			// Unknown-but-harmless: acknowledge so the provider stops
			// redelivering, drop, and leave a trace.
			metrics.EventsRejected.WithLabelValues(name, "unsupported_kind").Inc()
			slog.Info("unsupported event kind dropped", "provider", name, "err", err)
			writeJSON(w, http.StatusOK, acceptedResponse{
				Status:   "dropped",
				Message:  "event type not supported, ignored",
				Provider: name,
			})
		default:
			metrics.EventsRejected.WithLabelValues(name, "malformed").Inc()
			slog.Warn("malformed webhook payload", "provider", name, "err", err)
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	ev.ReceivedAt = time.Now()

	if !h.eng.Submit(ev) {
		metrics.EventsRejected.WithLabelValues(name, "overloaded").Inc()
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusServiceUnavailable, "processing queue full, retry later")
		return
	}

	writeJSON(w, http.StatusOK, acceptedResponse{
		Status:    "success",
		Message:   "webhook received and queued for processing",
		Provider:  name,
		EventType: ev.RawKind,
		EventID:   ev.RawEventID,
	})
}

// GET /health — liveness probe, also refreshes the queue gauge.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	metrics.QueueUtilization.Set(h.eng.Utilization())
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "graphsync",
	})
}

// GET /providers — registered vs enabled providers.
func (h *Handler) listProviders(w http.ResponseWriter, r *http.Request) {
	enabled := h.registry.Enabled()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"all_providers":     h.registry.Names(),
		"enabled_providers": enabled,
		"count":             len(enabled),
	})
}

// GET /stats — per-provider processing statistics.
func (h *Handler) webhookStats(w http.ResponseWriter, r *http.Request) {
	providers := make(map[string]interface{})
	for _, name := range h.registry.Names() {
		p, err := h.registry.Resolve(name)
		if err != nil {
			continue
		}
		s := h.stats.Snapshot(name)
		providers[name] = map[string]interface{}{
			"provider":         name,
			"events_processed": s.EventsProcessed,
			"events_failed":    s.EventsFailed,
			"last_processed":   s.LastProcessed,
			"success_rate":     s.SuccessRate,
			"supported_events": p.SupportedEvents(),
			"enabled":          p.Config().Enabled,
		}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "operational",
		"providers": providers,
	})
}
