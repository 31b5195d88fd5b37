package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/workpulse/graphsync/internal/config"
	"github.com/workpulse/graphsync/internal/metrics"
	"github.com/workpulse/graphsync/internal/engine"
	"github.com/workpulse/graphsync/internal/graph"
	"github.com/workpulse/graphsync/internal/provider"
	"github.com/workpulse/graphsync/internal/provider/clickup"
	"github.com/workpulse/graphsync/internal/security"
	"github.com/workpulse/graphsync/internal/stats"
)

const clickupSecret = "whsec_test"

func newTestHandler(t *testing.T) (http.Handler, *graph.BadgerStore) {
	t.Helper()
	st, err := graph.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	registry := provider.NewRegistry()
	require.NoError(t, registry.Register(clickup.New(provider.Config{
		Name: "clickup", Enabled: true, Secret: []byte(clickupSecret),
	})))
	require.NoError(t, registry.Register(clickup.New(provider.Config{
		Name: "legacy", Enabled: false,
	})))

	collector := stats.NewCollector()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	eng := engine.New(ctx, st, collector, config.EngineConf{
		Lanes: 2, LaneDepth: 8, ApplyTimeoutMs: 1000,
		MaxAttempts: 2, RetryBaseMs: 1, RetryMaxMs: 2, DedupWindowH: 1,
	})
	t.Cleanup(eng.Shutdown)

	return New(registry, eng, collector), st
}

func signedPost(t *testing.T, h http.Handler, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Signature", security.Sign([]byte(clickupSecret), []byte(body), "sha256="))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestWebhookUnknownProvider(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/unknown", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestUnknownProviderMintsNoMetricLabels(t *testing.T) {
	h, _ := newTestHandler(t)

	received := testutil.CollectAndCount(metrics.EventsReceived)
	rejected := testutil.CollectAndCount(metrics.EventsRejected)

	for _, name := range []string{"aaa", "bbb", "ccc", "ddd"} {
		req := httptest.NewRequest(http.MethodPost, "/webhooks/"+name, strings.NewReader(`{}`))
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		require.Equal(t, http.StatusNotFound, w.Code)
	}

	assert.Equal(t, received, testutil.CollectAndCount(metrics.EventsReceived),
		"unresolved names must not label the received counter")
	assert.LessOrEqual(t, testutil.CollectAndCount(metrics.EventsRejected), rejected+1,
		"unknown-provider rejections share one fixed label")
}

func TestWebhookDisabledProvider(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/legacy", strings.NewReader(`{}`))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestWebhookBadSignature(t *testing.T) {
	h, st := newTestHandler(t)
	body := `{"event":"taskCreated","task_id":"t1","task":{"id":"t1","name":"x"}}`

	req := httptest.NewRequest(http.MethodPost, "/webhooks/clickup", strings.NewReader(body))
	req.Header.Set("X-Signature", security.Sign([]byte("wrong-secret"), []byte(body), "sha256="))
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	// The rejected body never reached the normalizer or the store.
	time.Sleep(50 * time.Millisecond)
	_, err := st.GetNode(context.Background(), "Task", "t1")
	assert.ErrorIs(t, err, graph.ErrNotFound)
}

func TestWebhookMalformedPayload(t *testing.T) {
	h, _ := newTestHandler(t)
	w := signedPost(t, h, "/webhooks/clickup", `{"event":"taskCreated"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestWebhookUnsupportedKindAcknowledged(t *testing.T) {
	h, _ := newTestHandler(t)
	w := signedPost(t, h, "/webhooks/clickup", `{"event":"goalCreated","task_id":"t1"}`)
	assert.Equal(t, http.StatusOK, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "dropped", resp["status"])
}

func TestWebhookAcceptedAndApplied(t *testing.T) {
	h, st := newTestHandler(t)
	body := `{"event":"taskCreated","task_id":"t1","task":{"id":"t1","name":"ship it","status":{"status":"open"}}}`

	w := signedPost(t, h, "/webhooks/clickup", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp acceptedResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "success", resp.Status)
	assert.Equal(t, "clickup", resp.Provider)
	assert.Equal(t, "taskCreated", resp.EventType)

	require.Eventually(t, func() bool {
		_, err := st.GetNode(context.Background(), "Task", "t1")
		return err == nil
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHealth(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestListProviders(t *testing.T) {
	h, _ := newTestHandler(t)
	req := httptest.NewRequest(http.MethodGet, "/providers", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		All     []string `json:"all_providers"`
		Enabled []string `json:"enabled_providers"`
		Count   int      `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, []string{"clickup", "legacy"}, resp.All)
	assert.Equal(t, []string{"clickup"}, resp.Enabled)
	assert.Equal(t, 1, resp.Count)
}

func TestStatsEndpoint(t *testing.T) {
	h, _ := newTestHandler(t)

	// Drive one event through so the counters move.
	body := `{"event":"taskCreated","task_id":"t2","task":{"id":"t2","name":"n"}}`
	require.Equal(t, http.StatusOK, signedPost(t, h, "/webhooks/clickup", body).Code)

	require.Eventually(t, func() bool {
		req := httptest.NewRequest(http.MethodGet, "/stats", nil)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		if w.Code != http.StatusOK {
			return false
		}
		var resp struct {
			Status    string `json:"status"`
			Providers map[string]struct {
				EventsProcessed uint64  `json:"events_processed"`
				SuccessRate     float64 `json:"success_rate"`
			} `json:"providers"`
		}
		if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
			return false
		}
		p := resp.Providers["clickup"]
		return resp.Status == "operational" && p.EventsProcessed == 1 && p.SuccessRate == 1.0
	}, 2*time.Second, 20*time.Millisecond)
}
