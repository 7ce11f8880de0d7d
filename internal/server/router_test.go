package server

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/subwatch/internal/metrics"
	"github.com/hitoshi/subwatch/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// mockReporter はテスト用のStatusReporter実装。
type mockReporter struct {
	statusFunc func() []worker.SubscriptionStatus
}

func (m *mockReporter) Status() []worker.SubscriptionStatus {
	return m.statusFunc()
}

func newTestRouter(reporter StatusReporter, gatherer prometheus.Gatherer) http.Handler {
	return NewRouter(&RouterDeps{
		Reporter: reporter,
		Gatherer: gatherer,
		Logger:   slog.New(slog.NewJSONHandler(io.Discard, nil)),
	})
}

func TestRouter_Health(t *testing.T) {
	reporter := &mockReporter{statusFunc: func() []worker.SubscriptionStatus { return nil }}
	router := newTestRouter(reporter, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestRouter_Status(t *testing.T) {
	now := time.Now()
	reporter := &mockReporter{statusFunc: func() []worker.SubscriptionStatus {
		return []worker.SubscriptionStatus{
			{Subreddit: "golang", LastRun: now},
			{Subreddit: "gone", LastRun: now, LastError: "subreddit not found: gone", Disabled: true},
		}
	}}
	router := newTestRouter(reporter, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body struct {
		Subscriptions []worker.SubscriptionStatus `json:"subscriptions"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("response is not valid JSON: %v", err)
	}
	if len(body.Subscriptions) != 2 {
		t.Fatalf("len(subscriptions) = %d, want 2", len(body.Subscriptions))
	}
	if !body.Subscriptions[1].Disabled {
		t.Error("gone should be reported as disabled")
	}
	if body.Subscriptions[1].LastError == "" {
		t.Error("gone should report its last error")
	}
}

func TestRouter_Metrics(t *testing.T) {
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)
	collector.RecordCycleSuccess("golang")

	reporter := &mockReporter{statusFunc: func() []worker.SubscriptionStatus { return nil }}
	router := newTestRouter(reporter, registry)

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "subwatch_cycle_success_total") {
		t.Error("metrics output should contain subwatch_cycle_success_total")
	}
}

func TestRouter_UnknownPath_Returns404(t *testing.T) {
	reporter := &mockReporter{statusFunc: func() []worker.SubscriptionStatus { return nil }}
	router := newTestRouter(reporter, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/unknown", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRouter_RecoversFromPanic(t *testing.T) {
	reporter := &mockReporter{statusFunc: func() []worker.SubscriptionStatus {
		panic("boom")
	}}
	router := newTestRouter(reporter, prometheus.NewRegistry())

	req := httptest.NewRequest(http.MethodGet, "/status", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 after panic recovery", rec.Code)
	}
}
