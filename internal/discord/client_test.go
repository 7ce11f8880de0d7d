package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

func testPayload() Payload {
	return Payload{Embeds: []Embed{{Title: "test"}}}
}

func TestClient_Send_Success(t *testing.T) {
	var received Payload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s, want POST", r.Method)
		}
		if ct := r.Header.Get("Content-Type"); ct != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", ct)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.Client(), newTestLogger())
	result := client.Send(context.Background(), server.URL, testPayload())

	if result.Status != StatusDelivered {
		t.Errorf("Status = %v, want StatusDelivered", result.Status)
	}
	if len(received.Embeds) != 1 || received.Embeds[0].Title != "test" {
		t.Errorf("server received %+v, want the sent payload", received)
	}
}

func TestClient_Send_RateLimited_RetryAfterHeader(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "2.5")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.Client(), newTestLogger())
	result := client.Send(context.Background(), server.URL, testPayload())

	if result.Status != StatusRateLimited {
		t.Fatalf("Status = %v, want StatusRateLimited", result.Status)
	}
	if result.RetryAfter != 2500*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 2.5s", result.RetryAfter)
	}
}

func TestClient_Send_RateLimited_JSONBody(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		w.Write([]byte(`{"retry_after": 1.5}`))
	}))
	defer server.Close()

	client := NewClient(server.Client(), newTestLogger())
	result := client.Send(context.Background(), server.URL, testPayload())

	if result.Status != StatusRateLimited {
		t.Fatalf("Status = %v, want StatusRateLimited", result.Status)
	}
	if result.RetryAfter != 1500*time.Millisecond {
		t.Errorf("RetryAfter = %v, want 1.5s", result.RetryAfter)
	}
}

func TestClient_Send_RateLimited_NoHint_UsesDefault(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.Client(), newTestLogger())
	result := client.Send(context.Background(), server.URL, testPayload())

	if result.Status != StatusRateLimited {
		t.Fatalf("Status = %v, want StatusRateLimited", result.Status)
	}
	if result.RetryAfter != defaultRetryAfter {
		t.Errorf("RetryAfter = %v, want default %v", result.RetryAfter, defaultRetryAfter)
	}
}

func TestClient_Send_ServerError_ReturnsFailed(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(server.Client(), newTestLogger())
	result := client.Send(context.Background(), server.URL, testPayload())

	if result.Status != StatusFailed {
		t.Fatalf("Status = %v, want StatusFailed", result.Status)
	}
	if result.Reason != "webhook returned status 500" {
		t.Errorf("Reason = %q, want status message", result.Reason)
	}
}

func TestClient_Send_ConnectionError_ReturnsFailed(t *testing.T) {
	client := NewClient(&http.Client{Timeout: time.Second}, newTestLogger())
	result := client.Send(context.Background(), "http://127.0.0.1:1/webhook", testPayload())

	if result.Status != StatusFailed {
		t.Errorf("Status = %v, want StatusFailed", result.Status)
	}
}

func TestClient_Send_WaitsAfterRateLimit(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.Header().Set("Retry-After", "0.2")
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	client := NewClient(server.Client(), newTestLogger())

	first := client.Send(context.Background(), server.URL, testPayload())
	if first.Status != StatusRateLimited {
		t.Fatalf("first Status = %v, want StatusRateLimited", first.Status)
	}

	// 2回目の送信は解禁時刻まで待機してから成功する
	start := time.Now()
	second := client.Send(context.Background(), server.URL, testPayload())
	elapsed := time.Since(start)

	if second.Status != StatusDelivered {
		t.Errorf("second Status = %v, want StatusDelivered", second.Status)
	}
	if elapsed < 150*time.Millisecond {
		t.Errorf("second send returned after %v, should wait ~200ms", elapsed)
	}
}

func TestClient_Send_RateLimitWait_CancelledByContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.Client(), newTestLogger())
	client.Send(context.Background(), server.URL, testPayload())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	result := client.Send(ctx, server.URL, testPayload())
	if time.Since(start) > 5*time.Second {
		t.Error("cancelled send should return promptly")
	}
	if result.Status != StatusFailed {
		t.Errorf("Status = %v, want StatusFailed on context cancellation", result.Status)
	}
}

func TestParseRetryAfter_HeaderTakesPriority(t *testing.T) {
	resp := &http.Response{
		Header: http.Header{"Retry-After": []string{"3"}},
		Body:   io.NopCloser(bytes.NewReader([]byte(`{"retry_after": 9}`))),
	}
	if got := parseRetryAfter(resp); got != 3*time.Second {
		t.Errorf("parseRetryAfter = %v, want 3s from header", got)
	}
}
