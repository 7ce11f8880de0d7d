// Package server は運用系HTTPエンドポイントを提供する。
// ヘルスチェック、購読状態、Prometheusメトリクスの3つのみで、
// ダッシュボードやコンテンツAPIは提供しない。
package server

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/subwatch/internal/metrics"
	"github.com/hitoshi/subwatch/internal/middleware"
	"github.com/hitoshi/subwatch/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// StatusReporter は購読状態の参照インターフェース。
// スケジューラが実装する。
type StatusReporter interface {
	Status() []worker.SubscriptionStatus
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	Reporter StatusReporter
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// NewRouter は運用系エンドポイントのルーティングを構成したchi.Routerを返す。
//
//	GET /health  - ヘルスチェック（常に200）
//	GET /status  - 購読ごとのスケジューリング状態
//	GET /metrics - Prometheusスクレイプ
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewLoggingMiddleware(deps.Logger))

	r.Get("/health", handleHealth)
	r.Get("/status", handleStatus(deps.Reporter))
	r.Method(http.MethodGet, "/metrics", metrics.Handler(deps.Gatherer))

	return r
}

// handleHealth はヘルスチェックリクエストを処理する。
func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleStatus は購読ごとのスケジューリング状態を返すハンドラーを生成する。
func handleStatus(reporter StatusReporter) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"subscriptions": reporter.Status(),
		})
	}
}

// writeJSON はJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}
