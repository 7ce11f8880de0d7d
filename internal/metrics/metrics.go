// Package metrics はPrometheusメトリクスの収集と公開を提供する。
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsCollector はメトリクス収集のインターフェース。
// エンジンとスケジューラから利用する。
type MetricsCollector interface {
	RecordCycleSuccess(subreddit string)
	RecordCycleFailure(subreddit string)
	RecordItemDelivered(subreddit string, kind string)
	RecordKeywordMatch(subreddit string)
	RecordRateLimited()
	RecordDispatchFailure()
	RecordFetchLatency(duration time.Duration)
	RecordSubscriptionDisabled(subreddit string)
}

// Collector はPrometheusメトリクスを収集する実装。
type Collector struct {
	cycleSuccess    *prometheus.CounterVec
	cycleFail       *prometheus.CounterVec
	itemsDelivered  *prometheus.CounterVec
	keywordMatches  *prometheus.CounterVec
	rateLimited     prometheus.Counter
	dispatchFail    prometheus.Counter
	fetchLatency    prometheus.Histogram
	subsDisabled    *prometheus.CounterVec
}

// NewCollector は新しいCollectorを生成し、指定されたレジストリにメトリクスを登録する。
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		cycleSuccess: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_cycle_success_total",
			Help: "ポーリングサイクル成功の合計数",
		}, []string{"subreddit"}),
		cycleFail: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_cycle_fail_total",
			Help: "ポーリングサイクル失敗の合計数",
		}, []string{"subreddit"}),
		itemsDelivered: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_items_delivered_total",
			Help: "Discordへ配信されたアイテムの合計数",
		}, []string{"subreddit", "kind"}),
		keywordMatches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_keyword_matches_total",
			Help: "キーワードマッチの合計数",
		}, []string{"subreddit"}),
		rateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_dispatch_rate_limited_total",
			Help: "webhookレート制限に遭遇した回数",
		}),
		dispatchFail: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "subwatch_dispatch_fail_total",
			Help: "webhook配信失敗の合計数",
		}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "subwatch_fetch_latency_seconds",
			Help:    "subredditコンテンツ取得のレイテンシ（秒）",
			Buckets: prometheus.DefBuckets,
		}),
		subsDisabled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "subwatch_subscription_disabled_total",
			Help: "恒久エラーにより無効化された購読の数",
		}, []string{"subreddit"}),
	}

	reg.MustRegister(
		c.cycleSuccess,
		c.cycleFail,
		c.itemsDelivered,
		c.keywordMatches,
		c.rateLimited,
		c.dispatchFail,
		c.fetchLatency,
		c.subsDisabled,
	)

	return c
}

// RecordCycleSuccess はサイクル成功を記録する。
func (c *Collector) RecordCycleSuccess(subreddit string) {
	c.cycleSuccess.WithLabelValues(subreddit).Inc()
}

// RecordCycleFailure はサイクル失敗を記録する。
func (c *Collector) RecordCycleFailure(subreddit string) {
	c.cycleFail.WithLabelValues(subreddit).Inc()
}

// RecordItemDelivered は配信成功アイテムを記録する。
func (c *Collector) RecordItemDelivered(subreddit string, kind string) {
	c.itemsDelivered.WithLabelValues(subreddit, kind).Inc()
}

// RecordKeywordMatch はキーワードマッチの配信を記録する。
func (c *Collector) RecordKeywordMatch(subreddit string) {
	c.keywordMatches.WithLabelValues(subreddit).Inc()
}

// RecordRateLimited はwebhookレート制限の遭遇を記録する。
func (c *Collector) RecordRateLimited() {
	c.rateLimited.Inc()
}

// RecordDispatchFailure はwebhook配信失敗を記録する。
func (c *Collector) RecordDispatchFailure() {
	c.dispatchFail.Inc()
}

// RecordFetchLatency はコンテンツ取得のレイテンシを記録する。
func (c *Collector) RecordFetchLatency(duration time.Duration) {
	c.fetchLatency.Observe(duration.Seconds())
}

// RecordSubscriptionDisabled は恒久エラーによる購読無効化を記録する。
func (c *Collector) RecordSubscriptionDisabled(subreddit string) {
	c.subsDisabled.WithLabelValues(subreddit).Inc()
}

// Handler はPrometheusスクレイプ用のHTTPハンドラーを返す。
func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
