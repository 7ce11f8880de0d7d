// Package worker はポーリングサイクルのスケジューリングを提供する。
// 設定間隔のティッカーで全購読のサイクルを駆動し、semaphoreパターンで
// 最大並列数を制御する。購読同士は互いにブロックしない。
package worker

import (
	"context"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hitoshi/subwatch/internal/metrics"
	"github.com/hitoshi/subwatch/internal/model"
)

// CycleRunner はポーリングサイクル実行のインターフェース。
type CycleRunner interface {
	// RunCycle は指定購読の1サイクルを実行する。
	RunCycle(ctx context.Context, sub *model.Subscription) error
}

// SubscriptionStatus は購読ごとのスケジューリング状態を表す。
// /statusエンドポイントから参照される。「恒久エラーで停止中」と
// 「正常だが新着なし」を運用上区別できるようにする。
type SubscriptionStatus struct {
	Subreddit string    `json:"subreddit"`
	LastRun   time.Time `json:"last_run"`
	LastError string    `json:"last_error,omitempty"`
	Disabled  bool      `json:"disabled"`
}

// Scheduler は全購読のポーリングサイクルをスケジュールする。
// 同一購読のサイクルは直列化される（RunOnceは全サイクルの完了を待つ）。
// 恒久エラーが発生した購読はプロセス再起動まで無効化し、
// 毎ティックの無駄な再試行を行わない。
type Scheduler struct {
	subs           []*model.Subscription
	runner         CycleRunner
	metrics        metrics.MetricsCollector
	logger         *slog.Logger
	maxConcurrency int

	mu     sync.Mutex
	status map[string]*SubscriptionStatus
}

// NewScheduler はSchedulerの新しいインスタンスを生成する。
// maxConcurrencyが0以下の場合はデフォルト値4を使用する。
func NewScheduler(
	subs []*model.Subscription,
	runner CycleRunner,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
	maxConcurrency int,
) *Scheduler {
	if maxConcurrency <= 0 {
		maxConcurrency = 4
	}

	status := make(map[string]*SubscriptionStatus, len(subs))
	for _, sub := range subs {
		status[sub.Subreddit] = &SubscriptionStatus{Subreddit: sub.Subreddit}
	}

	return &Scheduler{
		subs:           subs,
		runner:         runner,
		metrics:        collector,
		logger:         logger,
		maxConcurrency: maxConcurrency,
		status:         status,
	}
}

// Start は設定間隔のティッカーでスケジューラを起動する。
// コンテキストがキャンセルされるまで実行を継続する（ブロッキング）。
func (s *Scheduler) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("ポーリングスケジューラを開始しました",
		slog.Duration("interval", interval),
		slog.Int("subscriptions", len(s.subs)),
		slog.Int("max_concurrency", s.maxConcurrency),
	)

	// 起動直後に1回実行
	s.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ポーリングスケジューラを停止しました")
			return
		case <-ticker.C:
			s.RunOnce(ctx)
		}
	}
}

// RunOnce は有効な全購読のサイクルを1回ずつ並列に実行し、完了を待つ。
// semaphoreパターンで最大並列数を制御する。全サイクルの完了を待って
// 戻るため、同一購読のサイクルが重なることはない。
func (s *Scheduler) RunOnce(ctx context.Context) {
	start := time.Now()

	sem := make(chan struct{}, s.maxConcurrency)
	var wg sync.WaitGroup

	for _, sub := range s.subs {
		if s.isDisabled(sub.Subreddit) {
			continue
		}

		wg.Add(1)
		sem <- struct{}{} // semaphore取得（ブロック）

		go func(sub *model.Subscription) {
			defer wg.Done()
			defer func() { <-sem }() // semaphore解放

			s.runCycle(ctx, sub)
		}(sub)
	}

	wg.Wait()

	s.logger.Info("ティックが完了しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
}

// runCycle は1購読のサイクルを実行し、結果に応じて状態を更新する。
func (s *Scheduler) runCycle(ctx context.Context, sub *model.Subscription) {
	err := s.runner.RunCycle(ctx, sub)

	s.mu.Lock()
	defer s.mu.Unlock()

	st := s.status[sub.Subreddit]
	st.LastRun = time.Now()

	if err == nil {
		st.LastError = ""
		return
	}

	st.LastError = err.Error()

	// 恒久エラー（not found / forbidden）は再起動まで購読を無効化する。
	// 一時エラーは次のティックで再試行される。
	if model.IsPermanent(err) {
		st.Disabled = true
		s.metrics.RecordSubscriptionDisabled(sub.Subreddit)
		s.logger.Error("恒久エラーのため購読を無効化しました",
			slog.String("subreddit", sub.Subreddit),
			slog.String("error", err.Error()),
		)
		return
	}

	s.logger.Warn("サイクルの実行に失敗しました",
		slog.String("subreddit", sub.Subreddit),
		slog.String("error", err.Error()),
	)
}

// isDisabled は購読が恒久エラーで無効化されているかを返す。
func (s *Scheduler) isDisabled(subreddit string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.status[subreddit]
	return ok && st.Disabled
}

// Status は全購読のスケジューリング状態をsubreddit名順で返す。
func (s *Scheduler) Status() []SubscriptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]SubscriptionStatus, 0, len(s.status))
	for _, st := range s.status {
		out = append(out, *st)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Subreddit < out[j].Subreddit
	})
	return out
}
