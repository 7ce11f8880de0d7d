// Package engine はポーリング・差分検出・配信のコアアルゴリズムを実装する。
// 購読ごとの1サイクルは「取得 → ウォーターマーク以降に絞り込み →
// キーワード評価 → 整形 → 配信 → ウォーターマーク前進」の順に進む。
// ウォーターマークはアイテム単位で前進させる: サイクル途中でクラッシュしても
// 配信済みアイテムが再配信されることはなく、未配信アイテムは次サイクルで
// 再試行される（at-least-once配信）。
package engine

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/subwatch/internal/discord"
	"github.com/hitoshi/subwatch/internal/keyword"
	"github.com/hitoshi/subwatch/internal/metrics"
	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/source"
	"github.com/hitoshi/subwatch/internal/state"
)

// maxDispatchAttempts はレート制限時の同一アイテム再送の上限。
// 超過した場合は一時エラーとして次サイクルに持ち越す
// （ウォーターマークは前進しないため配信漏れにはならない）。
const maxDispatchAttempts = 5

// Engine は1購読×1サイクルのポーリング・差分検出・配信を実行する。
// 可変状態を持たず、並行する複数サイクルから安全に利用できる
// （ストアと配信クライアントが並行利用に安全であることに依存する）。
type Engine struct {
	store      state.Store
	source     source.Source
	dispatcher discord.DispatchService
	matcher    *keyword.Matcher
	keywords   *model.KeywordConfig
	metrics    metrics.MetricsCollector
	logger     *slog.Logger
}

// NewEngine はEngineの新しいインスタンスを生成する。
func NewEngine(
	store state.Store,
	src source.Source,
	dispatcher discord.DispatchService,
	keywords *model.KeywordConfig,
	collector metrics.MetricsCollector,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		store:      store,
		source:     src,
		dispatcher: dispatcher,
		matcher:    keyword.NewMatcher(keywords),
		keywords:   keywords,
		metrics:    collector,
		logger:     logger,
	}
}

// RunCycle は1購読の1サイクルを実行する。
// 投稿ストリームは monitor_posts またはキーワード監視（search_posts）が
// 有効な場合に、コメントストリームはキーワード監視（search_comments）が
// 有効な場合に処理される。ストリームごとに独立したウォーターマークを持つ。
func (e *Engine) RunCycle(ctx context.Context, sub *model.Subscription) error {
	cycleID := uuid.NewString()
	start := time.Now()

	keywordsActive := sub.MonitorKeywords && e.keywords.Enabled()
	runPosts := sub.MonitorPosts || (keywordsActive && e.keywords.SearchPosts)
	runComments := keywordsActive && e.keywords.SearchComments

	logger := e.logger.With(
		slog.String("cycle_id", cycleID),
		slog.String("subreddit", sub.Subreddit),
	)

	if runPosts {
		if err := e.runStream(ctx, logger, sub, model.KindPost, keywordsActive); err != nil {
			e.metrics.RecordCycleFailure(sub.Subreddit)
			return err
		}
	}
	if runComments {
		if err := e.runStream(ctx, logger, sub, model.KindComment, keywordsActive); err != nil {
			e.metrics.RecordCycleFailure(sub.Subreddit)
			return err
		}
	}

	e.metrics.RecordCycleSuccess(sub.Subreddit)
	logger.Info("サイクルが完了しました",
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)
	return nil
}

// runStream は1ストリーム（posts/comments）の差分検出と配信を行う。
func (e *Engine) runStream(ctx context.Context, logger *slog.Logger, sub *model.Subscription, kind model.ItemKind, keywordsActive bool) error {
	// 1. 現在のウォーターマークを読む（初回実行では存在しない）
	var since *model.Watermark
	if w, ok := e.store.Get(sub.Subreddit, kind); ok {
		since = &w
	}

	// 2. ウォーターマーク以降の候補を新しい順で取得する
	fetchStart := time.Now()
	candidates, err := e.source.FetchNew(ctx, sub.Subreddit, kind, since)
	e.metrics.RecordFetchLatency(time.Since(fetchStart))
	if err != nil {
		return err
	}

	// 候補ゼロはno-opサイクル: ウォーターマークは変更しない
	if len(candidates) == 0 {
		return nil
	}

	// 3. 古い順（作成日時昇順、同時刻はID昇順）に並べ替える。
	// Discordへの配信は出現の時系列順を保存しなければならない。
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].Before(candidates[j])
	})

	logger.Info("新着アイテムを検出しました",
		slog.String("kind", string(kind)),
		slog.Int("count", len(candidates)),
	)

	// 4. アイテム単位で配信しウォーターマークを前進させる
	for _, item := range candidates {
		// シャットダウン時は次のアイテムに着手する前に中断する。
		// 配信とウォーターマーク前進の間では決して中断しない。
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := e.processItem(ctx, sub, kind, item, keywordsActive); err != nil {
			return err
		}
	}

	return nil
}

// processItem は1アイテムの配信とウォーターマーク前進を行う。
// アイテムに対する全配信（通常配信＋キーワード配信）が成功してから
// ウォーターマークを前進させる。
func (e *Engine) processItem(ctx context.Context, sub *model.Subscription, kind model.ItemKind, item *model.Item, keywordsActive bool) error {
	// monitor_postsが無効、またはピン留め投稿の場合は配信をスキップするが、
	// ウォーターマーク前進の対象にはなる
	deliverPost := kind == model.KindPost && sub.MonitorPosts && !item.Stickied

	var match *model.MatchResult
	if keywordsActive {
		match = e.matcher.MatchItem(item)
	}

	if deliverPost {
		if err := e.dispatch(ctx, sub.WebhookURL, discord.NewPostMessage(item)); err != nil {
			return err
		}
		e.metrics.RecordItemDelivered(sub.Subreddit, string(kind))
	}

	if match != nil {
		if err := e.dispatch(ctx, sub.KeywordTarget(), discord.NewKeywordMessage(match)); err != nil {
			return err
		}
		e.metrics.RecordKeywordMatch(sub.Subreddit)
	}

	// 配信成功後にウォーターマークを前進させる（アイテム単位の耐久性）。
	// 永続化失敗は警告に留める: 次サイクルで同一アイテムが再処理されうるが、
	// at-least-once配信の契約上は安全（重複配信が許容コスト）。
	if err := e.store.Set(sub.Subreddit, kind, model.WatermarkOf(item)); err != nil {
		e.logger.Warn("ウォーターマークの永続化に失敗しました",
			slog.String("subreddit", sub.Subreddit),
			slog.String("kind", string(kind)),
			slog.String("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}

	return nil
}

// dispatch は1メッセージを配信する。
// レート制限された場合はretry_after経過後に同一アイテムを再送する。
// 再送上限を超えた場合は一時エラーとして呼び出し元へ返す。
func (e *Engine) dispatch(ctx context.Context, webhookURL string, payload discord.Payload) error {
	for attempt := 0; attempt < maxDispatchAttempts; attempt++ {
		res := e.dispatcher.Send(ctx, webhookURL, payload)
		switch res.Status {
		case discord.StatusDelivered:
			return nil

		case discord.StatusRateLimited:
			e.metrics.RecordRateLimited()
			// 送信クライアントが解禁時刻を記録しているため、
			// 次のSendは自動的にretry_after経過まで待機する
			if err := ctx.Err(); err != nil {
				return err
			}
			continue

		default:
			e.metrics.RecordDispatchFailure()
			return model.NewDispatchFailedError(res.Reason)
		}
	}

	e.metrics.RecordDispatchFailure()
	return model.NewDispatchFailedError("rate limited: retry attempts exhausted")
}
