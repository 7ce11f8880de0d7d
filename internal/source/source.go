// Package source はsubredditコンテンツの取得アダプタを提供する。
// Reddit OAuth API・公開JSONリスティング・RSSリスティングの3モードを持ち、
// いずれも「ウォーターマーク以降の新着を新しい順で返す」契約を実装する。
// ページングと初回実行時の取得上限はアダプタ内部で処理する。
package source

import (
	"context"
	"fmt"
	"sort"

	"github.com/hitoshi/subwatch/internal/model"
)

const (
	// firstRunLimit は初回実行（ウォーターマークなし）時の取得上限。
	// 初回接続でのフラッドを避けるため直近の少数のみを返す。
	firstRunLimit = 10
	// fetchLimit は通常実行時の取得上限。
	fetchLimit = 100
)

// Source はsubredditコンテンツ取得のインターフェース。
// エンジンから利用する外部コラボレータ境界。
type Source interface {
	// FetchNew は指定ストリームのウォーターマーク以降の新着アイテムを
	// 新しい順で返す。sinceがnilの場合は初回実行として直近の
	// 限定ウィンドウのみを返す。
	// 一時エラー（ネットワーク、5xx）と恒久エラー（not found / forbidden）は
	// model.MonitorErrorのカテゴリで区別される。
	FetchNew(ctx context.Context, subreddit string, kind model.ItemKind, since *model.Watermark) ([]*model.Item, error)

	// Probe はsubredditへの到達性を確認する。起動時の接続テスト用。
	Probe(ctx context.Context, subreddit string) error
}

// fetchWindow はウォーターマークの有無に応じた取得上限を返す。
func fetchWindow(since *model.Watermark) int {
	if since == nil {
		return firstRunLimit
	}
	return fetchLimit
}

// classifyStatus はHTTPステータスコードをエラーカテゴリに分類する。
// 404/410はsubreddit未検出、401/403はアクセス拒否（いずれも恒久）、
// それ以外の異常ステータスは一時エラーとして次サイクルで再試行される。
func classifyStatus(subreddit string, status int) error {
	switch {
	case status == 404 || status == 410:
		return model.NewSubredditNotFoundError(subreddit)
	case status == 401 || status == 403:
		return model.NewSubredditForbiddenError(subreddit)
	default:
		return model.NewFetchFailedError(subreddit, fmt.Sprintf("unexpected status %d", status))
	}
}

// filterSince はウォーターマーク以前（処理済み）のアイテムを除外する。
func filterSince(items []*model.Item, since *model.Watermark) []*model.Item {
	if since == nil {
		return items
	}
	var out []*model.Item
	for _, item := range items {
		if !since.Covers(item) {
			out = append(out, item)
		}
	}
	return out
}

// sortNewestFirst はアイテムを新しい順（作成日時降順、同時刻はID降順）に整列する。
func sortNewestFirst(items []*model.Item) {
	sort.SliceStable(items, func(i, j int) bool {
		return items[j].Before(items[i])
	})
}
