package config

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/hitoshi/subwatch/internal/model"
)

// LoadSubscriptions はsubreddits.jsonから購読設定を読み込む。
// enabledがfalseのエントリは除外する。subredditまたはwebhook_urlを欠く
// 不正なエントリは警告を出して除外し、他のエントリの処理を継続する。
// subreddit名が重複する場合は最初のエントリのみを採用する。
func LoadSubscriptions(path string) ([]*model.Subscription, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("購読設定ファイルの読み込みに失敗しました: %w", err)
	}

	// エントリごとのデフォルト値を適用するため2段階でパースする
	var raw []json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("購読設定ファイルのパースに失敗しました: %w", err)
	}

	seen := make(map[string]bool)
	var subs []*model.Subscription
	for i, entry := range raw {
		// 原典のデフォルト: enabled=true, monitor_posts=true, monitor_keywords=false
		sub := &model.Subscription{
			Enabled:      true,
			MonitorPosts: true,
		}
		if err := json.Unmarshal(entry, sub); err != nil {
			slog.Warn("invalid subscription entry, skipping",
				slog.Int("index", i),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sub.Subreddit == "" || sub.WebhookURL == "" {
			slog.Warn("invalid subscription entry, skipping",
				slog.Int("index", i),
				slog.String("subreddit", sub.Subreddit),
			)
			continue
		}
		if seen[sub.Subreddit] {
			slog.Warn("duplicate subreddit entry, keeping the first",
				slog.String("subreddit", sub.Subreddit),
			)
			continue
		}
		seen[sub.Subreddit] = true

		if !sub.Enabled {
			continue
		}
		subs = append(subs, sub)
	}

	return subs, nil
}

// LoadKeywords はkeywords.jsonからキーワード設定を読み込む。
// ファイルが存在しない、またはパースできない場合は警告を出して
// キーワード監視無効（空設定）で継続する。原典と同じ縮退動作。
func LoadKeywords(path string) *model.KeywordConfig {
	// 原典のデフォルト: case_sensitive=false, search_posts/search_comments=true
	cfg := &model.KeywordConfig{
		SearchPosts:    true,
		SearchComments: true,
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			slog.Warn("failed to read keyword config",
				slog.String("path", path),
				slog.String("error", err.Error()),
			)
		}
		return cfg
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		slog.Warn("failed to parse keyword config, keyword monitoring disabled",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return &model.KeywordConfig{SearchPosts: true, SearchComments: true}
	}

	return cfg
}
