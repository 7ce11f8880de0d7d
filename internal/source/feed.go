package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/security"
	"github.com/mmcdole/gofeed"
	"golang.org/x/time/rate"
)

// FeedClient はRedditのRSSリスティング（/r/<subreddit>/new/.rss）を
// 使用するSource実装。認証情報なしで動作する縮退モードで、
// 投稿のみを扱い、スコア・フレア・NSFWフラグは取得できない。
// コメントストリームは提供されない（常に空を返す）。
type FeedClient struct {
	parser    *gofeed.Parser
	sanitizer security.ContentSanitizerService
	limiter   *rate.Limiter
	baseURL   string // テスト用にエンドポイントを差し替え可能
}

// NewFeedClient はFeedClientの新しいインスタンスを生成する。
func NewFeedClient(httpClient *http.Client, userAgent string, sanitizer security.ContentSanitizerService) *FeedClient {
	parser := gofeed.NewParser()
	parser.Client = httpClient
	parser.UserAgent = userAgent

	return &FeedClient{
		parser:    parser,
		sanitizer: sanitizer,
		limiter:   rate.NewLimiter(rate.Every(2*time.Second), 1),
		baseURL:   redditBaseURL,
	}
}

// FetchNew は新着投稿を新しい順で返す。コメントは常に空。
func (c *FeedClient) FetchNew(ctx context.Context, subreddit string, kind model.ItemKind, since *model.Watermark) ([]*model.Item, error) {
	if kind == model.KindComment {
		return nil, nil
	}

	feed, err := c.fetch(ctx, subreddit)
	if err != nil {
		return nil, err
	}

	window := fetchWindow(since)
	items := make([]*model.Item, 0, len(feed.Items))
	for _, entry := range feed.Items {
		if len(items) >= window {
			break
		}
		items = append(items, c.entryToItem(subreddit, entry))
	}

	sortNewestFirst(items)
	return filterSince(items, since), nil
}

// Probe はフィードの取得を試みて到達性を確認する。
func (c *FeedClient) Probe(ctx context.Context, subreddit string) error {
	_, err := c.fetch(ctx, subreddit)
	return err
}

// fetch はレートリミッタを通してRSSリスティングを取得・パースする。
func (c *FeedClient) fetch(ctx context.Context, subreddit string) (*gofeed.Feed, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	feedURL := fmt.Sprintf("%s/r/%s/new/.rss", c.baseURL, subreddit)
	feed, err := c.parser.ParseURLWithContext(feedURL, ctx)
	if err != nil {
		var herr gofeed.HTTPError
		if errors.As(err, &herr) {
			return nil, classifyStatus(subreddit, herr.StatusCode)
		}
		return nil, model.NewFetchFailedError(subreddit, err.Error())
	}
	return feed, nil
}

// entryToItem はフィードエントリをドメインモデルへ変換する。
// RSSのエントリIDは "t3_<id>" 形式のため、APIモードのIDと揃うよう
// プレフィックスを取り除く。本文はHTMLからプレーンテキストへ平坦化する。
func (c *FeedClient) entryToItem(subreddit string, entry *gofeed.Item) *model.Item {
	item := &model.Item{
		ID:        strings.TrimPrefix(entry.GUID, "t3_"),
		Kind:      model.KindPost,
		Subreddit: subreddit,
		Title:     entry.Title,
		Body:      c.sanitizer.PlainText(entry.Content),
		Permalink: entry.Link,
		URL:       entry.Link,
		IsSelf:    true,
		Author:    "[deleted]",
	}

	if entry.PublishedParsed != nil {
		item.CreatedAt = entry.PublishedParsed.UTC()
	} else if entry.UpdatedParsed != nil {
		item.CreatedAt = entry.UpdatedParsed.UTC()
	}

	if entry.Author != nil && entry.Author.Name != "" {
		item.Author = strings.TrimPrefix(entry.Author.Name, "/u/")
	}

	return item
}
