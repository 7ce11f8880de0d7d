package source

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
	"github.com/loganintech/go-reddit/v2/reddit"
	"golang.org/x/time/rate"
)

// APIClient はReddit OAuth APIを使用するSource実装。
// 投稿の取得はgo-redditクライアント経由。go-redditはsubreddit単位の
// コメントストリームを公開していないため、コメントは公開リスティングを
// 同じレートリミッタで読む。
type APIClient struct {
	client  *reddit.Client
	public  *PublicClient
	limiter *rate.Limiter
}

// NewAPIClient はAPIClientの新しいインスタンスを生成する。
// アプリケーション専用（script型）の認証情報を使用する。
func NewAPIClient(httpClient *http.Client, clientID, clientSecret, userAgent string) (*APIClient, error) {
	creds := reddit.Credentials{ID: clientID, Secret: clientSecret}
	client, err := reddit.NewClient(creds, reddit.WithUserAgent(userAgent))
	if err != nil {
		return nil, err
	}

	// OAuth APIの上限は約60リクエスト/分。余裕をもって1リクエスト/秒に抑える
	limiter := rate.NewLimiter(rate.Every(1*time.Second), 1)

	return &APIClient{
		client:  client,
		public:  NewPublicClient(httpClient, userAgent),
		limiter: limiter,
	}, nil
}

// FetchNew は指定ストリームの新着アイテムを新しい順で返す。
func (c *APIClient) FetchNew(ctx context.Context, subreddit string, kind model.ItemKind, since *model.Watermark) ([]*model.Item, error) {
	if kind == model.KindComment {
		return c.public.FetchNew(ctx, subreddit, kind, since)
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	posts, _, err := c.client.Subreddit.NewPosts(ctx, subreddit, &reddit.ListOptions{
		Limit: fetchWindow(since),
	})
	if err != nil {
		return nil, classifyAPIError(subreddit, err)
	}

	items := make([]*model.Item, 0, len(posts))
	for _, p := range posts {
		items = append(items, postToItem(subreddit, p))
	}

	sortNewestFirst(items)
	return filterSince(items, since), nil
}

// Probe はsubredditの新着1件を取得して到達性を確認する。
func (c *APIClient) Probe(ctx context.Context, subreddit string) error {
	if err := c.limiter.Wait(ctx); err != nil {
		return err
	}

	_, _, err := c.client.Subreddit.NewPosts(ctx, subreddit, &reddit.ListOptions{Limit: 1})
	if err != nil {
		return classifyAPIError(subreddit, err)
	}
	return nil
}

// postToItem はgo-redditの投稿をドメインモデルへ変換する。
func postToItem(subreddit string, p *reddit.Post) *model.Item {
	item := &model.Item{
		ID:          p.ID,
		Kind:        model.KindPost,
		Subreddit:   subreddit,
		Title:       p.Title,
		Body:        p.Body,
		URL:         p.URL,
		Author:      p.Author,
		Score:       p.Score,
		NumComments: p.NumberOfComments,
		Permalink:   absPermalink(p.Permalink),
		IsSelf:      p.IsSelfPost,
		IsNSFW:      p.NSFW,
		IsSpoiler:   p.Spoiler,
		Stickied:    p.Stickied,
	}
	if p.Created != nil {
		item.CreatedAt = p.Created.Time.UTC()
	}
	if item.Author == "" {
		item.Author = "[deleted]"
	}
	return item
}

// classifyAPIError はgo-redditのエラーをエラーカテゴリに分類する。
func classifyAPIError(subreddit string, err error) error {
	var rerr *reddit.ErrorResponse
	if errors.As(err, &rerr) && rerr.Response != nil {
		return classifyStatus(subreddit, rerr.Response.StatusCode)
	}
	return model.NewFetchFailedError(subreddit, err.Error())
}
