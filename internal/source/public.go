package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/hitoshi/subwatch/internal/model"
	"golang.org/x/time/rate"
)

const redditBaseURL = "https://www.reddit.com"

// PublicClient は認証なしの公開JSONリスティングを使用するSource実装。
// /r/<subreddit>/new.json と /r/<subreddit>/comments.json を読む。
// 公開エンドポイントはレート制限が厳しいため1リクエスト/2秒に抑える。
type PublicClient struct {
	httpClient *http.Client
	limiter    *rate.Limiter
	userAgent  string
	baseURL    string // テスト用にエンドポイントを差し替え可能
}

// NewPublicClient はPublicClientの新しいインスタンスを生成する。
// User-AgentはRedditのAPI規約上必須。
func NewPublicClient(httpClient *http.Client, userAgent string) *PublicClient {
	return &PublicClient{
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Every(2*time.Second), 1),
		userAgent:  userAgent,
		baseURL:    redditBaseURL,
	}
}

// listingResponse はRedditリスティングAPIのレスポンス構造。
type listingResponse struct {
	Data struct {
		Children []struct {
			Data childData `json:"data"`
		} `json:"children"`
	} `json:"data"`
}

// childData は投稿・コメント共通のリスティングエントリ。
// コメントの場合はbodyとlink_*が、投稿の場合はtitleとselftextが埋まる。
type childData struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Selftext      string  `json:"selftext"`
	Body          string  `json:"body"`
	URL           string  `json:"url"`
	Permalink     string  `json:"permalink"`
	Author        string  `json:"author"`
	CreatedUTC    float64 `json:"created_utc"`
	Score         int     `json:"score"`
	NumComments   int     `json:"num_comments"`
	IsSelf        bool    `json:"is_self"`
	LinkFlairText string  `json:"link_flair_text"`
	Over18        bool    `json:"over_18"`
	Spoiler       bool    `json:"spoiler"`
	Stickied      bool    `json:"stickied"`
	LinkTitle     string  `json:"link_title"`
	LinkPermalink string  `json:"link_permalink"`
}

// FetchNew は指定ストリームの新着アイテムを新しい順で返す。
func (c *PublicClient) FetchNew(ctx context.Context, subreddit string, kind model.ItemKind, since *model.Watermark) ([]*model.Item, error) {
	listing := "new.json"
	if kind == model.KindComment {
		listing = "comments.json"
	}
	reqURL := fmt.Sprintf("%s/r/%s/%s?limit=%d&raw_json=1", c.baseURL, subreddit, listing, fetchWindow(since))

	resp, err := c.get(ctx, subreddit, reqURL)
	if err != nil {
		return nil, err
	}

	items := make([]*model.Item, 0, len(resp.Data.Children))
	for _, child := range resp.Data.Children {
		item := toItem(subreddit, kind, child.Data)
		// 削除済み著者のコメントはスキップする
		if kind == model.KindComment && (item.Author == "" || item.Author == "[deleted]") {
			continue
		}
		items = append(items, item)
	}

	sortNewestFirst(items)
	return filterSince(items, since), nil
}

// Probe はsubredditのaboutエンドポイントで到達性を確認する。
func (c *PublicClient) Probe(ctx context.Context, subreddit string) error {
	reqURL := fmt.Sprintf("%s/r/%s/about.json", c.baseURL, subreddit)
	_, err := c.get(ctx, subreddit, reqURL)
	return err
}

// get はレートリミッタを通してGETリクエストを実行し、リスティングをデコードする。
func (c *PublicClient) get(ctx context.Context, subreddit, reqURL string) (*listingResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, model.NewFetchFailedError(subreddit, err.Error())
	}
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, model.NewFetchFailedError(subreddit, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatus(subreddit, resp.StatusCode)
	}

	var listing listingResponse
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, model.NewFetchFailedError(subreddit, fmt.Sprintf("decode failed: %v", err))
	}
	return &listing, nil
}

// toItem はリスティングエントリをドメインモデルへ変換する。
func toItem(subreddit string, kind model.ItemKind, d childData) *model.Item {
	item := &model.Item{
		ID:        d.ID,
		Kind:      kind,
		Subreddit: subreddit,
		CreatedAt: time.Unix(int64(d.CreatedUTC), 0).UTC(),
		Author:    d.Author,
		Score:     d.Score,
		Permalink: absPermalink(d.Permalink),
	}

	if kind == model.KindComment {
		item.Body = d.Body
		item.PostTitle = d.LinkTitle
		item.PostURL = absPermalink(d.LinkPermalink)
		return item
	}

	item.Title = d.Title
	item.Body = d.Selftext
	item.URL = d.URL
	item.NumComments = d.NumComments
	item.IsSelf = d.IsSelf
	item.Flair = d.LinkFlairText
	item.IsNSFW = d.Over18
	item.IsSpoiler = d.Spoiler
	item.Stickied = d.Stickied
	if item.Author == "" {
		item.Author = "[deleted]"
	}
	return item
}

// absPermalink は相対permalinkを絶対URLへ変換する。
func absPermalink(permalink string) string {
	if permalink == "" || strings.HasPrefix(permalink, "http") {
		return permalink
	}
	return redditBaseURL + permalink
}
