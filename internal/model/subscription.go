package model

// Subscription はsubredditとDiscord webhookの監視関係を表す。
// subreddits.jsonから起動時に1回読み込み、実行中はイミュータブルとして扱う。
// 識別子はsubreddit名（アクティブな設定内で一意）。
type Subscription struct {
	Subreddit         string `json:"subreddit"`
	WebhookURL        string `json:"webhook_url"`
	KeywordWebhookURL string `json:"keyword_webhook_url"`
	Enabled           bool   `json:"enabled"`
	MonitorPosts      bool   `json:"monitor_posts"`
	MonitorKeywords   bool   `json:"monitor_keywords"`
}

// KeywordTarget はキーワードマッチの配信先webhook URLを返す。
// keyword_webhook_urlが未設定の場合はwebhook_urlにフォールバックする。
func (s *Subscription) KeywordTarget() string {
	if s.KeywordWebhookURL != "" {
		return s.KeywordWebhookURL
	}
	return s.WebhookURL
}

// KeywordConfig はキーワード監視のグローバル設定を表す。
// keywords.jsonから起動時に1回読み込み、monitor_keywordsが有効な
// 全購読で共有される。
type KeywordConfig struct {
	Keywords       []string `json:"keywords"`
	CaseSensitive  bool     `json:"case_sensitive"`
	SearchPosts    bool     `json:"search_posts"`
	SearchComments bool     `json:"search_comments"`
}

// Enabled はキーワード監視が有効（キーワードが1件以上）かを返す。
func (k *KeywordConfig) Enabled() bool {
	return len(k.Keywords) > 0
}
