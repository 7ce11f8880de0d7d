// Package discord はDiscord webhookへのメッセージ配信を提供する。
// 投稿・キーワードマッチの埋め込み（embed)の組み立てと、
// webhookごとに直列化されたレート制限対応の送信クライアントを含む。
package discord

import (
	"fmt"
	"strings"

	"github.com/hitoshi/subwatch/internal/model"
)

// 埋め込みカラー
const (
	// colorDefault は通常投稿のカラー（Redditオレンジ）。
	colorDefault = 16729344
	// colorNSFW はNSFW投稿のカラー（赤）。
	colorNSFW = 16711680
	// colorSpoiler はスポイラー投稿のカラー（グレー）。
	colorSpoiler = 8421504
	// colorKeyword はキーワードマッチのカラー（オレンジ）。
	colorKeyword = 16753920
)

// Discordの埋め込み制限
const (
	maxTitleLen = 256
	// maxKeywordTitleLen は絵文字プレフィックスの分を差し引いたタイトル上限。
	maxKeywordTitleLen = 230
	maxBodyLen         = 300
)

// Payload はwebhookへPOSTするメッセージ本体。
type Payload struct {
	Embeds []Embed `json:"embeds"`
}

// Embed はDiscordのリッチ埋め込みを表す。
type Embed struct {
	Title       string  `json:"title,omitempty"`
	Description string  `json:"description,omitempty"`
	Color       int     `json:"color,omitempty"`
	URL         string  `json:"url,omitempty"`
	Fields      []Field `json:"fields,omitempty"`
	Footer      *Footer `json:"footer,omitempty"`
}

// Field は埋め込み内のフィールドを表す。
type Field struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

// Footer は埋め込みのフッターを表す。
type Footer struct {
	Text string `json:"text"`
}

// NewPostMessage は投稿アイテムから通常配信用のメッセージを組み立てる。
// カラーはNSFW（赤）> スポイラー（グレー）> 通常（オレンジ）の優先順。
func NewPostMessage(item *model.Item) Payload {
	color := colorDefault
	if item.IsNSFW {
		color = colorNSFW
	} else if item.IsSpoiler {
		color = colorSpoiler
	}

	embed := Embed{
		Title:       truncate(item.Title, maxTitleLen, false),
		Description: postDescription(item),
		Color:       color,
		URL:         item.Permalink,
		Fields: []Field{
			{Name: "Author", Value: "u/" + item.Author, Inline: true},
			{Name: "Score", Value: fmt.Sprintf("⬆️ %d", item.Score), Inline: true},
			{Name: "Comments", Value: fmt.Sprintf("💬 %d", item.NumComments), Inline: true},
		},
		Footer: &Footer{Text: "r/" + item.Subreddit},
	}

	if item.Flair != "" {
		embed.Fields = append(embed.Fields, Field{Name: "Flair", Value: item.Flair, Inline: true})
	}

	var warnings []string
	if item.IsNSFW {
		warnings = append(warnings, "NSFW")
	}
	if item.IsSpoiler {
		warnings = append(warnings, "Spoiler")
	}
	if len(warnings) > 0 {
		embed.Fields = append(embed.Fields, Field{
			Name:  "⚠️ Warnings",
			Value: strings.Join(warnings, " | "),
		})
	}

	return Payload{Embeds: []Embed{embed}}
}

// NewKeywordMessage はキーワードマッチから通知用のメッセージを組み立てる。
// 投稿とコメントで形式が異なる: コメントは親投稿へのリンクを含み、
// 投稿は一致フィールド（title/body）の一覧を含む。
func NewKeywordMessage(match *model.MatchResult) Payload {
	item := match.Item

	keywords := make([]string, len(match.Keywords))
	for i, kw := range match.Keywords {
		keywords[i] = "`" + kw + "`"
	}
	keywordsField := Field{Name: "Matched Keywords", Value: strings.Join(keywords, ", ")}

	if item.Kind == model.KindComment {
		postLink := item.PostTitle
		if postLink == "" {
			postLink = "Unknown Post"
		}
		if item.PostURL != "" {
			postLink = fmt.Sprintf("[%s](%s)", postLink, item.PostURL)
		}

		embed := Embed{
			Title:       fmt.Sprintf("🔍 Keyword Match: Comment in r/%s", item.Subreddit),
			Description: truncate(item.Body, maxBodyLen, true),
			Color:       colorKeyword,
			URL:         item.Permalink,
			Fields: []Field{
				keywordsField,
				{Name: "Post", Value: postLink},
				{Name: "Author", Value: "u/" + item.Author, Inline: true},
				{Name: "Score", Value: fmt.Sprintf("⬆️ %d", item.Score), Inline: true},
			},
			Footer: &Footer{Text: fmt.Sprintf("r/%s • Comment", item.Subreddit)},
		}
		return Payload{Embeds: []Embed{embed}}
	}

	fields := make([]string, len(match.Fields))
	for i, f := range match.Fields {
		fields[i] = string(f)
	}

	embed := Embed{
		Title:       "🔍 " + truncate(item.Title, maxKeywordTitleLen, false),
		Description: postDescription(item),
		Color:       colorKeyword,
		URL:         item.Permalink,
		Fields: []Field{
			keywordsField,
			{Name: "Location", Value: strings.Join(fields, ", ")},
			{Name: "Author", Value: "u/" + item.Author, Inline: true},
			{Name: "Score", Value: fmt.Sprintf("⬆️ %d", item.Score), Inline: true},
			{Name: "Comments", Value: fmt.Sprintf("💬 %d", item.NumComments), Inline: true},
		},
		Footer: &Footer{Text: fmt.Sprintf("r/%s • Post", item.Subreddit)},
	}

	if item.Flair != "" {
		// Flairは Matched Keywords の直後に挿入する
		fields := make([]Field, 0, len(embed.Fields)+1)
		fields = append(fields, embed.Fields[0])
		fields = append(fields, Field{Name: "Flair", Value: item.Flair, Inline: true})
		fields = append(fields, embed.Fields[1:]...)
		embed.Fields = fields
	}

	return Payload{Embeds: []Embed{embed}}
}

// postDescription は投稿の説明文を組み立てる。
// 本文があれば切り詰めて使用し、リンク投稿はリンクを、
// どちらもない場合はプレースホルダを返す。
func postDescription(item *model.Item) string {
	if item.Body != "" {
		return truncate(item.Body, maxBodyLen, true)
	}
	if !item.IsSelf && item.URL != "" {
		return fmt.Sprintf("[Link Post](%s)", item.URL)
	}
	return "_No text content_"
}

// truncate は文字列をmax文字（rune単位）に切り詰める。
// ellipsisが有効な場合は末尾3文字を "..." に置き換える。
func truncate(s string, max int, ellipsis bool) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if ellipsis {
		return string(runes[:max-3]) + "..."
	}
	return string(runes[:max])
}
