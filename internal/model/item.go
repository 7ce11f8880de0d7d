// Package model はドメインモデルを定義する。
package model

import "time"

// ItemKind は監視対象アイテムの種別を表す。
type ItemKind string

const (
	// KindPost はsubredditへの投稿を示す。
	KindPost ItemKind = "post"
	// KindComment はsubreddit内のコメントを示す。
	KindComment ItemKind = "comment"
)

// Item はsubredditから取得した投稿またはコメントを表す。
// IDはsubredditのコンテンツ空間内で一意であり、作成順に単調増加する。
type Item struct {
	ID        string
	Kind      ItemKind
	Subreddit string
	CreatedAt time.Time

	// 投稿のみ
	Title       string
	URL         string // リンク投稿のリンク先URL
	Flair       string
	NumComments int
	IsSelf      bool
	IsNSFW      bool
	IsSpoiler   bool
	Stickied    bool

	// 共通
	Body      string
	Author    string
	Score     int
	Permalink string

	// コメントのみ: 親投稿の情報
	PostTitle string
	PostURL   string
}

// Before はアイテムの配信順序を定義する。
// 作成日時の昇順、同時刻の場合はIDの昇順で順序付けする。
// 再起動をまたいでも決定的な配信順序を保証するためのタイブレーク。
func (i *Item) Before(other *Item) bool {
	if !i.CreatedAt.Equal(other.CreatedAt) {
		return i.CreatedAt.Before(other.CreatedAt)
	}
	return i.ID < other.ID
}

// Watermark はsubredditごとの処理済み最新位置を表す。
// last_check.jsonに永続化され、単調に進むのみで巻き戻らない
// （明示的なresetを除く）。
type Watermark struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_utc"`
}

// Covers はアイテムがこのウォーターマーク以前（処理済み）かを判定する。
// Item.Beforeと同じ順序定義（作成日時、同時刻はID昇順）に従う。
func (w *Watermark) Covers(item *Item) bool {
	ts := item.CreatedAt.Unix()
	if ts != w.CreatedAt {
		return ts < w.CreatedAt
	}
	return item.ID <= w.ID
}

// WatermarkOf はアイテムからウォーターマークを生成する。
func WatermarkOf(item *Item) Watermark {
	return Watermark{ID: item.ID, CreatedAt: item.CreatedAt.Unix()}
}

// MatchField はキーワードが一致したフィールドを表す。
type MatchField string

const (
	// MatchFieldTitle は投稿タイトルでの一致を示す。
	MatchFieldTitle MatchField = "title"
	// MatchFieldBody は投稿本文での一致を示す。
	MatchFieldBody MatchField = "body"
	// MatchFieldComment はコメント本文での一致を示す。
	MatchFieldComment MatchField = "comment"
)

// MatchResult はキーワードマッチの結果を表す。
// 一致したキーワードの集合と、一致が発生したフィールドを保持する。
type MatchResult struct {
	Item     *Item
	Keywords []string
	Fields   []MatchField
}
