// Package security はアプリケーションのセキュリティ機能を提供する。
//
// ContentSanitizerService はHTML形式の本文（RSSソースモードのエントリ等）を
// プレーンテキストへ平坦化する。キーワードマッチングとDiscord埋め込みは
// プレーンテキスト前提のため、タグ・script・イベント属性を除去した上で
// テキストノードのみを抽出する。
package security

import (
	"strings"

	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/net/html"
)

// ContentSanitizerService は本文サニタイズ機能のインターフェースを定義する。
// ソースアダプタがアイテム本文を正規化する際に使用する。
type ContentSanitizerService interface {
	// PlainText はHTMLを含みうる本文をプレーンテキストへ平坦化する。
	// script/style/iframe等の危険な内容はテキスト抽出前に除去される。
	// 連続する空白は1つに畳まれ、前後の空白は取り除かれる。
	// プレーンテキスト入力はそのまま（空白正規化のみで）通過する。
	// 同一入力に対して常に同一出力を返す（冪等）。
	PlainText(raw string) string
}

// contentSanitizer はContentSanitizerServiceの実装。
type contentSanitizer struct {
	policy *bluemonday.Policy
}

// NewContentSanitizer はContentSanitizerServiceの新しいインスタンスを生成する。
// bluemondayのUGCポリシーでscript/styleタグとその内容、on*イベント属性を
// 除去した後、HTMLパーサでテキストノードのみを抽出する2段構成。
func NewContentSanitizer() *contentSanitizer {
	return &contentSanitizer{
		policy: bluemonday.UGCPolicy(),
	}
}

// PlainText はHTMLを含みうる本文をプレーンテキストへ平坦化する。
func (s *contentSanitizer) PlainText(raw string) string {
	if raw == "" {
		return ""
	}

	// 1. サニタイズ: scriptの中身ごと除去する（パーサ単独ではテキスト扱いになる）
	clean := s.policy.Sanitize(raw)

	// 2. テキストノード抽出
	doc, err := html.Parse(strings.NewReader(clean))
	if err != nil {
		// パース不能な入力はサニタイズ結果をそのまま正規化して返す
		return collapseWhitespace(clean)
	}

	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
		// ブロック要素の境界は空白として扱う
		if n.Type == html.ElementNode {
			switch n.Data {
			case "p", "br", "li", "div", "blockquote", "pre":
				b.WriteString(" ")
			}
		}
	}
	walk(doc)

	return collapseWhitespace(b.String())
}

// collapseWhitespace は連続する空白文字を1つのスペースに畳み、前後を取り除く。
func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
