// Package keyword はキーワードマッチングを提供する。
// 設定済みキーワード集合に対するワード境界マッチを行う純粋関数群で、
// I/Oや可変状態を持たず、同一入力に対して常に同一結果を返す。
package keyword

import (
	"regexp"

	"github.com/hitoshi/subwatch/internal/model"
)

// Matcher はコンパイル済みキーワードパターンの集合を保持する。
// 生成後はイミュータブルで、並行利用に安全。
type Matcher struct {
	cfg      *model.KeywordConfig
	patterns []pattern
}

type pattern struct {
	keyword string
	re      *regexp.Regexp
}

// NewMatcher はKeywordConfigからMatcherを生成する。
// 各キーワードはワード境界（\b）付きの正規表現にコンパイルされる。
// これにより "ant gear" が "antgeared" のような、より大きな
// 英数字トークンの内部にマッチすることを防ぐ。
func NewMatcher(cfg *model.KeywordConfig) *Matcher {
	m := &Matcher{cfg: cfg}
	for _, kw := range cfg.Keywords {
		expr := `\b` + regexp.QuoteMeta(kw) + `\b`
		if !cfg.CaseSensitive {
			expr = `(?i)` + expr
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			// QuoteMeta済みのため通常到達しない
			continue
		}
		m.patterns = append(m.patterns, pattern{keyword: kw, re: re})
	}
	return m
}

// Match はテキストに一致する全キーワードを返す。
// 複数キーワードが一致する場合はすべて返す（最初の一致のみではない）。
// キーワードが空、またはテキストが空の場合は一致なし。
func (m *Matcher) Match(text string) []string {
	if text == "" || len(m.patterns) == 0 {
		return nil
	}

	var matched []string
	for _, p := range m.patterns {
		if p.re.MatchString(text) {
			matched = append(matched, p.keyword)
		}
	}
	return matched
}

// MatchItem はアイテムを設定されたフィールドに対して評価し、
// 一致があればMatchResultを返す。一致なしの場合はnilを返す。
// 投稿はタイトルと本文を、コメントは本文のみを対象とする。
// 同一キーワードが複数フィールドに一致しても重複せず1回だけ返す。
func (m *Matcher) MatchItem(item *model.Item) *model.MatchResult {
	if len(m.patterns) == 0 {
		return nil
	}

	switch item.Kind {
	case model.KindComment:
		if !m.cfg.SearchComments {
			return nil
		}
		matched := m.Match(item.Body)
		if len(matched) == 0 {
			return nil
		}
		return &model.MatchResult{
			Item:     item,
			Keywords: matched,
			Fields:   []model.MatchField{model.MatchFieldComment},
		}

	default:
		if !m.cfg.SearchPosts {
			return nil
		}
		titleMatches := m.Match(item.Title)
		bodyMatches := m.Match(item.Body)
		if len(titleMatches) == 0 && len(bodyMatches) == 0 {
			return nil
		}

		var fields []model.MatchField
		if len(titleMatches) > 0 {
			fields = append(fields, model.MatchFieldTitle)
		}
		if len(bodyMatches) > 0 {
			fields = append(fields, model.MatchFieldBody)
		}

		return &model.MatchResult{
			Item:     item,
			Keywords: dedupe(titleMatches, bodyMatches),
			Fields:   fields,
		}
	}
}

// dedupe は複数のキーワードリストを設定順を保って重複排除する。
func dedupe(lists ...[]string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, list := range lists {
		for _, kw := range list {
			if !seen[kw] {
				seen[kw] = true
				out = append(out, kw)
			}
		}
	}
	return out
}
