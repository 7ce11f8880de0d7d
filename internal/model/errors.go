package model

import (
	"errors"
	"fmt"
)

// MonitorError は監視処理の統一エラーフォーマットを表す。
// カテゴリによってエンジンとスケジューラの回復戦略が決まる。
type MonitorError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: config, transient, permanent, persistence
}

// Error はerrorインターフェースを実装する。
func (e *MonitorError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeMissingCredentials = "MISSING_CREDENTIALS"
	ErrCodeInvalidWebhookURL  = "INVALID_WEBHOOK_URL"
	ErrCodeSubredditNotFound  = "SUBREDDIT_NOT_FOUND"
	ErrCodeSubredditForbidden = "SUBREDDIT_FORBIDDEN"
	ErrCodeFetchFailed        = "FETCH_FAILED"
	ErrCodeDispatchFailed     = "DISPATCH_FAILED"
	ErrCodeStatePersist       = "STATE_PERSIST_FAILED"
)

// エラーカテゴリ
const (
	// CategoryConfig は起動時に致命的な設定エラー。
	CategoryConfig = "config"
	// CategoryTransient は次サイクルで再試行可能な一時エラー。
	CategoryTransient = "transient"
	// CategoryPermanent は再起動まで購読を無効化すべき恒久エラー。
	CategoryPermanent = "permanent"
	// CategoryPersistence はウォーターマーク永続化の失敗。
	// 次サイクルで同一アイテムが再処理されうるが、at-least-once配信
	// の契約上は安全（重複配信が許容コスト）。
	CategoryPersistence = "persistence"
)

// NewMissingCredentialsError はReddit API認証情報の不足エラーを生成する。
func NewMissingCredentialsError(vars []string) *MonitorError {
	return &MonitorError{
		Code:     ErrCodeMissingCredentials,
		Message:  fmt.Sprintf("Reddit APIの認証情報が設定されていません: %v", vars),
		Category: CategoryConfig,
	}
}

// NewInvalidWebhookURLError は不正なwebhook URLエラーを生成する。
func NewInvalidWebhookURLError(subreddit, reason string) *MonitorError {
	return &MonitorError{
		Code:     ErrCodeInvalidWebhookURL,
		Message:  fmt.Sprintf("r/%s のwebhook URLが不正です: %s", subreddit, reason),
		Category: CategoryConfig,
	}
}

// NewSubredditNotFoundError はsubreddit未検出エラーを生成する。
func NewSubredditNotFoundError(subreddit string) *MonitorError {
	return &MonitorError{
		Code:     ErrCodeSubredditNotFound,
		Message:  fmt.Sprintf("subredditが見つかりません: r/%s", subreddit),
		Category: CategoryPermanent,
	}
}

// NewSubredditForbiddenError はsubredditアクセス拒否エラーを生成する。
func NewSubredditForbiddenError(subreddit string) *MonitorError {
	return &MonitorError{
		Code:     ErrCodeSubredditForbidden,
		Message:  fmt.Sprintf("subredditへのアクセスが拒否されました: r/%s", subreddit),
		Category: CategoryPermanent,
	}
}

// NewFetchFailedError は一時的なフェッチ失敗エラーを生成する。
func NewFetchFailedError(subreddit, reason string) *MonitorError {
	return &MonitorError{
		Code:     ErrCodeFetchFailed,
		Message:  fmt.Sprintf("r/%s の取得に失敗しました: %s", subreddit, reason),
		Category: CategoryTransient,
	}
}

// NewDispatchFailedError は配信失敗エラーを生成する。
func NewDispatchFailedError(reason string) *MonitorError {
	return &MonitorError{
		Code:     ErrCodeDispatchFailed,
		Message:  fmt.Sprintf("Discordへの配信に失敗しました: %s", reason),
		Category: CategoryTransient,
	}
}

// NewStatePersistError はウォーターマーク永続化失敗エラーを生成する。
// 「前回状態なし」とは区別される明示的な書き込み失敗。
func NewStatePersistError(reason string) *MonitorError {
	return &MonitorError{
		Code:     ErrCodeStatePersist,
		Message:  fmt.Sprintf("ウォーターマークの永続化に失敗しました: %s", reason),
		Category: CategoryPersistence,
	}
}

// IsPermanent はエラーが恒久エラー（購読無効化が必要）かを判定する。
func IsPermanent(err error) bool {
	return categoryOf(err) == CategoryPermanent
}

// IsTransient はエラーが一時エラー（次サイクルで再試行）かを判定する。
func IsTransient(err error) bool {
	return categoryOf(err) == CategoryTransient
}

// IsPersistence はエラーがウォーターマーク永続化の失敗かを判定する。
func IsPersistence(err error) bool {
	return categoryOf(err) == CategoryPersistence
}

func categoryOf(err error) string {
	var merr *MonitorError
	if errors.As(err, &merr) {
		return merr.Category
	}
	return ""
}
