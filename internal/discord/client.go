package discord

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"
)

// defaultRetryAfter はDiscordがretry_afterを返さなかった場合の待機時間。
const defaultRetryAfter = 5 * time.Second

// Status は配信結果の分類を表す。
type Status int

const (
	// StatusDelivered は配信成功。
	StatusDelivered Status = iota
	// StatusRateLimited はレート制限（RetryAfter経過後に再試行可能）。
	StatusRateLimited
	// StatusFailed は配信失敗（次サイクルで再試行）。
	StatusFailed
)

// Result は1回の送信の結果を表す。
type Result struct {
	Status     Status
	RetryAfter time.Duration // StatusRateLimitedの場合のみ有効
	Reason     string        // StatusFailedの場合のみ有効
}

// DispatchService はwebhook配信のインターフェース。
// エンジンから利用する外部コラボレータ境界。並行利用に安全であること。
type DispatchService interface {
	// Send はメッセージを指定webhookへ配信する。
	// 同一webhookへの送信は同時1リクエストに直列化される。
	// レート制限中のwebhookへの送信は解除時刻まで待機してから行われる。
	Send(ctx context.Context, webhookURL string, payload Payload) Result
}

// Client はDispatchServiceの実装。
// webhookごとのミューテックスで送信を直列化し、429応答の
// retry_afterをwebhookごとの送信解禁時刻として記録する。
type Client struct {
	httpClient *http.Client
	logger     *slog.Logger

	mu        sync.Mutex
	locks     map[string]*sync.Mutex
	notBefore map[string]time.Time
}

// NewClient はClientの新しいインスタンスを生成する。
func NewClient(httpClient *http.Client, logger *slog.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		logger:     logger,
		locks:      make(map[string]*sync.Mutex),
		notBefore:  make(map[string]time.Time),
	}
}

// Send はメッセージを指定webhookへ配信する。
func (c *Client) Send(ctx context.Context, webhookURL string, payload Payload) Result {
	// webhook単位で直列化: 同時in-flightは最大1
	lock := c.lockFor(webhookURL)
	lock.Lock()
	defer lock.Unlock()

	// 前回の429で記録された解禁時刻まで待機する
	if err := c.waitUntilAllowed(ctx, webhookURL); err != nil {
		return Result{Status: StatusFailed, Reason: err.Error()}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return Result{Status: StatusFailed, Reason: fmt.Sprintf("marshal failed: %v", err)}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, webhookURL, bytes.NewReader(body))
	if err != nil {
		return Result{Status: StatusFailed, Reason: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return Result{Status: StatusFailed, Reason: err.Error()}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return Result{Status: StatusDelivered}

	case resp.StatusCode == http.StatusTooManyRequests:
		retryAfter := parseRetryAfter(resp)
		c.setNotBefore(webhookURL, time.Now().Add(retryAfter))
		c.logger.Warn("Discord webhookがレート制限を返しました",
			slog.Duration("retry_after", retryAfter),
		)
		return Result{Status: StatusRateLimited, RetryAfter: retryAfter}

	default:
		return Result{
			Status: StatusFailed,
			Reason: fmt.Sprintf("webhook returned status %d", resp.StatusCode),
		}
	}
}

// lockFor はwebhook URLに対応するミューテックスを返す（なければ作成）。
func (c *Client) lockFor(webhookURL string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()

	lock, ok := c.locks[webhookURL]
	if !ok {
		lock = &sync.Mutex{}
		c.locks[webhookURL] = lock
	}
	return lock
}

// waitUntilAllowed はwebhookの送信解禁時刻まで待機する。
// コンテキストのキャンセルで中断できる。
func (c *Client) waitUntilAllowed(ctx context.Context, webhookURL string) error {
	c.mu.Lock()
	until := c.notBefore[webhookURL]
	c.mu.Unlock()

	wait := time.Until(until)
	if wait <= 0 {
		return nil
	}

	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// setNotBefore はwebhookの送信解禁時刻を記録する。
func (c *Client) setNotBefore(webhookURL string, t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notBefore[webhookURL] = t
}

// parseRetryAfter は429応答から待機時間を取り出す。
// Retry-Afterヘッダ（秒、小数可）を優先し、なければJSONボディの
// retry_afterを読む。どちらも無い場合はデフォルト値を返す。
func parseRetryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.ParseFloat(v, 64); err == nil && secs > 0 {
			return time.Duration(secs * float64(time.Second))
		}
	}

	var body struct {
		RetryAfter float64 `json:"retry_after"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.RetryAfter > 0 {
		return time.Duration(body.RetryAfter * float64(time.Second))
	}

	return defaultRetryAfter
}
