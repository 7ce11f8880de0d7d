// Package config はアプリケーション設定の読み込みを提供する。
// 環境変数（.env対応）とJSON設定ファイル（subreddits.json / keywords.json）
// の2系統を扱う。
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

const (
	// minCheckInterval はポーリング間隔の下限。
	// これ未満の設定はレート制限ループを招くため、警告付きでクランプする。
	minCheckInterval = 60 * time.Second
	// defaultCheckInterval はポーリング間隔のデフォルト（300秒）。
	defaultCheckInterval = 300 * time.Second
)

// ソースモード
const (
	// SourceModeAPI はReddit OAuth APIクライアントを使用する。
	SourceModeAPI = "api"
	// SourceModePublic は公開JSONリスティング（new.json）を使用する。
	SourceModePublic = "public"
	// SourceModeFeed はRSSリスティング（new/.rss）を使用する。投稿のみ。
	SourceModeFeed = "feed"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Reddit
	RedditClientID     string
	RedditClientSecret string
	RedditUserAgent    string
	SourceMode         string

	// Polling
	CheckInterval time.Duration
	MaxConcurrent int

	// Timeouts
	FetchTimeout    time.Duration
	DispatchTimeout time.Duration

	// Files
	SubredditsFile string
	KeywordsFile   string
	StateFile      string

	// Server
	ServerPort string
}

// Load は環境変数からConfigを読み込む。
// カレントディレクトリに.envがあれば先に読み込む（未存在は無視）。
// apiモードで必須環境変数が未設定の場合はエラーを返す。
func Load() (*Config, error) {
	// .envは任意。存在しない場合のエラーは無視する
	_ = godotenv.Load()

	cfg := &Config{}

	cfg.SourceMode = getEnvString("SOURCE_MODE", SourceModeAPI)
	switch cfg.SourceMode {
	case SourceModeAPI, SourceModePublic, SourceModeFeed:
	default:
		return nil, fmt.Errorf("unknown SOURCE_MODE: %s (use %q, %q or %q)",
			cfg.SourceMode, SourceModeAPI, SourceModePublic, SourceModeFeed)
	}

	cfg.RedditClientID = os.Getenv("REDDIT_CLIENT_ID")
	cfg.RedditClientSecret = os.Getenv("REDDIT_CLIENT_SECRET")
	cfg.RedditUserAgent = getEnvString("REDDIT_USER_AGENT", "subwatch/1.0 (Reddit monitor)")

	// OAuth認証情報はapiモードでのみ必須
	if cfg.SourceMode == SourceModeAPI {
		var missing []string
		if cfg.RedditClientID == "" {
			missing = append(missing, "REDDIT_CLIENT_ID")
		}
		if cfg.RedditClientSecret == "" {
			missing = append(missing, "REDDIT_CLIENT_SECRET")
		}
		if len(missing) > 0 {
			return nil, fmt.Errorf("required environment variables are not set: %v", missing)
		}
	}

	cfg.CheckInterval = loadCheckInterval()
	cfg.MaxConcurrent = getEnvInt("MAX_CONCURRENT", 4)
	cfg.FetchTimeout = getEnvDuration("FETCH_TIMEOUT", 10*time.Second)
	cfg.DispatchTimeout = getEnvDuration("DISPATCH_TIMEOUT", 10*time.Second)
	cfg.SubredditsFile = getEnvString("SUBREDDITS_FILE", "subreddits.json")
	cfg.KeywordsFile = getEnvString("KEYWORDS_FILE", "keywords.json")
	cfg.StateFile = getEnvString("STATE_FILE", "last_check.json")
	cfg.ServerPort = getEnvString("SERVER_PORT", "8080")

	return cfg, nil
}

// loadCheckInterval はCHECK_INTERVAL（秒単位）を読み込む。
// 下限未満の値は警告を出して下限にクランプする。黙って受理しない。
func loadCheckInterval() time.Duration {
	seconds := getEnvInt("CHECK_INTERVAL", int(defaultCheckInterval/time.Second))
	interval := time.Duration(seconds) * time.Second
	if interval < minCheckInterval {
		slog.Warn("CHECK_INTERVAL is below the safe minimum, clamping",
			slog.Int("requested_seconds", seconds),
			slog.Int("minimum_seconds", int(minCheckInterval/time.Second)),
		)
		return minCheckInterval
	}
	return interval
}

func getEnvString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}
