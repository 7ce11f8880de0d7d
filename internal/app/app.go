// Package app はアプリケーションのエントリーポイントと依存関係の
// ワイヤリングを提供する。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/hitoshi/subwatch/internal/config"
	"github.com/hitoshi/subwatch/internal/discord"
	"github.com/hitoshi/subwatch/internal/engine"
	"github.com/hitoshi/subwatch/internal/logger"
	"github.com/hitoshi/subwatch/internal/metrics"
	"github.com/hitoshi/subwatch/internal/model"
	"github.com/hitoshi/subwatch/internal/security"
	"github.com/hitoshi/subwatch/internal/server"
	"github.com/hitoshi/subwatch/internal/source"
	"github.com/hitoshi/subwatch/internal/state"
	"github.com/hitoshi/subwatch/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップし、環境変数からConfigを読み込む。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return cfg, nil
}

// Run はアプリケーションのメインエントリーポイント。
// コマンドライン引数からサブコマンドを解析し、対応するモードで起動する。
// argsにはos.Args[1:]を渡す。
func Run(w io.Writer, args []string) error {
	cmd := ParseCommand(args)

	// healthcheck は軽量サブコマンドのため、フル初期化をスキップする
	if cmd == CommandHealthcheck {
		port := os.Getenv("SERVER_PORT")
		if port == "" {
			port = "8080"
		}
		return runHealthcheck(port)
	}

	cfg, err := Init(w)
	if err != nil {
		return fmt.Errorf("initialization failed: %w", err)
	}

	slog.Info("starting application",
		slog.String("command", string(cmd)),
		slog.String("source_mode", cfg.SourceMode),
		slog.Duration("check_interval", cfg.CheckInterval),
	)

	switch cmd {
	case CommandReset:
		target := ""
		if len(args) > 1 {
			target = args[1]
		}
		return runReset(cfg, target)
	default:
		return runWatch(cfg)
	}
}

// runWatch は監視デーモンモードで起動する。
// 全依存関係をワイヤリングし、スケジューラと運用系HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runWatch(cfg *config.Config) error {
	// 1. 購読とキーワード設定の読み込み
	subs, err := config.LoadSubscriptions(cfg.SubredditsFile)
	if err != nil {
		return fmt.Errorf("failed to load subscriptions: %w", err)
	}
	if len(subs) == 0 {
		return fmt.Errorf("no enabled subscriptions in %s", cfg.SubredditsFile)
	}

	keywords := config.LoadKeywords(cfg.KeywordsFile)
	if keywords.Enabled() {
		slog.Info("keyword monitoring enabled",
			slog.String("keywords", strings.Join(keywords.Keywords, ", ")),
		)
	} else {
		slog.Info("keyword monitoring disabled (no keywords configured)")
	}

	// 2. セキュリティサービスの初期化とwebhook URLの検証
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewContentSanitizer()

	subs = validateWebhooks(subs, ssrfGuard)
	if len(subs) == 0 {
		return fmt.Errorf("no subscriptions with valid webhook URLs")
	}

	// 3. ウォーターマークストアの初期化
	store, err := state.NewFileStore(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}

	// 4. ソースアダプタの初期化
	src, err := source.New(cfg, ssrfGuard, sanitizer)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}

	// 5. 起動時接続テスト: 到達できないsubredditの購読を除外する
	subs = probeSubscriptions(src, subs, cfg.FetchTimeout)
	if len(subs) == 0 {
		return fmt.Errorf("no reachable subreddits")
	}

	// 6. 配信クライアントの初期化
	dispatcher := discord.NewClient(ssrfGuard.NewSafeClient(cfg.DispatchTimeout), slog.Default())

	// 7. メトリクスの初期化
	registry := prometheus.NewRegistry()
	collector := metrics.NewCollector(registry)

	// 8. エンジンとスケジューラの初期化
	eng := engine.NewEngine(store, src, dispatcher, keywords, collector, slog.Default())
	scheduler := worker.NewScheduler(subs, eng, collector, slog.Default(), cfg.MaxConcurrent)

	// 9. 運用系HTTPサーバーの起動
	router := server.NewRouter(&server.RouterDeps{
		Reporter: scheduler,
		Gatherer: registry,
		Logger:   slog.Default(),
	})
	httpServer := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("observability server starting",
			slog.String("addr", httpServer.Addr),
		)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	// グレースフルシャットダウンのためのシグナルハンドリング
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down...")
		cancel()
	}()

	slog.Info("monitor starting",
		slog.Int("subscriptions", len(subs)),
		slog.Duration("check_interval", cfg.CheckInterval),
	)

	// スケジューラをメインgoroutineで実行（ブロッキング）
	scheduler.Start(ctx, cfg.CheckInterval)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("monitor stopped gracefully")
	return nil
}

// validateWebhooks はwebhook URLが不正な購読を除外する。
// 不正なエントリは警告を出して除外し、他の購読の処理を継続する。
func validateWebhooks(subs []*model.Subscription, guard security.SSRFGuardService) []*model.Subscription {
	var valid []*model.Subscription
	for _, sub := range subs {
		if err := guard.ValidateURL(sub.WebhookURL); err != nil {
			slog.Warn("invalid webhook URL, excluding subscription",
				slog.String("subreddit", sub.Subreddit),
				slog.String("error", err.Error()),
			)
			continue
		}
		if sub.KeywordWebhookURL != "" {
			if err := guard.ValidateURL(sub.KeywordWebhookURL); err != nil {
				slog.Warn("invalid keyword webhook URL, excluding subscription",
					slog.String("subreddit", sub.Subreddit),
					slog.String("error", err.Error()),
				)
				continue
			}
		}
		valid = append(valid, sub)
	}
	return valid
}

// probeSubscriptions は起動時の接続テストを行い、恒久エラー
// （subreddit未検出・アクセス拒否）の購読を除外する。
// 一時エラーは警告のみで購読は維持し、スケジューラに再試行させる。
func probeSubscriptions(src source.Source, subs []*model.Subscription, timeout time.Duration) []*model.Subscription {
	var reachable []*model.Subscription
	for _, sub := range subs {
		ctx, cancel := context.WithTimeout(context.Background(), timeout*2)
		err := src.Probe(ctx, sub.Subreddit)
		cancel()

		if err != nil {
			if model.IsPermanent(err) {
				slog.Warn("subreddit unreachable, excluding subscription",
					slog.String("subreddit", sub.Subreddit),
					slog.String("error", err.Error()),
				)
				continue
			}
			slog.Warn("connection test failed, will retry on schedule",
				slog.String("subreddit", sub.Subreddit),
				slog.String("error", err.Error()),
			)
		} else {
			slog.Info("configured subscription",
				slog.String("subreddit", sub.Subreddit),
				slog.Bool("monitor_posts", sub.MonitorPosts),
				slog.Bool("monitor_keywords", sub.MonitorKeywords),
			)
		}
		reachable = append(reachable, sub)
	}
	return reachable
}

// runReset はウォーターマークのリセットを実行する。
// targetが空の場合は全subredditの状態を削除する。
func runReset(cfg *config.Config, target string) error {
	store, err := state.NewFileStore(cfg.StateFile)
	if err != nil {
		return fmt.Errorf("failed to open state file: %w", err)
	}

	if target == "" {
		if err := store.ResetAll(); err != nil {
			return fmt.Errorf("reset failed: %w", err)
		}
		slog.Info("all watermarks reset", slog.String("state_file", cfg.StateFile))
		return nil
	}

	if err := store.Reset(target); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}
	slog.Info("watermarks reset", slog.String("subreddit", target))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	url := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}
