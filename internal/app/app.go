// Package app はアプリケーションの起動とワイヤリングを行う。
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/coindeck/internal/cache"
	"github.com/hitoshi/coindeck/internal/config"
	"github.com/hitoshi/coindeck/internal/feed"
	"github.com/hitoshi/coindeck/internal/handler"
	"github.com/hitoshi/coindeck/internal/logger"
	"github.com/hitoshi/coindeck/internal/media"
	"github.com/hitoshi/coindeck/internal/metrics"
	"github.com/hitoshi/coindeck/internal/middleware"
	"github.com/hitoshi/coindeck/internal/security"
	"github.com/hitoshi/coindeck/internal/upstream"
	"github.com/hitoshi/coindeck/internal/worker/refresh"
)

const (
	// metadataMaxSize はトークンメタデータ取得の最大レスポンスサイズ（1MB）。
	metadataMaxSize = 1 << 20
	// artistFetchTimeout はアーティストページの対話的リクエスト用の短いタイムアウト。
	artistFetchTimeout = 5 * time.Second
)

// Init はアプリケーションの初期化を行う。
// 環境変数からConfigを読み込み、JSON構造化ログをセットアップする。
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
		slog.String("port", cfg.ServerPort),
		slog.Int("profiles", len(cfg.Profiles)),
	)

	switch cmd {
	case CommandServe:
		return runServe(cfg)
	case CommandWorker:
		return runWorker(cfg)
	case CommandBuild:
		return runBuild(cfg)
	default:
		return runServe(cfg)
	}
}

// services はワイヤリング済みのドメインサービス一式。
type services struct {
	store    *cache.Store
	builder  *cache.Builder
	hybrid   *cache.HybridService
	artist   *feed.ArtistService
	registry *prometheus.Registry
}

// buildServices は全ドメインサービスをワイヤリングする。
// collectMetricsがfalseの場合はPrometheusレジストリを作らずNop計測を使う
// （バッチコマンドはスクレイプされないため）。
func buildServices(cfg *config.Config, collectMetrics bool) *services {
	log := slog.Default()

	var registry *prometheus.Registry
	var mc metrics.MetricsCollector = metrics.NopCollector{}
	if collectMetrics {
		registry = prometheus.NewRegistry()
		mc = metrics.NewCollector(registry)
	}

	// セキュリティサービス
	ssrfGuard := security.NewSSRFGuard()
	sanitizer := security.NewTextSanitizer()

	// アップストリームクライアント
	upstreamClient := upstream.NewClient(
		&http.Client{Timeout: cfg.FetchTimeout},
		log, cfg.UpstreamRate, mc,
	)
	upstreamClient.SetEndpoint(cfg.UpstreamEndpoint)

	// メディアリゾルバ（メタデータ取得はSSRFガード付きクライアント経由）
	metadataClient := ssrfGuard.NewSafeClient(cfg.MetadataTimeout, metadataMaxSize)
	resolver := media.NewResolver(metadataClient, ssrfGuard, log)
	mapper := feed.NewMapper(resolver, sanitizer)

	// バッチ収集系（リトライあり）
	batchFetcher := upstream.NewFetcher(upstreamClient, log, upstream.DefaultRetryPolicy(), cfg.FetchTimeout)
	batchCollector := feed.NewCollector(batchFetcher, mapper, log)

	// ライブ収集系（リトライなし。失敗耐性は収集側の連続失敗カウントで持つ）
	liveFetcher := upstream.NewFetcher(upstreamClient, log, upstream.SingleAttemptPolicy(), cfg.FetchTimeout)
	liveCollector := feed.NewCollector(liveFetcher, mapper, log)
	liveFeed := feed.NewLiveFeed(liveCollector, cfg.Profiles, cfg.CachePageSize, cfg.CacheConcurrency, cfg.LiveMaxItems, log)

	// スナップショット系
	store := cache.NewStore(cfg.CacheFilePath, log)
	builder := cache.NewBuilder(store, batchCollector, cfg, mc, log)
	hybrid := cache.NewHybridService(store, liveFeed, cfg.LiveTTL, cfg.LiveTimeout, mc, log)

	// アーティストページ系（対話的リクエストのためリトライなし・短いタイムアウト）
	artistFetcher := upstream.NewFetcher(upstreamClient, log, upstream.SingleAttemptPolicy(), artistFetchTimeout)
	artist := feed.NewArtistService(artistFetcher, mapper, log)

	return &services{
		store:    store,
		builder:  builder,
		hybrid:   hybrid,
		artist:   artist,
		registry: registry,
	}
}

// progressSink は設定に応じて進捗ファイルライターを返す。無効時はnil。
func progressSink(cfg *config.Config) feed.ProgressSink {
	if !cfg.WriteProgress {
		return nil
	}
	return cache.NewProgressWriter(cfg.ProgressFilePath, slog.Default())
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、HTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(cfg *config.Config) error {
	svcs := buildServices(cfg, true)

	rateLimiter := middleware.NewRateLimiter(middleware.NewRateLimiterConfig(cfg.RateLimitGeneral))
	defer rateLimiter.Stop()

	deps := &handler.RouterDeps{
		Logger:            slog.Default(),
		CORSAllowedOrigin: cfg.CORSAllowedOrigin,
		RateLimiter:       rateLimiter,

		HomeService:   svcs.hybrid,
		ArtistService: svcs.artist,

		Gatherer: svcs.registry,
	}

	router := handler.NewRouter(deps)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// グレースフルシャットダウンのためのシグナルハンドリング
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("API server starting",
			slog.String("addr", server.Addr),
		)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server listen error", slog.String("error", err.Error()))
		}
	}()

	<-stop
	slog.Info("shutting down API server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker は定期リビルドワーカーモードで起動する。
// スナップショットを一定間隔でリビルドし続ける。
// SIGINTまたはSIGTERMシグナルを受信するとシャットダウンする。
func runWorker(cfg *config.Config) error {
	svcs := buildServices(cfg, false)

	worker := refresh.NewWorker(svcs.builder, cfg.CacheMode, cfg.RefreshInterval, progressSink(cfg), slog.Default())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-stop
		slog.Info("shutting down worker...")
		cancel()
	}()

	worker.Start(ctx)

	slog.Info("worker stopped gracefully")
	return nil
}

// runBuild はスナップショットを1回ビルドして終了する。
// cronやCIからの定期実行を想定したバッチサブコマンド。
func runBuild(cfg *config.Config) error {
	svcs := buildServices(cfg, false)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Info("interrupting snapshot build...")
		cancel()
	}()

	cf, err := svcs.builder.Build(ctx, cfg.CacheMode, progressSink(cfg))
	if err != nil {
		return fmt.Errorf("snapshot build failed: %w", err)
	}

	slog.Info("snapshot build finished",
		slog.String("mode", cf.Mode),
		slog.Int("total", cf.Total),
		slog.String("path", svcs.store.Path()),
	)
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
