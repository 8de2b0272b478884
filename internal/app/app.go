// Package app はプロセスの起動・依存関係のワイヤリング・サブコマンドの実行を行う。
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/hitoshi/botdash/internal/admin"
	"github.com/hitoshi/botdash/internal/auth"
	"github.com/hitoshi/botdash/internal/bot"
	"github.com/hitoshi/botdash/internal/catalog"
	"github.com/hitoshi/botdash/internal/config"
	"github.com/hitoshi/botdash/internal/database"
	"github.com/hitoshi/botdash/internal/discord"
	"github.com/hitoshi/botdash/internal/handler"
	"github.com/hitoshi/botdash/internal/invocation"
	"github.com/hitoshi/botdash/internal/logger"
	"github.com/hitoshi/botdash/internal/metrics"
	"github.com/hitoshi/botdash/internal/middleware"
	"github.com/hitoshi/botdash/internal/repository"
	"github.com/hitoshi/botdash/internal/security"
	"github.com/hitoshi/botdash/internal/store"
	"github.com/hitoshi/botdash/internal/worker/cleanup"
)

// Init はアプリケーションの初期化を行う。
// JSON構造化ログをセットアップしてから環境変数を読み込み、LOG_LEVELでログレベルを設定し直す。
// writerが指定された場合はログ出力先としてそのwriterを使用する。
func Init(w io.Writer) (*config.Config, error) {
	// 1. ログの初期化（設定読み込み前にログを使えるようにする）
	logger.SetupDefault(w, slog.LevelInfo)

	// 2. 環境変数から設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	logger.SetupDefault(w, logger.ParseLevel(cfg.LogLevel))
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
			port = "3000"
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
		slog.Bool("database", cfg.UseDatabase()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case CommandWorker:
		return runWorker(ctx, cfg)
	case CommandMigrate:
		return runMigrate(cfg)
	default:
		return runServe(ctx, cfg)
	}
}

// Components はHTTPサーバーを構成するワイヤリング済みの依存関係。
type Components struct {
	Handler     http.Handler
	Sessions    repository.SessionRepository
	Store       *store.Store
	RateLimiter *middleware.RateLimiter

	db *sql.DB
}

// Close はBuildで確保したリソースを解放する。
func (c *Components) Close() {
	c.RateLimiter.Stop()
	if c.db != nil {
		c.db.Close()
	}
}

// Build は設定から全依存関係をワイヤリングする。
// DATABASE_URLがあればPostgreSQL、無ければDATA_DIRのJSONファイルとメモリセッションを使う。
// 起動時に管理者リストと手動コマンドリストの既定値を作成する。
func Build(ctx context.Context, cfg *config.Config) (*Components, error) {
	c := &Components{}

	// 1. ストレージ
	var backend store.Backend
	if cfg.UseDatabase() {
		db, err := database.Open(cfg.DatabaseURL, cfg.DatabasePool())
		if err != nil {
			return nil, err
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		slog.Info("database connection established")

		c.db = db
		backend = repository.NewPostgresDocumentRepo(db)
		c.Sessions = repository.NewPostgresSessionRepo(db)
	} else {
		slog.Info("using file storage", slog.String("data_dir", cfg.DataDir))
		backend = store.NewFileBackend(cfg.DataDir)
		c.Sessions = repository.NewMemorySessionRepo()
	}

	c.Store = store.New(backend, cfg.ProtectedAdminID)
	if err := c.Store.EnsureDefaults(ctx); err != nil {
		if c.db != nil {
			c.db.Close()
		}
		return nil, fmt.Errorf("failed to initialize documents: %w", err)
	}

	// 2. メトリクス
	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector(registry)

	// 3. 外部サービス
	discordClient := discord.NewClient(
		&http.Client{Timeout: cfg.UpstreamTimeout},
		slog.Default(),
		cfg.DiscordAPIBaseURL,
		cfg.DiscordBotToken,
		cfg.DiscordApplicationID,
	)
	oauthProvider := auth.NewDiscordOAuthProvider(auth.DiscordOAuthConfig{
		ClientID:     cfg.DiscordClientID,
		ClientSecret: cfg.DiscordClientSecret,
		RedirectURL:  cfg.DiscordRedirectURI,
		APIBaseURL:   cfg.DiscordAPIBaseURL,
		Timeout:      cfg.UpstreamTimeout,
	})

	// 4. ドメインサービス
	authService := auth.NewService(
		oauthProvider, c.Sessions, auth.NewCookieCodec(cfg.SessionSecret), collector,
		auth.ServiceConfig{SessionMaxAge: cfg.SessionMaxAge},
	)
	adminRegistry := admin.NewRegistry(c.Store, cfg.ProtectedAdminID, collector)
	commandCatalog := catalog.NewCatalog(discordClient, c.Store, security.NewMarkupChecker(), collector)
	botService := bot.NewService(discordClient)
	invocationLog := invocation.NewLog(collector)

	// 5. ルーター
	c.RateLimiter = middleware.NewRateLimiter(
		middleware.DefaultRateLimiterConfig(cfg.RateLimitAdmin, cfg.RateLimitIngest),
	)

	deps := &handler.RouterDeps{
		Logger:             slog.Default(),
		SessionResolver:    authService,
		AdminChecker:       adminRegistry,
		CORSAllowedOrigins: cfg.CORSAllowedOrigins,
		TrustProxyHeaders:  cfg.TrustProxyHeaders,
		RateLimiter:        c.RateLimiter,
		Metrics:            collector,
		MetricsHandler:     metrics.Handler(registry),

		AuthService: authService,
		AuthConfig: handler.AuthHandlerConfig{
			PostLoginRedirect: cfg.PostLoginRedirect,
			CookieDomain:      cfg.CookieDomain,
			CookieSecure:      cfg.CookieSecure,
		},

		Catalog:       commandCatalog,
		Admins:        adminRegistry,
		InvocationLog: invocationLog,
		Bot:           botService,
		StaticDir:     cfg.StaticDir,
	}
	// nilの*sql.DBをインターフェースに入れない
	if c.db != nil {
		deps.HealthChecker = c.db
	}
	c.Handler = handler.NewRouter(deps)

	return c, nil
}

// runServe はAPIサーバーモードで起動する。
// 全依存関係をワイヤリングし、セッションクリーンアップとHTTPサーバーを起動する。
// SIGINTまたはSIGTERMシグナルを受信するとグレースフルシャットダウンを行う。
func runServe(ctx context.Context, cfg *config.Config) error {
	components, err := Build(ctx, cfg)
	if err != nil {
		return err
	}
	defer components.Close()

	cleanupJob := cleanup.NewSessionCleanupJob(components.Sessions, slog.Default())
	go cleanupJob.Start(ctx, cfg.SessionCleanupInterval)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      components.Handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("API server starting", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server listen error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("shutting down API server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}

	slog.Info("API server stopped gracefully")
	return nil
}

// runWorker はワーカーモードで起動する。
// PostgreSQLのセッションストアに対してクリーンアップジョブだけを実行する。
// APIサーバーを複数台で動かす構成向けで、メモリセッションでは使えない。
func runWorker(ctx context.Context, cfg *config.Config) error {
	if !cfg.UseDatabase() {
		return errors.New("worker requires DATABASE_URL")
	}

	db, err := database.Open(cfg.DatabaseURL, cfg.DatabasePool())
	if err != nil {
		return err
	}
	defer db.Close()

	if err := db.PingContext(ctx); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}

	slog.Info("worker starting",
		slog.Duration("session_cleanup_interval", cfg.SessionCleanupInterval),
	)

	job := cleanup.NewSessionCleanupJob(repository.NewPostgresSessionRepo(db), slog.Default())
	job.Start(ctx, cfg.SessionCleanupInterval)

	slog.Info("worker stopped gracefully")
	return nil
}

// runMigrate はデータベースマイグレーションを実行する。
// すべての未適用マイグレーションを順番に適用する。
func runMigrate(cfg *config.Config) error {
	if !cfg.UseDatabase() {
		return errors.New("migrate requires DATABASE_URL")
	}

	slog.Info("running database migrations",
		slog.String("database_url", maskDatabaseURL(cfg.DatabaseURL)),
	)

	version, err := database.RunMigrations(cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("database migrations completed successfully", slog.Uint64("version", uint64(version)))
	return nil
}

// runHealthcheck はヘルスチェックを実行する。
// distroless環境でのDockerヘルスチェック用サブコマンド。
// /health エンドポイントにHTTPリクエストを送り、結果を返す。
func runHealthcheck(port string) error {
	target := fmt.Sprintf("http://localhost:%s/health", port)
	client := &http.Client{Timeout: 5 * time.Second}

	resp, err := client.Get(target)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health check returned status %d", resp.StatusCode)
	}

	return nil
}

// maskDatabaseURL はデータベースURLのパスワードをマスクする。
func maskDatabaseURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return "***"
	}
	return u.Redacted()
}
