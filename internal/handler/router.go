package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/hitoshi/botdash/internal/metrics"
	"github.com/hitoshi/botdash/internal/middleware"
)

// InvocationLog は呼び出し履歴の追記と読み取りを行う。invocation.Logが満たす。
type InvocationLog interface {
	InvocationAppender
	InvocationLogReader
}

// BotService はボット情報とギルド統計を提供する。bot.Serviceが満たす。
type BotService interface {
	BotInfoProvider
	AnalyticsProvider
}

// RouterDeps はNewRouterに必要な依存関係をまとめた構造体。
type RouterDeps struct {
	// ミドルウェア依存
	Logger             *slog.Logger
	SessionResolver    middleware.SessionResolver
	AdminChecker       middleware.AdminChecker
	CORSAllowedOrigins []string
	RateLimiter        *middleware.RateLimiter
	Metrics            metrics.MetricsCollector
	MetricsHandler     http.Handler
	HealthChecker      HealthChecker

	// trueの場合のみX-Forwarded-For等からクライアントIPを決める。
	// リバースプロキシ配下でのみ有効にする。
	TrustProxyHeaders bool

	// 認証
	AuthService AuthServiceInterface
	AuthConfig  AuthHandlerConfig

	// ドメイン
	Catalog       CatalogServiceInterface
	Admins        AdminServiceInterface
	InvocationLog InvocationLog
	Bot           BotService

	// 空なら静的ファイルを配信しない
	StaticDir string
}

// NewRouter は全エンドポイントのルーティングとミドルウェアチェーンを構成したchi.Routerを返す。
//
// ミドルウェアスタックの実行順序:
//
//	RequestID → RealIP（TrustProxyHeaders時のみ） → Recovery → SecurityHeaders → CORS → Session → Logging → Metrics
//
// 管理APIはさらに RequireAdmin → RateLimit(Admin) を通る。
func NewRouter(deps *RouterDeps) http.Handler {
	r := chi.NewRouter()

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	r.Use(chimw.RequestID)
	if deps.TrustProxyHeaders {
		r.Use(chimw.RealIP)
	}
	r.Use(middleware.NewRecoveryMiddleware())
	r.Use(middleware.NewSecurityHeadersMiddleware())
	r.Use(middleware.NewCORSMiddleware(deps.CORSAllowedOrigins))
	r.Use(middleware.NewSessionMiddleware(deps.SessionResolver))
	r.Use(middleware.NewLoggingMiddleware(logger))
	if deps.Metrics != nil {
		r.Use(metrics.NewHTTPMiddleware(deps.Metrics))
	}

	authHandler := NewAuthHandler(deps.AuthService, deps.AdminChecker, deps.AuthConfig)
	commandHandler := NewCommandHandler(deps.Catalog)
	adminHandler := NewAdminHandler(deps.Admins, deps.InvocationLog, deps.Bot)
	botHandler := NewBotHandler(deps.Bot, deps.InvocationLog)

	r.Get("/health", NewHealthHandler(deps.HealthChecker))
	if deps.MetricsHandler != nil {
		r.Handle("/metrics", deps.MetricsHandler)
	}

	// OAuthフロー（/auth/discord* は旧URLの互換ルート）
	r.Route("/auth", func(r chi.Router) {
		r.Get("/login-start", authHandler.LoginStart)
		r.Get("/discord", authHandler.LoginStart)
		r.Get("/login-callback", authHandler.LoginCallback)
		r.Get("/discord/callback", authHandler.LoginCallback)
		r.Post("/logout", authHandler.Logout)
	})

	r.Route("/api", func(r chi.Router) {
		r.Get("/auth/me", authHandler.Me)
		r.Get("/bot/info", botHandler.Info)
		r.Get("/commands", commandHandler.ListCommands)

		// ボットからの呼び出しイベント受信。認証なし、クライアントIPごとに制限する。
		r.With(deps.RateLimiter.IngestMiddleware()).Post("/bot/command-log", botHandler.IngestCommandLog)

		r.Route("/admin", func(r chi.Router) {
			r.Use(middleware.NewRequireAdminMiddleware(deps.AdminChecker))
			r.Use(deps.RateLimiter.AdminMiddleware())

			r.Post("/manual-command", commandHandler.AddManualCommand)
			r.Delete("/manual-command", commandHandler.RemoveManualCommand)

			r.Get("/admins", adminHandler.ListAdmins)
			r.Post("/add-admin", adminHandler.AddAdmin)
			r.Post("/remove-admin", adminHandler.RemoveAdmin)

			r.Get("/command-logs", adminHandler.CommandLogs)
			r.Get("/analytics", adminHandler.Analytics)
		})
	})

	if deps.StaticDir != "" {
		r.Handle("/*", NewStaticHandler(deps.StaticDir))
	}

	return r
}
