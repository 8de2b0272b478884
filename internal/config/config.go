// Package config は環境変数からアプリケーション設定を読み込む。
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/hitoshi/botdash/internal/database"
)

// Config はアプリケーション全体の設定を保持する。
// 環境変数から起動時に1回読み込み、イミュータブルとして扱う。
type Config struct {
	// Server
	ServerPort string `env:"SERVER_PORT" envDefault:"3000"`
	StaticDir  string `env:"STATIC_DIR" envDefault:"public"`

	// Storage（DATABASE_URLが空ならファイル + メモリセッション）
	DataDir     string `env:"DATA_DIR" envDefault:"data"`
	DatabaseURL string `env:"DATABASE_URL"`

	// Database pool（DATABASE_URL指定時のみ使用）
	DBMaxOpenConns    int           `env:"DB_MAX_OPEN_CONNS" envDefault:"10"`
	DBMaxIdleConns    int           `env:"DB_MAX_IDLE_CONNS" envDefault:"5"`
	DBConnMaxLifetime time.Duration `env:"DB_CONN_MAX_LIFETIME" envDefault:"30m"`

	// Admin
	ProtectedAdminID string `env:"PROTECTED_ADMIN_ID" envDefault:"510792663210131456"`

	// Discord
	DiscordClientID      string        `env:"DISCORD_CLIENT_ID,required,notEmpty"`
	DiscordClientSecret  string        `env:"DISCORD_CLIENT_SECRET,required,notEmpty"`
	DiscordRedirectURI   string        `env:"DISCORD_REDIRECT_URI,required,notEmpty"`
	DiscordBotToken      string        `env:"DISCORD_BOT_TOKEN,required,notEmpty"`
	DiscordApplicationID string        `env:"DISCORD_APPLICATION_ID,required,notEmpty"`
	DiscordAPIBaseURL    string        `env:"DISCORD_API_BASE_URL" envDefault:"https://discord.com/api/v10"`
	UpstreamTimeout      time.Duration `env:"UPSTREAM_TIMEOUT" envDefault:"10s"`

	// Session
	SessionSecret          string        `env:"SESSION_SECRET,required,notEmpty"`
	SessionMaxAge          time.Duration `env:"SESSION_MAX_AGE" envDefault:"24h"`
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"15m"`
	PostLoginRedirect      string        `env:"POST_LOGIN_REDIRECT" envDefault:"/#admin"`

	// Cookie
	CookieSecure bool   `env:"COOKIE_SECURE" envDefault:"false"`
	CookieDomain string `env:"COOKIE_DOMAIN"`

	// CORS（空ならリクエストのOriginを許可）
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`

	// Proxy（trueならX-Forwarded-For / X-Real-IPをクライアントIPとして信頼する）
	TrustProxyHeaders bool `env:"TRUST_PROXY_HEADERS" envDefault:"false"`

	// Rate Limit（req/min）
	RateLimitAdmin  int `env:"RATE_LIMIT_ADMIN" envDefault:"120"`
	RateLimitIngest int `env:"RATE_LIMIT_INGEST" envDefault:"600"`

	// Logging
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
}

// Load は環境変数からConfigを読み込む。
// 必須環境変数の欠落は1つのエラーにまとめて返す。
func Load() (*Config, error) {
	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	if cfg.SessionMaxAge <= 0 {
		return nil, fmt.Errorf("SESSION_MAX_AGE must be positive, got %s", cfg.SessionMaxAge)
	}
	if cfg.SessionCleanupInterval <= 0 {
		return nil, fmt.Errorf("SESSION_CLEANUP_INTERVAL must be positive, got %s", cfg.SessionCleanupInterval)
	}
	if cfg.DBMaxOpenConns < 0 || cfg.DBMaxIdleConns < 0 || cfg.DBConnMaxLifetime < 0 {
		return nil, fmt.Errorf("database pool settings must not be negative")
	}
	if cfg.RateLimitAdmin <= 0 || cfg.RateLimitIngest <= 0 {
		return nil, fmt.Errorf("rate limits must be positive")
	}
	return &cfg, nil
}

// DatabasePool はdatabase.Openに渡すプール設定を返す。
func (c *Config) DatabasePool() database.PoolConfig {
	return database.PoolConfig{
		MaxOpenConns:    c.DBMaxOpenConns,
		MaxIdleConns:    c.DBMaxIdleConns,
		ConnMaxLifetime: c.DBConnMaxLifetime,
	}
}

// UseDatabase はPostgreSQLバックエンドを使うかを返す。
func (c *Config) UseDatabase() bool {
	return c.DatabaseURL != ""
}
