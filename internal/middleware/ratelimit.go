package middleware

import (
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/hitoshi/botdash/internal/model"
)

// RateLimiterConfig はレート制限の設定を保持する。
type RateLimiterConfig struct {
	AdminRate       rate.Limit    // 管理API のオペレーターごとのレート（req/sec）
	AdminBurst      int           // 管理APIのバーストサイズ
	IngestRate      rate.Limit    // コマンドログ受信のクライアントIPごとのレート（req/sec）
	IngestBurst     int           // コマンドログ受信のバーストサイズ
	CleanupInterval time.Duration // 期限切れエントリのクリーンアップ間隔
}

// DefaultRateLimiterConfig は1分あたりの上限からレート制限設定を作る。
func DefaultRateLimiterConfig(adminPerMinute, ingestPerMinute int) RateLimiterConfig {
	return RateLimiterConfig{
		AdminRate:       rate.Limit(float64(adminPerMinute) / 60.0),
		AdminBurst:      adminPerMinute,
		IngestRate:      rate.Limit(float64(ingestPerMinute) / 60.0),
		IngestBurst:     ingestPerMinute,
		CleanupInterval: 5 * time.Minute,
	}
}

// keyedLimiter はキーごとのトークンバケットと最終アクセス時刻を保持する。
type keyedLimiter struct {
	limit rate.Limit
	burst int

	mu      sync.Mutex
	entries map[string]*limiterEntry
}

type limiterEntry struct {
	limiter    *rate.Limiter
	lastAccess time.Time
}

func newKeyedLimiter(limit rate.Limit, burst int) *keyedLimiter {
	return &keyedLimiter{
		limit:   limit,
		burst:   burst,
		entries: make(map[string]*limiterEntry),
	}
}

func (k *keyedLimiter) allow(key string, now time.Time) bool {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.entries[key] = e
	}
	e.lastAccess = now
	k.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

func (k *keyedLimiter) evictOlderThan(cutoff time.Time) {
	k.mu.Lock()
	defer k.mu.Unlock()
	for key, e := range k.entries {
		if e.lastAccess.Before(cutoff) {
			delete(k.entries, key)
		}
	}
}

func (k *keyedLimiter) len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.entries)
}

// RateLimiter は管理APIとコマンドログ受信のレート制限を管理する。
type RateLimiter struct {
	config RateLimiterConfig
	admin  *keyedLimiter
	ingest *keyedLimiter
	stopCh chan struct{}
	once   sync.Once
}

// NewRateLimiter は新しいRateLimiterを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewRateLimiter(config RateLimiterConfig) *RateLimiter {
	rl := &RateLimiter{
		config: config,
		admin:  newKeyedLimiter(config.AdminRate, config.AdminBurst),
		ingest: newKeyedLimiter(config.IngestRate, config.IngestBurst),
		stopCh: make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (rl *RateLimiter) Stop() {
	rl.once.Do(func() { close(rl.stopCh) })
}

// AdminMiddleware はオペレーターごとのレート制限ミドルウェアを返す。
// 管理者チェックの後に配置する。
func (rl *RateLimiter) AdminMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			userID, err := UserIDFromContext(r.Context())
			if err != nil {
				WriteErrorResponse(w, http.StatusUnauthorized, model.ErrUnauthenticated)
				return
			}

			if !rl.admin.allow(userID, time.Now()) {
				slog.Warn("rate limit exceeded",
					slog.String("user_id", userID),
					slog.String("limit_type", "admin"),
				)
				writeRateLimitResponse(w, rl.config.AdminRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// IngestMiddleware はクライアントIPごとのレート制限ミドルウェアを返す。
// 認証の無いコマンドログ受信エンドポイント向け。プロキシ配下ではchiのRealIPの後に配置する。
func (rl *RateLimiter) IngestMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := clientIP(r)
			if !rl.ingest.allow(ip, time.Now()) {
				slog.Warn("rate limit exceeded",
					slog.String("client_ip", ip),
					slog.String("limit_type", "ingest"),
				)
				writeRateLimitResponse(w, rl.config.IngestRate)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AdminLimiterCount は管理APIリミッターのエントリ数を返す。テスト用。
func (rl *RateLimiter) AdminLimiterCount() int {
	return rl.admin.len()
}

// IngestLimiterCount はコマンドログ受信リミッターのエントリ数を返す。テスト用。
func (rl *RateLimiter) IngestLimiterCount() int {
	return rl.ingest.len()
}

// cleanupLoop はバックグラウンドで期限切れエントリを定期的にクリーンアップする。
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.cleanup(time.Now())
		case <-rl.stopCh:
			return
		}
	}
}

// cleanup は最終アクセス時刻がCleanupIntervalの2倍より古いエントリを削除する。
func (rl *RateLimiter) cleanup(now time.Time) {
	cutoff := now.Add(-2 * rl.config.CleanupInterval)
	rl.admin.evictOlderThan(cutoff)
	rl.ingest.evictOlderThan(cutoff)
}

// clientIP はRemoteAddrからポートを除いたアドレスを返す。
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// writeRateLimitResponse は429 Too Many Requestsレスポンスを書き込む。
// Retry-Afterヘッダーにはトークンが補充されるまでの推定秒数を設定する。
func writeRateLimitResponse(w http.ResponseWriter, r rate.Limit) {
	retryAfterSec := 1
	if r > 0 {
		retryAfterSec = max(1, int(math.Ceil(1.0/float64(r))))
	}
	w.Header().Set("Retry-After", strconv.Itoa(retryAfterSec))
	WriteErrorResponse(w, http.StatusTooManyRequests, model.ErrRateLimited)
}
