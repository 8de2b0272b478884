package middleware

import (
	"net/http"

	"github.com/go-chi/cors"
)

// NewCORSMiddleware はセッションCookieを伴うクロスオリジン呼び出し用のCORSミドルウェアを返す。
// allowedOriginsが空の場合はリクエストのOriginをそのまま許可する（元のダッシュボードと同じ挙動）。
// credentials送信と共存するため、ワイルドカード(*)は返さない。
func NewCORSMiddleware(allowedOrigins []string) func(next http.Handler) http.Handler {
	opts := cors.Options{
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
		MaxAge:           86400,
	}
	if len(allowedOrigins) == 0 {
		opts.AllowOriginFunc = func(_ *http.Request, origin string) bool {
			return origin != ""
		}
	} else {
		opts.AllowedOrigins = allowedOrigins
	}
	return cors.Handler(opts)
}
