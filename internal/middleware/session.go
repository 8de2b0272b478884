// Package middleware はHTTPミドルウェアを提供する。
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/hitoshi/botdash/internal/model"
)

const sessionCookieName = "session_id"

// contextKey はコンテキストに値を格納するための型安全なキー。
type contextKey string

// sessionContextKey はリクエストコンテキストにセッションを格納するためのキー。
var sessionContextKey = contextKey("session")

// SessionResolver はCookieの値からセッションを解決する。auth.Serviceが満たす。
type SessionResolver interface {
	ResolveSession(ctx context.Context, cookieValue string) (*model.Session, error)
}

// AdminChecker は管理者判定に必要なインターフェース。admin.Registryが満たす。
type AdminChecker interface {
	IsAdmin(ctx context.Context, id string) (bool, error)
}

// NewSessionMiddleware はHTTP Only Cookieからセッションを読み込み、コンテキストに注入する。
// セッションが無い・無効でも拒否はせず匿名として後続に渡す。
func NewSessionMiddleware(resolver SessionResolver) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cookie, err := r.Cookie(sessionCookieName)
			if err != nil || cookie.Value == "" {
				next.ServeHTTP(w, r)
				return
			}

			session, err := resolver.ResolveSession(r.Context(), cookie.Value)
			if err != nil {
				slog.Error("failed to resolve session",
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}
			if session == nil {
				next.ServeHTTP(w, r)
				return
			}

			next.ServeHTTP(w, r.WithContext(ContextWithSession(r.Context(), session)))
		})
	}
}

// NewRequireAuthenticatedMiddleware は認証済みIdentityを持たないリクエストを401で拒否する。
func NewRequireAuthenticatedMiddleware() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := IdentityFromContext(r.Context()); !ok {
				WriteErrorResponse(w, http.StatusUnauthorized, model.ErrUnauthenticated)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// NewRequireAdminMiddleware はNewRequireAuthenticatedMiddlewareを先に適用し、
// 認証済みかつ管理者であるリクエストのみを通す。
// 管理者判定はリクエストごとに行い、セッションにはキャッシュしない。
func NewRequireAdminMiddleware(checker AdminChecker) func(next http.Handler) http.Handler {
	requireAuthenticated := NewRequireAuthenticatedMiddleware()
	return func(next http.Handler) http.Handler {
		return requireAuthenticated(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity, _ := IdentityFromContext(r.Context())

			isAdmin, err := checker.IsAdmin(r.Context(), identity.ID)
			if err != nil {
				slog.Error("failed to check admin membership",
					slog.String("user_id", identity.ID),
					slog.String("error", err.Error()),
				)
				WriteInternalServerError(w)
				return
			}
			if !isAdmin {
				slog.Warn("non-admin denied", slog.String("user_id", identity.ID))
				WriteErrorResponse(w, http.StatusForbidden, model.ErrForbidden)
				return
			}

			next.ServeHTTP(w, r)
		}))
	}
}

// SessionFromContext はリクエストコンテキストからセッションを取得する。無ければnil。
func SessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionContextKey).(*model.Session)
	return s
}

// IdentityFromContext は認証済みセッションのIdentityを取得する。
func IdentityFromContext(ctx context.Context) (*model.Identity, bool) {
	s := SessionFromContext(ctx)
	if !s.Authenticated() {
		return nil, false
	}
	return s.Identity, true
}

// UserIDFromContext はリクエストコンテキストから認証済みユーザーIDを取得する。
func UserIDFromContext(ctx context.Context) (string, error) {
	identity, ok := IdentityFromContext(ctx)
	if !ok {
		return "", fmt.Errorf("user ID not found in context")
	}
	return identity.ID, nil
}

// ContextWithSession はコンテキストにセッションを注入する。
// テストやミドルウェア以外のコンテキスト生成で使用する。
func ContextWithSession(ctx context.Context, session *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, session)
}
