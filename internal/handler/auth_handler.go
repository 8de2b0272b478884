// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/hitoshi/botdash/internal/auth"
	"github.com/hitoshi/botdash/internal/middleware"
	"github.com/hitoshi/botdash/internal/model"
)

// AuthServiceInterface は認証ハンドラーが必要とするサービスインターフェース。
type AuthServiceInterface interface {
	BeginLogin(ctx context.Context, session *model.Session) (*model.Session, string, error)
	CompleteLogin(ctx context.Context, session *model.Session, code, state string) (*model.Session, error)
	Logout(ctx context.Context, session *model.Session) error
	CookieValue(session *model.Session) (string, error)
	SessionMaxAge() time.Duration
}

// AuthHandlerConfig は認証ハンドラーの設定。
type AuthHandlerConfig struct {
	PostLoginRedirect string // ログイン成功後のリダイレクト先
	CookieDomain      string
	CookieSecure      bool
}

// AuthHandler はOAuth認証関連のHTTPハンドラー。
type AuthHandler struct {
	service AuthServiceInterface
	admins  middleware.AdminChecker
	config  AuthHandlerConfig
}

// NewAuthHandler はAuthHandlerを生成する。
func NewAuthHandler(service AuthServiceInterface, admins middleware.AdminChecker, config AuthHandlerConfig) *AuthHandler {
	return &AuthHandler{
		service: service,
		admins:  admins,
		config:  config,
	}
}

// meResponse はログイン状態のAPIレスポンス。匿名ならuserはnull。
type meResponse struct {
	User    *model.Identity `json:"user"`
	IsAdmin bool            `json:"isAdmin"`
}

// LoginStart はDiscord OAuthフローを開始する。
// GET /auth/login-start
func (h *AuthHandler) LoginStart(w http.ResponseWriter, r *http.Request) {
	session, loginURL, err := h.service.BeginLogin(r.Context(), middleware.SessionFromContext(r.Context()))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if !h.setSessionCookie(w, session) {
		middleware.WriteInternalServerError(w)
		return
	}
	http.Redirect(w, r, loginURL, http.StatusFound)
}

// LoginCallback はOAuthコールバックを処理する。
// GET /auth/login-callback?code=xxx&state=yyy
func (h *AuthHandler) LoginCallback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	session, err := h.service.CompleteLogin(r.Context(), middleware.SessionFromContext(r.Context()), q.Get("code"), q.Get("state"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	if !h.setSessionCookie(w, session) {
		middleware.WriteInternalServerError(w)
		return
	}
	http.Redirect(w, r, h.config.PostLoginRedirect, http.StatusFound)
}

// Logout はセッションを破棄する。セッションの削除に失敗してもCookieはクリアする。
// POST /auth/logout
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.service.Logout(r.Context(), middleware.SessionFromContext(r.Context())); err != nil {
		slog.Error("failed to logout", slog.String("error", err.Error()))
	}

	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    "",
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	writeSuccess(w)
}

// Me は現在のユーザーと管理者かどうかを返す。
// GET /api/auth/me
func (h *AuthHandler) Me(w http.ResponseWriter, r *http.Request) {
	identity, ok := middleware.IdentityFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusOK, meResponse{})
		return
	}

	isAdmin, err := h.admins.IsAdmin(r.Context(), identity.ID)
	if err != nil {
		slog.Error("failed to check admin membership",
			slog.String("user_id", identity.ID),
			slog.String("error", err.Error()),
		)
		isAdmin = false
	}
	writeJSON(w, http.StatusOK, meResponse{User: identity, IsAdmin: isAdmin})
}

// setSessionCookie はセッションの署名付きトークンをHTTP Only Cookieに設定する。
func (h *AuthHandler) setSessionCookie(w http.ResponseWriter, session *model.Session) bool {
	value, err := h.service.CookieValue(session)
	if err != nil {
		slog.Error("failed to encode session cookie", slog.String("error", err.Error()))
		return false
	}
	http.SetCookie(w, &http.Cookie{
		Name:     auth.SessionCookieName,
		Value:    value,
		Path:     "/",
		Domain:   h.config.CookieDomain,
		MaxAge:   int(h.service.SessionMaxAge().Seconds()),
		HttpOnly: true,
		Secure:   h.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	})
	return true
}
