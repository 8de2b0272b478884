package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/hitoshi/botdash/internal/middleware"
	"github.com/hitoshi/botdash/internal/model"
)

// --- モック定義 ---

// mockAuthService はAuthServiceInterfaceのモック実装。
type mockAuthService struct {
	beginLoginFn    func(ctx context.Context, session *model.Session) (*model.Session, string, error)
	completeLoginFn func(ctx context.Context, session *model.Session, code, state string) (*model.Session, error)
	logoutFn        func(ctx context.Context, session *model.Session) error
	cookieValueFn   func(session *model.Session) (string, error)
}

func (m *mockAuthService) BeginLogin(ctx context.Context, session *model.Session) (*model.Session, string, error) {
	if m.beginLoginFn != nil {
		return m.beginLoginFn(ctx, session)
	}
	return &model.Session{ID: "pending"}, "https://discord.com/oauth2/authorize", nil
}

func (m *mockAuthService) CompleteLogin(ctx context.Context, session *model.Session, code, state string) (*model.Session, error) {
	if m.completeLoginFn != nil {
		return m.completeLoginFn(ctx, session, code, state)
	}
	return nil, model.ErrInvalidState
}

func (m *mockAuthService) Logout(ctx context.Context, session *model.Session) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, session)
	}
	return nil
}

func (m *mockAuthService) CookieValue(session *model.Session) (string, error) {
	if m.cookieValueFn != nil {
		return m.cookieValueFn(session)
	}
	return "signed-" + session.ID, nil
}

func (m *mockAuthService) SessionMaxAge() time.Duration {
	return 24 * time.Hour
}

// mockAdminChecker はmiddleware.AdminCheckerのモック実装。
type mockAdminChecker struct {
	isAdminFn func(ctx context.Context, id string) (bool, error)
}

func (m *mockAdminChecker) IsAdmin(ctx context.Context, id string) (bool, error) {
	if m.isAdminFn != nil {
		return m.isAdminFn(ctx, id)
	}
	return false, nil
}

// --- テストヘルパー ---

// withSession はテスト用にリクエストコンテキストへセッションを注入する。
func withSession(r *http.Request, s *model.Session) *http.Request {
	return r.WithContext(middleware.ContextWithSession(r.Context(), s))
}

func authenticated(userID string) *model.Session {
	return &model.Session{
		ID:        "sid-" + userID,
		Identity:  &model.Identity{ID: userID, DisplayName: "operator#0001", AvatarRef: "abc"},
		ExpiresAt: time.Now().Add(time.Hour),
	}
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, c := range resp.Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) middleware.ErrorResponseBody {
	t.Helper()
	var body middleware.ErrorResponseBody
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("failed to decode error body: %v", err)
	}
	return body
}

func newTestAuthHandler(svc *mockAuthService, checker *mockAdminChecker) *AuthHandler {
	if checker == nil {
		checker = &mockAdminChecker{}
	}
	return NewAuthHandler(svc, checker, AuthHandlerConfig{PostLoginRedirect: "/#admin"})
}

// --- テスト ---

func TestAuthHandler_LoginStart_SetsCookieAndRedirects(t *testing.T) {
	var received *model.Session
	svc := &mockAuthService{
		beginLoginFn: func(_ context.Context, s *model.Session) (*model.Session, string, error) {
			received = s
			return &model.Session{ID: "pending-1", OAuthState: "st"}, "https://discord.com/oauth2/authorize?state=st", nil
		},
	}
	h := newTestAuthHandler(svc, nil)

	w := httptest.NewRecorder()
	h.LoginStart(w, httptest.NewRequest(http.MethodGet, "/auth/login-start", nil))

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "https://discord.com/oauth2/authorize?state=st" {
		t.Errorf("Location = %q", loc)
	}
	if received != nil {
		t.Error("anonymous request should pass a nil session")
	}

	cookie := findCookie(resp, "session_id")
	if cookie == nil {
		t.Fatal("session cookie should be set")
	}
	if cookie.Value != "signed-pending-1" {
		t.Errorf("cookie value = %q, want signed-pending-1", cookie.Value)
	}
	if !cookie.HttpOnly {
		t.Error("cookie should be HttpOnly")
	}
	if cookie.SameSite != http.SameSiteLaxMode {
		t.Errorf("SameSite = %v, want Lax", cookie.SameSite)
	}
	if cookie.MaxAge != 86400 {
		t.Errorf("MaxAge = %d, want 86400", cookie.MaxAge)
	}
}

func TestAuthHandler_LoginStart_ReusesExistingSession(t *testing.T) {
	existing := &model.Session{ID: "existing"}
	var received *model.Session
	svc := &mockAuthService{
		beginLoginFn: func(_ context.Context, s *model.Session) (*model.Session, string, error) {
			received = s
			return s, "https://discord.com/oauth2/authorize", nil
		},
	}
	h := newTestAuthHandler(svc, nil)

	w := httptest.NewRecorder()
	h.LoginStart(w, withSession(httptest.NewRequest(http.MethodGet, "/auth/login-start", nil), existing))

	if received != existing {
		t.Error("existing session should be passed to BeginLogin")
	}
}

func TestAuthHandler_LoginCallback_Success_SetsRotatedCookieAndRedirects(t *testing.T) {
	pending := &model.Session{ID: "pending", OAuthState: "st"}
	svc := &mockAuthService{
		completeLoginFn: func(_ context.Context, s *model.Session, code, state string) (*model.Session, error) {
			if s != pending || code != "the-code" || state != "st" {
				t.Errorf("unexpected args: session=%v code=%q state=%q", s, code, state)
			}
			return authenticated("user-1"), nil
		},
	}
	h := newTestAuthHandler(svc, nil)

	req := withSession(httptest.NewRequest(http.MethodGet, "/auth/login-callback?code=the-code&state=st", nil), pending)
	w := httptest.NewRecorder()
	h.LoginCallback(w, req)

	resp := w.Result()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("status = %d, want %d", resp.StatusCode, http.StatusFound)
	}
	if loc := resp.Header.Get("Location"); loc != "/#admin" {
		t.Errorf("Location = %q, want /#admin", loc)
	}
	cookie := findCookie(resp, "session_id")
	if cookie == nil || cookie.Value != "signed-sid-user-1" {
		t.Errorf("session cookie = %v, want signed-sid-user-1", cookie)
	}
}

func TestAuthHandler_LoginCallback_Errors(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"state mismatch", model.ErrInvalidState, http.StatusBadRequest, model.ErrCodeInvalidState},
		{"token exchange", errors.Join(model.ErrTokenExchangeFailed, errors.New("401")), http.StatusInternalServerError, model.ErrCodeTokenExchangeFailed},
		{"profile fetch", model.ErrProfileFetchFailed, http.StatusInternalServerError, model.ErrCodeProfileFetchFailed},
		{"timeout", model.ErrUpstreamTimeout, http.StatusGatewayTimeout, model.ErrCodeUpstreamTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &mockAuthService{
				completeLoginFn: func(context.Context, *model.Session, string, string) (*model.Session, error) {
					return nil, tt.err
				},
			}
			h := newTestAuthHandler(svc, nil)

			w := httptest.NewRecorder()
			h.LoginCallback(w, httptest.NewRequest(http.MethodGet, "/auth/login-callback?code=c&state=s", nil))

			if w.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", w.Code, tt.wantStatus)
			}
			if body := decodeError(t, w); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
			if findCookie(w.Result(), "session_id") != nil {
				t.Error("no session cookie should be set on failure")
			}
		})
	}
}

func TestAuthHandler_Logout_ClearsCookieEvenOnError(t *testing.T) {
	var received *model.Session
	svc := &mockAuthService{
		logoutFn: func(_ context.Context, s *model.Session) error {
			received = s
			return errors.New("db down")
		},
	}
	h := newTestAuthHandler(svc, nil)

	session := authenticated("user-1")
	w := httptest.NewRecorder()
	h.Logout(w, withSession(httptest.NewRequest(http.MethodPost, "/auth/logout", nil), session))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	if received != session {
		t.Error("session should be passed to Logout")
	}
	if !strings.Contains(w.Body.String(), `"success":true`) {
		t.Errorf("body = %s, want success", w.Body.String())
	}
	cookie := findCookie(w.Result(), "session_id")
	if cookie == nil || cookie.MaxAge >= 0 {
		t.Errorf("session cookie should be cleared, got %v", cookie)
	}
}

func TestAuthHandler_Me(t *testing.T) {
	t.Run("anonymous", func(t *testing.T) {
		h := newTestAuthHandler(&mockAuthService{}, nil)
		w := httptest.NewRecorder()
		h.Me(w, httptest.NewRequest(http.MethodGet, "/api/auth/me", nil))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if got := strings.TrimSpace(w.Body.String()); got != `{"user":null,"isAdmin":false}` {
			t.Errorf("body = %s", got)
		}
	})

	t.Run("admin", func(t *testing.T) {
		checker := &mockAdminChecker{isAdminFn: func(_ context.Context, id string) (bool, error) {
			return id == "user-1", nil
		}}
		h := newTestAuthHandler(&mockAuthService{}, checker)
		w := httptest.NewRecorder()
		h.Me(w, withSession(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), authenticated("user-1")))

		var body struct {
			User    *model.Identity `json:"user"`
			IsAdmin bool            `json:"isAdmin"`
		}
		if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
			t.Fatalf("decode: %v", err)
		}
		if body.User == nil || body.User.ID != "user-1" || body.User.DisplayName != "operator#0001" {
			t.Errorf("user = %+v", body.User)
		}
		if !body.IsAdmin {
			t.Error("isAdmin should be true")
		}
	})

	t.Run("checker error reports non-admin", func(t *testing.T) {
		checker := &mockAdminChecker{isAdminFn: func(context.Context, string) (bool, error) {
			return true, errors.New("storage down")
		}}
		h := newTestAuthHandler(&mockAuthService{}, checker)
		w := httptest.NewRecorder()
		h.Me(w, withSession(httptest.NewRequest(http.MethodGet, "/api/auth/me", nil), authenticated("user-1")))

		if w.Code != http.StatusOK {
			t.Fatalf("status = %d, want 200", w.Code)
		}
		if !strings.Contains(w.Body.String(), `"isAdmin":false`) {
			t.Errorf("body = %s", w.Body.String())
		}
	})
}
