package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/hitoshi/botdash/internal/admin"
	"github.com/hitoshi/botdash/internal/invocation"
	"github.com/hitoshi/botdash/internal/metrics"
	"github.com/hitoshi/botdash/internal/middleware"
	"github.com/hitoshi/botdash/internal/model"
	"github.com/hitoshi/botdash/internal/store"
)

const testProtectedID = "510792663210131456"

// cookieResolver はCookieの値をそのままユーザーIDとして扱うSessionResolver。
type cookieResolver struct{}

func (cookieResolver) ResolveSession(_ context.Context, v string) (*model.Session, error) {
	return authenticated(v), nil
}

type testRouter struct {
	handler  http.Handler
	dataDir  string
	bot      *mockBotService
	catalog  *mockCatalogService
	registry *admin.Registry
}

// newTestRouter はファイルストアと実際の管理者リストでルーターを組み立てる。
func newTestRouter(t *testing.T) *testRouter {
	t.Helper()
	dir := t.TempDir()
	s := store.New(store.NewFileBackend(dir), testProtectedID)
	if err := s.EnsureDefaults(context.Background()); err != nil {
		t.Fatalf("EnsureDefaults: %v", err)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	registry := admin.NewRegistry(s, testProtectedID, collector)
	rl := middleware.NewRateLimiter(middleware.DefaultRateLimiterConfig(120, 600))
	t.Cleanup(rl.Stop)

	staticDir := filepath.Join(dir, "public")
	if err := os.MkdirAll(staticDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staticDir, "index.html"), []byte("<html>dashboard</html>"), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(staticDir, "app.js"), []byte("console.log(1)"), 0o644); err != nil {
		t.Fatal(err)
	}

	tr := &testRouter{
		dataDir:  dir,
		bot:      &mockBotService{},
		catalog:  &mockCatalogService{},
		registry: registry,
	}
	tr.handler = NewRouter(&RouterDeps{
		SessionResolver: cookieResolver{},
		AdminChecker:    registry,
		RateLimiter:     rl,
		Metrics:         collector,
		MetricsHandler:  metrics.Handler(reg),
		AuthService:     &mockAuthService{},
		AuthConfig:      AuthHandlerConfig{PostLoginRedirect: "/#admin"},
		Catalog:         tr.catalog,
		Admins:          registry,
		InvocationLog:   invocation.NewLog(collector),
		Bot:             tr.bot,
		StaticDir:       staticDir,
	})
	return tr
}

// do はuserIDが空でなければそのユーザーとしてリクエストを送る。
func (tr *testRouter) do(method, path, userID, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if userID != "" {
		req.AddCookie(&http.Cookie{Name: "session_id", Value: userID})
	}
	w := httptest.NewRecorder()
	tr.handler.ServeHTTP(w, req)
	return w
}

func (tr *testRouter) adminsFile(t *testing.T) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(tr.dataDir, "admins.json"))
	if err != nil {
		t.Fatalf("read admins.json: %v", err)
	}
	return string(data)
}

func TestRouter_RemoveProtectedAdmin_Returns400AndLeavesSetUnchanged(t *testing.T) {
	tr := newTestRouter(t)
	before := tr.adminsFile(t)

	w := tr.do(http.MethodPost, "/api/admin/remove-admin", testProtectedID, `{"userId":"`+testProtectedID+`"}`)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	var body map[string]string
	if err := json.NewDecoder(w.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] == "" {
		t.Error("error message should be present")
	}
	if after := tr.adminsFile(t); after != before {
		t.Errorf("admins changed:\nbefore %s\nafter  %s", before, after)
	}
}

func TestRouter_AnonymousAnalytics_Returns401WithoutComputing(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(http.MethodGet, "/api/admin/analytics", "", "")

	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", w.Code)
	}
	if tr.bot.calls != 0 {
		t.Errorf("bot service called %d times, want 0", tr.bot.calls)
	}
	if strings.Contains(w.Body.String(), "guildCount") {
		t.Error("analytics should not leak")
	}
}

func TestRouter_NonAdmin_Returns403(t *testing.T) {
	tr := newTestRouter(t)

	for _, route := range []struct{ method, path string }{
		{http.MethodGet, "/api/admin/admins"},
		{http.MethodGet, "/api/admin/command-logs"},
		{http.MethodPost, "/api/admin/manual-command"},
		{http.MethodDelete, "/api/admin/manual-command"},
	} {
		w := tr.do(route.method, route.path, "stranger", `{}`)
		if w.Code != http.StatusForbidden {
			t.Errorf("%s %s: status = %d, want 403", route.method, route.path, w.Code)
		}
	}
}

func TestRouter_AddAdmin_TakesEffectImmediately(t *testing.T) {
	tr := newTestRouter(t)

	if w := tr.do(http.MethodGet, "/api/admin/admins", "newcomer", ""); w.Code != http.StatusForbidden {
		t.Fatalf("before add: status = %d, want 403", w.Code)
	}

	w := tr.do(http.MethodPost, "/api/admin/add-admin", testProtectedID, `{"userId":"newcomer"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("add: status = %d, body %s", w.Code, w.Body.String())
	}
	want := `{"success":true,"admins":["` + testProtectedID + `","newcomer"]}`
	if got := strings.TrimSpace(w.Body.String()); got != want {
		t.Errorf("add body = %s, want %s", got, want)
	}

	w = tr.do(http.MethodGet, "/api/admin/admins", "newcomer", "")
	if w.Code != http.StatusOK {
		t.Fatalf("after add: status = %d, want 200", w.Code)
	}

	if w := tr.do(http.MethodPost, "/api/admin/add-admin", testProtectedID, `{"userId":"newcomer"}`); w.Code != http.StatusBadRequest {
		t.Errorf("duplicate add: status = %d, want 400", w.Code)
	}

	if w := tr.do(http.MethodPost, "/api/admin/remove-admin", testProtectedID, `{"userId":"newcomer"}`); w.Code != http.StatusOK {
		t.Fatalf("remove: status = %d", w.Code)
	}
	if w := tr.do(http.MethodGet, "/api/admin/admins", "newcomer", ""); w.Code != http.StatusForbidden {
		t.Errorf("after remove: status = %d, want 403", w.Code)
	}
}

func TestRouter_IngestThenReadCommandLogs(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(http.MethodPost, "/api/bot/command-log", "", `{"userId":"1","username":"alice","commandName":"ping"}`)
	if w.Code != http.StatusOK {
		t.Fatalf("ingest: status = %d", w.Code)
	}

	w = tr.do(http.MethodGet, "/api/admin/command-logs", testProtectedID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("logs: status = %d", w.Code)
	}
	var records []model.InvocationRecord
	if err := json.NewDecoder(w.Body).Decode(&records); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(records) != 1 || records[0].CommandName != "ping" {
		t.Fatalf("records = %+v", records)
	}
	if records[0].Options == nil {
		t.Error("options should default to {}")
	}
	if time.Since(records[0].Timestamp) > time.Minute {
		t.Errorf("timestamp = %v, want server time", records[0].Timestamp)
	}
}

func TestRouter_PublicRoutes(t *testing.T) {
	tr := newTestRouter(t)

	if w := tr.do(http.MethodGet, "/api/commands", "", ""); w.Code != http.StatusOK {
		t.Errorf("/api/commands: status = %d", w.Code)
	}
	if w := tr.do(http.MethodGet, "/api/auth/me", "", ""); w.Code != http.StatusOK {
		t.Errorf("/api/auth/me: status = %d", w.Code)
	}
	if w := tr.do(http.MethodGet, "/api/bot/info", "", ""); w.Code != http.StatusServiceUnavailable {
		t.Errorf("/api/bot/info: status = %d, want 503", w.Code)
	}
	if w := tr.do(http.MethodPost, "/auth/logout", "", ""); w.Code != http.StatusOK {
		t.Errorf("/auth/logout: status = %d", w.Code)
	}

	w := tr.do(http.MethodGet, "/health", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ok"`) {
		t.Errorf("/health: status = %d body %s", w.Code, w.Body.String())
	}
}

func TestRouter_LoginRouteAliases(t *testing.T) {
	tr := newTestRouter(t)

	for _, path := range []string{"/auth/login-start", "/auth/discord"} {
		if w := tr.do(http.MethodGet, path, "", ""); w.Code != http.StatusFound {
			t.Errorf("%s: status = %d, want 302", path, w.Code)
		}
	}
	for _, path := range []string{"/auth/login-callback?code=c&state=s", "/auth/discord/callback?code=c&state=s"} {
		if w := tr.do(http.MethodGet, path, "", ""); w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", path, w.Code)
		}
	}
}

func TestRouter_MetricsExposeRoutePatterns(t *testing.T) {
	tr := newTestRouter(t)
	tr.do(http.MethodGet, "/api/commands", "", "")

	w := tr.do(http.MethodGet, "/metrics", "", "")
	if w.Code != http.StatusOK {
		t.Fatalf("/metrics: status = %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), `botdash_http_requests_total{route="/api/commands",status="200"} 1`) {
		t.Errorf("metrics output missing request counter:\n%s", w.Body.String())
	}
}

func TestRouter_StaticFilesWithSPAFallback(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(http.MethodGet, "/app.js", "", "")
	if w.Code != http.StatusOK || w.Body.String() != "console.log(1)" {
		t.Errorf("/app.js: status = %d body %q", w.Code, w.Body.String())
	}

	w = tr.do(http.MethodGet, "/settings/profile", "", "")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "dashboard") {
		t.Errorf("SPA fallback: status = %d body %q", w.Code, w.Body.String())
	}

	if w := tr.do(http.MethodGet, "/api/unknown", "", ""); w.Code != http.StatusNotFound {
		t.Errorf("/api/unknown: status = %d, want 404", w.Code)
	}
}

func TestRouter_AppliesSecurityHeaders(t *testing.T) {
	tr := newTestRouter(t)

	w := tr.do(http.MethodGet, "/health", "", "")
	if w.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("security headers should be applied")
	}
}

// newIngestRouter は受信エンドポイントのバーストを2にしたルーターを返す。
func newIngestRouter(t *testing.T, trustProxy bool) http.Handler {
	t.Helper()
	rl := middleware.NewRateLimiter(middleware.RateLimiterConfig{
		AdminRate:       1,
		AdminBurst:      10,
		IngestRate:      0.001,
		IngestBurst:     2,
		CleanupInterval: time.Hour,
	})
	t.Cleanup(rl.Stop)

	return NewRouter(&RouterDeps{
		SessionResolver:   cookieResolver{},
		AdminChecker:      &mockAdminChecker{},
		RateLimiter:       rl,
		TrustProxyHeaders: trustProxy,
		AuthService:       &mockAuthService{},
		Catalog:           &mockCatalogService{},
		Admins:            &mockAdminService{},
		InvocationLog:     &mockInvocationLog{},
		Bot:               &mockBotService{},
	})
}

func ingestFrom(h http.Handler, forwardedFor string) int {
	req := httptest.NewRequest(http.MethodPost, "/api/bot/command-log", strings.NewReader(`{"commandName":"ping"}`))
	req.RemoteAddr = "203.0.113.7:40000"
	req.Header.Set("X-Forwarded-For", forwardedFor)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w.Code
}

func TestRouter_IngestLimit_IgnoresForwardedHeadersByDefault(t *testing.T) {
	h := newIngestRouter(t, false)

	codes := []int{
		ingestFrom(h, "10.0.0.1"),
		ingestFrom(h, "10.0.0.2"),
		ingestFrom(h, "10.0.0.3"),
	}

	if codes[0] != http.StatusOK || codes[1] != http.StatusOK {
		t.Fatalf("first two requests = %v, want 200", codes[:2])
	}
	if codes[2] != http.StatusTooManyRequests {
		t.Errorf("spoofed X-Forwarded-For should not reset the limit, got %d", codes[2])
	}
}

func TestRouter_IngestLimit_TrustedProxyKeysByForwardedIP(t *testing.T) {
	h := newIngestRouter(t, true)

	for i, ip := range []string{"10.0.0.1", "10.0.0.1", "10.0.0.2"} {
		if code := ingestFrom(h, ip); code != http.StatusOK {
			t.Errorf("request %d from %s: status = %d, want 200", i, ip, code)
		}
	}
	if code := ingestFrom(h, "10.0.0.1"); code != http.StatusTooManyRequests {
		t.Errorf("third request from 10.0.0.1: status = %d, want 429", code)
	}
}
