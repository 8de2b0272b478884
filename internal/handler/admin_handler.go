package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/botdash/internal/admin"
	"github.com/hitoshi/botdash/internal/model"
)

// commandLogLimit は管理画面に返す呼び出し履歴の最大件数。
const commandLogLimit = 200

// AdminServiceInterface は管理者ハンドラーが必要とするサービスインターフェース。
type AdminServiceInterface interface {
	Entries(ctx context.Context) ([]admin.Entry, error)
	Add(ctx context.Context, id string) ([]string, error)
	Remove(ctx context.Context, id string) ([]string, error)
}

// InvocationLogReader は呼び出し履歴の読み取りインターフェース。
type InvocationLogReader interface {
	Recent(n int) []model.InvocationRecord
}

// AnalyticsProvider はギルド統計を提供する。
type AnalyticsProvider interface {
	Analytics(ctx context.Context) (*model.Analytics, error)
}

// AdminHandler は管理者専用APIのHTTPハンドラー。
type AdminHandler struct {
	admins    AdminServiceInterface
	logs      InvocationLogReader
	analytics AnalyticsProvider
}

// NewAdminHandler はAdminHandlerを生成する。
func NewAdminHandler(admins AdminServiceInterface, logs InvocationLogReader, analytics AnalyticsProvider) *AdminHandler {
	return &AdminHandler{
		admins:    admins,
		logs:      logs,
		analytics: analytics,
	}
}

type adminChangeRequest struct {
	UserID string `json:"userId"`
}

// addAdminResponse は管理者追加のAPIレスポンス。
type addAdminResponse struct {
	Success bool     `json:"success"`
	Admins  []string `json:"admins"`
}

// ListAdmins は管理者一覧を返す。
// GET /api/admin/admins
func (h *AdminHandler) ListAdmins(w http.ResponseWriter, r *http.Request) {
	entries, err := h.admins.Entries(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// AddAdmin はユーザーを管理者に追加する。
// POST /api/admin/add-admin
func (h *AdminHandler) AddAdmin(w http.ResponseWriter, r *http.Request) {
	var req adminChangeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	admins, err := h.admins.Add(r.Context(), req.UserID)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, addAdminResponse{Success: true, Admins: admins})
}

// RemoveAdmin はユーザーを管理者から外す。保護された管理者は外せない。
// POST /api/admin/remove-admin
func (h *AdminHandler) RemoveAdmin(w http.ResponseWriter, r *http.Request) {
	var req adminChangeRequest
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	if _, err := h.admins.Remove(r.Context(), req.UserID); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSuccess(w)
}

// CommandLogs は直近の呼び出し履歴を古い順で返す。
// GET /api/admin/command-logs
func (h *AdminHandler) CommandLogs(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.logs.Recent(commandLogLimit))
}

// Analytics はギルド数と概算メンバー数を返す。
// GET /api/admin/analytics
func (h *AdminHandler) Analytics(w http.ResponseWriter, r *http.Request) {
	a, err := h.analytics.Analytics(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}
