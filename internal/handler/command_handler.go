package handler

import (
	"context"
	"net/http"

	"github.com/hitoshi/botdash/internal/catalog"
	"github.com/hitoshi/botdash/internal/model"
)

// CatalogServiceInterface はコマンドハンドラーが必要とするサービスインターフェース。
type CatalogServiceInterface interface {
	List(ctx context.Context) ([]model.CatalogEntry, error)
	AddManual(ctx context.Context, in catalog.ManualCommandInput) (*model.ManualCommand, error)
	RemoveManual(ctx context.Context, name string) error
}

// CommandHandler はコマンドカタログのHTTPハンドラー。
type CommandHandler struct {
	catalog CatalogServiceInterface
}

// NewCommandHandler はCommandHandlerを生成する。
func NewCommandHandler(c CatalogServiceInterface) *CommandHandler {
	return &CommandHandler{catalog: c}
}

// addManualCommandRequest は手動コマンド追加リクエストのボディ。
// dm_permission は旧フロントエンドとの互換用。どちらも無ければDMを許可する。
type addManualCommandRequest struct {
	Name                 string  `json:"name"`
	Description          string  `json:"description"`
	Permissions          *string `json:"permissions"`
	AllowInDirectMessage *bool   `json:"allowInDirectMessage"`
	DMPermission         *bool   `json:"dm_permission"`
}

type removeManualCommandRequest struct {
	Name string `json:"name"`
}

// ListCommands はリモートと手動を結合したカタログを返す。
// GET /api/commands
func (h *CommandHandler) ListCommands(w http.ResponseWriter, r *http.Request) {
	entries, err := h.catalog.List(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, entries)
}

// AddManualCommand は手動コマンドを追加する。
// POST /api/admin/manual-command
func (h *CommandHandler) AddManualCommand(w http.ResponseWriter, r *http.Request) {
	var req addManualCommandRequest
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	allowDM := true
	switch {
	case req.AllowInDirectMessage != nil:
		allowDM = *req.AllowInDirectMessage
	case req.DMPermission != nil:
		allowDM = *req.DMPermission
	}

	created, err := h.catalog.AddManual(r.Context(), catalog.ManualCommandInput{
		Name:                 req.Name,
		Description:          req.Description,
		Permissions:          req.Permissions,
		AllowInDirectMessage: allowDM,
	})
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, created)
}

// RemoveManualCommand は名前が一致する最初の手動コマンドを削除する。
// DELETE /api/admin/manual-command
func (h *CommandHandler) RemoveManualCommand(w http.ResponseWriter, r *http.Request) {
	var req removeManualCommandRequest
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	if err := h.catalog.RemoveManual(r.Context(), req.Name); err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeSuccess(w)
}
