// Package admin は管理者リストの管理を提供する。
// 保護された管理者（PROTECTED_ID）は常にメンバーであり、削除できない。
package admin

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/hitoshi/botdash/internal/model"
	"github.com/hitoshi/botdash/internal/store"
)

// DocumentStore はRegistryが必要とする永続化層のインターフェース。
type DocumentStore interface {
	Read(ctx context.Context, doc store.Document, v any) error
	Update(ctx context.Context, doc store.Document, v any, mutate func() error) error
}

// ChangeRecorder は管理者リストの変更を記録する。metrics.Collectorが満たす。
type ChangeRecorder interface {
	RecordAdminChange(op string)
}

// Entry は管理者一覧APIの1行。
type Entry struct {
	UserID      string `json:"userId"`
	IsProtected bool   `json:"isProtected"`
}

// Registry は永続化された管理者リスト上の操作を提供する。
// 状態はストアにのみ保持し、呼び出しごとに読み直す。
type Registry struct {
	store       DocumentStore
	protectedID string
	recorder    ChangeRecorder
}

// NewRegistry はRegistryを生成する。recorderはnilでもよい。
func NewRegistry(s DocumentStore, protectedID string, recorder ChangeRecorder) *Registry {
	return &Registry{
		store:       s,
		protectedID: protectedID,
		recorder:    recorder,
	}
}

// ProtectedID は削除不可の管理者IDを返す。
func (r *Registry) ProtectedID() string {
	return r.protectedID
}

// IsProtected はidが保護された管理者かを返す。
func (r *Registry) IsProtected(id string) bool {
	return id == r.protectedID
}

// List は管理者IDを保存順で返す。
// 保存内容に保護IDが欠けていれば（手編集など）追加して永続化してから返す。
func (r *Registry) List(ctx context.Context) ([]string, error) {
	var admins []string
	if err := r.store.Read(ctx, store.DocumentAdmins, &admins); err != nil {
		return nil, fmt.Errorf("failed to read admins: %w", err)
	}
	if slices.Contains(admins, r.protectedID) {
		return admins, nil
	}

	slog.Warn("protected admin missing from stored list, restoring",
		slog.String("protected_id", r.protectedID),
	)
	err := r.store.Update(ctx, store.DocumentAdmins, &admins, func() error {
		admins = r.ensureProtected(admins)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to restore protected admin: %w", err)
	}
	return admins, nil
}

// Entries は一覧APIの形式で管理者を返す。
func (r *Registry) Entries(ctx context.Context) ([]Entry, error) {
	admins, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, len(admins))
	for i, id := range admins {
		entries[i] = Entry{UserID: id, IsProtected: r.IsProtected(id)}
	}
	return entries, nil
}

// IsAdmin はidが管理者かを返す。
func (r *Registry) IsAdmin(ctx context.Context, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	if r.IsProtected(id) {
		return true, nil
	}
	admins, err := r.List(ctx)
	if err != nil {
		return false, err
	}
	return slices.Contains(admins, id), nil
}

// Add はidを管理者に追加し、更新後のリストを返す。
// 既にメンバーの場合はAlreadyAdminエラーを返す。
func (r *Registry) Add(ctx context.Context, id string) ([]string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.NewInvalidInputError("userId is required")
	}

	var admins []string
	err := r.store.Update(ctx, store.DocumentAdmins, &admins, func() error {
		admins = r.ensureProtected(admins)
		if slices.Contains(admins, id) {
			return model.ErrAlreadyAdmin
		}
		admins = append(admins, id)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.record("add")
	slog.Info("admin added", slog.String("user_id", id))
	return admins, nil
}

// Remove はidを管理者から削除し、更新後のリストを返す。
// 保護IDはProtectedPrincipal、非メンバーはNotFoundで失敗する。
func (r *Registry) Remove(ctx context.Context, id string) ([]string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, model.NewInvalidInputError("userId is required")
	}
	if r.IsProtected(id) {
		return nil, model.ErrProtectedPrincipal
	}

	var admins []string
	err := r.store.Update(ctx, store.DocumentAdmins, &admins, func() error {
		idx := slices.Index(admins, id)
		if idx < 0 {
			return model.NewNotFoundError("Admin")
		}
		admins = slices.Delete(admins, idx, idx+1)
		admins = r.ensureProtected(admins)
		return nil
	})
	if err != nil {
		return nil, err
	}

	r.record("remove")
	slog.Info("admin removed", slog.String("user_id", id))
	return admins, nil
}

func (r *Registry) ensureProtected(admins []string) []string {
	if slices.Contains(admins, r.protectedID) {
		return admins
	}
	return append(admins, r.protectedID)
}

func (r *Registry) record(op string) {
	if r.recorder != nil {
		r.recorder.RecordAdminChange(op)
	}
}
