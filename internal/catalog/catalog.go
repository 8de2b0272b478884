// Package catalog はDiscordのアプリケーションコマンドと手動コマンドを
// 統合したコマンドカタログを提供する。
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/hitoshi/botdash/internal/model"
	"github.com/hitoshi/botdash/internal/security"
	"github.com/hitoshi/botdash/internal/store"
)

// RemoteSource はリモートのコマンド一覧を提供する。discord.Clientが満たす。
type RemoteSource interface {
	ListApplicationCommands(ctx context.Context) ([]model.RemoteCommand, error)
}

// DocumentStore はCatalogが必要とする永続化層のインターフェース。
type DocumentStore interface {
	Read(ctx context.Context, doc store.Document, v any) error
	Update(ctx context.Context, doc store.Document, v any, mutate func() error) error
}

// FetchRecorder はリモート取得のレイテンシを記録する。metrics.Collectorが満たす。
type FetchRecorder interface {
	RecordCatalogFetch(duration time.Duration, err error)
}

// ManualCommandInput は手動コマンド追加の入力。
type ManualCommandInput struct {
	Name                 string
	Description          string
	Permissions          *string
	AllowInDirectMessage bool
}

// Catalog はリモートと手動のコマンドを結合する。
// 読み取りのたびにリモートを取得し直し、キャッシュしない。
type Catalog struct {
	remote   RemoteSource
	store    DocumentStore
	markup   security.MarkupChecker
	recorder FetchRecorder
	newID    func() string
}

// NewCatalog はCatalogを生成する。recorderはnilでもよい。
func NewCatalog(remote RemoteSource, s DocumentStore, markup security.MarkupChecker, recorder FetchRecorder) *Catalog {
	return &Catalog{
		remote:   remote,
		store:    s,
		markup:   markup,
		recorder: recorder,
		newID: func() string {
			return "manual_" + uuid.NewString()
		},
	}
}

// List はリモートコマンドの後に手動コマンドを連結して返す。
// リモート取得に失敗した場合は手動分だけに縮退せず、CatalogUnavailableで失敗する。
func (c *Catalog) List(ctx context.Context) ([]model.CatalogEntry, error) {
	start := time.Now()
	remote, err := c.remote.ListApplicationCommands(ctx)
	if c.recorder != nil {
		c.recorder.RecordCatalogFetch(time.Since(start), err)
	}
	if err != nil {
		slog.Error("failed to fetch remote commands", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %w", model.ErrCatalogUnavailable, err)
	}

	manual, err := c.ListManual(ctx)
	if err != nil {
		return nil, err
	}

	entries := make([]model.CatalogEntry, 0, len(remote)+len(manual))
	for _, rc := range remote {
		entries = append(entries, model.CatalogEntry{
			Source:               model.CommandSourceRemote,
			ID:                   rc.ID,
			Name:                 rc.Name,
			Description:          rc.Description,
			Permissions:          rc.Permissions,
			AllowInDirectMessage: rc.AllowInDirectMessage,
			Type:                 rc.Kind,
		})
	}
	for _, mc := range manual {
		allow := mc.AllowInDirectMessage
		entries = append(entries, model.CatalogEntry{
			Source:               model.CommandSourceManual,
			ID:                   mc.ID,
			Name:                 mc.Name,
			Description:          mc.Description,
			Permissions:          mc.Permissions,
			AllowInDirectMessage: &allow,
			Type:                 model.ManualCommandKind,
		})
	}
	return entries, nil
}

// ListManual は永続化された手動コマンドを保存順で返す。
func (c *Catalog) ListManual(ctx context.Context) ([]model.ManualCommand, error) {
	var manual []model.ManualCommand
	if err := c.store.Read(ctx, store.DocumentManualCommands, &manual); err != nil {
		return nil, fmt.Errorf("failed to read manual commands: %w", err)
	}
	return manual, nil
}

// AddManual は手動コマンドを追加して作成したレコードを返す。
// 入力は書き換えずに保存する。マークアップを含む入力はInvalidInputで拒否する。
// 名前の重複（手動・リモートとも）は検査しない。
func (c *Catalog) AddManual(ctx context.Context, in ManualCommandInput) (*model.ManualCommand, error) {
	if strings.TrimSpace(in.Name) == "" {
		return nil, model.NewInvalidInputError("Name is required")
	}

	var perms *string
	if in.Permissions != nil && *in.Permissions != "" {
		p := *in.Permissions
		perms = &p
	}

	fields := []string{in.Name, in.Description}
	if perms != nil {
		fields = append(fields, *perms)
	}
	for _, f := range fields {
		if c.markup.ContainsMarkup(f) {
			return nil, model.NewInvalidInputError("HTML markup is not allowed")
		}
	}

	created := model.ManualCommand{
		ID:                   c.newID(),
		Name:                 in.Name,
		Description:          in.Description,
		Permissions:          perms,
		AllowInDirectMessage: in.AllowInDirectMessage,
		Type:                 model.ManualCommandKind,
	}

	var manual []model.ManualCommand
	err := c.store.Update(ctx, store.DocumentManualCommands, &manual, func() error {
		manual = append(manual, created)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to add manual command: %w", err)
	}

	slog.Info("manual command added",
		slog.String("id", created.ID),
		slog.String("name", created.Name),
	)
	return &created, nil
}

// RemoveManual は名前が完全一致する最初の手動コマンドを削除する。
func (c *Catalog) RemoveManual(ctx context.Context, name string) error {
	if strings.TrimSpace(name) == "" {
		return model.NewInvalidInputError("name is required")
	}

	var manual []model.ManualCommand
	err := c.store.Update(ctx, store.DocumentManualCommands, &manual, func() error {
		for i, mc := range manual {
			if mc.Name == name {
				manual = append(manual[:i], manual[i+1:]...)
				return nil
			}
		}
		return model.NewNotFoundError("Command")
	})
	if err != nil {
		if errors.Is(err, model.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to remove manual command: %w", err)
	}

	slog.Info("manual command removed", slog.String("name", name))
	return nil
}
