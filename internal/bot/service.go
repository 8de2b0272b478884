// Package bot はボット自身の情報とギルド統計を提供する。
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/hitoshi/botdash/internal/discord"
	"github.com/hitoshi/botdash/internal/model"
)

// Provider はボットの状態を取得する外部依存。discord.Clientが満たす。
type Provider interface {
	CurrentBotUser(ctx context.Context) (*discord.User, error)
	ListGuilds(ctx context.Context) ([]discord.Guild, error)
}

// infoSnapshotMaxAge はInfoがギルド数を再取得せずに使うスナップショットの有効期間。
const infoSnapshotMaxAge = 5 * time.Minute

// Service はボット情報と統計スナップショットを提供する。
// 最後に取得できた統計をキャッシュし、取得失敗時はそれを返す。
type Service struct {
	provider Provider
	now      func() time.Time

	mu       sync.Mutex
	snapshot *model.Analytics

	// Infoからの再取得を1つに絞る
	refreshMu sync.Mutex
}

// NewService はServiceを生成する。
func NewService(provider Provider) *Service {
	return &Service{provider: provider, now: time.Now}
}

// Info はボットのID・タグ・アバター・参加ギルド数を返す。
// ギルド数は有効期間内のスナップショットがあればそれを使い、ギルド一覧は取得しない。
// ボットユーザーを取得できない場合はBotNotReadyを返す。
func (s *Service) Info(ctx context.Context) (*model.BotInfo, error) {
	user, err := s.provider.CurrentBotUser(ctx)
	if err != nil {
		slog.Warn("bot user unavailable", slog.String("error", err.Error()))
		return nil, fmt.Errorf("%w: %v", model.ErrBotNotReady, err)
	}

	guildCount, err := s.cachedGuildCount(ctx)
	if err != nil {
		return nil, err
	}

	return &model.BotInfo{
		ID:         user.ID,
		Tag:        user.Tag(),
		Avatar:     user.AvatarURL(),
		GuildCount: guildCount,
	}, nil
}

// cachedGuildCount は新しいスナップショットのギルド数を返す。
// 無いか古い場合だけAnalyticsで再取得する。同時に来たリクエストは1回の再取得を待つ。
func (s *Service) cachedGuildCount(ctx context.Context) (int, error) {
	if snap := s.freshSnapshot(); snap != nil {
		return snap.GuildCount, nil
	}

	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	if snap := s.freshSnapshot(); snap != nil {
		return snap.GuildCount, nil
	}

	analytics, err := s.Analytics(ctx)
	if err != nil {
		return 0, err
	}
	return analytics.GuildCount, nil
}

func (s *Service) freshSnapshot() *model.Analytics {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.snapshot == nil || s.snapshot.LastUpdated == nil {
		return nil
	}
	if s.now().Sub(*s.snapshot.LastUpdated) >= infoSnapshotMaxAge {
		return nil
	}
	snap := *s.snapshot
	return &snap
}

// Analytics はギルド数と概算メンバー総数を再取得して返す。
// 再取得に失敗した場合は前回のスナップショットを返し、それも無ければBotNotReadyを返す。
func (s *Service) Analytics(ctx context.Context) (*model.Analytics, error) {
	guilds, err := s.provider.ListGuilds(ctx)
	if err != nil {
		s.mu.Lock()
		defer s.mu.Unlock()
		if s.snapshot == nil {
			slog.Warn("guild list unavailable and no cached analytics", slog.String("error", err.Error()))
			return nil, fmt.Errorf("%w: %v", model.ErrBotNotReady, err)
		}
		slog.Warn("guild list unavailable, serving cached analytics",
			slog.String("error", err.Error()),
			slog.Time("last_updated", *s.snapshot.LastUpdated),
		)
		cached := *s.snapshot
		return &cached, nil
	}

	total := 0
	for _, g := range guilds {
		total += g.ApproximateMemberCount
	}
	updated := s.now().UTC()
	snap := model.Analytics{
		GuildCount:       len(guilds),
		TotalMemberCount: total,
		LastUpdated:      &updated,
	}

	s.mu.Lock()
	s.snapshot = &snap
	s.mu.Unlock()

	out := snap
	return &out, nil
}
