// Package auth はDiscord OAuthによるログインハンドシェイクとセッション管理を提供する。
//
// セッションは ANONYMOUS → PENDING（state発行済み）→ AUTHENTICATED と遷移する。
// stateは1回限りで、コールバックの成否に関わらず消費される。
package auth

import (
	"context"
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"time"

	"github.com/hitoshi/botdash/internal/model"
	"github.com/hitoshi/botdash/internal/repository"
)

const (
	// stateLength はOAuth stateトークンの文字数。
	stateLength   = 32
	stateAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789"
)

// OAuthProvider はOAuth認証プロバイダーのインターフェース。
type OAuthProvider interface {
	// LoginURL はstateを埋め込んだ認可URLを生成する。
	LoginURL(state string) string
	// Exchange は認可コードを交換し、検証済みのIdentityを返す。
	Exchange(ctx context.Context, code string) (*model.Identity, error)
}

// LoginRecorder はログイン結果を記録する。metrics.Collectorが満たす。
type LoginRecorder interface {
	RecordOAuthLogin(outcome string)
}

// ServiceConfig は認証サービスの設定。
type ServiceConfig struct {
	SessionMaxAge time.Duration
}

// Service は認証に関するビジネスロジックを提供する。
type Service struct {
	oauth    OAuthProvider
	sessions repository.SessionRepository
	codec    *CookieCodec
	recorder LoginRecorder
	config   ServiceConfig
	now      func() time.Time
}

// NewService はServiceを生成する。recorderはnilでもよい。
func NewService(
	oauth OAuthProvider,
	sessions repository.SessionRepository,
	codec *CookieCodec,
	recorder LoginRecorder,
	config ServiceConfig,
) *Service {
	return &Service{
		oauth:    oauth,
		sessions: sessions,
		codec:    codec,
		recorder: recorder,
		config:   config,
		now:      time.Now,
	}
}

// BeginLogin はstateを発行してセッションに紐付け、認可URLを返す。
// 有効なセッションが無い場合は新しいセッションを作成する。
func (s *Service) BeginLogin(ctx context.Context, session *model.Session) (*model.Session, string, error) {
	if session == nil {
		var err error
		session, err = s.newSession()
		if err != nil {
			return nil, "", err
		}
	}

	state, err := generateState()
	if err != nil {
		return nil, "", fmt.Errorf("failed to generate oauth state: %w", err)
	}
	session.OAuthState = state

	if err := s.sessions.Save(ctx, session); err != nil {
		return nil, "", fmt.Errorf("failed to save pending session: %w", err)
	}

	return session, s.oauth.LoginURL(state), nil
}

// CompleteLogin はコールバックを検証し、成功時は新しいIDの認証済みセッションを返す。
// 受け取ったstateはセッションに保存したものと定数時間で比較し、不一致の理由は区別しない。
func (s *Service) CompleteLogin(ctx context.Context, session *model.Session, code, state string) (*model.Session, error) {
	var expected string
	if session != nil {
		expected = session.OAuthState
		if expected != "" {
			session.OAuthState = ""
			if err := s.sessions.Save(ctx, session); err != nil {
				return nil, fmt.Errorf("failed to consume oauth state: %w", err)
			}
		}
	}

	if code == "" || state == "" || expected == "" ||
		subtle.ConstantTimeCompare([]byte(state), []byte(expected)) != 1 {
		slog.Warn("oauth state mismatch")
		s.record("invalid_state")
		return nil, model.ErrInvalidState
	}

	identity, err := s.oauth.Exchange(ctx, code)
	if err != nil {
		switch {
		case errors.Is(err, model.ErrTokenExchangeFailed):
			s.record("token_exchange_failed")
		case errors.Is(err, model.ErrProfileFetchFailed):
			s.record("profile_fetch_failed")
		case errors.Is(err, model.ErrUpstreamTimeout):
			s.record("timeout")
		default:
			s.record("error")
		}
		return nil, err
	}

	// セッション固定攻撃対策としてIDを振り直す
	authenticated, err := s.newSession()
	if err != nil {
		return nil, err
	}
	authenticated.Identity = identity
	if err := s.sessions.Save(ctx, authenticated); err != nil {
		return nil, fmt.Errorf("failed to save session: %w", err)
	}
	if err := s.sessions.DeleteByID(ctx, session.ID); err != nil {
		slog.Warn("failed to delete pre-login session",
			slog.String("error", err.Error()),
		)
	}

	s.record("success")
	slog.Info("user logged in",
		slog.String("user_id", identity.ID),
		slog.String("username", identity.DisplayName),
	)
	return authenticated, nil
}

// Logout はセッションを破棄する。セッションが無くても成功する。
func (s *Service) Logout(ctx context.Context, session *model.Session) error {
	if session == nil {
		return nil
	}
	if err := s.sessions.DeleteByID(ctx, session.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	if session.Identity != nil {
		slog.Info("user logged out", slog.String("user_id", session.Identity.ID))
	}
	return nil
}

// ResolveSession はCookieの値からセッションを引く。
// 改ざん・期限切れ・未知のトークンは匿名（nil, nil）として扱う。
func (s *Service) ResolveSession(ctx context.Context, cookieValue string) (*model.Session, error) {
	if cookieValue == "" {
		return nil, nil
	}
	id, err := s.codec.Decode(cookieValue)
	if err != nil {
		slog.Debug("rejected session cookie", slog.String("error", err.Error()))
		return nil, nil
	}
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to find session: %w", err)
	}
	return session, nil
}

// CookieValue はセッションをCookieに載せる署名付きトークンに変換する。
func (s *Service) CookieValue(session *model.Session) (string, error) {
	return s.codec.Encode(session.ID, session.ExpiresAt)
}

// SessionMaxAge はセッションの有効期間を返す。
func (s *Service) SessionMaxAge() time.Duration {
	return s.config.SessionMaxAge
}

func (s *Service) newSession() (*model.Session, error) {
	id, err := generateSessionID()
	if err != nil {
		return nil, fmt.Errorf("failed to generate session ID: %w", err)
	}
	now := s.now()
	return &model.Session{
		ID:        id,
		ExpiresAt: now.Add(s.config.SessionMaxAge),
		CreatedAt: now,
	}, nil
}

func (s *Service) record(outcome string) {
	if s.recorder != nil {
		s.recorder.RecordOAuthLogin(outcome)
	}
}

// generateSessionID は暗号的に安全なセッションIDを生成する。
func generateSessionID() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// generateState は英数字62文字から一様に選んだstateを生成する。
func generateState() (string, error) {
	alphabetLen := big.NewInt(int64(len(stateAlphabet)))
	b := make([]byte, stateLength)
	for i := range b {
		n, err := rand.Int(rand.Reader, alphabetLen)
		if err != nil {
			return "", err
		}
		b[i] = stateAlphabet[n.Int64()]
	}
	return string(b), nil
}
