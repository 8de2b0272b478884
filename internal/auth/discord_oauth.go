package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"

	"github.com/hitoshi/botdash/internal/discord"
	"github.com/hitoshi/botdash/internal/model"
)

const defaultDiscordAPIBaseURL = "https://discord.com/api/v10"

// DiscordOAuthConfig はDiscord OAuthプロバイダーの設定。
type DiscordOAuthConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	// APIBaseURL は /oauth2/authorize, /oauth2/token, /users/@me の基点。テスト用に差し替え可能。
	APIBaseURL string
	// Timeout はトークン交換とプロフィール取得それぞれのタイムアウト。
	Timeout time.Duration
}

// DiscordOAuthProvider はDiscord OAuth 2.0の認可コードフローを提供する。
type DiscordOAuthProvider struct {
	oauth      *oauth2.Config
	profileURL string
	httpClient *http.Client
}

// NewDiscordOAuthProvider はDiscordOAuthProviderを生成する。
func NewDiscordOAuthProvider(config DiscordOAuthConfig) *DiscordOAuthProvider {
	base := strings.TrimRight(config.APIBaseURL, "/")
	if base == "" {
		base = defaultDiscordAPIBaseURL
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = discord.DefaultTimeout
	}

	return &DiscordOAuthProvider{
		oauth: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   base + "/oauth2/authorize",
				TokenURL:  base + "/oauth2/token",
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		profileURL: base + "/users/@me",
		httpClient: &http.Client{Timeout: timeout},
	}
}

// LoginURL はDiscordの認可URLを生成する。
// スコープはidentifyのみで、毎回同意画面を表示させる。
func (p *DiscordOAuthProvider) LoginURL(state string) string {
	return p.oauth.AuthCodeURL(state, oauth2.SetAuthURLParam("prompt", "consent"))
}

// Exchange は認可コードをアクセストークンに交換し、プロフィールからIdentityを構築する。
// 失敗はTokenExchangeFailed・ProfileFetchFailed・UpstreamTimeoutのいずれかでラップされる。
func (p *DiscordOAuthProvider) Exchange(ctx context.Context, code string) (*model.Identity, error) {
	ctx = context.WithValue(ctx, oauth2.HTTPClient, p.httpClient)

	token, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		if discord.IsTimeout(err) {
			return nil, fmt.Errorf("token exchange: %w: %w", model.ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("token exchange: %w: %w", model.ErrTokenExchangeFailed, err)
	}

	user, err := p.fetchProfile(ctx, token)
	if err != nil {
		if discord.IsTimeout(err) {
			return nil, fmt.Errorf("profile fetch: %w: %w", model.ErrUpstreamTimeout, err)
		}
		return nil, fmt.Errorf("profile fetch: %w: %w", model.ErrProfileFetchFailed, err)
	}

	return &model.Identity{
		ID:          user.ID,
		DisplayName: user.Tag(),
		AvatarRef:   user.Avatar,
	}, nil
}

// fetchProfile はアクセストークンで /users/@me を取得する。
func (p *DiscordOAuthProvider) fetchProfile(ctx context.Context, token *oauth2.Token) (*discord.User, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.profileURL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", token.Type()+" "+token.AccessToken)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read profile response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("profile fetch failed with status %d: %s", resp.StatusCode, string(body))
	}

	var user discord.User
	if err := json.Unmarshal(body, &user); err != nil {
		return nil, fmt.Errorf("failed to parse profile response: %w", err)
	}
	if user.ID == "" {
		return nil, errors.New("empty id in profile response")
	}
	return &user, nil
}

// compile-time interface check
var _ OAuthProvider = (*DiscordOAuthProvider)(nil)
