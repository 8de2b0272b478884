// Package discord はDiscord REST APIのクライアントを提供する。
// アプリケーションコマンド一覧・ボット自身のユーザー情報・参加ギルド一覧の取得を含む。
package discord

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/hitoshi/botdash/internal/model"
)

const (
	// DefaultBaseURL はDiscord REST APIのベースURL。
	DefaultBaseURL = "https://discord.com/api/v10"
	// DefaultTimeout は外部呼び出しのタイムアウト。
	DefaultTimeout = 10 * time.Second
	// guildPageSize は /users/@me/guilds の1ページあたりの最大件数。
	guildPageSize = 200
	// maxGuildPages はギルド一覧のページング上限。
	maxGuildPages = 50
	userAgent     = "DiscordBot (https://github.com/hitoshi/botdash, 1.0)"
	cdnBaseURL    = "https://cdn.discordapp.com"
)

// User はDiscordユーザーのうちダッシュボードが使うフィールド。
type User struct {
	ID            string `json:"id"`
	Username      string `json:"username"`
	Discriminator string `json:"discriminator"`
	Avatar        string `json:"avatar"`
}

// Tag は "username#discriminator" 形式の表示名を返す。
// 新しいユーザー名体系（discriminatorが"0"）では username のみ。
func (u *User) Tag() string {
	if u.Discriminator == "" || u.Discriminator == "0" {
		return u.Username
	}
	return u.Username + "#" + u.Discriminator
}

// AvatarURL はアバター画像のCDN URLを返す。アバター未設定なら空文字。
func (u *User) AvatarURL() string {
	if u.Avatar == "" {
		return ""
	}
	return cdnBaseURL + "/avatars/" + u.ID + "/" + u.Avatar + ".png"
}

// Guild はボットが参加しているギルドの概要。
type Guild struct {
	ID                     string `json:"id"`
	Name                   string `json:"name"`
	ApproximateMemberCount int    `json:"approximate_member_count"`
}

// applicationCommand はAPIレスポンスのアプリケーションコマンド。
type applicationCommand struct {
	ID                       string  `json:"id"`
	Name                     string  `json:"name"`
	Description              string  `json:"description"`
	DefaultMemberPermissions *string `json:"default_member_permissions"`
	DMPermission             *bool   `json:"dm_permission"`
	Type                     int     `json:"type"`
}

// commandKinds はコマンド種別の数値を表示用の名前に変換する。
var commandKinds = map[int]string{
	1: "chat_input",
	2: "user",
	3: "message",
	4: "primary_entry_point",
}

// Client はボットトークンで認証するDiscord REST APIのクライアント。
type Client struct {
	httpClient    *http.Client
	logger        *slog.Logger
	baseURL       string
	botToken      string
	applicationID string
}

// NewClient はClientの新しいインスタンスを生成する。
// httpClientのTimeoutが0の場合はDefaultTimeoutを設定したクライアントを使う。
func NewClient(httpClient *http.Client, logger *slog.Logger, baseURL, botToken, applicationID string) *Client {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if httpClient.Timeout == 0 {
		c := *httpClient
		c.Timeout = DefaultTimeout
		httpClient = &c
	}
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Client{
		httpClient:    httpClient,
		logger:        logger,
		baseURL:       baseURL,
		botToken:      botToken,
		applicationID: applicationID,
	}
}

// ListApplicationCommands はアプリケーションに登録されたグローバルコマンドを取得する。
func (c *Client) ListApplicationCommands(ctx context.Context) ([]model.RemoteCommand, error) {
	var raw []applicationCommand
	path := "/applications/" + url.PathEscape(c.applicationID) + "/commands"
	if err := c.get(ctx, path, nil, &raw); err != nil {
		return nil, err
	}

	commands := make([]model.RemoteCommand, 0, len(raw))
	for _, rc := range raw {
		kind, ok := commandKinds[rc.Type]
		if !ok {
			kind = strconv.Itoa(rc.Type)
		}
		commands = append(commands, model.RemoteCommand{
			ID:                   rc.ID,
			Name:                 rc.Name,
			Description:          rc.Description,
			Permissions:          rc.DefaultMemberPermissions,
			AllowInDirectMessage: rc.DMPermission,
			Kind:                 kind,
		})
	}
	return commands, nil
}

// CurrentBotUser はボット自身のユーザー情報を取得する。
func (c *Client) CurrentBotUser(ctx context.Context) (*User, error) {
	var u User
	if err := c.get(ctx, "/users/@me", nil, &u); err != nil {
		return nil, err
	}
	return &u, nil
}

// ListGuilds はボットが参加している全ギルドを概算メンバー数付きで取得する。
// 1ページ200件を上限に after パラメータでページングする。
func (c *Client) ListGuilds(ctx context.Context) ([]Guild, error) {
	var all []Guild
	after := ""
	for page := 0; page < maxGuildPages; page++ {
		q := url.Values{}
		q.Set("with_counts", "true")
		q.Set("limit", strconv.Itoa(guildPageSize))
		if after != "" {
			q.Set("after", after)
		}

		var batch []Guild
		if err := c.get(ctx, "/users/@me/guilds", q, &batch); err != nil {
			return nil, err
		}
		all = append(all, batch...)
		if len(batch) < guildPageSize {
			return all, nil
		}
		after = batch[len(batch)-1].ID
	}

	c.logger.Warn("guild pagination limit reached", slog.Int("guild_count", len(all)))
	return all, nil
}

// get はGETリクエストを実行し、レスポンスJSONをvにデコードする。
func (c *Client) get(ctx context.Context, path string, query url.Values, v any) error {
	reqURL := c.baseURL + path
	if len(query) > 0 {
		reqURL += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return fmt.Errorf("HTTPリクエストの作成に失敗しました: %w", err)
	}
	req.Header.Set("Authorization", "Bot "+c.botToken)
	req.Header.Set("User-Agent", userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if IsTimeout(err) {
			c.logger.Error("Discord API request timed out", slog.String("path", path))
			return fmt.Errorf("discord GET %s: %w: %w", path, model.ErrUpstreamTimeout, err)
		}
		c.logger.Error("Discord API request failed",
			slog.String("path", path),
			slog.String("error", err.Error()),
		)
		return fmt.Errorf("discord GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		c.logger.Error("Discord API returned error status",
			slog.String("path", path),
			slog.Int("http_status", resp.StatusCode),
			slog.String("body", string(body)),
		)
		return &StatusError{StatusCode: resp.StatusCode, Path: path}
	}

	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		if IsTimeout(err) {
			return fmt.Errorf("discord GET %s: %w: %w", path, model.ErrUpstreamTimeout, err)
		}
		return fmt.Errorf("レスポンスJSONのパースに失敗しました: %w", err)
	}
	return nil
}

// StatusError はDiscord APIが200以外を返したことを示す。
type StatusError struct {
	StatusCode int
	Path       string
}

// Error はerrorインターフェースを実装する。
func (e *StatusError) Error() string {
	return fmt.Sprintf("discord GET %s: status %d", e.Path, e.StatusCode)
}

// IsTimeout はerrがタイムアウト（コンテキスト期限切れを含む）かどうかを判定する。
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}
