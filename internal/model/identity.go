package model

import "time"

// Identity はOAuthハンドシェイクで検証されたDiscordユーザーを表す。
// セッションに排他的に所有され、ログアウトまたは期限切れで破棄される。
type Identity struct {
	ID          string `json:"id"`
	DisplayName string `json:"username"`
	AvatarRef   string `json:"avatar,omitempty"`
}

// Session はブラウザクライアント1つに対するサーバー側の状態を表す。
// OAuthStateが空でなければハンドシェイク中（PENDING）、
// Identityが非nilなら認証済み（AUTHENTICATED）。
type Session struct {
	ID         string    `json:"id"`
	OAuthState string    `json:"oauth_state,omitempty"`
	Identity   *Identity `json:"identity,omitempty"`
	ExpiresAt  time.Time `json:"expires_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// Authenticated はセッションが認証済みIdentityを保持しているかを返す。
func (s *Session) Authenticated() bool {
	return s != nil && s.Identity != nil && s.Identity.ID != ""
}
