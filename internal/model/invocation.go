package model

import "time"

// InvocationRecord はボットから送られるコマンド使用イベント。
// メモリ上のリングにのみ保持され、再起動で失われる。
type InvocationRecord struct {
	Timestamp   time.Time      `json:"timestamp"`
	UserID      string         `json:"userId"`
	Username    string         `json:"username"`
	CommandName string         `json:"commandName"`
	Options     map[string]any `json:"options"`
	GuildID     string         `json:"guildId,omitempty"`
	ChannelID   string         `json:"channelId,omitempty"`
}
