package model

import "time"

// BotInfo はホーム画面に表示するボット自身の情報。
type BotInfo struct {
	ID         string `json:"id"`
	Tag        string `json:"tag"`
	Avatar     string `json:"avatar,omitempty"`
	GuildCount int    `json:"guildCount"`
}

// Analytics はギルド数と概算メンバー数のスナップショット。
type Analytics struct {
	GuildCount       int        `json:"guildCount"`
	TotalMemberCount int        `json:"totalMemberCount"`
	LastUpdated      *time.Time `json:"lastUpdated"`
}
