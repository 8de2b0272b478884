package model

// CommandSource はカタログエントリの出所。
type CommandSource string

const (
	// CommandSourceRemote はDiscordに登録されたアプリケーションコマンド。
	CommandSourceRemote CommandSource = "remote"
	// CommandSourceManual はダッシュボードで手動登録されたコマンド。
	CommandSourceManual CommandSource = "manual"
)

// ManualCommandKind は手動コマンドのtypeフィールドに入る固定値。
const ManualCommandKind = "manual"

// ManualCommand はローカルに永続化される補助コマンド定義。
// 作成後は不変で、名前一致の削除でのみ破棄される。
type ManualCommand struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Description          string  `json:"description"`
	Permissions          *string `json:"permissions"`
	AllowInDirectMessage bool    `json:"allowInDirectMessage"`
	Type                 string  `json:"type"`
}

// RemoteCommand はDiscordから毎回取得するアプリケーションコマンド。
type RemoteCommand struct {
	ID                   string
	Name                 string
	Description          string
	Permissions          *string
	AllowInDirectMessage *bool
	Kind                 string
}

// CatalogEntry はリモートと手動のコマンドを統合した読み取りモデルの1行。
type CatalogEntry struct {
	Source               CommandSource `json:"source"`
	ID                   string        `json:"id"`
	Name                 string        `json:"name"`
	Description          string        `json:"description"`
	Permissions          *string       `json:"permissions"`
	AllowInDirectMessage *bool         `json:"allowInDirectMessage"`
	Type                 string        `json:"type"`
}
