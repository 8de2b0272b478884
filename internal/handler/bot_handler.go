package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/hitoshi/botdash/internal/model"
)

// BotInfoProvider はボット自身の情報を提供する。
type BotInfoProvider interface {
	Info(ctx context.Context) (*model.BotInfo, error)
}

// InvocationAppender は呼び出し履歴への追記インターフェース。
type InvocationAppender interface {
	Append(rec model.InvocationRecord) model.InvocationRecord
}

// BotHandler はボット情報と呼び出し履歴受信のHTTPハンドラー。
type BotHandler struct {
	bot BotInfoProvider
	log InvocationAppender
}

// NewBotHandler はBotHandlerを生成する。
func NewBotHandler(bot BotInfoProvider, log InvocationAppender) *BotHandler {
	return &BotHandler{
		bot: bot,
		log: log,
	}
}

// commandLogRequest はボットから送られる呼び出しイベント。
// timestampはサーバー側で付与するため受け取らない。
type commandLogRequest struct {
	UserID      string         `json:"userId"`
	Username    string         `json:"username"`
	CommandName string         `json:"commandName"`
	Options     map[string]any `json:"options"`
	GuildID     string         `json:"guildId"`
	ChannelID   string         `json:"channelId"`
}

// Info はボットのID・タグ・アバター・参加ギルド数を返す。
// GET /api/bot/info
func (h *BotHandler) Info(w http.ResponseWriter, r *http.Request) {
	info, err := h.bot.Info(r.Context())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// IngestCommandLog はボットからの呼び出しイベントを記録する。
// 呼び出し元の認証は行わない。値は受け取ったまま保存する。
// POST /api/bot/command-log
func (h *BotHandler) IngestCommandLog(w http.ResponseWriter, r *http.Request) {
	var req commandLogRequest
	if err := decodeJSONBody(r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	rec := h.log.Append(model.InvocationRecord{
		UserID:      req.UserID,
		Username:    req.Username,
		CommandName: req.CommandName,
		Options:     req.Options,
		GuildID:     req.GuildID,
		ChannelID:   req.ChannelID,
	})
	slog.Debug("command invocation recorded",
		slog.String("command", rec.CommandName),
		slog.String("user_id", rec.UserID),
	)
	writeSuccess(w)
}
