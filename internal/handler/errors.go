package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hitoshi/botdash/internal/middleware"
	"github.com/hitoshi/botdash/internal/model"
)

// writeJSON は200以外も含めJSONレスポンスを書き込む。
func writeJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// successResponse は {"success": true} を表す。
type successResponse struct {
	Success bool `json:"success"`
}

func writeSuccess(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, successResponse{Success: true})
}

// decodeJSONBody はリクエストボディをvにデコードする。
// 不正なJSONはInvalidInputとして扱う。
func decodeJSONBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return model.NewInvalidInputError("Invalid JSON body")
	}
	return nil
}

// handleServiceError はサービス層から返されたエラーを適切なHTTPステータスコードに変換する。
// 5xxに対応するエラーはチェーン全体をログに残し、クライアントには一般的なメッセージのみ返す。
func handleServiceError(w http.ResponseWriter, r *http.Request, err error) {
	// タイムアウトは他の種別に包まれていても504を優先する
	if errors.Is(err, model.ErrUpstreamTimeout) {
		logServerError(r, err, http.StatusGatewayTimeout)
		middleware.WriteErrorResponse(w, http.StatusGatewayTimeout, model.ErrUpstreamTimeout)
		return
	}

	var apiErr *model.APIError
	if !errors.As(err, &apiErr) {
		logServerError(r, err, http.StatusInternalServerError)
		middleware.WriteInternalServerError(w)
		return
	}

	statusCode := mapAPIErrorToHTTPStatus(apiErr)
	if statusCode >= http.StatusInternalServerError {
		logServerError(r, err, statusCode)
	}
	middleware.WriteErrorResponse(w, statusCode, apiErr)
}

func logServerError(r *http.Request, err error, statusCode int) {
	slog.Error("request failed",
		slog.String("method", r.Method),
		slog.String("path", r.URL.Path),
		slog.Int("status", statusCode),
		slog.String("error", err.Error()),
	)
}

// mapAPIErrorToHTTPStatus はAPIErrorコードからHTTPステータスコードにマッピングする。
func mapAPIErrorToHTTPStatus(apiErr *model.APIError) int {
	switch apiErr.Code {
	case model.ErrCodeUnauthenticated:
		return http.StatusUnauthorized
	case model.ErrCodeForbidden:
		return http.StatusForbidden
	case model.ErrCodeInvalidInput, model.ErrCodeAlreadyAdmin,
		model.ErrCodeProtectedPrincipal, model.ErrCodeInvalidState:
		return http.StatusBadRequest
	case model.ErrCodeNotFound:
		return http.StatusNotFound
	case model.ErrCodeRateLimited:
		return http.StatusTooManyRequests
	case model.ErrCodeBotNotReady:
		return http.StatusServiceUnavailable
	case model.ErrCodeUpstreamTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
