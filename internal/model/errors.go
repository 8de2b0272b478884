// Package model はドメインモデルを定義する。
package model

import "fmt"

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: auth, validation, admin, catalog, storage, upstream, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Is はエラーコードが一致する場合にtrueを返す。
// errors.Is(err, model.ErrNotFound) のようにセンチネルとの比較に使う。
func (e *APIError) Is(target error) bool {
	t, ok := target.(*APIError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// 定義済みエラーコード
const (
	ErrCodeUnauthenticated     = "UNAUTHENTICATED"
	ErrCodeForbidden           = "FORBIDDEN"
	ErrCodeInvalidInput        = "INVALID_INPUT"
	ErrCodeNotFound            = "NOT_FOUND"
	ErrCodeAlreadyAdmin        = "ALREADY_ADMIN"
	ErrCodeProtectedPrincipal  = "PROTECTED_PRINCIPAL"
	ErrCodeInvalidState        = "INVALID_STATE"
	ErrCodeTokenExchangeFailed = "TOKEN_EXCHANGE_FAILED"
	ErrCodeProfileFetchFailed  = "PROFILE_FETCH_FAILED"
	ErrCodeCatalogUnavailable  = "CATALOG_UNAVAILABLE"
	ErrCodeStorageUnavailable  = "STORAGE_UNAVAILABLE"
	ErrCodeStorageCorrupt      = "STORAGE_CORRUPT"
	ErrCodeUpstreamTimeout     = "UPSTREAM_TIMEOUT"
	ErrCodeBotNotReady         = "BOT_NOT_READY"
	ErrCodeRateLimited         = "RATE_LIMITED"
	ErrCodeInternal            = "INTERNAL_ERROR"
)

// センチネルエラー。errors.Isによるコード比較でのみ使用し、書き換えないこと。
var (
	ErrUnauthenticated = &APIError{
		Code:     ErrCodeUnauthenticated,
		Message:  "Not authenticated",
		Category: "auth",
		Action:   "Log in with Discord.",
	}
	ErrForbidden = &APIError{
		Code:     ErrCodeForbidden,
		Message:  "Not an admin",
		Category: "auth",
		Action:   "Ask an existing admin to grant access.",
	}
	ErrInvalidInput = &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  "Invalid request",
		Category: "validation",
		Action:   "Check the request body.",
	}
	ErrNotFound = &APIError{
		Code:     ErrCodeNotFound,
		Message:  "Not found",
		Category: "validation",
		Action:   "Check the identifier.",
	}
	ErrAlreadyAdmin = &APIError{
		Code:     ErrCodeAlreadyAdmin,
		Message:  "User is already admin",
		Category: "admin",
		Action:   "No change is needed.",
	}
	ErrProtectedPrincipal = &APIError{
		Code:     ErrCodeProtectedPrincipal,
		Message:  "You cannot remove the main admin.",
		Category: "admin",
		Action:   "The main admin is permanent.",
	}
	ErrInvalidState = &APIError{
		Code:     ErrCodeInvalidState,
		Message:  "Invalid OAuth state",
		Category: "auth",
		Action:   "Start the login again.",
	}
	ErrTokenExchangeFailed = &APIError{
		Code:     ErrCodeTokenExchangeFailed,
		Message:  "OAuth token exchange failed",
		Category: "auth",
		Action:   "Start the login again.",
	}
	ErrProfileFetchFailed = &APIError{
		Code:     ErrCodeProfileFetchFailed,
		Message:  "Failed to fetch Discord profile",
		Category: "auth",
		Action:   "Start the login again.",
	}
	ErrCatalogUnavailable = &APIError{
		Code:     ErrCodeCatalogUnavailable,
		Message:  "Failed to fetch commands",
		Category: "catalog",
		Action:   "Retry in a moment.",
	}
	ErrStorageUnavailable = &APIError{
		Code:     ErrCodeStorageUnavailable,
		Message:  "Storage is unavailable",
		Category: "storage",
		Action:   "Retry in a moment.",
	}
	ErrStorageCorrupt = &APIError{
		Code:     ErrCodeStorageCorrupt,
		Message:  "Stored data could not be read",
		Category: "storage",
		Action:   "Contact the operator.",
	}
	ErrUpstreamTimeout = &APIError{
		Code:     ErrCodeUpstreamTimeout,
		Message:  "Discord did not respond in time",
		Category: "upstream",
		Action:   "Retry in a moment.",
	}
	ErrBotNotReady = &APIError{
		Code:     ErrCodeBotNotReady,
		Message:  "Bot not ready",
		Category: "upstream",
		Action:   "Retry once the bot is online.",
	}
	ErrRateLimited = &APIError{
		Code:     ErrCodeRateLimited,
		Message:  "Too many requests",
		Category: "system",
		Action:   "Wait and retry after the time in Retry-After.",
	}
)

// NewInvalidInputError は入力不正エラーを生成する。
func NewInvalidInputError(reason string) *APIError {
	return &APIError{
		Code:     ErrCodeInvalidInput,
		Message:  reason,
		Category: "validation",
		Action:   "Check the request body.",
	}
}

// NewNotFoundError は対象未検出エラーを生成する。
func NewNotFoundError(what string) *APIError {
	return &APIError{
		Code:     ErrCodeNotFound,
		Message:  what + " not found",
		Category: "validation",
		Action:   "Check the identifier.",
	}
}

// NewInternalError はクライアント向けの一般的な内部エラーを生成する。
// 詳細はログのみに記録する。
func NewInternalError() *APIError {
	return &APIError{
		Code:     ErrCodeInternal,
		Message:  "Internal server error",
		Category: "system",
		Action:   "Retry in a moment.",
	}
}
