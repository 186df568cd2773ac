// internal/api/error_codes.go
package api

import (
	"net/http"

	apperrors "github.com/Corphon/ViralScript/internal/errors"
)

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorRateLimited   = "RATE_LIMIT_EXCEEDED"

	// 会话相关错误
	ErrorResultMissing = "RESULT_NOT_READY"

	// 设置相关错误
	ErrorSettingsInvalid = "SETTINGS_INVALID"
)

// statusForError 错误类型到 HTTP 状态码
func statusForError(t apperrors.ErrorType) int {
	switch t {
	case apperrors.ErrorTypeValidation:
		return http.StatusBadRequest
	case apperrors.ErrorTypeNotFound:
		return http.StatusNotFound
	case apperrors.ErrorTypeConflict:
		return http.StatusConflict
	case apperrors.ErrorTypeConfiguration:
		return http.StatusBadRequest
	case apperrors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case apperrors.ErrorTypeEmptyResponse, apperrors.ErrorTypeParse:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
