// internal/errors/errors.go
package errors

import (
	"errors"
	"fmt"
)

// ErrorType 定义错误类型
type ErrorType string

const (
	// 通用错误类型
	ErrorTypeValidation ErrorType = "validation_error"
	ErrorTypeNotFound   ErrorType = "not_found"
	ErrorTypeConflict   ErrorType = "conflict"

	// 远程调用错误类型
	ErrorTypeConfiguration ErrorType = "configuration_error"
	ErrorTypeRateLimit     ErrorType = "rate_limit"
	ErrorTypeEmptyResponse ErrorType = "empty_response"
	ErrorTypeParse         ErrorType = "parse_error"
	ErrorTypeUnknown       ErrorType = "unknown_error"
)

// AppError 应用程序错误结构
type AppError struct {
	Type    ErrorType
	Message string // 面向用户的本地化消息
	Err     error
	Code    string
}

// Error 实现 error 接口
func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap 实现错误链接
func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError 创建新的 AppError
func NewAppError(errType ErrorType, message string, originalError error) *AppError {
	return &AppError{
		Type:    errType,
		Message: message,
		Err:     originalError,
		Code:    generateErrorCode(errType),
	}
}

func NewValidationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeValidation, message, originalError)
}

func NewNotFoundError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeNotFound, message, originalError)
}

func NewConflictError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConflict, message, originalError)
}

// NewConfigurationError 凭据缺失或被远端拒绝
func NewConfigurationError(message string, originalError error) *AppError {
	return NewAppError(ErrorTypeConfiguration, message, originalError)
}

// NewRateLimitError 远端因配额或频率拒绝
func NewRateLimitError(originalError error) *AppError {
	return NewAppError(ErrorTypeRateLimit, MsgRateLimited, originalError)
}

// NewEmptyResponseError 远端没有返回可提取的文本
func NewEmptyResponseError(originalError error) *AppError {
	return NewAppError(ErrorTypeEmptyResponse, MsgEmptyResponse, originalError)
}

// NewParseError 回复不是JSON或不符合结构约束
func NewParseError(originalError error) *AppError {
	return NewAppError(ErrorTypeParse, MsgParseFailed, originalError)
}

// NewUnknownError 其他所有失败，消息中包含原始错误文本
func NewUnknownError(op Operation, originalError error) *AppError {
	detail := "unknown error"
	if originalError != nil {
		detail = originalError.Error()
	}
	return NewAppError(ErrorTypeUnknown, fmt.Sprintf(op.unknownTemplate(), detail), originalError)
}

// TypeOf 返回错误类型，非 AppError 视为 unknown
func TypeOf(err error) ErrorType {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type
	}
	return ErrorTypeUnknown
}

// Is 检查错误是否为指定类型
func Is(err error, errType ErrorType) bool {
	var appError *AppError
	if errors.As(err, &appError) {
		return appError.Type == errType
	}
	return false
}

func IsValidationError(err error) bool    { return Is(err, ErrorTypeValidation) }
func IsNotFoundError(err error) bool      { return Is(err, ErrorTypeNotFound) }
func IsConflictError(err error) bool      { return Is(err, ErrorTypeConflict) }
func IsConfigurationError(err error) bool { return Is(err, ErrorTypeConfiguration) }
func IsRateLimitError(err error) bool     { return Is(err, ErrorTypeRateLimit) }
func IsEmptyResponseError(err error) bool { return Is(err, ErrorTypeEmptyResponse) }
func IsParseError(err error) bool         { return Is(err, ErrorTypeParse) }

// UserMessage 将任意错误转换为可以直接展示给用户的本地化消息
func UserMessage(err error, op Operation) string {
	if err == nil {
		return ""
	}
	var appError *AppError
	if errors.As(err, &appError) && appError.Message != "" {
		return appError.Message
	}
	return NewUnknownError(op, err).Message
}

// generateErrorCode 根据错误类型生成错误代码
func generateErrorCode(errType ErrorType) string {
	switch errType {
	case ErrorTypeValidation:
		return "VALIDATION_ERROR"
	case ErrorTypeNotFound:
		return "NOT_FOUND"
	case ErrorTypeConflict:
		return "CONFLICT"
	case ErrorTypeConfiguration:
		return "CONFIGURATION_ERROR"
	case ErrorTypeRateLimit:
		return "RATE_LIMIT"
	case ErrorTypeEmptyResponse:
		return "EMPTY_RESPONSE"
	case ErrorTypeParse:
		return "PARSE_ERROR"
	default:
		return "UNKNOWN_ERROR"
	}
}

// WrapError 包装现有错误
func WrapError(err error, message string, errType ErrorType) error {
	if err == nil {
		return nil
	}

	var appError *AppError
	if errors.As(err, &appError) {
		// 已经是 AppError 时保留原类型
		return &AppError{
			Type:    appError.Type,
			Message: fmt.Sprintf("%s: %s", message, appError.Message),
			Err:     appError,
			Code:    appError.Code,
		}
	}

	return NewAppError(errType, message, err)
}
