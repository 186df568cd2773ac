// internal/llm/errors.go
package llm

import (
	"fmt"
	"net/http"
	"strings"
)

// APIError 远端返回的错误，提供者负责把各自客户端的错误转换成这个类型
type APIError struct {
	Provider   string
	StatusCode int
	Status     string // 例如 RESOURCE_EXHAUSTED、UNAUTHENTICATED
	Message    string
}

func (e *APIError) Error() string {
	if e.Status != "" {
		return fmt.Sprintf("%s API错误 (%d %s): %s", e.Provider, e.StatusCode, e.Status, e.Message)
	}
	return fmt.Sprintf("%s API错误 (%d): %s", e.Provider, e.StatusCode, e.Message)
}

// IsAuth 凭据缺失、无效或被拒绝
func (e *APIError) IsAuth() bool {
	switch e.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return true
	case http.StatusBadRequest:
		return MentionsAPIKey(e.Message)
	}
	return e.Status == "UNAUTHENTICATED" || e.Status == "PERMISSION_DENIED"
}

// IsRateLimit 配额或频率限制
func (e *APIError) IsRateLimit() bool {
	return e.StatusCode == http.StatusTooManyRequests ||
		e.Status == "RESOURCE_EXHAUSTED" ||
		MentionsQuota(e.Message)
}

// MentionsAPIKey 错误文本是否指向 API 密钥问题
func MentionsAPIKey(msg string) bool {
	return containsFold(msg, "API key") || containsFold(msg, "API_KEY")
}

// MentionsQuota 错误文本是否指向配额问题
func MentionsQuota(msg string) bool {
	return containsFold(msg, "quota")
}

func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
