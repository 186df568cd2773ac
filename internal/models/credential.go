// internal/models/credential.go
package models

import "strings"

// CredentialSource 凭据来源
type CredentialSource string

const (
	CredentialNone   CredentialSource = "none"
	CredentialEnv    CredentialSource = "env"
	CredentialStored CredentialSource = "stored"
	CredentialUser   CredentialSource = "user"
)

// Credential 访问远程服务的 API 密钥，显式传给每个请求
type Credential struct {
	APIKey string
	Source CredentialSource
}

// Present 是否提供了非空密钥
func (c Credential) Present() bool {
	return strings.TrimSpace(c.APIKey) != ""
}

// CredentialStatus 界面展示用，不包含明文
type CredentialStatus struct {
	Configured bool             `json:"configured"`
	Source     CredentialSource `json:"source"`
	Masked     string           `json:"masked,omitempty"`
}
