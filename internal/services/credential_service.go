// internal/services/credential_service.go
package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	apperrors "github.com/Corphon/ViralScript/internal/errors"
	"github.com/Corphon/ViralScript/internal/models"
	"github.com/Corphon/ViralScript/internal/storage"
	"github.com/Corphon/ViralScript/internal/utils"
)

// 加密存储的值带有此前缀
const sealedPrefix = "enc:v1:"

// CredentialService 管理进程范围内的 API 密钥。
// 启动时环境默认值优先，其次是持久化槽位；用户设置的值会写回槽位
type CredentialService struct {
	mu         sync.RWMutex
	current    models.Credential
	envDefault string
	slot       string
	secret     string
	store      storage.Store
	logger     *utils.Logger
}

// NewCredentialService 加载初始凭据；secret 为空时槽位以明文保存
func NewCredentialService(ctx context.Context, store storage.Store, slot, envDefault, secret string) (*CredentialService, error) {
	s := &CredentialService{
		envDefault: strings.TrimSpace(envDefault),
		slot:       slot,
		secret:     secret,
		store:      store,
		logger:     utils.GetLogger(),
		current:    models.Credential{Source: models.CredentialNone},
	}

	if s.envDefault != "" {
		s.current = models.Credential{APIKey: s.envDefault, Source: models.CredentialEnv}
		return s, nil
	}

	stored, err := s.load(ctx)
	if err != nil {
		return nil, err
	}
	if stored != "" {
		s.current = models.Credential{APIKey: stored, Source: models.CredentialStored}
	}
	return s, nil
}

func (s *CredentialService) load(ctx context.Context) (string, error) {
	raw, err := s.store.Get(ctx, s.slot)
	if errors.Is(err, storage.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("读取凭据失败: %w", err)
	}

	if !strings.HasPrefix(raw, sealedPrefix) {
		return strings.TrimSpace(raw), nil
	}
	if s.secret == "" {
		s.logger.Warn("凭据已加密但未配置 CREDENTIAL_SECRET，忽略已保存的密钥", nil)
		return "", nil
	}
	plain, err := utils.Decrypt(strings.TrimPrefix(raw, sealedPrefix), s.secret)
	if err != nil {
		s.logger.Warn("解密已保存的密钥失败，忽略", map[string]interface{}{"error": err})
		return "", nil
	}
	return strings.TrimSpace(plain), nil
}

// Current 返回当前凭据的副本
func (s *CredentialService) Current() models.Credential {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Status 返回不含明文的凭据状态
func (s *CredentialService) Status() models.CredentialStatus {
	cur := s.Current()
	return models.CredentialStatus{
		Configured: cur.Present(),
		Source:     cur.Source,
		Masked:     utils.MaskSecret(cur.APIKey),
	}
}

// Set 使用用户输入覆盖当前凭据并持久化
func (s *CredentialService) Set(ctx context.Context, apiKey string) (models.CredentialStatus, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return s.Status(), apperrors.NewValidationError(apperrors.MsgKeyRequired, nil)
	}

	value := apiKey
	if s.secret != "" {
		sealed, err := utils.Encrypt(apiKey, s.secret)
		if err != nil {
			return s.Status(), fmt.Errorf("加密凭据失败: %w", err)
		}
		value = sealedPrefix + sealed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Set(ctx, s.slot, value); err != nil {
		return s.statusLocked(), fmt.Errorf("保存凭据失败: %w", err)
	}
	s.current = models.Credential{APIKey: apiKey, Source: models.CredentialUser}

	s.logger.Info("API key updated", map[string]interface{}{
		"masked":    utils.MaskSecret(apiKey),
		"encrypted": s.secret != "",
	})
	return s.statusLocked(), nil
}

// Clear 删除已保存的密钥，回退到环境默认值
func (s *CredentialService) Clear(ctx context.Context) (models.CredentialStatus, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.store.Delete(ctx, s.slot); err != nil {
		return s.statusLocked(), fmt.Errorf("删除凭据失败: %w", err)
	}

	if s.envDefault != "" {
		s.current = models.Credential{APIKey: s.envDefault, Source: models.CredentialEnv}
	} else {
		s.current = models.Credential{Source: models.CredentialNone}
	}

	s.logger.Info("API key cleared", map[string]interface{}{"source": s.current.Source})
	return s.statusLocked(), nil
}

func (s *CredentialService) statusLocked() models.CredentialStatus {
	return models.CredentialStatus{
		Configured: s.current.Present(),
		Source:     s.current.Source,
		Masked:     utils.MaskSecret(s.current.APIKey),
	}
}
