// internal/services/llm_service.go
package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode"

	jsoniter "github.com/json-iterator/go"
	"github.com/kaptinlin/jsonrepair"

	"github.com/Corphon/ViralScript/internal/config"
	apperrors "github.com/Corphon/ViralScript/internal/errors"
	"github.com/Corphon/ViralScript/internal/llm"
	"github.com/Corphon/ViralScript/internal/models"
	"github.com/Corphon/ViralScript/internal/utils"
)

var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// SettingsSource 提供当前运行时设置
type SettingsSource interface {
	Current() config.Settings
}

// LLMOptions 启动时确定、运行期间不变的选项
type LLMOptions struct {
	BaseURL        string
	RequestTimeout time.Duration // 0 表示只依赖传输层超时
	RepairJSON     bool
}

// StructuredRequest 一次结构化补全请求
type StructuredRequest struct {
	Operation    apperrors.Operation
	Prompt       string
	SystemPrompt string
	Schema       *llm.Schema
	MaxTokens    int
}

// LLMStatus 供设置页和 CLI 展示
type LLMStatus struct {
	Provider             string   `json:"provider"`
	Model                string   `json:"model"`
	Models               []string `json:"models"`
	CredentialConfigured bool     `json:"credential_configured"`
	Ready                bool     `json:"ready"`
	State                string   `json:"state"`
}

// LLMService 所有远程调用的统一入口：凭据检查、调用提供者、提取JSON、结构校验、错误分类
type LLMService struct {
	settings SettingsSource
	opts     LLMOptions
	metrics  *utils.APIMetrics
	logger   *utils.Logger

	providerMutex sync.Mutex
	provider      llm.Provider
	providerKey   string
}

// NewLLMService 创建LLM服务，metrics 为 nil 时使用全局收集器
func NewLLMService(settings SettingsSource, opts LLMOptions, metrics *utils.APIMetrics) *LLMService {
	if metrics == nil {
		metrics = utils.NewAPIMetrics()
	}
	return &LLMService{
		settings: settings,
		opts:     opts,
		metrics:  metrics,
		logger:   utils.GetLogger(),
	}
}

// Status 返回当前提供者与凭据状态，不发起远程调用
func (s *LLMService) Status(cred models.Credential) LLMStatus {
	cur := s.settings.Current()
	st := LLMStatus{
		Provider:             cur.LLMProvider,
		Model:                cur.Model,
		Models:               llm.GetSupportedModelsForProvider(cur.LLMProvider),
		CredentialConfigured: cred.Present(),
	}

	switch {
	case !cred.Present():
		st.State = "API key not configured"
	default:
		if _, err := s.providerFor(cred, cur); err != nil {
			st.State = fmt.Sprintf("Initialization failed: %v", err)
		} else {
			st.Ready = true
			st.State = "Ready"
		}
	}
	return st
}

// providerFor 按 提供者+密钥+地址 缓存一个已初始化的提供者
func (s *LLMService) providerFor(cred models.Credential, cur config.Settings) (llm.Provider, error) {
	sum := sha256.Sum256([]byte(cur.LLMProvider + "\x00" + cred.APIKey + "\x00" + s.opts.BaseURL + "\x00" + cur.Model))
	key := hex.EncodeToString(sum[:])

	s.providerMutex.Lock()
	defer s.providerMutex.Unlock()

	if s.provider != nil && s.providerKey == key {
		return s.provider, nil
	}

	provider, err := llm.GetProvider(cur.LLMProvider, map[string]string{
		"api_key":       cred.APIKey,
		"default_model": cur.Model,
		"base_url":      s.opts.BaseURL,
	})
	if err != nil {
		return nil, err
	}

	s.provider = provider
	s.providerKey = key
	return provider, nil
}

// CreateStructuredCompletion 调用远端并把经过结构校验的JSON解码到 out。
// 返回的错误都是 *errors.AppError，Message 为可直接展示的本地化文本
func (s *LLMService) CreateStructuredCompletion(ctx context.Context, cred models.Credential, req StructuredRequest, out interface{}) (err error) {
	op := req.Operation
	defer func() {
		outcome := "success"
		if err != nil {
			outcome = string(apperrors.TypeOf(err))
			s.metrics.RecordError(outcome, "llm_"+string(op))
		}
		s.metrics.RecordRequestorOutcome(string(op), outcome)
	}()

	// 没有凭据时不发起远程调用
	if !cred.Present() {
		return apperrors.NewConfigurationError(apperrors.MsgKeyMissing, nil)
	}

	cur := s.settings.Current()
	provider, err := s.providerFor(cred, cur)
	if err != nil {
		if errors.Is(err, llm.ErrUnknownProvider) {
			return apperrors.NewUnknownError(op, fmt.Errorf("%w: %s", err, cur.LLMProvider))
		}
		return apperrors.NewConfigurationError(apperrors.MsgKeyInvalid, err)
	}

	if s.opts.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.opts.RequestTimeout)
		defer cancel()
	}

	start := time.Now()
	resp, err := provider.CompleteText(ctx, llm.CompletionRequest{
		Prompt:           req.Prompt,
		SystemPrompt:     req.SystemPrompt,
		MaxTokens:        req.MaxTokens,
		Temperature:      cur.Temperature,
		Model:            cur.Model,
		ResponseMIMEType: "application/json",
		ResponseSchema:   req.Schema,
	})
	if err != nil {
		s.logger.Error("LLM request failed", map[string]interface{}{
			"operation": op,
			"provider":  cur.LLMProvider,
			"model":     cur.Model,
			"error":     err,
		})
		return classifyError(err, op)
	}
	s.metrics.RecordLLMRequest(cur.LLMProvider, cur.Model, resp.TokensUsed, time.Since(start))

	if strings.TrimSpace(resp.Text) == "" {
		return apperrors.NewEmptyResponseError(fmt.Errorf("finish reason: %s", resp.FinishReason))
	}

	if err := s.decodeStructured(resp.Text, req.Schema, out); err != nil {
		s.logger.Warn("LLM response rejected", map[string]interface{}{
			"operation": op,
			"error":     err,
			"length":    len(resp.Text),
		})
		return apperrors.NewParseError(err)
	}
	return nil
}

// decodeStructured 清理文本、解析、结构校验并解码
func (s *LLMService) decodeStructured(raw string, schema *llm.Schema, out interface{}) error {
	text := cleanJSONString(raw)

	var generic interface{}
	if err := jsonAPI.UnmarshalFromString(text, &generic); err != nil {
		if !s.opts.RepairJSON {
			return fmt.Errorf("failed to parse AI response: %w", err)
		}
		repaired, rerr := jsonrepair.JSONRepair(text)
		if rerr != nil {
			return fmt.Errorf("failed to parse AI response: %w", err)
		}
		if err := jsonAPI.UnmarshalFromString(repaired, &generic); err != nil {
			return fmt.Errorf("failed to parse repaired AI response: %w", err)
		}
		text = repaired
	}

	if schema != nil {
		if err := schema.Validate(generic); err != nil {
			return err
		}
	}

	if err := jsonAPI.UnmarshalFromString(text, out); err != nil {
		return fmt.Errorf("failed to decode AI response: %w", err)
	}
	return nil
}

// classifyError 把提供者错误映射到错误分类
func classifyError(err error, op apperrors.Operation) error {
	var appErr *apperrors.AppError
	if errors.As(err, &appErr) {
		return err
	}

	var apiErr *llm.APIError
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.IsAuth():
			return apperrors.NewConfigurationError(apperrors.MsgKeyInvalid, err)
		case apiErr.IsRateLimit():
			return apperrors.NewRateLimitError(err)
		}
		return apperrors.NewUnknownError(op, err)
	}

	// 没有结构化状态时按错误文本判断
	msg := err.Error()
	switch {
	case llm.MentionsAPIKey(msg):
		return apperrors.NewConfigurationError(apperrors.MsgKeyInvalid, err)
	case llm.MentionsQuota(msg):
		return apperrors.NewRateLimitError(err)
	}
	return apperrors.NewUnknownError(op, err)
}

var jsonNoiseReplacer = strings.NewReplacer(
	"```json", "",
	"```JSON", "",
	"```", "",
	"\ufeff", "",
	"\u00a0", " ",
	"\u2028", " ",
	"\u2029", " ",
)

// cleanJSONString 去除代码块标记和控制字符，截取第一个完整的JSON对象或数组
func cleanJSONString(s string) string {
	s = strings.TrimSpace(jsonNoiseReplacer.Replace(s))
	if s == "" {
		return s
	}

	s = strings.Map(func(r rune) rune {
		switch r {
		case '\u200b', '\u200c', '\u200d', '\u2060':
			return -1
		}
		if unicode.IsControl(r) && r != '\n' && r != '\r' && r != '\t' {
			return -1
		}
		return r
	}, s)

	start := strings.IndexAny(s, "[{")
	if start == -1 {
		return s
	}
	s = s[start:]

	open, closing := byte('{'), byte('}')
	if s[0] == '[' {
		open, closing = '[', ']'
	}

	balance := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
		case c == open:
			balance++
		case c == closing:
			balance--
			if balance == 0 {
				return strings.TrimSpace(s[:i+1])
			}
		}
	}

	// 没有匹配的结束符时原样返回，由解析阶段报错或修复
	return strings.TrimSpace(s)
}
