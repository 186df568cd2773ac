// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config 存储从环境变量加载的启动配置
type Config struct {
	Port      string `env:"PORT" envDefault:"8080"`
	DataDir   string `env:"DATA_DIR" envDefault:"data"`
	LogDir    string `env:"LOG_DIR" envDefault:"logs"`
	DebugMode bool   `env:"DEBUG_MODE" envDefault:"true"`

	// 凭据的环境默认值，按顺序取第一个非空
	GeminiAPIKey     string `env:"GEMINI_API_KEY"`
	APIKey           string `env:"API_KEY"`
	ViteGeminiAPIKey string `env:"VITE_GEMINI_API_KEY"`

	// LLM相关配置
	LLMProvider         string        `env:"LLM_PROVIDER" envDefault:"google"`
	Model               string        `env:"GEMINI_MODEL" envDefault:"gemini-2.0-flash"`
	BaseURL             string        `env:"GEMINI_BASE_URL"`
	Temperature         float32       `env:"LLM_TEMPERATURE" envDefault:"0.8"`
	AnalysisMaxTokens   int           `env:"ANALYSIS_MAX_TOKENS" envDefault:"2048"`
	GenerationMaxTokens int           `env:"GENERATION_MAX_TOKENS" envDefault:"4096"`
	RequestTimeout      time.Duration `env:"LLM_TIMEOUT" envDefault:"0s"`
	RepairJSON          bool          `env:"LLM_REPAIR_JSON" envDefault:"false"`
	OutputLanguage      string        `env:"OUTPUT_LANGUAGE" envDefault:"Korean"`

	// 存储与凭据
	StorageDriver    string `env:"STORAGE_DRIVER" envDefault:"file"`
	CredentialSlot   string `env:"CREDENTIAL_SLOT" envDefault:"gemini_api_key"`
	CredentialSecret string `env:"CREDENTIAL_SECRET"`

	// 会话与限流
	SessionTTL        time.Duration `env:"SESSION_TTL" envDefault:"24h"`
	AnalysisRateLimit int           `env:"ANALYSIS_RATE_LIMIT" envDefault:"30"`
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("解析环境配置失败: %w", err)
	}

	cfg.LLMProvider = strings.ToLower(strings.TrimSpace(cfg.LLMProvider))
	cfg.StorageDriver = strings.ToLower(strings.TrimSpace(cfg.StorageDriver))

	if cfg.AnalysisMaxTokens <= 0 || cfg.GenerationMaxTokens <= 0 {
		return nil, fmt.Errorf("token 上限必须为正数")
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return nil, fmt.Errorf("temperature 超出范围: %v", cfg.Temperature)
	}

	return cfg, nil
}

// EnvCredential 返回环境中提供的默认 API 密钥
func (c *Config) EnvCredential() string {
	for _, v := range []string{c.GeminiAPIKey, c.APIKey, c.ViteGeminiAPIKey} {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

// EnsureDirectories 创建运行所需的目录
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.DataDir, c.LogDir} {
		if dir == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建目录失败 %s: %w", dir, err)
		}
	}
	return nil
}

// Settings 运行时可修改并持久化的设置
type Settings struct {
	LLMProvider         string  `json:"llm_provider"`
	Model               string  `json:"model"`
	Temperature         float32 `json:"temperature"`
	AnalysisMaxTokens   int     `json:"analysis_max_tokens"`
	GenerationMaxTokens int     `json:"generation_max_tokens"`
	OutputLanguage      string  `json:"output_language"`
}

// Validate 检查设置是否可用
func (s Settings) Validate() error {
	if strings.TrimSpace(s.LLMProvider) == "" {
		return fmt.Errorf("llm_provider 不能为空")
	}
	if strings.TrimSpace(s.Model) == "" {
		return fmt.Errorf("model 不能为空")
	}
	if s.Temperature < 0 || s.Temperature > 2 {
		return fmt.Errorf("temperature 超出范围: %v", s.Temperature)
	}
	if s.AnalysisMaxTokens <= 0 || s.GenerationMaxTokens <= 0 {
		return fmt.Errorf("token 上限必须为正数")
	}
	return nil
}

// Manager 管理持久化在 DataDir/config.json 的运行时设置
type Manager struct {
	mu       sync.RWMutex
	file     string
	settings Settings
}

// NewManager 使用启动配置作为默认值，并合并已保存的设置
func NewManager(cfg *Config) (*Manager, error) {
	m := &Manager{
		file: filepath.Join(cfg.DataDir, "config.json"),
		settings: Settings{
			LLMProvider:         cfg.LLMProvider,
			Model:               cfg.Model,
			Temperature:         cfg.Temperature,
			AnalysisMaxTokens:   cfg.AnalysisMaxTokens,
			GenerationMaxTokens: cfg.GenerationMaxTokens,
			OutputLanguage:      cfg.OutputLanguage,
		},
	}

	// 尝试从文件加载已保存的设置
	if data, err := os.ReadFile(m.file); err == nil {
		saved := m.settings
		if err := json.Unmarshal(data, &saved); err != nil {
			return nil, fmt.Errorf("解析配置文件失败: %w", err)
		}
		if err := saved.Validate(); err == nil {
			m.settings = saved
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveLocked(); err != nil {
		return nil, err
	}
	return m, nil
}

// Current 返回当前设置的副本
func (m *Manager) Current() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

// Update 修改设置并保存到文件，校验失败时不做任何改动
func (m *Manager) Update(fn func(*Settings)) (Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	next := m.settings
	fn(&next)
	if err := next.Validate(); err != nil {
		return m.settings, err
	}

	prev := m.settings
	m.settings = next
	if err := m.saveLocked(); err != nil {
		m.settings = prev
		return prev, err
	}
	return next, nil
}

func (m *Manager) saveLocked() error {
	dir := filepath.Dir(m.file)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("创建配置目录失败: %w", err)
	}

	data, err := json.MarshalIndent(m.settings, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(m.file, data, 0644)
}
