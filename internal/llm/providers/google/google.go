// internal/llm/providers/google/google.go
package google

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"google.golang.org/genai"

	"github.com/Corphon/ViralScript/internal/llm"
)

// ProviderName 通过官方 genai SDK 访问 Gemini
const ProviderName = "google"

func init() {
	llm.Register(ProviderName, func() llm.Provider {
		return &Provider{
			models: []string{
				"gemini-2.0-flash",
				"gemini-2.5-flash",
				"gemini-2.5-pro",
			},
		}
	})
}

type Provider struct {
	client       *genai.Client
	defaultModel string
	models       []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := strings.TrimSpace(config["api_key"])
	if apiKey == "" {
		return errors.New("google api密钥未提供")
	}

	p.defaultModel = config["default_model"]
	if p.defaultModel == "" {
		p.defaultModel = "gemini-2.0-flash"
	}

	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if baseURL := config["base_url"]; baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: baseURL}
	}

	// NewClient 不发起网络请求，只校验配置
	client, err := genai.NewClient(context.Background(), cc)
	if err != nil {
		return err
	}
	p.client = client
	return nil
}

func (p *Provider) GetName() string {
	return ProviderName
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	resp, err := p.client.Models.GenerateContent(ctx, model, genai.Text(req.Prompt), buildConfig(req))
	if err != nil {
		return nil, convertError(err)
	}

	out := &llm.CompletionResponse{
		Text:         resp.Text(),
		ModelName:    model,
		ProviderName: ProviderName,
	}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		out.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if resp.UsageMetadata != nil {
		out.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
		out.PromptTokens = int(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int(resp.UsageMetadata.CandidatesTokenCount)
	}
	return out, nil
}

func buildConfig(req llm.CompletionRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		Temperature: genai.Ptr(req.Temperature),
	}
	if req.MaxTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxTokens)
	}
	if req.SystemPrompt != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemPrompt, genai.RoleUser)
	}
	if req.ResponseMIMEType != "" {
		cfg.ResponseMIMEType = req.ResponseMIMEType
	}
	if req.ResponseSchema != nil {
		cfg.ResponseMIMEType = "application/json"
		cfg.ResponseSchema = toGenaiSchema(req.ResponseSchema)
	}
	return cfg
}

// toGenaiSchema 把通用结构约束转换为 SDK 的 Schema
func toGenaiSchema(s *llm.Schema) *genai.Schema {
	if s == nil {
		return nil
	}

	out := &genai.Schema{
		Type:        genai.Type(strings.ToUpper(s.Type)),
		Description: s.Description,
		Required:    append([]string(nil), s.Required...),
		Items:       toGenaiSchema(s.Items),
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		out.PropertyOrdering = s.PropertyNames()
		for name, prop := range s.Properties {
			out.Properties[name] = toGenaiSchema(prop)
		}
	}
	if s.MinItems != nil {
		out.MinItems = genai.Ptr(int64(*s.MinItems))
	}
	if s.MaxItems != nil {
		out.MaxItems = genai.Ptr(int64(*s.MaxItems))
	}
	return out
}

// convertError 把 SDK 错误转换为 *llm.APIError，其他错误原样返回
func convertError(err error) error {
	for e := err; e != nil; e = errors.Unwrap(e) {
		switch v := any(e).(type) {
		case genai.APIError:
			return fromAPIError(v, err)
		case *genai.APIError:
			if v != nil {
				return fromAPIError(*v, err)
			}
		}
	}
	return err
}

func fromAPIError(apiErr genai.APIError, orig error) error {
	msg := apiErr.Message
	if msg == "" {
		msg = orig.Error()
	}
	code := apiErr.Code
	if code == 0 && apiErr.Status == "RESOURCE_EXHAUSTED" {
		code = http.StatusTooManyRequests
	}
	return &llm.APIError{
		Provider:   ProviderName,
		StatusCode: code,
		Status:     apiErr.Status,
		Message:    msg,
	}
}
