// internal/llm/providers/googlerest/rest.go
package googlerest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/Corphon/ViralScript/internal/llm"
)

// ProviderName 直接调用 generativelanguage REST 接口，不依赖 SDK
const ProviderName = "google-rest"

const defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"

func init() {
	llm.Register(ProviderName, func() llm.Provider {
		return &Provider{
			models: []string{
				"gemini-2.0-flash",
				"gemini-2.5-flash",
				"gemini-2.5-pro",
			},
			baseURL: defaultBaseURL,
		}
	})
}

type Provider struct {
	apiKey       string
	baseURL      string
	client       *http.Client
	defaultModel string
	models       []string
}

func (p *Provider) Initialize(config map[string]string) error {
	apiKey := strings.TrimSpace(config["api_key"])
	if apiKey == "" {
		return errors.New("google api密钥未提供")
	}

	p.apiKey = apiKey
	p.client = &http.Client{}

	if model := config["default_model"]; model != "" {
		p.defaultModel = model
	} else {
		p.defaultModel = "gemini-2.0-flash"
	}

	if baseURL := config["base_url"]; baseURL != "" {
		p.baseURL = strings.TrimRight(baseURL, "/")
	}
	if p.baseURL == "" {
		p.baseURL = defaultBaseURL
	}

	return nil
}

func (p *Provider) GetName() string {
	return ProviderName
}

func (p *Provider) GetSupportedModels() []string {
	return p.models
}

type part struct {
	Text string `json:"text"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type generateResponse struct {
	Candidates []struct {
		Content      content `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

type errorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

func (p *Provider) buildBody(req llm.CompletionRequest) map[string]interface{} {
	genConfig := map[string]interface{}{
		"temperature": req.Temperature,
	}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if req.ResponseMIMEType != "" {
		genConfig["responseMimeType"] = req.ResponseMIMEType
	}
	if req.ResponseSchema != nil {
		genConfig["responseMimeType"] = "application/json"
		genConfig["responseSchema"] = req.ResponseSchema.GeminiSchema()
	}

	body := map[string]interface{}{
		"contents":         []content{{Role: "user", Parts: []part{{Text: req.Prompt}}}},
		"generationConfig": genConfig,
	}
	if req.SystemPrompt != "" {
		body["systemInstruction"] = content{Parts: []part{{Text: req.SystemPrompt}}}
	}
	return body
}

func (p *Provider) CompleteText(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = p.defaultModel
	}

	jsonData, err := json.Marshal(p.buildBody(req))
	if err != nil {
		return nil, err
	}

	apiURL := fmt.Sprintf("%s/models/%s:generateContent", p.baseURL, model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", p.apiKey)

	httpResp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, err
	}
	defer httpResp.Body.Close()

	body, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, err
	}

	if httpResp.StatusCode != http.StatusOK {
		apiErr := &llm.APIError{
			Provider:   ProviderName,
			StatusCode: httpResp.StatusCode,
			Message:    strings.TrimSpace(string(body)),
		}
		var errResp errorResponse
		if json.Unmarshal(body, &errResp) == nil && errResp.Error.Message != "" {
			apiErr.Message = errResp.Error.Message
			apiErr.Status = errResp.Error.Status
		}
		return nil, apiErr
	}

	var response generateResponse
	if err := json.Unmarshal(body, &response); err != nil {
		return nil, fmt.Errorf("解析%s响应失败: %w", ProviderName, err)
	}

	out := &llm.CompletionResponse{
		TokensUsed:   response.UsageMetadata.TotalTokenCount,
		PromptTokens: response.UsageMetadata.PromptTokenCount,
		OutputTokens: response.UsageMetadata.CandidatesTokenCount,
		ModelName:    model,
		ProviderName: ProviderName,
	}

	// 没有候选结果时返回空文本，由上层判定为空响应
	if len(response.Candidates) == 0 {
		return out, nil
	}

	var sb strings.Builder
	for _, pt := range response.Candidates[0].Content.Parts {
		sb.WriteString(pt.Text)
	}
	out.Text = sb.String()
	out.FinishReason = response.Candidates[0].FinishReason
	return out, nil
}
