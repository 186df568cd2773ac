package google

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/Corphon/ViralScript/internal/llm"
)

func TestInitializeRequiresKey(t *testing.T) {
	p := &Provider{}
	assert.Error(t, p.Initialize(map[string]string{"api_key": "  "}))

	require.NoError(t, p.Initialize(map[string]string{"api_key": "test-key"}))
	assert.Equal(t, "gemini-2.0-flash", p.defaultModel)
}

func TestBuildConfig(t *testing.T) {
	schema := &llm.Schema{
		Type: llm.TypeObject,
		Properties: map[string]*llm.Schema{
			"title":  {Type: llm.TypeString},
			"script": {Type: llm.TypeString},
			"tags":   {Type: llm.TypeArray, Items: &llm.Schema{Type: llm.TypeString}, MinItems: llm.IntPtr(4), MaxItems: llm.IntPtr(4)},
		},
		Required: []string{"title", "script"},
	}

	cfg := buildConfig(llm.CompletionRequest{
		Prompt:         "p",
		SystemPrompt:   "sys",
		MaxTokens:      4096,
		Temperature:    0.8,
		ResponseSchema: schema,
	})

	assert.Equal(t, float32(0.8), *cfg.Temperature)
	assert.Equal(t, int32(4096), cfg.MaxOutputTokens)
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.SystemInstruction)
	require.NotNil(t, cfg.ResponseSchema)
	assert.Equal(t, genai.TypeObject, cfg.ResponseSchema.Type)
	assert.Equal(t, []string{"script", "tags", "title"}, cfg.ResponseSchema.PropertyOrdering)

	tags := cfg.ResponseSchema.Properties["tags"]
	assert.Equal(t, genai.TypeArray, tags.Type)
	assert.Equal(t, genai.TypeString, tags.Items.Type)
	assert.Equal(t, int64(4), *tags.MinItems)
}

func TestConvertError(t *testing.T) {
	err := convertError(fmt.Errorf("call: %w", &genai.APIError{Code: 429, Status: "RESOURCE_EXHAUSTED", Message: "quota"}))

	var apiErr *llm.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, 429, apiErr.StatusCode)
	assert.True(t, apiErr.IsRateLimit())

	plain := errors.New("dial tcp: timeout")
	assert.Same(t, plain, convertError(plain))
}
