// internal/services/generation_service.go
package services

import (
	"context"
	"strings"

	apperrors "github.com/Corphon/ViralScript/internal/errors"
	"github.com/Corphon/ViralScript/internal/llm"
	"github.com/Corphon/ViralScript/internal/models"
)

var generationSchema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"title": {
			Type:        llm.TypeString,
			Description: "click-worthy title",
			MinLength:   llm.IntPtr(1),
		},
		"script": {
			Type:        llm.TypeString,
			Description: "full script in Markdown",
			MinLength:   llm.IntPtr(1),
		},
	},
	Required: []string{"title", "script"},
}

// GenerationService 按原稿结构为新主题写出完整稿件
type GenerationService struct {
	llm      StructuredCompleter
	settings SettingsSource
}

func NewGenerationService(completer StructuredCompleter, settings SettingsSource) *GenerationService {
	return &GenerationService{llm: completer, settings: settings}
}

// Generate 发起一次远程调用，不重试
func (s *GenerationService) Generate(ctx context.Context, cred models.Credential, originalScript, topic string) (*models.GeneratedContent, error) {
	originalScript = strings.TrimSpace(originalScript)
	topic = strings.TrimSpace(topic)
	if originalScript == "" {
		return nil, apperrors.NewValidationError(apperrors.MsgScriptRequired, nil)
	}
	if topic == "" {
		return nil, apperrors.NewValidationError(apperrors.MsgTopicRequired, nil)
	}

	cur := s.settings.Current()
	var result models.GeneratedContent
	err := s.llm.CreateStructuredCompletion(ctx, cred, StructuredRequest{
		Operation:    apperrors.OpGenerate,
		Prompt:       buildGenerationPrompt(originalScript, topic, cur.OutputLanguage),
		SystemPrompt: generationSystemPrompt,
		Schema:       generationSchema,
		MaxTokens:    cur.GenerationMaxTokens,
	}, &result)
	if err != nil {
		return nil, err
	}

	result.Title = strings.TrimSpace(result.Title)
	result.Script = strings.TrimSpace(result.Script)
	return &result, nil
}
