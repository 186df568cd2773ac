// internal/services/analysis_service.go
package services

import (
	"context"
	"strings"

	apperrors "github.com/Corphon/ViralScript/internal/errors"
	"github.com/Corphon/ViralScript/internal/llm"
	"github.com/Corphon/ViralScript/internal/models"
)

// SuggestedTopicCount 每次分析建议的主题数量
const SuggestedTopicCount = 4

// StructuredCompleter 结构化远程调用，LLMService 实现
type StructuredCompleter interface {
	CreateStructuredCompletion(ctx context.Context, cred models.Credential, req StructuredRequest, out interface{}) error
}

var analysisSchema = &llm.Schema{
	Type: llm.TypeObject,
	Properties: map[string]*llm.Schema{
		"structuralAnalysis": {
			Type:        llm.TypeArray,
			Description: "3-5 points describing the script structure",
			Items:       &llm.Schema{Type: llm.TypeString},
			MinItems:    llm.IntPtr(1),
		},
		"tone": {
			Type:        llm.TypeString,
			Description: "overall tone of the script",
		},
		"hookStrategy": {
			Type:        llm.TypeString,
			Description: "how the opening hooks the viewer",
		},
		"suggestedTopics": {
			Type:        llm.TypeArray,
			Description: "exactly 4 new topics that fit the same formula",
			Items:       &llm.Schema{Type: llm.TypeString, MinLength: llm.IntPtr(1)},
			MinItems:    llm.IntPtr(SuggestedTopicCount),
			MaxItems:    llm.IntPtr(SuggestedTopicCount),
		},
	},
	Required: []string{"structuralAnalysis", "tone", "hookStrategy", "suggestedTopics"},
}

// AnalysisService 分析原稿并给出新的主题建议
type AnalysisService struct {
	llm      StructuredCompleter
	settings SettingsSource
}

func NewAnalysisService(completer StructuredCompleter, settings SettingsSource) *AnalysisService {
	return &AnalysisService{llm: completer, settings: settings}
}

// Analyze 发起一次远程调用，不重试。错误为分类后的 *errors.AppError
func (s *AnalysisService) Analyze(ctx context.Context, cred models.Credential, script string) (*models.Analysis, error) {
	script = strings.TrimSpace(script)
	if script == "" {
		return nil, apperrors.NewValidationError(apperrors.MsgScriptRequired, nil)
	}

	cur := s.settings.Current()
	var result models.Analysis
	err := s.llm.CreateStructuredCompletion(ctx, cred, StructuredRequest{
		Operation:    apperrors.OpAnalyze,
		Prompt:       buildAnalysisPrompt(script, cur.OutputLanguage),
		SystemPrompt: analysisSystemPrompt,
		Schema:       analysisSchema,
		MaxTokens:    cur.AnalysisMaxTokens,
	}, &result)
	if err != nil {
		return nil, err
	}

	result.StructuralAnalysis = trimAll(result.StructuralAnalysis)
	result.SuggestedTopics = trimAll(result.SuggestedTopics)
	result.Tone = strings.TrimSpace(result.Tone)
	result.HookStrategy = strings.TrimSpace(result.HookStrategy)
	return &result, nil
}

func trimAll(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, strings.TrimSpace(item))
	}
	return out
}
