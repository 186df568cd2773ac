// internal/models/session.go
package models

import (
	"time"
	"unicode/utf8"
)

// Step 会话所处的页面
type Step string

const (
	StepInput     Step = "input"
	StepSelection Step = "selection"
	StepResult    Step = "result"
)

// LoadingState 远程调用状态
type LoadingState string

const (
	LoadingIdle       LoadingState = "idle"
	LoadingAnalyzing  LoadingState = "analyzing"
	LoadingGenerating LoadingState = "generating"
	LoadingComplete   LoadingState = "complete"
	LoadingError      LoadingState = "error"
)

// RecommendedScriptLength 建议的最短原稿长度（字符）
const RecommendedScriptLength = 200

// Analysis 原稿的结构分析结果，整体替换，不做局部修改
type Analysis struct {
	StructuralAnalysis []string `json:"structuralAnalysis"`
	Tone               string   `json:"tone"`
	HookStrategy       string   `json:"hookStrategy"`
	SuggestedTopics    []string `json:"suggestedTopics"`
}

// GeneratedContent 最终生成的标题和 markdown 正文
type GeneratedContent struct {
	Title  string `json:"title"`
	Script string `json:"script"`
}

// CopyText 复制到剪贴板的内容
func (g *GeneratedContent) CopyText() string {
	return "# " + g.Title + "\n\n" + g.Script
}

// Session 单个用户流程的完整状态
type Session struct {
	ID             string
	Step           Step
	OriginalScript string
	Analysis       *Analysis
	Generated      *GeneratedContent // 返回选题后保留但不展示
	Loading        LoadingState
	ErrorMessage   string
	Version        uint64 // 每次发起请求或用户导航时递增
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// NewSession 创建默认状态的会话
func NewSession(id string, now time.Time) *Session {
	return &Session{
		ID:        id,
		Step:      StepInput,
		Loading:   LoadingIdle,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ResetFields 把所有用户数据恢复为默认值，保留标识和版本
func (s *Session) ResetFields() {
	s.Step = StepInput
	s.OriginalScript = ""
	s.Analysis = nil
	s.Generated = nil
	s.Loading = LoadingIdle
	s.ErrorMessage = ""
}

// SessionView 对外暴露的会话快照
type SessionView struct {
	ID             string            `json:"id"`
	Step           Step              `json:"step"`
	OriginalScript string            `json:"original_script"`
	ScriptLength   int               `json:"script_length"`
	RecommendedMin int               `json:"recommended_min_length"`
	Analysis       *Analysis         `json:"analysis,omitempty"`
	Generated      *GeneratedContent `json:"generated,omitempty"`
	Loading        LoadingState      `json:"loading"`
	ErrorMessage   string            `json:"error_message,omitempty"`
	Version        uint64            `json:"version"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// View 生成快照：analysis 仅在选题和结果页可见，generated 仅在结果页可见
func (s *Session) View() SessionView {
	v := SessionView{
		ID:             s.ID,
		Step:           s.Step,
		OriginalScript: s.OriginalScript,
		ScriptLength:   utf8.RuneCountInString(s.OriginalScript),
		RecommendedMin: RecommendedScriptLength,
		Loading:        s.Loading,
		ErrorMessage:   s.ErrorMessage,
		Version:        s.Version,
		UpdatedAt:      s.UpdatedAt,
	}
	if s.Step == StepSelection || s.Step == StepResult {
		v.Analysis = s.Analysis
	}
	if s.Step == StepResult {
		v.Generated = s.Generated
	}
	return v
}
