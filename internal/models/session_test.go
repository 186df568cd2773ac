package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestViewHidesDataOutsideItsSteps(t *testing.T) {
	s := NewSession("s1", time.Now())
	s.OriginalScript = "안녕하세요"
	s.Analysis = &Analysis{Tone: "유머러스"}
	s.Generated = &GeneratedContent{Title: "t", Script: "body"}

	v := s.View()
	assert.Nil(t, v.Analysis)
	assert.Nil(t, v.Generated)
	assert.Equal(t, 5, v.ScriptLength)
	assert.Equal(t, RecommendedScriptLength, v.RecommendedMin)

	s.Step = StepSelection
	v = s.View()
	assert.NotNil(t, v.Analysis)
	assert.Nil(t, v.Generated)

	s.Step = StepResult
	v = s.View()
	assert.NotNil(t, v.Analysis)
	assert.Equal(t, "t", v.Generated.Title)
}

func TestResetFields(t *testing.T) {
	s := NewSession("s1", time.Now())
	s.Step = StepResult
	s.OriginalScript = "x"
	s.Analysis = &Analysis{}
	s.Generated = &GeneratedContent{}
	s.Loading = LoadingError
	s.ErrorMessage = "boom"
	s.Version = 7

	s.ResetFields()

	assert.Equal(t, StepInput, s.Step)
	assert.Empty(t, s.OriginalScript)
	assert.Nil(t, s.Analysis)
	assert.Nil(t, s.Generated)
	assert.Equal(t, LoadingIdle, s.Loading)
	assert.Empty(t, s.ErrorMessage)
	assert.Equal(t, uint64(7), s.Version)
}

func TestCopyText(t *testing.T) {
	g := &GeneratedContent{Title: "고양이 키우기", Script: "## 훅\n본문"}
	assert.Equal(t, "# 고양이 키우기\n\n## 훅\n본문", g.CopyText())
}

func TestCredentialPresent(t *testing.T) {
	assert.False(t, Credential{APIKey: "  "}.Present())
	assert.True(t, Credential{APIKey: "k", Source: CredentialEnv}.Present())
}
