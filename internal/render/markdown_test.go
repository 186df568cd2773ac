package render

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Corphon/ViralScript/internal/models"
)

func TestMarkdownToHTML(t *testing.T) {
	out, err := MarkdownToHTML("## 오프닝\n**굵게** 말하기\n\n- 하나\n- 둘")
	require.NoError(t, err)

	assert.Contains(t, out, "<h2")
	assert.Contains(t, out, "오프닝</h2>")
	assert.Contains(t, out, "<strong>굵게</strong>")
	assert.Contains(t, out, "<li>하나</li>")
}

func TestMarkdownToHTMLSanitizes(t *testing.T) {
	out, err := MarkdownToHTML("안녕 <script>alert(1)</script>\n\n[링크](javascript:alert(1))")
	require.NoError(t, err)

	assert.NotContains(t, out, "<script>")
	assert.NotContains(t, out, "javascript:")
}

func TestRenderResult(t *testing.T) {
	res, err := RenderResult(&models.GeneratedContent{Title: "고양이 키우기의 진실", Script: "첫 줄\n둘째 줄"})
	require.NoError(t, err)

	assert.Equal(t, "고양이 키우기의 진실", res.Title)
	assert.Equal(t, "첫 줄\n둘째 줄", res.Markdown)
	assert.Equal(t, "# 고양이 키우기의 진실\n\n첫 줄\n둘째 줄", res.CopyText)
	assert.Contains(t, res.HTML, "<br")
}
