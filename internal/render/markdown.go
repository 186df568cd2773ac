// internal/render/markdown.go
package render

import (
	"bytes"
	"fmt"
	"sync"

	"github.com/microcosm-cc/bluemonday"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/renderer/html"

	"github.com/Corphon/ViralScript/internal/models"
)

var (
	mdOnce   sync.Once
	md       goldmark.Markdown
	sanitize *bluemonday.Policy
)

func setup() {
	md = goldmark.New(
		goldmark.WithExtensions(extension.GFM),
		goldmark.WithRendererOptions(html.WithHardWraps()),
	)
	sanitize = bluemonday.UGCPolicy()
}

// MarkdownToHTML 把模型生成的 markdown 转为经过清洗的 HTML
func MarkdownToHTML(source string) (string, error) {
	mdOnce.Do(setup)

	var buf bytes.Buffer
	if err := md.Convert([]byte(source), &buf); err != nil {
		return "", fmt.Errorf("markdown 转换失败: %w", err)
	}
	return sanitize.Sanitize(buf.String()), nil
}

// Result 结果页展示的数据
type Result struct {
	Title    string `json:"title"`
	Markdown string `json:"markdown"`
	HTML     string `json:"html"`
	CopyText string `json:"copy_text"`
}

// RenderResult 生成结果页数据
func RenderResult(content *models.GeneratedContent) (*Result, error) {
	body, err := MarkdownToHTML(content.Script)
	if err != nil {
		return nil, err
	}
	return &Result{
		Title:    content.Title,
		Markdown: content.Script,
		HTML:     body,
		CopyText: content.CopyText(),
	}, nil
}
