// cmd/viralscript/styles.go
package main

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/lipgloss"

	"github.com/Corphon/ViralScript/internal/models"
)

var (
	accent = lipgloss.Color("#818cf8")
	muted  = lipgloss.Color("#64748b")
	danger = lipgloss.Color("#f87171")

	titleStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#ffffff"))
	labelStyle   = lipgloss.NewStyle().Bold(true).Foreground(accent)
	mutedStyle   = lipgloss.NewStyle().Foreground(muted)
	errorStyle   = lipgloss.NewStyle().Bold(true).Foreground(danger)
	successStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#34d399"))
	boxStyle     = lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("#1e293b")).Padding(0, 1)
)

// formatAnalysis 结构分析的终端展示，主题从 1 开始编号
func formatAnalysis(a *models.Analysis) string {
	var b strings.Builder

	b.WriteString(labelStyle.Render("구조적 특징"))
	b.WriteString("\n")
	for i, point := range a.StructuralAnalysis {
		fmt.Fprintf(&b, "  %d. %s\n", i+1, point)
	}

	b.WriteString("\n")
	b.WriteString(labelStyle.Render("톤") + "  " + a.Tone + "\n")
	b.WriteString(labelStyle.Render("훅 전략") + "  " + a.HookStrategy + "\n\n")

	b.WriteString(labelStyle.Render("이 구조에 딱 맞는 추천 주제"))
	b.WriteString("\n")
	for i, topic := range a.SuggestedTopics {
		fmt.Fprintf(&b, "  [%d] %s\n", i+1, topic)
	}
	b.WriteString(mutedStyle.Render("\n원하는 주제로 생성: viralscript generate --pick N 또는 --topic \"주제\""))

	return boxStyle.Render(b.String())
}

// formatGenerated 标题用 lipgloss，正文 markdown 用 glamour 渲染
func formatGenerated(g *models.GeneratedContent, wrap int) (string, error) {
	renderer, err := glamour.NewTermRenderer(
		glamour.WithAutoStyle(),
		glamour.WithWordWrap(wrap),
	)
	if err != nil {
		return "", fmt.Errorf("初始化 markdown 渲染失败: %w", err)
	}

	body, err := renderer.Render(g.Script)
	if err != nil {
		return "", fmt.Errorf("渲染 markdown 失败: %w", err)
	}

	return mutedStyle.Render("추천 제목") + "\n" + titleStyle.Render(g.Title) + "\n" + body, nil
}
