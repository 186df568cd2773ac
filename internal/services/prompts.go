// internal/services/prompts.go
package services

import (
	"fmt"
	"strings"
)

const analysisSystemPrompt = `You are a YouTube algorithm strategist. You study scripts that went viral and extract the "Viral DNA" that made them work: structure, pacing, tone and the way the first seconds hook the viewer.
Return only JSON that follows the provided response schema. Do not add explanations or markdown.`

const generationSystemPrompt = `You are an expert YouTube scriptwriter. You write new scripts that reuse the proven structure of a reference script while changing its subject completely.
Return only JSON that follows the provided response schema. Do not add explanations outside the JSON.`

// buildAnalysisPrompt 分析请求的用户提示
func buildAnalysisPrompt(script, language string) string {
	return fmt.Sprintf(`Analyze the "Original Viral Script" below and extract its Viral DNA.

Task:
1. Describe its structure in 3 to 5 concise points (structuralAnalysis).
2. Describe its tone (tone) and its hook strategy (hookStrategy).
3. Suggest exactly 4 NEW topics that would go viral when written with this exact formula (suggestedTopics).
   The topics must differ from each other and appeal to a general audience or the same niche.

Write every value in %s.

Original Viral Script:
"""
%s
"""`, languageOrDefault(language), script)
}

// buildGenerationPrompt 生成请求的用户提示
func buildGenerationPrompt(script, topic, language string) string {
	return fmt.Sprintf(`Write a COMPLETELY NEW script about the "Target Topic" that follows exactly the same structure, pacing and style as the "Original Viral Script".

Rules:
- The new script must be about the Target Topic only.
- Keep the original's energy level and sentence length patterns.
- Where the original uses rhetorical questions or calls to action, adapt them to the new topic at the same relative positions.
- "title" is a click-worthy title. "script" is the full script in Markdown.
- Write in %s.

Original Viral Script:
"""
%s
"""

Target Topic:
"""
%s
"""`, languageOrDefault(language), script, topic)
}

func languageOrDefault(language string) string {
	if language = strings.TrimSpace(language); language == "" {
		return "Korean"
	}
	if strings.EqualFold(language, "korean") {
		return "Korean (Hangul)"
	}
	return language
}
