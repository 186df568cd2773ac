// internal/api/handlers.go
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ViralScript/internal/config"
	"github.com/Corphon/ViralScript/internal/llm"
	"github.com/Corphon/ViralScript/internal/models"
	"github.com/Corphon/ViralScript/internal/render"
	"github.com/Corphon/ViralScript/internal/services"
	"github.com/Corphon/ViralScript/internal/utils"
)

// Handler 处理API请求
type Handler struct {
	Sessions    *services.SessionService    // 会话状态机
	Credentials *services.CredentialService // API 密钥
	LLM         *services.LLMService        // 提供者状态
	Settings    *config.Manager             // 运行时设置
	Metrics     *utils.APIMetrics
	Hub         *SessionHub // WebSocket 推送
	Response    *ResponseHelper

	logger    *utils.Logger
	startedAt time.Time
}

// UpdateScriptRequest 保存草稿
type UpdateScriptRequest struct {
	Script string `json:"script"`
}

// AnalyzeRequest script 为空时分析已保存的草稿
type AnalyzeRequest struct {
	Script string `json:"script"`
}

// GenerateRequest 选择建议主题的序号，或填写自定义主题
type GenerateRequest struct {
	TopicIndex *int   `json:"topic_index"`
	Topic      string `json:"topic"`
}

// SetKeyRequest 设置 API 密钥
type SetKeyRequest struct {
	APIKey string `json:"api_key"`
}

// UpdateSettingsRequest 只修改提供了的字段
type UpdateSettingsRequest struct {
	LLMProvider         *string  `json:"llm_provider"`
	Model               *string  `json:"model"`
	Temperature         *float32 `json:"temperature"`
	AnalysisMaxTokens   *int     `json:"analysis_max_tokens"`
	GenerationMaxTokens *int     `json:"generation_max_tokens"`
	OutputLanguage      *string  `json:"output_language"`
}

// bindOptionalJSON 空请求体视为零值
func bindOptionalJSON(c *gin.Context, obj interface{}) error {
	if err := c.ShouldBindJSON(obj); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func isAsync(c *gin.Context) bool {
	async, _ := strconv.ParseBool(c.DefaultQuery("async", "false"))
	return async
}

// IndexPage 单页应用：输入、选题、结果三个视图
func (h *Handler) IndexPage(c *gin.Context) {
	c.HTML(http.StatusOK, "index.html", gin.H{
		"title":           "떡상 영상 복제기 | ViralScript AI",
		"recommendedMin":  models.RecommendedScriptLength,
		"suggestedTopics": services.SuggestedTopicCount,
	})
}

// ------------------------------------------------
// 会话

// CreateSession 创建新会话
func (h *Handler) CreateSession(c *gin.Context) {
	h.Response.Created(c, h.Sessions.Create())
}

// GetSession 获取会话快照
func (h *Handler) GetSession(c *gin.Context) {
	view, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// DeleteSession 删除会话
func (h *Handler) DeleteSession(c *gin.Context) {
	if err := h.Sessions.Delete(c.Param("id")); err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, nil)
}

// UpdateScript 保存输入页草稿
func (h *Handler) UpdateScript(c *gin.Context) {
	var req UpdateScriptRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "잘못된 요청입니다.", err.Error())
		return
	}

	view, err := h.Sessions.UpdateScript(c.Param("id"), req.Script)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// AnalyzeSession 分析原稿。远程调用与请求上下文分离，客户端断开不会取消
func (h *Handler) AnalyzeSession(c *gin.Context) {
	var req AnalyzeRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.Response.BadRequest(c, "잘못된 요청입니다.", err.Error())
		return
	}

	ctx := context.WithoutCancel(c.Request.Context())
	if isAsync(c) {
		view, err := h.Sessions.AnalyzeAsync(ctx, c.Param("id"), req.Script)
		if err != nil {
			h.Response.AppError(c, err)
			return
		}
		h.Response.Accepted(c, view)
		return
	}

	view, err := h.Sessions.Analyze(ctx, c.Param("id"), req.Script)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// GenerateSession 按选择的主题生成稿件
func (h *Handler) GenerateSession(c *gin.Context) {
	var req GenerateRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		h.Response.BadRequest(c, "잘못된 요청입니다.", err.Error())
		return
	}
	choice := services.TopicChoice{Index: req.TopicIndex, Custom: req.Topic}

	ctx := context.WithoutCancel(c.Request.Context())
	if isAsync(c) {
		view, err := h.Sessions.GenerateAsync(ctx, c.Param("id"), choice)
		if err != nil {
			h.Response.AppError(c, err)
			return
		}
		h.Response.Accepted(c, view)
		return
	}

	view, err := h.Sessions.Generate(ctx, c.Param("id"), choice)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, view)
}

// sessionAction 无请求体的状态迁移
func (h *Handler) sessionAction(fn func(id string) (models.SessionView, error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		view, err := fn(c.Param("id"))
		if err != nil {
			h.Response.AppError(c, err)
			return
		}
		h.Response.Success(c, view)
	}
}

// resultView 结果页数据，不在结果页时返回 409
func (h *Handler) resultView(c *gin.Context) (*models.GeneratedContent, bool) {
	view, err := h.Sessions.Get(c.Param("id"))
	if err != nil {
		h.Response.AppError(c, err)
		return nil, false
	}
	if view.Step != models.StepResult || view.Generated == nil {
		h.Response.Error(c, http.StatusConflict, ErrorResultMissing, "아직 생성된 스크립트가 없습니다.")
		return nil, false
	}
	return view.Generated, true
}

// GetResult 标题、markdown、清洗后的 HTML 和复制文本
func (h *Handler) GetResult(c *gin.Context) {
	content, ok := h.resultView(c)
	if !ok {
		return
	}

	result, err := render.RenderResult(content)
	if err != nil {
		h.Response.InternalError(c, "결과를 표시할 수 없습니다.", err.Error())
		return
	}
	h.Response.Success(c, result)
}

// CopyResult 复制到剪贴板的纯文本 "# 标题\n\n正文"
func (h *Handler) CopyResult(c *gin.Context) {
	content, ok := h.resultView(c)
	if !ok {
		return
	}
	h.Response.PlainText(c, content.CopyText())
}

// ------------------------------------------------
// 设置

// GetKeyStatus 密钥状态（不含明文）
func (h *Handler) GetKeyStatus(c *gin.Context) {
	h.Response.Success(c, h.Credentials.Status())
}

// SetKey 保存用户输入的密钥
func (h *Handler) SetKey(c *gin.Context) {
	var req SetKeyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "잘못된 요청입니다.", err.Error())
		return
	}

	status, err := h.Credentials.Set(c.Request.Context(), req.APIKey)
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, status, "API 키가 저장되었습니다.")
}

// ClearKey 删除已保存的密钥
func (h *Handler) ClearKey(c *gin.Context) {
	status, err := h.Credentials.Clear(c.Request.Context())
	if err != nil {
		h.Response.AppError(c, err)
		return
	}
	h.Response.Success(c, status)
}

// GetSettings 当前运行时设置
func (h *Handler) GetSettings(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"settings":  h.Settings.Current(),
		"providers": llm.ListProviders(),
	})
}

// UpdateSettings 修改并保存运行时设置
func (h *Handler) UpdateSettings(c *gin.Context) {
	var req UpdateSettingsRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.Response.BadRequest(c, "잘못된 요청입니다.", err.Error())
		return
	}

	if req.LLMProvider != nil {
		name := strings.ToLower(strings.TrimSpace(*req.LLMProvider))
		if !slices.Contains(llm.ListProviders(), name) {
			h.Response.Error(c, http.StatusBadRequest, ErrorSettingsInvalid, "지원하지 않는 제공자입니다: "+name)
			return
		}
		req.LLMProvider = &name
	}

	updated, err := h.Settings.Update(func(s *config.Settings) {
		if req.LLMProvider != nil {
			s.LLMProvider = *req.LLMProvider
		}
		if req.Model != nil {
			s.Model = strings.TrimSpace(*req.Model)
		}
		if req.Temperature != nil {
			s.Temperature = *req.Temperature
		}
		if req.AnalysisMaxTokens != nil {
			s.AnalysisMaxTokens = *req.AnalysisMaxTokens
		}
		if req.GenerationMaxTokens != nil {
			s.GenerationMaxTokens = *req.GenerationMaxTokens
		}
		if req.OutputLanguage != nil {
			s.OutputLanguage = strings.TrimSpace(*req.OutputLanguage)
		}
	})
	if err != nil {
		h.Response.Error(c, http.StatusBadRequest, ErrorSettingsInvalid, "설정이 올바르지 않습니다.", err.Error())
		return
	}

	h.logger.Info("settings updated", map[string]interface{}{
		"provider": updated.LLMProvider,
		"model":    updated.Model,
	})
	h.Response.Success(c, updated)
}

// GetLLMStatus 提供者、模型和密钥是否就绪
func (h *Handler) GetLLMStatus(c *gin.Context) {
	h.Response.Success(c, h.LLM.Status(h.Credentials.Current()))
}

// ------------------------------------------------
// 运维

// GetMetrics 指标快照
func (h *Handler) GetMetrics(c *gin.Context) {
	h.Response.Success(c, gin.H{
		"metrics":   h.Metrics.Collector().GetMetrics(),
		"websocket": h.Hub.GetStatus(),
	})
}

// Health 存活检查
func (h *Handler) Health(c *gin.Context) {
	status := h.LLM.Status(h.Credentials.Current())
	h.Response.Success(c, gin.H{
		"status":         "ok",
		"uptime_seconds": int64(time.Since(h.startedAt).Seconds()),
		"llm_ready":      status.Ready,
		"key_configured": status.CredentialConfigured,
	})
}
