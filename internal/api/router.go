// internal/api/router.go
package api

import (
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/Corphon/ViralScript/internal/config"
	"github.com/Corphon/ViralScript/internal/services"
	"github.com/Corphon/ViralScript/internal/utils"
	"github.com/Corphon/ViralScript/web"
)

// Dependencies 路由所需的服务，由 app 层创建
type Dependencies struct {
	Sessions    *services.SessionService
	Credentials *services.CredentialService
	LLM         *services.LLMService
	Settings    *config.Manager
	Metrics     *utils.APIMetrics
	Hub         *SessionHub
	RateLimiter *RateLimiter

	// 每个客户端每小时可发起的分析/生成次数，0 表示不限
	AnalysisRateLimit int
}

// NewHandler 创建API处理器
func NewHandler(deps Dependencies) *Handler {
	return &Handler{
		Sessions:    deps.Sessions,
		Credentials: deps.Credentials,
		LLM:         deps.LLM,
		Settings:    deps.Settings,
		Metrics:     deps.Metrics,
		Hub:         deps.Hub,
		Response:    NewResponseHelper(),
		logger:      utils.GetLogger(),
		startedAt:   time.Now(),
	}
}

// SetupRouter 配置HTTP路由
func SetupRouter(deps Dependencies) (*gin.Engine, error) {
	if deps.Sessions == nil || deps.Credentials == nil || deps.LLM == nil || deps.Settings == nil {
		return nil, fmt.Errorf("路由依赖未完整初始化")
	}
	if deps.Metrics == nil {
		deps.Metrics = utils.NewAPIMetrics()
	}
	if deps.Hub == nil {
		deps.Hub = NewSessionHub(deps.Metrics)
	}
	if deps.RateLimiter == nil {
		deps.RateLimiter = NewRateLimiter()
	}

	handler := NewHandler(deps)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(RequestIDMiddleware())
	r.Use(MetricsMiddleware(deps.Metrics))
	r.Use(corsMiddleware())

	// 页面与静态资源（编译进二进制）
	tmpl, err := template.ParseFS(web.Assets, "templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("加载页面模板失败: %w", err)
	}
	r.SetHTMLTemplate(tmpl)

	static, err := fs.Sub(web.Assets, "static")
	if err != nil {
		return nil, fmt.Errorf("加载静态文件失败: %w", err)
	}
	r.StaticFS("/static", http.FS(static))

	r.GET("/", handler.IndexPage)

	// WebSocket 支持
	r.GET("/ws/sessions/:id", handler.SessionWebSocket)

	// ===============================
	// API路由组
	// ===============================
	api := r.Group("/api")
	{
		api.GET("/health", handler.Health)
		api.GET("/metrics", handler.GetMetrics)
		api.GET("/llm/status", handler.GetLLMStatus)

		// ===============================
		// 会话相关路由
		// ===============================
		limited := deps.RateLimiter.Middleware(deps.AnalysisRateLimit, time.Hour, handler.Response)

		sessions := api.Group("/sessions")
		{
			sessions.POST("", handler.CreateSession)
			sessions.GET("/:id", handler.GetSession)
			sessions.DELETE("/:id", handler.DeleteSession)
			sessions.PUT("/:id/script", handler.UpdateScript)
			sessions.POST("/:id/analyze", limited, handler.AnalyzeSession)
			sessions.POST("/:id/generate", limited, handler.GenerateSession)
			sessions.POST("/:id/back", handler.sessionAction(deps.Sessions.Back))
			sessions.POST("/:id/reset", handler.sessionAction(deps.Sessions.Reset))
			sessions.POST("/:id/dismiss-error", handler.sessionAction(deps.Sessions.DismissError))
			sessions.GET("/:id/result", handler.GetResult)
			sessions.GET("/:id/result/copy", handler.CopyResult)
		}

		// ===============================
		// 设置相关路由
		// ===============================
		settings := api.Group("/settings")
		{
			settings.GET("", handler.GetSettings)
			settings.PUT("", handler.UpdateSettings)
			settings.GET("/key", handler.GetKeyStatus)
			settings.PUT("/key", handler.SetKey)
			settings.DELETE("/key", handler.ClearKey)
		}
	}

	r.NoRoute(func(c *gin.Context) {
		handler.Response.NotFound(c, "요청한 경로를 찾을 수 없습니다.", c.Request.URL.Path)
	})

	return r, nil
}
