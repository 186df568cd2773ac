// internal/app/app.go
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"github.com/Corphon/ViralScript/internal/api"
	"github.com/Corphon/ViralScript/internal/config"
	"github.com/Corphon/ViralScript/internal/services"
	"github.com/Corphon/ViralScript/internal/storage"
	"github.com/Corphon/ViralScript/internal/utils"

	// 注册提供者
	_ "github.com/Corphon/ViralScript/internal/llm/providers/google"
	_ "github.com/Corphon/ViralScript/internal/llm/providers/googlerest"
)

const (
	shutdownTimeout = 30 * time.Second
	janitorInterval = 10 * time.Minute
	metricsInterval = 5 * time.Minute
)

// Services 按依赖顺序创建的服务集合，服务端和 CLI 共用
type Services struct {
	Store       storage.Store
	Settings    *config.Manager
	Metrics     *utils.APIMetrics
	Credentials *services.CredentialService
	LLM         *services.LLMService
	Analysis    *services.AnalysisService
	Generation  *services.GenerationService
	Sessions    *services.SessionService
	Hub         *api.SessionHub
	RateLimiter *api.RateLimiter
}

// InitServices 初始化所有服务（按依赖顺序）
func InitServices(ctx context.Context, cfg *config.Config) (*Services, error) {
	store, err := storage.Open(cfg.StorageDriver, cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("打开存储失败: %w", err)
	}

	settings, err := config.NewManager(cfg)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化设置失败: %w", err)
	}

	credentials, err := services.NewCredentialService(ctx, store, cfg.CredentialSlot, cfg.EnvCredential(), cfg.CredentialSecret)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("初始化凭据失败: %w", err)
	}

	metrics := utils.NewAPIMetrics()
	llmService := services.NewLLMService(settings, services.LLMOptions{
		BaseURL:        cfg.BaseURL,
		RequestTimeout: cfg.RequestTimeout,
		RepairJSON:     cfg.RepairJSON,
	}, metrics)

	analysis := services.NewAnalysisService(llmService, settings)
	generation := services.NewGenerationService(llmService, settings)

	sessions := services.NewSessionService(analysis, generation, credentials, services.SessionOptions{
		TTL:     cfg.SessionTTL,
		Metrics: metrics,
	})

	hub := api.NewSessionHub(metrics)
	sessions.Subscribe(hub.Publish)

	return &Services{
		Store:       store,
		Settings:    settings,
		Metrics:     metrics,
		Credentials: credentials,
		LLM:         llmService,
		Analysis:    analysis,
		Generation:  generation,
		Sessions:    sessions,
		Hub:         hub,
		RateLimiter: api.NewRateLimiter(),
	}, nil
}

// Close 释放存储
func (s *Services) Close() error {
	return s.Store.Close()
}

// App HTTP 服务及其后台任务
type App struct {
	config   *config.Config
	services *Services
	router   *gin.Engine
	server   *http.Server
	logger   *utils.Logger
}

// New 创建应用：服务、路由和 HTTP 服务器
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if !cfg.DebugMode {
		gin.SetMode(gin.ReleaseMode)
	}

	svc, err := InitServices(ctx, cfg)
	if err != nil {
		return nil, err
	}

	router, err := api.SetupRouter(api.Dependencies{
		Sessions:          svc.Sessions,
		Credentials:       svc.Credentials,
		LLM:               svc.LLM,
		Settings:          svc.Settings,
		Metrics:           svc.Metrics,
		Hub:               svc.Hub,
		RateLimiter:       svc.RateLimiter,
		AnalysisRateLimit: cfg.AnalysisRateLimit,
	})
	if err != nil {
		svc.Close()
		return nil, fmt.Errorf("设置路由失败: %w", err)
	}

	return &App{
		config:   cfg,
		services: svc,
		router:   router,
		server: &http.Server{
			Addr:              ":" + cfg.Port,
			Handler:           router,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: utils.GetLogger(),
	}, nil
}

// Handler 返回路由，测试使用
func (a *App) Handler() http.Handler {
	return a.router
}

// Services 返回服务集合
func (a *App) Services() *Services {
	return a.services
}

// Run 启动 HTTP 服务和后台任务，ctx 取消后优雅关闭
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("server listening", map[string]interface{}{"addr": a.server.Addr})
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("启动服务器失败: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		a.services.Sessions.RunJanitor(gctx, janitorInterval)
		return nil
	})
	g.Go(func() error {
		a.services.RateLimiter.Run(gctx, time.Minute)
		return nil
	})
	g.Go(func() error {
		a.services.Metrics.StartMetricsCollection(gctx, metricsInterval)
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server", nil)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		err := a.server.Shutdown(shutdownCtx)
		a.services.Hub.Shutdown()
		if waitErr := a.services.Sessions.Wait(shutdownCtx); waitErr != nil {
			a.logger.Warn("in-flight requests did not finish", map[string]interface{}{"error": waitErr})
		}
		return err
	})

	err := g.Wait()
	a.logger.Info("server stopped", nil)
	return err
}

// Close 释放资源
func (a *App) Close() error {
	return a.services.Close()
}
