// cmd/server/main.go
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Corphon/ViralScript/internal/app"
	"github.com/Corphon/ViralScript/internal/config"
	"github.com/Corphon/ViralScript/internal/utils"
)

func main() {
	log.Println("🚀 启动 ViralScript 服务器...")

	// 1. 首先加载基础配置
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("加载配置失败: %v", err)
	}
	log.Printf("✅ 基础配置加载完成，端口: %s", cfg.Port)

	// 2. 创建必要的目录
	if err := cfg.EnsureDirectories(); err != nil {
		log.Fatalf("创建目录失败: %v", err)
	}

	// 3. 日志
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "viralscript.log"), cfg.DebugMode); err != nil {
		log.Fatalf("初始化日志失败: %v", err)
	}
	logger := utils.GetLogger()
	defer logger.Sync()

	if cfg.EnvCredential() == "" {
		log.Println("⚠️ 未设置 GEMINI_API_KEY，需要在页面中输入 API 密钥")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 4. 初始化所有服务和路由
	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("初始化应用失败: %v", err)
	}
	defer a.Close()
	log.Println("✅ 所有服务初始化完成")

	// 5. 启动服务器，收到中断信号后优雅关闭
	log.Printf("🔗 访问地址: http://localhost:%s", cfg.Port)
	if err := a.Run(ctx); err != nil {
		logger.Error("server exited with error", map[string]interface{}{"error": err})
		a.Close()
		logger.Sync()
		os.Exit(1)
	}
	log.Println("✅ 服务器优雅关闭完成")
}
