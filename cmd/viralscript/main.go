// cmd/viralscript/main.go
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/Corphon/ViralScript/internal/app"
	"github.com/Corphon/ViralScript/internal/config"
	"github.com/Corphon/ViralScript/internal/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("✖ "+err.Error()))
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "viralscript",
		Short: "떡상 영상 대본의 구조를 분석하고 새 주제로 다시 씁니다",
		Long: `성공한 영상 대본의 구조, 톤, 훅 전략을 분석하고
같은 형식으로 새로운 주제의 대본을 생성합니다.
API 키는 GEMINI_API_KEY 환경 변수 또는 "viralscript key set"으로 설정합니다.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.AddCommand(newAnalyzeCmd(), newGenerateCmd(), newKeyCmd(), newServeCmd())
	return root
}

// bootstrap 加载配置并初始化服务，CLI 只输出错误日志
func bootstrap(cmd *cobra.Command) (*config.Config, *app.Services, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}
	if err := utils.InitLogger(filepath.Join(cfg.LogDir, "viralscript-cli.log"), false); err != nil {
		return nil, nil, err
	}
	utils.GetLogger().Quiet()

	svc, err := app.InitServices(cmd.Context(), cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, svc, nil
}
