// cmd/viralscript/serve.go
package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/Corphon/ViralScript/internal/app"
	"github.com/Corphon/ViralScript/internal/config"
	"github.com/Corphon/ViralScript/internal/utils"
)

func newServeCmd() *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "웹 인터페이스 서버를 실행합니다",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if port != "" {
				cfg.Port = port
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return err
			}
			if err := utils.InitLogger(filepath.Join(cfg.LogDir, "viralscript.log"), cfg.DebugMode); err != nil {
				return err
			}
			defer utils.GetLogger().Sync()

			a, err := app.New(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			fmt.Fprintln(cmd.ErrOrStderr(), successStyle.Render("http://localhost:"+cfg.Port))
			return a.Run(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&port, "port", "", "포트 (기본값: PORT 환경 변수)")
	return cmd
}
