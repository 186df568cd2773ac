// cmd/viralscript/analyze.go
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/Corphon/ViralScript/internal/models"
	"github.com/Corphon/ViralScript/internal/services"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// readScript 从文件读取原稿，没有参数或参数为 "-" 时读取标准输入
func readScript(stdin io.Reader, args []string) (string, error) {
	var (
		data []byte
		err  error
	)
	if len(args) == 0 || args[0] == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(args[0])
	}
	if err != nil {
		return "", fmt.Errorf("대본을 읽을 수 없습니다: %w", err)
	}

	script := string(data)
	if strings.TrimSpace(script) == "" {
		return "", errors.New("대본이 비어 있습니다.")
	}
	return script, nil
}

// analyzeScript 在新会话中完成分析，失败时返回会话里的提示信息
func analyzeScript(ctx context.Context, sessions *services.SessionService, script string) (models.SessionView, error) {
	view := sessions.Create()
	view, err := sessions.Analyze(ctx, view.ID, script)
	if err != nil {
		return view, err
	}
	if view.Loading == models.LoadingError {
		return view, errors.New(view.ErrorMessage)
	}
	return view, nil
}

func newAnalyzeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "analyze [file|-]",
		Short: "대본 구조를 분석하고 주제를 추천받습니다",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			script, err := readScript(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			_, svc, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			fmt.Fprintln(cmd.ErrOrStderr(), mutedStyle.Render("대본 구조 분석 중..."))
			view, err := analyzeScript(cmd.Context(), svc.Sessions, script)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.MarshalIndent(view.Analysis, "", "  ")
				if err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), string(out))
				return nil
			}

			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("분석 완료"))
			fmt.Fprintln(cmd.OutOrStdout(), formatAnalysis(view.Analysis))
			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "분석 결과를 JSON으로 출력")
	return cmd
}
