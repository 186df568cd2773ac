// cmd/viralscript/generate.go
package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/atotto/clipboard"
	"github.com/spf13/cobra"

	"github.com/Corphon/ViralScript/internal/models"
	"github.com/Corphon/ViralScript/internal/services"
)

var clipboardWrite = clipboard.WriteAll

type generateOptions struct {
	topic string
	pick  int
	copy  bool
	out   string
	wrap  int
}

// choice 把命令行参数转换为选题，--pick 从 1 开始
func (o generateOptions) choice() (services.TopicChoice, error) {
	topic := strings.TrimSpace(o.topic)
	switch {
	case topic != "" && o.pick > 0:
		return services.TopicChoice{}, errors.New("--topic 과 --pick 중 하나만 지정하세요.")
	case topic != "":
		return services.TopicChoice{Custom: topic}, nil
	case o.pick > 0:
		index := o.pick - 1
		return services.TopicChoice{Index: &index}, nil
	default:
		return services.TopicChoice{}, errors.New("--topic 또는 --pick 을 지정하세요.")
	}
}

func newGenerateCmd() *cobra.Command {
	var opts generateOptions

	cmd := &cobra.Command{
		Use:   "generate [file|-]",
		Short: "분석한 구조에 맞춰 새 주제의 대본을 생성합니다",
		Example: `  viralscript generate --pick 2 script.txt
  cat script.txt | viralscript generate --topic "고양이 키우기" --copy`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			choice, err := opts.choice()
			if err != nil {
				return err
			}

			script, err := readScript(cmd.InOrStdin(), args)
			if err != nil {
				return err
			}

			_, svc, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			stderr := cmd.ErrOrStderr()
			fmt.Fprintln(stderr, mutedStyle.Render("대본 구조 분석 중..."))
			view, err := analyzeScript(cmd.Context(), svc.Sessions, script)
			if err != nil {
				return err
			}

			fmt.Fprintln(stderr, mutedStyle.Render("새로운 대본 작성 중..."))
			view, err = svc.Sessions.Generate(cmd.Context(), view.ID, choice)
			if err != nil {
				return err
			}
			if view.Loading == models.LoadingError {
				return errors.New(view.ErrorMessage)
			}

			content := view.Generated
			rendered, err := formatGenerated(content, opts.wrap)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), rendered)

			if opts.out != "" {
				if err := os.WriteFile(opts.out, []byte(content.CopyText()), 0644); err != nil {
					return fmt.Errorf("파일 저장 실패: %w", err)
				}
				fmt.Fprintln(stderr, successStyle.Render("저장됨: "+opts.out))
			}
			if opts.copy {
				if err := clipboardWrite(content.CopyText()); err != nil {
					return fmt.Errorf("클립보드 복사 실패: %w", err)
				}
				fmt.Fprintln(stderr, successStyle.Render("복사됨!"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.topic, "topic", "", "직접 입력한 주제")
	cmd.Flags().IntVar(&opts.pick, "pick", 0, "추천 주제 번호 (1부터)")
	cmd.Flags().BoolVar(&opts.copy, "copy", false, "결과를 클립보드에 복사")
	cmd.Flags().StringVar(&opts.out, "out", "", "결과를 저장할 markdown 파일")
	cmd.Flags().IntVar(&opts.wrap, "wrap", 80, "터미널 줄바꿈 폭")
	return cmd
}
