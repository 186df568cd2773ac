// cmd/viralscript/key.go
package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/Corphon/ViralScript/internal/models"
)

func printKeyStatus(w io.Writer, status models.CredentialStatus) {
	if !status.Configured {
		fmt.Fprintln(w, mutedStyle.Render("API 키가 설정되지 않았습니다."))
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", labelStyle.Render("API 키"), status.Masked, mutedStyle.Render("("+string(status.Source)+")"))
}

func newKeyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "key",
		Short: "Gemini API 키를 관리합니다",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "set <api-key>",
		Short: "API 키를 저장합니다",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			status, err := svc.Credentials.Set(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), successStyle.Render("API 키가 저장되었습니다."))
			printKeyStatus(cmd.OutOrStdout(), status)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "현재 API 키 상태를 표시합니다",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			printKeyStatus(cmd.OutOrStdout(), svc.Credentials.Status())
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "clear",
		Short: "저장된 API 키를 삭제합니다",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			_, svc, err := bootstrap(cmd)
			if err != nil {
				return err
			}
			defer svc.Close()

			status, err := svc.Credentials.Clear(cmd.Context())
			if err != nil {
				return err
			}
			printKeyStatus(cmd.OutOrStdout(), status)
			return nil
		},
	})

	return cmd
}
