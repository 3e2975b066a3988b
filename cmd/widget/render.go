package main

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/zhouzirui/chat-widget/backend/internal/render/markdown"
)

var renderPlain bool

var renderCmd = &cobra.Command{
	Use:   "render [text]",
	Short: "Render widget markdown to markup",
	Long:  `Renders the arguments, or standard input when none are given.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		text := strings.Join(args, " ")
		if len(args) == 0 {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return fmt.Errorf("read stdin: %w", err)
			}
			text = string(raw)
		}

		markup := markdown.Render(text)
		if renderPlain {
			markup = plainText(markup)
		}
		fmt.Fprintln(cmd.OutOrStdout(), markup)
		return nil
	},
}

func init() {
	renderCmd.Flags().BoolVar(&renderPlain, "plain", false, "print terminal text instead of markup")
}
