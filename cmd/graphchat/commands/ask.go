package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/graphchat-go/internal/logging"
)

// NewAskCmd constructs the `graphchat ask` command, which answers one
// question within a session and prints the answer to stdout.
func NewAskCmd() *cobra.Command {
	var sessionID string

	cmd := &cobra.Command{
		Use:   "ask [question]",
		Short: "Ask a question within a session",
		Long: `Ask a question within a session. The answer draws on the session's
earlier turns and on chunks retrieved from its uploaded PDFs. Both the
question and the answer are recorded on the session.

Examples:
  graphchat ask --session 3f2a... "who built the analytical engine?"
  GRAPHCHAT_RAG_SCOPE=global graphchat ask --session demo "summarise my documents"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if sessionID == "" {
				return fmt.Errorf("ask: %w", errNoSession)
			}
			log := logging.New()
			ctx := logging.WithLogger(cmd.Context(), log)

			a, err := newApp(ctx, log, "")
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			if err := a.chat.Answer(ctx, sessionID, strings.Join(args, " "), out); err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			fmt.Fprintln(out)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionID, "session", "s", "", "Session id to ask within")

	return cmd
}
