package cmd

import (
	"context"
	"fmt"

	"github.com/iksnae/chatsync/internal"
	"github.com/spf13/cobra"
)

var deleteMessage bool

var deleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a session (or a message with --message) locally",
	Long: `Delete a session with all its messages and attachments from the local
store. With --message the id names a single message instead.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := startLocal(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if deleteMessage {
			if err := a.engine.DeleteMessage(ctx, args[0]); err != nil {
				return fmt.Errorf("failed to delete message %s: %w", args[0], err)
			}
			internal.PrintSuccess(fmt.Sprintf("Deleted message %s", args[0]))
			return nil
		}
		if err := a.engine.DeleteSession(ctx, args[0]); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", args[0], err)
		}
		internal.PrintSuccess(fmt.Sprintf("Deleted session %s", args[0]))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(deleteCmd)
	deleteCmd.Flags().BoolVar(&deleteMessage, "message", false, "Treat the id as a message id")
}
