package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/iksnae/chatsync/internal"
	"github.com/spf13/cobra"
)

var importCmd = &cobra.Command{
	Use:   "import <snapshot-file>",
	Short: "Replace the local store with a snapshot",
	Long: `Import a version 1 snapshot written by 'chatsync export --snapshot'.

Every local session, message and attachment is replaced. Snapshots with any
other version are rejected without touching the store.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return fmt.Errorf("failed to open snapshot: %w", err)
		}
		defer f.Close()

		ctx := context.Background()
		a, err := startLocal(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.engine.Import(ctx, f); err != nil {
			var verr *internal.ImportVersionError
			if errors.As(err, &verr) {
				return fmt.Errorf("cannot import %s: %w", args[0], err)
			}
			return fmt.Errorf("import failed: %w", err)
		}

		counts, err := a.store.Counts(ctx)
		if err != nil {
			return err
		}
		internal.PrintSuccess(fmt.Sprintf("Imported %d session(s), %d message(s), %d attachment(s)",
			counts.Sessions, counts.Messages, counts.Attachments))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(importCmd)
}
