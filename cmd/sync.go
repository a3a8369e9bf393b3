package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/spf13/cobra"
)

var syncTimeout time.Duration

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Pull the session list from the server once",
	Long: `Fetch the signed-in user's sessions and their messages over REST and merge
them into the local store. Nothing local is deleted.

Requires rest_url and a user id (--user or CHATSYNC_USER_ID).`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cfg.RESTURL == "" {
			return fmt.Errorf("no rest_url configured")
		}
		if cfg.UserID == "" {
			return fmt.Errorf("no user id: pass --user or set CHATSYNC_USER_ID")
		}

		ctx, cancel := context.WithTimeout(context.Background(), syncTimeout)
		defer cancel()

		a, err := newApp(ctx, cfg, appOptions{remote: true})
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		var before store.Counts
		steps := []internal.ProgressStep{
			{
				Message: "Loading local store",
				Fn: func() error {
					if err := a.engine.Start(ctx); err != nil {
						return err
					}
					before, err = a.store.Counts(ctx)
					return err
				},
			},
			{
				Message: "Syncing with " + cfg.RESTURL,
				Fn:      func() error { return a.engine.SyncWithRemote(ctx) },
			},
		}
		if err := internal.ShowProgressWithSteps(ctx, steps); err != nil {
			return err
		}
		after, err := a.store.Counts(ctx)
		if err != nil {
			return err
		}

		internal.PrintSuccess(fmt.Sprintf("Sync complete: %d session(s) (+%d), %d message(s) (+%d)",
			after.Sessions, after.Sessions-before.Sessions, after.Messages, after.Messages-before.Messages))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
	syncCmd.Flags().DurationVar(&syncTimeout, "timeout", 2*time.Minute, "Give up after this long")
}
