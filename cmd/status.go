package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/remote"
	"github.com/spf13/cobra"
)

var statusVerbose bool

var (
	successStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("42")).
			Bold(true)

	warningStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("214")).
			Bold(true)

	errorStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("196")).
			Bold(true)

	infoStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("39"))

	sectionStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("62")).
			Bold(true).
			Underline(true)
)

// statusCmd represents the status command
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Check configuration, the local store and the remote backend",
	Long: `Check the health of chatsync by verifying:
  • Configuration loading
  • Local database access and row counts
  • The last sync checkpoint
  • REST endpoint reachability (when configured)`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Println(errorStyle.Render("✗ Failed to load configuration:"), err)
			return err
		}
		return runStatus(context.Background(), os.Stdout, cfg)
	},
}

func runStatus(ctx context.Context, w io.Writer, cfg *internal.Config) error {
	fmt.Fprintln(w, sectionStyle.Render("chatsync status"))
	fmt.Fprintln(w)

	fmt.Fprintln(w, infoStyle.Render("Step 1: Configuration"))
	fmt.Fprintln(w, successStyle.Render("✓ Configuration loaded"))
	if statusVerbose {
		fmt.Fprintf(w, "   Data dir: %s\n", cfg.DataDir)
		fmt.Fprintf(w, "   Database: %s\n", cfg.Database)
		fmt.Fprintf(w, "   REST: %s\n", orNone(cfg.RESTURL))
		fmt.Fprintf(w, "   Realtime: %s\n", orNone(cfg.RealtimeURL))
		fmt.Fprintf(w, "   User: %s\n", orNone(cfg.UserID))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, infoStyle.Render("Step 2: Local store"))
	st, err := openStore(ctx, cfg)
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render("✗ Failed to open local store:"), err)
		return err
	}
	counts, err := st.Counts(ctx)
	_ = st.Close()
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render("✗ Failed to read local store:"), err)
		return err
	}
	fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✓ %d session(s), %d message(s), %d attachment(s)",
		counts.Sessions, counts.Messages, counts.Attachments)))
	fmt.Fprintln(w)

	fmt.Fprintln(w, infoStyle.Render("Step 3: Last sync"))
	state := internal.NewStateFile(cfg.Paths().StateFile)
	cp, ok, err := state.LoadCheckpoint()
	switch {
	case err != nil:
		fmt.Fprintln(w, warningStyle.Render("⚠ Could not read sync state:"), err)
	case !ok:
		fmt.Fprintln(w, warningStyle.Render("⚠ Never synced"))
	default:
		fmt.Fprintln(w, successStyle.Render(fmt.Sprintf("✓ %s ago (%d session(s), user %s)",
			time.Since(cp.LastSyncTime).Round(time.Second), cp.SessionCount, cp.UserID)))
		if statusVerbose {
			if history, err := state.History(); err == nil {
				for _, h := range history {
					fmt.Fprintf(w, "   %s\n", h)
				}
			}
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, infoStyle.Render("Step 4: Remote"))
	if cfg.RESTURL == "" {
		fmt.Fprintln(w, warningStyle.Render("⚠ No remote configured, running local-only"))
		return nil
	}
	client, err := remote.NewClient(remote.Options{
		BaseURL:     cfg.RESTURL,
		APIKey:      cfg.APIKey,
		AccessToken: cfg.AccessToken,
		Timeout:     10 * time.Second,
	})
	if err != nil {
		fmt.Fprintln(w, errorStyle.Render("✗ Invalid remote configuration:"), err)
		return err
	}
	if err := client.Ping(ctx); err != nil {
		fmt.Fprintln(w, errorStyle.Render("✗ Remote unreachable:"), err)
		return fmt.Errorf("status check failed: %w", err)
	}
	fmt.Fprintln(w, successStyle.Render("✓ Remote reachable"))
	return nil
}

func orNone(s string) string {
	if s == "" {
		return "(none)"
	}
	return s
}

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusVerbose, "details", false, "Show detailed diagnostic information")
}
