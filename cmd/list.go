package cmd

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/chatsync/internal"
	"github.com/spf13/cobra"
)

var (
	listSearch   string
	listArchived bool
)

var (
	// Styles
	headerStyle = lipgloss.NewStyle().
			Bold(true).
			Foreground(lipgloss.Color("62")).
			Padding(0, 1)

	idStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("240")).
		Italic(true)
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List local sessions",
	Long: `List the sessions in the local store, most recently updated first.

Archived sessions are hidden unless --archived is given. --search matches
titles and message content, case insensitively.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := context.Background()
		a, err := startLocal(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		snap := a.view.Snapshot()
		sessions := snap.Sessions
		if listSearch != "" {
			if sessions, err = a.store.SearchSessions(ctx, listSearch); err != nil {
				return fmt.Errorf("failed to search sessions: %w", err)
			}
			internal.LogDebug("Search %q matched %d session(s)", listSearch, len(sessions))
		}

		displaySessions(os.Stdout, filterArchived(sessions, listArchived), snap.CurrentID)
		return nil
	},
}

func filterArchived(sessions []*internal.ChatSession, includeArchived bool) []*internal.ChatSession {
	if includeArchived {
		return sessions
	}
	out := make([]*internal.ChatSession, 0, len(sessions))
	for _, s := range sessions {
		if !s.Archived {
			out = append(out, s)
		}
	}
	return out
}

func displaySessions(w io.Writer, sessions []*internal.ChatSession, currentID string) {
	if len(sessions) == 0 {
		fmt.Fprintln(w, headerStyle.Render("No sessions found"))
		return
	}

	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("Found %d session(s)", len(sessions))))
	fmt.Fprintln(w)
	fmt.Fprint(w, internal.RenderSessionTable(sessions, currentID))
	fmt.Fprintln(w)
	fmt.Fprintln(w, idStyle.Render("Tip: chatsync show "+sessions[0].ID))
}

func init() {
	rootCmd.AddCommand(listCmd)
	listCmd.Flags().StringVarP(&listSearch, "search", "s", "", "Only sessions whose title or messages contain this text")
	listCmd.Flags().BoolVar(&listArchived, "archived", false, "Include archived sessions")
}
