package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/iksnae/chatsync/internal"
	"github.com/spf13/cobra"
)

var (
	limit int
	since string
)

var (
	// Styles for show command
	sessionHeaderStyle = lipgloss.NewStyle().
				Bold(true).
				Foreground(lipgloss.Color("212")).
				Padding(0, 1).
				MarginBottom(1)

	sessionMetaStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("243")).
				MarginBottom(1)

	userMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("39")).
				Bold(true).
				Padding(0, 1)

	assistantMessageStyle = lipgloss.NewStyle().
				Foreground(lipgloss.Color("135")).
				Bold(true).
				Padding(0, 1)

	messageContentStyle = lipgloss.NewStyle().
				Padding(0, 2).
				MarginBottom(1)

	timestampStyle = lipgloss.NewStyle().
			Foreground(lipgloss.Color("240")).
			Italic(true)
)

// showCmd represents the show command
var showCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show messages for a specific session",
	Long:  `Display the messages of one session from the local store.`,
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var sinceTime time.Time
		if since != "" {
			t, err := time.Parse(time.RFC3339, since)
			if err != nil {
				return fmt.Errorf("invalid --since timestamp format (expected RFC3339): %w", err)
			}
			sinceTime = t
		}

		ctx := context.Background()
		a, err := startLocal(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if err := a.engine.OpenSession(ctx, args[0]); err != nil {
			return fmt.Errorf("session not found: %s (use 'chatsync list' to see available sessions)", args[0])
		}
		session := a.view.Snapshot().Find(args[0])
		displaySession(os.Stdout, session, sinceTime, limit)
		return nil
	},
}

func displaySession(w io.Writer, session *internal.ChatSession, sinceTime time.Time, limit int) {
	if session == nil {
		return
	}
	displaySessionHeader(w, session)

	messages := session.Messages
	if !sinceTime.IsZero() {
		filtered := make([]internal.Message, 0, len(messages))
		for _, m := range messages {
			if !m.Timestamp.Before(sinceTime) {
				filtered = append(filtered, m)
			}
		}
		messages = filtered
	}

	total := len(messages)
	if limit > 0 && limit < total {
		messages = messages[:limit]
	}
	for i, m := range messages {
		displayMessage(w, i+1, m, total)
	}

	if limit > 0 && limit < total {
		fmt.Fprintln(w)
		fmt.Fprintln(w, timestampStyle.Render(fmt.Sprintf("... (%d more message(s))", total-limit)))
	}
}

func displaySessionHeader(w io.Writer, session *internal.ChatSession) {
	title := session.Title
	if title == "" {
		title = "Untitled"
	}
	fmt.Fprintln(w, sessionHeaderStyle.Render(title))

	metaParts := []string{
		fmt.Sprintf("Updated: %s", session.UpdatedAt.Local().Format(time.DateTime)),
		fmt.Sprintf("Messages: %d", len(session.Messages)),
	}
	if session.Model != "" {
		metaParts = append(metaParts, fmt.Sprintf("Model: %s", session.Model))
	}
	if session.Archived {
		metaParts = append(metaParts, "Archived")
	}
	fmt.Fprintln(w, sessionMetaStyle.Render(strings.Join(metaParts, " • ")))
	fmt.Fprintln(w)
}

func displayMessage(w io.Writer, index int, msg internal.Message, total int) {
	var actorStyle lipgloss.Style
	var actorLabel string

	switch msg.Role {
	case internal.RoleUser:
		actorStyle = userMessageStyle
		actorLabel = "User"
	case internal.RoleAssistant:
		actorStyle = assistantMessageStyle
		actorLabel = "Assistant"
	default:
		actorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("243"))
		actorLabel = string(msg.Role)
	}

	header := actorStyle.Render(actorLabel) + " " + timestampStyle.Render(fmt.Sprintf("[%d/%d]", index, total))
	if !msg.Timestamp.IsZero() {
		header += " " + timestampStyle.Render(msg.Timestamp.Local().Format("15:04:05"))
	}
	if msg.Streaming {
		header += " " + timestampStyle.Render("(streaming)")
	}
	if msg.Error {
		header += " " + timestampStyle.Render("(error)")
	}
	fmt.Fprintln(w, header)

	content := strings.TrimSpace(msg.Content)
	if content != "" {
		fmt.Fprintln(w, messageContentStyle.Render(wrapText(content, 80)))
	} else {
		fmt.Fprintln(w, messageContentStyle.Foreground(lipgloss.Color("240")).Render("(empty message)"))
	}
	for _, att := range msg.Attachments {
		fmt.Fprintln(w, timestampStyle.Render(fmt.Sprintf("  attachment: %s (%s, %d bytes)", att.Name, att.Type, att.Size)))
	}
	fmt.Fprintln(w)
}

func wrapText(text string, width int) string {
	lines := strings.Split(text, "\n")
	var wrapped []string

	for _, line := range lines {
		if len(line) <= width {
			wrapped = append(wrapped, line)
			continue
		}

		words := strings.Fields(line)
		currentLine := ""
		for _, word := range words {
			switch {
			case currentLine == "":
				currentLine = word
			case len(currentLine)+len(word)+1 > width:
				wrapped = append(wrapped, currentLine)
				currentLine = word
			default:
				currentLine += " " + word
			}
		}
		if currentLine != "" {
			wrapped = append(wrapped, currentLine)
		}
	}

	return strings.Join(wrapped, "\n")
}

func init() {
	rootCmd.AddCommand(showCmd)
	showCmd.Flags().IntVarP(&limit, "limit", "n", 0, "Limit number of messages to show")
	showCmd.Flags().StringVar(&since, "since", "", "Show messages since timestamp (RFC3339)")
}
