package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/export"
	"github.com/spf13/cobra"
)

var (
	format       string
	outputDir    string
	sessionID    string
	snapshotPath string
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export sessions to file",
	Long: `Export chat sessions to various formats (jsonl, md, yaml, json).

With --snapshot the whole local store is written as one version 1 snapshot
that 'chatsync import' can restore. Otherwise every session (or the one given
by --session-id) is written to its own file in --out.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var exporter export.Exporter
		if snapshotPath == "" {
			var err error
			if exporter, err = export.NewExporter(format); err != nil {
				return err
			}
		}

		ctx := context.Background()
		a, err := startLocal(ctx)
		if err != nil {
			return err
		}
		defer a.close(ctx)

		if snapshotPath != "" {
			return exportSnapshot(ctx, a, snapshotPath)
		}

		sessions := a.view.Snapshot().Sessions
		if sessionID != "" {
			var match *internal.ChatSession
			for _, s := range sessions {
				if s.ID == sessionID {
					match = s
					break
				}
			}
			if match == nil {
				return fmt.Errorf("session not found: %s (use 'chatsync list' to see available sessions)", sessionID)
			}
			sessions = []*internal.ChatSession{match}
		}

		if err := os.MkdirAll(outputDir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}

		written := 0
		err = internal.ShowProgress(ctx, fmt.Sprintf("Exporting %d session(s) to %s", len(sessions), outputDir), func() error {
			for _, s := range sessions {
				if _, err := export.WriteSessionFile(outputDir, s, exporter); err != nil {
					internal.LogError("Failed to export session %s: %v", s.ID, err)
					continue
				}
				written++
			}
			return nil
		})
		if err != nil {
			return err
		}

		internal.PrintSuccess(fmt.Sprintf("Export complete: %d session(s) exported to %s", written, outputDir))
		return nil
	},
}

func exportSnapshot(ctx context.Context, a *app, path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}
	f, err := os.Create(path)
	if err != nil {
		return &internal.ExportError{Format: "snapshot", Path: path, Err: err}
	}
	if err := a.engine.Export(ctx, f); err != nil {
		_ = f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return &internal.ExportError{Format: "snapshot", Path: path, Err: err}
	}
	internal.PrintSuccess(fmt.Sprintf("Snapshot written to %s", path))
	return nil
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().StringVarP(&format, "format", "f", "jsonl", "Export format (jsonl, md, yaml, json)")
	exportCmd.Flags().StringVarP(&outputDir, "out", "o", "./exports", "Output directory")
	exportCmd.Flags().StringVar(&sessionID, "session-id", "", "Export a specific session by ID")
	exportCmd.Flags().StringVar(&snapshotPath, "snapshot", "", "Write a full version 1 snapshot to this file instead")
}
