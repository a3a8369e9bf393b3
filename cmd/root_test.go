package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/testutil"
)

// resetFlags puts every package-level flag back to its default so runs do
// not leak into each other
func resetFlags() {
	verbose, configPath, dbPath, userID = false, "", "", ""
	listSearch, listArchived = "", false
	limit, since = 0, ""
	format, outputDir, sessionID, snapshotPath = "jsonl", "./exports", "", ""
	deleteMessage = false
	statusVerbose = false
	watchMetricsAddr, watchLogJSON = "", false
	syncTimeout = 2 * time.Minute
}

// execute runs the root command with args against an isolated data directory
func execute(t *testing.T, args ...string) error {
	t.Helper()
	resetFlags()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(&bytes.Buffer{})
	rootCmd.SetErr(&bytes.Buffer{})
	return rootCmd.Execute()
}

// seedStore creates a database under a fresh CHATSYNC_HOME holding sessions
func seedStore(t *testing.T, sessions ...*internal.ChatSession) string {
	t.Helper()
	home := testutil.CreateTempDir(t)
	t.Setenv("CHATSYNC_HOME", home)
	for _, k := range []string{"CHATSYNC_REST_URL", "CHATSYNC_REALTIME_URL", "CHATSYNC_USER_ID", "CHATSYNC_DATABASE"} {
		t.Setenv(k, "")
	}

	path := filepath.Join(home, "chatsync.db")
	ctx := context.Background()
	st, err := store.Open(ctx, path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()
	for _, s := range sessions {
		if err := st.UpsertSession(ctx, s); err != nil {
			t.Fatalf("UpsertSession() error = %v", err)
		}
		if err := st.BulkUpsertMessages(ctx, s.Messages); err != nil {
			t.Fatalf("BulkUpsertMessages() error = %v", err)
		}
	}
	return path
}

func readCounts(t *testing.T, path string) store.Counts {
	t.Helper()
	ctx := context.Background()
	st, err := store.Open(ctx, path)
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer st.Close()
	counts, err := st.Counts(ctx)
	if err != nil {
		t.Fatalf("Counts() error = %v", err)
	}
	return counts
}

func TestRootCommand(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr bool
	}{
		{
			name:    "version flag",
			args:    []string{"--version"},
			wantErr: false,
		},
		{
			name:    "help flag",
			args:    []string{"--help"},
			wantErr: false,
		},
		{
			name:    "nonexistent command",
			args:    []string{"nonexistent-command"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := execute(t, tt.args...)
			if (err != nil) != tt.wantErr {
				t.Errorf("rootCmd.Execute() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestCommandsRegistered(t *testing.T) {
	want := []string{"list", "show", "export", "import", "sync", "watch", "delete", "status"}
	have := make(map[string]bool)
	for _, c := range rootCmd.Commands() {
		have[c.Name()] = true
	}
	for _, name := range want {
		if !have[name] {
			t.Errorf("command %q not registered", name)
		}
	}
}

func TestLoadConfig_FlagOverrides(t *testing.T) {
	seedStore(t)
	t.Setenv("CHATSYNC_USER_ID", "from-env")
	resetFlags()
	dbPath = filepath.Join(t.TempDir(), "other.db")
	userID = "from-flag"

	cfg, err := loadConfig()
	if err != nil {
		t.Fatalf("loadConfig() error = %v", err)
	}
	if cfg.Database != dbPath {
		t.Errorf("Database = %q, want %q", cfg.Database, dbPath)
	}
	if cfg.UserID != "from-flag" {
		t.Errorf("UserID = %q, want from-flag", cfg.UserID)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	seedStore(t)
	t.Setenv("CHATSYNC_REALTIME_URL", "http://example.com/socket")
	resetFlags()

	if _, err := loadConfig(); err == nil {
		t.Error("loadConfig() should reject a non-websocket realtime URL")
	}
}
