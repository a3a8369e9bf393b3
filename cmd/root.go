package cmd

import (
	"fmt"
	"os"

	"github.com/iksnae/chatsync/internal"
	"github.com/spf13/cobra"
)

var (
	verbose    bool
	configPath string
	dbPath     string
	userID     string
	version    string = "dev"
	commit     string = "unknown"
	date       string = "unknown"
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "chatsync",
	Short: "Local-first chat session store with realtime sync",
	Long: `chatsync keeps chat sessions in a local database and mirrors them with a
remote backend over a realtime change feed.

Local reads and writes never wait on the network. When a backend is configured,
remote changes stream into the local store and a resync fills any gap after a
reconnect.

Quick Start:
  chatsync list                      # List local sessions
  chatsync show <session-id>         # Print a session's messages
  chatsync sync                      # Pull the session list from the server
  chatsync watch                     # Stay connected and apply live changes
  chatsync export --snapshot out.json

Configuration is read from config.yaml in the data directory, then from
CHATSYNC_* environment variables, then from flags.`,
	Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		internal.SetVerbose(verbose)
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: <data dir>/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "Local database file")
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "Signed-in user id; empty keeps the engine local-only")

	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)
}
