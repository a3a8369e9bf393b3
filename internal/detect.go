package internal

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
)

// DataPaths holds the on-device locations used by chatsync
type DataPaths struct {
	DataDir    string // base directory
	Database   string // SQLite file backing the local store
	ConfigFile string // optional YAML config
	StateFile  string // last sync checkpoint
}

// DetectDataPaths resolves the default paths for the current operating system.
// CHATSYNC_HOME overrides the base directory everywhere.
func DetectDataPaths() (DataPaths, error) {
	if dir := os.Getenv("CHATSYNC_HOME"); dir != "" {
		return DataPathsFor(dir), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return DataPaths{}, fmt.Errorf("failed to get home directory: %w", err)
	}

	var base string
	switch runtime.GOOS {
	case "darwin":
		base = filepath.Join(home, "Library/Application Support/chatsync")
	case "linux", "freebsd", "openbsd":
		if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
			base = filepath.Join(xdg, "chatsync")
		} else {
			base = filepath.Join(home, ".chatsync")
		}
	case "windows":
		if appData := os.Getenv("APPDATA"); appData != "" {
			base = filepath.Join(appData, "chatsync")
		} else {
			base = filepath.Join(home, "AppData", "Roaming", "chatsync")
		}
	default:
		return DataPaths{}, fmt.Errorf("unsupported OS: %s", runtime.GOOS)
	}

	return DataPathsFor(base), nil
}

// DataPathsFor derives every path from a base directory
func DataPathsFor(dir string) DataPaths {
	return DataPaths{
		DataDir:    dir,
		Database:   filepath.Join(dir, "chatsync.db"),
		ConfigFile: filepath.Join(dir, "config.yaml"),
		StateFile:  filepath.Join(dir, "sync-state.yaml"),
	}
}

// EnsureDataDir creates the base directory if needed
func (p DataPaths) EnsureDataDir() error {
	return os.MkdirAll(p.DataDir, 0o755)
}

// DatabaseExists checks if the local store file is present
func (p DataPaths) DatabaseExists() bool {
	_, err := os.Stat(p.Database)
	return err == nil
}
