package cmd

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/feed"
	"github.com/iksnae/chatsync/internal/remote"
	"github.com/iksnae/chatsync/internal/store"
	"github.com/iksnae/chatsync/internal/syncengine"
	"github.com/iksnae/chatsync/internal/view"
	"github.com/prometheus/client_golang/prometheus"
)

// loadConfig resolves defaults, the config file and the environment, then
// applies the persistent flags on top
func loadConfig() (*internal.Config, error) {
	path := configPath
	if path == "" {
		if paths, err := internal.DetectDataPaths(); err == nil {
			path = paths.ConfigFile
		}
	}
	cfg, err := internal.LoadConfig(path)
	if err != nil {
		return nil, err
	}
	if dbPath != "" {
		cfg.Database = dbPath
	}
	if userID != "" {
		cfg.UserID = userID
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func openStore(ctx context.Context, cfg *internal.Config) (*store.Store, error) {
	if err := os.MkdirAll(filepath.Dir(cfg.Database), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	st, err := store.Open(ctx, cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store: %w", err)
	}
	return st, nil
}

// app bundles the engine with the collaborators a command may need directly
type app struct {
	cfg      *internal.Config
	store    *store.Store
	view     *view.State
	engine   *syncengine.Engine
	feed     *feed.Client
	rest     *remote.Client
	registry *prometheus.Registry
}

type appOptions struct {
	realtime bool
	remote   bool
}

// cliNotifier prints engine notifications the way the rest of the CLI does
type cliNotifier struct{}

func (cliNotifier) Notify(level syncengine.Level, msg string) {
	switch level {
	case syncengine.LevelError:
		internal.PrintError(msg)
	case syncengine.LevelWarn:
		internal.PrintWarning(msg)
	default:
		internal.PrintInfo(msg)
	}
}

// newApp opens the store and builds an engine. The realtime feed and the REST
// client are only wired when requested and configured.
func newApp(ctx context.Context, cfg *internal.Config, opts appOptions) (*app, error) {
	st, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		store:    st,
		view:     view.New(),
		registry: prometheus.NewRegistry(),
	}

	eo := syncengine.Options{
		Store:             st,
		View:              a.view,
		Identity:          remote.StaticIdentity{ID: cfg.UserID},
		Notifier:          cliNotifier{},
		Checkpoints:       internal.NewStateFile(cfg.Paths().StateFile),
		Registry:          a.registry,
		QueueSize:         cfg.QueueSize,
		ResyncConcurrency: cfg.ResyncConcurrency,
		DegradedMessages:  cfg.DegradedMessages,
	}
	if opts.remote && cfg.RESTURL != "" {
		a.rest, err = remote.NewClient(remote.Options{
			BaseURL:     cfg.RESTURL,
			APIKey:      cfg.APIKey,
			AccessToken: cfg.AccessToken,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		eo.Remote = a.rest
	}
	if opts.realtime && cfg.RealtimeURL != "" {
		a.feed, err = feed.New(feed.Options{
			URL:               cfg.RealtimeURL,
			APIKey:            cfg.APIKey,
			AccessToken:       cfg.AccessToken,
			HeartbeatInterval: cfg.HeartbeatInterval,
		})
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		eo.Feed = a.feed
	}

	a.engine, err = syncengine.New(eo)
	if err != nil {
		_ = st.Close()
		return nil, err
	}
	return a, nil
}

// startLocal loads config and starts an engine with no network collaborators
func startLocal(ctx context.Context) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	a, err := newApp(ctx, cfg, appOptions{})
	if err != nil {
		return nil, err
	}
	if err := a.engine.Start(ctx); err != nil {
		a.close(ctx)
		return nil, err
	}
	return a, nil
}

func (a *app) close(ctx context.Context) {
	if err := a.engine.Teardown(ctx); err != nil {
		internal.LogWarn("Engine teardown: %v", err)
	}
	if err := a.store.Close(); err != nil {
		internal.LogWarn("Failed to close local store: %v", err)
	}
}
