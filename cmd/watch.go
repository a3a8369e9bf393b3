package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iksnae/chatsync/internal"
	"github.com/iksnae/chatsync/internal/syncengine"
	"github.com/iksnae/chatsync/internal/view"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var (
	watchMetricsAddr string
	watchLogJSON     bool
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Stay connected and apply live changes",
	Long: `Run the sync engine until interrupted. Remote changes stream into the
local store over the realtime feed, and every reconnect runs a resync.

--metrics-addr serves Prometheus metrics on /metrics.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if watchLogJSON {
			internal.SetLogOutput(os.Stderr, true)
		}
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if watchMetricsAddr != "" {
			cfg.MetricsAddr = watchMetricsAddr
		}
		if cfg.RealtimeURL == "" {
			internal.PrintWarning("No realtime_url configured, running local-only")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		a, err := newApp(ctx, cfg, appOptions{realtime: true, remote: true})
		if err != nil {
			return err
		}
		defer a.close(context.Background())

		a.engine.OnStateChange(func(from, to syncengine.ConnState) {
			internal.PrintInfo(fmt.Sprintf("%s -> %s", from, to))
		})
		a.view.OnPublish(func(s *view.Snapshot) {
			internal.LogDebug("View: %d session(s), current %q", len(s.Sessions), s.CurrentID)
		})
		if err := a.engine.Start(ctx); err != nil {
			return err
		}

		g, gctx := errgroup.WithContext(ctx)
		if a.feed != nil {
			g.Go(func() error {
				err := a.feed.Run(gctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})
		}
		if cfg.MetricsAddr != "" {
			srv := &http.Server{
				Addr:              cfg.MetricsAddr,
				Handler:           metricsHandler(a),
				ReadHeaderTimeout: 5 * time.Second,
			}
			g.Go(func() error {
				internal.LogInfo("Serving metrics on %s/metrics", cfg.MetricsAddr)
				if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
			g.Go(func() error {
				<-gctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				return srv.Shutdown(shutdownCtx)
			})
		}
		if a.rest != nil && cfg.UserID != "" {
			// catch up on whatever changed while we were not running
			g.Go(func() error {
				if err := a.engine.SyncWithRemote(gctx); err != nil && gctx.Err() == nil {
					internal.LogWarn("Initial sync failed: %v", err)
				}
				return nil
			})
		}

		internal.PrintInfo("Watching for changes, press Ctrl+C to stop")
		<-gctx.Done()
		err = g.Wait()
		internal.PrintInfo("Shutting down")
		return err
	},
}

func metricsHandler(a *app) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(a.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintln(w, a.engine.State())
	})
	return mux
}

func init() {
	rootCmd.AddCommand(watchCmd)
	watchCmd.Flags().StringVar(&watchMetricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
	watchCmd.Flags().BoolVar(&watchLogJSON, "log-json", false, "Write logs as JSON lines")
}
