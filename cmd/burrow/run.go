package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync engine in the foreground",
	Long: `Run loads the local database (seeding it on first start), performs an
initial sync, then keeps draining local changes and syncing every
sync.interval until interrupted.

Metrics and health endpoints (/metrics, /health, /ready, /live) are served on
metrics.addr.`,
	RunE: runRun,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	if cfg.Remote.URL == "" {
		return errors.New("remote url is required (--remote-url, BURROW_REMOTE_URL or remote.url)")
	}
	logger := log.WithComponent("cli")

	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go logEvents(ctx, a.broker)

	if err := a.rec.Bootstrap(ctx); err != nil {
		return fmt.Errorf("bootstrap failed: %w", err)
	}
	a.rec.Start()

	collector := metrics.NewCollector(a.mgr, metrics.DefaultCollectInterval)
	collector.Start()
	defer collector.Stop()

	logger.Info().
		Str("data_dir", cfg.DataDir).
		Str("remote", cfg.Remote.URL).
		Dur("interval", cfg.Sync.Interval).
		Msg("Burrow running")

	g, gctx := errgroup.WithContext(ctx)
	if cfg.Metrics.Addr != "" {
		mux := http.NewServeMux()
		metrics.Mount(mux)
		srv := &http.Server{
			Addr:              cfg.Metrics.Addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}

		g.Go(func() error {
			logger.Info().Str("addr", cfg.Metrics.Addr).Msg("Serving metrics and health")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("metrics server: %w", err)
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
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("Shutting down")
		return nil
	})

	return g.Wait()
}

// logEvents mirrors broker events into the debug log
func logEvents(ctx context.Context, broker *events.Broker) {
	sub := broker.Subscribe()
	logger := log.WithComponent("events")
	for {
		select {
		case ev, ok := <-sub:
			if !ok {
				return
			}
			logger.Debug().
				Str("type", string(ev.Type)).
				Interface("metadata", ev.Metadata).
				Msg(ev.Message)
		case <-ctx.Done():
			broker.Unsubscribe(sub)
			return
		}
	}
}
