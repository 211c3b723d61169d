package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/cuemby/burrow/pkg/config"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/reconciler"
	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/spf13/cobra"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

// cfg is resolved once per invocation by the root PersistentPreRunE
var cfg *config.Config

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "burrow",
	Short: "Burrow - offline-first sync for school records",
	Long: `Burrow keeps users, classes, students, journals, attendance and settings
in a local database that works without a network, and converges it with a
shared remote whenever the remote can be reached.

Local writes never wait for the network. They are queued and pushed in
order by a background drain; every sync pulls the full remote dataset and
replaces local state with it.`,
	Version:           Version,
	SilenceUsage:      true,
	PersistentPreRunE: loadConfig,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Burrow version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	flags := rootCmd.PersistentFlags()
	flags.String("config", "", "Config file (.yaml, .yml or .toml)")
	flags.String("data-dir", "", "Data directory for the local database")
	flags.String("remote-url", "", "Remote endpoint URL")
	flags.String("log-level", "", "Log level (debug, info, warn, error)")
	flags.Bool("log-json", false, "Output logs in JSON format")
}

// loadConfig resolves defaults, file, environment and flags, in that order
func loadConfig(cmd *cobra.Command, args []string) error {
	path, _ := cmd.Flags().GetString("config")
	c, err := config.Load(path)
	if err != nil {
		return err
	}

	if f := cmd.Flags().Lookup("data-dir"); f != nil && f.Changed {
		c.DataDir = f.Value.String()
	}
	if f := cmd.Flags().Lookup("remote-url"); f != nil && f.Changed {
		c.Remote.URL = f.Value.String()
	}
	if f := cmd.Flags().Lookup("log-level"); f != nil && f.Changed {
		c.Log.Level = f.Value.String()
	}
	if cmd.Flags().Changed("log-json") {
		c.Log.JSON, _ = cmd.Flags().GetBool("log-json")
	}

	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	log.Init(log.Config{
		Level:      log.Level(c.Log.Level),
		JSONOutput: c.Log.JSON,
		Output:     os.Stderr,
		File:       c.Log.File,
	})
	metrics.SetVersion(Version)

	cfg = c
	return nil
}

// app is the wired set of components one command works with
type app struct {
	store  *storage.BoltStore
	mgr    *manager.Manager
	broker *events.Broker
	rec    *reconciler.Reconciler // nil when no remote is configured
}

// openApp opens the local database and loads it into memory. The
// reconciler is only created when a remote URL is configured.
func openApp() (*app, error) {
	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open local store (is another burrow process running?): %w", err)
	}
	metrics.RegisterComponent(metrics.ComponentStore, true, "")

	broker := events.NewBroker()
	broker.Start()

	mgr, err := manager.NewManager(&manager.Config{Store: store, Broker: broker})
	if err != nil {
		broker.Stop()
		_ = store.Close()
		return nil, err
	}

	a := &app{store: store, mgr: mgr, broker: broker}
	if cfg.Remote.URL != "" {
		adapter, err := remote.NewHTTPAdapter(remote.Config{
			URL:       cfg.Remote.URL,
			Timeout:   cfg.Remote.Timeout,
			RateLimit: cfg.Remote.RateLimit,
			Burst:     cfg.Remote.Burst,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
		a.rec, err = reconciler.NewReconciler(&reconciler.Config{
			Manager:  mgr,
			Queue:    store,
			Remote:   adapter,
			Broker:   broker,
			Interval: cfg.Sync.Interval,
		})
		if err != nil {
			a.Close()
			return nil, err
		}
	}
	return a, nil
}

// openLocal opens the app and loads local data without touching the network
func openLocal() (*app, error) {
	a, err := openApp()
	if err != nil {
		return nil, err
	}
	if _, err := a.mgr.LoadOrSeed(types.SeedDataset()); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

// Close stops background work and closes the database
func (a *app) Close() {
	if a.rec != nil {
		a.rec.Stop()
	}
	a.broker.Stop()
	if err := a.store.Close(); err != nil {
		logger := log.WithComponent("cli")
		logger.Warn().Err(err).Msg("Failed to close store")
	}
}

// pushPending makes one attempt to push queued mutations after a local
// write. Whatever is left stays queued for the next run or sync.
func (a *app) pushPending(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	if a.rec == nil {
		fmt.Fprintln(out, "No remote configured, change queued locally")
		return
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Remote.Timeout+5*time.Second)
	defer cancel()
	pushed, remaining, err := a.rec.Drain(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(out, "Push failed, change queued locally: %v\n", err)
	case remaining > 0:
		fmt.Fprintf(out, "Pushed %d, %d still queued (remote unreachable or rejected)\n", pushed, remaining)
	default:
		fmt.Fprintf(out, "Pushed %d queued change(s)\n", pushed)
	}
}
