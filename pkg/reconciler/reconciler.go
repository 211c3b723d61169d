package reconciler

import (
	"context"
	"fmt"
	"sync"
	"time"

	apperrors "github.com/cuemby/burrow/pkg/errors"
	"github.com/cuemby/burrow/pkg/events"
	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/manager"
	"github.com/cuemby/burrow/pkg/metrics"
	"github.com/cuemby/burrow/pkg/remote"
	"github.com/cuemby/burrow/pkg/storage"
	"github.com/cuemby/burrow/pkg/types"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// Config holds configuration for creating a Reconciler
type Config struct {
	Manager *manager.Manager
	Queue   storage.Queue
	Remote  remote.Adapter
	Broker  *events.Broker // optional

	// Interval between background sync cycles; 0 disables them
	Interval time.Duration
}

// SyncResult summarises one sync cycle
type SyncResult struct {
	Pushed    int
	Remaining int
	Pulled    map[types.Collection]int
	Duration  time.Duration
}

// Reconciler pushes queued local mutations and replaces local state with
// the remote snapshot
type Reconciler struct {
	manager  *manager.Manager
	queue    storage.Queue
	remote   remote.Adapter
	broker   *events.Broker
	interval time.Duration
	logger   zerolog.Logger

	// drainMu makes the drain routine single-flight between the worker and
	// the drain step of a sync cycle
	drainMu sync.Mutex
	trigger chan struct{}
	syncs   singleflight.Group

	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewReconciler creates a reconciler and registers it as the manager's
// drainer
func NewReconciler(cfg *Config) (*Reconciler, error) {
	if cfg.Manager == nil || cfg.Queue == nil || cfg.Remote == nil {
		return nil, fmt.Errorf("reconciler requires a manager, queue and remote")
	}

	ctx, cancel := context.WithCancel(context.Background())
	r := &Reconciler{
		manager:  cfg.Manager,
		queue:    cfg.Queue,
		remote:   cfg.Remote,
		broker:   cfg.Broker,
		interval: cfg.Interval,
		logger:   log.WithComponent("reconciler"),
		trigger:  make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
	}
	cfg.Manager.SetDrainer(r)
	return r, nil
}

// Bootstrap loads local data, seeding the store on first run, and then
// attempts one sync. A failed sync is logged and does not fail bootstrap.
func (r *Reconciler) Bootstrap(ctx context.Context) error {
	seeded, err := r.manager.LoadOrSeed(types.SeedDataset())
	if err != nil {
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return err
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")
	metrics.UpdateComponent(metrics.ComponentReconciler, true, "")

	if seeded {
		r.logger.Info().Msg("Local store was empty, seeded default dataset")
	} else {
		r.logger.Info().Interface("records", r.manager.Counts()).Msg("Loaded local dataset")
	}

	if _, err := r.Sync(ctx); err != nil {
		r.logger.Warn().Err(err).Msg("Initial sync failed, continuing with local data")
	}
	return nil
}

// Start launches the drain worker and, when an interval is set, the
// periodic sync loop
func (r *Reconciler) Start() {
	r.startOnce.Do(func() {
		r.wg.Add(1)
		go r.drainWorker()

		if r.interval > 0 {
			r.wg.Add(1)
			go r.run()
		}
		r.logger.Info().Dur("interval", r.interval).Msg("Reconciler started")
	})
}

// Stop stops the background goroutines and waits for an in-flight drain
func (r *Reconciler) Stop() {
	r.stopOnce.Do(func() {
		r.cancel()
		r.wg.Wait()
		r.logger.Info().Msg("Reconciler stopped")
	})
}

// run is the periodic sync loop
func (r *Reconciler) run() {
	defer r.wg.Done()

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if _, err := r.Sync(r.ctx); err != nil {
				r.logger.Debug().Err(err).Msg("Periodic sync failed")
			}
		case <-r.ctx.Done():
			return
		}
	}
}

// Sync runs one cycle: drain the queue, pull the snapshot, normalize it and
// replace local state. Concurrent callers share the cycle in flight. Any
// failure is returned as errors.ErrSyncFailed and leaves local state as it
// was.
//
// The shared cycle runs until Stop, bounded by the remote's request
// timeouts. ctx only bounds how long this caller waits for it, so one
// caller giving up never cancels the cycle for the others.
func (r *Reconciler) Sync(ctx context.Context) (*SyncResult, error) {
	ch := r.syncs.DoChan("sync", func() (any, error) {
		return r.syncOnce(r.ctx)
	})

	select {
	case res := <-ch:
		if res.Shared {
			r.logger.Debug().Msg("Shared sync cycle with another caller")
		}
		result, _ := res.Val.(*SyncResult)
		if res.Err != nil {
			return result, apperrors.Wrap(apperrors.ErrSyncFailed, "sync failed", res.Err)
		}
		return result, nil
	case <-ctx.Done():
		return nil, apperrors.Wrap(apperrors.ErrSyncFailed, "sync abandoned", ctx.Err())
	}
}

func (r *Reconciler) syncOnce(ctx context.Context) (*SyncResult, error) {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.SyncDuration)
	r.publish(events.EventSyncStarted, "sync started", nil)

	result := &SyncResult{Pulled: make(map[types.Collection]int)}

	pushed, remaining, err := r.Drain(ctx)
	result.Pushed, result.Remaining = pushed, remaining
	if err != nil {
		// The queue stays intact; the pull still runs
		r.logger.Warn().Err(err).Msg("Queue drain failed")
	}
	if n, err := r.queue.Len(); err == nil {
		result.Remaining = n
	}

	err = r.pullAndReplace(ctx, result)
	result.Duration = timer.Duration()
	if err != nil {
		metrics.SyncCyclesTotal.WithLabelValues("failure").Inc()
		r.publish(events.EventSyncFailed, err.Error(), result)
		r.logger.Warn().Err(err).
			Int("pushed", result.Pushed).
			Int("remaining", result.Remaining).
			Msg("Sync cycle failed")
		return result, err
	}

	metrics.SyncCyclesTotal.WithLabelValues("success").Inc()
	metrics.LastSyncTimestamp.SetToCurrentTime()
	r.publish(events.EventSyncCompleted, "sync completed", result)
	r.logger.Info().
		Int("pushed", result.Pushed).
		Int("remaining", result.Remaining).
		Dur("duration", result.Duration).
		Msg("Sync cycle completed")
	return result, nil
}

func (r *Reconciler) pullAndReplace(ctx context.Context, result *SyncResult) error {
	snap, err := r.remote.Pull(ctx)
	if err != nil {
		return fmt.Errorf("pull: %w", err)
	}

	dataset, err := Normalize(snap, r.manager.Settings())
	if err != nil {
		return fmt.Errorf("normalize: %w", err)
	}

	if err := r.manager.Replace(dataset); err != nil {
		metrics.UpdateComponent(metrics.ComponentStore, false, err.Error())
		return fmt.Errorf("replace local state: %w", err)
	}
	metrics.UpdateComponent(metrics.ComponentStore, true, "")

	for _, c := range types.Collections {
		result.Pulled[c] = dataset.Len(c)
	}
	return nil
}

func (r *Reconciler) publish(eventType events.EventType, message string, result *SyncResult) {
	if r.broker == nil {
		return
	}
	ev := &events.Event{Type: eventType, Message: message}
	if result != nil {
		ev.Metadata = map[string]string{
			"pushed":    fmt.Sprint(result.Pushed),
			"remaining": fmt.Sprint(result.Remaining),
		}
	}
	r.broker.Publish(ev)
}
