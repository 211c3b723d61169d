package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Local state metrics
	RecordsTotal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "burrow_records_total",
			Help: "Number of records held locally by collection",
		},
		[]string{"collection"},
	)

	QueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_queue_depth",
			Help: "Number of mutations waiting to be pushed",
		},
	)

	MutationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_local_mutations_total",
			Help: "Total number of local mutations by collection and action",
		},
		[]string{"collection", "action"},
	)

	// Remote metrics
	PushesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_remote_pushes_total",
			Help: "Total number of push attempts by action and result",
		},
		[]string{"action", "result"},
	)

	RepairsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_remote_repairs_total",
			Help: "Pushes resolved by a repair rule (update_as_create, delete_missing)",
		},
		[]string{"rule"},
	)

	PullDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_remote_pull_duration_seconds",
			Help:    "Time taken to pull the remote snapshot in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Sync metrics
	DrainsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_queue_drains_total",
			Help: "Total number of queue drains by outcome (empty, drained, blocked, error)",
		},
		[]string{"outcome"},
	)

	SyncCyclesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "burrow_sync_cycles_total",
			Help: "Total number of sync cycles by result",
		},
		[]string{"result"},
	)

	SyncDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "burrow_sync_duration_seconds",
			Help:    "Sync cycle duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	LastSyncTimestamp = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "burrow_last_sync_timestamp_seconds",
			Help: "Unix time of the last successful sync cycle",
		},
	)
)

func init() {
	// Register all metrics
	prometheus.MustRegister(RecordsTotal)
	prometheus.MustRegister(QueueDepth)
	prometheus.MustRegister(MutationsTotal)
	prometheus.MustRegister(PushesTotal)
	prometheus.MustRegister(RepairsTotal)
	prometheus.MustRegister(PullDuration)
	prometheus.MustRegister(DrainsTotal)
	prometheus.MustRegister(SyncCyclesTotal)
	prometheus.MustRegister(SyncDuration)
	prometheus.MustRegister(LastSyncTimestamp)
}

// Handler returns the Prometheus HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}
