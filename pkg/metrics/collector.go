package metrics

import (
	"time"

	"github.com/cuemby/burrow/pkg/log"
	"github.com/cuemby/burrow/pkg/types"
)

// DefaultCollectInterval is how often gauges are refreshed
const DefaultCollectInterval = 15 * time.Second

// Source exposes the values sampled into gauges
type Source interface {
	// Counts returns the number of records held locally per collection
	Counts() map[types.Collection]int

	// QueueLen returns the number of mutations waiting to be pushed
	QueueLen() (int, error)
}

// Collector periodically samples a Source into the record and queue gauges
type Collector struct {
	source   Source
	interval time.Duration
	stopCh   chan struct{}
}

// NewCollector creates a new metrics collector
func NewCollector(source Source, interval time.Duration) *Collector {
	if interval <= 0 {
		interval = DefaultCollectInterval
	}
	return &Collector{
		source:   source,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start begins collecting metrics
func (c *Collector) Start() {
	ticker := time.NewTicker(c.interval)
	go func() {
		// Collect immediately on start
		c.collect()

		for {
			select {
			case <-ticker.C:
				c.collect()
			case <-c.stopCh:
				ticker.Stop()
				return
			}
		}
	}()
}

// Stop stops the collector
func (c *Collector) Stop() {
	close(c.stopCh)
}

func (c *Collector) collect() {
	counts := c.source.Counts()
	for _, coll := range types.Collections {
		RecordsTotal.WithLabelValues(string(coll)).Set(float64(counts[coll]))
	}

	n, err := c.source.QueueLen()
	if err != nil {
		logger := log.WithComponent("metrics")
		logger.Debug().Err(err).Msg("Failed to read queue length")
		return
	}
	QueueDepth.Set(float64(n))
}
