package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/cuemby/burrow/pkg/types"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	counts   map[types.Collection]int
	queueLen int
	queueErr error
}

func (f *fakeSource) Counts() map[types.Collection]int { return f.counts }
func (f *fakeSource) QueueLen() (int, error)           { return f.queueLen, f.queueErr }

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, g.Write(&m))
	return m.GetGauge().GetValue()
}

func TestCollectorCollect(t *testing.T) {
	src := &fakeSource{
		counts:   map[types.Collection]int{types.CollectionStudents: 31, types.CollectionUsers: 2},
		queueLen: 4,
	}
	c := NewCollector(src, time.Minute)
	c.collect()

	assert.Equal(t, 31.0, gaugeValue(t, RecordsTotal.WithLabelValues("students")))
	assert.Equal(t, 2.0, gaugeValue(t, RecordsTotal.WithLabelValues("users")))
	assert.Equal(t, 0.0, gaugeValue(t, RecordsTotal.WithLabelValues("journals")))
	assert.Equal(t, 4.0, gaugeValue(t, QueueDepth))

	// A failing queue read leaves the last known depth
	src.queueLen = 9
	src.queueErr = errors.New("database not open")
	c.collect()
	assert.Equal(t, 4.0, gaugeValue(t, QueueDepth))
}

func TestCollectorStartStop(t *testing.T) {
	src := &fakeSource{counts: map[types.Collection]int{types.CollectionClasses: 3}, queueLen: 1}
	c := NewCollector(src, 0)
	assert.Equal(t, DefaultCollectInterval, c.interval)

	c.Start()
	assert.Eventually(t, func() bool {
		return gaugeValue(t, RecordsTotal.WithLabelValues("classes")) == 3
	}, time.Second, 10*time.Millisecond)
	c.Stop()
}
