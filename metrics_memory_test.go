package mqtt311

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMemoryMetricsCounter(t *testing.T) {
	m := NewMemoryMetrics()

	c := m.Counter(MetricPacketsSent)
	c.Inc()
	c.Add(2.5)
	assert.Equal(t, 3.5, c.Value())

	// Same name returns the same counter
	assert.Equal(t, 3.5, m.Counter(MetricPacketsSent).Value())
	assert.Zero(t, m.Counter(MetricPacketsReceived).Value())
}

func TestMemoryMetricsGauge(t *testing.T) {
	m := NewMemoryMetrics()

	g := m.Gauge(MetricRequestsInFlight)
	g.Set(10)
	g.Inc()
	g.Dec()
	g.Dec()
	assert.Equal(t, 9.0, g.Value())
}

func TestMemoryMetricsConcurrent(t *testing.T) {
	m := NewMemoryMetrics()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				m.Counter("c").Inc()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1000.0, m.Counter("c").Value())
}

func TestNoopMetrics(t *testing.T) {
	var m noopMetrics
	m.Counter("x").Inc()
	m.Gauge("y").Set(5)
	assert.Zero(t, m.Counter("x").Value())
	assert.Zero(t, m.Gauge("y").Value())
}
