package mqtt311

// Metrics defines the interface for collecting client metrics.
type Metrics interface {
	// Counter returns a counter metric by name.
	Counter(name string) Counter

	// Gauge returns a gauge metric by name.
	Gauge(name string) Gauge
}

// Counter is a monotonically increasing counter.
type Counter interface {
	// Inc increments the counter by 1.
	Inc()

	// Add increments the counter by the given value.
	Add(value float64)

	// Value returns the current value.
	Value() float64
}

// Gauge is a value that can go up and down.
type Gauge interface {
	// Set sets the gauge to the given value.
	Set(value float64)

	// Inc increments the gauge by 1.
	Inc()

	// Dec decrements the gauge by 1.
	Dec()

	// Value returns the current value.
	Value() float64
}

// Metric names emitted by the client.
const (
	MetricPacketsSent      = "mqtt_packets_sent_total"
	MetricPacketsReceived  = "mqtt_packets_received_total"
	MetricBytesSent        = "mqtt_bytes_sent_total"
	MetricBytesReceived    = "mqtt_bytes_received_total"
	MetricMessagesDropped  = "mqtt_messages_dropped_total"
	MetricRetransmissions  = "mqtt_retransmissions_total"
	MetricReconnects       = "mqtt_reconnects_total"
	MetricRequestsInFlight = "mqtt_requests_in_flight"
)

// noopMetrics discards all metrics.
type noopMetrics struct{}

type noopCounter struct{}

func (noopCounter) Inc()           {}
func (noopCounter) Add(_ float64)  {}
func (noopCounter) Value() float64 { return 0 }

type noopGauge struct{}

func (noopGauge) Set(_ float64)  {}
func (noopGauge) Inc()           {}
func (noopGauge) Dec()           {}
func (noopGauge) Value() float64 { return 0 }

func (noopMetrics) Counter(_ string) Counter { return noopCounter{} }
func (noopMetrics) Gauge(_ string) Gauge     { return noopGauge{} }
