package mqtt311

import (
	"crypto/tls"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/xid"
)

// clientOptions holds configuration for a Client.
type clientOptions struct {
	// Connection settings
	address      string
	dialer       Dialer
	clientID     string
	username     string
	password     []byte
	keepAlive    uint16
	cleanSession bool

	// Timeouts
	connectTimeout time.Duration
	requestTimeout time.Duration
	requestRetries int
	writeTimeout   time.Duration

	// Will message
	willTopic   string
	willPayload []byte
	willRetain  bool
	willQoS     byte

	// Auto reconnect settings
	autoReconnect   bool
	maxReconnects   int
	minBackoff      time.Duration
	maxBackoff      time.Duration
	backoffStrategy BackoffStrategy

	// Re-send SUBSCRIBE packets when the broker starts a fresh session
	resubscribe bool

	// Event handler
	onEvent EventHandler

	// Limits
	maxPacketSize uint32

	// Ambient
	logger  Logger
	metrics Metrics
	clk     clock.Clock
}

// defaultOptions returns options with sensible defaults.
func defaultOptions() *clientOptions {
	return &clientOptions{
		dialer:         &TCPDialer{},
		keepAlive:      60,
		cleanSession:   true,
		connectTimeout: 10 * time.Second,
		requestTimeout: 5 * time.Second,
		writeTimeout:   5 * time.Second,
		autoReconnect:  true,
		maxReconnects:  -1,
		minBackoff:     1 * time.Second,
		maxBackoff:     60 * time.Second,
		resubscribe:    true,
		maxPacketSize:  maxRemainingLen,
		logger:         NewNoOpLogger(),
		metrics:        noopMetrics{},
		clk:            clock.New(),
	}
}

// finalize fills in generated values after all options have applied.
func (o *clientOptions) finalize() {
	if o.clientID == "" {
		o.clientID = "mqtt311-" + xid.New().String()
	}
}

// Option configures a Client.
type Option func(*clientOptions)

// WithDialer sets the transport dialer. Defaults to plain TCP.
func WithDialer(d Dialer) Option {
	return func(o *clientOptions) {
		o.dialer = d
	}
}

// WithTLS dials the broker over TLS with the given configuration.
func WithTLS(config *tls.Config) Option {
	return func(o *clientOptions) {
		o.dialer = &TLSDialer{Config: config}
	}
}

// WithClientID sets the client identifier. A random identifier is
// generated when unset.
func WithClientID(id string) Option {
	return func(o *clientOptions) {
		o.clientID = id
	}
}

// WithCredentials sets the username and password for authentication.
func WithCredentials(username, password string) Option {
	return func(o *clientOptions) {
		o.username = username
		if password != "" {
			o.password = []byte(password)
		}
	}
}

// WithKeepAlive sets the keep-alive interval in seconds. Zero disables
// keep-alive.
func WithKeepAlive(seconds uint16) Option {
	return func(o *clientOptions) {
		o.keepAlive = seconds
	}
}

// WithCleanSession sets whether to request a clean session on connect.
func WithCleanSession(clean bool) Option {
	return func(o *clientOptions) {
		o.cleanSession = clean
	}
}

// WithWill sets the will message published by the broker on an ungraceful
// disconnect.
func WithWill(topic string, qos byte, retain bool, payload []byte) Option {
	return func(o *clientOptions) {
		o.willTopic = topic
		o.willQoS = qos
		o.willRetain = retain
		o.willPayload = payload
	}
}

// WithConnectTimeout sets the timeout for the transport open plus the
// CONNECT/CONNACK exchange.
func WithConnectTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.connectTimeout = d
	}
}

// WithRequestTimeout sets how long an unacknowledged request waits before
// it is retransmitted.
func WithRequestTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.requestTimeout = d
	}
}

// WithRequestRetries bounds how many times an unacknowledged request is
// retransmitted before it fails with ErrTimeout. Zero retries forever.
func WithRequestRetries(n int) Option {
	return func(o *clientOptions) {
		o.requestRetries = n
	}
}

// WithWriteTimeout sets the deadline for individual packet writes.
func WithWriteTimeout(d time.Duration) Option {
	return func(o *clientOptions) {
		o.writeTimeout = d
	}
}

// WithAutoReconnect enables or disables automatic reconnection on
// connection loss.
func WithAutoReconnect(enabled bool) Option {
	return func(o *clientOptions) {
		o.autoReconnect = enabled
	}
}

// WithMaxReconnects sets the maximum number of reconnection attempts.
// Use -1 for unlimited attempts.
func WithMaxReconnects(n int) Option {
	return func(o *clientOptions) {
		o.maxReconnects = n
	}
}

// WithReconnectBackoff sets the minimum and maximum delay between
// reconnection attempts. The delay doubles on each consecutive failure
// and resets on a successful connection.
func WithReconnectBackoff(min, max time.Duration) Option {
	return func(o *clientOptions) {
		o.minBackoff = min
		o.maxBackoff = max
	}
}

// WithBackoffStrategy replaces the doubling backoff rule with a custom
// strategy.
func WithBackoffStrategy(s BackoffStrategy) Option {
	return func(o *clientOptions) {
		o.backoffStrategy = s
	}
}

// WithResubscribe controls whether the client re-sends SUBSCRIBE packets
// after reconnecting to a broker that did not resume the session.
func WithResubscribe(enabled bool) Option {
	return func(o *clientOptions) {
		o.resubscribe = enabled
	}
}

// WithEventHandler sets the lifecycle event handler.
func WithEventHandler(h EventHandler) Option {
	return func(o *clientOptions) {
		o.onEvent = h
	}
}

// WithMaxPacketSize limits the size of inbound packets.
func WithMaxPacketSize(size uint32) Option {
	return func(o *clientOptions) {
		o.maxPacketSize = size
	}
}

// WithLogger sets the logger.
func WithLogger(l Logger) Option {
	return func(o *clientOptions) {
		o.logger = l
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(m Metrics) Option {
	return func(o *clientOptions) {
		o.metrics = m
	}
}

// WithClock replaces the wall clock, letting tests drive timers
// deterministically.
func WithClock(clk clock.Clock) Option {
	return func(o *clientOptions) {
		o.clk = clk
	}
}
