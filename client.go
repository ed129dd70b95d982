package mqtt311

import (
	"bufio"
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// ConnectionState is the lifecycle state of a client connection.
type ConnectionState int32

// Connection lifecycle states.
const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateDisconnecting
)

// String returns the string representation of the state.
func (s ConnectionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// Client is an MQTT 3.1.1 client. It owns one long-lived session with a
// broker: it sequences control packets, tracks in-flight requests, routes
// received PUBLISH packets through its subscription tree, and drives
// keep-alive and automatic reconnection.
type Client struct {
	options *clientOptions
	log     Logger
	metrics Metrics

	conn    Conn
	reader  *bufio.Reader
	writeMu sync.Mutex

	state  atomic.Int32
	closed atomic.Bool

	tracker       *RequestTracker
	subscriptions *TopicTree
	backoff       *reconnectBackoff
	pinger        *pinger

	// Number of successful CONNACK exchanges; the first fires the
	// connected event, later ones the resumed event.
	connCount int

	// QoS 2 state
	qos2Mu        sync.Mutex
	qos2Flows     map[uint16]*publishFlow // sender side: PUBREC received, sending PUBREL
	qos2Received  map[uint16]*Message     // receiver side: held until PUBREL
	qos2Completed map[uint16]struct{}     // receiver side: PUBCOMP sent, PUBREL may repeat

	reconnecting atomic.Bool
	done         chan struct{}
}

// publishFlow tracks the sender half of a QoS 2 exchange: once PUBREC
// arrives, retransmissions switch from PUBLISH to PUBREL.
type publishFlow struct {
	mu       sync.Mutex
	released bool
}

func (f *publishFlow) release() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.released {
		return false
	}
	f.released = true
	return true
}

func (f *publishFlow) isReleased() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.released
}

// NewClient creates a client for the broker at address. The client starts
// disconnected; call Connect to open the session.
func NewClient(address string, opts ...Option) *Client {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	options.address = address
	options.finalize()

	c := &Client{
		options:       options,
		log:           options.logger,
		metrics:       options.metrics,
		subscriptions: NewTopicTree(),
		backoff:       newReconnectBackoff(options.minBackoff, options.maxBackoff, options.backoffStrategy),
		qos2Flows:     make(map[uint16]*publishFlow),
		qos2Received:  make(map[uint16]*Message),
		qos2Completed: make(map[uint16]struct{}),
		done:          make(chan struct{}),
	}
	c.tracker = NewRequestTracker(options.clk, options.requestTimeout, options.requestRetries)
	c.pinger = newPinger(options.clk, time.Duration(options.keepAlive)*time.Second,
		options.requestTimeout, c.Ping, c.keepaliveTimeout)
	return c
}

// State returns the current connection state.
func (c *Client) State() ConnectionState {
	return ConnectionState(c.state.Load())
}

func (c *Client) setState(s ConnectionState) {
	c.state.Store(int32(s))
}

// IsConnected reports whether the client holds a live connection.
func (c *Client) IsConnected() bool {
	return c.State() == StateConnected
}

// emit delivers a lifecycle event to the event handler.
func (c *Client) emit(event error) {
	if c.options.onEvent != nil {
		c.options.onEvent(c, event)
	}
}

// Connect opens the transport, performs the CONNECT/CONNACK exchange, and
// starts the read loop and keep-alive timer. It blocks until the broker
// accepts or rejects the connection.
func (c *Client) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	if c.State() != StateDisconnected {
		return ErrProtocolError
	}

	c.setState(StateConnecting)

	if err := c.connectOnce(ctx); err != nil {
		c.setState(StateDisconnected)
		if c.options.autoReconnect && !c.closed.Load() {
			c.setState(StateReconnecting)
			go c.reconnectLoop(err)
		}
		return err
	}
	return nil
}

// connectOnce performs a single transport open and CONNECT/CONNACK
// exchange, wiring up the session on success.
func (c *Client) connectOnce(ctx context.Context) error {
	dialCtx := ctx
	if c.options.connectTimeout > 0 {
		var cancel context.CancelFunc
		dialCtx, cancel = context.WithTimeout(ctx, c.options.connectTimeout)
		defer cancel()
	}

	conn, err := c.options.dialer.Dial(dialCtx, c.options.address)
	if err != nil {
		c.log.Warn("transport open failed", LogFields{"address": c.options.address, "error": err})
		return err
	}

	connect := &ConnectPacket{
		ClientID:     c.options.clientID,
		CleanSession: c.options.cleanSession,
		KeepAlive:    c.options.keepAlive,
		Username:     c.options.username,
		Password:     c.options.password,
	}
	if c.options.willTopic != "" {
		connect.WillFlag = true
		connect.WillTopic = c.options.willTopic
		connect.WillQoS = c.options.willQoS
		connect.WillRetain = c.options.willRetain
		connect.WillPayload = c.options.willPayload
	}

	if c.options.connectTimeout > 0 {
		conn.SetDeadline(time.Now().Add(c.options.connectTimeout))
	}

	if _, err := WritePacket(conn, connect, 0); err != nil {
		conn.Close()
		return err
	}

	reader := bufio.NewReader(conn)
	pkt, _, err := ReadPacket(reader, c.options.maxPacketSize)
	if err != nil {
		conn.Close()
		return err
	}

	connack, ok := pkt.(*ConnackPacket)
	if !ok {
		conn.Close()
		return ErrProtocolError
	}

	if connack.ReturnCode != ConnectionAccepted {
		conn.Close()
		return &ConnectionRefusedError{ReturnCode: connack.ReturnCode}
	}

	conn.SetDeadline(time.Time{})

	c.writeMu.Lock()
	c.conn = conn
	c.reader = reader
	c.writeMu.Unlock()

	c.setState(StateConnected)
	c.backoff.Reset()
	c.connCount++
	resumed := c.connCount > 1

	c.log.Info("connected", LogFields{
		"address":         c.options.address,
		"client_id":       c.options.clientID,
		"session_present": connack.SessionPresent,
	})

	// Suspended in-flight requests go out first (with DUP), then the
	// offline queue drains with fresh identifiers.
	if resumed && !connack.SessionPresent && c.options.resubscribe {
		c.resubscribeAll()
	}
	c.tracker.Resume()
	c.tracker.SetConnected(true)

	c.pinger.Start()

	go c.readLoop(conn, reader)

	c.emit(newConnectedEvent(connack.SessionPresent, connack.ReturnCode, resumed))
	return nil
}

// resubscribeAll re-sends a SUBSCRIBE for every live filter. Used after a
// reconnect where the broker did not resume the session.
func (c *Client) resubscribeAll() {
	for _, sub := range c.subscriptions.Subscriptions() {
		filter, qos := sub.TopicFilter, sub.QoS
		c.tracker.Create(func(id uint16, _ bool) bool {
			pkt := &SubscribePacket{
				PacketID:      id,
				Subscriptions: []TopicSubscription{{TopicFilter: filter, QoS: qos}},
			}
			c.writePacket(pkt)
			return false
		}, nil)
	}
}

// Disconnect gracefully closes the session: it sends DISCONNECT, closes
// the transport, and fails every in-flight request with ErrDisconnected.
// Disconnect is terminal; the client does not reconnect afterwards.
func (c *Client) Disconnect() error {
	if !c.closed.CompareAndSwap(false, true) {
		return ErrClientClosed
	}

	c.setState(StateDisconnecting)
	close(c.done)
	c.pinger.Stop()

	if c.conn != nil {
		c.writePacket(&DisconnectPacket{})
	}

	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.reader = nil
	c.writeMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.tracker.SetConnected(false)
	c.tracker.FailAll(ErrDisconnected)
	c.tracker.FailQueued(ErrDisconnected)
	c.subscriptions.Close()

	c.setState(StateDisconnected)
	c.log.Info("disconnected", LogFields{"client_id": c.options.clientID})
	c.emit(ErrClientDisconnected)
	return nil
}

// keepaliveTimeout fires when the broker stops answering PINGREQ.
func (c *Client) keepaliveTimeout() {
	c.log.Warn("keep-alive timeout", LogFields{"client_id": c.options.clientID})
	c.connectionLost(ErrKeepaliveTimeout)
}

// connectionLost transitions a live connection into reconnecting. Only
// the first caller for a given connection wins; the read loop and the
// keep-alive timer can both observe the same failure.
func (c *Client) connectionLost(reason error) {
	if c.closed.Load() {
		return
	}
	if !c.state.CompareAndSwap(int32(StateConnected), int32(StateReconnecting)) {
		return
	}

	c.pinger.Stop()

	c.writeMu.Lock()
	conn := c.conn
	c.conn = nil
	c.reader = nil
	c.writeMu.Unlock()

	if conn != nil {
		conn.Close()
	}

	c.tracker.SetConnected(false)
	if c.options.cleanSession {
		// No session to resume: in-flight requests cannot complete
		c.tracker.FailAll(ErrDisconnected)
	} else {
		// Keep entries; they re-send with DUP after the reconnect
		c.tracker.Suspend()
	}

	c.log.Warn("connection lost", LogFields{"error": reason})
	c.emit(&ConnectionLostError{Reason: reason})

	if c.options.autoReconnect {
		go c.reconnectLoop(reason)
	} else {
		c.setState(StateDisconnected)
	}
}

// reconnectLoop retries the transport open with exponential backoff until
// a connection succeeds, the attempt budget is spent, or the client is
// closed.
func (c *Client) reconnectLoop(lastErr error) {
	if !c.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer c.reconnecting.Store(false)

	attempt := 0
	for {
		if c.closed.Load() {
			return
		}

		attempt++
		if c.options.maxReconnects >= 0 && attempt > c.options.maxReconnects {
			c.setState(StateDisconnected)
			c.emit(ErrReconnectFailed)
			return
		}

		delay := c.backoff.Next(lastErr)
		c.emit(&ReconnectEvent{
			Attempt:     attempt,
			MaxAttempts: c.options.maxReconnects,
			Delay:       delay,
		})
		c.log.Info("reconnecting", LogFields{"attempt": attempt, "delay": delay})

		timer := c.options.clk.Timer(delay)
		select {
		case <-c.done:
			timer.Stop()
			return
		case <-timer.C:
		}

		if c.closed.Load() {
			return
		}

		c.setState(StateConnecting)
		c.metrics.Counter(MetricReconnects).Inc()

		err := c.connectOnce(context.Background())
		if err == nil {
			return
		}

		lastErr = err
		c.setState(StateReconnecting)
	}
}

// readLoop decodes frames off the connection and dispatches them until
// the transport fails. Partial frames block inside ReadPacket; multiple
// frames in one chunk drain in order.
func (c *Client) readLoop(conn Conn, reader *bufio.Reader) {
	for {
		pkt, n, err := ReadPacket(reader, c.options.maxPacketSize)
		if err != nil {
			if c.closed.Load() {
				return
			}

			// The connection may already have been replaced by a reconnect
			c.writeMu.Lock()
			stale := c.conn != conn
			c.writeMu.Unlock()
			if stale {
				return
			}

			c.connectionLost(err)
			return
		}

		c.metrics.Counter(MetricPacketsReceived).Inc()
		c.metrics.Counter(MetricBytesReceived).Add(float64(n))

		c.handlePacket(pkt)
	}
}

// handlePacket dispatches an inbound packet by type.
func (c *Client) handlePacket(pkt Packet) {
	switch p := pkt.(type) {
	case *PublishPacket:
		c.handlePublish(p)
	case *PubackPacket:
		c.tracker.Complete(p.PacketID, nil)
	case *PubrecPacket:
		c.handlePubrec(p)
	case *PubrelPacket:
		c.handlePubrel(p)
	case *PubcompPacket:
		c.handlePubcomp(p)
	case *SubackPacket:
		c.handleSuback(p)
	case *UnsubackPacket:
		c.tracker.Complete(p.PacketID, nil)
	case *PingrespPacket:
		c.pinger.Pong()
	case *ConnackPacket:
		// CONNACK outside the connect handshake is illegal
		c.log.Error("unexpected CONNACK", nil)
		c.connectionLost(ErrProtocolError)
	default:
		// Broker-bound packet types must not arrive at a client
		c.log.Error("unexpected packet", LogFields{"type": pkt.Type().String()})
		c.connectionLost(ErrProtocolError)
	}
}

// handlePublish processes an inbound PUBLISH according to its QoS.
func (c *Client) handlePublish(pkt *PublishPacket) {
	msg := pkt.ToMessage()

	switch pkt.QoS {
	case QoS0:
		c.deliver(msg)

	case QoS1:
		c.deliver(msg)
		c.writePacket(&PubackPacket{PacketID: pkt.PacketID})

	case QoS2:
		c.qos2Mu.Lock()
		// A fresh PUBLISH reusing a completed identifier means the broker
		// received our PUBCOMP; the old exchange is over.
		if !pkt.DUP {
			delete(c.qos2Completed, pkt.PacketID)
		}
		if _, done := c.qos2Completed[pkt.PacketID]; !done {
			if _, seen := c.qos2Received[pkt.PacketID]; !seen {
				c.qos2Received[pkt.PacketID] = msg
			}
		}
		c.qos2Mu.Unlock()

		c.writePacket(&PubrecPacket{PacketID: pkt.PacketID})
	}
}

// handlePubrel completes the receiver half of a QoS 2 exchange: the held
// message is delivered exactly once and PUBCOMP is sent.
func (c *Client) handlePubrel(pkt *PubrelPacket) {
	c.qos2Mu.Lock()
	msg, ok := c.qos2Received[pkt.PacketID]
	if ok {
		delete(c.qos2Received, pkt.PacketID)
		c.qos2Completed[pkt.PacketID] = struct{}{}
	}
	c.qos2Mu.Unlock()

	if ok {
		c.deliver(msg)
	}

	// PUBCOMP goes out for retransmitted PUBRELs too
	c.writePacket(&PubcompPacket{PacketID: pkt.PacketID})
}

// handlePubrec advances the sender half of a QoS 2 exchange from PUBLISH
// to PUBREL.
func (c *Client) handlePubrec(pkt *PubrecPacket) {
	c.qos2Mu.Lock()
	flow, ok := c.qos2Flows[pkt.PacketID]
	c.qos2Mu.Unlock()

	if !ok {
		// Unknown identifier: late ack, silently dropped
		return
	}

	flow.release()
	c.writePacket(&PubrelPacket{PacketID: pkt.PacketID})
	c.tracker.ResetTimer(pkt.PacketID)
}

// handlePubcomp finishes the sender half of a QoS 2 exchange.
func (c *Client) handlePubcomp(pkt *PubcompPacket) {
	c.qos2Mu.Lock()
	delete(c.qos2Flows, pkt.PacketID)
	c.qos2Mu.Unlock()

	c.tracker.Complete(pkt.PacketID, nil)
}

// handleSuback resolves a pending subscribe with the broker's verdict.
func (c *Client) handleSuback(pkt *SubackPacket) {
	for _, code := range pkt.ReturnCodes {
		if code == SubackFailure {
			c.tracker.Complete(pkt.PacketID, ErrSubscriptionRejected)
			return
		}
	}
	c.tracker.Complete(pkt.PacketID, nil)
}

// deliver routes a message through the subscription tree.
func (c *Client) deliver(msg *Message) {
	if c.subscriptions.Publish(msg) == 0 {
		c.metrics.Counter(MetricMessagesDropped).Inc()
		c.log.Debug("no subscription matched", LogFields{"topic": msg.Topic})
	}
}

// writePacket serializes one packet onto the connection under the write
// lock.
func (c *Client) writePacket(pkt Packet) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}

	if c.options.writeTimeout > 0 {
		c.conn.SetWriteDeadline(time.Now().Add(c.options.writeTimeout))
		defer c.conn.SetWriteDeadline(time.Time{})
	}

	n, err := WritePacket(c.conn, pkt, 0)
	if err != nil {
		return err
	}

	c.metrics.Counter(MetricPacketsSent).Inc()
	c.metrics.Counter(MetricBytesSent).Add(float64(n))
	return nil
}

// Subscribe registers a handler for a topic filter and sends SUBSCRIBE.
// The handler fires once per matching publish until the filter is
// unsubscribed. Returns the packet identifier, or 0 if the request was
// queued while offline.
//
// onComplete, if not nil, fires when the broker acknowledges (or rejects)
// the subscription.
func (c *Client) Subscribe(filter string, qos byte, handler MessageHandler, onComplete OperationCallback) (uint16, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}
	if qos > 2 {
		return 0, ErrInvalidQoS
	}
	if err := ValidateTopicFilter(filter); err != nil {
		return 0, err
	}

	// The handler routes messages as soon as the broker starts sending,
	// which may happen before the SUBACK is observed.
	tx := c.subscriptions.Begin()
	if err := tx.Insert(filter, qos, handler, nil); err != nil {
		tx.Rollback()
		return 0, err
	}
	tx.Commit()

	id, err := c.tracker.Create(func(id uint16, _ bool) bool {
		pkt := &SubscribePacket{
			PacketID:      id,
			Subscriptions: []TopicSubscription{{TopicFilter: filter, QoS: qos}},
		}
		c.writePacket(pkt)
		return false
	}, func(opErr error) {
		if opErr != nil && opErr != ErrDisconnected {
			c.subscriptions.Remove(filter)
		}
		if onComplete != nil {
			onComplete(opErr)
		}
	})
	if err != nil {
		c.subscriptions.Remove(filter)
		return 0, err
	}

	c.metrics.Gauge(MetricRequestsInFlight).Set(float64(c.tracker.InFlight()))
	return id, nil
}

// Unsubscribe removes a subscription and sends UNSUBSCRIBE. The local
// routing entry is dropped when the broker acknowledges. Returns the
// packet identifier, or 0 if the request was queued while offline.
func (c *Client) Unsubscribe(filter string, onComplete OperationCallback) (uint16, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}
	if err := ValidateTopicFilter(filter); err != nil {
		return 0, err
	}

	id, err := c.tracker.Create(func(id uint16, _ bool) bool {
		pkt := &UnsubscribePacket{
			PacketID:     id,
			TopicFilters: []string{filter},
		}
		c.writePacket(pkt)
		return false
	}, func(opErr error) {
		if opErr == nil {
			c.subscriptions.Remove(filter)
		}
		if onComplete != nil {
			onComplete(opErr)
		}
	})
	if err != nil {
		return 0, err
	}

	return id, nil
}

// Publish sends an application message. QoS 0 publishes complete
// immediately and return identifier 0; QoS 1 and 2 publishes are tracked
// until acknowledged, retransmitting with DUP on timeout. Returns the
// packet identifier, or 0 if the request was queued while offline.
func (c *Client) Publish(topic string, qos byte, retain bool, payload []byte, onComplete OperationCallback) (uint16, error) {
	if c.closed.Load() {
		return 0, ErrClientClosed
	}
	if qos > 2 {
		return 0, ErrInvalidQoS
	}
	if err := ValidateTopicName(topic); err != nil {
		return 0, err
	}

	// QoS 0 bypasses the tracker entirely; identifier 0 is reserved for it
	if qos == QoS0 {
		pkt := &PublishPacket{
			Topic:   topic,
			Payload: payload,
			QoS:     QoS0,
			Retain:  retain,
		}
		err := c.writePacket(pkt)
		if err == ErrNotConnected {
			// Park it for the offline queue like any other request
			return c.tracker.Create(func(_ uint16, _ bool) bool {
				c.writePacket(pkt)
				return true
			}, onComplete)
		}
		if onComplete != nil {
			onComplete(err)
		}
		return 0, err
	}

	flow := &publishFlow{}

	id, err := c.tracker.Create(func(id uint16, firstAttempt bool) bool {
		if qos == QoS2 {
			c.qos2Mu.Lock()
			if _, ok := c.qos2Flows[id]; !ok {
				c.qos2Flows[id] = flow
			}
			c.qos2Mu.Unlock()

			if flow.isReleased() {
				// PUBREC came back; retransmissions carry PUBREL now
				c.writePacket(&PubrelPacket{PacketID: id})
				return false
			}
		}

		pkt := &PublishPacket{
			Topic:    topic,
			Payload:  payload,
			QoS:      qos,
			Retain:   retain,
			DUP:      !firstAttempt,
			PacketID: id,
		}
		if !firstAttempt {
			c.metrics.Counter(MetricRetransmissions).Inc()
		}
		c.writePacket(pkt)
		return false
	}, func(opErr error) {
		if qos == QoS2 {
			c.qos2Mu.Lock()
			for flowID, f := range c.qos2Flows {
				if f == flow {
					delete(c.qos2Flows, flowID)
					break
				}
			}
			c.qos2Mu.Unlock()
		}
		if onComplete != nil {
			onComplete(opErr)
		}
	})
	if err != nil {
		return 0, err
	}

	c.metrics.Gauge(MetricRequestsInFlight).Set(float64(c.tracker.InFlight()))
	return id, nil
}

// Ping sends a PINGREQ. The keep-alive timer calls this automatically;
// it is exported for manual liveness probes.
func (c *Client) Ping() error {
	if c.closed.Load() {
		return ErrClientClosed
	}
	return c.writePacket(&PingreqPacket{})
}

// Subscriptions returns a snapshot of the live subscription filters.
func (c *Client) Subscriptions() []Subscription {
	return c.subscriptions.Subscriptions()
}
