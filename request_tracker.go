package mqtt311

import (
	"errors"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

var (
	// ErrNoPacketIDs is returned when all 65535 packet identifiers are in flight.
	ErrNoPacketIDs = errors.New("no available packet IDs")

	// ErrDisconnected is delivered to every in-flight request when the
	// connection closes.
	ErrDisconnected = errors.New("disconnected with request in flight")

	// ErrTimeout is delivered to a request that was abandoned before its
	// acknowledgment arrived.
	ErrTimeout = errors.New("request timed out")
)

// SendFn transmits the packet for an outstanding request. firstAttempt is
// false on timeout-driven retransmissions, where PUBLISH packets must set
// the DUP flag. Return true if no acknowledgment is expected and the
// request completes immediately.
type SendFn func(packetID uint16, firstAttempt bool) bool

// OperationCallback receives the outcome of an operation. A nil error
// means the acknowledgment arrived.
type OperationCallback func(err error)

// outstandingRequest is one live entry in the in-flight table. An entry
// exists from Create until its completion callback has been scheduled;
// completed flips exactly once, whoever flips it runs onComplete.
type outstandingRequest struct {
	packetID   uint16
	send       SendFn
	onComplete OperationCallback
	completed  bool
	retries    int
	timer      *clock.Timer
}

// queuedRequest is a request parked while the connection is offline.
type queuedRequest struct {
	send       SendFn
	onComplete OperationCallback
}

// RequestTracker allocates packet identifiers, retransmits unacknowledged
// requests on a timer, and queues requests made while offline.
type RequestTracker struct {
	clk        clock.Clock
	timeout    time.Duration
	maxRetries int

	mu       sync.Mutex
	requests map[uint16]*outstandingRequest
	nextID   uint16

	queueMu   sync.Mutex
	queue     []*queuedRequest
	connected bool
}

// NewRequestTracker creates a request tracker. Retransmission fires every
// timeout until the request completes; after maxRetries retransmissions
// the request fails with ErrTimeout. maxRetries <= 0 retries forever.
func NewRequestTracker(clk clock.Clock, timeout time.Duration, maxRetries int) *RequestTracker {
	return &RequestTracker{
		clk:        clk,
		timeout:    timeout,
		maxRetries: maxRetries,
		requests:   make(map[uint16]*outstandingRequest),
		nextID:     1,
	}
}

// allocateIDLocked scans for the next packet identifier not in flight.
// Identifiers are drawn from 1..65535; 0 is never allocated.
func (t *RequestTracker) allocateIDLocked() (uint16, error) {
	if len(t.requests) >= maxUint16 {
		return 0, ErrNoPacketIDs
	}

	start := t.nextID
	for {
		if _, ok := t.requests[t.nextID]; !ok {
			id := t.nextID
			t.nextID++
			if t.nextID == 0 {
				t.nextID = 1
			}
			return id, nil
		}
		t.nextID++
		if t.nextID == 0 {
			t.nextID = 1
		}
		if t.nextID == start {
			return 0, ErrNoPacketIDs
		}
	}
}

// Create registers an outstanding request and invokes send with a fresh
// packet identifier. If the connection is offline the request is queued
// instead and 0 is returned; a fresh identifier is allocated when the
// queue drains.
func (t *RequestTracker) Create(send SendFn, onComplete OperationCallback) (uint16, error) {
	t.queueMu.Lock()
	if !t.connected {
		t.queue = append(t.queue, &queuedRequest{send: send, onComplete: onComplete})
		t.queueMu.Unlock()
		return 0, nil
	}
	t.queueMu.Unlock()

	return t.createOnline(send, onComplete)
}

func (t *RequestTracker) createOnline(send SendFn, onComplete OperationCallback) (uint16, error) {
	t.mu.Lock()
	id, err := t.allocateIDLocked()
	if err != nil {
		t.mu.Unlock()
		return 0, err
	}

	req := &outstandingRequest{
		packetID:   id,
		send:       send,
		onComplete: onComplete,
	}
	t.requests[id] = req
	t.mu.Unlock()

	// Send outside the lock; handlers may re-enter the tracker
	if send(id, true) {
		t.Complete(id, nil)
		return id, nil
	}

	t.mu.Lock()
	if !req.completed {
		req.timer = t.clk.AfterFunc(t.timeout, func() {
			t.retry(id)
		})
	}
	t.mu.Unlock()

	return id, nil
}

// retry retransmits a request whose acknowledgment did not arrive in time.
func (t *RequestTracker) retry(id uint16) {
	t.mu.Lock()
	req, ok := t.requests[id]
	if !ok || req.completed {
		t.mu.Unlock()
		return
	}

	req.retries++
	if t.maxRetries > 0 && req.retries > t.maxRetries {
		t.mu.Unlock()
		t.Complete(id, ErrTimeout)
		return
	}

	send := req.send
	t.mu.Unlock()

	if send(id, false) {
		t.Complete(id, nil)
		return
	}

	t.mu.Lock()
	if req, ok := t.requests[id]; ok && !req.completed {
		req.timer = t.clk.AfterFunc(t.timeout, func() {
			t.retry(id)
		})
	}
	t.mu.Unlock()
}

// Complete resolves an outstanding request. The first caller for a given
// identifier wins; a late acknowledgment whose identifier is no longer in
// the table is silently dropped. Returns true if the request was resolved
// by this call.
func (t *RequestTracker) Complete(id uint16, opErr error) bool {
	t.mu.Lock()
	req, ok := t.requests[id]
	if !ok || req.completed {
		t.mu.Unlock()
		return false
	}

	req.completed = true
	if req.timer != nil {
		req.timer.Stop()
		req.timer = nil
	}
	delete(t.requests, id)
	t.mu.Unlock()

	if req.onComplete != nil {
		req.onComplete(opErr)
	}
	return true
}

// ResetTimer re-arms the retransmission timer for an in-flight request.
// Used when a multi-step exchange (QoS 2) advances to its next packet.
func (t *RequestTracker) ResetTimer(id uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()

	req, ok := t.requests[id]
	if !ok || req.completed {
		return false
	}

	if req.timer != nil {
		req.timer.Stop()
	}
	req.timer = t.clk.AfterFunc(t.timeout, func() {
		t.retry(id)
	})
	return true
}

// Has reports whether the identifier is in flight.
func (t *RequestTracker) Has(id uint16) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.requests[id]
	return ok
}

// InFlight returns the number of outstanding requests.
func (t *RequestTracker) InFlight() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.requests)
}

// Queued returns the number of requests parked in the offline queue.
func (t *RequestTracker) Queued() int {
	t.queueMu.Lock()
	defer t.queueMu.Unlock()
	return len(t.queue)
}

// SetConnected flips the online gate. Transitioning to connected drains
// the offline queue in FIFO order through the normal create path.
func (t *RequestTracker) SetConnected(connected bool) {
	t.queueMu.Lock()
	t.connected = connected
	var drained []*queuedRequest
	if connected {
		drained = t.queue
		t.queue = nil
	}
	t.queueMu.Unlock()

	for _, q := range drained {
		if _, err := t.createOnline(q.send, q.onComplete); err != nil {
			if q.onComplete != nil {
				q.onComplete(err)
			}
		}
	}
}

// Suspend cancels all retransmission timers, keeping the entries in flight
// so they can be re-sent after a reconnect.
func (t *RequestTracker) Suspend() {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, req := range t.requests {
		if req.timer != nil {
			req.timer.Stop()
			req.timer = nil
		}
	}
}

// Resume retransmits every suspended request (firstAttempt=false, so
// PUBLISH packets carry DUP) and re-arms its timer. Called after a
// session-resuming reconnect.
func (t *RequestTracker) Resume() {
	t.mu.Lock()
	pending := make([]*outstandingRequest, 0, len(t.requests))
	for _, req := range t.requests {
		if !req.completed {
			pending = append(pending, req)
		}
	}
	t.mu.Unlock()

	for _, req := range pending {
		id := req.packetID
		if req.send(id, false) {
			t.Complete(id, nil)
			continue
		}

		t.mu.Lock()
		if cur, ok := t.requests[id]; ok && !cur.completed {
			cur.timer = t.clk.AfterFunc(t.timeout, func() {
				t.retry(id)
			})
		}
		t.mu.Unlock()
	}
}

// FailAll resolves every in-flight request with err and empties the table.
func (t *RequestTracker) FailAll(err error) {
	t.mu.Lock()
	failed := make([]*outstandingRequest, 0, len(t.requests))
	for id, req := range t.requests {
		if req.completed {
			continue
		}
		req.completed = true
		if req.timer != nil {
			req.timer.Stop()
			req.timer = nil
		}
		failed = append(failed, req)
		delete(t.requests, id)
	}
	t.mu.Unlock()

	for _, req := range failed {
		if req.onComplete != nil {
			req.onComplete(err)
		}
	}
}

// FailQueued resolves every request in the offline queue with err.
func (t *RequestTracker) FailQueued(err error) {
	t.queueMu.Lock()
	queued := t.queue
	t.queue = nil
	t.queueMu.Unlock()

	for _, q := range queued {
		if q.onComplete != nil {
			q.onComplete(err)
		}
	}
}
