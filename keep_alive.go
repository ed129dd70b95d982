package mqtt311

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// pinger drives the keep-alive exchange on a live connection: it sends
// PINGREQ at the keep-alive interval and declares the broker dead when a
// response stays outstanding past the request timeout.
type pinger struct {
	clk      clock.Clock
	interval time.Duration
	timeout  time.Duration

	sendPing  func() error
	onTimeout func()

	mu           sync.Mutex
	timer        *clock.Timer
	lastPingresp time.Time
	pingPending  bool
	running      bool
}

// newPinger creates a stopped pinger. interval is the keep-alive period;
// timeout bounds how long a PINGRESP may stay outstanding.
func newPinger(clk clock.Clock, interval, timeout time.Duration, sendPing func() error, onTimeout func()) *pinger {
	return &pinger{
		clk:       clk,
		interval:  interval,
		timeout:   timeout,
		sendPing:  sendPing,
		onTimeout: onTimeout,
	}
}

// Start arms the keep-alive timer. A zero interval disables keep-alive.
func (p *pinger) Start() {
	if p.interval <= 0 {
		return
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.running {
		return
	}
	p.running = true
	p.pingPending = false
	p.lastPingresp = p.clk.Now()
	p.timer = p.clk.AfterFunc(p.interval, p.tick)
}

// Stop cancels the keep-alive timer.
func (p *pinger) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.running = false
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

// Pong records a received PINGRESP.
func (p *pinger) Pong() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.lastPingresp = p.clk.Now()
	p.pingPending = false
}

// tick fires on the keep-alive interval: declare the connection dead if
// the previous PINGREQ is still unanswered past the timeout, otherwise
// send the next ping.
func (p *pinger) tick() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}

	expired := p.pingPending && p.clk.Now().Sub(p.lastPingresp) > p.interval+p.timeout
	if !expired {
		p.pingPending = true
		p.timer = p.clk.AfterFunc(p.interval, p.tick)
	}
	p.mu.Unlock()

	if expired {
		p.onTimeout()
		return
	}

	if err := p.sendPing(); err != nil {
		// Write failures surface through the read loop; nothing to do here
		return
	}
}
