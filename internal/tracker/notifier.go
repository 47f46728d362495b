package tracker

import (
	"sync"
	"time"

	"github.com/coder/quartz"
)

// AliveNotifier calls send immediately on Start and then every interval
// until Stop.
type AliveNotifier struct {
	clock quartz.Clock
	send  func()

	mu       sync.Mutex
	interval time.Duration
	armed    bool
	gen      uint64
	timer    *quartz.Timer
}

// NewAliveNotifier creates a disarmed notifier. send must not block.
func NewAliveNotifier(clock quartz.Clock, interval time.Duration, send func()) *AliveNotifier {
	return &AliveNotifier{
		clock:    clock,
		send:     send,
		interval: interval,
	}
}

// Start arms the notifier and sends the first heartbeat right away.
func (n *AliveNotifier) Start() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.cancelLocked()
	n.armed = true
	n.gen++
	n.notifyLocked(n.gen)
}

// Stop disarms the notifier and cancels the pending tick. It is a no-op on a
// notifier that was never started.
func (n *AliveNotifier) Stop() {
	n.mu.Lock()
	defer n.mu.Unlock()

	n.armed = false
	n.gen++
	n.cancelLocked()
}

// SetInterval changes the cadence used for the next reschedule. A tick that
// is already pending keeps its original time.
func (n *AliveNotifier) SetInterval(d time.Duration) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.interval = d
}

// Interval returns the current cadence.
func (n *AliveNotifier) Interval() time.Duration {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.interval
}

// Armed reports whether heartbeats are being sent.
func (n *AliveNotifier) Armed() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.armed
}

func (n *AliveNotifier) tick(gen uint64) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if !n.armed || gen != n.gen {
		return
	}
	n.notifyLocked(gen)
}

func (n *AliveNotifier) notifyLocked(gen uint64) {
	n.send()

	// A zero cadence would spin; keep the single heartbeat and wait for the
	// next Start.
	if n.interval <= 0 {
		n.timer = nil
		return
	}
	n.timer = n.clock.AfterFunc(n.interval, func() { n.tick(gen) }, "tracker", "heartbeat")
}

func (n *AliveNotifier) cancelLocked() {
	if n.timer != nil {
		n.timer.Stop()
		n.timer = nil
	}
}
