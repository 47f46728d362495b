package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/majorcontext/asrtt/internal/activity"
	"github.com/majorcontext/asrtt/internal/log"
	"github.com/majorcontext/asrtt/internal/ratelimit"
)

// State is the tracker's position in its lifecycle.
type State int

const (
	StateStopped State = iota
	StateIdle
	StateWorking
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateIdle:
		return "idle"
	case StateWorking:
		return "working"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// ErrAlreadyRunning is returned by Start on a running tracker or manager.
var ErrAlreadyRunning = errors.New("already running")

// DefaultActivityRate is the minimum spacing between activity events the
// tracker acts on.
const DefaultActivityRate = time.Second

// Reporter delivers session reports to the collector. Both methods must
// return immediately; delivery is best effort.
type Reporter interface {
	// Heartbeat reports that the user is working.
	Heartbeat()
	// NotWorking reports that the working session ended.
	NotWorking()
}

// Options configures a Tracker.
type Options struct {
	Clock       quartz.Clock
	Source      activity.Source
	Reporter    Reporter
	IdleTimeout time.Duration
	// ActivityRate defaults to DefaultActivityRate.
	ActivityRate time.Duration
	// OnStateChange, if set, is called with the lock held after every
	// transition. It must be quick.
	OnStateChange func(State)
}

// Tracker decides whether the user is working from the spacing of activity
// events.
type Tracker struct {
	clock         quartz.Clock
	source        activity.Source
	reporter      Reporter
	notifier      *AliveNotifier
	handle        func(activity.Event)
	onStateChange func(State)

	mu          sync.Mutex
	state       State
	idleTimeout time.Duration
	deadline    *quartz.Timer
	deadlineGen uint64
	cancel      context.CancelFunc
	done        chan struct{}
}

// New creates a stopped tracker.
func New(opts Options) *Tracker {
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	rate := opts.ActivityRate
	if rate <= 0 {
		rate = DefaultActivityRate
	}

	t := &Tracker{
		clock:         clock,
		source:        opts.Source,
		reporter:      opts.Reporter,
		idleTimeout:   opts.IdleTimeout,
		onStateChange: opts.OnStateChange,
	}
	t.notifier = NewAliveNotifier(clock, opts.IdleTimeout/2, opts.Reporter.Heartbeat)
	t.handle = ratelimit.Wrap(ratelimit.New(clock, rate), t.activity)
	return t
}

// Start subscribes to the activity source. The tracker is idle until the
// first event arrives. If the subscription fails the tracker stays stopped.
func (t *Tracker) Start(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateStopped {
		return ErrAlreadyRunning
	}

	subCtx, cancel := context.WithCancel(ctx)
	events, err := t.source.Subscribe(subCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribing to activity source: %w", err)
	}

	t.cancel = cancel
	t.done = make(chan struct{})
	t.setStateLocked(StateIdle)
	go t.run(subCtx, events, t.done)

	log.Info("tracker started", "idle_timeout", t.idleTimeout)
	return nil
}

// Stop unsubscribes and moves to stopped. An open working session is closed
// first, which sends the not-working report. Stop on a stopped tracker does
// nothing.
func (t *Tracker) Stop() {
	t.mu.Lock()
	if t.state == StateStopped {
		t.mu.Unlock()
		return
	}
	if t.state == StateWorking {
		t.stopWorkingLocked()
	}
	t.setStateLocked(StateStopped)
	cancel, done := t.cancel, t.done
	t.cancel, t.done = nil, nil
	t.mu.Unlock()

	cancel()
	<-done
	log.Info("tracker stopped")
}

// SetIdleTimeout changes the idle timeout and the heartbeat cadence. An idle
// deadline that is already scheduled keeps its time; the new value applies
// from the next activity event.
func (t *Tracker) SetIdleTimeout(d time.Duration) {
	if d < 0 {
		log.Warn("ignoring negative idle timeout", "idle_timeout", d)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if d == t.idleTimeout {
		return
	}
	log.Info("updating idle timeout", "from", t.idleTimeout, "to", d)
	t.idleTimeout = d
	t.notifier.SetInterval(d / 2)
}

// IdleTimeout returns the configured idle timeout.
func (t *Tracker) IdleTimeout() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.idleTimeout
}

// State returns the current state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// IsRunning reports whether the tracker is subscribed, idle or working.
func (t *Tracker) IsRunning() bool {
	return t.State() != StateStopped
}

func (t *Tracker) run(ctx context.Context, events <-chan activity.Event, done chan struct{}) {
	defer close(done)
	for ev := range events {
		t.handle(ev)
	}
	if ctx.Err() == nil {
		log.Warn("activity source closed, no further activity will be seen")
	}
}

func (t *Tracker) activity(ev activity.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()

	switch t.state {
	case StateWorking:
		t.scheduleDeadlineLocked()
	case StateIdle:
		log.Info("started working", "trigger", ev.Kind.String())
		t.setStateLocked(StateWorking)
		t.notifier.Start()
		t.scheduleDeadlineLocked()
	}
}

// scheduleDeadlineLocked replaces the idle deadline with one idleTimeout
// from now.
func (t *Tracker) scheduleDeadlineLocked() {
	t.cancelDeadlineLocked()
	gen := t.deadlineGen
	t.deadline = t.clock.AfterFunc(t.idleTimeout, func() { t.deadlineExpired(gen) }, "tracker", "idle")
}

func (t *Tracker) cancelDeadlineLocked() {
	if t.deadline != nil {
		t.deadline.Stop()
		t.deadline = nil
	}
	t.deadlineGen++
}

func (t *Tracker) deadlineExpired(gen uint64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.state != StateWorking || gen != t.deadlineGen {
		return
	}
	t.deadline = nil
	t.stopWorkingLocked()
	t.setStateLocked(StateIdle)
}

func (t *Tracker) stopWorkingLocked() {
	t.cancelDeadlineLocked()
	t.notifier.Stop()
	log.Info("stopped working")
	t.reporter.NotWorking()
}

func (t *Tracker) setStateLocked(s State) {
	t.state = s
	if t.onStateChange != nil {
		t.onStateChange(s)
	}
}
