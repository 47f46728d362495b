package tracker

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/coder/quartz"
	"github.com/majorcontext/asrtt/internal/collector"
	"github.com/majorcontext/asrtt/internal/log"
)

const (
	// DefaultPollInterval is how often the collector is asked for the policy.
	DefaultPollInterval = 10 * time.Second
	// DefaultPollTimeout bounds a single policy request.
	DefaultPollTimeout = 10 * time.Second
)

// Poll outcomes passed to ManagerOptions.OnPoll.
const (
	PollTrack     = "track"
	PollNoTrack   = "no_track"
	PollMalformed = "malformed"
	PollError     = "error"
	PollSkipped   = "skipped"
)

// PolicySource answers whether tracking should run.
type PolicySource interface {
	ShouldTrack(ctx context.Context) (collector.Policy, error)
}

// Detector is the part of a Tracker the Manager drives.
type Detector interface {
	Start(ctx context.Context) error
	Stop()
	IsRunning() bool
	SetIdleTimeout(d time.Duration)
}

// ManagerOptions configures a Manager.
type ManagerOptions struct {
	Clock   quartz.Clock
	Policy  PolicySource
	Tracker Detector
	// Interval defaults to DefaultPollInterval.
	Interval time.Duration
	// Timeout defaults to DefaultPollTimeout.
	Timeout time.Duration
	// OnPoll, if set, receives the outcome of every poll tick.
	OnPoll func(outcome string)
}

// Manager keeps the tracker in line with the collector's policy.
type Manager struct {
	clock    quartz.Clock
	policy   PolicySource
	tracker  Detector
	interval time.Duration
	timeout  time.Duration
	onPoll   func(string)
	errs     chan error

	// pollMu is held for the duration of one policy request and its effects.
	pollMu sync.Mutex

	mu      sync.Mutex
	running bool
	gen     uint64
	timer   *quartz.Timer
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewManager creates a stopped manager.
func NewManager(opts ManagerOptions) *Manager {
	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}
	return &Manager{
		clock:    clock,
		policy:   opts.Policy,
		tracker:  opts.Tracker,
		interval: interval,
		timeout:  timeout,
		onPoll:   opts.OnPoll,
		errs:     make(chan error, 1),
	}
}

// Start polls immediately and then every interval until Stop. Requests and
// the tracker's subscription are derived from ctx.
func (m *Manager) Start(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	m.running = true
	m.gen++
	gen := m.gen
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()

	m.poll(gen)
	return nil
}

// Stop cancels the pending poll and any request in flight, then stops the
// tracker if it runs. Safe to call more than once.
func (m *Manager) Stop() {
	m.mu.Lock()
	if !m.running {
		m.mu.Unlock()
		return
	}
	m.running = false
	m.gen++
	if m.timer != nil {
		m.timer.Stop()
		m.timer = nil
	}
	cancel := m.cancel
	m.mu.Unlock()

	cancel()

	m.pollMu.Lock()
	defer m.pollMu.Unlock()
	if m.tracker.IsRunning() {
		m.tracker.Stop()
	}
}

// Errors delivers failures the agent cannot recover from by polling again,
// such as the activity source refusing a subscription.
func (m *Manager) Errors() <-chan error {
	return m.errs
}

func (m *Manager) poll(gen uint64) {
	m.mu.Lock()
	if !m.running || gen != m.gen {
		m.mu.Unlock()
		return
	}
	// Re-arm before asking so a slow or failing collector never ends polling.
	m.timer = m.clock.AfterFunc(m.interval, func() { m.poll(gen) }, "manager", "poll")
	ctx := m.ctx
	m.mu.Unlock()

	if !m.pollMu.TryLock() {
		log.Debug("previous policy poll still in flight, skipping tick")
		m.observe(PollSkipped)
		return
	}
	defer m.pollMu.Unlock()

	reqCtx, cancel := context.WithTimeout(ctx, m.timeout)
	policy, err := m.policy.ShouldTrack(reqCtx)
	cancel()

	if !m.current(gen) {
		return
	}

	switch {
	case errors.Is(err, collector.ErrMalformedPolicy):
		log.Warn("malformed tracking policy, treating as do-not-track", "error", err)
		m.observe(PollMalformed)
		policy = collector.Policy{}
	case err != nil:
		log.Warn("cannot fetch tracking policy", "error", err)
		m.observe(PollError)
		return
	case policy.Track:
		m.observe(PollTrack)
	default:
		m.observe(PollNoTrack)
	}

	m.apply(ctx, policy)
}

func (m *Manager) apply(ctx context.Context, policy collector.Policy) {
	if !policy.Track {
		log.Debug("should not track")
		if m.tracker.IsRunning() {
			m.tracker.Stop()
		}
		return
	}

	log.Debug("should track", "idle_timeout", policy.IdleTimeout)
	m.tracker.SetIdleTimeout(policy.IdleTimeout)
	if m.tracker.IsRunning() {
		return
	}
	if err := m.tracker.Start(ctx); err != nil {
		log.Error("cannot start tracker", "error", err)
		select {
		case m.errs <- err:
		default:
		}
	}
}

func (m *Manager) current(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.running && gen == m.gen
}

func (m *Manager) observe(outcome string) {
	if m.onPoll != nil {
		m.onPoll(outcome)
	}
}
