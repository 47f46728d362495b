package tracker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/majorcontext/asrtt/internal/collector"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePolicy struct {
	mu     sync.Mutex
	policy collector.Policy
	err    error
	calls  int
	// started, when set, receives a value as each request begins.
	started chan struct{}
	// block makes requests wait until release is closed or ctx is done.
	block   bool
	release chan struct{}
}

func (f *fakePolicy) ShouldTrack(ctx context.Context) (collector.Policy, error) {
	f.mu.Lock()
	f.calls++
	policy, err, block, release, started := f.policy, f.err, f.block, f.release, f.started
	f.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if block {
		select {
		case <-release:
		case <-ctx.Done():
			return collector.Policy{}, ctx.Err()
		}
	}
	return policy, err
}

func (f *fakePolicy) set(p collector.Policy, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.policy, f.err = p, err
}

func (f *fakePolicy) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeDetector struct {
	mu       sync.Mutex
	running  bool
	starts   int
	stops    int
	timeouts []time.Duration
	startErr error
}

func (d *fakeDetector) Start(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.starts++
	if d.startErr != nil {
		return d.startErr
	}
	d.running = true
	return nil
}

func (d *fakeDetector) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.stops++
	d.running = false
}

func (d *fakeDetector) IsRunning() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.running
}

func (d *fakeDetector) SetIdleTimeout(t time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.timeouts = append(d.timeouts, t)
}

func (d *fakeDetector) snapshot() (starts, stops int, timeouts []time.Duration) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.starts, d.stops, append([]time.Duration(nil), d.timeouts...)
}

type outcomeLog struct {
	mu  sync.Mutex
	all []string
}

func (o *outcomeLog) record(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.all = append(o.all, s)
}

func (o *outcomeLog) list() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]string(nil), o.all...)
}

func track(d time.Duration) collector.Policy {
	return collector.Policy{Track: true, IdleTimeout: d}
}

func newTestManager(h *harness, policy PolicySource, det Detector) (*Manager, *outcomeLog) {
	outcomes := &outcomeLog{}
	m := NewManager(ManagerOptions{
		Clock:   h.clock,
		Policy:  policy,
		Tracker: det,
		OnPoll:  outcomes.record,
	})
	h.t.Cleanup(m.Stop)
	return m, outcomes
}

func TestManager_StartsTrackerWhenPolicySaysTrack(t *testing.T) {
	h := newHarness(t, 0)
	policy := &fakePolicy{policy: track(30 * time.Second)}
	m, outcomes := newTestManager(h, policy, h.tr)

	require.NoError(t, m.Start(h.ctx))

	assert.True(t, h.tr.IsRunning())
	assert.Equal(t, 30*time.Second, h.tr.IdleTimeout())
	assert.Equal(t, []string{PollTrack}, outcomes.list())

	next, ok := h.clock.Peek()
	require.True(t, ok)
	assert.Equal(t, DefaultPollInterval, next)
}

func TestManager_DoesNotStartWhenPolicySaysNo(t *testing.T) {
	h := newHarness(t, 0)
	policy := &fakePolicy{}
	m, outcomes := newTestManager(h, policy, h.tr)

	require.NoError(t, m.Start(h.ctx))

	assert.False(t, h.tr.IsRunning())
	assert.Equal(t, []string{PollNoTrack}, outcomes.list())
}

func TestManager_StartTwice(t *testing.T) {
	h := newHarness(t, 0)
	m, _ := newTestManager(h, &fakePolicy{}, h.tr)
	require.NoError(t, m.Start(h.ctx))
	assert.ErrorIs(t, m.Start(h.ctx), ErrAlreadyRunning)
}

func TestManager_PolicyChangeEndsSessionMidWork(t *testing.T) {
	h := newHarness(t, 0)
	policy := &fakePolicy{policy: track(30 * time.Second)}
	m, _ := newTestManager(h, policy, h.tr)
	require.NoError(t, m.Start(h.ctx))

	h.activity()
	require.Equal(t, StateWorking, h.tr.State())

	policy.set(collector.Policy{}, nil)
	h.advance(DefaultPollInterval)

	assert.Equal(t, StateStopped, h.tr.State())
	assert.Equal(t, []string{reportHeartbeat, reportNotWorking}, h.rep.all())
	next, ok := h.clock.Peek()
	require.True(t, ok, "polling continues")
	assert.Equal(t, DefaultPollInterval, next)
}

func TestManager_RefreshRetunesWithoutRestart(t *testing.T) {
	h := newHarness(t, 0)
	det := &fakeDetector{}
	policy := &fakePolicy{policy: track(30 * time.Second)}
	m, _ := newTestManager(h, policy, det)
	require.NoError(t, m.Start(h.ctx))

	policy.set(track(60*time.Second), nil)
	h.advance(DefaultPollInterval)
	h.advance(DefaultPollInterval)

	starts, stops, timeouts := det.snapshot()
	assert.Equal(t, 1, starts)
	assert.Equal(t, 0, stops)
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 60 * time.Second}, timeouts)
}

func TestManager_RefreshRetunesRealTracker(t *testing.T) {
	h := newHarness(t, 0)
	policy := &fakePolicy{policy: track(30 * time.Second)}
	m, _ := newTestManager(h, policy, h.tr)
	require.NoError(t, m.Start(h.ctx))
	h.activity()

	policy.set(track(60*time.Second), nil)
	h.advance(DefaultPollInterval)

	assert.Equal(t, StateWorking, h.tr.State(), "session survives a timeout change")
	assert.Equal(t, 60*time.Second, h.tr.IdleTimeout())
	assert.Equal(t, 1, h.states.entered(StateWorking))
	assert.Equal(t, 0, h.rep.count(reportNotWorking))
}

func TestManager_TransportErrorKeepsState(t *testing.T) {
	h := newHarness(t, 0)
	det := &fakeDetector{}
	policy := &fakePolicy{policy: track(30 * time.Second)}
	m, outcomes := newTestManager(h, policy, det)
	require.NoError(t, m.Start(h.ctx))

	policy.set(collector.Policy{}, &collector.StatusError{URL: "http://collector/should-track", StatusCode: 503})
	h.advance(DefaultPollInterval)

	assert.True(t, det.IsRunning())
	_, stops, _ := det.snapshot()
	assert.Equal(t, 0, stops)
	assert.Equal(t, []string{PollTrack, PollError}, outcomes.list())

	next, ok := h.clock.Peek()
	require.True(t, ok)
	assert.Equal(t, DefaultPollInterval, next)
}

func TestManager_MalformedPolicyStopsTracking(t *testing.T) {
	h := newHarness(t, 0)
	det := &fakeDetector{}
	policy := &fakePolicy{policy: track(30 * time.Second)}
	m, outcomes := newTestManager(h, policy, det)
	require.NoError(t, m.Start(h.ctx))

	policy.set(collector.Policy{}, fmt.Errorf("%w: %q", collector.ErrMalformedPolicy, "banana"))
	h.advance(DefaultPollInterval)

	assert.False(t, det.IsRunning())
	assert.Equal(t, []string{PollTrack, PollMalformed}, outcomes.list())
}

func TestManager_RearmsBeforeQuerying(t *testing.T) {
	h := newHarness(t, 0)
	policy := &fakePolicy{}
	m, _ := newTestManager(h, policy, &fakeDetector{})

	trap := h.clock.Trap().AfterFunc("poll")
	defer trap.Close()

	done := make(chan error, 1)
	go func() { done <- m.Start(h.ctx) }()

	call := trap.MustWait(h.ctx)
	assert.Equal(t, DefaultPollInterval, call.Duration)
	assert.Equal(t, 0, policy.callCount(), "next poll is scheduled before the request")
	call.MustRelease(h.ctx)

	require.NoError(t, <-done)
	assert.Equal(t, 1, policy.callCount())
}

func TestManager_SkipsTickWhilePollInFlight(t *testing.T) {
	h := newHarness(t, 0)
	policy := &fakePolicy{
		policy:  track(30 * time.Second),
		started: make(chan struct{}, 4),
		block:   true,
		release: make(chan struct{}),
	}
	det := &fakeDetector{}
	m, outcomes := newTestManager(h, policy, det)

	done := make(chan error, 1)
	go func() { done <- m.Start(h.ctx) }()
	<-policy.started

	_, w := h.clock.AdvanceNext()
	w.MustWait(h.ctx)
	assert.Equal(t, []string{PollSkipped}, outcomes.list())

	close(policy.release)
	require.NoError(t, <-done)

	assert.Equal(t, 1, policy.callCount())
	assert.Equal(t, []string{PollSkipped, PollTrack}, outcomes.list())
	assert.True(t, det.IsRunning())
}

func TestManager_StopEndsPollingAndSession(t *testing.T) {
	h := newHarness(t, 0)
	policy := &fakePolicy{policy: track(30 * time.Second)}
	m, _ := newTestManager(h, policy, h.tr)
	require.NoError(t, m.Start(h.ctx))
	h.activity()

	m.Stop()

	assert.Equal(t, StateStopped, h.tr.State())
	assert.Equal(t, []string{reportHeartbeat, reportNotWorking}, h.rep.all())
	h.noPendingTimers()

	m.Stop()
	assert.Equal(t, 1, h.rep.count(reportNotWorking))
}

func TestManager_StopCancelsInFlightRequest(t *testing.T) {
	h := newHarness(t, 0)
	policy := &fakePolicy{
		policy:  track(30 * time.Second),
		started: make(chan struct{}, 1),
		block:   true,
	}
	det := &fakeDetector{}
	m, _ := newTestManager(h, policy, det)

	done := make(chan error, 1)
	go func() { done <- m.Start(h.ctx) }()
	<-policy.started

	m.Stop()
	require.NoError(t, <-done)

	starts, _, _ := det.snapshot()
	assert.Equal(t, 0, starts, "a cancelled poll must not start the tracker")
	h.noPendingTimers()
}

func TestManager_TrackerStartFailureIsReported(t *testing.T) {
	h := newHarness(t, 0)
	boom := errors.New("no input devices")
	h.src.FailSubscribe(boom)
	policy := &fakePolicy{policy: track(30 * time.Second)}
	m, _ := newTestManager(h, policy, h.tr)

	require.NoError(t, m.Start(h.ctx))

	select {
	case err := <-m.Errors():
		assert.ErrorIs(t, err, boom)
	case <-h.ctx.Done():
		t.Fatal("expected start failure on Errors()")
	}
	assert.False(t, h.tr.IsRunning())

	_, ok := h.clock.Peek()
	assert.True(t, ok, "polling continues after a start failure")
}

func TestManager_StopBeforeStart(t *testing.T) {
	h := newHarness(t, 0)
	m, _ := newTestManager(h, &fakePolicy{}, h.tr)
	m.Stop()
}
