package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/coder/quartz"
	"github.com/majorcontext/asrtt/internal/activity"
	"github.com/stretchr/testify/require"
)

const (
	reportHeartbeat  = "heartbeat"
	reportNotWorking = "not-working"
)

// fakeReporter records reports in the order the tracker asked for them.
type fakeReporter struct {
	mu      sync.Mutex
	reports []string
}

func (r *fakeReporter) Heartbeat() { r.add(reportHeartbeat) }

func (r *fakeReporter) NotWorking() { r.add(reportNotWorking) }

func (r *fakeReporter) add(s string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, s)
}

func (r *fakeReporter) all() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.reports...)
}

func (r *fakeReporter) count(kind string) int {
	n := 0
	for _, s := range r.all() {
		if s == kind {
			n++
		}
	}
	return n
}

// stateLog records every transition reported through OnStateChange.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) entered(s State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, got := range l.states {
		if got == s {
			n++
		}
	}
	return n
}

type harness struct {
	t      *testing.T
	ctx    context.Context
	clock  *quartz.Mock
	src    *activity.Chan
	rep    *fakeReporter
	states *stateLog
	tr     *Tracker
}

func newHarness(t *testing.T, idleTimeout time.Duration) *harness {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	h := &harness{
		t:      t,
		ctx:    ctx,
		clock:  quartz.NewMock(t),
		src:    activity.NewChan(),
		rep:    &fakeReporter{},
		states: &stateLog{},
	}
	h.tr = New(Options{
		Clock:         h.clock,
		Source:        h.src,
		Reporter:      h.rep,
		IdleTimeout:   idleTimeout,
		OnStateChange: h.states.record,
	})
	t.Cleanup(h.tr.Stop)
	return h
}

func (h *harness) start() {
	h.t.Helper()
	require.NoError(h.t, h.tr.Start(h.ctx))
}

// activity emits an event the rate limiter lets through and waits until the
// tracker has scheduled the resulting idle deadline. It returns the deadline
// duration the tracker asked for.
func (h *harness) activity() time.Duration {
	h.t.Helper()
	trap := h.clock.Trap().AfterFunc("idle")
	defer trap.Close()

	h.src.Emit(activity.Event{Kind: activity.KeyPress})
	call := trap.MustWait(h.ctx)
	call.MustRelease(h.ctx)
	return call.Duration
}

// advance moves the clock forward by d, stopping at every timer on the way.
func (h *harness) advance(d time.Duration) {
	h.t.Helper()
	for d > 0 {
		next, ok := h.clock.Peek()
		if !ok || next > d {
			h.clock.Advance(d).MustWait(h.ctx)
			return
		}
		_, w := h.clock.AdvanceNext()
		w.MustWait(h.ctx)
		d -= next
	}
}

func (h *harness) noPendingTimers() {
	h.t.Helper()
	_, ok := h.clock.Peek()
	require.False(h.t, ok, "expected no pending timers")
}
