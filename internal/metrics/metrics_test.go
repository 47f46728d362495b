package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/majorcontext/asrtt/internal/tracker"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestObserve(t *testing.T) {
	m := New()

	m.ObserveReport("set-is-working", "ok")
	m.ObserveReport("set-is-working", "ok")
	m.ObserveReport("set-not-working", "error")
	m.ObservePoll(tracker.PollTrack)
	m.SetState(tracker.StateWorking)
	m.SetIdleTimeout(90 * time.Second)

	assert.Equal(t, float64(2), testutil.ToFloat64(m.reports.WithLabelValues("set-is-working", "ok")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.reports.WithLabelValues("set-not-working", "error")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.polls.WithLabelValues(tracker.PollTrack)))
	assert.Equal(t, float64(2), testutil.ToFloat64(m.state))
	assert.Equal(t, float64(90), testutil.ToFloat64(m.idleTimeout))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveReport("should-track", "ok")
	m.ObservePoll(tracker.PollError)
	m.SetState(tracker.StateIdle)
	m.SetIdleTimeout(time.Second)
}

func TestHandler(t *testing.T) {
	m := New()
	m.ObservePoll(tracker.PollNoTrack)

	srv := httptest.NewServer(m.Handler())
	defer srv.Close()

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Contains(t, string(body), `asrtt_policy_polls_total{result="no_track"} 1`)
	assert.Contains(t, string(body), "asrtt_tracker_state 0")
}

func TestServeStopsWithContext(t *testing.T) {
	m := New()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.Serve(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Serve did not return after cancel")
	}
}
