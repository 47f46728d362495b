// Package metrics exposes agent counters and gauges in Prometheus format.
package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/majorcontext/asrtt/internal/log"
	"github.com/majorcontext/asrtt/internal/tracker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns the agent's registry. A nil *Metrics records nothing.
type Metrics struct {
	registry    *prometheus.Registry
	reports     *prometheus.CounterVec
	polls       *prometheus.CounterVec
	state       prometheus.Gauge
	idleTimeout prometheus.Gauge
}

// New creates and registers all collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()

	reports := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asrtt",
			Name:      "reports_total",
			Help:      "Reports sent to the collector, by endpoint and result.",
		},
		[]string{"endpoint", "result"},
	)
	reg.MustRegister(reports)

	polls := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "asrtt",
			Name:      "policy_polls_total",
			Help:      "Tracking policy polls, by outcome.",
		},
		[]string{"result"},
	)
	reg.MustRegister(polls)

	state := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "asrtt",
		Name:      "tracker_state",
		Help:      "Tracker state: 0 stopped, 1 idle, 2 working.",
	})
	reg.MustRegister(state)

	idleTimeout := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "asrtt",
		Name:      "idle_timeout_seconds",
		Help:      "Idle timeout currently applied by the tracker.",
	})
	reg.MustRegister(idleTimeout)

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return &Metrics{
		registry:    reg,
		reports:     reports,
		polls:       polls,
		state:       state,
		idleTimeout: idleTimeout,
	}
}

// Registry returns the underlying registry.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// ObserveReport counts one report attempt.
func (m *Metrics) ObserveReport(endpoint, result string) {
	if m == nil {
		return
	}
	m.reports.WithLabelValues(endpoint, result).Inc()
}

// ObservePoll counts one policy poll.
func (m *Metrics) ObservePoll(outcome string) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(outcome).Inc()
}

// SetState records the tracker state.
func (m *Metrics) SetState(s tracker.State) {
	if m == nil {
		return
	}
	m.state.Set(float64(s))
}

// SetIdleTimeout records the idle timeout in effect.
func (m *Metrics) SetIdleTimeout(d time.Duration) {
	if m == nil {
		return
	}
	m.idleTimeout.Set(d.Seconds())
}

// Handler serves the registry.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ListenAndServe serves /metrics on addr until ctx is done.
func (m *Metrics) ListenAndServe(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return m.Serve(ctx, ln)
}

// Serve serves /metrics on ln until ctx is done.
func (m *Metrics) Serve(ctx context.Context, ln net.Listener) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Debug("metrics listening", "addr", ln.Addr().String())
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
