// Package agent wires configuration, the collector client, the tracker and
// its manager into one runnable process.
package agent

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/quartz"
	"github.com/majorcontext/asrtt/internal/activity"
	"github.com/majorcontext/asrtt/internal/collector"
	"github.com/majorcontext/asrtt/internal/config"
	"github.com/majorcontext/asrtt/internal/credential"
	"github.com/majorcontext/asrtt/internal/identity"
	"github.com/majorcontext/asrtt/internal/log"
	"github.com/majorcontext/asrtt/internal/metrics"
	"github.com/majorcontext/asrtt/internal/tracker"
	"golang.org/x/sync/errgroup"
)

// DefaultShutdownTimeout bounds how long Run waits for outstanding reports
// after it has been asked to stop.
const DefaultShutdownTimeout = 5 * time.Second

// Options configures an Agent.
type Options struct {
	// Dir is the config directory; identity is re-read from it per report.
	Dir    string
	Config *config.Config
	Tokens credential.Store

	// Source defaults to activity.Default().
	Source activity.Source
	// Clock defaults to the real clock.
	Clock quartz.Clock
	// HTTPClient defaults to collector.NewHTTPClient(Config.RequestTimeout).
	HTTPClient *http.Client
	// Metrics defaults to a fresh registry.
	Metrics *metrics.Metrics
	// ShutdownTimeout defaults to DefaultShutdownTimeout.
	ShutdownTimeout time.Duration
}

// Agent is one running tracking agent.
type Agent struct {
	cfg             *config.Config
	id              string
	metrics         *metrics.Metrics
	reporter        *collector.Reporter
	tracker         *tracker.Tracker
	manager         *tracker.Manager
	shutdownTimeout time.Duration
}

// New builds an agent. Nothing runs until Run.
func New(opts Options) (*Agent, error) {
	cfg := opts.Config
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = quartz.NewReal()
	}
	source := opts.Source
	if source == nil {
		source = activity.Default()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		var err error
		if httpClient, err = collector.NewHTTPClient(cfg.RequestTimeout); err != nil {
			return nil, err
		}
	}
	shutdownTimeout := opts.ShutdownTimeout
	if shutdownTimeout <= 0 {
		shutdownTimeout = DefaultShutdownTimeout
	}

	client := collector.NewClient(cfg.CollectorEndpoints(), httpClient)
	ids := identity.NewBuilder(opts.Dir, opts.Tokens)

	reporter := collector.NewReporter(collector.ReporterOptions{
		Client:   client,
		Identity: ids.Build,
		Timeout:  cfg.RequestTimeout,
		OnResult: m.ObserveReport,
	})

	t := tracker.New(tracker.Options{
		Clock:         clock,
		Source:        source,
		Reporter:      reporter,
		IdleTimeout:   cfg.DefaultIdleTimeout,
		OnStateChange: m.SetState,
	})
	m.SetIdleTimeout(cfg.DefaultIdleTimeout)

	manager := tracker.NewManager(tracker.ManagerOptions{
		Clock:    clock,
		Policy:   client,
		Tracker:  &observedTracker{Tracker: t, metrics: m},
		Interval: cfg.PollInterval,
		Timeout:  cfg.RequestTimeout,
		OnPoll:   m.ObservePoll,
	})

	return &Agent{
		cfg:             cfg,
		id:              ids.AgentID,
		metrics:         m,
		reporter:        reporter,
		tracker:         t,
		manager:         manager,
		shutdownTimeout: shutdownTimeout,
	}, nil
}

// ID returns the agent id sent with every report.
func (a *Agent) ID() string { return a.id }

// State returns the tracker state.
func (a *Agent) State() tracker.State { return a.tracker.State() }

// Run polls the collector and tracks activity until ctx is done or the
// tracker cannot start. On the way out an open session is closed and
// queued reports get ShutdownTimeout to finish.
func (a *Agent) Run(ctx context.Context) error {
	log.SetAgentID(a.id)
	log.Info("agent starting",
		"should_track", a.cfg.CollectorEndpoints().ShouldTrack,
		"repository", a.cfg.RepositoryPath)

	g, gctx := errgroup.WithContext(ctx)

	if a.cfg.MetricsAddr != "" {
		g.Go(func() error {
			if err := a.metrics.ListenAndServe(gctx, a.cfg.MetricsAddr); err != nil {
				return fmt.Errorf("metrics listener: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		if err := a.manager.Start(gctx); err != nil {
			return err
		}
		select {
		case <-gctx.Done():
			return nil
		case err := <-a.manager.Errors():
			return fmt.Errorf("activity tracking failed: %w", err)
		}
	})

	err := g.Wait()
	a.shutdown()
	return err
}

func (a *Agent) shutdown() {
	a.manager.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), a.shutdownTimeout)
	defer cancel()
	if err := a.reporter.Close(ctx); err != nil {
		log.Warn("outstanding reports not delivered", "error", err)
	}
	log.Info("agent stopped")
}

// observedTracker records idle timeout changes made by the manager.
type observedTracker struct {
	*tracker.Tracker
	metrics *metrics.Metrics
}

func (o *observedTracker) SetIdleTimeout(d time.Duration) {
	o.Tracker.SetIdleTimeout(d)
	o.metrics.SetIdleTimeout(o.Tracker.IdleTimeout())
}
