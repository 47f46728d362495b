package collector

import (
	"context"
	"sync"
	"time"

	"github.com/majorcontext/asrtt/internal/log"
)

// Report outcomes passed to ReporterOptions.OnResult.
const (
	ResultOK            = "ok"
	ResultError         = "error"
	ResultIdentityError = "identity_error"
	ResultDropped       = "dropped"
)

const (
	// DefaultReportTimeout bounds one report, identity lookup included.
	DefaultReportTimeout = 10 * time.Second
	reportQueueSize      = 32
)

// IdentityFunc produces the report body at send time.
type IdentityFunc func(ctx context.Context) (Identity, error)

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	Client   *Client
	Identity IdentityFunc
	// Timeout defaults to DefaultReportTimeout.
	Timeout time.Duration
	// OnResult, if set, receives the outcome of every report.
	OnResult func(endpoint, result string)
}

type report struct {
	endpoint string
	post     func(context.Context, Identity) error
}

// Reporter sends working/not-working reports in the background, one at a
// time and in the order they were requested. Failures are logged and
// dropped; nothing is retried.
type Reporter struct {
	client   *Client
	identity IdentityFunc
	timeout  time.Duration
	onResult func(endpoint, result string)

	mu     sync.RWMutex
	closed bool
	queue  chan report
	done   chan struct{}
}

// NewReporter starts the background sender.
func NewReporter(opts ReporterOptions) *Reporter {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultReportTimeout
	}
	r := &Reporter{
		client:   opts.Client,
		identity: opts.Identity,
		timeout:  timeout,
		onResult: opts.OnResult,
		queue:    make(chan report, reportQueueSize),
		done:     make(chan struct{}),
	}
	go r.run()
	return r
}

// Heartbeat queues a set-is-working report.
func (r *Reporter) Heartbeat() {
	r.enqueue(report{endpoint: EndpointSetWorking, post: r.client.SetWorking})
}

// NotWorking queues a set-not-working report.
func (r *Reporter) NotWorking() {
	r.enqueue(report{endpoint: EndpointSetNotWorking, post: r.client.SetNotWorking})
}

// Close stops accepting reports and waits for queued ones to finish or for
// ctx to end.
func (r *Reporter) Close(ctx context.Context) error {
	r.mu.Lock()
	if !r.closed {
		r.closed = true
		close(r.queue)
	}
	r.mu.Unlock()

	select {
	case <-r.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (r *Reporter) enqueue(rep report) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if r.closed {
		log.Debug("reporter closed, dropping report", "endpoint", rep.endpoint)
		r.observe(rep.endpoint, ResultDropped)
		return
	}
	select {
	case r.queue <- rep:
	default:
		log.Warn("report queue full, dropping report", "endpoint", rep.endpoint)
		r.observe(rep.endpoint, ResultDropped)
	}
}

func (r *Reporter) run() {
	defer close(r.done)
	for rep := range r.queue {
		r.send(rep)
	}
}

func (r *Reporter) send(rep report) {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	id, err := r.identity(ctx)
	if err != nil {
		log.Warn("cannot build report identity, dropping report", "endpoint", rep.endpoint, "error", err)
		r.observe(rep.endpoint, ResultIdentityError)
		return
	}
	if err := rep.post(ctx, id); err != nil {
		log.Warn("report failed", "endpoint", rep.endpoint, "error", err)
		r.observe(rep.endpoint, ResultError)
		return
	}
	log.Debug("report sent", "endpoint", rep.endpoint)
	r.observe(rep.endpoint, ResultOK)
}

func (r *Reporter) observe(endpoint, result string) {
	if r.onResult != nil {
		r.onResult(endpoint, result)
	}
}
