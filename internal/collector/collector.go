// Package collector talks to the remote time-tracking collector: it fetches
// the tracking policy and posts working/not-working reports.
package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/net/http2"
)

// Endpoint names, also used as metric labels.
const (
	EndpointShouldTrack   = "should-track"
	EndpointSetWorking    = "set-is-working"
	EndpointSetNotWorking = "set-not-working"
)

// maxBodySize caps how much of a response is read.
const maxBodySize = 64 << 10

// ErrMalformedPolicy is returned when the collector answered but the body is
// not a policy. Callers treat it as "do not track".
var ErrMalformedPolicy = errors.New("malformed tracking policy")

// Policy is the collector's answer to "should tracking run?".
type Policy struct {
	Track       bool
	IdleTimeout time.Duration
}

// Identity is the body of working/not-working reports.
type Identity struct {
	GitlabHostname string `json:"gitlabHostname"`
	GitlabProject  string `json:"gitlabProject"`
	GitlabToken    string `json:"gitlabToken"`
	TogglToken     string `json:"togglToken"`
	GitBranch      string `json:"gitBranch"`
	AgentID        string `json:"agentId,omitempty"`
}

// Endpoints holds the absolute URL of each collector operation.
type Endpoints struct {
	ShouldTrack   string
	SetWorking    string
	SetNotWorking string
}

// StatusError reports a non-2xx answer.
type StatusError struct {
	URL        string
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("%s returned HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("%s returned HTTP %d: %s", e.URL, e.StatusCode, e.Body)
}

// NewHTTPClient returns an HTTP client with bounded dial, handshake and
// overall timeouts and HTTP/2 enabled for TLS collectors.
func NewHTTPClient(timeout time.Duration) (*http.Client, error) {
	tr := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ResponseHeaderTimeout: timeout,
		IdleConnTimeout:       90 * time.Second,
		MaxIdleConns:          4,
	}
	if err := http2.ConfigureTransport(tr); err != nil {
		return nil, fmt.Errorf("configuring HTTP/2: %w", err)
	}
	return &http.Client{Transport: tr, Timeout: timeout}, nil
}

// Client performs single collector requests. It does not retry.
type Client struct {
	endpoints Endpoints
	http      *http.Client
	userAgent string
}

// NewClient creates a client. A nil httpClient uses http.DefaultClient.
func NewClient(endpoints Endpoints, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &Client{
		endpoints: endpoints,
		http:      httpClient,
		userAgent: "asrtt",
	}
}

// Endpoints returns the URLs the client uses.
func (c *Client) Endpoints() Endpoints {
	return c.endpoints
}

// ShouldTrack fetches the current policy. Transport failures and non-2xx
// answers are returned as errors; an unparseable 2xx body wraps
// ErrMalformedPolicy.
func (c *Client) ShouldTrack(ctx context.Context) (Policy, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoints.ShouldTrack, nil)
	if err != nil {
		return Policy{}, err
	}
	body, err := c.do(req)
	if err != nil {
		return Policy{}, err
	}
	return DecodePolicy(body)
}

// SetWorking posts a heartbeat.
func (c *Client) SetWorking(ctx context.Context, id Identity) error {
	return c.post(ctx, c.endpoints.SetWorking, id)
}

// SetNotWorking posts the end of a working session.
func (c *Client) SetNotWorking(ctx context.Context, id Identity) error {
	return c.post(ctx, c.endpoints.SetNotWorking, id)
}

func (c *Client) post(ctx context.Context, url string, id Identity) error {
	payload, err := json.Marshal(id)
	if err != nil {
		return fmt.Errorf("encoding report: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	_, err = c.do(req)
	return err
}

func (c *Client) do(req *http.Request) ([]byte, error) {
	req.Header.Set("User-Agent", c.userAgent)
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", req.URL, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{
			URL:        req.URL.String(),
			StatusCode: resp.StatusCode,
			Body:       string(bytes.TrimSpace(body)),
		}
	}
	return body, nil
}

// DecodePolicy parses a should-track answer. Two encodings are accepted:
// a JSON object whose integer "maxIdleTime" (seconds) means "track" and
// whose absence means "do not track", and a plain-text body holding either
// the number of seconds or "n".
func DecodePolicy(body []byte) (Policy, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || string(body) == "n" {
		return Policy{}, nil
	}

	if body[0] == '{' {
		var payload struct {
			MaxIdleTime *int64 `json:"maxIdleTime"`
		}
		if err := json.Unmarshal(body, &payload); err != nil {
			return Policy{}, fmt.Errorf("%w: %v", ErrMalformedPolicy, err)
		}
		if payload.MaxIdleTime == nil {
			return Policy{}, nil
		}
		return trackFor(*payload.MaxIdleTime)
	}

	seconds, err := strconv.ParseInt(string(body), 10, 64)
	if err != nil {
		return Policy{}, fmt.Errorf("%w: %q", ErrMalformedPolicy, truncate(body, 64))
	}
	return trackFor(seconds)
}

func trackFor(seconds int64) (Policy, error) {
	if seconds < 0 || seconds > math.MaxInt64/int64(time.Second) {
		return Policy{}, fmt.Errorf("%w: idle timeout %d out of range", ErrMalformedPolicy, seconds)
	}
	return Policy{Track: true, IdleTimeout: time.Duration(seconds) * time.Second}, nil
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
