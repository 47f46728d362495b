package setup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/majorcontext/asrtt/internal/collector"
	"github.com/majorcontext/asrtt/internal/gitinfo"
)

// DefaultTogglURL is the Toggl Track endpoint that answers for a valid API
// token.
const DefaultTogglURL = "https://api.track.toggl.com/api/v9/me"

const validateTimeout = 10 * time.Second

// Validator checks answers against the outside world.
type Validator struct {
	Client *http.Client
	// GitLabBaseURL maps a remote host to the GitLab base URL. Defaults to
	// "https://" + host.
	GitLabBaseURL func(host string) string
	// TogglURL defaults to DefaultTogglURL.
	TogglURL string
}

// NewValidator returns a Validator using the collector HTTP client settings.
func NewValidator() (*Validator, error) {
	client, err := collector.NewHTTPClient(validateTimeout)
	if err != nil {
		return nil, err
	}
	return &Validator{Client: client}, nil
}

// RepositoryPath accepts a path inside a git working tree.
func RepositoryPath(path string) error {
	if path == "" {
		return errors.New("repository path is required")
	}
	if !gitinfo.IsRepo(path) {
		return fmt.Errorf("%s is not a git repository", path)
	}
	return nil
}

// ServerURL accepts an absolute http(s) URL.
func ServerURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%q is not an http(s) URL", s)
	}
	return nil
}

// GitLabToken checks token against the GitLab instance hosting the
// repository's origin remote. An empty token is accepted.
func (v *Validator) GitLabToken(ctx context.Context, repoPath, token string) error {
	if token == "" {
		return nil
	}
	remote, err := gitinfo.Remote(repoPath)
	if err != nil {
		return err
	}

	base := "https://" + remote.Hostname
	if v.GitLabBaseURL != nil {
		base = v.GitLabBaseURL(remote.Hostname)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, base+"/api/v4/version", nil)
	if err != nil {
		return err
	}
	req.Header.Set("PRIVATE-TOKEN", token)

	status, err := v.do(req)
	if err != nil {
		return err
	}
	switch status {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("repository %s with remote %s is probably not a gitlab remote", repoPath, remote.Hostname)
	default:
		return fmt.Errorf("gitlab rejected the token (HTTP %d)", status)
	}
}

// TogglToken checks token against the Toggl API.
func (v *Validator) TogglToken(ctx context.Context, token string) error {
	if token == "" {
		return errors.New("toggl token is required")
	}
	target := v.TogglURL
	if target == "" {
		target = DefaultTogglURL
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(token, "api_token")

	status, err := v.do(req)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("toggl rejected the token (HTTP %d)", status)
	}
	return nil
}

func (v *Validator) do(req *http.Request) (int, error) {
	client := v.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("contacting %s: %w", req.URL.Host, err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	return resp.StatusCode, nil
}
