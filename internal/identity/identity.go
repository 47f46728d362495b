// Package identity assembles the body of working/not-working reports.
//
// Everything is re-read on each report: pointing the agent at another
// repository, switching branches or rotating a token takes effect on the
// next report without restarting the agent.
package identity

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/majorcontext/asrtt/internal/collector"
	"github.com/majorcontext/asrtt/internal/config"
	"github.com/majorcontext/asrtt/internal/credential"
	"github.com/majorcontext/asrtt/internal/gitinfo"
)

// Builder produces a collector.Identity for each report.
type Builder struct {
	// Dir is the config directory.
	Dir string
	// Tokens holds the gitlab and toggl tokens.
	Tokens credential.Store
	// AgentID identifies this agent process to the collector.
	AgentID string
}

// NewBuilder returns a Builder with a fresh agent id.
func NewBuilder(dir string, tokens credential.Store) *Builder {
	return &Builder{Dir: dir, Tokens: tokens, AgentID: NewAgentID()}
}

// NewAgentID returns a random id for one agent process.
func NewAgentID() string {
	return uuid.NewString()
}

// Build reads the current repository, branch and tokens.
func (b *Builder) Build(ctx context.Context) (collector.Identity, error) {
	if err := ctx.Err(); err != nil {
		return collector.Identity{}, err
	}

	cfg, err := config.Load(b.Dir)
	if err != nil {
		return collector.Identity{}, err
	}
	if cfg.RepositoryPath == "" {
		return collector.Identity{}, errors.New("no repository configured, run: asrtt set-repo")
	}

	remote, err := gitinfo.Remote(cfg.RepositoryPath)
	if err != nil {
		return collector.Identity{}, fmt.Errorf("reading remote of %s: %w", cfg.RepositoryPath, err)
	}
	branch, err := gitinfo.Branch(cfg.RepositoryPath)
	if err != nil {
		return collector.Identity{}, fmt.Errorf("reading branch of %s: %w", cfg.RepositoryPath, err)
	}

	gitlab, err := b.token(credential.GitLab)
	if err != nil {
		return collector.Identity{}, err
	}
	toggl, err := b.token(credential.Toggl)
	if err != nil {
		return collector.Identity{}, err
	}

	return collector.Identity{
		GitlabHostname: remote.Hostname,
		GitlabProject:  remote.Project,
		GitlabToken:    gitlab,
		TogglToken:     toggl,
		GitBranch:      branch,
		AgentID:        b.AgentID,
	}, nil
}

// token returns the named token. A token that was never stored is sent
// empty; the collector decides whether that is acceptable.
func (b *Builder) token(name string) (string, error) {
	v, err := b.Tokens.Get(name)
	if errors.Is(err, credential.ErrNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading %s token: %w", name, err)
	}
	return v, nil
}
