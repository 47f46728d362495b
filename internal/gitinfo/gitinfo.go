// Package gitinfo reads the remote and branch of the tracked repository.
package gitinfo

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
)

// RemoteName is the remote whose URL identifies the project.
const RemoteName = "origin"

// ErrDetachedHead is returned by Branch when HEAD does not point at a branch.
var ErrDetachedHead = errors.New("HEAD is detached")

// RemoteInfo identifies a project on its hosting server.
type RemoteInfo struct {
	Hostname string
	// Project is the namespaced path, e.g. "team/app".
	Project string
}

func open(path string) (*git.Repository, error) {
	repo, err := git.PlainOpenWithOptions(path, &git.PlainOpenOptions{DetectDotGit: true})
	if err != nil {
		return nil, fmt.Errorf("opening repository %s: %w", path, err)
	}
	return repo, nil
}

// IsRepo reports whether path is inside a git working tree.
func IsRepo(path string) bool {
	_, err := open(path)
	return err == nil
}

// Remote returns the host and project of the origin remote.
func Remote(path string) (RemoteInfo, error) {
	repo, err := open(path)
	if err != nil {
		return RemoteInfo{}, err
	}
	remote, err := repo.Remote(RemoteName)
	if err != nil {
		return RemoteInfo{}, fmt.Errorf("reading remote %q: %w", RemoteName, err)
	}
	urls := remote.Config().URLs
	if len(urls) == 0 {
		return RemoteInfo{}, fmt.Errorf("remote %q has no URL", RemoteName)
	}
	return ParseRemoteURL(urls[0])
}

// Branch returns the short name of the checked-out branch.
func Branch(path string) (string, error) {
	repo, err := open(path)
	if err != nil {
		return "", err
	}
	// Resolve only one level so an unborn branch still has a name.
	head, err := repo.Reference(plumbing.HEAD, false)
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	if head.Type() != plumbing.SymbolicReference || !head.Target().IsBranch() {
		return "", ErrDetachedHead
	}
	return head.Target().Short(), nil
}

// ParseRemoteURL splits a remote URL into host and project path. It accepts
// scp-like SSH ("git@host:team/app.git") and URL forms ("https://host/team/app",
// "ssh://git@host:2222/team/app.git").
func ParseRemoteURL(rawURL string) (RemoteInfo, error) {
	if rawURL == "" {
		return RemoteInfo{}, fmt.Errorf("empty remote URL")
	}

	var host, path string
	if !strings.Contains(rawURL, "://") {
		// scp-like: [user@]host:path
		rest := rawURL
		if i := strings.Index(rest, "@"); i >= 0 {
			rest = rest[i+1:]
		}
		parts := strings.SplitN(rest, ":", 2)
		if len(parts) != 2 {
			return RemoteInfo{}, fmt.Errorf("invalid SSH URL: %s", rawURL)
		}
		host, path = parts[0], parts[1]
	} else {
		u, err := url.Parse(rawURL)
		if err != nil {
			return RemoteInfo{}, fmt.Errorf("invalid URL %q: %w", rawURL, err)
		}
		host, path = u.Hostname(), u.Path
	}

	path = strings.Trim(path, "/")
	path = strings.TrimSuffix(path, ".git")
	if host == "" || path == "" {
		return RemoteInfo{}, fmt.Errorf("remote URL %q has no host or project", rawURL)
	}
	return RemoteInfo{Hostname: host, Project: path}, nil
}
