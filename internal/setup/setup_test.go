package setup

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-git/go-git/v5"
	gitconfig "github.com/go-git/go-git/v5/config"
	"github.com/majorcontext/asrtt/internal/config"
	"github.com/majorcontext/asrtt/internal/credential"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	goodGitLab = "glpat-good"
	goodToggl  = "toggl-good"
)

// fakeServices answers like GitLab's version endpoint and Toggl's /me.
func fakeServices(t *testing.T) *Validator {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/gitlab/api/v4/version", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("PRIVATE-TOKEN") != goodGitLab {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		w.Write([]byte(`{"version":"16.0.0"}`))
	})
	mux.HandleFunc("/toggl/me", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != goodToggl || pass != "api_token" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		w.Write([]byte(`{}`))
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return &Validator{
		Client:        srv.Client(),
		GitLabBaseURL: func(string) string { return srv.URL + "/gitlab" },
		TogglURL:      srv.URL + "/toggl/me",
	}
}

func newRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	repo, err := git.PlainInit(dir, false)
	require.NoError(t, err)
	_, err = repo.CreateRemote(&gitconfig.RemoteConfig{
		Name: "origin",
		URLs: []string{"git@gitlab.example.com:team/app.git"},
	})
	require.NoError(t, err)
	return dir
}

func newWizard(t *testing.T, input string) (*Wizard, *bytes.Buffer) {
	t.Helper()
	var out bytes.Buffer
	dir := t.TempDir()
	return &Wizard{
		Dir:       dir,
		Tokens:    credential.NewFile(dir),
		Validator: fakeServices(t),
		In:        strings.NewReader(input),
		Out:       &out,
	}, &out
}

func TestWizardRun(t *testing.T) {
	repo := newRepo(t)
	input := strings.Join([]string{
		repo,
		goodGitLab,
		goodToggl,
		"https://tracker.example.com",
		"/var/log/asrtt",
	}, "\n") + "\n"
	w, _ := newWizard(t, input)

	cfg, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, repo, cfg.RepositoryPath)
	assert.Equal(t, "https://tracker.example.com/", cfg.ServerURL)
	assert.Equal(t, "/var/log/asrtt", cfg.LogsDir)

	saved, err := config.Load(w.Dir)
	require.NoError(t, err)
	assert.Equal(t, cfg.ServerURL, saved.ServerURL)

	gitlab, err := w.Tokens.Get(credential.GitLab)
	require.NoError(t, err)
	assert.Equal(t, goodGitLab, gitlab)
	toggl, err := w.Tokens.Get(credential.Toggl)
	require.NoError(t, err)
	assert.Equal(t, goodToggl, toggl)
}

func TestWizardRepromptsOnInvalidAnswers(t *testing.T) {
	repo := newRepo(t)
	input := strings.Join([]string{
		t.TempDir(), // not a repository
		repo,
		"",      // gitlab token may be skipped
		"wrong", // rejected by toggl
		goodToggl,
		"not a url",
		"http://collector.local:8080",
		"", // keep default logs dir
	}, "\n") + "\n"
	w, out := newWizard(t, input)

	cfg, err := w.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, repo, cfg.RepositoryPath)
	assert.Equal(t, "http://collector.local:8080/", cfg.ServerURL)
	assert.NotEmpty(t, cfg.LogsDir)
	assert.Contains(t, out.String(), "is not a git repository")
	assert.Contains(t, out.String(), "toggl rejected the token (HTTP 403)")
	assert.Contains(t, out.String(), "is not an http(s) URL")

	gitlab, err := w.Tokens.Get(credential.GitLab)
	require.NoError(t, err)
	assert.Empty(t, gitlab)
}

func TestWizardDefaultsToWorkingDirectory(t *testing.T) {
	repo := newRepo(t)
	input := "\n\n" + goodToggl + "\nhttps://tracker.example.com/\n\n"
	w, out := newWizard(t, input)
	w.Getwd = func() (string, error) { return repo, nil }

	cfg, err := w.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, repo, cfg.RepositoryPath)
	assert.Contains(t, out.String(), "Repository path ["+repo+"]")
}

func TestWizardSecretReader(t *testing.T) {
	repo := newRepo(t)
	w, _ := newWizard(t, repo+"\nhttps://tracker.example.com/\n\n")
	secrets := []string{goodGitLab, goodToggl}
	w.ReadSecret = func() (string, error) {
		s := secrets[0]
		secrets = secrets[1:]
		return s, nil
	}

	_, err := w.Run(context.Background())
	require.NoError(t, err)
	toggl, err := w.Tokens.Get(credential.Toggl)
	require.NoError(t, err)
	assert.Equal(t, goodToggl, toggl)
}

func TestWizardAbortsOnEOF(t *testing.T) {
	w, _ := newWizard(t, "")
	_, err := w.Run(context.Background())
	assert.True(t, errors.Is(err, ErrAborted), "err = %v", err)
	assert.False(t, config.Exists(w.Dir))
}
