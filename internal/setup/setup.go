// Package setup runs the interactive first-run configuration.
package setup

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/majorcontext/asrtt/internal/config"
	"github.com/majorcontext/asrtt/internal/credential"
	"github.com/majorcontext/asrtt/internal/gitinfo"
	"github.com/majorcontext/asrtt/internal/ui"
	"golang.org/x/term"
)

// ErrAborted is returned when input ends before every question is answered.
var ErrAborted = errors.New("setup aborted")

// Wizard asks for the repository, tokens, collector URL and logs directory,
// validates each answer and saves the result.
type Wizard struct {
	Dir       string
	Tokens    credential.Store
	Validator *Validator

	In  io.Reader
	Out io.Writer
	// ReadSecret reads a line without echo. nil reads a visible line from In.
	ReadSecret func() (string, error)
	// Getwd supplies the default repository path.
	Getwd func() (string, error)

	reader *bufio.Reader
}

// New returns a wizard on the process terminal.
func New(dir string, tokens credential.Store, v *Validator) *Wizard {
	w := &Wizard{
		Dir:       dir,
		Tokens:    tokens,
		Validator: v,
		In:        os.Stdin,
		Out:       os.Stdout,
		Getwd:     os.Getwd,
	}
	if fd := int(os.Stdin.Fd()); term.IsTerminal(fd) {
		w.ReadSecret = func() (string, error) {
			b, err := term.ReadPassword(fd)
			fmt.Fprintln(w.Out)
			if err != nil {
				return "", err
			}
			return strings.TrimSpace(string(b)), nil
		}
	}
	return w
}

// Run asks every question and saves the configuration and tokens. Existing
// values are offered as defaults.
func (w *Wizard) Run(ctx context.Context) (*config.Config, error) {
	w.reader = bufio.NewReader(w.In)

	cfg, err := config.Load(w.Dir)
	broken := err != nil
	if broken {
		cfg = config.Default()
	}

	fmt.Fprintln(w.Out, ui.Bold("asrtt setup"))

	repoDefault := cfg.RepositoryPath
	if w.Getwd != nil {
		if wd, err := w.Getwd(); err == nil && gitinfo.IsRepo(wd) {
			repoDefault = wd
		}
	}
	repo, err := w.ask("Repository path", repoDefault, false, RepositoryPath)
	if err != nil {
		return nil, err
	}

	gitlab, err := w.ask("GitLab token (empty to skip)", "", true, func(s string) error {
		return w.Validator.GitLabToken(ctx, repo, s)
	})
	if err != nil {
		return nil, err
	}

	toggl, err := w.ask("Toggl token", "", true, func(s string) error {
		return w.Validator.TogglToken(ctx, s)
	})
	if err != nil {
		return nil, err
	}

	server, err := w.ask("Tracking server URL", cfg.ServerURL, false, ServerURL)
	if err != nil {
		return nil, err
	}

	logsDir, err := w.ask("Logs directory", cfg.LogsDir, false, func(s string) error {
		if s == "" {
			return errors.New("logs directory is required")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	apply := func(c *config.Config) {
		c.RepositoryPath = repo
		c.ServerURL = config.NormalizeServerURL(server)
		c.LogsDir = logsDir
	}
	if broken {
		// A file that does not parse is replaced by the answers.
		fresh := config.Default()
		apply(fresh)
		err = fresh.Save(w.Dir)
	} else {
		err = config.Update(w.Dir, apply)
	}
	if err != nil {
		return nil, err
	}
	if err := w.Tokens.Set(credential.GitLab, gitlab); err != nil {
		return nil, err
	}
	if err := w.Tokens.Set(credential.Toggl, toggl); err != nil {
		return nil, err
	}

	fmt.Fprintf(w.Out, "%s configuration saved to %s, tokens in %s\n", ui.OKTag(), config.Path(w.Dir), w.Tokens.Name())
	return config.Load(w.Dir)
}

// ask repeats the question until validate accepts the answer. An empty
// answer takes def.
func (w *Wizard) ask(label, def string, secret bool, validate func(string) error) (string, error) {
	for {
		if def != "" && !secret {
			fmt.Fprintf(w.Out, "%s [%s]: ", label, def)
		} else {
			fmt.Fprintf(w.Out, "%s: ", label)
		}

		var answer string
		var err error
		if secret && w.ReadSecret != nil {
			answer, err = w.ReadSecret()
		} else {
			answer, err = w.readLine()
		}
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrAborted, err)
		}
		if answer == "" {
			answer = def
		}

		if err := validate(answer); err != nil {
			fmt.Fprintf(w.Out, "  %s %v\n", ui.FailTag(), err)
			continue
		}
		return answer, nil
	}
}

func (w *Wizard) readLine() (string, error) {
	line, err := w.reader.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
