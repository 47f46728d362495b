// Package config loads and saves the agent settings in ~/.asrtt/config.yaml.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/majorcontext/asrtt/internal/collector"
	"gopkg.in/yaml.v3"
)

// FileName is the config file inside the config directory.
const FileName = "config.yaml"

// Config holds the agent settings.
type Config struct {
	// RepositoryPath is the git working tree whose remote and branch are
	// reported.
	RepositoryPath string `yaml:"repository_path" json:"repository_path"`
	// ServerURL is the collector base URL, normalized to end with "/".
	ServerURL string    `yaml:"server_url" json:"server_url"`
	Endpoints Endpoints `yaml:"endpoints,omitempty" json:"endpoints"`

	LogsDir          string `yaml:"logs_dir,omitempty" json:"logs_dir"`
	LogRetentionDays int    `yaml:"log_retention_days" json:"log_retention_days"`

	// DefaultIdleTimeout applies until the collector answers the first poll.
	DefaultIdleTimeout time.Duration `yaml:"default_idle_timeout" json:"default_idle_timeout"`
	PollInterval       time.Duration `yaml:"poll_interval" json:"poll_interval"`
	RequestTimeout     time.Duration `yaml:"request_timeout" json:"request_timeout"`

	// MetricsAddr enables the /metrics listener when set.
	MetricsAddr string `yaml:"metrics_addr,omitempty" json:"metrics_addr,omitempty"`
}

// Endpoints overrides individual collector URLs. Empty fields are derived
// from ServerURL.
type Endpoints struct {
	ShouldTrack   string `yaml:"should_track,omitempty" json:"should_track,omitempty"`
	SetIsWorking  string `yaml:"set_is_working,omitempty" json:"set_is_working,omitempty"`
	SetNotWorking string `yaml:"set_not_working,omitempty" json:"set_not_working,omitempty"`
}

func (e Endpoints) complete() bool {
	return e.ShouldTrack != "" && e.SetIsWorking != "" && e.SetNotWorking != ""
}

// Default returns the configuration used for unset keys.
func Default() *Config {
	return &Config{
		LogRetentionDays: 14,
		PollInterval:     10 * time.Second,
		RequestTimeout:   10 * time.Second,
	}
}

// Dir returns the config directory: $ASRTT_HOME, or ~/.asrtt.
func Dir() string {
	if dir := os.Getenv("ASRTT_HOME"); dir != "" {
		return dir
	}
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".asrtt")
	}
	return filepath.Join(homeDir, ".asrtt")
}

// Path returns the config file path inside dir.
func Path(dir string) string {
	return filepath.Join(dir, FileName)
}

// Exists reports whether dir holds a config file.
func Exists(dir string) bool {
	_, err := os.Stat(Path(dir))
	return err == nil
}

// Load reads the config file in dir and applies environment overrides. A
// missing file yields the defaults.
func Load(dir string) (*Config, error) {
	cfg, err := loadFile(dir)
	if err != nil {
		return nil, err
	}
	cfg.applyEnv()
	cfg.normalize(dir)
	return cfg, nil
}

// loadFile reads the file alone, without environment overrides.
func loadFile(dir string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(Path(dir))
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", Path(dir), err)
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("reading config: %w", err)
	}
	return cfg, nil
}

// Update applies fn to the file contents and saves the result. Environment
// overrides are not written back.
func Update(dir string, fn func(*Config)) error {
	cfg, err := loadFile(dir)
	if err != nil {
		return err
	}
	fn(cfg)
	return cfg.Save(dir)
}

// applyEnv overrides file values. The ATT_* names are the endpoint variables
// of the single-file agent and keep working.
func (c *Config) applyEnv() {
	for env, field := range map[string]*string{
		"ASRTT_SERVER_URL":      &c.ServerURL,
		"ASRTT_REPOSITORY_PATH": &c.RepositoryPath,
		"ASRTT_LOGS_DIR":        &c.LogsDir,
		"ATT_TRACK_URL":         &c.Endpoints.ShouldTrack,
		"ATT_IS_WORKING_URL":    &c.Endpoints.SetIsWorking,
		"ATT_STOP_WORKING_URL":  &c.Endpoints.SetNotWorking,
	} {
		if v := os.Getenv(env); v != "" {
			*field = v
		}
	}
}

func (c *Config) normalize(dir string) {
	c.ServerURL = NormalizeServerURL(c.ServerURL)
	c.RepositoryPath = expandHome(c.RepositoryPath)
	if c.LogsDir == "" {
		c.LogsDir = filepath.Join(dir, "logs")
	}
	c.LogsDir = expandHome(c.LogsDir)
}

// NormalizeServerURL trims whitespace and guarantees a trailing slash.
func NormalizeServerURL(s string) string {
	s = strings.TrimSpace(s)
	if s != "" && !strings.HasSuffix(s, "/") {
		s += "/"
	}
	return s
}

func expandHome(p string) string {
	if p != "~" && !strings.HasPrefix(p, "~/") {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	return filepath.Join(home, strings.TrimPrefix(p, "~"))
}

// Validate checks that the agent can run with c.
func (c *Config) Validate() error {
	var errs []error
	if c.RepositoryPath == "" {
		errs = append(errs, errors.New("repository_path is required"))
	}
	if c.ServerURL == "" && !c.Endpoints.complete() {
		errs = append(errs, errors.New("server_url is required unless every endpoint is set"))
	}
	if c.ServerURL != "" {
		if err := checkHTTPURL(c.ServerURL); err != nil {
			errs = append(errs, fmt.Errorf("server_url: %w", err))
		}
	}
	for name, v := range map[string]string{
		"endpoints.should_track":    c.Endpoints.ShouldTrack,
		"endpoints.set_is_working":  c.Endpoints.SetIsWorking,
		"endpoints.set_not_working": c.Endpoints.SetNotWorking,
	} {
		if v == "" {
			continue
		}
		if err := checkHTTPURL(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	if c.DefaultIdleTimeout < 0 {
		errs = append(errs, errors.New("default_idle_timeout must not be negative"))
	}
	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("poll_interval must be positive"))
	}
	if c.RequestTimeout <= 0 {
		errs = append(errs, errors.New("request_timeout must be positive"))
	}
	if c.LogRetentionDays < 0 {
		errs = append(errs, errors.New("log_retention_days must not be negative"))
	}
	return errors.Join(errs...)
}

func checkHTTPURL(s string) error {
	u, err := url.Parse(s)
	if err != nil {
		return err
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%q is not an http(s) URL", s)
	}
	if u.Host == "" {
		return fmt.Errorf("%q has no host", s)
	}
	return nil
}

// CollectorEndpoints resolves the URL of every collector operation.
func (c *Config) CollectorEndpoints() collector.Endpoints {
	pick := func(override, path string) string {
		if override != "" {
			return override
		}
		return NormalizeServerURL(c.ServerURL) + path
	}
	return collector.Endpoints{
		ShouldTrack:   pick(c.Endpoints.ShouldTrack, collector.EndpointShouldTrack),
		SetWorking:    pick(c.Endpoints.SetIsWorking, collector.EndpointSetWorking),
		SetNotWorking: pick(c.Endpoints.SetNotWorking, collector.EndpointSetNotWorking),
	}
}

// Save writes c to dir with owner-only permissions.
func (c *Config) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	tmp := Path(dir) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	if err := os.Rename(tmp, Path(dir)); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Remove deletes the config file. A missing file is not an error.
func Remove(dir string) error {
	if err := os.Remove(Path(dir)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("removing config: %w", err)
	}
	return nil
}
