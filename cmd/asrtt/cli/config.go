package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/majorcontext/asrtt/internal/config"
	"github.com/majorcontext/asrtt/internal/credential"
	"github.com/majorcontext/asrtt/internal/setup"
	"github.com/majorcontext/asrtt/internal/ui"
	"github.com/spf13/cobra"
)

var resetConfigCmd = &cobra.Command{
	Use:   "reset-config",
	Short: "Run the setup questions again",
	Long: `Ask for the repository, tokens, tracking server and logs directory
again. Current values are offered as defaults.`,
	Args: cobra.NoArgs,
	RunE: runResetConfig,
}

var getConfigCmd = &cobra.Command{
	Use:   "get-config",
	Short: "Print the configuration as JSON, with tokens masked",
	Args:  cobra.NoArgs,
	RunE:  runGetConfig,
}

var getRepoCmd = &cobra.Command{
	Use:   "get-repo",
	Short: "Print the tracked repository path",
	Args:  cobra.NoArgs,
	RunE:  runGetRepo,
}

var setRepoPath string

var setRepoCmd = &cobra.Command{
	Use:   "set-repo",
	Short: "Change the tracked repository",
	Long: `Change the tracked repository. The path defaults to the current
directory and must be inside a git repository.

A running agent picks up the change with its next report, no restart needed.`,
	Args: cobra.NoArgs,
	RunE: runSetRepo,
}

func init() {
	setRepoCmd.Flags().StringVarP(&setRepoPath, "path", "p", "", "repository path (default: current directory)")

	rootCmd.AddCommand(resetConfigCmd)
	rootCmd.AddCommand(getConfigCmd)
	rootCmd.AddCommand(getRepoCmd)
	rootCmd.AddCommand(setRepoCmd)
}

func runResetConfig(cmd *cobra.Command, args []string) error {
	if !config.Exists(configDir) {
		// First run: loadConfig asks the questions.
		_, err := loadConfig(cmd.Context())
		return err
	}
	if !ui.IsInteractive() {
		return fmt.Errorf("reset-config needs a terminal")
	}
	_, err := runSetup(cmd.Context())
	return err
}

func runGetConfig(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	view := configView(cfg, credential.New(configDir))

	// Map keys are sorted by encoding/json.
	data, err := json.MarshalIndent(view, "", "    ")
	if err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	fmt.Fprintln(ui.Output(), string(data))
	return nil
}

// configView is the printable form of the configuration. Durations are
// rendered as strings and tokens are masked.
func configView(cfg *config.Config, tokens credential.Store) map[string]any {
	endpoints := cfg.CollectorEndpoints()
	return map[string]any{
		"repository_path": cfg.RepositoryPath,
		"server_url":      cfg.ServerURL,
		"endpoints": map[string]string{
			"should_track":    endpoints.ShouldTrack,
			"set_is_working":  endpoints.SetWorking,
			"set_not_working": endpoints.SetNotWorking,
		},
		"logs_dir":             cfg.LogsDir,
		"log_retention_days":   cfg.LogRetentionDays,
		"default_idle_timeout": cfg.DefaultIdleTimeout.String(),
		"poll_interval":        cfg.PollInterval.String(),
		"request_timeout":      cfg.RequestTimeout.String(),
		"metrics_addr":         cfg.MetricsAddr,
		"tokens": map[string]string{
			credential.GitLab: maskedToken(tokens, credential.GitLab),
			credential.Toggl:  maskedToken(tokens, credential.Toggl),
		},
		"token_store": tokens.Name(),
	}
}

func maskedToken(tokens credential.Store, name string) string {
	v, err := tokens.Get(name)
	switch {
	case errors.Is(err, credential.ErrNotFound), err == nil && v == "":
		return "(not set)"
	case err != nil:
		return "(unreadable: " + err.Error() + ")"
	}
	return ui.Mask(v)
}

func runGetRepo(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintf(ui.Output(), "Current repository path is %s\n", cfg.RepositoryPath)
	return nil
}

func runSetRepo(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd.Context()); err != nil {
		return err
	}

	path := setRepoPath
	if path == "" {
		wd, err := os.Getwd()
		if err != nil {
			return err
		}
		path = wd
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	if err := setup.RepositoryPath(abs); err != nil {
		return err
	}

	if err := config.Update(configDir, func(c *config.Config) { c.RepositoryPath = abs }); err != nil {
		return err
	}
	fmt.Fprintf(ui.Output(), "%s repository path set to %s\n", ui.OKTag(), abs)
	ui.Info("A running agent uses the new repository with its next report, no restart needed")
	return nil
}
