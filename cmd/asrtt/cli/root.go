// Package cli implements the asrtt command-line interface using Cobra.
// It starts and stops the tracking agent and edits its configuration.
package cli

import (
	"context"
	"fmt"

	"github.com/majorcontext/asrtt/internal/config"
	"github.com/majorcontext/asrtt/internal/credential"
	"github.com/majorcontext/asrtt/internal/log"
	"github.com/majorcontext/asrtt/internal/setup"
	"github.com/majorcontext/asrtt/internal/ui"
	"github.com/spf13/cobra"
)

var (
	verbose   bool
	jsonOut   bool
	configDir string
)

var rootCmd = &cobra.Command{
	Use:   "asrtt",
	Short: "asrtt - automatic time tracking from keyboard and mouse activity",
	Long: `asrtt watches keyboard and mouse activity and reports working sessions
for the current git repository to a tracking server.

The server decides whether a repository is tracked. While it is, the first
input after a quiet period opens a session, heartbeats keep it alive, and a
quiet period longer than the idle timeout closes it.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if configDir == "" {
			configDir = config.Dir()
		}
		if err := log.Init(log.Options{
			Verbose:    verbose,
			JSONFormat: jsonOut,
		}); err != nil {
			cmd.PrintErrf("Warning: failed to initialize logging: %v\n", err)
		}
		return nil
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOut, "json", false, "write logs as JSON")
	rootCmd.PersistentFlags().StringVar(&configDir, "config-dir", "", "configuration directory (env: ASRTT_HOME, default ~/.asrtt)")
}

// loadConfig returns a valid configuration, running the setup wizard first
// when none exists yet.
func loadConfig(ctx context.Context) (*config.Config, error) {
	if !config.Exists(configDir) {
		if !ui.IsInteractive() {
			return nil, fmt.Errorf("asrtt is not configured: run 'asrtt reset-config' in a terminal")
		}
		ui.Info("No configuration found, starting setup")
		return runSetup(ctx)
	}

	cfg, err := config.Load(configDir)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration in %s: %w\nRun 'asrtt reset-config' to fix it", config.Path(configDir), err)
	}
	return cfg, nil
}

func runSetup(ctx context.Context) (*config.Config, error) {
	w, err := newWizard()
	if err != nil {
		return nil, err
	}
	return w.Run(ctx)
}

func newWizard() (*setup.Wizard, error) {
	v, err := setup.NewValidator()
	if err != nil {
		return nil, err
	}
	return setup.New(configDir, credential.New(configDir), v), nil
}
