package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/majorcontext/asrtt/internal/agent"
	"github.com/majorcontext/asrtt/internal/config"
	"github.com/majorcontext/asrtt/internal/credential"
	"github.com/majorcontext/asrtt/internal/daemon"
	"github.com/majorcontext/asrtt/internal/log"
	"github.com/majorcontext/asrtt/internal/ui"
	"github.com/spf13/cobra"
)

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start tracking activity",
	Long: `Start the tracking agent in the foreground. It runs until interrupted
or stopped with 'asrtt stop'. The first run asks for the configuration.`,
	Args: cobra.NoArgs,
	RunE: runStart,
}

func init() {
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	return runAgent(cmd.Context(), cfg)
}

// runAgent holds the pid lock for as long as the agent runs.
func runAgent(ctx context.Context, cfg *config.Config) error {
	if ctx == nil {
		ctx = context.Background()
	}

	lock, err := daemon.Acquire(configDir)
	if err != nil {
		if errors.Is(err, daemon.ErrAlreadyRunning) {
			ui.Error("asrtt is already tracking, use 'asrtt restart' to restart it")
		}
		return err
	}
	defer lock.Release()

	if err := log.Init(log.Options{
		Verbose:       verbose,
		JSONFormat:    jsonOut,
		Dir:           cfg.LogsDir,
		RetentionDays: cfg.LogRetentionDays,
	}); err != nil {
		ui.Warnf("file logging disabled: %v", err)
	}
	defer log.Close()

	a, err := agent.New(agent.Options{
		Dir:    configDir,
		Config: cfg,
		Tokens: credential.New(configDir),
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	ui.Infof("Tracking %s (pid %d), press Ctrl-C to stop", cfg.RepositoryPath, os.Getpid())
	if cfg.MetricsAddr != "" {
		ui.Infof("Metrics on http://%s/metrics", cfg.MetricsAddr)
	}

	if err := a.Run(ctx); err != nil {
		return fmt.Errorf("agent stopped: %w", err)
	}
	ui.Info("Stopped tracking")
	return nil
}
