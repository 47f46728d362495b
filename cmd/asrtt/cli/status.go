package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/majorcontext/asrtt/internal/config"
	"github.com/majorcontext/asrtt/internal/daemon"
	"github.com/majorcontext/asrtt/internal/ui"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether the agent is running",
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	info, err := daemon.Running(configDir)
	switch {
	case errors.Is(err, daemon.ErrNotRunning):
		ui.Field("Agent", ui.Dim("not running"))
	case err != nil:
		return err
	default:
		ui.Field("Agent", ui.Green("running"))
		ui.Field("PID", fmt.Sprint(info.PID))
		ui.Field("Since", info.StartedAt.Local().Format(time.DateTime))
		ui.Field("Uptime", time.Since(info.StartedAt).Round(time.Second).String())
	}

	if !config.Exists(configDir) {
		ui.Field("Config", ui.Yellow("not configured"))
		return nil
	}
	cfg, err := config.Load(configDir)
	if err != nil {
		ui.Field("Config", ui.Red(err.Error()))
		return nil
	}
	ui.Field("Config", config.Path(configDir))
	ui.Field("Repository", cfg.RepositoryPath)
	ui.Field("Server", cfg.ServerURL)
	ui.Field("Logs", cfg.LogsDir)
	return nil
}
