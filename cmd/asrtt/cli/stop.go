package cli

import (
	"errors"
	"fmt"
	"time"

	"github.com/majorcontext/asrtt/internal/daemon"
	"github.com/majorcontext/asrtt/internal/ui"
	"github.com/spf13/cobra"
)

// stopTimeout bounds the wait for a signalled agent. It covers the agent's
// own shutdown timeout for pending reports.
const stopTimeout = 10 * time.Second

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running agent",
	Long: `Stop the running agent. An open working session is closed with a
final report before the agent exits.`,
	Args: cobra.NoArgs,
	RunE: runStop,
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Stop the running agent, if any, and start a new one",
	Args:  cobra.NoArgs,
	RunE:  runRestart,
}

func init() {
	rootCmd.AddCommand(stopCmd)
	rootCmd.AddCommand(restartCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	stopped, err := stopAgent()
	if err != nil {
		return err
	}
	if !stopped {
		ui.Info("asrtt is not tracking")
	}
	return nil
}

func runRestart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd.Context())
	if err != nil {
		return err
	}
	if _, err := stopAgent(); err != nil {
		return err
	}
	return runAgent(cmd.Context(), cfg)
}

// stopAgent signals the running agent and waits for it to release its
// lock. It reports false when no agent was running.
func stopAgent() (bool, error) {
	info, err := daemon.SignalStop(configDir)
	if errors.Is(err, daemon.ErrNotRunning) {
		return false, nil
	}
	if err != nil {
		return false, err
	}

	ui.Infof("Stopping asrtt (pid %d)", info.PID)
	if err := daemon.WaitStopped(configDir, stopTimeout); err != nil {
		return false, fmt.Errorf("agent (pid %d) did not stop: %w", info.PID, err)
	}
	fmt.Fprintf(ui.Output(), "%s stopped\n", ui.OKTag())
	return true, nil
}
