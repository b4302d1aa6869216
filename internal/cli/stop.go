package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/daemon"
	"github.com/spf13/cobra"
)

var stopTimeout int

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running deedee daemon",
	Long: `Stop a running deedee daemon gracefully.
Sends SIGTERM to the process named in the PID file and waits for it to exit;
after the timeout the process is killed.`,
	RunE: runStop,
}

func init() {
	stopCmd.Flags().IntVar(&stopTimeout, "timeout", 30, "timeout in seconds to wait for the daemon to stop")
	rootCmd.AddCommand(stopCmd)
}

func runStop(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	pidFile := filepath.Join(cfg.DataDir, daemon.PIDFileName)

	if !daemon.IsRunning(cfg.DataDir) {
		return fmt.Errorf("daemon is not running")
	}
	pid, err := daemon.ReadPID(pidFile)
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	if err := signalProcess(pid, syscall.SIGTERM); err != nil {
		return err
	}

	deadline := time.Now().Add(time.Duration(stopTimeout) * time.Second)
	for time.Now().Before(deadline) {
		if !daemon.IsRunning(cfg.DataDir) {
			printf(cmd.OutOrStdout(), "Daemon stopped\n")
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}

	printf(cmd.OutOrStdout(), "Timeout reached, sending SIGKILL...\n")
	if err := signalProcess(pid, syscall.SIGKILL); err != nil {
		return err
	}
	_ = os.Remove(pidFile)
	printf(cmd.OutOrStdout(), "Daemon killed\n")
	return nil
}

func signalProcess(pid int, sig syscall.Signal) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("failed to find process %d: %w", pid, err)
	}
	if err := process.Signal(sig); err != nil {
		return fmt.Errorf("failed to send %s to %d: %w", sig, pid, err)
	}
	return nil
}
