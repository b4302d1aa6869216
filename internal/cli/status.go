package cli

import (
	"fmt"
	"net/http"
	"path/filepath"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/daemon"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon status",
	Long: `Show whether the deedee daemon is running. When the admin endpoint is
enabled, uptime and tool counts are read from it.`,
	RunE: runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

type healthStatus struct {
	Status  string `json:"status"`
	Running bool   `json:"running"`
	Uptime  string `json:"uptime"`
	Tools   int    `json:"tools"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !daemon.IsRunning(cfg.DataDir) {
		printf(out, "Status: stopped\n")
		return nil
	}
	pid, err := daemon.ReadPID(filepath.Join(cfg.DataDir, daemon.PIDFileName))
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}
	printf(out, "Status: running\n")
	printf(out, "PID: %d\n", pid)

	client, err := newAdminClient(cfg)
	if err != nil {
		return nil
	}
	var health healthStatus
	if err := client.do(http.MethodGet, "/healthz", &health); err != nil {
		printf(out, "Admin: %v\n", err)
		return nil
	}
	if uptime, err := time.ParseDuration(health.Uptime); err == nil {
		printf(out, "Uptime: %s\n", formatDuration(uptime))
	}
	printf(out, "Tools: %d\n", health.Tools)
	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
