package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/diegosucaria/deedee-sub000/internal/daemon"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/spf13/cobra"
)

var startConsole bool

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the deedee daemon in the foreground",
	Long: `Start the deedee daemon in the foreground.
It connects the configured tool providers, starts the scheduler and serves
the admin endpoint until interrupted with SIGINT or SIGTERM.`,
	RunE: runStart,
}

func init() {
	startCmd.Flags().BoolVar(&startConsole, "console", false, "also read messages from stdin")
	rootCmd.AddCommand(startCmd)
}

func runStart(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	if daemon.IsRunning(cfg.DataDir) {
		return fmt.Errorf("daemon is already running (data dir: %s)", cfg.DataDir)
	}

	log, err := newLogger(cfg, true)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	var opts []daemon.Option
	if startConsole {
		opts = append(opts, daemon.WithChannel(channels.NewConsoleChannel(os.Stdin, cmd.OutOrStdout())))
	}

	d, err := daemon.New(cfg, log, opts...)
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		_ = d.Stop()
		return err
	}

	d.Wait(context.Background())
	return d.Stop()
}
