package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/diegosucaria/deedee-sub000/internal/daemon"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant from the terminal",
	Long: `Run the assistant with a console channel: every line read from stdin is
one message and replies are printed to stdout. Logs go to the log file only.
End the session with Ctrl-D.`,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	// A chat session shares the data dir; it must not run next to the daemon.
	if daemon.IsRunning(cfg.DataDir) {
		return fmt.Errorf("daemon is already running (data dir: %s); stop it first", cfg.DataDir)
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()

	console := channels.NewConsoleChannel(cmd.InOrStdin(), cmd.OutOrStdout())
	d, err := daemon.New(cfg, log, daemon.WithChannel(console))
	if err != nil {
		return err
	}
	if err := d.Start(); err != nil {
		_ = d.Stop()
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	select {
	case <-console.Done():
	case <-ctx.Done():
	}
	return d.Stop()
}
