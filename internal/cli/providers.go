package cli

import (
	"context"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/daemon"
	"github.com/diegosucaria/deedee-sub000/pkg/federation"
	"github.com/spf13/cobra"
)

var providersTimeout int

var providersCmd = &cobra.Command{
	Use:   "providers",
	Short: "Connect the configured tool providers and list their tools",
	Long: `Connect every enabled tool provider from the config, print its state and
the tools it contributes to the merged manifest, then disconnect.`,
	Args: cobra.NoArgs,
	RunE: runProviders,
}

func init() {
	providersCmd.Flags().IntVar(&providersTimeout, "timeout", 30, "seconds to wait for providers to connect")
	rootCmd.AddCommand(providersCmd)
}

func runProviders(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(cfg.Providers) == 0 {
		printf(out, "No tool providers configured\n")
		return nil
	}

	log, err := newLogger(cfg, false)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer log.Close()
	zl := log.GetZerolog()

	registry := federation.New(federation.Options{
		Providers: daemon.ProviderConfigs(cfg),
		Logger:    &zl,
	})
	defer registry.Close()

	ctx, cancel := context.WithTimeout(cmd.Context(), time.Duration(providersTimeout)*time.Second)
	defer cancel()
	if err := registry.Start(ctx); err != nil {
		return err
	}

	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	printf(w, "PROVIDER\tTRANSPORT\tSTATE\tTOOLS\tERROR\n")
	for _, p := range registry.Providers() {
		printf(w, "%s\t%s\t%s\t%d\t%s\n", p.ID, p.Transport, p.State, p.Tools, orDash(p.Error))
	}
	if err := w.Flush(); err != nil {
		return err
	}

	tools := registry.Manifest().Tools()
	if len(tools) == 0 {
		return nil
	}
	printf(out, "\n")
	w = tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	printf(w, "TOOL\tPROVIDER\tDESCRIPTION\n")
	for _, tool := range tools {
		printf(w, "%s\t%s\t%s\n", tool.Name, tool.Provider, truncate(tool.Description, 70))
	}
	return w.Flush()
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
