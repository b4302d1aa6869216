package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/diegosucaria/deedee-sub000/internal/config"
	"github.com/spf13/cobra"
)

var (
	configureProvider string
	configureForce    bool
)

// starterModels are the fast and deep models written for each provider.
var starterModels = map[string][2]string{
	"gemini":    {"gemini-2.5-flash", "gemini-2.5-pro"},
	"anthropic": {"claude-haiku-4-5", "claude-sonnet-4-5"},
	"openai":    {"gpt-4o-mini", "gpt-4o"},
}

var configureCmd = &cobra.Command{
	Use:   "configure",
	Short: "Write a starter configuration file",
	Long: `Write a starter configuration file for one model provider.
The API key is stored as an ${ENV_VAR} reference, expanded when the config is
loaded, so the file never holds the secret itself.`,
	Args: cobra.NoArgs,
	RunE: runConfigure,
}

func init() {
	configureCmd.Flags().StringVar(&configureProvider, "provider", "gemini", "model provider (gemini, anthropic, openai)")
	configureCmd.Flags().BoolVar(&configureForce, "force", false, "overwrite an existing config file")
	rootCmd.AddCommand(configureCmd)
}

func runConfigure(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader(cfgFile)
	path := loader.GetConfigPath()
	if path == "" {
		return fmt.Errorf("failed to determine config path")
	}
	if _, err := os.Stat(path); err == nil && !configureForce {
		return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
	}

	cfg, err := starterConfig(configureProvider)
	if err != nil {
		return err
	}
	if err := loader.Save(cfg); err != nil {
		return fmt.Errorf("failed to save configuration: %w", err)
	}

	out := cmd.OutOrStdout()
	printf(out, "Configuration saved to: %s\n", path)
	printf(out, "Export %s, then run: deedee chat\n", apiKeyEnv(configureProvider))
	return nil
}

func starterConfig(provider string) (*config.Config, error) {
	models, ok := starterModels[provider]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (must be: gemini, anthropic, openai)", provider)
	}

	cfg := config.DefaultConfig()
	cfg.AI.Profiles = []config.AIProfile{{
		ID:       provider + "-main",
		Provider: provider,
		APIKey:   "${" + apiKeyEnv(provider) + "}",
	}}
	cfg.Models.Fast = config.TierConfig{Provider: provider, Model: models[0]}
	cfg.Models.Deep = config.TierConfig{Provider: provider, Model: models[1]}
	return cfg, nil
}

func apiKeyEnv(provider string) string {
	return strings.ToUpper(provider) + "_API_KEY"
}
