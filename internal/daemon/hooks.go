package daemon

import (
	"context"
	"strings"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/config"
	"github.com/diegosucaria/deedee-sub000/internal/observability"
	"github.com/diegosucaria/deedee-sub000/pkg/hooks"
	"github.com/diegosucaria/deedee-sub000/pkg/provider"
	"github.com/rs/zerolog"
)

func newHookManager(cfg config.HooksConfig, logger zerolog.Logger) (*hooks.Manager, error) {
	hookDefs := make([]hooks.Hook, 0, len(cfg.Entries))
	for _, entry := range cfg.Entries {
		hookDefs = append(hookDefs, hooks.Hook{
			Event:   strings.TrimSpace(entry.Event),
			Script:  strings.TrimSpace(entry.Script),
			Timeout: time.Duration(entry.TimeoutSeconds) * time.Second,
			Enabled: entry.Enabled,
		})
	}

	return hooks.NewManager(hooks.Config{
		Enabled: cfg.Enabled,
		Hooks:   hookDefs,
		Logger:  logger,
	})
}

// onTurnFailed runs after the runner rolled a turn back.
func (d *Daemon) onTurnFailed(ctx context.Context, chatID string, err error) {
	d.hookManager.Fire(ctx, hooks.EventTurnFailed, map[string]interface{}{
		"chat_id": chatID,
		"error":   err.Error(),
	})
}

func (d *Daemon) onProviderConnectFailure(providerID string, err error) {
	transport := ""
	if p, ok := d.config.Providers[providerID]; ok {
		transport = p.Transport
	}
	observability.SetProviderConnected(providerID, transport, false)
	observability.RecordProviderFailure(providerID, "connect")

	d.hookManager.Fire(d.ctx, hooks.EventProviderConnectFailed, map[string]interface{}{
		"provider":  providerID,
		"transport": transport,
		"error":     err.Error(),
	})
}

// ProviderConfigs converts the configured tool providers, sorted by id.
func ProviderConfigs(cfg *config.Config) []provider.Config {
	out := make([]provider.Config, 0, len(cfg.Providers))
	for _, id := range cfg.ProviderIDs() {
		p := cfg.Providers[id]
		out = append(out, provider.Config{
			ID:        id,
			Transport: provider.Transport(p.Transport),
			Command:   p.Command,
			Args:      p.Args,
			Env:       p.Env,
			URL:       p.URL,
			Headers:   p.Headers,
			Enabled:   p.IsEnabled(),
			Timeout:   time.Duration(p.TimeoutSeconds) * time.Second,
		})
	}
	return out
}
