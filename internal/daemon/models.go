package daemon

import (
	"fmt"
	"time"

	"github.com/diegosucaria/deedee-sub000/pkg/agent"
)

const routerTimeout = 10 * time.Second

// buildModels creates one failover client per tier and, when enabled, the
// classifier router on the fast tier.
func (d *Daemon) buildModels() (map[agent.Tier]agent.ModelClient, agent.Router, error) {
	models := d.opts.models
	if models == nil {
		models = make(map[agent.Tier]agent.ModelClient)
		tiers := map[agent.Tier]struct{ provider, model string }{
			agent.TierFast: {d.config.Models.Fast.Provider, d.config.Models.Fast.Model},
			agent.TierDeep: {d.config.Models.Deep.Provider, d.config.Models.Deep.Model},
		}
		for tier, tc := range tiers {
			client, err := d.tierClient(tier, tc.provider, tc.model)
			if err != nil {
				return nil, nil, err
			}
			models[tier] = client
		}
	}

	var router agent.Router = agent.StaticRouter{Tier: agent.TierDeep}
	if d.config.Models.Router && models[agent.TierFast] != nil {
		router = agent.NewClassifierRouter(models[agent.TierFast], "", routerTimeout)
	}
	return models, router, nil
}

func (d *Daemon) tierClient(tier agent.Tier, provider, model string) (agent.ModelClient, error) {
	var profiles []agent.AuthProfile
	for _, p := range d.config.AI.Profiles {
		if p.Provider != provider {
			continue
		}
		profiles = append(profiles, agent.AuthProfile{
			ID:       p.ID,
			Provider: p.Provider,
			APIKey:   p.APIKey,
			Model:    model,
			Priority: p.Priority,
		})
	}
	if len(profiles) == 0 {
		return nil, fmt.Errorf("models.%s: no AI profile for provider %q", tier, provider)
	}

	client, err := agent.NewFailoverClient(agent.FailoverOptions{
		Profiles: profiles,
		Factory:  d.opts.factory,
		Logger:   d.logger.GetZerolog().With().Str("tier", string(tier)).Logger(),
	})
	if err != nil {
		return nil, fmt.Errorf("models.%s: %w", tier, err)
	}
	return client, nil
}
