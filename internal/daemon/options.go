package daemon

import (
	"github.com/diegosucaria/deedee-sub000/pkg/agent"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/coretools"
	"github.com/diegosucaria/deedee-sub000/pkg/federation"
)

// Option customizes a Daemon at construction.
type Option func(*options)

type options struct {
	models    map[agent.Tier]agent.ModelClient
	factory   agent.ClientFactory
	channels  []channels.Channel
	connector federation.Connector
	images    coretools.ImageGenerator
}

func collectOptions(opts []Option) options {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithModels replaces the configured model tiers.
func WithModels(models map[agent.Tier]agent.ModelClient) Option {
	return func(o *options) { o.models = models }
}

// WithClientFactory builds model clients for the configured AI profiles.
func WithClientFactory(factory agent.ClientFactory) Option {
	return func(o *options) { o.factory = factory }
}

// WithChannel registers a channel alongside the configured ones.
func WithChannel(ch channels.Channel) Option {
	return func(o *options) { o.channels = append(o.channels, ch) }
}

// WithConnector overrides how tool providers are connected.
func WithConnector(connect federation.Connector) Option {
	return func(o *options) { o.connector = connect }
}

// WithImageGenerator sets the generate_image backend.
func WithImageGenerator(images coretools.ImageGenerator) Option {
	return func(o *options) { o.images = images }
}
