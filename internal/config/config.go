package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"time"
)

// Config represents the main deedee configuration
type Config struct {
	DataDir       string `json:"data_dir" mapstructure:"data_dir"`
	WorkspacePath string `json:"workspace_path" mapstructure:"workspace_path"`

	Logging   LoggingConfig             `json:"logging" mapstructure:"logging"`
	AI        AIConfig                  `json:"ai" mapstructure:"ai"`
	Models    ModelsConfig              `json:"models" mapstructure:"models"`
	Agent     AgentConfig               `json:"agent" mapstructure:"agent"`
	Tools     ToolsConfig               `json:"tools" mapstructure:"tools"`
	Providers map[string]ProviderConfig `json:"providers" mapstructure:"providers"`
	Scheduler SchedulerConfig           `json:"scheduler" mapstructure:"scheduler"`
	Vault     VaultConfig               `json:"vault" mapstructure:"vault"`
	Hooks     HooksConfig               `json:"hooks" mapstructure:"hooks"`
	Admin     AdminConfig               `json:"admin" mapstructure:"admin"`
	Email     EmailConfig               `json:"email" mapstructure:"email"`
	Media     MediaConfig               `json:"media" mapstructure:"media"`

	// Timezone is used for scheduling and calendar tools; empty means local.
	Timezone string `json:"timezone" mapstructure:"timezone"`

	// Aliases maps short names ("mom", "office") to contact handles or places.
	Aliases map[string]string `json:"aliases" mapstructure:"aliases"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Console   bool   `json:"console" mapstructure:"console"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	MaxSize   int    `json:"max_size" mapstructure:"max_size"` // MB
	MaxAge    int    `json:"max_age" mapstructure:"max_age"`   // days
	Compress  bool   `json:"compress" mapstructure:"compress"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
	AuditFile string `json:"audit_file" mapstructure:"audit_file"`
}

// AIConfig holds model credentials
type AIConfig struct {
	Profiles []AIProfile `json:"profiles" mapstructure:"profiles"`
}

// AIProfile is one credential for a model provider. Profiles of the same
// provider are tried in priority order (lower first).
type AIProfile struct {
	ID       string `json:"id" mapstructure:"id"`
	Provider string `json:"provider" mapstructure:"provider"` // anthropic, openai, gemini
	APIKey   string `json:"api_key" mapstructure:"api_key"`
	BaseURL  string `json:"base_url,omitempty" mapstructure:"base_url"`
	Priority int    `json:"priority" mapstructure:"priority"`
}

// ModelsConfig selects the model used for each routing tier.
type ModelsConfig struct {
	Fast        TierConfig `json:"fast" mapstructure:"fast"`
	Deep        TierConfig `json:"deep" mapstructure:"deep"`
	Router      bool       `json:"router" mapstructure:"router"`
	Temperature float64    `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int        `json:"max_tokens" mapstructure:"max_tokens"`
}

// TierConfig names a provider and model for one tier
type TierConfig struct {
	Provider string `json:"provider" mapstructure:"provider"`
	Model    string `json:"model" mapstructure:"model"`
}

// AgentConfig tunes the turn loop
type AgentConfig struct {
	SystemPrompt    string        `json:"system_prompt" mapstructure:"system_prompt"`
	MaxIterations   int           `json:"max_iterations" mapstructure:"max_iterations"`
	HistoryLimit    int           `json:"history_limit" mapstructure:"history_limit"`
	ThinkingDelayMs int           `json:"thinking_delay_ms" mapstructure:"thinking_delay_ms"`
	ProgressEvery   int           `json:"progress_every" mapstructure:"progress_every"`
	Notices         NoticesConfig `json:"notices" mapstructure:"notices"`
}

// NoticesConfig holds the user-facing status texts
type NoticesConfig struct {
	Thinking string `json:"thinking" mapstructure:"thinking"`
	Working  string `json:"working" mapstructure:"working"`
	Stuck    string `json:"stuck" mapstructure:"stuck"`
	Error    string `json:"error" mapstructure:"error"`
}

// ToolsConfig holds built-in tool settings
type ToolsConfig struct {
	TimeoutSeconds int      `json:"timeout_seconds" mapstructure:"timeout_seconds"`
	MaxOutputBytes int      `json:"max_output_bytes" mapstructure:"max_output_bytes"`
	Disabled       []string `json:"disabled" mapstructure:"disabled"` // built-in tool names to skip
}

// ProviderConfig describes one external tool provider
type ProviderConfig struct {
	Transport      string            `json:"transport" mapstructure:"transport"` // stdio, sse, http, websocket
	Command        string            `json:"command,omitempty" mapstructure:"command"`
	Args           []string          `json:"args,omitempty" mapstructure:"args"`
	Env            map[string]string `json:"env,omitempty" mapstructure:"env"`
	URL            string            `json:"url,omitempty" mapstructure:"url"`
	Headers        map[string]string `json:"headers,omitempty" mapstructure:"headers"`
	Enabled        *bool             `json:"enabled,omitempty" mapstructure:"enabled"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" mapstructure:"timeout_seconds"`
}

// IsEnabled reports whether the provider should be connected. Unset means enabled.
func (p ProviderConfig) IsEnabled() bool {
	return p.Enabled == nil || *p.Enabled
}

// SchedulerConfig holds durable scheduler settings
type SchedulerConfig struct {
	Enabled             bool             `json:"enabled" mapstructure:"enabled"`
	Backend             string           `json:"backend" mapstructure:"backend"` // file, redis
	StorePath           string           `json:"store_path" mapstructure:"store_path"`
	Redis               RedisConfig      `json:"redis" mapstructure:"redis"`
	MaxRetries          int              `json:"max_retries" mapstructure:"max_retries"`
	RetryBackoffSeconds int              `json:"retry_backoff_seconds" mapstructure:"retry_backoff_seconds"`
	FailurePhrases      []string         `json:"failure_phrases" mapstructure:"failure_phrases"`
	Escalation          EscalationConfig `json:"escalation" mapstructure:"escalation"`
	Jobs                []JobConfig      `json:"jobs" mapstructure:"jobs"`
}

// RedisConfig holds the redis job store connection
type RedisConfig struct {
	Addr     string `json:"addr" mapstructure:"addr"`
	Password string `json:"password" mapstructure:"password"`
	DB       int    `json:"db" mapstructure:"db"`
	Key      string `json:"key" mapstructure:"key"`
}

// EscalationConfig says where exhausted one-off jobs are reported
type EscalationConfig struct {
	ChatID  string `json:"chat_id" mapstructure:"chat_id"`
	Channel string `json:"channel" mapstructure:"channel"`
}

// JobConfig is a recurring job declared in config. It is re-created on every
// start and never written to the job store.
type JobConfig struct {
	Name        string `json:"name" mapstructure:"name"`
	Cron        string `json:"cron" mapstructure:"cron"`
	TZ          string `json:"tz,omitempty" mapstructure:"tz"`
	ChatID      string `json:"chat_id" mapstructure:"chat_id"`
	Channel     string `json:"channel,omitempty" mapstructure:"channel"`
	Instruction string `json:"instruction" mapstructure:"instruction"`
}

// VaultConfig points at the markdown knowledge vault
type VaultConfig struct {
	Path  string `json:"path" mapstructure:"path"`
	Watch bool   `json:"watch" mapstructure:"watch"`
}

// HooksConfig holds lifecycle hook scripts
type HooksConfig struct {
	Enabled bool        `json:"enabled" mapstructure:"enabled"`
	Entries []HookEntry `json:"entries" mapstructure:"entries"`
}

// HookEntry runs Script when Event fires
type HookEntry struct {
	Event          string `json:"event" mapstructure:"event"`
	Script         string `json:"script" mapstructure:"script"`
	Enabled        bool   `json:"enabled" mapstructure:"enabled"`
	TimeoutSeconds int    `json:"timeout_seconds" mapstructure:"timeout_seconds"`
}

// AdminConfig holds the admin HTTP listener
type AdminConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Addr    string `json:"addr" mapstructure:"addr"`
}

// EmailConfig configures the local mailbox and its optional SMTP relay
type EmailConfig struct {
	Enabled  bool   `json:"enabled" mapstructure:"enabled"`
	From     string `json:"from" mapstructure:"from"`
	SMTPHost string `json:"smtp_host,omitempty" mapstructure:"smtp_host"`
	SMTPPort int    `json:"smtp_port,omitempty" mapstructure:"smtp_port"`
	Username string `json:"username,omitempty" mapstructure:"username"`
	Password string `json:"password,omitempty" mapstructure:"password"`
}

// MediaConfig configures image generation. It uses the first openai profile.
type MediaConfig struct {
	Enabled    bool   `json:"enabled" mapstructure:"enabled"`
	ImageModel string `json:"image_model" mapstructure:"image_model"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:     "info",
			Console:   true,
			Pretty:    true,
			MaxSize:   50,
			MaxAge:    14,
			Compress:  true,
			Redaction: true,
		},
		AI: AIConfig{Profiles: []AIProfile{}},
		Models: ModelsConfig{
			Fast:        TierConfig{Provider: "gemini", Model: "gemini-2.5-flash"},
			Deep:        TierConfig{Provider: "gemini", Model: "gemini-2.5-pro"},
			Router:      true,
			Temperature: 0.7,
			MaxTokens:   8192,
		},
		Agent: AgentConfig{
			MaxIterations:   10,
			HistoryLimit:    30,
			ThinkingDelayMs: 8000,
			ProgressEvery:   3,
			Notices: NoticesConfig{
				Thinking: "Still thinking...",
				Working:  "Still working on it...",
				Stuck:    "I'm stuck: I kept calling tools without reaching an answer. Please try rephrasing.",
				Error:    "Sorry, something went wrong while handling that. Please try again.",
			},
		},
		Tools: ToolsConfig{
			TimeoutSeconds: 30,
			MaxOutputBytes: 10 * 1024,
		},
		Providers: map[string]ProviderConfig{},
		Scheduler: SchedulerConfig{
			Enabled:             true,
			Backend:             "file",
			MaxRetries:          3,
			RetryBackoffSeconds: 60,
			FailurePhrases: []string{
				"something went wrong",
				"i encountered an error",
				"i was unable to",
				"i'm unable to",
				"i am unable to",
				"i couldn't complete",
				"i'm stuck",
			},
			Redis: RedisConfig{Addr: "localhost:6379", Key: "deedee:jobs"},
		},
		Admin: AdminConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
		Email:   EmailConfig{SMTPPort: 587},
		Media:   MediaConfig{ImageModel: "dall-e-3"},
		Aliases: map[string]string{},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// ProviderIDs returns the configured tool provider ids in sorted order.
func (c *Config) ProviderIDs() []string {
	ids := make([]string, 0, len(c.Providers))
	for id := range c.Providers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var validModelProviders = map[string]bool{"anthropic": true, "openai": true, "gemini": true}

// Validate checks structural requirements the daemon cannot start without.
func (c *Config) Validate() error {
	if len(c.AI.Profiles) == 0 {
		return fmt.Errorf("no AI credentials configured: at least one AI profile is required")
	}

	available := make(map[string]bool)
	for i, profile := range c.AI.Profiles {
		if profile.ID == "" {
			return fmt.Errorf("AI profile %d: ID is required", i)
		}
		if !validModelProviders[profile.Provider] {
			return fmt.Errorf("AI profile %s: invalid provider %q (must be: anthropic, openai, gemini)", profile.ID, profile.Provider)
		}
		if profile.APIKey == "" {
			return fmt.Errorf("AI profile %s: api_key is required", profile.ID)
		}
		available[profile.Provider] = true
	}

	for name, tier := range map[string]TierConfig{"fast": c.Models.Fast, "deep": c.Models.Deep} {
		if tier.Model == "" {
			return fmt.Errorf("models.%s: model is required", name)
		}
		if !available[tier.Provider] {
			return fmt.Errorf("models.%s: no AI profile for provider %q", name, tier.Provider)
		}
	}

	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive")
	}
	if c.Agent.HistoryLimit <= 0 {
		return fmt.Errorf("agent.history_limit must be positive")
	}

	for _, id := range c.ProviderIDs() {
		p := c.Providers[id]
		switch p.Transport {
		case "stdio":
			if p.Command == "" {
				return fmt.Errorf("provider %s: command is required for stdio transport", id)
			}
		case "sse", "http", "websocket":
			if p.URL == "" {
				return fmt.Errorf("provider %s: url is required for %s transport", id, p.Transport)
			}
		default:
			return fmt.Errorf("provider %s: invalid transport %q (must be: stdio, sse, http, websocket)", id, p.Transport)
		}
	}

	if c.Scheduler.Enabled {
		if c.Scheduler.Backend != "file" && c.Scheduler.Backend != "redis" {
			return fmt.Errorf("scheduler: invalid backend %q (must be: file, redis)", c.Scheduler.Backend)
		}
		if c.Scheduler.MaxRetries <= 0 {
			return fmt.Errorf("scheduler.max_retries must be positive")
		}
	}

	if c.Timezone != "" {
		if _, err := time.LoadLocation(c.Timezone); err != nil {
			return fmt.Errorf("invalid timezone %q: %w", c.Timezone, err)
		}
	}

	return nil
}

// Location returns the configured timezone, or time.Local.
func (c *Config) Location() *time.Location {
	if c.Timezone == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ProfileFor returns the highest priority AI profile of provider.
func (c *Config) ProfileFor(provider string) (AIProfile, bool) {
	var best AIProfile
	found := false
	for _, p := range c.AI.Profiles {
		if p.Provider != provider {
			continue
		}
		if !found || p.Priority < best.Priority {
			best, found = p, true
		}
	}
	return best, found
}

var secretRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

func expandRefs(s string) string {
	return secretRef.ReplaceAllStringFunc(s, func(ref string) string {
		return os.Getenv(secretRef.FindStringSubmatch(ref)[1])
	})
}

// ExpandSecrets replaces ${VAR} references in credentials and provider
// settings with environment values. Bare $ signs are left alone.
func (c *Config) ExpandSecrets() {
	for i := range c.AI.Profiles {
		c.AI.Profiles[i].APIKey = expandRefs(c.AI.Profiles[i].APIKey)
	}

	for id, p := range c.Providers {
		p.Command = expandRefs(p.Command)
		p.URL = expandRefs(p.URL)
		args := make([]string, len(p.Args))
		for i, a := range p.Args {
			args[i] = expandRefs(a)
		}
		p.Args = args
		p.Env = expandMap(p.Env)
		p.Headers = expandMap(p.Headers)
		c.Providers[id] = p
	}

	c.Scheduler.Redis.Password = expandRefs(c.Scheduler.Redis.Password)
	c.Email.Password = expandRefs(c.Email.Password)
}

func expandMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = expandRefs(v)
	}
	return out
}
