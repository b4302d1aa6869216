package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Validator performs the softer checks reported by `deedee config check`.
// Unlike Config.Validate it collects every problem instead of stopping at the first.
type Validator struct {
	cronParser cron.Parser
}

// NewValidator creates a new validator
func NewValidator() *Validator {
	return &Validator{
		cronParser: cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow),
	}
}

// ValidateAPIKey validates an API key format
func (v *Validator) ValidateAPIKey(key string, provider string) error {
	if key == "" {
		return fmt.Errorf("%s API key cannot be empty", provider)
	}

	switch provider {
	case "anthropic":
		if !strings.HasPrefix(key, "sk-ant-") {
			return fmt.Errorf("invalid Anthropic API key format (should start with sk-ant-)")
		}
	case "openai":
		if !strings.HasPrefix(key, "sk-") {
			return fmt.Errorf("invalid OpenAI API key format (should start with sk-)")
		}
	case "gemini":
		if !strings.HasPrefix(key, "AIza") {
			return fmt.Errorf("invalid Gemini API key format (should start with AIza)")
		}
	}

	return nil
}

// ValidateLogLevel validates log level
func (v *Validator) ValidateLogLevel(level string) error {
	validLevels := []string{"debug", "info", "warn", "error"}
	for _, valid := range validLevels {
		if level == valid {
			return nil
		}
	}
	return fmt.Errorf("invalid log level: %s (must be one of: %s)", level, strings.Join(validLevels, ", "))
}

// ValidateTemperature validates temperature value
func (v *Validator) ValidateTemperature(temp float64) error {
	if temp < 0 || temp > 2 {
		return fmt.Errorf("temperature must be between 0 and 2, got %f", temp)
	}
	return nil
}

// ValidateCron checks a five-field cron expression and optional time zone.
func (v *Validator) ValidateCron(expr, tz string) error {
	if tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return fmt.Errorf("invalid time zone %q: %w", tz, err)
		}
	}
	if _, err := v.cronParser.Parse(expr); err != nil {
		return fmt.Errorf("invalid cron expression %q: %w", expr, err)
	}
	return nil
}

// ValidateConfig performs comprehensive validation
func (v *Validator) ValidateConfig(cfg *Config) []error {
	var errs []error

	for i, profile := range cfg.AI.Profiles {
		if err := v.ValidateAPIKey(profile.APIKey, profile.Provider); err != nil {
			errs = append(errs, fmt.Errorf("AI profile %d (%s): %w", i, profile.ID, err))
		}
	}

	if cfg.Models.Temperature != 0 {
		if err := v.ValidateTemperature(cfg.Models.Temperature); err != nil {
			errs = append(errs, fmt.Errorf("models: %w", err))
		}
	}
	if cfg.Agent.ProgressEvery < 0 {
		errs = append(errs, fmt.Errorf("agent.progress_every must be >= 0"))
	}
	if cfg.Agent.ThinkingDelayMs < 0 {
		errs = append(errs, fmt.Errorf("agent.thinking_delay_ms must be >= 0"))
	}

	for _, id := range cfg.ProviderIDs() {
		p := cfg.Providers[id]
		if p.TimeoutSeconds < 0 {
			errs = append(errs, fmt.Errorf("provider %s: timeout_seconds must be >= 0", id))
		}
		if p.Transport == "stdio" && (p.URL != "" || len(p.Headers) > 0) {
			errs = append(errs, fmt.Errorf("provider %s: url and headers are ignored for stdio transport", id))
		}
	}

	seen := make(map[string]bool)
	for i, job := range cfg.Scheduler.Jobs {
		if job.Name == "" {
			errs = append(errs, fmt.Errorf("scheduler job %d: name is required", i))
			continue
		}
		if seen[job.Name] {
			errs = append(errs, fmt.Errorf("scheduler job %s: duplicate name", job.Name))
		}
		seen[job.Name] = true
		if err := v.ValidateCron(job.Cron, job.TZ); err != nil {
			errs = append(errs, fmt.Errorf("scheduler job %s: %w", job.Name, err))
		}
		if job.ChatID == "" || strings.TrimSpace(job.Instruction) == "" {
			errs = append(errs, fmt.Errorf("scheduler job %s: chat_id and instruction are required", job.Name))
		}
	}
	if cfg.Scheduler.RetryBackoffSeconds < 0 {
		errs = append(errs, fmt.Errorf("scheduler.retry_backoff_seconds must be >= 0"))
	}

	if cfg.Hooks.Enabled {
		for i, hook := range cfg.Hooks.Entries {
			if !hook.Enabled {
				continue
			}
			if strings.TrimSpace(hook.Event) == "" {
				errs = append(errs, fmt.Errorf("hook %d: event is required", i))
			}
			if strings.TrimSpace(hook.Script) == "" {
				errs = append(errs, fmt.Errorf("hook %d: script is required", i))
			}
		}
	}

	if err := v.ValidateLogLevel(cfg.Logging.Level); err != nil {
		errs = append(errs, err)
	}

	return errs
}
