package coretools

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/diegosucaria/deedee-sub000/pkg/cron"
	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
)

type scheduleParams struct {
	Name         string `json:"name"`
	Instruction  string `json:"instruction"`
	At           string `json:"at"`
	DelayMinutes int    `json:"delay_minutes"`
	Cron         string `json:"cron"`
	Timezone     string `json:"timezone"`
	ExpiresAt    string `json:"expires_at"`
}

type cancelParams struct {
	Name string `json:"name"`
}

type jobSummary struct {
	Name        string    `json:"name"`
	Instruction string    `json:"instruction"`
	Trigger     string    `json:"trigger"`
	NextRunAt   time.Time `json:"next_run_at"`
	RetryCount  int       `json:"retry_count,omitempty"`
	LastStatus  string    `json:"last_status,omitempty"`
}

func schedulingTools(s Scheduler, loc *time.Location) []toolexecutor.ToolDefinition {
	if loc == nil {
		loc = time.Local
	}
	return []toolexecutor.ToolDefinition{
		{
			Name: "schedule_task",
			Description: "Schedule an instruction to run later in this chat: once (at or delay_minutes) " +
				"or repeatedly (cron, five fields)",
			Family: toolexecutor.FamilyScheduling,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "name", Type: "string", Description: "Unique short name for the task", Required: true},
				{Name: "instruction", Type: "string", Description: "What to do when the task fires", Required: true},
				{Name: "at", Type: "string", Description: "RFC 3339 time for a one-off task"},
				{Name: "delay_minutes", Type: "integer", Description: "Minutes from now for a one-off task"},
				{Name: "cron", Type: "string", Description: "Cron expression for a recurring task"},
				{Name: "timezone", Type: "string", Description: "IANA timezone for cron and for 'at' without offset"},
				{Name: "expires_at", Type: "string", Description: "RFC 3339 time after which the task is dropped"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p scheduleParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				execCtx := toolexecutor.ExecContextFromContext(ctx)
				if execCtx == nil || execCtx.ChatID == "" {
					return nil, fmt.Errorf("scheduling needs a chat to report back to")
				}

				taskLoc := loc
				if p.Timezone != "" {
					l, err := time.LoadLocation(p.Timezone)
					if err != nil {
						return nil, fmt.Errorf("invalid timezone: %w", err)
					}
					taskLoc = l
				}

				trigger, err := buildTrigger(p, taskLoc, time.Now())
				if err != nil {
					return nil, err
				}

				add := cron.AddParams{
					Name:    p.Name,
					Trigger: trigger,
					Payload: cron.Payload{
						ChatID:      execCtx.ChatID,
						Channel:     execCtx.Channel,
						Instruction: p.Instruction,
					},
					Persisted: true,
				}
				if p.ExpiresAt != "" {
					exp, err := parseTime(p.ExpiresAt, taskLoc)
					if err != nil {
						return nil, fmt.Errorf("invalid expires_at: %w", err)
					}
					add.ExpiresAt = &exp
				}

				job, err := s.AddJob(ctx, add)
				if err != nil {
					return nil, err
				}
				return summarize(job), nil
			},
		},
		{
			Name:        "list_tasks",
			Description: "List scheduled tasks for this chat",
			Family:      toolexecutor.FamilyScheduling,
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				execCtx := toolexecutor.ExecContextFromContext(ctx)
				out := []jobSummary{}
				for _, job := range s.ListJobs() {
					if execCtx != nil && execCtx.ChatID != "" && job.Payload.ChatID != execCtx.ChatID {
						continue
					}
					out = append(out, summarize(job))
				}
				return map[string]interface{}{"tasks": out, "count": len(out)}, nil
			},
		},
		{
			Name:        "cancel_task",
			Description: "Cancel a scheduled task by name",
			Family:      toolexecutor.FamilyScheduling,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "name", Type: "string", Description: "Task name", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p cancelParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				// A chat only sees and cancels its own tool-created tasks.
				job, err := s.GetJob(p.Name)
				if err != nil {
					return nil, err
				}
				execCtx := toolexecutor.ExecContextFromContext(ctx)
				if execCtx != nil && execCtx.ChatID != "" && job.Payload.ChatID != execCtx.ChatID {
					return nil, fmt.Errorf("%w: %s", cron.ErrJobNotFound, p.Name)
				}
				if !job.Persisted {
					return nil, fmt.Errorf("task %q comes from the configuration and cannot be cancelled from chat", p.Name)
				}
				if err := s.CancelJob(ctx, p.Name); err != nil {
					return nil, err
				}
				return map[string]interface{}{"name": p.Name, "cancelled": true}, nil
			},
		},
	}
}

// buildTrigger requires exactly one of at, delay_minutes or cron.
func buildTrigger(p scheduleParams, loc *time.Location, now time.Time) (cron.Trigger, error) {
	set := 0
	if strings.TrimSpace(p.At) != "" {
		set++
	}
	if p.DelayMinutes != 0 {
		set++
	}
	if strings.TrimSpace(p.Cron) != "" {
		set++
	}
	if set != 1 {
		return cron.Trigger{}, fmt.Errorf("exactly one of at, delay_minutes or cron is required")
	}

	switch {
	case p.Cron != "":
		tz := ""
		if loc != time.Local {
			tz = loc.String()
		}
		return cron.Trigger{Kind: cron.TriggerCron, Expr: strings.TrimSpace(p.Cron), TZ: tz}, nil
	case p.DelayMinutes != 0:
		if p.DelayMinutes < 0 {
			return cron.Trigger{}, fmt.Errorf("delay_minutes must be positive")
		}
		return cron.Trigger{Kind: cron.TriggerAt, At: now.Add(time.Duration(p.DelayMinutes) * time.Minute)}, nil
	default:
		at, err := parseTime(p.At, loc)
		if err != nil {
			return cron.Trigger{}, fmt.Errorf("invalid at: %w", err)
		}
		return cron.Trigger{Kind: cron.TriggerAt, At: at}, nil
	}
}

// parseTime accepts RFC 3339, or a local "2006-01-02 15:04" / "2006-01-02T15:04:05" in loc.
func parseTime(value string, loc *time.Location) (time.Time, error) {
	value = strings.TrimSpace(value)
	if t, err := time.Parse(time.RFC3339, value); err == nil {
		return t, nil
	}
	for _, layout := range []string{"2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02 15:04"} {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", value)
}

func summarize(job *cron.Job) jobSummary {
	trigger := job.Trigger.At.Format(time.RFC3339)
	if job.Trigger.Recurring() {
		trigger = job.Trigger.Expr
		if job.Trigger.TZ != "" {
			trigger += " (" + job.Trigger.TZ + ")"
		}
	}
	return jobSummary{
		Name:        job.Name,
		Instruction: job.Payload.Instruction,
		Trigger:     trigger,
		NextRunAt:   job.NextRunAt,
		RetryCount:  job.RetryCount,
		LastStatus:  job.State.LastStatus,
	}
}
