package cron

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrJobNotFound is returned for an unknown job name.
	ErrJobNotFound = errors.New("job not found")
	// ErrJobExists is returned when adding a job whose name is taken.
	ErrJobExists = errors.New("job already exists")
	// ErrStopped is returned by mutations after Stop.
	ErrStopped = errors.New("scheduler is stopped")
)

// TriggerKind selects how a job's firing times are computed.
type TriggerKind string

const (
	// TriggerCron fires on a cron expression, repeatedly.
	TriggerCron TriggerKind = "cron"
	// TriggerAt fires once at an absolute instant.
	TriggerAt TriggerKind = "at"
)

// Trigger is a job's schedule.
type Trigger struct {
	Kind TriggerKind `json:"kind"`
	Expr string      `json:"expr,omitempty"`
	At   time.Time   `json:"at,omitempty"`
	TZ   string      `json:"tz,omitempty"`
}

// Recurring reports whether the trigger fires more than once.
func (t Trigger) Recurring() bool { return t.Kind == TriggerCron }

// Payload is what a firing asks the assistant to do, and where the reply goes.
type Payload struct {
	ChatID      string `json:"chat_id"`
	Channel     string `json:"channel,omitempty"`
	Instruction string `json:"instruction"`
}

// Status values recorded in JobState.LastStatus.
const (
	StatusOK    = "ok"
	StatusError = "error"
)

// JobState tracks runtime state of a job
type JobState struct {
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	RunningAt  *time.Time `json:"running_at,omitempty"`
}

// Job is a scheduled instruction. Name is unique across the scheduler.
type Job struct {
	Name       string     `json:"name"`
	Trigger    Trigger    `json:"trigger"`
	Payload    Payload    `json:"payload"`
	RetryCount int        `json:"retry_count"`
	Persisted  bool       `json:"persisted"`
	ExpiresAt  *time.Time `json:"expires_at,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	NextRunAt  time.Time  `json:"next_run_at"`
	State      JobState   `json:"state"`
}

// Expired reports whether the job's expiry has passed at now.
func (j *Job) Expired(now time.Time) bool {
	return j.ExpiresAt != nil && !now.Before(*j.ExpiresAt)
}

// Instruction is the synthetic message a firing feeds to the assistant.
func (j *Job) Instruction() string {
	if j.RetryCount > 0 {
		return fmt.Sprintf("[Scheduled task %q, attempt %d] %s", j.Name, j.RetryCount+1, j.Payload.Instruction)
	}
	return fmt.Sprintf("[Scheduled task %q] %s", j.Name, j.Payload.Instruction)
}

func (j *Job) clone() *Job {
	c := *j
	if j.ExpiresAt != nil {
		t := *j.ExpiresAt
		c.ExpiresAt = &t
	}
	if j.State.LastRunAt != nil {
		t := *j.State.LastRunAt
		c.State.LastRunAt = &t
	}
	if j.State.RunningAt != nil {
		t := *j.State.RunningAt
		c.State.RunningAt = &t
	}
	return &c
}

// AddParams contains parameters for creating a job
type AddParams struct {
	Name      string     `json:"name"`
	Trigger   Trigger    `json:"trigger"`
	Payload   Payload    `json:"payload"`
	Persisted bool       `json:"persisted"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

func (p AddParams) validate() error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("job name is required")
	}
	if strings.TrimSpace(p.Payload.Instruction) == "" {
		return fmt.Errorf("job instruction is required")
	}
	if p.Payload.ChatID == "" {
		return fmt.Errorf("job chat id is required")
	}
	return p.Trigger.Validate()
}

// EventAction represents the type of event
type EventAction string

const (
	EventAdded       EventAction = "added"
	EventFired       EventAction = "fired"
	EventSucceeded   EventAction = "succeeded"
	EventFailed      EventAction = "failed"
	EventRescheduled EventAction = "rescheduled"
	EventEscalated   EventAction = "escalated"
	EventExpired     EventAction = "expired"
	EventCancelled   EventAction = "cancelled"
)

// Event reports a job state transition.
type Event struct {
	Action     EventAction `json:"action"`
	Job        string      `json:"job"`
	RetryCount int         `json:"retry_count"`
	Error      string      `json:"error,omitempty"`
	NextRunAt  *time.Time  `json:"next_run_at,omitempty"`
}

// RunTurnFunc runs a job's instruction through the assistant and returns
// its final reply.
type RunTurnFunc func(ctx context.Context, job *Job) (string, error)

// EscalateFunc notifies a human that a job exhausted its retries.
type EscalateFunc func(ctx context.Context, job *Job, cause error)

// ServiceOptions configures the cron service
type ServiceOptions struct {
	Store    Store
	RunTurn  RunTurnFunc
	Escalate EscalateFunc
	OnEvent  func(evt Event)

	// MaxRetries bounds the attempts of a one-off job, the first included.
	MaxRetries int
	// Backoff delays a failed one-off job's next attempt.
	Backoff time.Duration
	// FailurePhrases mark a reply as unsuccessful, matched case-insensitively.
	FailurePhrases []string
	// RunTimeout bounds one firing.
	RunTimeout time.Duration

	now func() time.Time
}

const (
	DefaultMaxRetries = 3
	DefaultBackoff    = 60 * time.Second
	DefaultRunTimeout = 5 * time.Minute
)

// DefaultFailurePhrases are replies that mean the assistant did not do the job.
var DefaultFailurePhrases = []string{
	"something went wrong",
	"i encountered an error",
	"i was unable to",
	"i'm unable to",
	"i am unable to",
	"i couldn't complete",
	"i'm stuck",
}
