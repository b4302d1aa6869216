package cron

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Standard five-field expressions plus descriptors such as @daily.
var exprParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)

// Validate checks that the trigger can produce firing times.
func (t Trigger) Validate() error {
	switch t.Kind {
	case TriggerAt:
		if t.At.IsZero() {
			return fmt.Errorf("'at' trigger requires 'at' field")
		}
		return nil
	case TriggerCron:
		_, err := t.schedule()
		return err
	default:
		return fmt.Errorf("unknown trigger kind: %q", t.Kind)
	}
}

func (t Trigger) schedule() (cron.Schedule, error) {
	if t.Expr == "" {
		return nil, fmt.Errorf("'cron' trigger requires 'expr' field")
	}
	if t.TZ != "" {
		if _, err := time.LoadLocation(t.TZ); err != nil {
			return nil, fmt.Errorf("invalid timezone: %w", err)
		}
	}
	sched, err := exprParser.Parse(t.Expr)
	if err != nil {
		return nil, fmt.Errorf("invalid cron expression: %w", err)
	}
	return sched, nil
}

// Next returns the first firing strictly after after. An 'at' trigger
// always returns its instant, even if it has passed, so a missed one-off
// job fires as soon as the scheduler sees it.
func (t Trigger) Next(after time.Time) (time.Time, error) {
	switch t.Kind {
	case TriggerAt:
		if t.At.IsZero() {
			return time.Time{}, fmt.Errorf("'at' trigger requires 'at' field")
		}
		return t.At, nil
	case TriggerCron:
		sched, err := t.schedule()
		if err != nil {
			return time.Time{}, err
		}
		if t.TZ != "" {
			loc, _ := time.LoadLocation(t.TZ)
			after = after.In(loc)
		}
		next := sched.Next(after)
		if next.IsZero() {
			return time.Time{}, fmt.Errorf("cron expression %q never fires", t.Expr)
		}
		return next, nil
	default:
		return time.Time{}, fmt.Errorf("unknown trigger kind: %q", t.Kind)
	}
}
