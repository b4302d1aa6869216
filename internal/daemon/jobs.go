package daemon

import (
	"context"
	"fmt"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/observability"
	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/cron"
	"github.com/diegosucaria/deedee-sub000/pkg/hooks"
)

const defaultChannel = "console"

func (d *Daemon) initializeScheduler() error {
	store, err := d.newJobStore()
	if err != nil {
		return err
	}
	d.jobStore = store

	service, err := cron.NewService(cron.ServiceOptions{
		Store:          store,
		RunTurn:        d.runJobTurn,
		Escalate:       d.escalateJob,
		OnEvent:        d.onJobEvent,
		MaxRetries:     d.config.Scheduler.MaxRetries,
		Backoff:        time.Duration(d.config.Scheduler.RetryBackoffSeconds) * time.Second,
		FailurePhrases: d.config.Scheduler.FailurePhrases,
	})
	if err != nil {
		return fmt.Errorf("failed to create cron service: %w", err)
	}
	d.cronService = service

	// Configured jobs are rebuilt on every start and never persisted.
	for _, jc := range d.config.Scheduler.Jobs {
		_, err := service.AddJob(d.ctx, cron.AddParams{
			Name:    jc.Name,
			Trigger: cron.Trigger{Kind: cron.TriggerCron, Expr: jc.Cron, TZ: jc.TZ},
			Payload: cron.Payload{ChatID: jc.ChatID, Channel: jc.Channel, Instruction: jc.Instruction},
		})
		if err != nil {
			return fmt.Errorf("scheduler job %q: %w", jc.Name, err)
		}
	}

	d.logger.Info().
		Str("backend", d.config.Scheduler.Backend).
		Int("configured", len(d.config.Scheduler.Jobs)).
		Msg("Cron service initialized")
	return nil
}

func (d *Daemon) newJobStore() (cron.Store, error) {
	if d.config.Scheduler.Backend == "redis" {
		r := d.config.Scheduler.Redis
		store, err := cron.NewRedisStore(d.ctx, cron.RedisStoreConfig{
			Address:  r.Addr,
			Password: r.Password,
			DB:       r.DB,
			Key:      r.Key,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect redis job store: %w", err)
		}
		return store, nil
	}

	store, err := cron.NewFileStore(d.config.Scheduler.StorePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open job store: %w", err)
	}
	return store, nil
}

// runJobTurn feeds a firing to the assistant as if the user had sent it.
func (d *Daemon) runJobTurn(ctx context.Context, job *cron.Job) (string, error) {
	ctx = tracing.WithJobName(ctx, job.Name)
	res, err := d.agentRunner.HandleMessage(ctx, channels.InboundMessage{
		Channel: d.jobChannel(job.Payload.Channel),
		ChatID:  job.Payload.ChatID,
		Text:    job.Instruction(),
	})
	if err != nil {
		return "", err
	}
	return res.Text, nil
}

func (d *Daemon) escalateJob(ctx context.Context, job *cron.Job, cause error) {
	target := d.config.Scheduler.Escalation
	chatID, channel := target.ChatID, target.Channel
	if chatID == "" {
		chatID, channel = job.Payload.ChatID, job.Payload.Channel
	}
	channel = d.jobChannel(channel)

	text := fmt.Sprintf("Scheduled task %q failed after %d attempts: %v", job.Name, job.RetryCount+1, cause)
	if err := d.channelRegistry.Send(ctx, channel, channels.OutboundMessage{
		ChatID: chatID,
		Kind:   channels.KindError,
		Text:   text,
	}); err != nil {
		d.logger.Error().Err(err).Str("job", job.Name).Msg("Failed to deliver job escalation")
	}

	d.hookManager.Fire(ctx, hooks.EventJobEscalated, map[string]interface{}{
		"job":         job.Name,
		"chat_id":     job.Payload.ChatID,
		"retry_count": job.RetryCount,
		"error":       cause.Error(),
	})
	observability.RecordJobAudit(ctx, job.Name, "escalate", chatID, map[string]interface{}{
		"retry_count": job.RetryCount,
		"error":       cause.Error(),
	})
}

func (d *Daemon) onJobEvent(evt cron.Event) {
	event := d.logger.Debug()
	if evt.Action == cron.EventFailed || evt.Action == cron.EventEscalated {
		event = d.logger.Warn()
	}
	event.
		Str("job", evt.Job).
		Str("action", string(evt.Action)).
		Int("retry_count", evt.RetryCount).
		Str("error", evt.Error).
		Msg("Job event")
}

// jobChannel resolves an empty channel name to the default channel.
func (d *Daemon) jobChannel(name string) string {
	if name != "" {
		return name
	}
	if names := d.channelRegistry.Names(); len(names) > 0 {
		return names[0]
	}
	return defaultChannel
}
