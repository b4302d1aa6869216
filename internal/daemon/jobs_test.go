package daemon

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/diegosucaria/deedee-sub000/internal/config"
	"github.com/diegosucaria/deedee-sub000/internal/logger"
	"github.com/diegosucaria/deedee-sub000/pkg/agent"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/cron"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunJobTurn(t *testing.T) {
	ch := &recordingChannel{name: "test"}
	d, _ := createTestDaemon(t, testConfig(t), WithChannel(ch))

	job := &cron.Job{Name: "water", Payload: cron.Payload{ChatID: "c1", Instruction: "Remind me to water the plants"}}
	reply, err := d.runJobTurn(context.Background(), job)
	require.NoError(t, err)
	assert.Equal(t, `echo: [Scheduled task "water"] Remind me to water the plants`, reply)

	sent := ch.messages()
	require.Len(t, sent, 1, "empty channel falls back to the first registered channel")
	assert.Equal(t, "c1", sent[0].ChatID)
}

func TestEscalateJob(t *testing.T) {
	t.Run("to the job chat", func(t *testing.T) {
		ch := &recordingChannel{name: "test"}
		d, _ := createTestDaemon(t, testConfig(t), WithChannel(ch))

		// Three attempts leave the counter at two.
		job := &cron.Job{Name: "report", RetryCount: 2, Payload: cron.Payload{ChatID: "c1", Channel: "test"}}
		d.escalateJob(context.Background(), job, errors.New("model unavailable"))

		sent := ch.messages()
		require.Len(t, sent, 1)
		assert.Equal(t, "c1", sent[0].ChatID)
		assert.Equal(t, channels.KindError, sent[0].Kind)
		assert.True(t, strings.Contains(sent[0].Text, `"report"`))
		assert.True(t, strings.Contains(sent[0].Text, "model unavailable"))
		assert.True(t, strings.Contains(sent[0].Text, "after 3 attempts"), sent[0].Text)
	})

	t.Run("to the escalation chat", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Scheduler.Escalation = config.EscalationConfig{ChatID: "ops", Channel: "alerts"}
		jobs := &recordingChannel{name: "test"}
		alerts := &recordingChannel{name: "alerts"}
		d, _ := createTestDaemon(t, cfg, WithChannel(jobs), WithChannel(alerts))

		job := &cron.Job{Name: "report", RetryCount: 3, Payload: cron.Payload{ChatID: "c1", Channel: "test"}}
		d.escalateJob(context.Background(), job, errors.New("boom"))

		assert.Empty(t, jobs.messages())
		require.Len(t, alerts.messages(), 1)
		assert.Equal(t, "ops", alerts.messages()[0].ChatID)
	})
}

func TestJobChannel(t *testing.T) {
	d, _ := createTestDaemon(t, testConfig(t))
	assert.Equal(t, defaultChannel, d.jobChannel(""))
	assert.Equal(t, "telegram", d.jobChannel("telegram"))
}

func TestScheduler_RedisBackend(t *testing.T) {
	mr := miniredis.RunT(t)

	cfg := testConfig(t)
	cfg.Scheduler.Backend = "redis"
	cfg.Scheduler.Redis = config.RedisConfig{Addr: mr.Addr(), Key: "test:jobs"}
	d, _ := createTestDaemon(t, cfg)

	_, isRedis := d.jobStore.(*cron.RedisStore)
	require.True(t, isRedis)

	_, err := d.GetCronService().AddJob(context.Background(), cron.AddParams{
		Name:      "stretch",
		Trigger:   cron.Trigger{Kind: cron.TriggerCron, Expr: "0 * * * *"},
		Payload:   cron.Payload{ChatID: "c1", Instruction: "Stand up"},
		Persisted: true,
	})
	require.NoError(t, err)
	assert.True(t, mr.Exists("test:jobs"))
}

func TestScheduler_RedisUnreachable(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Backend = "redis"
	cfg.Scheduler.Redis.Addr = "127.0.0.1:1"

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	_, err = New(cfg, log, WithModels(map[agent.Tier]agent.ModelClient{agent.TierDeep: &echoModel{}}))
	assert.ErrorContains(t, err, "redis")
}
