package daemon

import (
	"bytes"
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/config"
	"github.com/diegosucaria/deedee-sub000/internal/logger"
	"github.com/diegosucaria/deedee-sub000/pkg/agent"
	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/conversation"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// echoModel answers every request with "echo: <last user text>".
type echoModel struct {
	mu       sync.Mutex
	requests []agent.ModelRequest
}

func (m *echoModel) Generate(_ context.Context, req agent.ModelRequest) (*agent.ModelResponse, error) {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	last := ""
	for _, msg := range req.Messages {
		if msg.Role == conversation.RoleUser {
			last = msg.Text()
		}
	}
	return &agent.ModelResponse{Parts: []conversation.Part{conversation.TextPart("echo: " + last)}}, nil
}

func (m *echoModel) Provider() string { return "fake" }

func (m *echoModel) calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.requests)
}

// recordingChannel keeps every outbound message.
type recordingChannel struct {
	name string
	mu   sync.Mutex
	sent []channels.OutboundMessage
}

func (c *recordingChannel) Name() string { return c.name }

func (c *recordingChannel) Start(context.Context, channels.DispatchFunc) error { return nil }

func (c *recordingChannel) Stop(context.Context) error { return nil }

func (c *recordingChannel) Send(_ context.Context, msg channels.OutboundMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, msg)
	return nil
}

func (c *recordingChannel) messages() []channels.OutboundMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]channels.OutboundMessage(nil), c.sent...)
}

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	tmpDir := t.TempDir()

	cfg := config.DefaultConfig()
	cfg.DataDir = tmpDir
	cfg.WorkspacePath = filepath.Join(tmpDir, "workspace")
	cfg.Logging.AuditFile = filepath.Join(tmpDir, "audit.jsonl")
	cfg.Scheduler.StorePath = filepath.Join(tmpDir, "jobs.json")
	cfg.Vault.Path = filepath.Join(tmpDir, "vault")
	cfg.AI.Profiles = []config.AIProfile{{ID: "gemini-main", Provider: "gemini", APIKey: "test-key"}}
	cfg.Models.Router = false
	return cfg
}

// createTestDaemon builds a daemon whose model is an echoModel.
func createTestDaemon(t *testing.T, cfg *config.Config, opts ...Option) (*Daemon, *echoModel) {
	t.Helper()

	log, err := logger.New(logger.Config{Level: "error", Console: false})
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	model := &echoModel{}
	opts = append([]Option{WithModels(map[agent.Tier]agent.ModelClient{agent.TierDeep: model})}, opts...)

	d, err := New(cfg, log, opts...)
	require.NoError(t, err)
	t.Cleanup(func() {
		if d.Status().Running {
			_ = d.Stop()
			return
		}
		_ = d.queue.Close()
		d.closeStores()
	})
	return d, model
}

func TestNew(t *testing.T) {
	d, _ := createTestDaemon(t, testConfig(t))

	assert.NotNil(t, d.queue)
	assert.NotNil(t, d.conversations)
	assert.NotNil(t, d.facts)
	assert.NotNil(t, d.vault)
	assert.NotNil(t, d.federation)
	assert.NotNil(t, d.agentRunner)
	assert.NotNil(t, d.cronService)
	assert.NotNil(t, d.eventLoop)
	assert.NotNil(t, d.lifecycle)
	assert.Nil(t, d.adminServer)

	te := d.GetToolExecutor()
	for _, name := range []string{"remember", "read_file", "schedule_task", "search_notes", "send_message"} {
		assert.NotNil(t, te.GetTool(name), name)
	}
	assert.Nil(t, te.GetTool("search_email"), "mail tools need email enabled")
}

func TestNew_SchedulerDisabled(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Enabled = false
	d, _ := createTestDaemon(t, cfg)

	assert.Nil(t, d.GetCronService())
	assert.Nil(t, d.GetToolExecutor().GetTool("schedule_task"))
}

func TestNew_ConfiguredJobsAreNotPersisted(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Jobs = []config.JobConfig{{
		Name:        "morning-brief",
		Cron:        "0 7 * * *",
		ChatID:      "c1",
		Instruction: "Summarize my day",
	}}
	d, _ := createTestDaemon(t, cfg)

	job, err := d.GetCronService().GetJob("morning-brief")
	require.NoError(t, err)
	assert.False(t, job.Persisted)
	assert.Equal(t, "Summarize my day", job.Payload.Instruction)
}

func TestNew_InvalidConfiguredJob(t *testing.T) {
	cfg := testConfig(t)
	cfg.Scheduler.Jobs = []config.JobConfig{{Name: "bad", Cron: "not a cron", ChatID: "c1", Instruction: "x"}}

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	_, err = New(cfg, log, WithModels(map[agent.Tier]agent.ModelClient{agent.TierDeep: &echoModel{}}))
	assert.ErrorContains(t, err, "bad")
}

func TestNew_MissingTierProfile(t *testing.T) {
	cfg := testConfig(t)
	cfg.Models.Deep = config.TierConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"}

	log, err := logger.New(logger.Config{Level: "error"})
	require.NoError(t, err)
	defer log.Close()

	_, err = New(cfg, log)
	assert.ErrorContains(t, err, "models.deep")
}

func TestDaemonStartStop(t *testing.T) {
	d, _ := createTestDaemon(t, testConfig(t))

	require.NoError(t, d.Start())
	assert.True(t, d.Status().Running)
	assert.True(t, IsRunning(d.config.DataDir))
	assert.Error(t, d.Start(), "second start")

	require.NoError(t, d.Stop())
	assert.False(t, d.Status().Running)
	assert.False(t, IsRunning(d.config.DataDir))
	assert.Error(t, d.Stop(), "second stop")
}

func TestDaemonStatus(t *testing.T) {
	d, _ := createTestDaemon(t, testConfig(t), WithChannel(&recordingChannel{name: "test"}))

	status := d.Status()
	assert.False(t, status.Running)
	assert.Equal(t, time.Duration(0), status.Uptime)

	require.NoError(t, d.Start())
	time.Sleep(20 * time.Millisecond)

	status = d.Status()
	assert.True(t, status.Running)
	assert.Greater(t, status.Uptime, time.Duration(0))
	assert.Equal(t, []string{"test"}, status.Channels)
	assert.Empty(t, status.Providers)
}

func TestDaemon_ConsoleRoundTrip(t *testing.T) {
	out := &syncBuffer{}
	console := channels.NewConsoleChannel(strings.NewReader("hello there\n\nsecond line\n"), out)
	d, model := createTestDaemon(t, testConfig(t), WithChannel(console))

	require.NoError(t, d.Start())
	select {
	case <-console.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("console input was not consumed")
	}

	assert.Equal(t, "echo: hello there\necho: second line\n", out.String())
	assert.Equal(t, 2, model.calls())

	history, err := d.conversations.Load(context.Background(), channels.ConsoleChatID)
	require.NoError(t, err)
	assert.Len(t, history, 4)
}

func TestDaemon_HandleMessage(t *testing.T) {
	ch := &recordingChannel{name: "test"}
	d, _ := createTestDaemon(t, testConfig(t), WithChannel(ch))

	res, err := d.HandleMessage(context.Background(), channels.InboundMessage{Channel: "test", ChatID: "c9", Text: "ping"})
	require.NoError(t, err)
	assert.Equal(t, "echo: ping", res.Text)

	sent := ch.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, "c9", sent[0].ChatID)
	assert.Equal(t, channels.KindReply, sent[0].Kind)
}

func TestDaemon_DispatchInbound(t *testing.T) {
	ch := &recordingChannel{name: "test"}
	d, _ := createTestDaemon(t, testConfig(t), WithChannel(ch))

	// Unknown channel: the reply cannot be delivered, but the turn commits.
	err := d.dispatchInbound(context.Background(), channels.InboundMessage{Channel: "nowhere", ChatID: "c1", Text: "hi"})
	assert.NoError(t, err)

	err = d.dispatchInbound(context.Background(), channels.InboundMessage{Channel: "test", ChatID: "", Text: "hi"})
	assert.Error(t, err, "invalid messages are reported to the channel")
}

type failingModel struct{}

func (failingModel) Generate(context.Context, agent.ModelRequest) (*agent.ModelResponse, error) {
	return nil, errors.New("upstream exploded")
}

func (failingModel) Provider() string { return "fake" }

func TestDaemon_DispatchSwallowsRolledBackTurn(t *testing.T) {
	ch := &recordingChannel{name: "test"}
	d, _ := createTestDaemon(t, testConfig(t),
		WithChannel(ch),
		WithModels(map[agent.Tier]agent.ModelClient{agent.TierDeep: failingModel{}}),
	)

	err := d.dispatchInbound(context.Background(), channels.InboundMessage{Channel: "test", ChatID: "c1", Text: "hi"})
	assert.NoError(t, err, "the user was already told")

	sent := ch.messages()
	require.Len(t, sent, 1)
	assert.Equal(t, channels.KindError, sent[0].Kind)
	assert.Equal(t, d.config.Agent.Notices.Error, sent[0].Text)

	history, err := d.conversations.Load(context.Background(), "c1")
	require.NoError(t, err)
	assert.Empty(t, history, "rolled back")
}
