package coretools

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/cron"
	"github.com/diegosucaria/deedee-sub000/pkg/memory"
	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
	"github.com/diegosucaria/deedee-sub000/pkg/vault"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeScheduler struct {
	mu   sync.Mutex
	jobs map[string]*cron.Job
}

func (f *fakeScheduler) AddJob(ctx context.Context, params cron.AddParams) (*cron.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.jobs == nil {
		f.jobs = map[string]*cron.Job{}
	}
	if _, ok := f.jobs[params.Name]; ok {
		return nil, cron.ErrJobExists
	}
	next, err := params.Trigger.Next(time.Now())
	if err != nil {
		return nil, err
	}
	job := &cron.Job{Name: params.Name, Trigger: params.Trigger, Payload: params.Payload, Persisted: params.Persisted, ExpiresAt: params.ExpiresAt, NextRunAt: next}
	f.jobs[params.Name] = job
	return job, nil
}

func (f *fakeScheduler) CancelJob(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.jobs[name]; !ok {
		return cron.ErrJobNotFound
	}
	delete(f.jobs, name)
	return nil
}

func (f *fakeScheduler) GetJob(name string) (*cron.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	job, ok := f.jobs[name]
	if !ok {
		return nil, cron.ErrJobNotFound
	}
	return job, nil
}

func (f *fakeScheduler) ListJobs() []*cron.Job {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := []*cron.Job{}
	for _, j := range f.jobs {
		out = append(out, j)
	}
	return out
}

type fakeVault struct {
	notes map[string]string
}

func (f *fakeVault) Search(ctx context.Context, query string, limit int) ([]vault.SearchResult, error) {
	return []vault.SearchResult{{Path: "a.md", Content: "match for " + query, Score: 1}}, nil
}

func (f *fakeVault) ReadNote(path string) (*vault.Note, error) {
	content, ok := f.notes[path]
	if !ok {
		return nil, errors.New("note not found: " + path)
	}
	return &vault.Note{Path: path, Content: content}, nil
}

func (f *fakeVault) WriteNote(path, content string, appendMode bool) (bool, error) {
	_, exists := f.notes[path]
	if appendMode && exists {
		f.notes[path] += "\n" + content
	} else {
		f.notes[path] = content
	}
	return !exists, nil
}

func (f *fakeVault) ListNotes(pattern string) ([]vault.Note, error) {
	out := []vault.Note{}
	for p := range f.notes {
		out = append(out, vault.Note{Path: p})
	}
	return out, nil
}

type fakeCalendar struct {
	created []CalendarEvent
}

func (f *fakeCalendar) ListEvents(ctx context.Context, from, to time.Time) ([]CalendarEvent, error) {
	return []CalendarEvent{{Title: "Dentist", Start: from.Add(time.Hour), End: from.Add(2 * time.Hour)}}, nil
}

func (f *fakeCalendar) CreateEvent(ctx context.Context, event CalendarEvent) (CalendarEvent, error) {
	event.ID = "evt-1"
	f.created = append(f.created, event)
	return event, nil
}

type fakeMailer struct {
	sent [][]string
}

func (f *fakeMailer) Search(ctx context.Context, query string, limit int) ([]Email, error) {
	return []Email{{ID: "m1", Subject: query}}, nil
}

func (f *fakeMailer) Send(ctx context.Context, to []string, subject, body string) error {
	f.sent = append(f.sent, to)
	return nil
}

type fakeImages struct {
	err error
}

func (f *fakeImages) GenerateImage(ctx context.Context, prompt string) (*channels.Media, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &channels.Media{MimeType: "image/png", Data: []byte("png:" + prompt)}, nil
}

// chatContext records everything tools deliver to the chat.
func chatContext(sent *[]channels.OutboundMessage) *toolexecutor.ExecutionContext {
	return &toolexecutor.ExecutionContext{
		ChatID:  "chat-1",
		Channel: "console",
		Send: func(ctx context.Context, msg channels.OutboundMessage) error {
			*sent = append(*sent, msg)
			return nil
		},
	}
}

func execute(t *testing.T, te *toolexecutor.ToolExecutor, name string, params map[string]interface{}, execCtx *toolexecutor.ExecutionContext) toolexecutor.ToolResult {
	t.Helper()
	result, err := te.Execute(context.Background(), name, params, execCtx)
	require.NoError(t, err)
	return result
}

func TestRegister(t *testing.T) {
	assert.Error(t, Register(nil, Options{}))

	te := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, Register(te, Options{
		FilesRoot: t.TempDir(),
		Aliases:   map[string]string{"mom": "Maria"},
		Messaging: true,
	}))

	assert.ElementsMatch(t, []string{
		"read_file", "write_file", "edit_file", "list_files",
		"lookup_alias", "send_message",
	}, te.ListTools())
}

func TestRegister_PolicyDeniesFamily(t *testing.T) {
	te := toolexecutor.New(toolexecutor.Options{Policy: toolexecutor.NewToolPolicy([]string{"family:email"})})
	require.NoError(t, Register(te, Options{Mail: &fakeMailer{}, Calendar: &fakeCalendar{}}))

	assert.ElementsMatch(t, []string{"list_events", "create_event"}, te.ListTools())
}

func TestMemoryTools(t *testing.T) {
	store, err := memory.Open(filepath.Join(t.TempDir(), "facts.db"))
	require.NoError(t, err)
	defer store.Close()

	te := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, Register(te, Options{Facts: store}))

	result := execute(t, te, "remember", map[string]interface{}{
		"content": "Daughter's name is Lucia",
		"tags":    []interface{}{"family"},
	}, nil)
	require.True(t, result.Success, result.Error)
	id := result.Output.(map[string]interface{})["id"].(string)
	require.NotEmpty(t, id)

	result = execute(t, te, "recall", map[string]interface{}{"query": "lucia"}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.Output.(map[string]interface{})["count"])

	result = execute(t, te, "forget", map[string]interface{}{"id": id}, nil)
	require.True(t, result.Success, result.Error)

	result = execute(t, te, "forget", map[string]interface{}{"id": id}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "fact not found")
}

func TestFilesystemTools(t *testing.T) {
	root := t.TempDir()
	te := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, Register(te, Options{FilesRoot: root}))

	result := execute(t, te, "write_file", map[string]interface{}{"path": "lists/groceries.txt", "content": "milk\n"}, nil)
	require.True(t, result.Success, result.Error)
	result = execute(t, te, "write_file", map[string]interface{}{"path": "lists/groceries.txt", "content": "eggs\n", "append": true}, nil)
	require.True(t, result.Success, result.Error)

	data, err := os.ReadFile(filepath.Join(root, "lists", "groceries.txt"))
	require.NoError(t, err)
	assert.Equal(t, "milk\neggs\n", string(data))

	result = execute(t, te, "edit_file", map[string]interface{}{"path": "lists/groceries.txt", "search": "milk", "replace": "oat milk"}, nil)
	require.True(t, result.Success, result.Error)

	result = execute(t, te, "read_file", map[string]interface{}{"path": "lists/groceries.txt", "max_bytes": 3}, nil)
	require.True(t, result.Success, result.Error)
	out := result.Output.(map[string]interface{})
	assert.Equal(t, "oat", out["content"])
	assert.Equal(t, true, out["truncated"])

	result = execute(t, te, "list_files", map[string]interface{}{}, nil)
	require.True(t, result.Success, result.Error)

	result = execute(t, te, "edit_file", map[string]interface{}{"path": "lists/groceries.txt", "search": "bread", "replace": "x"}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "not found")

	result = execute(t, te, "read_file", map[string]interface{}{"path": "../../etc/passwd"}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "outside the file area")
}

func TestResolvePath(t *testing.T) {
	root := t.TempDir()

	tests := []struct {
		name    string
		path    string
		wantErr bool
	}{
		{name: "relative", path: "notes/a.txt"},
		{name: "absolute inside", path: filepath.Join(root, "a.txt")},
		{name: "empty", path: " ", wantErr: true},
		{name: "escape", path: "../a.txt", wantErr: true},
		{name: "absolute outside", path: "/etc/hosts", wantErr: true},
		{name: "url", path: "file://etc/hosts", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := resolvePath(root, tt.path)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestSchedulingTools(t *testing.T) {
	sched := &fakeScheduler{}
	te := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, Register(te, Options{Scheduler: sched, Location: time.UTC}))

	var sent []channels.OutboundMessage
	execCtx := chatContext(&sent)

	result := execute(t, te, "schedule_task", map[string]interface{}{
		"name":          "water-plants",
		"instruction":   "Remind me to water the plants",
		"delay_minutes": 30,
	}, execCtx)
	require.True(t, result.Success, result.Error)

	job := sched.jobs["water-plants"]
	require.NotNil(t, job)
	assert.Equal(t, "chat-1", job.Payload.ChatID)
	assert.Equal(t, "console", job.Payload.Channel)
	assert.True(t, job.Persisted)
	assert.False(t, job.Trigger.Recurring())

	result = execute(t, te, "schedule_task", map[string]interface{}{
		"name":        "standup",
		"instruction": "Summarize my calendar",
		"cron":        "0 8 * * 1-5",
		"timezone":    "America/New_York",
	}, execCtx)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "America/New_York", sched.jobs["standup"].Trigger.TZ)

	result = execute(t, te, "schedule_task", map[string]interface{}{
		"name":          "orphan",
		"instruction":   "x",
		"delay_minutes": 5,
	}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "needs a chat")

	result = execute(t, te, "list_tasks", map[string]interface{}{}, execCtx)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 2, result.Output.(map[string]interface{})["count"])

	result = execute(t, te, "cancel_task", map[string]interface{}{"name": "standup"}, execCtx)
	require.True(t, result.Success, result.Error)
	result = execute(t, te, "cancel_task", map[string]interface{}{"name": "standup"}, execCtx)
	assert.False(t, result.Success)

	t.Run("other chats and configured jobs are off limits", func(t *testing.T) {
		sched.jobs["their-task"] = &cron.Job{Name: "their-task", Persisted: true, Payload: cron.Payload{ChatID: "chat-2"}}
		sched.jobs["morning-brief"] = &cron.Job{Name: "morning-brief", Payload: cron.Payload{ChatID: "chat-1"}}

		result := execute(t, te, "cancel_task", map[string]interface{}{"name": "their-task"}, execCtx)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "not found")

		result = execute(t, te, "cancel_task", map[string]interface{}{"name": "morning-brief"}, execCtx)
		assert.False(t, result.Success)
		assert.Contains(t, result.Error, "configuration")

		assert.Contains(t, sched.jobs, "their-task")
		assert.Contains(t, sched.jobs, "morning-brief")
	})
}

func TestBuildTrigger(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name    string
		params  scheduleParams
		want    cron.Trigger
		wantErr bool
	}{
		{
			name:   "delay",
			params: scheduleParams{DelayMinutes: 15},
			want:   cron.Trigger{Kind: cron.TriggerAt, At: now.Add(15 * time.Minute)},
		},
		{
			name:   "rfc3339",
			params: scheduleParams{At: "2026-03-11T09:00:00Z"},
			want:   cron.Trigger{Kind: cron.TriggerAt, At: time.Date(2026, 3, 11, 9, 0, 0, 0, time.UTC)},
		},
		{
			name:   "local time",
			params: scheduleParams{At: "2026-03-11 09:30"},
			want:   cron.Trigger{Kind: cron.TriggerAt, At: time.Date(2026, 3, 11, 9, 30, 0, 0, time.UTC)},
		},
		{
			name:   "cron",
			params: scheduleParams{Cron: "*/5 * * * *"},
			want:   cron.Trigger{Kind: cron.TriggerCron, Expr: "*/5 * * * *", TZ: "UTC"},
		},
		{name: "none", params: scheduleParams{}, wantErr: true},
		{name: "two", params: scheduleParams{DelayMinutes: 5, Cron: "* * * * *"}, wantErr: true},
		{name: "negative delay", params: scheduleParams{DelayMinutes: -5}, wantErr: true},
		{name: "bad time", params: scheduleParams{At: "tomorrow"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := buildTrigger(tt.params, time.UTC, now)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want.Kind, got.Kind)
			assert.Equal(t, tt.want.Expr, got.Expr)
			assert.Equal(t, tt.want.TZ, got.TZ)
			assert.True(t, tt.want.At.Equal(got.At), "want %v got %v", tt.want.At, got.At)
		})
	}
}

func TestVaultTools(t *testing.T) {
	v := &fakeVault{notes: map[string]string{"inbox.md": "first"}}
	te := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, Register(te, Options{Vault: v}))

	result := execute(t, te, "search_notes", map[string]interface{}{"query": "plants"}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.Output.(map[string]interface{})["count"])

	result = execute(t, te, "write_note", map[string]interface{}{"path": "inbox.md", "content": "second", "append": true}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, false, result.Output.(map[string]interface{})["created"])
	assert.Equal(t, "first\nsecond", v.notes["inbox.md"])

	result = execute(t, te, "read_note", map[string]interface{}{"path": "missing.md"}, nil)
	assert.False(t, result.Success)

	result = execute(t, te, "list_notes", map[string]interface{}{}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.Output.(map[string]interface{})["count"])
}

func TestAliasTools(t *testing.T) {
	te := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, Register(te, Options{Aliases: map[string]string{"Mom": "Maria Lopez <maria@example.com>"}}))

	result := execute(t, te, "lookup_alias", map[string]interface{}{"name": " mom "}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, "Maria Lopez <maria@example.com>", result.Output.(map[string]interface{})["value"])

	result = execute(t, te, "lookup_alias", map[string]interface{}{"name": "dad"}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "known aliases: Mom")
}

func TestCalendarAndEmailTools(t *testing.T) {
	cal := &fakeCalendar{}
	mail := &fakeMailer{}
	te := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, Register(te, Options{Calendar: cal, Mail: mail}))

	result := execute(t, te, "list_events", map[string]interface{}{"days": 7}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, 1, result.Output.(map[string]interface{})["count"])

	result = execute(t, te, "create_event", map[string]interface{}{"title": "Lunch", "start": "2026-03-11T12:00:00Z"}, nil)
	require.True(t, result.Success, result.Error)
	require.Len(t, cal.created, 1)
	assert.Equal(t, time.Hour, cal.created[0].End.Sub(cal.created[0].Start))

	result = execute(t, te, "send_email", map[string]interface{}{
		"to":      []interface{}{"a@example.com", "b@example.com"},
		"subject": "Hi",
		"body":    "Hello",
	}, nil)
	require.True(t, result.Success, result.Error)
	assert.Equal(t, [][]string{{"a@example.com", "b@example.com"}}, mail.sent)

	result = execute(t, te, "send_email", map[string]interface{}{"to": []interface{}{}, "subject": "Hi", "body": "x"}, nil)
	assert.False(t, result.Success)

	result = execute(t, te, "search_email", map[string]interface{}{"query": "invoice"}, nil)
	require.True(t, result.Success, result.Error)
}

func TestMessagingAndMediaDeliverThroughContext(t *testing.T) {
	images := &fakeImages{}
	te := toolexecutor.New(toolexecutor.Options{})
	require.NoError(t, Register(te, Options{Messaging: true, Images: images}))

	var sent []channels.OutboundMessage
	execCtx := chatContext(&sent)

	result := execute(t, te, "send_message", map[string]interface{}{"text": "On it"}, execCtx)
	require.True(t, result.Success, result.Error)

	result = execute(t, te, "generate_image", map[string]interface{}{"prompt": "a red fox", "caption": "Fox"}, execCtx)
	require.True(t, result.Success, result.Error)
	out := result.Output.(map[string]interface{})
	assert.Equal(t, "image/png", out["mime_type"])
	assert.NotContains(t, out, "data")

	require.Len(t, sent, 2)
	assert.Equal(t, channels.KindTool, sent[0].Kind)
	assert.Equal(t, "chat-1", sent[0].ChatID)
	assert.Equal(t, "On it", sent[0].Text)
	require.NotNil(t, sent[1].Media)
	assert.Equal(t, []byte("png:a red fox"), sent[1].Media.Data)

	// Without a sender the message cannot leave the turn.
	result = execute(t, te, "send_message", map[string]interface{}{"text": "lost"}, nil)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "no send callback")

	images.err = errors.New("quota exceeded")
	result = execute(t, te, "generate_image", map[string]interface{}{"prompt": "x"}, execCtx)
	assert.False(t, result.Success)
	assert.Contains(t, result.Error, "quota exceeded")
	assert.Len(t, sent, 2)
}
