package cron

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleJob(name string) *Job {
	return &Job{
		Name:      name,
		Trigger:   Trigger{Kind: TriggerAt, At: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)},
		Payload:   Payload{ChatID: "chat-1", Instruction: "Water the plants"},
		Persisted: true,
		NextRunAt: time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC),
		CreatedAt: time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC),
	}
}

// exerciseStore runs the same contract against every Store implementation.
func exerciseStore(t *testing.T, store Store) {
	ctx := context.Background()

	jobs, err := store.Load(ctx)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	require.NoError(t, store.Save(ctx, sampleJob("b")))
	require.NoError(t, store.Save(ctx, sampleJob("a")))

	updated := sampleJob("b")
	updated.RetryCount = 2
	updated.State.LastError = "timeout"
	require.NoError(t, store.Save(ctx, updated))

	jobs, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 2)
	assert.Equal(t, "a", jobs[0].Name)
	assert.Equal(t, "b", jobs[1].Name)
	assert.Equal(t, 2, jobs[1].RetryCount)
	assert.Equal(t, "timeout", jobs[1].State.LastError)
	assert.True(t, jobs[1].NextRunAt.Equal(updated.NextRunAt))

	require.NoError(t, store.Delete(ctx, "a"))
	require.NoError(t, store.Delete(ctx, "never-existed"))

	jobs, err = store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Equal(t, "b", jobs[0].Name)
}

func TestFileStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "jobs.json")
	store, err := NewFileStore(path)
	require.NoError(t, err)

	exerciseStore(t, store)

	t.Run("no temp files left behind", func(t *testing.T) {
		entries, err := os.ReadDir(filepath.Dir(path))
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, "jobs.json", entries[0].Name())
	})

	t.Run("corrupt file", func(t *testing.T) {
		require.NoError(t, os.WriteFile(path, []byte("{not json"), 0644))
		_, err := store.Load(context.Background())
		assert.Error(t, err)
	})

	t.Run("empty path", func(t *testing.T) {
		_, err := NewFileStore("")
		assert.Error(t, err)
	})
}

func TestRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)

	store, err := NewRedisStore(context.Background(), RedisStoreConfig{Address: mr.Addr(), Key: "test:jobs"})
	require.NoError(t, err)
	defer store.Close()

	exerciseStore(t, store)

	t.Run("one hash field per job", func(t *testing.T) {
		keys, err := mr.HKeys("test:jobs")
		require.NoError(t, err)
		assert.Equal(t, []string{"b"}, keys)
	})

	t.Run("undecodable entries are skipped", func(t *testing.T) {
		mr.HSet("test:jobs", "garbage", "{")
		jobs, err := store.Load(context.Background())
		require.NoError(t, err)
		assert.Len(t, jobs, 1)
	})

	t.Run("unreachable", func(t *testing.T) {
		_, err := NewRedisStore(context.Background(), RedisStoreConfig{Address: "127.0.0.1:1"})
		assert.Error(t, err)
	})

	t.Run("address required", func(t *testing.T) {
		_, err := NewRedisStore(context.Background(), RedisStoreConfig{})
		assert.Error(t, err)
	})
}

func TestService_WithRedisStore(t *testing.T) {
	mr := miniredis.RunT(t)
	store, err := NewRedisStore(context.Background(), RedisStoreConfig{Address: mr.Addr()})
	require.NoError(t, err)
	defer store.Close()

	rec := &recorder{}
	svc := createTestService(t, rec, store)

	_, err = svc.AddJob(context.Background(), reminder("redis-backed", time.Now().Add(time.Hour)))
	require.NoError(t, err)
	assert.True(t, mr.Exists("deedee:jobs"))

	require.NoError(t, svc.CancelJob(context.Background(), "redis-backed"))
	assert.False(t, mr.Exists("deedee:jobs"))
}
