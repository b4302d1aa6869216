package cron

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Store persists job records. Implementations must make Save and Delete
// durable before returning.
type Store interface {
	Load(ctx context.Context) ([]*Job, error)
	Save(ctx context.Context, job *Job) error
	Delete(ctx context.Context, name string) error
}

// FileStore keeps all jobs in one JSON file, rewritten atomically.
type FileStore struct {
	path string
	mu   sync.Mutex
}

// NewFileStore returns a store backed by path.
func NewFileStore(path string) (*FileStore, error) {
	if path == "" {
		return nil, fmt.Errorf("store path is required")
	}
	return &FileStore{path: path}, nil
}

// Load reads all jobs. A missing file is an empty store.
func (f *FileStore) Load(ctx context.Context) ([]*Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	jobs, err := f.read()
	if err != nil {
		return nil, err
	}
	out := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		out = append(out, j)
	}
	sort.Slice(out, func(i, k int) bool { return out[i].Name < out[k].Name })
	return out, nil
}

// Save inserts or replaces job.
func (f *FileStore) Save(ctx context.Context, job *Job) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	jobs, err := f.read()
	if err != nil {
		return err
	}
	jobs[job.Name] = job
	return f.write(jobs)
}

// Delete removes a job. Deleting an unknown job is not an error.
func (f *FileStore) Delete(ctx context.Context, name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	jobs, err := f.read()
	if err != nil {
		return err
	}
	if _, ok := jobs[name]; !ok {
		return nil
	}
	delete(jobs, name)
	return f.write(jobs)
}

func (f *FileStore) read() (map[string]*Job, error) {
	jobs := make(map[string]*Job)

	data, err := os.ReadFile(f.path)
	if errors.Is(err, os.ErrNotExist) {
		return jobs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read jobs file: %w", err)
	}
	if len(data) == 0 {
		return jobs, nil
	}

	var list []*Job
	if err := json.Unmarshal(data, &list); err != nil {
		return nil, fmt.Errorf("failed to parse jobs file: %w", err)
	}
	for _, j := range list {
		jobs[j.Name] = j
	}
	return jobs, nil
}

func (f *FileStore) write(jobs map[string]*Job) error {
	list := make([]*Job, 0, len(jobs))
	for _, j := range jobs {
		list = append(list, j)
	}
	sort.Slice(list, func(i, k int) bool { return list[i].Name < list[k].Name })

	data, err := json.MarshalIndent(list, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal jobs: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(f.path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(f.path), filepath.Base(f.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		os.Remove(tmp.Name())
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	log.Debug().Int("count", len(list)).Msg("Persisted jobs to registry")
	return nil
}

// RedisStoreConfig holds the connection parameters for a RedisStore.
type RedisStoreConfig struct {
	Address  string
	Password string
	DB       int
	// Key is the hash holding one field per job.
	Key string
}

// RedisStore keeps jobs in a redis hash, one JSON field per job name.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore connects to redis and verifies the connection.
func NewRedisStore(ctx context.Context, cfg RedisStoreConfig) (*RedisStore, error) {
	if cfg.Address == "" {
		return nil, errors.New("redis address is required")
	}
	key := cfg.Key
	if key == "" {
		key = "deedee:jobs"
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Address,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}
	return &RedisStore{client: client, key: key}, nil
}

// Load reads every job in the hash. Undecodable entries are skipped.
func (r *RedisStore) Load(ctx context.Context) ([]*Job, error) {
	fields, err := r.client.HGetAll(ctx, r.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load jobs: %w", err)
	}
	jobs := make([]*Job, 0, len(fields))
	for name, raw := range fields {
		var j Job
		if err := json.Unmarshal([]byte(raw), &j); err != nil {
			log.Warn().Err(err).Str("job", name).Msg("Skipping undecodable job record")
			continue
		}
		jobs = append(jobs, &j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].Name < jobs[k].Name })
	return jobs, nil
}

// Save writes job's field.
func (r *RedisStore) Save(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("failed to marshal job: %w", err)
	}
	if err := r.client.HSet(ctx, r.key, job.Name, data).Err(); err != nil {
		return fmt.Errorf("failed to save job: %w", err)
	}
	return nil
}

// Delete removes job's field.
func (r *RedisStore) Delete(ctx context.Context, name string) error {
	if err := r.client.HDel(ctx, r.key, name).Err(); err != nil {
		return fmt.Errorf("failed to delete job: %w", err)
	}
	return nil
}

// Close closes the redis connection.
func (r *RedisStore) Close() error {
	if r == nil || r.client == nil {
		return nil
	}
	return r.client.Close()
}
