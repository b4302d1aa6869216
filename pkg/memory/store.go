package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
)

const (
	defaultRecallLimit = 10
	idLength           = 12
)

// ErrFactNotFound is returned when a fact id does not exist.
var ErrFactNotFound = errors.New("fact not found")

// Fact is one remembered statement.
type Fact struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists facts in sqlite.
type Store struct {
	db *sql.DB
}

// Open opens or creates the facts database at path.
func Open(path string) (*Store, error) {
	if path == "" {
		return nil, errors.New("database path is required")
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS facts (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			tags TEXT NOT NULL DEFAULT '',
			folded TEXT NOT NULL,
			created_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_facts_created ON facts(created_at);
		CREATE TABLE IF NOT EXISTS events (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			start_at INTEGER NOT NULL,
			end_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_events_start ON events(start_at);
		CREATE TABLE IF NOT EXISTS mail (
			id TEXT PRIMARY KEY,
			folder TEXT NOT NULL,
			sender TEXT NOT NULL,
			recipients TEXT NOT NULL,
			subject TEXT NOT NULL,
			body TEXT NOT NULL,
			folded TEXT NOT NULL,
			sent_at INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_mail_sent ON mail(sent_at);
	`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.Info().Str("path", path).Msg("Memory store initialized")
	return &Store{db: db}, nil
}

// Remember stores a new fact.
func (s *Store) Remember(ctx context.Context, content string, tags []string) (*Fact, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.memory", "memory.remember")
	defer span.End()

	content = strings.TrimSpace(content)
	if content == "" {
		return nil, errors.New("content cannot be empty")
	}

	id, err := gonanoid.New(idLength)
	if err != nil {
		return nil, fmt.Errorf("failed to generate id: %w", err)
	}

	fact := &Fact{
		ID:        id,
		Content:   content,
		Tags:      normalizeTags(tags),
		CreatedAt: time.Now().UTC().Truncate(time.Millisecond),
	}
	tagText := strings.Join(fact.Tags, ",")

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO facts (id, content, tags, folded, created_at) VALUES (?, ?, ?, ?, ?)",
		fact.ID, fact.Content, tagText, strings.ToLower(fact.Content+" "+tagText), fact.CreatedAt.UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to store fact: %w", err)
	}

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().Str("fact_id", fact.ID).Msg("Fact remembered")
	return fact, nil
}

// Recall returns facts containing every term of query, newest first. An
// empty query returns the most recent facts.
func (s *Store) Recall(ctx context.Context, query string, limit int) ([]Fact, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.memory", "memory.recall", attribute.String("query", query))
	defer span.End()

	if limit <= 0 {
		limit = defaultRecallLimit
	}

	stmt := "SELECT id, content, tags, created_at FROM facts"
	var args []interface{}
	var clauses []string
	for _, term := range strings.Fields(strings.ToLower(query)) {
		clauses = append(clauses, "folded LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(term)+"%")
	}
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += " ORDER BY created_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query facts: %w", err)
	}
	defer rows.Close()

	facts := []Fact{}
	for rows.Next() {
		var f Fact
		var tags string
		var created int64
		if err := rows.Scan(&f.ID, &f.Content, &tags, &created); err != nil {
			return nil, err
		}
		if tags != "" {
			f.Tags = strings.Split(tags, ",")
		}
		f.CreatedAt = time.UnixMilli(created).UTC()
		facts = append(facts, f)
	}
	return facts, rows.Err()
}

// Forget deletes a fact by id.
func (s *Store) Forget(ctx context.Context, id string) error {
	ctx, span := tracing.StartSpan(ctx, "deedee.memory", "memory.forget", attribute.String("fact_id", id))
	defer span.End()

	res, err := s.db.ExecContext(ctx, "DELETE FROM facts WHERE id = ?", id)
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to delete fact: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrFactNotFound, id)
	}
	return nil
}

// Count returns the number of stored facts.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM facts").Scan(&n)
	return n, err
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	var out []string
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(strings.ReplaceAll(t, ",", " ")))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
