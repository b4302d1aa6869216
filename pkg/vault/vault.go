// Package vault indexes a directory of markdown notes and answers keyword
// searches over it.
//
// Invariants:
//   - Indexed chunks stay consistent with file content hashes; unchanged files
//     are skipped on sync.
//   - A filesystem change marks the index dirty; the next search re-syncs.
//   - Note paths are relative to the vault root and never escape it.
//
// Usage:
//
//	v, _ := vault.Open(vault.Config{Root: "/data/vault", DBPath: "/data/vault.db", Watch: true})
//	defer v.Close()
//	results, _ := v.Search(ctx, "dentist", 5)
package vault

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const defaultSearchLimit = 10

// ErrSyncInProgress is returned when two syncs overlap.
var ErrSyncInProgress = errors.New("sync already in progress")

// SearchResult is one matching chunk.
type SearchResult struct {
	ChunkID string  `json:"chunk_id"`
	Path    string  `json:"path"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// Status reports the index state.
type Status struct {
	TotalFiles   int        `json:"total_files"`
	TotalChunks  int        `json:"total_chunks"`
	IsDirty      bool       `json:"is_dirty"`
	IsSyncing    bool       `json:"is_syncing"`
	LastSyncTime *time.Time `json:"last_sync_time,omitempty"`
}

// Config holds vault configuration
type Config struct {
	Root   string
	DBPath string
	// Watch enables fsnotify invalidation of the index.
	Watch  bool
	Logger zerolog.Logger
}

// Vault is a markdown knowledge base with a sqlite chunk index.
type Vault struct {
	db           *sql.DB
	root         string
	logger       zerolog.Logger
	watcher      *FileWatcher
	mu           sync.RWMutex
	isDirty      bool
	isSyncing    bool
	lastSyncTime *time.Time
}

// Open creates the vault directory if needed and opens its index.
func Open(cfg Config) (*Vault, error) {
	if cfg.Root == "" {
		return nil, errors.New("vault root is required")
	}
	if cfg.DBPath == "" {
		return nil, errors.New("database path is required")
	}
	if err := os.MkdirAll(cfg.Root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create vault directory: %w", err)
	}

	db, err := sql.Open("sqlite3", cfg.DBPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps pragmas and writes on a single sqlite handle.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	v := &Vault{
		db:      db,
		root:    cfg.Root,
		logger:  cfg.Logger.With().Str("component", "vault").Logger(),
		isDirty: true,
	}

	if err := v.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	if cfg.Watch {
		watcher, err := NewFileWatcher(v.logger, v.MarkDirty)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create file watcher: %w", err)
		}
		if err := watcher.WatchTree(cfg.Root); err != nil {
			watcher.Stop()
			db.Close()
			return nil, fmt.Errorf("failed to watch vault: %w", err)
		}
		v.watcher = watcher
	}

	return v, nil
}

func (v *Vault) initSchema() error {
	schema := `
		CREATE TABLE IF NOT EXISTS files (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			path TEXT NOT NULL UNIQUE,
			content_hash TEXT NOT NULL,
			indexed_at INTEGER NOT NULL,
			size_bytes INTEGER NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_files_hash ON files(content_hash);

		CREATE TABLE IF NOT EXISTS chunks (
			id TEXT PRIMARY KEY,
			file_id INTEGER NOT NULL,
			content TEXT NOT NULL,
			folded TEXT NOT NULL,
			start_offset INTEGER NOT NULL,
			end_offset INTEGER NOT NULL,
			FOREIGN KEY (file_id) REFERENCES files(id) ON DELETE CASCADE
		);
		CREATE INDEX IF NOT EXISTS idx_chunks_file ON chunks(file_id);
	`
	_, err := v.db.Exec(schema)
	return err
}

// Root returns the vault directory.
func (v *Vault) Root() string { return v.root }

// Search syncs a dirty index, then ranks chunks by how often the query
// terms occur in them.
func (v *Vault) Search(ctx context.Context, query string, limit int) ([]SearchResult, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.vault", "vault.search", attribute.String("query", query))
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, v.logger)

	terms := queryTerms(query)
	if len(terms) == 0 {
		return []SearchResult{}, nil
	}
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	v.mu.RLock()
	dirty := v.isDirty
	v.mu.RUnlock()
	if dirty {
		if err := v.Sync(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			logger.Warn().Err(err).Msg("Sync failed before search")
		}
	}

	clauses := make([]string, len(terms))
	args := make([]interface{}, len(terms))
	for i, term := range terms {
		clauses[i] = "c.folded LIKE ?"
		args[i] = "%" + term + "%"
	}
	rows, err := v.db.QueryContext(ctx, `
		SELECT c.id, f.path, c.content, c.folded
		FROM chunks c
		JOIN files f ON c.file_id = f.id
		WHERE `+strings.Join(clauses, " OR "), args...)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("search: %w", err)
	}
	defer rows.Close()

	var results []SearchResult
	for rows.Next() {
		var r SearchResult
		var folded string
		if err := rows.Scan(&r.ChunkID, &r.Path, &r.Content, &folded); err != nil {
			return nil, err
		}
		for _, term := range terms {
			if n := strings.Count(folded, term); n > 0 {
				// Distinct terms outweigh repetitions of one term.
				r.Score += 1 + float64(n-1)*0.1
			}
		}
		results = append(results, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ChunkID < results[j].ChunkID
	})
	if len(results) > limit {
		results = results[:limit]
	}

	logger.Debug().Str("query", query).Int("results", len(results)).Msg("Search completed")
	return results, nil
}

func queryTerms(query string) []string {
	seen := map[string]bool{}
	var terms []string
	for _, field := range strings.Fields(strings.ToLower(query)) {
		field = strings.Trim(field, ".,;:!?\"'()[]{}")
		if len(field) < 2 || seen[field] {
			continue
		}
		seen[field] = true
		terms = append(terms, field)
	}
	return terms
}

// Sync indexes every markdown file under the root and prunes deleted ones.
func (v *Vault) Sync(ctx context.Context) error {
	ctx, span := tracing.StartSpan(ctx, "deedee.vault", "vault.sync")
	defer span.End()
	logger := tracing.LoggerFromContext(ctx, v.logger)

	v.mu.Lock()
	if v.isSyncing {
		v.mu.Unlock()
		return ErrSyncInProgress
	}
	v.isSyncing = true
	// Cleared before the walk so changes during the sync are not lost.
	v.isDirty = false
	v.mu.Unlock()

	syncErr := error(nil)
	defer func() {
		v.mu.Lock()
		v.isSyncing = false
		if syncErr != nil {
			v.isDirty = true
		} else {
			now := time.Now()
			v.lastSyncTime = &now
		}
		v.mu.Unlock()
	}()

	start := time.Now()

	var mdFiles []string
	syncErr = filepath.WalkDir(v.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() && path != v.root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if !d.IsDir() && isMarkdown(d.Name()) {
			relPath, _ := filepath.Rel(v.root, path)
			mdFiles = append(mdFiles, filepath.ToSlash(relPath))
		}
		return nil
	})
	if syncErr != nil {
		span.RecordError(syncErr)
		span.SetStatus(codes.Error, syncErr.Error())
		return fmt.Errorf("failed to walk vault: %w", syncErr)
	}

	filesIndexed, filesSkipped, chunksCreated := 0, 0, 0
	for _, relPath := range mdFiles {
		indexed, chunks, err := v.indexFile(ctx, filepath.Join(v.root, filepath.FromSlash(relPath)), relPath)
		if err != nil {
			logger.Warn().Err(err).Str("file", relPath).Msg("Failed to index file")
			span.RecordError(err)
			continue
		}
		if indexed {
			filesIndexed++
			chunksCreated += chunks
		} else {
			filesSkipped++
		}
	}

	pruned, err := v.pruneDeletedFiles(ctx, mdFiles)
	if err != nil {
		logger.Warn().Err(err).Msg("Failed to prune deleted files")
		span.RecordError(err)
	}

	logger.Debug().
		Int("files_indexed", filesIndexed).
		Int("files_skipped", filesSkipped).
		Int("chunks_created", chunksCreated).
		Int("files_pruned", pruned).
		Dur("duration", time.Since(start)).
		Msg("Sync completed")

	return nil
}

func isMarkdown(name string) bool {
	return strings.HasSuffix(strings.ToLower(name), ".md")
}

// indexFile reindexes a single file when its content hash changed.
func (v *Vault) indexFile(ctx context.Context, fullPath, relPath string) (bool, int, error) {
	content, err := os.ReadFile(fullPath)
	if err != nil {
		return false, 0, err
	}

	hash := sha256.Sum256(content)
	contentHash := hex.EncodeToString(hash[:])

	var existingHash string
	err = v.db.QueryRowContext(ctx, "SELECT content_hash FROM files WHERE path = ?", relPath).Scan(&existingHash)
	if err == nil && existingHash == contentHash {
		return false, 0, nil
	}

	tx, err := v.db.BeginTx(ctx, nil)
	if err != nil {
		return false, 0, err
	}
	defer tx.Rollback()

	if _, err := tx.Exec("DELETE FROM files WHERE path = ?", relPath); err != nil {
		return false, 0, err
	}

	result, err := tx.Exec(
		"INSERT INTO files (path, content_hash, indexed_at, size_bytes) VALUES (?, ?, ?, ?)",
		relPath, contentHash, time.Now().Unix(), len(content),
	)
	if err != nil {
		return false, 0, err
	}
	fileID, _ := result.LastInsertId()

	chunks := chunkContent(string(content))
	for i, c := range chunks {
		_, err := tx.Exec(
			"INSERT INTO chunks (id, file_id, content, folded, start_offset, end_offset) VALUES (?, ?, ?, ?, ?, ?)",
			fmt.Sprintf("%s#%d", relPath, i), fileID, c.content, strings.ToLower(c.content), c.startOffset, c.endOffset,
		)
		if err != nil {
			return false, 0, err
		}
	}

	if err := tx.Commit(); err != nil {
		return false, 0, err
	}
	return true, len(chunks), nil
}

type chunk struct {
	content     string
	startOffset int
	endOffset   int
}

// chunkContent splits content on line boundaries into chunks of at most
// maxSize bytes, carrying a short overlap into the next chunk.
func chunkContent(content string) []chunk {
	const maxSize = 1000
	const overlap = 50

	var chunks []chunk
	lines := strings.Split(content, "\n")

	var current strings.Builder
	startOffset := 0
	currentOffset := 0

	for _, line := range lines {
		lineLen := len(line) + 1

		if current.Len() > 0 && current.Len()+lineLen > maxSize {
			chunks = append(chunks, chunk{
				content:     strings.TrimSpace(current.String()),
				startOffset: startOffset,
				endOffset:   currentOffset,
			})

			text := current.String()
			current.Reset()
			if len(text) > overlap {
				current.WriteString(text[len(text)-overlap:])
				startOffset = currentOffset - overlap
			} else {
				startOffset = currentOffset
			}
		}

		current.WriteString(line)
		current.WriteString("\n")
		currentOffset += lineLen
	}

	if text := strings.TrimSpace(current.String()); text != "" {
		chunks = append(chunks, chunk{content: text, startOffset: startOffset, endOffset: currentOffset})
	}
	return chunks
}

func (v *Vault) pruneDeletedFiles(ctx context.Context, existing []string) (int, error) {
	rows, err := v.db.QueryContext(ctx, "SELECT path FROM files")
	if err != nil {
		return 0, err
	}

	keep := make(map[string]bool, len(existing))
	for _, f := range existing {
		keep[f] = true
	}

	var toDelete []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			rows.Close()
			return 0, err
		}
		if !keep[path] {
			toDelete = append(toDelete, path)
		}
	}
	rows.Close()

	for _, path := range toDelete {
		if _, err := v.db.ExecContext(ctx, "DELETE FROM files WHERE path = ?", path); err != nil {
			return 0, err
		}
	}
	return len(toDelete), nil
}

// Status returns the current index state.
func (v *Vault) Status() Status {
	v.mu.RLock()
	status := Status{
		IsDirty:      v.isDirty,
		IsSyncing:    v.isSyncing,
		LastSyncTime: v.lastSyncTime,
	}
	v.mu.RUnlock()

	_ = v.db.QueryRow("SELECT COUNT(*) FROM files").Scan(&status.TotalFiles)
	_ = v.db.QueryRow("SELECT COUNT(*) FROM chunks").Scan(&status.TotalChunks)
	return status
}

// MarkDirty marks the index as needing sync
func (v *Vault) MarkDirty() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.isDirty = true
}

// Close stops the watcher and closes the index.
func (v *Vault) Close() error {
	if v.watcher != nil {
		v.watcher.Stop()
	}
	return v.db.Close()
}
