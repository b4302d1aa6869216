package conversation

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

const fileExt = ".jsonl"

// Store keeps conversation logs under dir, one file per chat.
type Store struct {
	dir string

	mu      sync.Mutex
	locks   map[string]*sync.Mutex
	lastSeq map[string]int64
}

// NewStore creates dir if needed and returns a store over it.
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, fmt.Errorf("conversation directory is required")
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create conversation directory: %w", err)
	}

	log.Info().Str("dir", dir).Msg("Conversation store initialized")

	return &Store{
		dir:     dir,
		locks:   make(map[string]*sync.Mutex),
		lastSeq: make(map[string]int64),
	}, nil
}

func validateChatID(chatID string) error {
	if chatID == "" {
		return fmt.Errorf("chat id cannot be empty")
	}
	if strings.Contains(chatID, "..") {
		return fmt.Errorf("chat id cannot contain '..'")
	}
	if strings.ContainsAny(chatID, "/\\") {
		return fmt.Errorf("chat id cannot contain path separators")
	}
	if strings.Contains(chatID, "\x00") {
		return fmt.Errorf("chat id cannot contain null bytes")
	}
	return nil
}

func (s *Store) path(chatID string) string {
	return filepath.Join(s.dir, chatID+fileExt)
}

func (s *Store) lock(chatID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()

	if l, ok := s.locks[chatID]; ok {
		return l
	}
	l := &sync.Mutex{}
	s.locks[chatID] = l
	return l
}

// seqLocked returns the last sequence number of chatID. Caller holds the chat lock.
func (s *Store) seqLocked(ctx context.Context, chatID string) (int64, error) {
	s.mu.Lock()
	seq, ok := s.lastSeq[chatID]
	s.mu.Unlock()
	if ok {
		return seq, nil
	}

	msgs, err := s.readAll(ctx, chatID)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if m.Seq > seq {
			seq = m.Seq
		}
	}

	s.mu.Lock()
	s.lastSeq[chatID] = seq
	s.mu.Unlock()
	return seq, nil
}

func (s *Store) setSeq(chatID string, seq int64) {
	s.mu.Lock()
	s.lastSeq[chatID] = seq
	s.mu.Unlock()
}

// Append assigns the next sequence number to msg, writes it and fsyncs.
func (s *Store) Append(ctx context.Context, chatID string, msg Message) (Message, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.conversation", "conversation.append",
		attribute.String("chat_id", chatID),
		attribute.String("role", string(msg.Role)),
	)
	defer span.End()

	fail := func(err error) (Message, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return Message{}, err
	}

	if err := validateChatID(chatID); err != nil {
		return fail(err)
	}
	if err := msg.Validate(); err != nil {
		return fail(err)
	}

	l := s.lock(chatID)
	l.Lock()
	defer l.Unlock()

	seq, err := s.seqLocked(ctx, chatID)
	if err != nil {
		return fail(err)
	}

	msg.Seq = seq + 1
	msg.ChatID = chatID
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fail(fmt.Errorf("failed to marshal message: %w", err))
	}

	file, err := os.OpenFile(s.path(chatID), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fail(fmt.Errorf("failed to open conversation file: %w", err))
	}
	defer file.Close()

	if _, err := file.Write(append(data, '\n')); err != nil {
		return fail(fmt.Errorf("failed to write message: %w", err))
	}
	if err := file.Sync(); err != nil {
		return fail(fmt.Errorf("failed to sync conversation file: %w", err))
	}

	s.setSeq(chatID, msg.Seq)

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Debug().
		Str("role", string(msg.Role)).
		Int64("seq", msg.Seq).
		Msg("Message appended")

	return msg, nil
}

// readAll parses the chat file, skipping lines that fail to decode.
func (s *Store) readAll(ctx context.Context, chatID string) ([]Message, error) {
	file, err := os.Open(s.path(chatID))
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to open conversation file: %w", err)
	}
	defer file.Close()

	logger := tracing.LoggerFromContext(ctx, log.Logger)

	var msgs []Message
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var m Message
		if err := json.Unmarshal(line, &m); err != nil {
			logger.Warn().Str("chat_id", chatID).Int("line", lineNum).Err(err).Msg("Failed to parse line, skipping")
			continue
		}
		if !m.Role.Valid() {
			logger.Warn().Str("chat_id", chatID).Int("line", lineNum).Msg("Invalid entry, skipping")
			continue
		}
		msgs = append(msgs, m)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read conversation file: %w", err)
	}
	return msgs, nil
}

// Load returns the whole history of chatID.
func (s *Store) Load(ctx context.Context, chatID string) ([]Message, error) {
	if err := validateChatID(chatID); err != nil {
		return nil, err
	}

	l := s.lock(chatID)
	l.Lock()
	defer l.Unlock()

	return s.readAll(ctx, chatID)
}

// LoadRecent returns roughly the last limit messages of chatID. The window
// always begins at a user message so it never opens with an orphaned tool
// result: it is shrunk forward to the first user message inside it, or, when
// the window holds none, grown backward to the nearest one.
func (s *Store) LoadRecent(ctx context.Context, chatID string, limit int) ([]Message, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.conversation", "conversation.load_recent",
		attribute.String("chat_id", chatID),
		attribute.Int("limit", limit),
	)
	defer span.End()

	msgs, err := s.Load(ctx, chatID)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	return recentWindow(msgs, limit), nil
}

func recentWindow(msgs []Message, limit int) []Message {
	if limit <= 0 || len(msgs) == 0 {
		return msgs
	}

	start := len(msgs) - limit
	if start < 0 {
		start = 0
	}

	for i := start; i < len(msgs); i++ {
		if msgs[i].Role == RoleUser {
			return msgs[i:]
		}
	}
	for i := start - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i:]
		}
	}
	return msgs[start:]
}

// LastSeq returns the sequence number of the newest message, 0 for an empty chat.
func (s *Store) LastSeq(ctx context.Context, chatID string) (int64, error) {
	if err := validateChatID(chatID); err != nil {
		return 0, err
	}

	l := s.lock(chatID)
	l.Lock()
	defer l.Unlock()

	return s.seqLocked(ctx, chatID)
}

// RollbackAfter removes every message of chatID with a sequence number
// greater than seq. The file is rewritten atomically.
func (s *Store) RollbackAfter(ctx context.Context, chatID string, seq int64) (int, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.conversation", "conversation.rollback",
		attribute.String("chat_id", chatID),
		attribute.Int64("seq", seq),
	)
	defer span.End()

	if err := validateChatID(chatID); err != nil {
		return 0, err
	}

	l := s.lock(chatID)
	l.Lock()
	defer l.Unlock()

	msgs, err := s.readAll(ctx, chatID)
	if err != nil {
		span.RecordError(err)
		return 0, err
	}

	kept := make([]Message, 0, len(msgs))
	for _, m := range msgs {
		if m.Seq <= seq {
			kept = append(kept, m)
		}
	}
	removed := len(msgs) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if err := s.rewrite(chatID, kept); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return 0, err
	}

	var last int64
	for _, m := range kept {
		if m.Seq > last {
			last = m.Seq
		}
	}
	s.setSeq(chatID, last)

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().
		Int64("seq", seq).
		Int("removed", removed).
		Msg("Conversation rolled back")

	return removed, nil
}

func (s *Store) rewrite(chatID string, msgs []Message) error {
	target := s.path(chatID)
	tmp, err := os.CreateTemp(s.dir, chatID+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	w := bufio.NewWriter(tmp)
	for _, m := range msgs {
		data, err := json.Marshal(m)
		if err != nil {
			tmp.Close()
			return fmt.Errorf("failed to marshal message: %w", err)
		}
		w.Write(data)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Chmod(tmpPath, 0600); err != nil {
		return err
	}
	return os.Rename(tmpPath, target)
}

// Delete removes the whole history of chatID.
func (s *Store) Delete(ctx context.Context, chatID string) error {
	if err := validateChatID(chatID); err != nil {
		return err
	}

	l := s.lock(chatID)
	l.Lock()
	defer l.Unlock()

	if err := os.Remove(s.path(chatID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to delete conversation: %w", err)
	}
	s.setSeq(chatID, 0)

	logger := tracing.LoggerFromContext(ctx, log.Logger)
	logger.Info().Str("chat_id", chatID).Msg("Conversation deleted")
	return nil
}

// List returns the ids of all chats with a stored history.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read conversation directory: %w", err)
	}

	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), fileExt) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), fileExt))
	}
	sort.Strings(ids)
	return ids, nil
}
