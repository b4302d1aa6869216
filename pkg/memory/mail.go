package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
	"go.opentelemetry.io/otel/attribute"
)

// Mail folders.
const (
	FolderInbox = "inbox"
	FolderSent  = "sent"
)

// Mail is one stored email.
type Mail struct {
	ID      string    `json:"id"`
	Folder  string    `json:"folder"`
	From    string    `json:"from"`
	To      []string  `json:"to"`
	Subject string    `json:"subject"`
	Body    string    `json:"body"`
	Date    time.Time `json:"date"`
}

// SaveMail stores m in its folder and returns it with an id assigned.
func (s *Store) SaveMail(ctx context.Context, m Mail) (Mail, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.memory", "memory.save_mail", attribute.String("folder", m.Folder))
	defer span.End()

	if m.Folder != FolderInbox && m.Folder != FolderSent {
		return Mail{}, fmt.Errorf("unknown mail folder %q", m.Folder)
	}
	if strings.TrimSpace(m.Subject) == "" && strings.TrimSpace(m.Body) == "" {
		return Mail{}, errors.New("mail needs a subject or a body")
	}
	if m.Date.IsZero() {
		m.Date = time.Now().UTC().Truncate(time.Millisecond)
	}
	id, err := gonanoid.New(idLength)
	if err != nil {
		return Mail{}, fmt.Errorf("failed to generate id: %w", err)
	}
	m.ID = id

	recipients := strings.Join(m.To, ",")
	folded := strings.ToLower(strings.Join([]string{m.From, recipients, m.Subject, m.Body}, " "))
	_, err = s.db.ExecContext(ctx,
		"INSERT INTO mail (id, folder, sender, recipients, subject, body, folded, sent_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?)",
		m.ID, m.Folder, m.From, recipients, m.Subject, m.Body, folded, m.Date.UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		return Mail{}, fmt.Errorf("failed to store mail: %w", err)
	}
	return m, nil
}

// SearchMail returns mail of any folder containing every term of query,
// newest first.
func (s *Store) SearchMail(ctx context.Context, query string, limit int) ([]Mail, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.memory", "memory.search_mail", attribute.String("query", query))
	defer span.End()

	if limit <= 0 {
		limit = defaultRecallLimit
	}

	stmt := "SELECT id, folder, sender, recipients, subject, body, sent_at FROM mail"
	var args []interface{}
	var clauses []string
	for _, term := range strings.Fields(strings.ToLower(query)) {
		clauses = append(clauses, "folded LIKE ? ESCAPE '\\'")
		args = append(args, "%"+escapeLike(term)+"%")
	}
	if len(clauses) > 0 {
		stmt += " WHERE " + strings.Join(clauses, " AND ")
	}
	stmt += " ORDER BY sent_at DESC, id LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query mail: %w", err)
	}
	defer rows.Close()

	out := []Mail{}
	for rows.Next() {
		var m Mail
		var recipients string
		var sent int64
		if err := rows.Scan(&m.ID, &m.Folder, &m.From, &recipients, &m.Subject, &m.Body, &sent); err != nil {
			return nil, err
		}
		if recipients != "" {
			m.To = strings.Split(recipients, ",")
		}
		m.Date = time.UnixMilli(sent).UTC()
		out = append(out, m)
	}
	return out, rows.Err()
}
