package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/diegosucaria/deedee-sub000/internal/config"
	"github.com/diegosucaria/deedee-sub000/pkg/coretools"
	"github.com/diegosucaria/deedee-sub000/pkg/memory"
)

const snippetLength = 160

// localCalendar serves the calendar tools from the memory database.
type localCalendar struct {
	store *memory.Store
	loc   *time.Location
}

func (c *localCalendar) ListEvents(ctx context.Context, from, to time.Time) ([]coretools.CalendarEvent, error) {
	events, err := c.store.Events(ctx, from, to, c.loc)
	if err != nil {
		return nil, err
	}
	out := make([]coretools.CalendarEvent, 0, len(events))
	for _, ev := range events {
		out = append(out, coretools.CalendarEvent{
			ID:       ev.ID,
			Title:    ev.Title,
			Start:    ev.Start,
			End:      ev.End,
			Location: ev.Location,
		})
	}
	return out, nil
}

func (c *localCalendar) CreateEvent(ctx context.Context, event coretools.CalendarEvent) (coretools.CalendarEvent, error) {
	ev, err := c.store.AddEvent(ctx, memory.Event{
		Title:    event.Title,
		Location: event.Location,
		Start:    event.Start,
		End:      event.End,
	})
	if err != nil {
		return coretools.CalendarEvent{}, err
	}
	return coretools.CalendarEvent{ID: ev.ID, Title: ev.Title, Start: ev.Start, End: ev.End, Location: ev.Location}, nil
}

// sendMailFunc matches smtp.SendMail.
type sendMailFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// mailbox keeps mail in the memory database. When an SMTP host is set,
// sent mail is relayed before it is filed.
type mailbox struct {
	store    *memory.Store
	cfg      config.EmailConfig
	sendMail sendMailFunc
}

func newMailbox(store *memory.Store, cfg config.EmailConfig) *mailbox {
	return &mailbox{store: store, cfg: cfg, sendMail: smtp.SendMail}
}

func (m *mailbox) Search(ctx context.Context, query string, limit int) ([]coretools.Email, error) {
	found, err := m.store.SearchMail(ctx, query, limit)
	if err != nil {
		return nil, err
	}
	out := make([]coretools.Email, 0, len(found))
	for _, mail := range found {
		from := mail.From
		if mail.Folder == memory.FolderSent {
			from = "me -> " + strings.Join(mail.To, ", ")
		}
		out = append(out, coretools.Email{
			ID:      mail.ID,
			From:    from,
			Subject: mail.Subject,
			Snippet: snippet(mail.Body),
			Date:    mail.Date,
		})
	}
	return out, nil
}

func (m *mailbox) Send(ctx context.Context, to []string, subject, body string) error {
	if len(to) == 0 {
		return errors.New("at least one recipient is required")
	}
	for _, addr := range to {
		if strings.ContainsAny(addr, "\r\n") || !strings.Contains(addr, "@") {
			return fmt.Errorf("invalid recipient %q", addr)
		}
	}
	if strings.ContainsAny(subject, "\r\n") {
		return errors.New("subject must be a single line")
	}

	if m.cfg.SMTPHost != "" {
		if err := m.relay(to, subject, body); err != nil {
			return fmt.Errorf("failed to send mail: %w", err)
		}
	}

	_, err := m.store.SaveMail(ctx, memory.Mail{
		Folder:  memory.FolderSent,
		From:    m.cfg.From,
		To:      to,
		Subject: subject,
		Body:    body,
	})
	return err
}

func (m *mailbox) relay(to []string, subject, body string) error {
	var auth smtp.Auth
	if m.cfg.Username != "" {
		auth = smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.SMTPHost)
	}

	var msg strings.Builder
	fmt.Fprintf(&msg, "From: %s\r\n", m.cfg.From)
	fmt.Fprintf(&msg, "To: %s\r\n", strings.Join(to, ", "))
	fmt.Fprintf(&msg, "Subject: %s\r\n", subject)
	fmt.Fprintf(&msg, "Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	msg.WriteString("Content-Type: text/plain; charset=utf-8\r\n\r\n")
	msg.WriteString(strings.ReplaceAll(body, "\n", "\r\n"))

	addr := m.cfg.SMTPHost + ":" + strconv.Itoa(m.cfg.SMTPPort)
	return m.sendMail(addr, auth, m.cfg.From, to, []byte(msg.String()))
}

func snippet(body string) string {
	body = strings.Join(strings.Fields(body), " ")
	if len(body) <= snippetLength {
		return body
	}
	cut := snippetLength
	for cut > 0 && !utf8.RuneStart(body[cut]) {
		cut--
	}
	return body[:cut] + "..."
}
