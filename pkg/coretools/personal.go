package coretools

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/diegosucaria/deedee-sub000/pkg/channels"
	"github.com/diegosucaria/deedee-sub000/pkg/toolexecutor"
)

// CalendarEvent is one entry on the user's calendar.
type CalendarEvent struct {
	ID       string    `json:"id,omitempty"`
	Title    string    `json:"title"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
	Location string    `json:"location,omitempty"`
}

// Calendar backs the calendar family.
type Calendar interface {
	ListEvents(ctx context.Context, from, to time.Time) ([]CalendarEvent, error)
	CreateEvent(ctx context.Context, event CalendarEvent) (CalendarEvent, error)
}

// Email is a message summary.
type Email struct {
	ID      string    `json:"id"`
	From    string    `json:"from"`
	Subject string    `json:"subject"`
	Snippet string    `json:"snippet"`
	Date    time.Time `json:"date"`
}

// Mailer backs the email family.
type Mailer interface {
	Search(ctx context.Context, query string, limit int) ([]Email, error)
	Send(ctx context.Context, to []string, subject, body string) error
}

type lookupAliasParams struct {
	Name string `json:"name"`
}

type listEventsParams struct {
	From string `json:"from"`
	Days int    `json:"days"`
}

type createEventParams struct {
	Title           string `json:"title"`
	Start           string `json:"start"`
	DurationMinutes int    `json:"duration_minutes"`
	Location        string `json:"location"`
}

type searchEmailParams struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type sendEmailParams struct {
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	Body    string   `json:"body"`
}

type sendMessageParams struct {
	Text string `json:"text"`
}

func aliasTools(aliases map[string]string) []toolexecutor.ToolDefinition {
	folded := make(map[string]string, len(aliases))
	names := make([]string, 0, len(aliases))
	for k, v := range aliases {
		folded[strings.ToLower(strings.TrimSpace(k))] = v
		names = append(names, k)
	}
	sort.Strings(names)

	return []toolexecutor.ToolDefinition{
		{
			Name:        "lookup_alias",
			Description: "Resolve a nickname the user uses (a person, place or account) to its full value",
			Family:      toolexecutor.FamilyAlias,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "name", Type: "string", Description: "The alias to resolve", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p lookupAliasParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				value, ok := folded[strings.ToLower(strings.TrimSpace(p.Name))]
				if !ok {
					return nil, fmt.Errorf("unknown alias %q; known aliases: %s", p.Name, strings.Join(names, ", "))
				}
				return map[string]interface{}{"alias": p.Name, "value": value}, nil
			},
		},
	}
}

func calendarTools(cal Calendar) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "list_events",
			Description: "List calendar events starting from a date",
			Family:      toolexecutor.FamilyCalendar,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "from", Type: "string", Description: "RFC 3339 start; defaults to now"},
				{Name: "days", Type: "integer", Description: "Number of days to cover", Default: 1},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p listEventsParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				from := time.Now()
				if p.From != "" {
					t, err := parseTime(p.From, time.Local)
					if err != nil {
						return nil, err
					}
					from = t
				}
				if p.Days <= 0 {
					p.Days = 1
				}
				events, err := cal.ListEvents(ctx, from, from.AddDate(0, 0, p.Days))
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"events": events, "count": len(events)}, nil
			},
		},
		{
			Name:        "create_event",
			Description: "Add an event to the calendar",
			Family:      toolexecutor.FamilyCalendar,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "title", Type: "string", Description: "Event title", Required: true},
				{Name: "start", Type: "string", Description: "RFC 3339 start time", Required: true},
				{Name: "duration_minutes", Type: "integer", Description: "Length of the event", Default: 60},
				{Name: "location", Type: "string", Description: "Where it happens"},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p createEventParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				start, err := parseTime(p.Start, time.Local)
				if err != nil {
					return nil, err
				}
				if p.DurationMinutes <= 0 {
					p.DurationMinutes = 60
				}
				return cal.CreateEvent(ctx, CalendarEvent{
					Title:    p.Title,
					Start:    start,
					End:      start.Add(time.Duration(p.DurationMinutes) * time.Minute),
					Location: p.Location,
				})
			},
		},
	}
}

func emailTools(mail Mailer) []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "search_email",
			Description: "Search the user's mailbox",
			Family:      toolexecutor.FamilyEmail,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "query", Type: "string", Description: "Search query", Required: true},
				{Name: "limit", Type: "integer", Description: "Maximum messages", Default: 10},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p searchEmailParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if p.Limit <= 0 {
					p.Limit = 10
				}
				emails, err := mail.Search(ctx, p.Query, p.Limit)
				if err != nil {
					return nil, err
				}
				return map[string]interface{}{"emails": emails, "count": len(emails)}, nil
			},
		},
		{
			Name:        "send_email",
			Description: "Send an email on the user's behalf",
			Family:      toolexecutor.FamilyEmail,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "to", Type: "array", Description: "Recipient addresses", Required: true},
				{Name: "subject", Type: "string", Description: "Subject line", Required: true},
				{Name: "body", Type: "string", Description: "Plain text body", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p sendEmailParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				if len(p.To) == 0 {
					return nil, fmt.Errorf("at least one recipient is required")
				}
				if err := mail.Send(ctx, p.To, p.Subject, p.Body); err != nil {
					return nil, err
				}
				return map[string]interface{}{"sent": true, "recipients": len(p.To)}, nil
			},
		},
	}
}

func messagingTools() []toolexecutor.ToolDefinition {
	return []toolexecutor.ToolDefinition{
		{
			Name:        "send_message",
			Description: "Send a message to the user right away, before the final answer",
			Family:      toolexecutor.FamilyMessaging,
			Parameters: []toolexecutor.ToolParameter{
				{Name: "text", Type: "string", Description: "Message text", Required: true},
			},
			Handler: func(ctx context.Context, params map[string]interface{}) (interface{}, error) {
				var p sendMessageParams
				if err := decodeParams(params, &p); err != nil {
					return nil, err
				}
				execCtx := toolexecutor.ExecContextFromContext(ctx)
				if err := execCtx.Deliver(ctx, channels.OutboundMessage{Kind: channels.KindTool, Text: p.Text}); err != nil {
					return nil, err
				}
				return map[string]interface{}{"sent": true}, nil
			},
		},
	}
}
