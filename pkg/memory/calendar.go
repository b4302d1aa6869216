package memory

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/diegosucaria/deedee-sub000/internal/tracing"
	gonanoid "github.com/matoous/go-nanoid/v2"
)

// Event is one entry of the local calendar.
type Event struct {
	ID       string    `json:"id"`
	Title    string    `json:"title"`
	Location string    `json:"location,omitempty"`
	Start    time.Time `json:"start"`
	End      time.Time `json:"end"`
}

// AddEvent stores an event. End defaults to one hour after Start.
func (s *Store) AddEvent(ctx context.Context, ev Event) (Event, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.memory", "memory.add_event")
	defer span.End()

	ev.Title = strings.TrimSpace(ev.Title)
	if ev.Title == "" {
		return Event{}, errors.New("event title is required")
	}
	if ev.Start.IsZero() {
		return Event{}, errors.New("event start is required")
	}
	if ev.End.IsZero() {
		ev.End = ev.Start.Add(time.Hour)
	}
	if ev.End.Before(ev.Start) {
		return Event{}, errors.New("event ends before it starts")
	}

	id, err := gonanoid.New(idLength)
	if err != nil {
		return Event{}, fmt.Errorf("failed to generate id: %w", err)
	}
	ev.ID = id

	_, err = s.db.ExecContext(ctx,
		"INSERT INTO events (id, title, location, start_at, end_at) VALUES (?, ?, ?, ?, ?)",
		ev.ID, ev.Title, ev.Location, ev.Start.UnixMilli(), ev.End.UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		return Event{}, fmt.Errorf("failed to store event: %w", err)
	}
	return ev, nil
}

// Events returns events overlapping [from, to), earliest first. Times come
// back in loc, or UTC when loc is nil.
func (s *Store) Events(ctx context.Context, from, to time.Time, loc *time.Location) ([]Event, error) {
	ctx, span := tracing.StartSpan(ctx, "deedee.memory", "memory.events")
	defer span.End()

	if loc == nil {
		loc = time.UTC
	}
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, title, location, start_at, end_at FROM events WHERE start_at < ? AND end_at > ? ORDER BY start_at, id",
		to.UnixMilli(), from.UnixMilli(),
	)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("failed to query events: %w", err)
	}
	defer rows.Close()

	events := []Event{}
	for rows.Next() {
		var ev Event
		var start, end int64
		if err := rows.Scan(&ev.ID, &ev.Title, &ev.Location, &start, &end); err != nil {
			return nil, err
		}
		ev.Start = time.UnixMilli(start).In(loc)
		ev.End = time.UnixMilli(end).In(loc)
		events = append(events, ev)
	}
	return events, rows.Err()
}
