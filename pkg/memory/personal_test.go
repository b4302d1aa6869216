package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvents(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	day := time.Date(2026, 5, 4, 0, 0, 0, 0, time.UTC)

	_, err := s.AddEvent(ctx, Event{Title: "Dentist", Start: day.Add(9 * time.Hour)})
	require.NoError(t, err)
	_, err = s.AddEvent(ctx, Event{Title: "Late call", Start: day.Add(23 * time.Hour), End: day.Add(25 * time.Hour)})
	require.NoError(t, err)
	_, err = s.AddEvent(ctx, Event{Title: "Next week", Start: day.Add(7 * 24 * time.Hour)})
	require.NoError(t, err)

	events, err := s.Events(ctx, day, day.Add(24*time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "Dentist", events[0].Title)
	assert.Equal(t, day.Add(10*time.Hour), events[0].End, "end defaults to one hour")
	assert.Equal(t, "Late call", events[1].Title)

	// overlapping from the previous day
	events, err = s.Events(ctx, day.Add(24*time.Hour), day.Add(48*time.Hour), nil)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "Late call", events[0].Title)
}

func TestAddEvent_Validation(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()
	now := time.Now()

	_, err := s.AddEvent(ctx, Event{Start: now})
	assert.Error(t, err)
	_, err = s.AddEvent(ctx, Event{Title: "x"})
	assert.Error(t, err)
	_, err = s.AddEvent(ctx, Event{Title: "x", Start: now, End: now.Add(-time.Minute)})
	assert.Error(t, err)
}

func TestMail(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.SaveMail(ctx, Mail{Folder: FolderInbox, From: "bank@example.com", Subject: "Statement ready", Body: "Your May statement"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	sent, err := s.SaveMail(ctx, Mail{Folder: FolderSent, From: "me@example.com", To: []string{"ana@example.com"}, Subject: "Dinner", Body: "Friday at 8?"})
	require.NoError(t, err)
	assert.NotEmpty(t, sent.ID)

	all, err := s.SearchMail(ctx, "", 10)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "Dinner", all[0].Subject)
	assert.Equal(t, []string{"ana@example.com"}, all[0].To)

	found, err := s.SearchMail(ctx, "MAY statement", 10)
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, FolderInbox, found[0].Folder)

	_, err = s.SaveMail(ctx, Mail{Folder: "spam", Subject: "x"})
	assert.Error(t, err)
	_, err = s.SaveMail(ctx, Mail{Folder: FolderSent})
	assert.Error(t, err)
}
