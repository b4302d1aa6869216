package memory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func createTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "memory.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open("")
	assert.Error(t, err)
}

func TestRemember(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	fact, err := s.Remember(ctx, "  Ana is allergic to peanuts ", []string{"Family", "health", "family", " "})
	require.NoError(t, err)
	assert.Len(t, fact.ID, idLength)
	assert.Equal(t, "Ana is allergic to peanuts", fact.Content)
	assert.Equal(t, []string{"family", "health"}, fact.Tags)

	_, err = s.Remember(ctx, "   ", nil)
	assert.Error(t, err)

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestRecall(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	_, err := s.Remember(ctx, "Ana is allergic to peanuts", []string{"family"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Remember(ctx, "Car insurance renews in May", []string{"car"})
	require.NoError(t, err)
	time.Sleep(2 * time.Millisecond)
	_, err = s.Remember(ctx, "Ana prefers window seats", nil)
	require.NoError(t, err)

	tests := []struct {
		name  string
		query string
		limit int
		want  []string
	}{
		{name: "single term", query: "peanuts", want: []string{"Ana is allergic to peanuts"}},
		{name: "case insensitive newest first", query: "ANA", want: []string{"Ana prefers window seats", "Ana is allergic to peanuts"}},
		{name: "all terms must match", query: "ana window", want: []string{"Ana prefers window seats"}},
		{name: "matches tags", query: "family", want: []string{"Ana is allergic to peanuts"}},
		{name: "empty query lists recent", query: "", limit: 2, want: []string{"Ana prefers window seats", "Car insurance renews in May"}},
		{name: "wildcards are literal", query: "%", want: []string{}},
		{name: "no match", query: "zebra", want: []string{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			facts, err := s.Recall(ctx, tt.query, tt.limit)
			require.NoError(t, err)
			got := []string{}
			for _, f := range facts {
				got = append(got, f.Content)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestForget(t *testing.T) {
	s := createTestStore(t)
	ctx := context.Background()

	fact, err := s.Remember(ctx, "Gate code is 4411", nil)
	require.NoError(t, err)

	require.NoError(t, s.Forget(ctx, fact.ID))

	err = s.Forget(ctx, fact.ID)
	assert.True(t, errors.Is(err, ErrFactNotFound))

	facts, err := s.Recall(ctx, "gate", 0)
	require.NoError(t, err)
	assert.Empty(t, facts)
}

func TestStore_PersistsAcrossOpen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "memory.db")
	ctx := context.Background()

	s, err := Open(path)
	require.NoError(t, err)
	_, err = s.Remember(ctx, "Wifi password is on the fridge", []string{"home"})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path)
	require.NoError(t, err)
	defer s.Close()

	facts, err := s.Recall(ctx, "wifi", 5)
	require.NoError(t, err)
	require.Len(t, facts, 1)
	assert.Equal(t, []string{"home"}, facts[0].Tags)
}
