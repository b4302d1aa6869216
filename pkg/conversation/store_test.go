package conversation

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return s
}

func TestStoreAppendAndLoad(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first, err := s.Append(ctx, "chat-1", NewTextMessage(RoleUser, "hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), first.Seq)
	assert.Equal(t, "chat-1", first.ChatID)
	assert.False(t, first.Timestamp.IsZero())

	call := Message{Role: RoleAssistant, Parts: []Part{{
		ToolCall:     &ToolCall{ID: "c1", Name: "remember_fact", Args: map[string]interface{}{"key": "color"}},
		Continuation: []byte{0x01, 0x02, 0xff},
	}}}
	second, err := s.Append(ctx, "chat-1", call)
	require.NoError(t, err)
	assert.Equal(t, int64(2), second.Seq)

	msgs, err := s.Load(ctx, "chat-1")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "hello", msgs[0].Text())
	require.Len(t, msgs[1].ToolCalls(), 1)
	assert.Equal(t, "remember_fact", msgs[1].ToolCalls()[0].Name)
	assert.Equal(t, []byte{0x01, 0x02, 0xff}, msgs[1].Parts[0].Continuation, "continuation bytes survive verbatim")
}

func TestStoreValidation(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, bad := range []string{"", "../etc", "a/b", "a\\b", "x\x00y"} {
		_, err := s.Append(ctx, bad, NewTextMessage(RoleUser, "hi"))
		assert.Error(t, err, "chat id %q", bad)
	}

	_, err := s.Append(ctx, "c", Message{Role: "system", Parts: []Part{TextPart("x")}})
	assert.Error(t, err)

	_, err = s.Append(ctx, "c", Message{Role: RoleUser})
	assert.Error(t, err)

	_, err = s.Append(ctx, "c", Message{Role: RoleUser, Parts: []Part{{ToolResult: &ToolResult{Name: "x"}}}})
	assert.Error(t, err)
}

func TestStoreEmptyFinalTextIsStorable(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Append(context.Background(), "c", NewTextMessage(RoleAssistant, ""))
	require.NoError(t, err)

	msgs, err := s.Load(context.Background(), "c")
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "", msgs[0].Text())
}

func TestStoreSequenceSurvivesRestart(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s1, err := NewStore(dir)
	require.NoError(t, err)
	for i := 0; i < 3; i++ {
		_, err := s1.Append(ctx, "c", NewTextMessage(RoleUser, "m"))
		require.NoError(t, err)
	}

	s2, err := NewStore(dir)
	require.NoError(t, err)
	seq, err := s2.LastSeq(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, int64(3), seq)

	m, err := s2.Append(ctx, "c", NewTextMessage(RoleUser, "m"))
	require.NoError(t, err)
	assert.Equal(t, int64(4), m.Seq)
}

func TestStoreRollbackAfter(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Append(ctx, "c", NewTextMessage(RoleUser, "earlier turn"))
	require.NoError(t, err)
	_, err = s.Append(ctx, "c", NewTextMessage(RoleAssistant, "earlier answer"))
	require.NoError(t, err)

	mark, err := s.LastSeq(ctx, "c")
	require.NoError(t, err)

	_, err = s.Append(ctx, "c", NewTextMessage(RoleUser, "failing turn"))
	require.NoError(t, err)
	_, err = s.Append(ctx, "c", Message{Role: RoleAssistant, Parts: []Part{{ToolCall: &ToolCall{Name: "x"}}}})
	require.NoError(t, err)

	removed, err := s.RollbackAfter(ctx, "c", mark)
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	msgs, err := s.Load(ctx, "c")
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "earlier answer", msgs[1].Text())

	next, err := s.Append(ctx, "c", NewTextMessage(RoleUser, "retry"))
	require.NoError(t, err)
	assert.Equal(t, mark+1, next.Seq)

	t.Run("no-op when nothing is newer", func(t *testing.T) {
		removed, err := s.RollbackAfter(ctx, "c", 100)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("rollback of an unknown chat", func(t *testing.T) {
		removed, err := s.RollbackAfter(ctx, "nobody", 0)
		require.NoError(t, err)
		assert.Zero(t, removed)
	})

	t.Run("no temp files left behind", func(t *testing.T) {
		tmps, err := filepath.Glob(filepath.Join(s.dir, "*.tmp"))
		require.NoError(t, err)
		assert.Empty(t, tmps)
	})
}

func TestStoreSkipsCorruptLines(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Append(ctx, "c", NewTextMessage(RoleUser, "ok"))
	require.NoError(t, err)

	f, err := os.OpenFile(s.path("c"), os.O_APPEND|os.O_WRONLY, 0600)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	msgs, err := s.Load(ctx, "c")
	require.NoError(t, err)
	assert.Len(t, msgs, 1)
}

func TestRecentWindow(t *testing.T) {
	msg := func(seq int64, role Role) Message { return Message{Seq: seq, Role: role} }
	history := []Message{
		msg(1, RoleUser),
		msg(2, RoleAssistant),
		msg(3, RoleToolResult),
		msg(4, RoleAssistant),
		msg(5, RoleUser),
		msg(6, RoleAssistant),
		msg(7, RoleToolResult),
		msg(8, RoleAssistant),
		msg(9, RoleToolResult),
	}
	seqs := func(ms []Message) []int64 {
		out := make([]int64, len(ms))
		for i, m := range ms {
			out[i] = m.Seq
		}
		return out
	}

	t.Run("limit larger than history", func(t *testing.T) {
		assert.Len(t, recentWindow(history, 50), 9)
	})

	t.Run("shrinks forward to a user message", func(t *testing.T) {
		assert.Equal(t, []int64{5, 6, 7, 8, 9}, seqs(recentWindow(history, 7)))
	})

	t.Run("grows backward when the window has no user message", func(t *testing.T) {
		assert.Equal(t, []int64{5, 6, 7, 8, 9}, seqs(recentWindow(history, 2)))
	})

	t.Run("zero limit means everything", func(t *testing.T) {
		assert.Len(t, recentWindow(history, 0), 9)
	})
}

func TestStoreConcurrentAppends(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.Append(ctx, "c", NewTextMessage(RoleUser, "m"))
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	msgs, err := s.Load(ctx, "c")
	require.NoError(t, err)
	require.Len(t, msgs, 20)
	seen := map[int64]bool{}
	for _, m := range msgs {
		seen[m.Seq] = true
	}
	assert.Len(t, seen, 20)
}

func TestStoreDeleteAndList(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	for _, id := range []string{"b", "a"} {
		_, err := s.Append(ctx, id, NewTextMessage(RoleUser, "hi"))
		require.NoError(t, err)
	}

	ids, err := s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, ids)

	require.NoError(t, s.Delete(ctx, "a"))
	require.NoError(t, s.Delete(ctx, "a"))

	ids, err = s.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)

	seq, err := s.LastSeq(ctx, "a")
	require.NoError(t, err)
	assert.Zero(t, seq)
}
