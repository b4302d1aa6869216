package commandqueue

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDedupCache_Shutdown(t *testing.T) {
	cache := newDedupCache(context.Background(), 50*time.Millisecond)
	cache.Stop()

	select {
	case <-cache.done:
	case <-time.After(time.Second):
		t.Fatalf("dedup cache cleanup did not stop within timeout")
	}
}

func TestDedupCache_Expiry(t *testing.T) {
	cache := newDedupCache(context.Background(), 20*time.Millisecond)
	defer cache.Stop()

	_, call, owner := cache.begin("a")
	require.True(t, owner)
	cache.finish("a", call, taskResult{value: 1})

	cached, _, _ := cache.begin("a")
	require.NotNil(t, cached)
	assert.Equal(t, 1, cached.value)

	time.Sleep(30 * time.Millisecond)
	cached, _, owner = cache.begin("a")
	assert.Nil(t, cached)
	assert.True(t, owner)
	assert.Equal(t, 1, cache.Size())
}

func TestDedupCache_FailuresAreNotCached(t *testing.T) {
	cache := newDedupCache(context.Background(), time.Minute)
	defer cache.Stop()

	_, call, owner := cache.begin("a")
	require.True(t, owner)
	cache.finish("a", call, taskResult{err: errors.New("model down")})
	<-call.done
	assert.Error(t, call.result.err)

	cached, _, owner := cache.begin("a")
	assert.Nil(t, cached)
	assert.True(t, owner)
}
