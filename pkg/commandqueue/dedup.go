package commandqueue

import (
	"context"
	"sync"
	"time"
)

type dedupEntry struct {
	result    taskResult
	timestamp time.Time
}

// inflightCall is a request id whose task is queued or running. Duplicates
// arriving meanwhile wait on done and share its result.
type inflightCall struct {
	done   chan struct{}
	result taskResult
}

// dedupCache remembers successful task results by request id for ttl and
// tracks the ids still in flight.
type dedupCache struct {
	entries  map[string]*dedupEntry
	inflight map[string]*inflightCall
	ttl      time.Duration
	mu       sync.RWMutex
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

func newDedupCache(ctx context.Context, ttl time.Duration) *dedupCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	ctx, cancel := context.WithCancel(ctx)
	cache := &dedupCache{
		entries:  make(map[string]*dedupEntry),
		inflight: make(map[string]*inflightCall),
		ttl:      ttl,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go cache.cleanup(time.Minute)
	return cache
}

func (dc *dedupCache) Stop() {
	dc.cancel()
}

// begin claims requestID. It returns the cached result when one is fresh,
// otherwise the in-flight call and whether the caller owns it.
func (dc *dedupCache) begin(requestID string) (cached *taskResult, call *inflightCall, owner bool) {
	dc.mu.Lock()
	defer dc.mu.Unlock()

	if entry, ok := dc.entries[requestID]; ok && time.Since(entry.timestamp) <= dc.ttl {
		result := entry.result
		return &result, nil, false
	}
	if call, ok := dc.inflight[requestID]; ok {
		return nil, call, false
	}
	call = &inflightCall{done: make(chan struct{})}
	dc.inflight[requestID] = call
	return nil, call, true
}

// finish releases waiters on call. Only successes are cached so a
// redelivered failure runs again.
func (dc *dedupCache) finish(requestID string, call *inflightCall, result taskResult) {
	dc.mu.Lock()
	delete(dc.inflight, requestID)
	if result.err == nil {
		dc.entries[requestID] = &dedupEntry{result: result, timestamp: time.Now()}
	}
	dc.mu.Unlock()

	call.result = result
	close(call.done)
}

func (dc *dedupCache) cleanup(interval time.Duration) {
	defer close(dc.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-dc.ctx.Done():
			return
		case <-ticker.C:
			dc.mu.Lock()
			now := time.Now()
			for id, entry := range dc.entries {
				if now.Sub(entry.timestamp) > dc.ttl {
					delete(dc.entries, id)
				}
			}
			dc.mu.Unlock()
		}
	}
}

func (dc *dedupCache) Size() int {
	dc.mu.RLock()
	defer dc.mu.RUnlock()
	return len(dc.entries)
}
