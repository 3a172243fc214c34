// Package history lazily fetches thread history snapshots into the thread
// cache. Loads are idempotent per thread id, so any number of view
// components can reference the same thread without triggering duplicate
// fetches.
package history

import (
	"context"
	"errors"
	"strings"
	"sync"

	"concourse/internal/protocol"
	"concourse/internal/threadcache"
)

// Fetcher is the slice of the backend client the loader needs.
type Fetcher interface {
	FetchHistory(ctx context.Context, threadID string) ([]protocol.Message, error)
}

// Loader coordinates at-most-one in-flight fetch per thread id.
type Loader struct {
	cache  *threadcache.Cache
	client Fetcher

	mu       sync.Mutex
	inflight map[string]struct{}
	wg       sync.WaitGroup
}

func NewLoader(cache *threadcache.Cache, client Fetcher) *Loader {
	return &Loader{
		cache:    cache,
		client:   client,
		inflight: make(map[string]struct{}),
	}
}

// EnsureLoaded starts a history fetch for threadID unless the entry already
// has history, is already loading, or is currently streaming a run. It
// reports whether a fetch was started. The fetch runs asynchronously; its
// outcome lands in the thread cache:
//
//   - success: history merged, loading cleared
//   - failure: loading cleared, error recorded only if the entry still has
//     no history
//   - cancellation: loading cleared, no error
func (l *Loader) EnsureLoaded(ctx context.Context, threadID string) bool {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" {
		return false
	}

	l.mu.Lock()
	if _, busy := l.inflight[threadID]; busy {
		l.mu.Unlock()
		return false
	}
	if entry, ok := l.cache.Get(threadID); ok {
		if entry.HasHistory || entry.Loading || entry.Streaming {
			l.mu.Unlock()
			return false
		}
	}
	l.inflight[threadID] = struct{}{}
	l.mu.Unlock()

	l.cache.Update(threadID, threadcache.Patch{
		Loading: threadcache.Bool(true),
		Err:     threadcache.Str(""),
	})

	l.wg.Add(1)
	go l.fetch(ctx, threadID)
	return true
}

// Wait blocks until all in-flight fetches have settled. Tests and shutdown
// paths use it; normal operation never needs to.
func (l *Loader) Wait() {
	l.wg.Wait()
}

func (l *Loader) fetch(ctx context.Context, threadID string) {
	defer l.wg.Done()

	msgs, err := l.client.FetchHistory(ctx, threadID)

	l.mu.Lock()
	delete(l.inflight, threadID)
	l.mu.Unlock()

	switch {
	case err == nil:
		l.cache.MergeHistory(threadID, msgs)
		l.cache.FinishLoad(threadID, "")
	case errors.Is(err, context.Canceled):
		// Rapid thread switching aborts the fetch; not a failure.
		l.cache.FinishLoad(threadID, "")
	default:
		l.cache.FinishLoad(threadID, err.Error())
	}
}
