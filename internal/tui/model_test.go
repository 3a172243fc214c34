package tui

import (
	"context"
	"testing"
	"time"

	"concourse/internal/backend"
	"concourse/internal/dispatch"
	"concourse/internal/history"
	"concourse/internal/protocol"
	"concourse/internal/session"
	"concourse/internal/threadcache"
	"concourse/internal/view"
)

type heldStream struct {
	ch chan protocol.RunEvent
}

func (s *heldStream) Events() <-chan protocol.RunEvent { return s.ch }
func (s *heldStream) Close() error                     { return nil }

// heldBackend never finishes a run on its own: each stream stays open until
// the caller's context is cancelled, so streaming state is fully under the
// test's control.
type heldBackend struct{}

func (heldBackend) StartRun(ctx context.Context, req backend.RunRequest) (backend.EventStream, error) {
	ch := make(chan protocol.RunEvent)
	go func() {
		defer close(ch)
		<-ctx.Done()
	}()
	return &heldStream{ch: ch}, nil
}

func (heldBackend) FetchHistory(ctx context.Context, threadID string) ([]protocol.Message, error) {
	return nil, nil
}

type modelFixture struct {
	model      *Model
	store      *session.Store
	cache      *threadcache.Cache
	dispatcher *dispatch.Dispatcher
	threadID   string
}

func newModelFixture(t *testing.T) *modelFixture {
	t.Helper()

	store, err := session.NewStore(nil)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(store.Shutdown)

	sess := store.CreateSession("first")
	cfgID, err := store.AddThreadConfig(sess.ID)
	if err != nil {
		t.Fatalf("AddThreadConfig: %v", err)
	}
	if err := store.BindThread(sess.ID, cfgID, "thr-1"); err != nil {
		t.Fatalf("BindThread: %v", err)
	}

	cache := threadcache.New()
	t.Cleanup(cache.Shutdown)

	client := heldBackend{}
	loader := history.NewLoader(cache, client)
	dispatcher := dispatch.NewDispatcher(cache, client)

	m := NewModel(Deps{
		Store:      store,
		Cache:      cache,
		Loader:     loader,
		Dispatcher: dispatcher,
		Pager:      view.New(loader, MinColumnWidth),
	})
	t.Cleanup(m.cancel)

	return &modelFixture{
		model:      m,
		store:      store,
		cache:      cache,
		dispatcher: dispatcher,
		threadID:   "thr-1",
	}
}

func (f *modelFixture) sendAndWaitStreaming(t *testing.T) {
	t.Helper()
	f.model.input.SetValue("compare approaches")
	f.model.send()
	if len(f.model.activeRuns) != 1 {
		t.Fatalf("active runs = %d, want 1", len(f.model.activeRuns))
	}
	if !f.dispatcher.IsStreaming(f.threadID) {
		t.Fatalf("%s not streaming after send", f.threadID)
	}
}

func (f *modelFixture) waitSettled(t *testing.T) {
	t.Helper()
	deadline := time.After(5 * time.Second)
	for f.dispatcher.IsStreaming(f.threadID) {
		select {
		case <-deadline:
			t.Fatalf("%s still streaming after session switch", f.threadID)
		case <-time.After(5 * time.Millisecond):
		}
	}
}

func TestCycleSessionAbortsActiveRuns(t *testing.T) {
	f := newModelFixture(t)
	f.store.CreateSession("second")

	f.sendAndWaitStreaming(t)
	f.model.cycleSession()
	f.waitSettled(t)

	if len(f.model.activeRuns) != 0 {
		t.Errorf("active runs = %d after switch, want 0", len(f.model.activeRuns))
	}
	entry, ok := f.cache.Get(f.threadID)
	if !ok {
		t.Fatal("cache entry vanished")
	}
	if entry.Err != "" {
		t.Errorf("aborted run left error %q, want clean stop", entry.Err)
	}
}

func TestNewSessionAbortsActiveRuns(t *testing.T) {
	f := newModelFixture(t)
	first := f.store.ActiveSessionID()

	f.sendAndWaitStreaming(t)
	f.model.newSession()
	f.waitSettled(t)

	if f.store.ActiveSessionID() == first {
		t.Error("active session did not change")
	}
	if len(f.model.activeRuns) != 0 {
		t.Errorf("active runs = %d after new session, want 0", len(f.model.activeRuns))
	}
}

func TestSessionSwitchRenewsFetchContext(t *testing.T) {
	f := newModelFixture(t)
	f.store.CreateSession("second")

	before := f.model.sessCtx
	f.model.cycleSession()

	if before.Err() == nil {
		t.Error("old session context not cancelled on switch")
	}
	if f.model.sessCtx.Err() != nil {
		t.Error("fresh session context already cancelled")
	}
}
