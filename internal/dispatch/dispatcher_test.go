package dispatch

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"concourse/internal/backend"
	"concourse/internal/protocol"
	"concourse/internal/session"
	"concourse/internal/threadcache"
)

type fakeStream struct {
	ch chan protocol.RunEvent
}

func (s *fakeStream) Events() <-chan protocol.RunEvent { return s.ch }
func (s *fakeStream) Close() error                     { return nil }

// fakeBackend scripts one event stream per StartRun call, keyed off the
// request, and replays it on its own goroutine like the real client does.
type fakeBackend struct {
	mu       sync.Mutex
	requests []backend.RunRequest
	events   func(req backend.RunRequest) []protocol.RunEvent
	startErr error
	hold     bool
}

func (b *fakeBackend) StartRun(ctx context.Context, req backend.RunRequest) (backend.EventStream, error) {
	b.mu.Lock()
	b.requests = append(b.requests, req)
	b.mu.Unlock()
	if b.startErr != nil {
		return nil, b.startErr
	}

	var evs []protocol.RunEvent
	if b.events != nil {
		evs = b.events(req)
	}
	ch := make(chan protocol.RunEvent)
	go func() {
		defer close(ch)
		for _, ev := range evs {
			select {
			case ch <- ev:
			case <-ctx.Done():
				return
			}
		}
		if b.hold {
			<-ctx.Done()
		}
	}()
	return &fakeStream{ch: ch}, nil
}

func (b *fakeBackend) requestCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.requests)
}

func waitDone(t *testing.T, r *Run) {
	t.Helper()
	select {
	case <-r.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("run did not settle")
	}
}

func TestSubmitFoldsStreamIntoCache(t *testing.T) {
	cache := threadcache.New()
	defer cache.Shutdown()

	agent := protocol.NewAgent("planner", "thinking")
	fb := &fakeBackend{events: func(backend.RunRequest) []protocol.RunEvent {
		return []protocol.RunEvent{
			protocol.MessageEvent{Message: agent},
			protocol.DeltaEvent{MessageID: agent.ID, Node: "planner", Text: " harder"},
			protocol.DoneEvent{},
		}
	}}
	d := NewDispatcher(cache, fb)

	run, err := d.Submit(context.Background(), RunSpec{ThreadID: "thr-1"}, "  hello  ")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	waitDone(t, run)

	entry, ok := cache.Get("thr-1")
	if !ok {
		t.Fatal("no cache entry for thr-1")
	}
	if entry.Streaming {
		t.Error("thread still marked streaming after terminal event")
	}
	if entry.Err != "" {
		t.Errorf("unexpected error: %q", entry.Err)
	}
	if len(entry.History) != 2 {
		t.Fatalf("history length = %d, want 2", len(entry.History))
	}
	if entry.History[0].Role != protocol.Human {
		t.Errorf("first message role = %q, want human", entry.History[0].Role)
	}
	if got := entry.History[1].Text(); got != "thinking harder" {
		t.Errorf("agent text = %q, want %q", got, "thinking harder")
	}
}

func TestSubmitNewConversationRebinds(t *testing.T) {
	cache := threadcache.New()
	defer cache.Shutdown()

	fb := &fakeBackend{events: func(backend.RunRequest) []protocol.RunEvent {
		return []protocol.RunEvent{
			protocol.ThreadCreatedEvent{ThreadID: "thr-real"},
			protocol.MessageEvent{Message: protocol.NewAgent("main", "hi")},
			protocol.DoneEvent{},
		}
	}}
	d := NewDispatcher(cache, fb)

	var bound struct {
		configID, tempID, threadID string
	}
	d.OnThreadBound = func(configID, tempID, threadID string) {
		bound.configID, bound.tempID, bound.threadID = configID, tempID, threadID
	}

	run, err := d.Submit(context.Background(), RunSpec{ConfigID: "cfg-a"}, "first message")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	tempID := run.ThreadID()
	if !IsTempID(tempID) {
		t.Fatalf("new conversation got non-temporary id %q", tempID)
	}
	waitDone(t, run)

	if run.ThreadID() != "thr-real" {
		t.Errorf("run thread id = %q, want thr-real", run.ThreadID())
	}
	if bound.configID != "cfg-a" || bound.tempID != tempID || bound.threadID != "thr-real" {
		t.Errorf("bind hook saw %+v", bound)
	}
	if _, ok := cache.Get(tempID); ok {
		t.Error("temporary entry survived the rebind")
	}
	entry, ok := cache.Get("thr-real")
	if !ok {
		t.Fatal("no entry under the backend thread id")
	}
	if len(entry.History) != 2 {
		t.Errorf("history length = %d, want 2", len(entry.History))
	}
	if entry.Streaming {
		t.Error("thread still streaming")
	}
	// The request for a new conversation must not carry the placeholder id.
	if got := fb.requests[0].ThreadID; got != "" {
		t.Errorf("request thread id = %q, want empty", got)
	}
}

func TestBusyThreadRejectsSecondRun(t *testing.T) {
	cache := threadcache.New()
	defer cache.Shutdown()

	fb := &fakeBackend{hold: true}
	d := NewDispatcher(cache, fb)

	run, err := d.Submit(context.Background(), RunSpec{ThreadID: "thr-1"}, "one")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	defer func() {
		run.Cancel()
		waitDone(t, run)
	}()

	if !d.IsStreaming("thr-1") {
		t.Fatal("thread not registered as streaming")
	}
	if _, err := d.Submit(context.Background(), RunSpec{ThreadID: "thr-1"}, "two"); !errors.Is(err, ErrBusy) {
		t.Errorf("second submit error = %v, want ErrBusy", err)
	}
	if got := fb.requestCount(); got != 1 {
		t.Errorf("backend saw %d requests, want 1", got)
	}
}

func TestCancelStopsCleanly(t *testing.T) {
	cache := threadcache.New()
	defer cache.Shutdown()

	fb := &fakeBackend{
		hold: true,
		events: func(backend.RunRequest) []protocol.RunEvent {
			return []protocol.RunEvent{protocol.MessageEvent{Message: protocol.NewAgent("main", "partial")}}
		},
	}
	d := NewDispatcher(cache, fb)

	run, err := d.Submit(context.Background(), RunSpec{ThreadID: "thr-1"}, "go")
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	run.Cancel()
	waitDone(t, run)

	entry, _ := cache.Get("thr-1")
	if entry.Streaming {
		t.Error("thread still streaming after cancel")
	}
	if entry.Err != "" {
		t.Errorf("cancellation surfaced as error: %q", entry.Err)
	}
	if len(entry.History) == 0 {
		t.Error("optimistic human message lost on cancel")
	}
}

func TestStartRunFailureSurfacesOnThread(t *testing.T) {
	cache := threadcache.New()
	defer cache.Shutdown()

	fb := &fakeBackend{startErr: errors.New("connection refused")}
	d := NewDispatcher(cache, fb)

	if _, err := d.Submit(context.Background(), RunSpec{ThreadID: "thr-1"}, "hi"); err == nil {
		t.Fatal("expected submit error")
	}

	entry, _ := cache.Get("thr-1")
	if entry.Streaming {
		t.Error("thread left streaming after start failure")
	}
	if entry.Err != "connection refused" {
		t.Errorf("entry err = %q", entry.Err)
	}
	if len(entry.History) != 1 {
		t.Errorf("history length = %d, want the optimistic human message", len(entry.History))
	}
	if d.IsStreaming("thr-1") {
		t.Error("failed run stayed registered")
	}
}

func TestFanOutIsolatesFailures(t *testing.T) {
	cache := threadcache.New()
	defer cache.Shutdown()

	fb := &fakeBackend{events: func(req backend.RunRequest) []protocol.RunEvent {
		if req.ThreadID == "thr-a" {
			return []protocol.RunEvent{
				protocol.MessageEvent{Message: protocol.NewAgent("main", "part")},
				protocol.FailedEvent{Reason: "model overloaded"},
			}
		}
		return []protocol.RunEvent{
			protocol.MessageEvent{Message: protocol.NewAgent("main", "full answer")},
			protocol.DoneEvent{},
		}
	}}
	d := NewDispatcher(cache, fb)

	specs := []RunSpec{
		{ConfigID: "cfg-a", ThreadID: "thr-a"},
		{ConfigID: "cfg-b", ThreadID: "thr-b"},
	}
	results := d.FanOut(context.Background(), "compare this", specs)
	if len(results) != 2 {
		t.Fatalf("got %d results", len(results))
	}
	for _, res := range results {
		if res.Err != nil {
			t.Fatalf("submit %s: %v", res.ConfigID, res.Err)
		}
		waitDone(t, res.Run)
	}

	a, _ := cache.Get("thr-a")
	if a.Err != "model overloaded" {
		t.Errorf("thread a err = %q", a.Err)
	}
	if len(a.History) != 2 {
		t.Errorf("thread a history = %d messages, want partial output kept", len(a.History))
	}
	b, _ := cache.Get("thr-b")
	if b.Err != "" {
		t.Errorf("thread b err = %q, want clean", b.Err)
	}
	if got := b.History[len(b.History)-1].Text(); got != "full answer" {
		t.Errorf("thread b answer = %q", got)
	}
	if a.Streaming || b.Streaming {
		t.Error("threads left streaming")
	}
}

func TestSpecForConfigClampsLevels(t *testing.T) {
	cfg := session.ThreadConfig{
		ID:            "cfg-1",
		BoundThreadID: "thr-9",
		Modules: []session.ConfiguredModule{
			{ModuleID: "honesty", Level: 9},
			{ModuleID: "brevity", Level: 0},
			{ModuleID: "rigor", Level: 4},
		},
	}
	spec := SpecForConfig(cfg)
	if spec.ThreadID != "thr-9" || spec.ConfigID != "cfg-1" {
		t.Fatalf("spec = %+v", spec)
	}
	want := []backend.ModuleSelection{
		{ModuleID: "honesty", Level: session.MaxLevel},
		{ModuleID: "brevity", Level: session.MinLevel},
		{ModuleID: "rigor", Level: 4},
	}
	for i, sel := range spec.Modules {
		if sel != want[i] {
			t.Errorf("module %d = %+v, want %+v", i, sel, want[i])
		}
	}
}
