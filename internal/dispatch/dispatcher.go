// Package dispatch starts backend runs and folds their event streams into
// the thread cache. Each run is an idle → streaming → idle/error state
// machine for exactly one thread id; fan-out submissions are N fully
// isolated runs.
package dispatch

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"concourse/internal/backend"
	"concourse/internal/protocol"
	"concourse/internal/session"
	"concourse/internal/threadcache"
)

// ErrBusy rejects a submission to a thread that already has a run in flight.
// Submissions are rejected, not queued.
var ErrBusy = errors.New("dispatch: thread already streaming")

const tempIDPrefix = "pending-"

// IsTempID reports whether id is a client-generated placeholder for a
// conversation the backend has not assigned a thread id to yet.
func IsTempID(id string) bool {
	return strings.HasPrefix(id, tempIDPrefix)
}

// RunStarter is the slice of the backend client the dispatcher needs.
type RunStarter interface {
	StartRun(ctx context.Context, req backend.RunRequest) (backend.EventStream, error)
}

// RunSpec names one run of a fan-out: which config it belongs to, the thread
// to continue (empty for a new conversation), and the resolved modules.
type RunSpec struct {
	ConfigID string
	ThreadID string
	Modules  []backend.ModuleSelection
}

// SpecForConfig resolves a thread config into the run it would dispatch.
func SpecForConfig(cfg session.ThreadConfig) RunSpec {
	spec := RunSpec{ConfigID: cfg.ID, ThreadID: cfg.BoundThreadID}
	for _, m := range cfg.Modules {
		spec.Modules = append(spec.Modules, backend.ModuleSelection{
			ModuleID: m.ModuleID,
			Level:    session.ClampLevel(m.Level),
		})
	}
	return spec
}

// Run is the handle for one in-flight run.
type Run struct {
	mu       sync.Mutex
	threadID string
	configID string
	cancel   context.CancelFunc
	done     chan struct{}
}

// ThreadID returns the run's current cache key. It starts as a temporary
// client id for new conversations and becomes the backend id after the
// thread-created rebind.
func (r *Run) ThreadID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.threadID
}

func (r *Run) ConfigID() string { return r.configID }

// Done closes when the run reached a terminal state.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel aborts the run. Messages already appended stay; the thread stops
// streaming without an error.
func (r *Run) Cancel() { r.cancel() }

func (r *Run) setThreadID(id string) {
	r.mu.Lock()
	r.threadID = id
	r.mu.Unlock()
}

// BindHook observes the temporary→backend thread id rebind, so the caller
// can point its config at the real thread.
type BindHook func(configID, tempID, threadID string)

// Dispatcher enforces single-flight per thread id and owns the fold from run
// events to cache mutations. Runs on different thread ids touch disjoint
// cache entries and never contend.
type Dispatcher struct {
	cache  *threadcache.Cache
	client RunStarter

	// OnThreadBound, when set, fires after a run's cache entry migrated
	// from its temporary id to the backend-assigned one.
	OnThreadBound BindHook

	mu     sync.Mutex
	active map[string]*Run
	wg     sync.WaitGroup
}

func NewDispatcher(cache *threadcache.Cache, client RunStarter) *Dispatcher {
	return &Dispatcher{
		cache:  cache,
		client: client,
		active: make(map[string]*Run),
	}
}

// Submit starts one run. The human message is appended optimistically before
// the backend is contacted: under a temporary id for new conversations,
// directly into the existing entry otherwise. A thread already streaming
// rejects the submission with ErrBusy.
func (d *Dispatcher) Submit(ctx context.Context, spec RunSpec, text string) (*Run, error) {
	threadID := strings.TrimSpace(spec.ThreadID)

	d.mu.Lock()
	if threadID == "" {
		threadID = tempIDPrefix + uuid.NewString()
	} else {
		if _, busy := d.active[threadID]; busy {
			d.mu.Unlock()
			return nil, ErrBusy
		}
		if entry, ok := d.cache.Get(threadID); ok && entry.Streaming {
			d.mu.Unlock()
			return nil, ErrBusy
		}
	}
	runCtx, cancel := context.WithCancel(ctx)
	r := &Run{
		threadID: threadID,
		configID: spec.ConfigID,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	d.active[threadID] = r
	d.mu.Unlock()

	d.cache.Append(threadID, protocol.NewHuman(text))
	d.cache.Update(threadID, threadcache.Patch{
		Streaming: threadcache.Bool(true),
		Err:       threadcache.Str(""),
	})

	req := backend.RunRequest{Text: text, Modules: spec.Modules}
	if !IsTempID(threadID) {
		req.ThreadID = threadID
	}
	stream, err := d.client.StartRun(runCtx, req)
	if err != nil {
		d.finish(r, errMessage(runCtx, err))
		return nil, err
	}

	d.wg.Add(1)
	go d.pump(runCtx, r, stream)
	return r, nil
}

// FanOutResult reports one run of a comparison submission.
type FanOutResult struct {
	ConfigID string
	Run      *Run
	Err      error
}

// FanOut dispatches one user message across every spec independently. One
// spec's failure neither cancels nor corrupts the others.
func (d *Dispatcher) FanOut(ctx context.Context, text string, specs []RunSpec) []FanOutResult {
	results := make([]FanOutResult, 0, len(specs))
	for _, spec := range specs {
		run, err := d.Submit(ctx, spec, text)
		results = append(results, FanOutResult{ConfigID: spec.ConfigID, Run: run, Err: err})
	}
	return results
}

// IsStreaming reports whether the thread currently has a run in flight.
func (d *Dispatcher) IsStreaming(threadID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.active[threadID]
	return ok
}

// Wait blocks until every in-flight run has settled.
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}

// pump folds the event stream into cache mutations. It is the only writer
// for its thread id while the run lives, so arrival order is append order.
func (d *Dispatcher) pump(ctx context.Context, r *Run, stream backend.EventStream) {
	defer d.wg.Done()
	defer stream.Close()

	for ev := range stream.Events() {
		threadID := r.ThreadID()
		switch v := ev.(type) {
		case protocol.MessageEvent:
			d.cache.Upsert(threadID, v.Message)
		case protocol.DeltaEvent:
			d.cache.AppendDelta(threadID, v.MessageID, v.Node, v.Text)
		case protocol.ThreadCreatedEvent:
			d.rebind(r, threadID, v.ThreadID)
		case protocol.DoneEvent:
			d.finish(r, "")
			return
		case protocol.FailedEvent:
			d.finish(r, v.Reason)
			return
		}
	}

	// Stream closed without a terminal event: a cancellation is clean,
	// anything else is a transport failure.
	if ctx.Err() != nil {
		d.finish(r, "")
		return
	}
	d.finish(r, "run stream ended unexpectedly")
}

// rebind migrates all cache state from the temporary id to the backend
// thread id as a single atomic re-key, then re-registers the run under the
// new id.
func (d *Dispatcher) rebind(r *Run, tempID, threadID string) {
	threadID = strings.TrimSpace(threadID)
	if threadID == "" || threadID == tempID {
		return
	}

	d.mu.Lock()
	delete(d.active, tempID)
	d.active[threadID] = r
	d.mu.Unlock()
	r.setThreadID(threadID)

	d.cache.Rekey(tempID, threadID)

	if d.OnThreadBound != nil {
		d.OnThreadBound(r.configID, tempID, threadID)
	}
}

// finish moves the run to its terminal state. Failure is additive: messages
// already appended stay put.
func (d *Dispatcher) finish(r *Run, errMsg string) {
	threadID := r.ThreadID()

	d.mu.Lock()
	if d.active[threadID] == r {
		delete(d.active, threadID)
	}
	d.mu.Unlock()

	patch := threadcache.Patch{Streaming: threadcache.Bool(false)}
	if errMsg != "" {
		patch.Err = threadcache.Str(errMsg)
	}
	d.cache.Update(threadID, patch)

	r.cancel()
	close(r.done)
}

func errMessage(ctx context.Context, err error) string {
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return ""
	}
	return err.Error()
}
