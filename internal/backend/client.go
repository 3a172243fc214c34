package backend

import (
	"context"
	"errors"

	"concourse/internal/protocol"
)

// ErrNotFound indicates the referenced thread or constitution does not exist
// on the backend.
var ErrNotFound = errors.New("not found")

// ModuleSelection is one constitution module resolved for a run, with the
// adherence level the agent should apply it at.
type ModuleSelection struct {
	ModuleID string `json:"module_id"`
	Level    int    `json:"level"`
}

// RunRequest describes one dispatch of a user message. ThreadID is empty when
// the run should open a new backend thread.
type RunRequest struct {
	ThreadID string            `json:"thread_id,omitempty"`
	Text     string            `json:"text"`
	Modules  []ModuleSelection `json:"modules"`
}

// SubmitResult is the backend's response to a constitution submission.
type SubmitResult struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// ConstitutionRef identifies a constitution document available on the backend.
type ConstitutionRef struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// EventStream yields the events of one run in arrival order. The channel
// closes after the terminal event, or early on transport failure. Close
// releases the underlying transport; pending events are discarded.
type EventStream interface {
	Events() <-chan protocol.RunEvent
	Close() error
}

// Client is the remote agent service. Implementations must honor context
// cancellation on every call; a canceled fetch or stream surfaces
// context.Canceled, which callers treat as a clean abort rather than a
// failure.
type Client interface {
	FetchHistory(ctx context.Context, threadID string) ([]protocol.Message, error)
	StartRun(ctx context.Context, req RunRequest) (EventStream, error)
	ListConstitutions(ctx context.Context) ([]ConstitutionRef, error)
	FetchConstitution(ctx context.Context, moduleID string) (string, error)
	SubmitConstitution(ctx context.Context, text, visibility string) (SubmitResult, error)
}
