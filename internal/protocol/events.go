package protocol

import (
	"encoding/json"
	"fmt"
)

// RunEvent is one item of a run's event stream. A stream yields zero or more
// message/delta events, at most one ThreadCreated event (only when the run
// opened a new backend thread), and exactly one terminal Done or Failed event.
type RunEvent interface{ isRunEvent() }

// MessageEvent carries a snapshot of an in-progress or completed message.
// Snapshots for the same message id supersede each other.
type MessageEvent struct {
	Message Message
}

// DeltaEvent appends streamed text to the message identified by MessageID.
type DeltaEvent struct {
	MessageID string
	Node      string
	Text      string
}

// ThreadCreatedEvent binds the run to its newly assigned backend thread id.
type ThreadCreatedEvent struct {
	ThreadID string
}

// DoneEvent terminates a successful run.
type DoneEvent struct{}

// FailedEvent terminates a failed run.
type FailedEvent struct {
	Reason string
}

func (MessageEvent) isRunEvent()       {}
func (DeltaEvent) isRunEvent()         {}
func (ThreadCreatedEvent) isRunEvent() {}
func (DoneEvent) isRunEvent()          {}
func (FailedEvent) isRunEvent()        {}

type wireEvent struct {
	Type      string   `json:"type"`
	Message   *Message `json:"message,omitempty"`
	MessageID string   `json:"message_id,omitempty"`
	Node      string   `json:"node,omitempty"`
	Text      string   `json:"text,omitempty"`
	ThreadID  string   `json:"thread_id,omitempty"`
	Reason    string   `json:"reason,omitempty"`
}

// DecodeRunEvent parses one newline-delimited JSON event from the run stream.
func DecodeRunEvent(data []byte) (RunEvent, error) {
	var w wireEvent
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("decode run event: %w", err)
	}
	switch w.Type {
	case "message":
		if w.Message == nil {
			return nil, fmt.Errorf("message event without message body")
		}
		return MessageEvent{Message: *w.Message}, nil
	case "delta":
		return DeltaEvent{MessageID: w.MessageID, Node: w.Node, Text: w.Text}, nil
	case "thread_created":
		if w.ThreadID == "" {
			return nil, fmt.Errorf("thread_created event without thread id")
		}
		return ThreadCreatedEvent{ThreadID: w.ThreadID}, nil
	case "done":
		return DoneEvent{}, nil
	case "failed":
		return FailedEvent{Reason: w.Reason}, nil
	default:
		return nil, fmt.Errorf("unknown run event type %q", w.Type)
	}
}

// EncodeRunEvent serializes an event for the wire. The daemon side of the
// contract uses it; tests use it to drive fake streams through the decoder.
func EncodeRunEvent(ev RunEvent) ([]byte, error) {
	var w wireEvent
	switch v := ev.(type) {
	case MessageEvent:
		msg := v.Message
		w = wireEvent{Type: "message", Message: &msg}
	case DeltaEvent:
		w = wireEvent{Type: "delta", MessageID: v.MessageID, Node: v.Node, Text: v.Text}
	case ThreadCreatedEvent:
		w = wireEvent{Type: "thread_created", ThreadID: v.ThreadID}
	case DoneEvent:
		w = wireEvent{Type: "done"}
	case FailedEvent:
		w = wireEvent{Type: "failed", Reason: v.Reason}
	default:
		return nil, fmt.Errorf("unknown run event %T", ev)
	}
	return json.Marshal(w)
}
