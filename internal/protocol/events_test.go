package protocol

import (
	"strings"
	"testing"
)

func TestDecodeRunEventRoundTrip(t *testing.T) {
	msg := NewAgent("moderator", "partial answer")
	events := []RunEvent{
		MessageEvent{Message: msg},
		DeltaEvent{MessageID: msg.ID, Node: "moderator", Text: " continued"},
		ThreadCreatedEvent{ThreadID: "thr_42"},
		DoneEvent{},
		FailedEvent{Reason: "upstream timeout"},
	}

	for _, ev := range events {
		data, err := EncodeRunEvent(ev)
		if err != nil {
			t.Fatalf("EncodeRunEvent(%T): %v", ev, err)
		}
		back, err := DecodeRunEvent(data)
		if err != nil {
			t.Fatalf("DecodeRunEvent(%T): %v", ev, err)
		}
		switch want := ev.(type) {
		case MessageEvent:
			got, ok := back.(MessageEvent)
			if !ok {
				t.Fatalf("decoded %T, want MessageEvent", back)
			}
			if got.Message.ID != want.Message.ID || got.Message.Text() != want.Message.Text() {
				t.Errorf("message round-trip mismatch: %+v", got.Message)
			}
			if got.Message.Node != "moderator" {
				t.Errorf("node = %q, want moderator", got.Message.Node)
			}
		case ThreadCreatedEvent:
			if got := back.(ThreadCreatedEvent); got.ThreadID != want.ThreadID {
				t.Errorf("thread id = %q, want %q", got.ThreadID, want.ThreadID)
			}
		case FailedEvent:
			if got := back.(FailedEvent); got.Reason != want.Reason {
				t.Errorf("reason = %q, want %q", got.Reason, want.Reason)
			}
		}
	}
}

func TestDecodeRunEventRejectsMalformed(t *testing.T) {
	cases := map[string]string{
		"unknown type":           `{"type":"mystery"}`,
		"message without body":   `{"type":"message"}`,
		"thread without id":      `{"type":"thread_created"}`,
		"not json":               `{{{`,
	}
	for name, raw := range cases {
		if _, err := DecodeRunEvent([]byte(raw)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestMessageAppendText(t *testing.T) {
	m := NewAgent("drafter", "Hello")
	m.AppendText(", world")
	if got := m.Text(); got != "Hello, world" {
		t.Fatalf("Text() = %q", got)
	}
	if len(m.Parts) != 1 {
		t.Fatalf("AppendText grew parts to %d, want 1", len(m.Parts))
	}

	m.Parts = append(m.Parts, ToolOutput{Name: "search", Content: "ok"})
	m.AppendText("!")
	if len(m.Parts) != 3 {
		t.Fatalf("parts = %d, want text + tool output + text", len(m.Parts))
	}
	if !strings.HasSuffix(m.Text(), "!") {
		t.Errorf("Text() = %q, want trailing !", m.Text())
	}
}

func TestMessageJSONKeepsToolOutputs(t *testing.T) {
	m := NewAgent("executor", "ran tool")
	m.Parts = append(m.Parts, ToolOutput{Name: "lookup", Content: "result", IsError: true})

	data, err := m.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var back Message
	if err := back.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	outs := back.ToolOutputs()
	if len(outs) != 1 || outs[0].Name != "lookup" || !outs[0].IsError {
		t.Fatalf("tool outputs = %+v", outs)
	}
}
