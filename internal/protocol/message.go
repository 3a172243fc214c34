package protocol

import (
	"time"

	"github.com/google/uuid"
)

// Role identifies who authored a message.
type Role string

const (
	Human      Role = "human"
	Agent      Role = "agent"
	ToolResult Role = "tool_result"
	System     Role = "system"
)

// Message is one entry in a thread's history. Agent and tool-result messages
// carry the name of the pipeline node that produced them.
type Message struct {
	ID        string        `json:"id"`
	Role      Role          `json:"role"`
	Node      string        `json:"node,omitempty"`
	Parts     []ContentPart `json:"parts"`
	CreatedAt int64         `json:"created_at"`
}

func NewHuman(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      Human,
		Parts:     []ContentPart{TextContent{Text: text}},
		CreatedAt: time.Now().Unix(),
	}
}

func NewAgent(node, text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      Agent,
		Node:      node,
		Parts:     []ContentPart{TextContent{Text: text}},
		CreatedAt: time.Now().Unix(),
	}
}

func NewSystem(text string) Message {
	return Message{
		ID:        uuid.NewString(),
		Role:      System,
		Parts:     []ContentPart{TextContent{Text: text}},
		CreatedAt: time.Now().Unix(),
	}
}

// Text returns the concatenated text content of the message.
func (m *Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if t, ok := p.(TextContent); ok {
			out += t.Text
		}
	}
	return out
}

// ToolOutputs returns the tool output parts carried by the message.
func (m *Message) ToolOutputs() []ToolOutput {
	var out []ToolOutput
	for _, p := range m.Parts {
		if t, ok := p.(ToolOutput); ok {
			out = append(out, t)
		}
	}
	return out
}

// AppendText grows the trailing text part, creating one if needed. Streamed
// deltas for an in-progress message land here.
func (m *Message) AppendText(delta string) {
	if delta == "" {
		return
	}
	if n := len(m.Parts); n > 0 {
		if t, ok := m.Parts[n-1].(TextContent); ok {
			t.Text += delta
			m.Parts[n-1] = t
			return
		}
	}
	m.Parts = append(m.Parts, TextContent{Text: delta})
}
