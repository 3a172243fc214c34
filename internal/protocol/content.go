package protocol

import (
	"encoding/json"
	"fmt"
)

// ContentPart is one typed chunk of message content.
type ContentPart interface{ isPart() }

type TextContent struct {
	Text string `json:"text"`
}

func (TextContent) isPart()           {}
func (tc TextContent) String() string { return tc.Text }

// ToolOutput captures the result a pipeline tool node produced.
type ToolOutput struct {
	Name    string `json:"name"`
	Content string `json:"content"`
	IsError bool   `json:"is_error,omitempty"`
}

func (ToolOutput) isPart() {}

type wirePart struct {
	Kind    string `json:"kind"`
	Text    string `json:"text,omitempty"`
	Name    string `json:"name,omitempty"`
	Content string `json:"content,omitempty"`
	IsError bool   `json:"is_error,omitempty"`
}

// MarshalJSON encodes the message with kind-tagged content parts so histories
// survive a persistence or wire round-trip.
func (m Message) MarshalJSON() ([]byte, error) {
	parts := make([]wirePart, 0, len(m.Parts))
	for _, p := range m.Parts {
		switch v := p.(type) {
		case TextContent:
			parts = append(parts, wirePart{Kind: "text", Text: v.Text})
		case ToolOutput:
			parts = append(parts, wirePart{Kind: "tool_output", Name: v.Name, Content: v.Content, IsError: v.IsError})
		default:
			return nil, fmt.Errorf("unknown content part %T", p)
		}
	}
	type alias struct {
		ID        string     `json:"id"`
		Role      Role       `json:"role"`
		Node      string     `json:"node,omitempty"`
		Parts     []wirePart `json:"parts"`
		CreatedAt int64      `json:"created_at"`
	}
	return json.Marshal(alias{ID: m.ID, Role: m.Role, Node: m.Node, Parts: parts, CreatedAt: m.CreatedAt})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	type alias struct {
		ID        string     `json:"id"`
		Role      Role       `json:"role"`
		Node      string     `json:"node,omitempty"`
		Parts     []wirePart `json:"parts"`
		CreatedAt int64      `json:"created_at"`
	}
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	m.ID = a.ID
	m.Role = a.Role
	m.Node = a.Node
	m.CreatedAt = a.CreatedAt
	m.Parts = m.Parts[:0]
	for _, p := range a.Parts {
		switch p.Kind {
		case "text", "":
			m.Parts = append(m.Parts, TextContent{Text: p.Text})
		case "tool_output":
			m.Parts = append(m.Parts, ToolOutput{Name: p.Name, Content: p.Content, IsError: p.IsError})
		default:
			return fmt.Errorf("unknown content part kind %q", p.Kind)
		}
	}
	return nil
}
