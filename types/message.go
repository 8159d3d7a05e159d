package types

import (
	"encoding/json"
	"time"
)

// Role represents the role of a message participant.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
	RoleTool  Role = "tool"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAgent, RoleTool:
		return true
	}
	return false
}

// ToolCall represents a tool invocation request from an agent.
type ToolCall struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type toolCallJSON struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

// MarshalJSON encodes Arguments as a JSON string, the way the model emitted
// them, so spacing and <, >, & survive a round trip byte for byte.
func (c ToolCall) MarshalJSON() ([]byte, error) {
	out := toolCallJSON{ID: c.ID, Name: c.Name}
	if len(c.Arguments) > 0 {
		quoted, err := json.Marshal(string(c.Arguments))
		if err != nil {
			return nil, err
		}
		out.Arguments = quoted
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts string-encoded arguments and, for documents written
// before that encoding, a raw JSON value.
func (c *ToolCall) UnmarshalJSON(data []byte) error {
	var in toolCallJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	c.ID, c.Name, c.Arguments = in.ID, in.Name, nil

	switch {
	case len(in.Arguments) == 0 || string(in.Arguments) == "null":
	case in.Arguments[0] == '"':
		var s string
		if err := json.Unmarshal(in.Arguments, &s); err != nil {
			return err
		}
		if s != "" {
			c.Arguments = json.RawMessage(s)
		}
	default:
		c.Arguments = append(json.RawMessage(nil), in.Arguments...)
	}
	return nil
}

// Message represents one transcript entry.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content,omitempty"`
	Name       string     `json:"name,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	// ErrorKind is set on tool results that carry a recoverable failure.
	ErrorKind ErrorCode `json:"error_kind,omitempty"`
	// Final is the structured completion flag of an agent reply.
	Final     bool      `json:"is_final,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// Now returns the current time in UTC without the monotonic clock reading,
// so timestamps survive a JSON round-trip unchanged.
func Now() time.Time {
	return time.Now().UTC().Round(0)
}

// NewMessage creates a new message with the given role and content.
func NewMessage(role Role, content string) Message {
	return Message{
		Role:      role,
		Content:   content,
		Timestamp: Now(),
	}
}

// NewUserMessage creates a new user message.
func NewUserMessage(content string) Message {
	return NewMessage(RoleUser, content)
}

// NewAgentMessage creates a new agent message attributed to name.
func NewAgentMessage(name, content string) Message {
	m := NewMessage(RoleAgent, content)
	m.Name = name
	return m
}

// NewToolMessage creates a new tool result message.
func NewToolMessage(toolCallID, name, content string) Message {
	return Message{
		Role:       RoleTool,
		Content:    content,
		Name:       name,
		ToolCallID: toolCallID,
		Timestamp:  Now(),
	}
}

// WithToolCalls adds tool calls to the message.
func (m Message) WithToolCalls(calls []ToolCall) Message {
	m.ToolCalls = calls
	return m
}

// WithFinal marks the message as a completion.
func (m Message) WithFinal(final bool) Message {
	m.Final = final
	return m
}

// HasToolCalls reports whether the message requests at least one tool call.
func (m Message) HasToolCalls() bool {
	return len(m.ToolCalls) > 0
}

// IsToolError reports whether the message is a tool result carrying a failure.
func (m Message) IsToolError() bool {
	return m.Role == RoleTool && m.ErrorKind != ""
}

// Clone returns a deep copy of the message.
func (m Message) Clone() Message {
	if m.ToolCalls != nil {
		calls := make([]ToolCall, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			calls[i] = c
			if c.Arguments != nil {
				calls[i].Arguments = append(json.RawMessage(nil), c.Arguments...)
			}
		}
		m.ToolCalls = calls
	}
	return m
}

// CloneMessages deep-copies a transcript.
func CloneMessages(msgs []Message) []Message {
	if msgs == nil {
		return nil
	}
	out := make([]Message, len(msgs))
	for i, m := range msgs {
		out[i] = m.Clone()
	}
	return out
}
