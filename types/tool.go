package types

import (
	"encoding/json"
	"time"
)

// ToolSchema defines a tool's interface for function calling.
type ToolSchema struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolResult represents the result of a tool execution.
type ToolResult struct {
	ToolCallID string          `json:"tool_call_id"`
	Name       string          `json:"name"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      string          `json:"error,omitempty"`
	ErrorKind  ErrorCode       `json:"error_kind,omitempty"`
	Duration   time.Duration   `json:"duration"`
}

// ToMessage converts ToolResult to a transcript message.
func (tr ToolResult) ToMessage() Message {
	content := string(tr.Result)
	if tr.Error != "" {
		content = "Error: " + tr.Error
	}
	msg := NewToolMessage(tr.ToolCallID, tr.Name, content)
	msg.ErrorKind = tr.ErrorKind
	return msg
}

// IsError returns true if the tool execution failed.
func (tr ToolResult) IsError() bool {
	return tr.Error != ""
}
