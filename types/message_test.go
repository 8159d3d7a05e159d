package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMessage_Constructors(t *testing.T) {
	user := NewUserMessage("investigate")
	assert.Equal(t, RoleUser, user.Role)
	assert.False(t, user.Timestamp.IsZero())

	agent := NewAgentMessage("Analyst", "FINAL: nothing to report")
	assert.Equal(t, RoleAgent, agent.Role)
	assert.Equal(t, "Analyst", agent.Name)
	assert.False(t, agent.HasToolCalls())

	tool := NewToolMessage("call_1", "raise_ticket", `{"ticket_id":"TKT-ABC123"}`)
	assert.Equal(t, RoleTool, tool.Role)
	assert.Equal(t, "call_1", tool.ToolCallID)
	assert.False(t, tool.IsToolError())
}

func TestMessage_CloneIsDeep(t *testing.T) {
	orig := NewAgentMessage("Analyst", "").WithToolCalls([]ToolCall{
		{ID: "call_1", Name: "fetch_margin_anomalies", Arguments: json.RawMessage(`{"days":30}`)},
	})

	cp := orig.Clone()
	cp.ToolCalls[0].Name = "mutated"
	cp.ToolCalls[0].Arguments[2] = 'X'

	assert.Equal(t, "fetch_margin_anomalies", orig.ToolCalls[0].Name)
	assert.Equal(t, `{"days":30}`, string(orig.ToolCalls[0].Arguments))
}

func TestMessage_JSONRoundTrip(t *testing.T) {
	orig := NewAgentMessage("Finance", "FINAL: raised").WithFinal(true)

	data, err := json.Marshal(orig)
	require.NoError(t, err)

	var decoded Message
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, orig, decoded)
}

func TestToolCall_JSONKeepsArgumentBytes(t *testing.T) {
	tests := []struct {
		name string
		args string
	}{
		{"compact", `{"days":30}`},
		{"spaced", `{"summary": "loss > 500 & rising", "severity": "high"}`},
		{"multiline", "{\n  \"days\": 7\n}"},
		{"quoted garbage", `"not json"`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orig := ToolCall{ID: "call_1", Name: "raise_ticket", Arguments: json.RawMessage(tt.args)}

			data, err := json.Marshal(orig)
			require.NoError(t, err)

			var decoded ToolCall
			require.NoError(t, json.Unmarshal(data, &decoded))
			assert.Equal(t, orig, decoded)
		})
	}
}

func TestToolCall_UnmarshalRawArguments(t *testing.T) {
	var c ToolCall
	require.NoError(t, json.Unmarshal([]byte(`{"id":"c1","name":"t","arguments":{"days":30}}`), &c))
	assert.Equal(t, `{"days":30}`, string(c.Arguments))

	require.NoError(t, json.Unmarshal([]byte(`{"id":"c2","name":"t"}`), &c))
	assert.Equal(t, "c2", c.ID)
	assert.Nil(t, c.Arguments)
}

func TestToolResult_ToMessage(t *testing.T) {
	ok := ToolResult{ToolCallID: "c1", Name: "t", Result: json.RawMessage(`{"count":2}`)}
	msg := ok.ToMessage()
	assert.Equal(t, `{"count":2}`, msg.Content)
	assert.Empty(t, msg.ErrorKind)

	failed := ToolResult{ToolCallID: "c2", Name: "nope", Error: "tool not found: nope", ErrorKind: ErrUnknownTool}
	msg = failed.ToMessage()
	assert.Equal(t, "Error: tool not found: nope", msg.Content)
	assert.Equal(t, ErrUnknownTool, msg.ErrorKind)
	assert.True(t, msg.IsToolError())
	assert.Equal(t, "c2", msg.ToolCallID)
}

func TestRole_Valid(t *testing.T) {
	assert.True(t, RoleUser.Valid())
	assert.True(t, RoleAgent.Valid())
	assert.True(t, RoleTool.Valid())
	assert.False(t, Role("system").Valid())
}
