package agent

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/llm/tools"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// MockProvider 模拟推理服务
type MockProvider struct {
	mock.Mock
}

func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*llm.ChatResponse), args.Error(1)
}

func (m *MockProvider) Name() string {
	return "mock"
}

func reply(msg types.Message) *llm.ChatResponse {
	return &llm.ChatResponse{
		Provider: "mock",
		Choices:  []llm.ChatChoice{{Message: msg}},
	}
}

var lookupSchema = types.ToolSchema{
	Name:       "lookup",
	Parameters: json.RawMessage(`{"type":"object"}`),
}

func newTestAgent(t *testing.T, p llm.Provider, mutate ...func(*Config)) *AgentNode {
	t.Helper()
	cfg := Config{
		Name:        "analyst",
		Role:        "margin analyst",
		Instruction: "Investigate margins.",
		Model:       "test-model",
	}
	for _, m := range mutate {
		m(&cfg)
	}
	node, err := NewAgentBuilder(cfg).
		WithProvider(p).
		WithToolSchemas(lookupSchema).
		WithLogger(zaptest.NewLogger(t)).
		Build()
	require.NoError(t, err)
	return node
}

// ----------------------------------------------------------------------------
// Invoke
// ----------------------------------------------------------------------------

func TestAgentNode_SendsOneRequestWithInstructionTranscriptAndTools(t *testing.T) {
	p := new(MockProvider)
	transcript := []types.Message{types.NewUserMessage("check the last 30 days")}

	p.On("Completion", mock.Anything, mock.MatchedBy(func(req *llm.ChatRequest) bool {
		return req.Instruction == "Investigate margins." &&
			req.Agent == "analyst" &&
			req.Model == "test-model" &&
			len(req.Messages) == 1 &&
			len(req.Tools) == 1 && req.Tools[0].Name == "lookup"
	})).Return(reply(types.Message{Role: types.RoleAgent, Content: "looking"}), nil).Once()

	out, err := newTestAgent(t, p).Invoke(context.Background(), transcript)
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, types.RoleAgent, out[0].Role)
	assert.Equal(t, "analyst", out[0].Name)
	assert.Equal(t, "looking", out[0].Content)
	assert.False(t, out[0].Final)
	assert.False(t, out[0].Timestamp.IsZero())
	p.AssertExpectations(t)
}

func TestAgentNode_FinalDetection(t *testing.T) {
	tests := []struct {
		name  string
		msg   types.Message
		final bool
	}{
		{"sentinel in content", types.Message{Content: "FINAL: nothing to escalate"}, true},
		{"structured flag", types.Message{Content: "done", Final: true}, true},
		{"plain handoff", types.Message{Content: "Finance, please review"}, false},
		{"tool call wins over sentinel", types.Message{
			Content:   "FINAL: soon",
			ToolCalls: []types.ToolCall{{ID: "c1", Name: "lookup"}},
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockProvider)
			p.On("Completion", mock.Anything, mock.Anything).Return(reply(tt.msg), nil)

			out, err := newTestAgent(t, p).Invoke(context.Background(), nil)
			require.NoError(t, err)
			assert.Equal(t, tt.final, out[0].Final)
		})
	}
}

func TestAgentNode_CustomSentinel(t *testing.T) {
	p := new(MockProvider)
	p.On("Completion", mock.Anything, mock.Anything).
		Return(reply(types.Message{Content: "DONE. FINAL: is not the marker here"}), nil)

	node := newTestAgent(t, p, func(c *Config) { c.Sentinel = "DONE." })
	out, err := node.Invoke(context.Background(), nil)
	require.NoError(t, err)
	assert.True(t, out[0].Final)
}

func TestAgentNode_FillsMissingCallIDs(t *testing.T) {
	p := new(MockProvider)
	p.On("Completion", mock.Anything, mock.Anything).Return(reply(types.Message{
		ToolCalls: []types.ToolCall{{Name: "lookup"}, {ID: "keep", Name: "lookup"}},
	}), nil)

	out, err := newTestAgent(t, p).Invoke(context.Background(), nil)
	require.NoError(t, err)
	calls := out[0].ToolCalls
	require.Len(t, calls, 2)
	assert.NotEmpty(t, calls[0].ID)
	assert.Equal(t, "keep", calls[1].ID)
}

func TestAgentNode_Failures(t *testing.T) {
	tests := []struct {
		name string
		resp *llm.ChatResponse
		err  error
	}{
		{"provider error", nil, errors.New("503 upstream")},
		{"no choices", &llm.ChatResponse{}, nil},
		{"empty reply", reply(types.Message{}), nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := new(MockProvider)
			p.On("Completion", mock.Anything, mock.Anything).Return(tt.resp, tt.err)

			out, err := newTestAgent(t, p).Invoke(context.Background(), nil)
			assert.Nil(t, out)
			assert.True(t, types.IsCode(err, types.ErrModelInvocationFailed), "got %v", err)
			if tt.err != nil {
				assert.ErrorIs(t, err, tt.err)
				assert.True(t, types.IsRetryable(err))
			}
		})
	}
}

func TestAgentNode_TimeoutBoundsCompletion(t *testing.T) {
	p := new(MockProvider)
	p.On("Completion", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded)

	node := newTestAgent(t, p, func(c *Config) { c.Timeout = 20 * time.Millisecond })
	_, err := node.Invoke(context.Background(), nil)
	assert.True(t, types.IsCode(err, types.ErrModelInvocationFailed))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestAgentNode_Descriptor(t *testing.T) {
	node := newTestAgent(t, new(MockProvider), func(c *Config) { c.NodeID = "analyst_node" })
	d := node.Descriptor()
	assert.Equal(t, workflow.NodeID("analyst_node"), d.ID)
	assert.Equal(t, workflow.NodeKindAgent, d.Kind)
	assert.Equal(t, "margin analyst", d.Role)
	assert.Equal(t, []string{"lookup"}, d.Capabilities)
}

// ----------------------------------------------------------------------------
// Builder
// ----------------------------------------------------------------------------

func TestAgentBuilder_Validation(t *testing.T) {
	valid := Config{Name: "finance", Instruction: "Decide."}

	_, err := NewAgentBuilder(valid).Build()
	assert.ErrorIs(t, err, ErrProviderNotSet)

	_, err = NewAgentBuilder(Config{Instruction: "x"}).WithProvider(new(MockProvider)).Build()
	assert.ErrorIs(t, err, ErrConfigInvalid)

	_, err = NewAgentBuilder(Config{Name: "finance"}).WithProvider(new(MockProvider)).Build()
	assert.ErrorIs(t, err, ErrConfigInvalid)

	_, err = NewAgentBuilder(valid).WithProvider(nil).Build()
	assert.Error(t, err)

	_, err = NewAgentBuilder(Config{Name: "finance", Instruction: "Decide.", Tools: []string{"ghost"}}).
		WithProvider(new(MockProvider)).Build()
	assert.Error(t, err)
}

func TestAgentBuilder_ResolvesSchemasFromRegistry(t *testing.T) {
	reg := tools.NewDefaultRegistry(nil)
	require.NoError(t, reg.Register("raise", func(context.Context, json.RawMessage) (json.RawMessage, error) {
		return json.RawMessage(`{}`), nil
	}, tools.ToolMetadata{Schema: types.ToolSchema{Name: "raise", Parameters: json.RawMessage(`{"type":"object"}`)}}))

	node, err := NewAgentBuilder(Config{Name: "finance", Instruction: "Decide.", Tools: []string{"raise", "raise"}}).
		WithProvider(new(MockProvider)).
		WithToolRegistry(reg).
		Build()
	require.NoError(t, err)
	require.Len(t, node.ToolSchemas(), 1)
	assert.Equal(t, "raise", node.ToolSchemas()[0].Name)
	assert.Equal(t, []string{"raise"}, node.Config().Tools)

	_, err = NewAgentBuilder(Config{Name: "finance", Instruction: "Decide.", Tools: []string{"missing"}}).
		WithProvider(new(MockProvider)).
		WithToolRegistry(reg).
		Build()
	assert.ErrorIs(t, err, tools.ErrToolNotFound)
}
