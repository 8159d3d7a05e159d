package openai

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/types"
)

func TestProvider_Name(t *testing.T) {
	provider := NewProvider(Config{}, zap.NewNop())
	assert.Equal(t, "openai", provider.Name())
	assert.Equal(t, defaultModel, provider.model)
}

func TestProvider_CompletionRoundTrip(t *testing.T) {
	var got goopenai.ChatCompletionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(goopenai.ChatCompletionResponse{
			ID:      "chatcmpl-1",
			Model:   "gpt-4o-mini",
			Created: 1700000000,
			Choices: []goopenai.ChatCompletionChoice{{
				Index:        0,
				FinishReason: goopenai.FinishReasonToolCalls,
				Message: goopenai.ChatCompletionMessage{
					Role: goopenai.ChatMessageRoleAssistant,
					ToolCalls: []goopenai.ToolCall{{
						ID:   "call_abc",
						Type: goopenai.ToolTypeFunction,
						Function: goopenai.FunctionCall{
							Name:      "fetch_margin_anomalies",
							Arguments: `{"days":30,"min_loss":500}`,
						},
					}},
				},
			}},
			Usage: goopenai.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
		})
	}))
	defer srv.Close()

	p := NewProvider(Config{APIKey: "test-key", BaseURL: srv.URL + "/v1", Timeout: 5 * time.Second}, zap.NewNop())

	call := types.ToolCall{ID: "call_0", Name: "fetch_margin_anomalies", Arguments: json.RawMessage(`{}`)}
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Agent:       "Analyst",
		Instruction: "You are Analyst.",
		Messages: []types.Message{
			types.NewUserMessage("Investigate margin anomalies"),
			types.NewAgentMessage("Analyst", "").WithToolCalls([]types.ToolCall{call}),
			types.NewToolMessage("call_0", "fetch_margin_anomalies", `{"count":0}`),
		},
		Tools: []types.ToolSchema{{
			Name:        "fetch_margin_anomalies",
			Description: "query anomalies",
			Parameters:  json.RawMessage(`{"type":"object"}`),
		}},
	})
	require.NoError(t, err)

	require.Len(t, got.Messages, 4)
	assert.Equal(t, goopenai.ChatMessageRoleSystem, got.Messages[0].Role)
	assert.Equal(t, "You are Analyst.", got.Messages[0].Content)
	assert.Equal(t, goopenai.ChatMessageRoleAssistant, got.Messages[2].Role)
	assert.Equal(t, "call_0", got.Messages[2].ToolCalls[0].ID)
	assert.Equal(t, goopenai.ChatMessageRoleTool, got.Messages[3].Role)
	assert.Equal(t, "call_0", got.Messages[3].ToolCallID)
	require.Len(t, got.Tools, 1)
	assert.Equal(t, "fetch_margin_anomalies", got.Tools[0].Function.Name)
	assert.Equal(t, defaultModel, got.Model)

	choice, err := llm.FirstChoice(resp)
	require.NoError(t, err)
	assert.Equal(t, types.RoleAgent, choice.Message.Role)
	assert.Equal(t, "Analyst", choice.Message.Name)
	require.Len(t, choice.Message.ToolCalls, 1)
	assert.Equal(t, "call_abc", choice.Message.ToolCalls[0].ID)
	assert.JSONEq(t, `{"days":30,"min_loss":500}`, string(choice.Message.ToolCalls[0].Arguments))
	assert.Equal(t, 15, resp.Usage.TotalTokens)
	assert.Equal(t, "openai", resp.Provider)
}

func TestProvider_ServerErrorIsModelInvocationFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
	}))
	defer srv.Close()

	p := NewProvider(Config{APIKey: "k", BaseURL: srv.URL + "/v1"}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []types.Message{types.NewUserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrModelInvocationFailed))
	assert.True(t, types.IsRetryable(err))
}

func TestProvider_ClientErrorIsNotRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":{"message":"bad key","type":"invalid_request_error"}}`))
	}))
	defer srv.Close()

	p := NewProvider(Config{APIKey: "k", BaseURL: srv.URL + "/v1"}, nil)
	_, err := p.Completion(context.Background(), &llm.ChatRequest{Messages: []types.Message{types.NewUserMessage("hi")}})
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrModelInvocationFailed))
	assert.False(t, types.IsRetryable(err))
}

func TestRawArguments(t *testing.T) {
	assert.Nil(t, rawArguments(""))
	assert.Equal(t, `{"a":1}`, string(rawArguments(`{"a":1}`)))
	assert.Equal(t, `"{broken"`, string(rawArguments(`{broken`)))
}

func TestProvider_Integration(t *testing.T) {
	apiKey := os.Getenv("OPENAI_API_KEY")
	if apiKey == "" {
		t.Skip("OPENAI_API_KEY not set, skipping integration test")
	}

	p := NewProvider(Config{APIKey: apiKey, Timeout: 30 * time.Second}, zap.NewNop())
	resp, err := p.Completion(context.Background(), &llm.ChatRequest{
		Instruction: "Reply with the single word: pong",
		Messages:    []types.Message{types.NewUserMessage("ping")},
	})
	require.NoError(t, err)
	_, err = llm.FirstChoice(resp)
	require.NoError(t, err)
}
