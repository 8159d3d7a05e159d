package llm

import (
	"context"
	"time"

	"github.com/BaSui01/marginflow/types"
)

// ChatRequest is one call to the reasoning service. Instruction carries the
// fixed role prompt; Messages carries the full transcript.
type ChatRequest struct {
	Model       string             `json:"model"`
	Instruction string             `json:"instruction,omitempty"`
	Messages    []types.Message    `json:"messages"`
	Tools       []types.ToolSchema `json:"tools,omitempty"`
	// Agent names the calling agent; offline providers use it to pick a policy.
	Agent       string        `json:"agent,omitempty"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Temperature float32       `json:"temperature,omitempty"`
	Timeout     time.Duration `json:"timeout,omitempty"`
}

type ChatUsage struct {
	PromptTokens     int `json:"prompt_tokens,omitempty"`
	CompletionTokens int `json:"completion_tokens,omitempty"`
	TotalTokens      int `json:"total_tokens,omitempty"`
}

type ChatChoice struct {
	Index        int           `json:"index"`
	FinishReason string        `json:"finish_reason,omitempty"`
	Message      types.Message `json:"message"`
}

type ChatResponse struct {
	ID        string       `json:"id,omitempty"`
	Provider  string       `json:"provider,omitempty"`
	Model     string       `json:"model"`
	Choices   []ChatChoice `json:"choices"`
	Usage     ChatUsage    `json:"usage,omitempty"`
	CreatedAt time.Time    `json:"created_at,omitempty"`
}

// Provider 定义了推理服务的统一接口。
// 工具调用通过 ChatRequest.Tools 声明，模型在响应中返回 ToolCalls，
// 工具的实际执行由 llm/tools 包负责。
type Provider interface {
	// Completion 发起同步聊天请求，返回完整响应
	Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

	// Name 返回 Provider 的唯一标识
	Name() string
}

// InvocationError wraps a provider failure as MODEL_INVOCATION_FAILED.
func InvocationError(provider string, err error) *types.Error {
	return types.Errorf(types.ErrModelInvocationFailed, "%s completion failed", provider).
		WithCause(err).
		WithProvider(provider).
		WithRetryable(true)
}
