package agent

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// AgentNode sends the transcript to the reasoning service once per
// invocation and returns the reply as a single agent message.
type AgentNode struct {
	config   Config
	provider llm.Provider
	schemas  []types.ToolSchema
	logger   *zap.Logger
}

var _ workflow.Node = (*AgentNode)(nil)

// Name 返回 Agent 名称
func (a *AgentNode) Name() string { return a.config.Name }

// Config 返回配置副本
func (a *AgentNode) Config() Config {
	c := a.config
	c.Tools = append([]string(nil), a.config.Tools...)
	return c
}

// ToolSchemas 返回随每次请求发送的工具声明
func (a *AgentNode) ToolSchemas() []types.ToolSchema {
	return append([]types.ToolSchema(nil), a.schemas...)
}

func (a *AgentNode) Descriptor() workflow.NodeDescriptor {
	return workflow.NodeDescriptor{
		ID:           a.config.nodeID(),
		Kind:         workflow.NodeKindAgent,
		Role:         a.config.Role,
		Capabilities: append([]string(nil), a.config.Tools...),
	}
}

// Invoke implements workflow.Node.
func (a *AgentNode) Invoke(ctx context.Context, transcript []types.Message) ([]types.Message, error) {
	if a.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.config.Timeout)
		defer cancel()
	}

	req := &llm.ChatRequest{
		Model:       a.config.Model,
		Instruction: a.config.Instruction,
		Messages:    transcript,
		Tools:       a.schemas,
		Agent:       a.config.Name,
		MaxTokens:   a.config.MaxTokens,
		Temperature: a.config.Temperature,
		Timeout:     a.config.Timeout,
	}

	resp, err := a.provider.Completion(ctx, req)
	if err != nil {
		a.logger.Warn("completion failed", zap.Error(err))
		return nil, llm.InvocationError(a.provider.Name(), err)
	}
	choice, err := llm.FirstChoice(resp)
	if err != nil {
		return nil, llm.InvocationError(a.provider.Name(), err)
	}
	if llm.IsEmptyReply(choice) {
		return nil, types.Errorf(types.ErrModelInvocationFailed, "%s returned an empty reply", a.provider.Name()).
			WithProvider(a.provider.Name())
	}

	reply := a.normalize(choice.Message)
	a.logger.Debug("agent replied",
		zap.Int("tool_calls", len(reply.ToolCalls)),
		zap.Bool("final", reply.Final),
		zap.Int("prompt_tokens", resp.Usage.PromptTokens),
		zap.Int("completion_tokens", resp.Usage.CompletionTokens))
	return []types.Message{reply}, nil
}

// normalize 固定角色与署名，补齐缺失的调用 ID，并解析完成标记
func (a *AgentNode) normalize(m types.Message) types.Message {
	reply := types.NewAgentMessage(a.config.Name, m.Content)
	reply.Final = m.Final
	if len(m.ToolCalls) > 0 {
		calls := make([]types.ToolCall, len(m.ToolCalls))
		for i, c := range m.ToolCalls {
			calls[i] = c
			if c.ID == "" {
				calls[i].ID = "call_" + uuid.NewString()
			}
			if c.Arguments != nil {
				calls[i].Arguments = append([]byte(nil), c.Arguments...)
			}
		}
		reply.ToolCalls = calls
		return reply
	}
	if strings.Contains(reply.Content, a.config.sentinel()) {
		reply.Final = true
	}
	return reply
}
