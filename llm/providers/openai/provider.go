package openai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	goopenai "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/internal/ctxkeys"
	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/types"
)

const (
	providerName = "openai"
	defaultModel = "gpt-4o-mini"
)

// Config OpenAI 兼容服务配置
type Config struct {
	APIKey       string
	BaseURL      string
	Organization string
	Model        string
	Timeout      time.Duration
}

// Provider 基于 go-openai 的推理服务实现，支持任意 OpenAI 兼容 BaseURL.
type Provider struct {
	client *goopenai.Client
	model  string
	logger *zap.Logger
}

// NewProvider 创建 OpenAI Provider.
func NewProvider(cfg Config, logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	clientCfg := goopenai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Organization != "" {
		clientCfg.OrgID = cfg.Organization
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	}
	model := cfg.Model
	if model == "" {
		model = defaultModel
	}
	return &Provider{
		client: goopenai.NewClientWithConfig(clientCfg),
		model:  model,
		logger: logger.With(zap.String("component", "openai_provider")),
	}
}

func (p *Provider) Name() string { return providerName }

// Completion 发起一次 Chat Completions 调用.
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if req == nil {
		return nil, types.NewError(types.ErrInvalidRequest, "nil chat request")
	}
	model := req.Model
	if m, ok := ctxkeys.LLMModel(ctx); ok {
		model = m
	}
	if model == "" {
		model = p.model
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	body := goopenai.ChatCompletionRequest{
		Model:       model,
		Messages:    toOpenAIMessages(req.Instruction, req.Messages),
		Tools:       toOpenAITools(req.Tools),
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, body)
	if err != nil {
		p.logger.Error("chat completion failed",
			zap.String("model", model),
			zap.String("agent", req.Agent),
			zap.Error(err))
		return nil, mapError(err)
	}
	p.logger.Debug("chat completion",
		zap.String("model", resp.Model),
		zap.String("agent", req.Agent),
		zap.Int("total_tokens", resp.Usage.TotalTokens),
		zap.Duration("latency", time.Since(start)))

	out := &llm.ChatResponse{
		ID:        resp.ID,
		Provider:  providerName,
		Model:     resp.Model,
		CreatedAt: time.Unix(resp.Created, 0).UTC(),
		Usage: llm.ChatUsage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	for _, c := range resp.Choices {
		out.Choices = append(out.Choices, llm.ChatChoice{
			Index:        c.Index,
			FinishReason: string(c.FinishReason),
			Message:      fromOpenAIMessage(req.Agent, c.Message),
		})
	}
	return out, nil
}

func mapError(err error) error {
	ie := llm.InvocationError(providerName, err)
	var apiErr *goopenai.APIError
	if errors.As(err, &apiErr) {
		status := apiErr.HTTPStatusCode
		ie.WithRetryable(status == http.StatusTooManyRequests || status >= http.StatusInternalServerError)
	}
	return ie
}

func toOpenAIMessages(instruction string, msgs []types.Message) []goopenai.ChatCompletionMessage {
	out := make([]goopenai.ChatCompletionMessage, 0, len(msgs)+1)
	if instruction != "" {
		out = append(out, goopenai.ChatCompletionMessage{
			Role:    goopenai.ChatMessageRoleSystem,
			Content: instruction,
		})
	}
	for _, m := range msgs {
		switch m.Role {
		case types.RoleUser:
			out = append(out, goopenai.ChatCompletionMessage{Role: goopenai.ChatMessageRoleUser, Content: m.Content})
		case types.RoleAgent:
			msg := goopenai.ChatCompletionMessage{
				Role:    goopenai.ChatMessageRoleAssistant,
				Content: m.Content,
				Name:    m.Name,
			}
			for _, c := range m.ToolCalls {
				msg.ToolCalls = append(msg.ToolCalls, goopenai.ToolCall{
					ID:   c.ID,
					Type: goopenai.ToolTypeFunction,
					Function: goopenai.FunctionCall{
						Name:      c.Name,
						Arguments: string(c.Arguments),
					},
				})
			}
			out = append(out, msg)
		case types.RoleTool:
			out = append(out, goopenai.ChatCompletionMessage{
				Role:       goopenai.ChatMessageRoleTool,
				Content:    m.Content,
				ToolCallID: m.ToolCallID,
			})
		}
	}
	return out
}

func toOpenAITools(schemas []types.ToolSchema) []goopenai.Tool {
	if len(schemas) == 0 {
		return nil
	}
	tools := make([]goopenai.Tool, 0, len(schemas))
	for _, s := range schemas {
		tools = append(tools, goopenai.Tool{
			Type: goopenai.ToolTypeFunction,
			Function: &goopenai.FunctionDefinition{
				Name:        s.Name,
				Description: s.Description,
				Parameters:  s.Parameters,
			},
		})
	}
	return tools
}

func fromOpenAIMessage(agent string, m goopenai.ChatCompletionMessage) types.Message {
	msg := types.NewAgentMessage(agent, m.Content)
	for _, c := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, types.ToolCall{
			ID:        c.ID,
			Name:      c.Function.Name,
			Arguments: rawArguments(c.Function.Arguments),
		})
	}
	return msg
}

// rawArguments keeps malformed model output as a JSON string so that it still
// persists and later fails schema validation instead of breaking encoding.
func rawArguments(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	if json.Valid([]byte(s)) {
		return json.RawMessage(s)
	}
	quoted, _ := json.Marshal(s)
	return quoted
}
