// MockProvider 与 ScriptedProvider 是推理服务的测试模拟实现。
//
// MockProvider 返回固定回复，支持错误注入与延迟；ScriptedProvider 按
// Agent 名称逐条回放预设回复，用于驱动整张图的端到端测试。
package mocks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/types"
)

// --- MockProvider 结构 ---

// MockProvider 是 llm.Provider 的固定回复模拟实现
type MockProvider struct {
	mu sync.Mutex

	response  string
	toolCalls []types.ToolCall
	final     bool
	err       error
	delay     time.Duration
	failAfter int

	completionFunc func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)

	calls []MockProviderCall
}

// MockProviderCall 记录单次调用
type MockProviderCall struct {
	Request  *llm.ChatRequest
	Response *llm.ChatResponse
	Error    error
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{response: "Mock response"}
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithToolCalls 设置工具调用响应
func (m *MockProvider) WithToolCalls(toolCalls []types.ToolCall) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolCalls = toolCalls
	return m
}

// WithFinal 设置结构化完成标志
func (m *MockProvider) WithFinal(final bool) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.final = final
	return m
}

// WithError 设置返回错误
func (m *MockProvider) WithError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithDelay 设置响应延迟，延迟期间尊重 ctx 取消
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailAfter 设置在第 N 次调用后失败
func (m *MockProvider) WithFailAfter(n int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithCompletionFunc 设置自定义 Completion 函数
func (m *MockProvider) WithCompletionFunc(fn func(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error)) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.completionFunc = fn
	return m
}

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	return "mock"
}

// Completion 生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	m.mu.Lock()
	delay := m.delay
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.failAfter > 0 && len(m.calls) >= m.failAfter {
		err := errors.New("mock provider: configured to fail after N calls")
		m.calls = append(m.calls, MockProviderCall{Request: req, Error: err})
		return nil, err
	}
	if m.err != nil {
		m.calls = append(m.calls, MockProviderCall{Request: req, Error: m.err})
		return nil, m.err
	}
	if m.completionFunc != nil {
		resp, err := m.completionFunc(ctx, req)
		m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp, Error: err})
		return resp, err
	}

	msg := types.Message{
		Role:      types.RoleAgent,
		Content:   m.response,
		ToolCalls: m.toolCalls,
		Final:     m.final,
	}
	resp := Respond(req, msg)
	m.calls = append(m.calls, MockProviderCall{Request: req, Response: resp})
	return resp, nil
}

// Calls 返回调用记录副本
func (m *MockProvider) Calls() []MockProviderCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]MockProviderCall(nil), m.calls...)
}

// CallCount 返回调用次数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// Respond 把一条回复包装成单 choice 的 ChatResponse
func Respond(req *llm.ChatRequest, msg types.Message) *llm.ChatResponse {
	finish := "stop"
	if msg.HasToolCalls() {
		finish = "tool_calls"
	}
	model := ""
	if req != nil {
		model = req.Model
	}
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: "mock",
		Model:    model,
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: finish,
			Message:      msg,
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     10,
			CompletionTokens: 20,
			TotalTokens:      30,
		},
		CreatedAt: types.Now(),
	}
}

// --- ScriptedProvider ---

// ErrScriptExhausted is returned once an agent has no scripted replies left.
var ErrScriptExhausted = errors.New("scripted provider: script exhausted")

// Step 是脚本中的一步：回复或错误
type Step struct {
	Reply types.Message
	Err   error
}

// Say 普通回复
func Say(content string) Step {
	return Step{Reply: types.Message{Role: types.RoleAgent, Content: content}}
}

// Final 结构化完成回复
func Final(content string) Step {
	return Step{Reply: types.Message{Role: types.RoleAgent, Content: content, Final: true}}
}

// CallTool 请求一次工具调用
func CallTool(id, name string, args any) Step {
	var raw json.RawMessage
	switch v := args.(type) {
	case nil:
	case string:
		raw = json.RawMessage(v)
	case json.RawMessage:
		raw = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			panic(err)
		}
		raw = data
	}
	return Step{Reply: types.Message{
		Role:      types.RoleAgent,
		ToolCalls: []types.ToolCall{{ID: id, Name: name, Arguments: raw}},
	}}
}

// Fail 注入推理服务错误
func Fail(err error) Step {
	return Step{Err: err}
}

// ScriptedProvider 按 ChatRequest.Agent 回放脚本
type ScriptedProvider struct {
	mu       sync.Mutex
	scripts  map[string][]Step
	requests []llm.ChatRequest
}

// NewScriptedProvider 创建空脚本的 ScriptedProvider
func NewScriptedProvider() *ScriptedProvider {
	return &ScriptedProvider{scripts: make(map[string][]Step)}
}

// On 为 agent 追加脚本步骤
func (p *ScriptedProvider) On(agent string, steps ...Step) *ScriptedProvider {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.scripts[agent] = append(p.scripts[agent], steps...)
	return p
}

func (p *ScriptedProvider) Name() string { return "scripted" }

// Completion 弹出 req.Agent 的下一步
func (p *ScriptedProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	snapshot := *req
	snapshot.Messages = types.CloneMessages(req.Messages)
	p.requests = append(p.requests, snapshot)

	queue := p.scripts[req.Agent]
	if len(queue) == 0 {
		return nil, fmt.Errorf("%w for agent %q", ErrScriptExhausted, req.Agent)
	}
	step := queue[0]
	p.scripts[req.Agent] = queue[1:]

	if step.Err != nil {
		return nil, step.Err
	}
	return Respond(req, step.Reply.Clone()), nil
}

// Requests 返回收到的请求快照
func (p *ScriptedProvider) Requests() []llm.ChatRequest {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]llm.ChatRequest(nil), p.requests...)
}

// CallsFor 返回 agent 的调用次数
func (p *ScriptedProvider) CallsFor(agent string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, r := range p.requests {
		if r.Agent == agent {
			n++
		}
	}
	return n
}

// Remaining 返回 agent 尚未消费的步骤数
func (p *ScriptedProvider) Remaining(agent string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.scripts[agent])
}
