// MockToolExecutor 是 tools.ToolExecutor 的测试模拟实现。
//
// 支持按工具名预设结果、错误注入与调用记录。
package mocks

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/BaSui01/marginflow/types"
)

// MockToolExecutor 按工具名返回预设结果；未预设的工具得到 UNKNOWN_TOOL
type MockToolExecutor struct {
	mu sync.Mutex

	results map[string]json.RawMessage
	errors  map[string]types.ErrorCode

	calls []types.ToolCall
}

// NewMockToolExecutor 创建新的 MockToolExecutor
func NewMockToolExecutor() *MockToolExecutor {
	return &MockToolExecutor{
		results: make(map[string]json.RawMessage),
		errors:  make(map[string]types.ErrorCode),
	}
}

// WithResult 设置工具的成功输出
func (m *MockToolExecutor) WithResult(name string, result json.RawMessage) *MockToolExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[name] = result
	return m
}

// WithFailure 设置工具的失败类型
func (m *MockToolExecutor) WithFailure(name string, kind types.ErrorCode) *MockToolExecutor {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[name] = kind
	return m
}

func (m *MockToolExecutor) Execute(ctx context.Context, calls []types.ToolCall) []types.ToolResult {
	out := make([]types.ToolResult, len(calls))
	for i, c := range calls {
		out[i] = m.ExecuteOne(ctx, c)
	}
	return out
}

func (m *MockToolExecutor) ExecuteOne(_ context.Context, call types.ToolCall) types.ToolResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls = append(m.calls, call)
	res := types.ToolResult{ToolCallID: call.ID, Name: call.Name}
	if kind, ok := m.errors[call.Name]; ok {
		res.Error = "mock failure"
		res.ErrorKind = kind
		return res
	}
	out, ok := m.results[call.Name]
	if !ok {
		res.Error = fmt.Sprintf("unknown tool %q", call.Name)
		res.ErrorKind = types.ErrUnknownTool
		return res
	}
	res.Result = append(json.RawMessage(nil), out...)
	return res
}

// Calls 返回调用记录副本
func (m *MockToolExecutor) Calls() []types.ToolCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.ToolCall(nil), m.calls...)
}
