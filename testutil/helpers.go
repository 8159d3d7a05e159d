// =============================================================================
// 🧪 测试辅助函数
// =============================================================================
// 提供通用的测试辅助函数和断言
//
// 使用方法:
//
//	ctx := testutil.TestContext(t)
//	testutil.AssertEventuallyTrue(t, func() bool { return condition }, 5*time.Second)
// =============================================================================
package testutil

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/marginflow/types"
)

// =============================================================================
// 🎯 上下文辅助
// =============================================================================

// TestContext 返回带超时的测试上下文
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// TestContextWithTimeout 返回带自定义超时的测试上下文
func TestContextWithTimeout(t *testing.T, timeout time.Duration) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	t.Cleanup(cancel)
	return ctx
}

// CancelledContext 返回已取消的上下文
func CancelledContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	return ctx
}

// =============================================================================
// 🔍 断言辅助
// =============================================================================

// AssertMessagesEqual 断言两个转录的角色、内容与 tool_call_id 一致
func AssertMessagesEqual(t *testing.T, expected, actual []types.Message) {
	t.Helper()

	if len(expected) != len(actual) {
		t.Errorf("message count mismatch: expected %d, got %d", len(expected), len(actual))
		return
	}

	for i := range expected {
		if expected[i].Role != actual[i].Role {
			t.Errorf("message[%d] role mismatch: expected %q, got %q", i, expected[i].Role, actual[i].Role)
		}
		if expected[i].Content != actual[i].Content {
			t.Errorf("message[%d] content mismatch: expected %q, got %q", i, expected[i].Content, actual[i].Content)
		}
		if expected[i].ToolCallID != actual[i].ToolCallID {
			t.Errorf("message[%d] tool_call_id mismatch: expected %q, got %q", i, expected[i].ToolCallID, actual[i].ToolCallID)
		}
	}
}

// AssertToolCallsEqual 断言两个工具调用切片相等
func AssertToolCallsEqual(t *testing.T, expected, actual []types.ToolCall) {
	t.Helper()

	if len(expected) != len(actual) {
		t.Errorf("tool call count mismatch: expected %d, got %d", len(expected), len(actual))
		return
	}

	for i := range expected {
		if expected[i].Name != actual[i].Name {
			t.Errorf("tool call[%d] name mismatch: expected %q, got %q", i, expected[i].Name, actual[i].Name)
		}
		if string(expected[i].Arguments) != string(actual[i].Arguments) {
			t.Errorf("tool call[%d] arguments mismatch: expected %s, got %s", i, expected[i].Arguments, actual[i].Arguments)
		}
	}
}

// AssertEventuallyTrue 断言条件最终为真
func AssertEventuallyTrue(t *testing.T, condition func() bool, timeout time.Duration) {
	t.Helper()

	if !WaitFor(condition, timeout) {
		t.Errorf("condition did not become true within %v", timeout)
	}
}

// AssertContains 断言字符串包含子串
func AssertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}

// =============================================================================
// ⏱️ 时间辅助
// =============================================================================

// WaitFor 等待条件满足或超时
func WaitFor(condition func() bool, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return true
		}
		time.Sleep(10 * time.Millisecond)
	}
	return false
}

// =============================================================================
// 🔧 转录辅助
// =============================================================================

// MustJSON 将值转换为 JSON，失败时 panic
func MustJSON(v any) json.RawMessage {
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return data
}

// ToolResults 返回转录中的全部工具结果消息
func ToolResults(transcript []types.Message) []types.Message {
	var out []types.Message
	for _, m := range transcript {
		if m.Role == types.RoleTool {
			out = append(out, m)
		}
	}
	return out
}

// CountAnswers 统计 callID 被回答的次数
func CountAnswers(transcript []types.Message, callID string) int {
	n := 0
	for _, m := range transcript {
		if m.Role == types.RoleTool && m.ToolCallID == callID {
			n++
		}
	}
	return n
}

// Speakers 按顺序返回转录中每条消息的发言者（agent/tool 取 Name，user 取 "user"）
func Speakers(transcript []types.Message) []string {
	out := make([]string, len(transcript))
	for i, m := range transcript {
		if m.Role == types.RoleUser {
			out[i] = string(types.RoleUser)
			continue
		}
		out[i] = m.Name
	}
	return out
}
