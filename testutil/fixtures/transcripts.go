// =============================================================================
// 📦 测试数据工厂 - 转录与检查点
// =============================================================================
// 提供合法的转录与检查点样例，用于存储一致性测试
// =============================================================================
package fixtures

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// fixedTime 让样例在 JSON 往返后逐字节一致
var fixedTime = time.Date(2025, 3, 1, 9, 30, 0, 0, time.UTC)

// EscalationTranscript 返回一段完整的升级对话
func EscalationTranscript() []types.Message {
	msgs := []types.Message{
		{Role: types.RoleUser, Content: "Investigate margin anomalies for the last 30 days. Escalate if total_loss exceeds 500."},
		{Role: types.RoleAgent, Name: "analyst", ToolCalls: []types.ToolCall{{
			ID: "call_a1", Name: "fetch_margin_anomalies", Arguments: json.RawMessage(`{"days":30,"min_loss":0}`),
		}}},
		{Role: types.RoleTool, Name: "fetch_margin_anomalies", ToolCallID: "call_a1",
			Content: `{"days":30,"min_loss":0,"count":2,"total_loss":550,"items":[{"sku":"A-101","loss":300,"qty":18,"category":"Apparel"},{"sku":"C-303","loss":250,"qty":10,"category":"Accessories"}]}`},
		{Role: types.RoleAgent, Name: "analyst", Content: "Summary: total_loss=550 exceeds 500. Finance, please decide."},
		{Role: types.RoleAgent, Name: "finance", ToolCalls: []types.ToolCall{{
			ID: "call_f1", Name: "raise_ticket", Arguments: json.RawMessage(`{"summary":"Margin loss of 550","severity":"medium"}`),
		}}},
		{Role: types.RoleTool, Name: "raise_ticket", ToolCallID: "call_f1",
			Content: `{"ticket_id":"TKT-1A2B3C","severity":"medium","summary":"Margin loss of 550"}`},
		{Role: types.RoleAgent, Name: "finance", Content: "FINAL: raised TKT-1A2B3C", Final: true},
	}
	for i := range msgs {
		msgs[i].Timestamp = fixedTime.Add(time.Duration(i) * time.Second)
	}
	return msgs
}

// Checkpoint 返回 thread 的第 version 个检查点，转录取升级对话的前 version+1 条
func Checkpoint(threadID string, version int) *workflow.Checkpoint {
	all := EscalationTranscript()
	n := version + 1
	if n > len(all) {
		n = len(all)
	}
	cursor := cursors[version%len(cursors)]
	if n == len(all) {
		cursor = workflow.Terminal
	}
	return &workflow.Checkpoint{
		ThreadID:  threadID,
		Messages:  all[:n],
		Cursor:    cursor,
		Version:   version,
		UpdatedAt: fixedTime.Add(time.Duration(version) * time.Minute),
	}
}

var cursors = []workflow.NodeID{"analyst", "analyst_tools", "analyst", "finance", "finance_tools", "finance"}

// ThreadIDs 返回 n 个互不相同的线程 ID
func ThreadIDs(prefix string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s-%d", prefix, i)
	}
	return out
}
