package agent

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/llm/tools"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// ToolNode answers every tool call of the transcript tail. Tool failures are
// returned as tool messages carrying an error kind, never as Go errors.
type ToolNode struct {
	id       workflow.NodeID
	role     string
	executor tools.ToolExecutor
	allowed  map[string]struct{}
	names    []string
	logger   *zap.Logger
}

var _ workflow.Node = (*ToolNode)(nil)

// NewToolNode 创建工具节点。capabilities 非空时，节点只执行其中列出的工具，
// 其余名称按 UNKNOWN_TOOL 应答。
func NewToolNode(id workflow.NodeID, executor tools.ToolExecutor, logger *zap.Logger, capabilities ...string) *ToolNode {
	if logger == nil {
		logger = zap.NewNop()
	}
	n := &ToolNode{
		id:       id,
		role:     "tools",
		executor: executor,
		names:    append([]string(nil), capabilities...),
		logger:   logger.With(zap.String("component", "tool_node"), zap.String("node", string(id))),
	}
	if len(capabilities) > 0 {
		n.allowed = make(map[string]struct{}, len(capabilities))
		for _, c := range capabilities {
			n.allowed[c] = struct{}{}
		}
	}
	return n
}

func (n *ToolNode) Descriptor() workflow.NodeDescriptor {
	return workflow.NodeDescriptor{
		ID:           n.id,
		Kind:         workflow.NodeKindTool,
		Role:         n.role,
		Capabilities: append([]string(nil), n.names...),
	}
}

// Call executes a single tool call and returns its result message.
func (n *ToolNode) Call(ctx context.Context, call types.ToolCall) types.Message {
	if !n.permits(call.Name) {
		return n.unknown(call)
	}
	return n.settle(n.executor.ExecuteOne(ctx, call)).ToMessage()
}

// Invoke implements workflow.Node.
func (n *ToolNode) Invoke(ctx context.Context, transcript []types.Message) ([]types.Message, error) {
	if len(transcript) == 0 || !transcript[len(transcript)-1].HasToolCalls() {
		return nil, types.Errorf(types.ErrInvalidTranscript, "%s invoked without pending tool calls", n.id)
	}
	calls := transcript[len(transcript)-1].ToolCalls

	out := make([]types.Message, len(calls))
	var runnable []types.ToolCall
	var slots []int
	for i, c := range calls {
		if !n.permits(c.Name) {
			out[i] = n.unknown(c)
			continue
		}
		runnable = append(runnable, c)
		slots = append(slots, i)
	}

	results := n.executor.Execute(ctx, runnable)
	// 中途取消的结果不可信，整步作废
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	for j, res := range results {
		out[slots[j]] = n.settle(res).ToMessage()
	}
	return out, nil
}

func (n *ToolNode) permits(name string) bool {
	if n.allowed == nil {
		return true
	}
	_, ok := n.allowed[name]
	return ok
}

func (n *ToolNode) unknown(call types.ToolCall) types.Message {
	n.logger.Warn("tool not available on this node",
		zap.String("tool", call.Name),
		zap.String("error_kind", string(types.ErrUnknownTool)))
	return types.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
		Error:      fmt.Sprintf("unknown tool %q", call.Name),
		ErrorKind:  types.ErrUnknownTool,
	}.ToMessage()
}

// settle 保证结果只带可恢复的错误类型。执行器给出的其他错误码降级为
// TOOL_EXECUTION_FAILED，原错误码保留在内容里。
func (n *ToolNode) settle(res types.ToolResult) types.ToolResult {
	if kind := res.ErrorKind; kind != "" && !kind.Recoverable() {
		n.logger.Warn("executor returned a non-recoverable error kind",
			zap.String("tool", res.Name),
			zap.String("error_kind", string(kind)))
		res.Error = fmt.Sprintf("%s: %s", kind, res.Error)
		res.ErrorKind = types.ErrToolExecutionFailed
	}
	// 失败已由执行器记录，这里只留调试轨迹
	n.logger.Debug("tool result",
		zap.String("tool", res.Name),
		zap.String("error_kind", string(res.ErrorKind)),
		zap.Duration("duration", res.Duration))
	return res
}
