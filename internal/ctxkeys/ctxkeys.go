package ctxkeys

import "context"

// contextKey 用于在 context 中存储值的键类型
type contextKey string

const (
	threadIDKey contextKey = "thread_id"
	runIDKey    contextKey = "run_id"
	nodeKey     contextKey = "node"
	llmModelKey contextKey = "llm_model"
)

// WithThreadID 设置 ThreadID
func WithThreadID(ctx context.Context, threadID string) context.Context {
	return context.WithValue(ctx, threadIDKey, threadID)
}

// ThreadID 获取 ThreadID
func ThreadID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(threadIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithRunID 设置 RunID
func WithRunID(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runIDKey, runID)
}

// RunID 获取 RunID
func RunID(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(runIDKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithNode 设置当前执行的节点
func WithNode(ctx context.Context, node string) context.Context {
	return context.WithValue(ctx, nodeKey, node)
}

// Node 获取当前执行的节点
func Node(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(nodeKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

// WithLLMModel 设置 LLM 模型（用于覆盖默认模型）
func WithLLMModel(ctx context.Context, model string) context.Context {
	return context.WithValue(ctx, llmModelKey, model)
}

// LLMModel 获取 LLM 模型
func LLMModel(ctx context.Context) (string, bool) {
	v, ok := ctx.Value(llmModelKey).(string)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}
