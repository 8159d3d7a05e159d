package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/BaSui01/marginflow/internal/ctxkeys"
	"github.com/BaSui01/marginflow/types"
)

// ToolExecutor defines tool executor interface. Failures never escape as Go
// errors; they are carried in the returned results.
type ToolExecutor interface {
	Execute(ctx context.Context, calls []types.ToolCall) []types.ToolResult
	ExecuteOne(ctx context.Context, call types.ToolCall) types.ToolResult
}

// Recorder receives one observation per executed call. ErrorKind is empty on
// success.
type Recorder interface {
	RecordToolCall(name string, errorKind types.ErrorCode, d time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) RecordToolCall(string, types.ErrorCode, time.Duration) {}

// ====== 实现：DefaultExecutor ======

type DefaultExecutor struct {
	registry ToolRegistry
	recorder Recorder
	logger   *zap.Logger
}

// NewDefaultExecutor 创建默认的工具执行器。
func NewDefaultExecutor(registry ToolRegistry, logger *zap.Logger) *DefaultExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultExecutor{
		registry: registry,
		recorder: nopRecorder{},
		logger:   logger.With(zap.String("component", "tool_executor")),
	}
}

// WithRecorder sets the metrics recorder.
func (e *DefaultExecutor) WithRecorder(r Recorder) *DefaultExecutor {
	if r != nil {
		e.recorder = r
	}
	return e
}

// Execute runs all calls concurrently. Results keep the order of calls.
func (e *DefaultExecutor) Execute(ctx context.Context, calls []types.ToolCall) []types.ToolResult {
	results := make([]types.ToolResult, len(calls))

	var g errgroup.Group
	for i, call := range calls {
		g.Go(func() error {
			results[i] = e.ExecuteOne(ctx, call)
			return nil
		})
	}
	_ = g.Wait()

	return results
}

func (e *DefaultExecutor) ExecuteOne(ctx context.Context, call types.ToolCall) types.ToolResult {
	start := time.Now()
	result := types.ToolResult{
		ToolCallID: call.ID,
		Name:       call.Name,
	}
	logger := e.logger.With(zap.String("tool", call.Name), zap.String("call_id", call.ID))
	if threadID, ok := ctxkeys.ThreadID(ctx); ok {
		logger = logger.With(zap.String("thread_id", threadID))
	}

	fail := func(kind types.ErrorCode, msg string) types.ToolResult {
		result.Error = msg
		result.ErrorKind = kind
		result.Duration = time.Since(start)
		e.recorder.RecordToolCall(call.Name, kind, result.Duration)
		logger.Warn("tool call failed", zap.String("error_kind", string(kind)), zap.String("error", msg))
		return result
	}

	// 1. 获取工具函数和元数据
	fn, meta, err := e.registry.Get(call.Name)
	if err != nil {
		return fail(types.ErrUnknownTool, fmt.Sprintf("unknown tool %q", call.Name))
	}

	// 2. 检查速率限制
	if err := e.registry.Allow(call.Name); err != nil {
		return fail(types.ErrToolExecutionFailed, errorMessage(err))
	}

	// 3. 参数校验（JSON Schema）
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if err := e.registry.Validate(call.Name, args); err != nil {
		return fail(types.ErrToolExecutionFailed, errorMessage(err))
	}

	// 4. 执行工具（带超时控制）
	execCtx, cancel := context.WithTimeout(ctx, meta.Timeout)
	defer cancel()

	type outcome struct {
		res json.RawMessage
		err error
	}
	// 使用带缓冲的 channel 防止 goroutine 泄漏
	doneChan := make(chan outcome, 1)

	go func() {
		var o outcome
		defer func() {
			if r := recover(); r != nil {
				o = outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
			doneChan <- o
		}()
		o.res, o.err = fn(execCtx, args)
	}()

	select {
	case done := <-doneChan:
		if done.err != nil {
			if execCtx.Err() != nil {
				return fail(types.ErrToolExecutionFailed, interrupted(ctx, execCtx, meta.Timeout))
			}
			return fail(types.ErrToolExecutionFailed, done.err.Error())
		}
		if len(done.res) == 0 || !json.Valid(done.res) {
			return fail(types.ErrToolExecutionFailed, "tool returned invalid JSON output")
		}
		result.Result = done.res
		result.Duration = time.Since(start)
		e.recorder.RecordToolCall(call.Name, "", result.Duration)
		logger.Info("tool executed successfully", zap.Duration("duration", result.Duration))
		return result

	case <-execCtx.Done():
		return fail(types.ErrToolExecutionFailed, interrupted(ctx, execCtx, meta.Timeout))
	}
}

func interrupted(parent, exec context.Context, timeout time.Duration) string {
	if errors.Is(exec.Err(), context.DeadlineExceeded) && parent.Err() == nil {
		return fmt.Sprintf("execution timeout after %s", timeout)
	}
	return fmt.Sprintf("execution cancelled: %v", parent.Err())
}

// errorMessage drops the code prefix of a typed error; the code travels in
// ErrorKind.
func errorMessage(err error) string {
	var te *types.Error
	if errors.As(err, &te) {
		if te.Cause != nil {
			return te.Message + ": " + te.Cause.Error()
		}
		return te.Message
	}
	return err.Error()
}
