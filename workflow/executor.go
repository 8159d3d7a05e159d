package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/internal/ctxkeys"
	"github.com/BaSui01/marginflow/types"
)

const instrumentationName = "github.com/BaSui01/marginflow/workflow"

// DefaultMaxSteps bounds the supersteps of one invocation.
const DefaultMaxSteps = 25

// Run outcomes reported to the Recorder.
const (
	OutcomeCompleted      = "completed"
	OutcomeFailed         = "failed"
	OutcomeBudgetExceeded = "budget_exceeded"
	OutcomeCancelled      = "cancelled"
)

// Recorder receives execution measurements. internal/metrics provides a
// Prometheus implementation.
type Recorder interface {
	RecordSuperstep(node NodeID, kind NodeKind, d time.Duration, err error)
	RecordRoute(from NodeID, decision Decision)
	RecordCheckpoint(d time.Duration, err error)
	RecordRun(outcome string, steps int)
}

type nopRecorder struct{}

func (nopRecorder) RecordSuperstep(NodeID, NodeKind, time.Duration, error) {}
func (nopRecorder) RecordRoute(NodeID, Decision)                           {}
func (nopRecorder) RecordCheckpoint(time.Duration, error)                  {}
func (nopRecorder) RecordRun(string, int)                                  {}

// Result is the outcome of one invocation.
type Result struct {
	ThreadID string          `json:"thread_id"`
	Messages []types.Message `json:"messages"`
	Last     types.Message   `json:"last"`
	Cursor   NodeID          `json:"cursor"`
	// Steps is the number of supersteps committed by this invocation.
	Steps   int `json:"steps"`
	Version int `json:"version"`
}

// ExecutorOption configures a GraphExecutor.
type ExecutorOption func(*GraphExecutor)

// WithMaxSteps sets the step budget per invocation.
func WithMaxSteps(n int) ExecutorOption {
	return func(e *GraphExecutor) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

// WithRecorder sets the metrics recorder.
func WithRecorder(r Recorder) ExecutorOption {
	return func(e *GraphExecutor) {
		if r != nil {
			e.recorder = r
		}
	}
}

// WithExecutorLogger sets the logger.
func WithExecutorLogger(logger *zap.Logger) ExecutorOption {
	return func(e *GraphExecutor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithTracer overrides the tracer taken from the global provider.
func WithTracer(tracer trace.Tracer) ExecutorOption {
	return func(e *GraphExecutor) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

// WithLockTimeout bounds how long an invocation waits for a busy thread.
func WithLockTimeout(d time.Duration) ExecutorOption {
	return func(e *GraphExecutor) {
		e.lockTimeout = d
	}
}

// GraphExecutor drives a Graph for many threads. Invocations of the same
// thread are serialized; distinct threads run in parallel.
type GraphExecutor struct {
	graph       *Graph
	store       Checkpointer
	locks       *threadLocks
	maxSteps    int
	lockTimeout time.Duration
	recorder    Recorder
	tracer      trace.Tracer
	logger      *zap.Logger
}

// NewGraphExecutor creates an executor for graph backed by store.
func NewGraphExecutor(graph *Graph, store Checkpointer, opts ...ExecutorOption) (*GraphExecutor, error) {
	if graph == nil {
		return nil, errors.New("graph cannot be nil")
	}
	if store == nil {
		return nil, errors.New("checkpointer cannot be nil")
	}
	e := &GraphExecutor{
		graph:    graph,
		store:    store,
		locks:    newThreadLocks(),
		maxSteps: DefaultMaxSteps,
		recorder: nopRecorder{},
		tracer:   otel.Tracer(instrumentationName),
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	e.logger = e.logger.With(zap.String("component", "graph_executor"), zap.String("graph", graph.Name()))
	return e, nil
}

// Graph returns the executed graph.
func (e *GraphExecutor) Graph() *Graph { return e.graph }

// Run starts or resumes a thread with a user message and returns the last
// message of the transcript.
func (e *GraphExecutor) Run(ctx context.Context, threadID, userMessage string) (types.Message, error) {
	var input []types.Message
	if userMessage != "" {
		input = append(input, types.NewUserMessage(userMessage))
	}
	res, err := e.Invoke(ctx, threadID, input...)
	if err != nil {
		return types.Message{}, err
	}
	return res.Last, nil
}

// Invoke runs a thread until it reaches Terminal, fails, or exhausts the step
// budget. An existing checkpoint is resumed; otherwise input seeds the thread.
// When the thread already finished, input is appended and the thread restarts
// at the entry node. Input given to an interrupted thread is ignored.
func (e *GraphExecutor) Invoke(ctx context.Context, threadID string, input ...types.Message) (*Result, error) {
	if threadID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "thread id is required")
	}

	release, err := e.lock(ctx, threadID)
	if err != nil {
		return nil, fmt.Errorf("acquire thread %s: %w", threadID, err)
	}
	defer release()

	ctx = ctxkeys.WithThreadID(ctx, threadID)
	ctx, span := e.tracer.Start(ctx, "workflow.invoke",
		trace.WithAttributes(
			attribute.String("workflow.graph", e.graph.Name()),
			attribute.String("workflow.thread_id", threadID),
		))
	defer span.End()

	logger := e.logger.With(zap.String("thread_id", threadID))

	res, outcome, err := e.run(ctx, logger, threadID, input)
	e.recorder.RecordRun(outcome, stepsOf(res))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Error("invocation failed", zap.String("outcome", outcome), zap.Error(err))
		return nil, err
	}
	span.SetAttributes(attribute.Int("workflow.steps", res.Steps), attribute.Int("workflow.version", res.Version))
	logger.Info("invocation completed",
		zap.Int("steps", res.Steps),
		zap.Int("version", res.Version),
		zap.String("cursor", string(res.Cursor)),
	)
	return res, nil
}

func (e *GraphExecutor) lock(ctx context.Context, threadID string) (func(), error) {
	if e.lockTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.lockTimeout)
		defer cancel()
	}
	return e.locks.acquire(ctx, threadID)
}

func (e *GraphExecutor) run(ctx context.Context, logger *zap.Logger, threadID string, input []types.Message) (*Result, string, error) {
	state, cursor, version, err := e.restore(ctx, logger, threadID, input)
	if err != nil {
		return nil, OutcomeFailed, err
	}

	res := &Result{ThreadID: threadID, Cursor: cursor, Version: version}
	for cursor != Terminal {
		if res.Steps >= e.maxSteps {
			return res, OutcomeBudgetExceeded, types.Errorf(types.ErrStepBudgetExceeded,
				"thread %s: step budget of %d exhausted at %s", threadID, e.maxSteps, cursor)
		}
		if err := ctx.Err(); err != nil {
			return res, OutcomeCancelled, err
		}

		next, err := e.superstep(ctx, logger, state, cursor)
		if err != nil {
			return res, outcomeOf(ctx), err
		}

		cp := &Checkpoint{
			ThreadID:  threadID,
			Messages:  state.Messages(),
			Cursor:    next,
			Version:   version + 1,
			UpdatedAt: types.Now(),
		}
		start := time.Now()
		err = e.store.Save(ctx, cp)
		e.recorder.RecordCheckpoint(time.Since(start), err)
		if err != nil {
			return res, outcomeOf(ctx), fmt.Errorf("persist checkpoint for %s at version %d: %w", threadID, cp.Version, err)
		}

		logger.Debug("superstep committed",
			zap.String("node", string(cursor)),
			zap.String("next", string(next)),
			zap.Int("version", cp.Version),
		)
		version = cp.Version
		cursor = next
		res.Steps++
		res.Cursor = cursor
		res.Version = version
	}

	res.Messages = state.Messages()
	if last, ok := state.Tail(); ok {
		res.Last = last
	}
	return res, OutcomeCompleted, nil
}

// restore loads the thread checkpoint or seeds a new thread.
func (e *GraphExecutor) restore(ctx context.Context, logger *zap.Logger, threadID string, input []types.Message) (*ConversationState, NodeID, int, error) {
	cp, err := e.store.Load(ctx, threadID)
	switch {
	case errors.Is(err, ErrCheckpointNotFound):
		if len(input) == 0 {
			return nil, "", 0, types.Errorf(types.ErrInvalidRequest, "thread %s has no checkpoint and no input", threadID)
		}
		state, err := NewConversationState(input...)
		if err != nil {
			return nil, "", 0, types.Errorf(types.ErrInvalidRequest, "invalid input for thread %s", threadID).WithCause(err)
		}
		logger.Info("starting new thread", zap.String("entry", string(e.graph.Entry())))
		return state, e.graph.Entry(), 0, nil
	case err != nil:
		return nil, "", 0, fmt.Errorf("load checkpoint for %s: %w", threadID, err)
	}

	if !e.graph.Has(cp.Cursor) {
		return nil, "", 0, types.Errorf(types.ErrCheckpointCorrupt, "thread %s: cursor %q is not a node of %s",
			threadID, cp.Cursor, e.graph.Name())
	}
	state, err := NewConversationState(cp.Messages...)
	if err != nil {
		return nil, "", 0, types.Errorf(types.ErrCheckpointCorrupt, "thread %s: stored transcript is invalid", threadID).WithCause(err)
	}

	cursor := cp.Cursor
	switch {
	case cursor == Terminal && len(input) > 0:
		if err := state.Append(input...); err != nil {
			return nil, "", 0, types.Errorf(types.ErrInvalidRequest, "invalid input for thread %s", threadID).WithCause(err)
		}
		cursor = e.graph.Entry()
		logger.Info("continuing finished thread", zap.Int("version", cp.Version))
	case cursor != Terminal && len(input) > 0:
		logger.Warn("thread was interrupted; resuming and ignoring new input",
			zap.String("cursor", string(cursor)),
			zap.Int("ignored", len(input)),
		)
	default:
		logger.Info("resuming thread", zap.String("cursor", string(cursor)), zap.Int("version", cp.Version))
	}
	return state, cursor, cp.Version, nil
}

// superstep invokes one node, appends its output and routes.
func (e *GraphExecutor) superstep(ctx context.Context, logger *zap.Logger, state *ConversationState, cursor NodeID) (NodeID, error) {
	node, ok := e.graph.Node(cursor)
	if !ok {
		return "", types.Errorf(types.ErrCheckpointCorrupt, "cursor %q has no node", cursor)
	}
	desc := node.Descriptor()

	ctx = ctxkeys.WithNode(ctx, string(cursor))
	ctx, span := e.tracer.Start(ctx, "workflow.superstep",
		trace.WithAttributes(
			attribute.String("workflow.node", string(cursor)),
			attribute.String("workflow.node_kind", string(desc.Kind)),
		))
	defer span.End()

	start := time.Now()
	out, err := node.Invoke(ctx, state.Messages())
	if err == nil {
		err = state.Append(out...)
	}
	if err == nil && desc.Kind == NodeKindTool {
		if pending := state.Pending(); len(pending) > 0 {
			err = types.Errorf(types.ErrInvalidTranscript,
				"tool node %s left calls unanswered: %s", cursor, strings.Join(pending, ", "))
		}
	}
	e.recorder.RecordSuperstep(cursor, desc.Kind, time.Since(start), err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("node %s: %w", cursor, err)
	}

	tail, ok := state.Tail()
	if !ok {
		return "", types.Errorf(types.ErrInvalidTranscript, "node %s left an empty transcript", cursor)
	}
	decision, err := e.graph.Next(cursor, tail)
	if err != nil {
		return "", err
	}
	e.recorder.RecordRoute(cursor, decision)
	if decision.Reason == ReasonAmbiguous {
		logger.Warn("ambiguous routing; handing off to peer",
			zap.String("code", string(types.ErrRoutingAmbiguous)),
			zap.String("node", string(cursor)),
			zap.String("role", string(tail.Role)),
			zap.String("next", string(decision.Next)),
		)
	}
	span.SetAttributes(
		attribute.String("workflow.next", string(decision.Next)),
		attribute.String("workflow.route_reason", string(decision.Reason)),
	)
	return decision.Next, nil
}

// Reset deletes the checkpoint of a thread.
func (e *GraphExecutor) Reset(ctx context.Context, threadID string) error {
	if threadID == "" {
		return types.NewError(types.ErrInvalidRequest, "thread id is required")
	}
	release, err := e.lock(ctx, threadID)
	if err != nil {
		return fmt.Errorf("acquire thread %s: %w", threadID, err)
	}
	defer release()

	if err := e.store.Delete(ctx, threadID); err != nil {
		return fmt.Errorf("reset thread %s: %w", threadID, err)
	}
	e.logger.Info("thread reset", zap.String("thread_id", threadID))
	return nil
}

// State returns the persisted checkpoint of a thread.
func (e *GraphExecutor) State(ctx context.Context, threadID string) (*Checkpoint, error) {
	if threadID == "" {
		return nil, types.NewError(types.ErrInvalidRequest, "thread id is required")
	}
	return e.store.Load(ctx, threadID)
}

func outcomeOf(ctx context.Context) string {
	if ctx.Err() != nil {
		return OutcomeCancelled
	}
	return OutcomeFailed
}

func stepsOf(res *Result) int {
	if res == nil {
		return 0
	}
	return res.Steps
}
