package workflow

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/marginflow/types"
)

// ---------------------------------------------------------------------------
// Test helpers
// ---------------------------------------------------------------------------

// scriptedAgent replays a fixed list of replies, one per invocation.
type scriptedAgent struct {
	id      NodeID
	name    string
	mu      sync.Mutex
	replies []func(transcript []types.Message) (types.Message, error)
	calls   atomic.Int32
}

func (a *scriptedAgent) Descriptor() NodeDescriptor {
	return NodeDescriptor{ID: a.id, Kind: NodeKindAgent, Role: a.name}
}

func (a *scriptedAgent) Invoke(ctx context.Context, transcript []types.Message) ([]types.Message, error) {
	n := int(a.calls.Add(1)) - 1
	a.mu.Lock()
	defer a.mu.Unlock()
	if n >= len(a.replies) {
		return []types.Message{types.NewAgentMessage(a.name, "still thinking")}, nil
	}
	m, err := a.replies[n](transcript)
	if err != nil {
		return nil, err
	}
	return []types.Message{m}, nil
}

func reply(m types.Message) func([]types.Message) (types.Message, error) {
	return func([]types.Message) (types.Message, error) { return m, nil }
}

func fail(err error) func([]types.Message) (types.Message, error) {
	return func([]types.Message) (types.Message, error) { return types.Message{}, err }
}

// echoTools answers every tool call of the tail message with "ok". With
// firstOnly set it answers only the first one.
type echoTools struct {
	id        NodeID
	calls     atomic.Int32
	err       atomic.Pointer[error]
	firstOnly atomic.Bool
}

func (e *echoTools) Descriptor() NodeDescriptor {
	return NodeDescriptor{ID: e.id, Kind: NodeKindTool}
}

func (e *echoTools) Invoke(ctx context.Context, transcript []types.Message) ([]types.Message, error) {
	e.calls.Add(1)
	if p := e.err.Load(); p != nil {
		return nil, *p
	}
	tail := transcript[len(transcript)-1]
	var out []types.Message
	for _, c := range tail.ToolCalls {
		out = append(out, types.NewToolMessage(c.ID, c.Name, `{"ok":true}`))
		if e.firstOnly.Load() {
			break
		}
	}
	return out, nil
}

type fixture struct {
	analyst      *scriptedAgent
	finance      *scriptedAgent
	analystTools *echoTools
	financeTools *echoTools
	store        *InMemoryCheckpointer
	exec         *GraphExecutor
	recorder     *captureRecorder
}

func newFixture(t *testing.T, opts ...ExecutorOption) *fixture {
	t.Helper()
	f := &fixture{
		analyst:      &scriptedAgent{id: testAnalyst, name: "Analyst"},
		finance:      &scriptedAgent{id: testFinance, name: "Finance"},
		analystTools: &echoTools{id: testAnalystTools},
		financeTools: &echoTools{id: testFinanceTools},
		store:        NewInMemoryCheckpointer(),
		recorder:     &captureRecorder{},
	}

	g, err := NewGraphBuilder("test").
		WithLogger(zaptest.NewLogger(t)).
		AddNode(f.analyst).
		AddNode(f.analystTools).
		AddNode(f.finance).
		AddNode(f.financeTools).
		AddConditionalEdges(testAnalyst, NewAgentRouter(testAnalystTools, testFinance)).
		AddConditionalEdges(testFinance, NewAgentRouter(testFinanceTools, testAnalyst)).
		AddEdge(testAnalystTools, testAnalyst).
		AddEdge(testFinanceTools, testFinance).
		SetEntry(testAnalyst).
		Build()
	require.NoError(t, err)

	opts = append([]ExecutorOption{WithExecutorLogger(zaptest.NewLogger(t)), WithRecorder(f.recorder)}, opts...)
	f.exec, err = NewGraphExecutor(g, f.store, opts...)
	require.NoError(t, err)
	return f
}

type captureRecorder struct {
	mu        sync.Mutex
	routes    []Decision
	outcomes  []string
	steps     int
	saves     int
	saveFails int
}

func (r *captureRecorder) RecordSuperstep(NodeID, NodeKind, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps++
}

func (r *captureRecorder) RecordRoute(_ NodeID, d Decision) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.routes = append(r.routes, d)
}

func (r *captureRecorder) RecordCheckpoint(_ time.Duration, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.saveFails++
		return
	}
	r.saves++
}

func (r *captureRecorder) RecordRun(outcome string, _ int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func callMsg(name, id, tool string) types.Message {
	return types.NewAgentMessage(name, "").WithToolCalls([]types.ToolCall{{ID: id, Name: tool, Arguments: []byte(`{}`)}})
}

// ---------------------------------------------------------------------------
// Tests
// ---------------------------------------------------------------------------

func TestGraphExecutor_RunsToTerminal(t *testing.T) {
	f := newFixture(t)
	f.analyst.replies = append(f.analyst.replies,
		reply(callMsg("Analyst", "call_1", "fetch_margin_anomalies")),
		reply(types.NewAgentMessage("Analyst", "total_loss 550, asking Finance")),
	)
	f.finance.replies = append(f.finance.replies,
		reply(callMsg("Finance", "call_2", "raise_ticket")),
		reply(types.NewAgentMessage("Finance", "FINAL: escalated")),
	)

	res, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("investigate"))
	require.NoError(t, err)

	assert.Equal(t, Terminal, res.Cursor)
	assert.Equal(t, 6, res.Steps)
	assert.Equal(t, 6, res.Version)
	assert.Len(t, res.Messages, 7)
	assert.Equal(t, "FINAL: escalated", res.Last.Content)
	assert.Equal(t, 6, f.store.Saves())

	cp, err := f.exec.State(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, Terminal, cp.Cursor)
	assert.Equal(t, res.Messages, cp.Messages)

	assert.Equal(t, []Decision{
		{Next: testAnalystTools, Reason: ReasonToolCalls},
		{Next: testAnalyst, Reason: ReasonFixedEdge},
		{Next: testFinance, Reason: ReasonHandoff},
		{Next: testFinanceTools, Reason: ReasonToolCalls},
		{Next: testFinance, Reason: ReasonFixedEdge},
		{Next: Terminal, Reason: ReasonCompletion},
	}, f.recorder.routes)
	assert.Equal(t, []string{OutcomeCompleted}, f.recorder.outcomes)
}

func TestGraphExecutor_Run(t *testing.T) {
	f := newFixture(t)
	f.analyst.replies = append(f.analyst.replies, reply(types.NewAgentMessage("Analyst", "FINAL: nothing to do")))

	last, err := f.exec.Run(context.Background(), "t1", "investigate")
	require.NoError(t, err)
	assert.Equal(t, "FINAL: nothing to do", last.Content)
}

func TestGraphExecutor_StepBudgetKeepsLastGoodCheckpoint(t *testing.T) {
	f := newFixture(t, WithMaxSteps(4))

	_, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("loop forever"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrStepBudgetExceeded))

	cp, err := f.exec.State(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 4, cp.Version)
	assert.Len(t, cp.Messages, 5)
	assert.Equal(t, testAnalyst, cp.Cursor)
	assert.Equal(t, []string{OutcomeBudgetExceeded}, f.recorder.outcomes)
}

func TestGraphExecutor_ModelFailurePersistsNothing(t *testing.T) {
	f := newFixture(t)
	modelErr := types.NewError(types.ErrModelInvocationFailed, "service unavailable").WithRetryable(true)
	f.analyst.replies = append(f.analyst.replies, fail(modelErr))

	_, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("investigate"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrModelInvocationFailed))
	assert.True(t, types.IsRetryable(err))

	_, err = f.exec.State(context.Background(), "t1")
	assert.ErrorIs(t, err, ErrCheckpointNotFound)
	assert.Zero(t, f.store.Saves())
}

func TestGraphExecutor_UnansweredToolCallsAreFatal(t *testing.T) {
	f := newFixture(t)
	f.analystTools.firstOnly.Store(true)
	f.analyst.replies = append(f.analyst.replies,
		reply(types.NewAgentMessage("Analyst", "").WithToolCalls([]types.ToolCall{
			{ID: "a", Name: "fetch_margin_anomalies", Arguments: []byte(`{}`)},
			{ID: "b", Name: "fetch_margin_anomalies", Arguments: []byte(`{"days":7}`)},
		})),
	)

	_, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("investigate"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrInvalidTranscript))
	assert.Contains(t, err.Error(), "unanswered: b")

	cp, err := f.exec.State(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, 1, cp.Version)
	assert.Equal(t, testAnalystTools, cp.Cursor)
}

func TestGraphExecutor_ResumeAfterToolFailureDoesNotDuplicate(t *testing.T) {
	f := newFixture(t)
	f.analyst.replies = append(f.analyst.replies,
		reply(callMsg("Analyst", "call_1", "fetch_margin_anomalies")),
		reply(types.NewAgentMessage("Analyst", "FINAL: done")),
	)
	crash := errors.New("process killed")
	f.analystTools.err.Store(&crash)

	_, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("investigate"))
	require.ErrorIs(t, err, crash)

	cp, err := f.exec.State(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, testAnalystTools, cp.Cursor)
	assert.Equal(t, 1, cp.Version)

	f.analystTools.err.Store(nil)
	res, err := f.exec.Invoke(context.Background(), "t1")
	require.NoError(t, err)

	answers := 0
	for _, m := range res.Messages {
		if m.ToolCallID == "call_1" {
			answers++
		}
	}
	assert.Equal(t, 1, answers)
	assert.Equal(t, int32(2), f.analyst.calls.Load(), "analyst must not be re-invoked before the tool answers")
	assert.Equal(t, 3, res.Version)
	assert.Equal(t, 2, res.Steps)
}

func TestGraphExecutor_InterruptedThreadIgnoresNewInput(t *testing.T) {
	f := newFixture(t)
	f.analyst.replies = append(f.analyst.replies,
		reply(callMsg("Analyst", "call_1", "fetch_margin_anomalies")),
		reply(types.NewAgentMessage("Analyst", "FINAL: done")),
	)
	crash := errors.New("crash")
	f.analystTools.err.Store(&crash)
	_, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("investigate"))
	require.Error(t, err)

	f.analystTools.err.Store(nil)
	res, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("ignored"))
	require.NoError(t, err)
	for _, m := range res.Messages {
		assert.NotEqual(t, "ignored", m.Content)
	}
}

func TestGraphExecutor_FinishedThreadRestartsWithNewInput(t *testing.T) {
	f := newFixture(t)
	f.analyst.replies = append(f.analyst.replies,
		reply(types.NewAgentMessage("Analyst", "FINAL: first")),
		reply(types.NewAgentMessage("Analyst", "FINAL: second")),
	)

	_, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("one"))
	require.NoError(t, err)

	res, err := f.exec.Invoke(context.Background(), "t1")
	require.NoError(t, err)
	assert.Zero(t, res.Steps, "finished thread without input is a no-op")

	res, err = f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("two"))
	require.NoError(t, err)
	assert.Equal(t, 2, res.Version)
	assert.Len(t, res.Messages, 4)
	assert.Equal(t, "FINAL: second", res.Last.Content)
}

func TestGraphExecutor_InvalidRequests(t *testing.T) {
	f := newFixture(t)

	_, err := f.exec.Invoke(context.Background(), "")
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))

	_, err = f.exec.Invoke(context.Background(), "t1")
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))

	_, err = f.exec.Invoke(context.Background(), "t1", types.NewToolMessage("nope", "x", "{}"))
	assert.True(t, types.IsCode(err, types.ErrInvalidRequest))
	assert.True(t, types.IsCode(errors.Unwrap(err), types.ErrInvalidTranscript))
}

func TestGraphExecutor_CorruptCheckpointUntilReset(t *testing.T) {
	f := newFixture(t)
	f.analyst.replies = append(f.analyst.replies, reply(types.NewAgentMessage("Analyst", "FINAL: ok")))

	f.store.PutRaw("t1", 3, []byte("not json"))
	_, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("x"))
	assert.True(t, types.IsCode(err, types.ErrCheckpointCorrupt))

	f.store.PutRaw("t1", 3, []byte(`{"thread_id":"t1","messages":[],"cursor":"nowhere","version":3}`))
	_, err = f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("x"))
	assert.True(t, types.IsCode(err, types.ErrCheckpointCorrupt))

	require.NoError(t, f.exec.Reset(context.Background(), "t1"))
	res, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("x"))
	require.NoError(t, err)
	assert.Equal(t, 1, res.Version)
}

func TestGraphExecutor_ConcurrentWriterConflict(t *testing.T) {
	f := newFixture(t)
	f.analyst.replies = append(f.analyst.replies, func([]types.Message) (types.Message, error) {
		// another process commits this thread while the step is running
		err := f.store.Save(context.Background(), &Checkpoint{ThreadID: "t1", Cursor: testFinance, Version: 1})
		return types.NewAgentMessage("Analyst", "FINAL: ok"), err
	})

	_, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("x"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrCheckpointConflict))
	assert.Equal(t, 1, f.recorder.saveFails)

	cp, err := f.exec.State(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, testFinance, cp.Cursor, "the other writer's checkpoint survives")
}

func TestGraphExecutor_SerializesSameThread(t *testing.T) {
	var inFlight, maxInFlight atomic.Int32
	node := NewFuncNode(NodeDescriptor{ID: testAnalyst, Kind: NodeKindAgent}, func(ctx context.Context, _ []types.Message) ([]types.Message, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			m := maxInFlight.Load()
			if n <= m || maxInFlight.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return []types.Message{types.NewAgentMessage("Analyst", "FINAL: ok")}, nil
	})
	g, err := NewGraphBuilder("single").
		AddNode(node).
		AddConditionalEdges(testAnalyst, NewAgentRouter(testAnalyst, testAnalyst)).
		SetEntry(testAnalyst).
		Build()
	require.NoError(t, err)
	store := NewInMemoryCheckpointer()
	exec, err := NewGraphExecutor(g, store)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := exec.Invoke(context.Background(), "shared", types.NewUserMessage("go"))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		require.NoError(t, err)
	}

	assert.Equal(t, int32(1), maxInFlight.Load())
	cp, err := exec.State(context.Background(), "shared")
	require.NoError(t, err)
	assert.Equal(t, 8, cp.Version)
	assert.Zero(t, exec.locks.size(), "lock entries are released")
}

func TestGraphExecutor_Cancellation(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithCancel(context.Background())
	f.analyst.replies = append(f.analyst.replies, func([]types.Message) (types.Message, error) {
		cancel()
		return types.NewAgentMessage("Analyst", "no decision yet"), nil
	})

	_, err := f.exec.Invoke(ctx, "t1", types.NewUserMessage("x"))
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []string{OutcomeCancelled}, f.recorder.outcomes)
	assert.Zero(t, f.store.Saves(), "a cancelled superstep never persists")
}

func TestGraphExecutor_LockTimeout(t *testing.T) {
	f := newFixture(t, WithLockTimeout(20*time.Millisecond))
	release, err := f.exec.locks.acquire(context.Background(), "busy")
	require.NoError(t, err)
	defer release()

	_, err = f.exec.Invoke(context.Background(), "busy", types.NewUserMessage("x"))
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestGraphExecutor_AmbiguousTailStillHandsOff(t *testing.T) {
	f := newFixture(t)
	f.analyst.replies = append(f.analyst.replies, reply(types.NewUserMessage("echoed user text")))
	f.finance.replies = append(f.finance.replies, reply(types.NewAgentMessage("Finance", "FINAL: closed")))

	res, err := f.exec.Invoke(context.Background(), "t1", types.NewUserMessage("x"))
	require.NoError(t, err)
	assert.Equal(t, Terminal, res.Cursor)
	assert.Equal(t, Decision{Next: testFinance, Reason: ReasonAmbiguous}, f.recorder.routes[0])
}

func TestNewGraphExecutor_RequiresGraphAndStore(t *testing.T) {
	_, err := NewGraphExecutor(nil, NewInMemoryCheckpointer())
	assert.Error(t, err)

	g, err := NewGraphBuilder("g").
		AddNode(NewFuncNode(NodeDescriptor{ID: "a", Kind: NodeKindAgent}, nil)).
		AddEdge("a", Terminal).
		SetEntry("a").
		Build()
	require.NoError(t, err)
	_, err = NewGraphExecutor(g, nil)
	assert.Error(t, err)
}
