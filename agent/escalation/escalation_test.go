package escalation_test

import (
	"context"
	"encoding/json"
	"errors"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/BaSui01/marginflow/agent"
	"github.com/BaSui01/marginflow/agent/escalation"
	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/llm/providers/heuristic"
	"github.com/BaSui01/marginflow/testutil"
	"github.com/BaSui01/marginflow/testutil/mocks"
	"github.com/BaSui01/marginflow/tools/finance"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// ----------------------------------------------------------------------------
// helpers
// ----------------------------------------------------------------------------

type harness struct {
	exec    *workflow.GraphExecutor
	store   *workflow.InMemoryCheckpointer
	tickets *finance.TicketLog
}

func newHarness(t *testing.T, provider llm.Provider, execOpts ...workflow.ExecutorOption) *harness {
	t.Helper()
	h := &harness{
		store:   workflow.NewInMemoryCheckpointer(),
		tickets: finance.NewTicketLog(),
	}
	exec, err := escalation.New(escalation.Options{
		Provider: provider,
		Finance:  finance.Config{Tickets: finance.TicketToolConfig{Log: h.tickets}},
		Logger:   zaptest.NewLogger(t),
	}, h.store, execOpts...)
	require.NoError(t, err)
	h.exec = exec
	return h
}

func speakersAfterUser(res *workflow.Result) []string {
	return testutil.Speakers(res.Messages)
}

// ----------------------------------------------------------------------------
// Graph shape
// ----------------------------------------------------------------------------

func TestNewGraph_Shape(t *testing.T) {
	g, err := escalation.NewGraph(escalation.Options{Provider: heuristic.NewProvider(heuristic.Config{}, nil)})
	require.NoError(t, err)

	assert.Equal(t, escalation.Analyst, g.Entry())
	descs := g.Descriptors()
	require.Len(t, descs, 4)

	byID := map[workflow.NodeID]workflow.NodeDescriptor{}
	for _, d := range descs {
		byID[d.ID] = d
	}
	assert.Equal(t, workflow.NodeKindAgent, byID[escalation.Analyst].Kind)
	assert.Equal(t, []string{finance.ToolFetchAnomalies}, byID[escalation.Analyst].Capabilities)
	assert.Equal(t, workflow.NodeKindTool, byID[escalation.FinanceTools].Kind)
	assert.Equal(t, []string{finance.ToolRaiseTicket}, byID[escalation.FinanceTools].Capabilities)

	// 工具节点固定返回发起调用的 Agent
	d, err := g.Next(escalation.AnalystTools, types.Message{})
	require.NoError(t, err)
	assert.Equal(t, escalation.Analyst, d.Next)
	d, err = g.Next(escalation.FinanceTools, types.Message{})
	require.NoError(t, err)
	assert.Equal(t, escalation.Finance, d.Next)
}

func TestNewGraph_RequiresProvider(t *testing.T) {
	_, err := escalation.NewGraph(escalation.Options{})
	assert.ErrorIs(t, err, agent.ErrProviderNotSet)
}

// ----------------------------------------------------------------------------
// losses above the threshold reach Finance, which raises a ticket
// ----------------------------------------------------------------------------

func TestEscalation_AboveThresholdRaisesTicket(t *testing.T) {
	h := newHarness(t, heuristic.NewProvider(heuristic.Config{MinLoss: 0}, nil))
	ctx := testutil.TestContext(t)

	res, err := h.exec.Invoke(ctx, escalation.DemoThread, types.NewUserMessage(escalation.DemoPrompt))
	require.NoError(t, err)

	assert.Equal(t, workflow.Terminal, res.Cursor)
	assert.Equal(t, 6, res.Steps)
	assert.Equal(t, 6, res.Version)
	assert.Equal(t,
		[]string{"user", "analyst", finance.ToolFetchAnomalies, "analyst", "finance", finance.ToolRaiseTicket, "finance"},
		speakersAfterUser(res))

	report := res.Messages[2]
	assert.Contains(t, report.Content, `"total_loss":550`)

	tickets := h.tickets.Tickets()
	require.Len(t, tickets, 1)
	assert.Regexp(t, regexp.MustCompile(`^TKT-[0-9A-F]{6}$`), tickets[0].ID)

	assert.True(t, res.Last.Final)
	assert.Contains(t, res.Last.Content, "FINAL:")
	assert.Contains(t, res.Last.Content, tickets[0].ID)

	cp, err := h.exec.State(ctx, escalation.DemoThread)
	require.NoError(t, err)
	assert.Equal(t, workflow.Terminal, cp.Cursor)
	assert.Len(t, cp.Messages, 7)
}

// Scripted variant drives the same path with exact replies.
func TestEscalation_ScriptedEscalation(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		On("analyst",
			mocks.CallTool("a1", finance.ToolFetchAnomalies, map[string]int{"days": 30, "min_loss": 0}),
			mocks.Say("Summary: total_loss=550 exceeds 500. Finance, please decide."),
		).
		On("finance",
			mocks.CallTool("f1", finance.ToolRaiseTicket, map[string]string{"summary": "Loss 550", "severity": "high"}),
			mocks.Say("FINAL: ticket raised."),
		)
	h := newHarness(t, provider)

	last, err := h.exec.Run(testutil.TestContext(t), "scripted-a", escalation.DemoPrompt)
	require.NoError(t, err)
	assert.Equal(t, "FINAL: ticket raised.", last.Content)
	assert.True(t, last.Final)

	require.Len(t, h.tickets.Tickets(), 1)
	assert.Equal(t, finance.SeverityHigh, h.tickets.Tickets()[0].Severity)
	assert.Equal(t, 2, provider.CallsFor("analyst"))
	assert.Equal(t, 2, provider.CallsFor("finance"))

	// 每个 Agent 只看到自己的工具
	for _, req := range provider.Requests() {
		require.Len(t, req.Tools, 1)
		if req.Agent == "analyst" {
			assert.Equal(t, finance.ToolFetchAnomalies, req.Tools[0].Name)
			assert.Equal(t, escalation.AnalystInstruction, req.Instruction)
		} else {
			assert.Equal(t, finance.ToolRaiseTicket, req.Tools[0].Name)
			assert.Equal(t, escalation.FinanceInstruction, req.Instruction)
		}
	}
}

// ----------------------------------------------------------------------------
// no anomalies, the Analyst terminates alone
// ----------------------------------------------------------------------------

func TestEscalation_NoAnomaliesAnalystConcludes(t *testing.T) {
	h := newHarness(t, heuristic.NewProvider(heuristic.Config{MinLoss: finance.DefaultMinLoss}, nil))

	res, err := h.exec.Invoke(testutil.TestContext(t), "no-anomalies", types.NewUserMessage(escalation.DemoPrompt))
	require.NoError(t, err)

	assert.Equal(t, 3, res.Steps)
	assert.Equal(t, []string{"user", "analyst", finance.ToolFetchAnomalies, "analyst"}, speakersAfterUser(res))
	assert.Contains(t, res.Messages[2].Content, `"count":0`)
	assert.True(t, res.Last.Final)
	assert.Equal(t, "analyst", res.Last.Name)
	assert.Empty(t, h.tickets.Tickets())
}

// ----------------------------------------------------------------------------
// resuming mid tool call does not duplicate the tool result
// ----------------------------------------------------------------------------

func TestEscalation_ResumeMidToolCallDoesNotDuplicate(t *testing.T) {
	provider := heuristic.NewProvider(heuristic.Config{}, nil)
	store := workflow.NewInMemoryCheckpointer()
	tickets := finance.NewTicketLog()
	opts := escalation.Options{
		Provider: provider,
		Finance:  finance.Config{Tickets: finance.TicketToolConfig{Log: tickets}},
		Logger:   zaptest.NewLogger(t),
	}
	ctx := testutil.TestContext(t)

	// 第一个进程只来得及执行一步：Analyst 发出调用后中断
	first, err := escalation.New(opts, store, workflow.WithMaxSteps(1))
	require.NoError(t, err)
	_, err = first.Invoke(ctx, "resume", types.NewUserMessage(escalation.DemoPrompt))
	require.True(t, types.IsCode(err, types.ErrStepBudgetExceeded), "got %v", err)

	cp, err := store.Load(ctx, "resume")
	require.NoError(t, err)
	assert.Equal(t, escalation.AnalystTools, cp.Cursor)
	require.Len(t, cp.Messages, 2)
	callID := cp.Messages[1].ToolCalls[0].ID

	// 新进程从检查点继续；重复的用户输入被忽略
	second, err := escalation.New(opts, store)
	require.NoError(t, err)
	res, err := second.Invoke(ctx, "resume", types.NewUserMessage(escalation.DemoPrompt))
	require.NoError(t, err)

	assert.Equal(t, workflow.Terminal, res.Cursor)
	assert.Equal(t, 1, testutil.CountAnswers(res.Messages, callID))
	assert.Equal(t, 1, countRole(res.Messages, types.RoleUser))
	assert.Len(t, tickets.Tickets(), 1)
	assert.Equal(t, 6, res.Version)
}

func countRole(msgs []types.Message, role types.Role) int {
	n := 0
	for _, m := range msgs {
		if m.Role == role {
			n++
		}
	}
	return n
}

// ----------------------------------------------------------------------------
// unknown tool returns UNKNOWN_TOOL and control returns to the caller
// ----------------------------------------------------------------------------

func TestEscalation_UnknownToolReturnsToCaller(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		On("analyst",
			mocks.CallTool("x1", "fetch_everything", `{}`),
			mocks.Final("FINAL: tool unavailable, stopping."),
		)
	h := newHarness(t, provider)

	res, err := h.exec.Invoke(testutil.TestContext(t), "unknown-tool", types.NewUserMessage("go"))
	require.NoError(t, err)

	require.Len(t, res.Messages, 4)
	toolMsg := res.Messages[2]
	assert.Equal(t, types.RoleTool, toolMsg.Role)
	assert.Equal(t, "x1", toolMsg.ToolCallID)
	assert.Equal(t, types.ErrUnknownTool, toolMsg.ErrorKind)
	assert.Contains(t, toolMsg.Content, "fetch_everything")

	assert.Equal(t, "analyst", res.Messages[3].Name)
	assert.Equal(t, 0, provider.CallsFor("finance"))
}

// The Analyst is not bound to raise_ticket, so its tool node refuses it.
func TestEscalation_PerAgentToolBinding(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		On("analyst",
			mocks.CallTool("x1", finance.ToolRaiseTicket, map[string]string{"summary": "sneaky"}),
			mocks.Final("FINAL: ok"),
		)
	h := newHarness(t, provider)

	res, err := h.exec.Invoke(testutil.TestContext(t), "binding", types.NewUserMessage("go"))
	require.NoError(t, err)
	assert.Equal(t, types.ErrUnknownTool, res.Messages[2].ErrorKind)
	assert.Empty(t, h.tickets.Tickets())
}

// ----------------------------------------------------------------------------
// Failures
// ----------------------------------------------------------------------------

func TestEscalation_ModelFailureIsFatalAndPersistsNothing(t *testing.T) {
	boom := errors.New("upstream 503")
	provider := mocks.NewScriptedProvider().On("analyst", mocks.Fail(boom))
	h := newHarness(t, provider)

	_, err := h.exec.Invoke(testutil.TestContext(t), "model-down", types.NewUserMessage("go"))
	require.Error(t, err)
	assert.True(t, types.IsCode(err, types.ErrModelInvocationFailed))
	assert.ErrorIs(t, err, boom)

	_, err = h.store.Load(context.Background(), "model-down")
	assert.ErrorIs(t, err, workflow.ErrCheckpointNotFound)
}

func TestEscalation_ValidationFailureIsRecoverable(t *testing.T) {
	provider := mocks.NewScriptedProvider().
		On("analyst",
			mocks.CallTool("v1", finance.ToolFetchAnomalies, json.RawMessage(`{"days":"thirty"}`)),
			mocks.Final("FINAL: bad arguments"),
		)
	h := newHarness(t, provider)

	res, err := h.exec.Invoke(testutil.TestContext(t), "validation", types.NewUserMessage("go"))
	require.NoError(t, err)
	assert.Equal(t, types.ErrToolExecutionFailed, res.Messages[2].ErrorKind)
	assert.Contains(t, res.Messages[2].Content, "days")
	assert.Equal(t, workflow.Terminal, res.Cursor)
}
