package escalation

import (
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/agent"
	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/llm/tools"
	"github.com/BaSui01/marginflow/tools/finance"
	"github.com/BaSui01/marginflow/workflow"
)

// GraphName 是升级图的名称
const GraphName = "margin-escalation"

// 节点 ID
const (
	Analyst      workflow.NodeID = "analyst"
	AnalystTools workflow.NodeID = "analyst_tools"
	Finance      workflow.NodeID = "finance"
	FinanceTools workflow.NodeID = "finance_tools"
)

// Options 装配升级图所需的协作者
type Options struct {
	Provider llm.Provider
	// Registry 须已注册两种工具；为 nil 时用 Finance 配置新建
	Registry tools.ToolRegistry
	// Executor 为 nil 时基于 Registry 新建 DefaultExecutor
	Executor tools.ToolExecutor
	Finance  finance.Config

	Model       string
	Sentinel    string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float32

	// ToolRecorder 仅在 Executor 为 nil 时生效
	ToolRecorder tools.Recorder
	Logger       *zap.Logger
}

// NewGraph builds the fixed two-agent, two-tool graph: each agent routes to
// its own tool node, to its peer, or to the end; each tool node returns to
// the agent that issued the call.
func NewGraph(opts Options) (*workflow.Graph, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Provider == nil {
		return nil, agent.ErrProviderNotSet
	}

	registry := opts.Registry
	if registry == nil {
		reg := tools.NewDefaultRegistry(logger)
		if err := finance.Register(reg, opts.Finance, logger); err != nil {
			return nil, fmt.Errorf("register finance tools: %w", err)
		}
		registry = reg
	}
	executor := opts.Executor
	if executor == nil {
		executor = tools.NewDefaultExecutor(registry, logger).WithRecorder(opts.ToolRecorder)
	}

	analyst, err := newAgent(opts, registry, logger, agent.Config{
		Name:        string(Analyst),
		Role:        "Data Analyst",
		Instruction: AnalystInstruction,
		Tools:       []string{finance.ToolFetchAnomalies},
	})
	if err != nil {
		return nil, err
	}
	partner, err := newAgent(opts, registry, logger, agent.Config{
		Name:        string(Finance),
		Role:        "Finance Partner",
		Instruction: FinanceInstruction,
		Tools:       []string{finance.ToolRaiseTicket},
	})
	if err != nil {
		return nil, err
	}

	var routerOpts []workflow.AgentRouterOption
	if opts.Sentinel != "" {
		routerOpts = append(routerOpts, workflow.WithSentinel(opts.Sentinel))
	}

	return workflow.NewGraphBuilder(GraphName).
		WithLogger(logger).
		AddNode(analyst).
		AddNode(agent.NewToolNode(AnalystTools, executor, logger, finance.ToolFetchAnomalies)).
		AddNode(partner).
		AddNode(agent.NewToolNode(FinanceTools, executor, logger, finance.ToolRaiseTicket)).
		SetEntry(Analyst).
		AddConditionalEdges(Analyst, workflow.NewAgentRouter(AnalystTools, Finance, routerOpts...)).
		AddEdge(AnalystTools, Analyst).
		AddConditionalEdges(Finance, workflow.NewAgentRouter(FinanceTools, Analyst, routerOpts...)).
		AddEdge(FinanceTools, Finance).
		Build()
}

// New builds the graph and an executor over store.
func New(opts Options, store workflow.Checkpointer, execOpts ...workflow.ExecutorOption) (*workflow.GraphExecutor, error) {
	graph, err := NewGraph(opts)
	if err != nil {
		return nil, err
	}
	if opts.Logger != nil {
		execOpts = append([]workflow.ExecutorOption{workflow.WithExecutorLogger(opts.Logger)}, execOpts...)
	}
	return workflow.NewGraphExecutor(graph, store, execOpts...)
}

func newAgent(opts Options, registry tools.ToolRegistry, logger *zap.Logger, cfg agent.Config) (*agent.AgentNode, error) {
	cfg.Model = opts.Model
	cfg.Sentinel = opts.Sentinel
	cfg.Timeout = opts.Timeout
	cfg.MaxTokens = opts.MaxTokens
	cfg.Temperature = opts.Temperature

	node, err := agent.NewAgentBuilder(cfg).
		WithProvider(opts.Provider).
		WithToolRegistry(registry).
		WithLogger(logger).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build %s: %w", cfg.Name, err)
	}
	return node, nil
}
