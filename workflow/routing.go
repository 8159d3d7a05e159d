package workflow

import (
	"strings"

	"github.com/BaSui01/marginflow/types"
)

// DefaultSentinel marks an agent reply as a completion when the structured
// flag is absent.
const DefaultSentinel = "FINAL:"

// RouteReason 路由原因
type RouteReason string

const (
	ReasonToolCalls  RouteReason = "tool_calls"
	ReasonCompletion RouteReason = "completion"
	ReasonHandoff    RouteReason = "handoff"
	ReasonAmbiguous  RouteReason = "ambiguous"
	ReasonFixedEdge  RouteReason = "fixed_edge"
)

// Decision 路由决策
type Decision struct {
	Next   NodeID      `json:"next"`
	Reason RouteReason `json:"reason"`
}

// Router 路由器接口
// 只根据最新一条消息决定下一个节点，必须是纯函数
type Router interface {
	Route(last types.Message) Decision
}

// RouterFunc 路由函数类型
type RouterFunc func(last types.Message) Decision

func (f RouterFunc) Route(last types.Message) Decision { return f(last) }

// targeter is implemented by routers that can enumerate their destinations,
// letting the builder validate them.
type targeter interface {
	Targets() []NodeID
}

// IsCompletion reports whether m signals that the workflow is resolved.
func IsCompletion(m types.Message, sentinel string) bool {
	if m.Final {
		return true
	}
	return sentinel != "" && strings.Contains(m.Content, sentinel)
}

// AgentRouter routes the output of one agent: tool calls go to the owning tool
// node, completions end the thread, anything else hands off to the peer.
type AgentRouter struct {
	tools    NodeID
	peer     NodeID
	owners   map[string]NodeID
	sentinel string
}

// AgentRouterOption configures an AgentRouter.
type AgentRouterOption func(*AgentRouter)

// WithToolOwner routes calls of the named tool to node.
func WithToolOwner(tool string, node NodeID) AgentRouterOption {
	return func(r *AgentRouter) {
		r.owners[tool] = node
	}
}

// WithSentinel overrides the completion marker. An empty sentinel disables
// the content fallback.
func WithSentinel(sentinel string) AgentRouterOption {
	return func(r *AgentRouter) {
		r.sentinel = sentinel
	}
}

// NewAgentRouter creates a router for an agent whose default tool node is
// tools and whose peer agent is peer.
func NewAgentRouter(tools, peer NodeID, opts ...AgentRouterOption) *AgentRouter {
	r := &AgentRouter{
		tools:    tools,
		peer:     peer,
		owners:   make(map[string]NodeID),
		sentinel: DefaultSentinel,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Route implements Router. Tool calls take precedence over completion.
func (r *AgentRouter) Route(last types.Message) Decision {
	if last.HasToolCalls() {
		next := r.tools
		if owner, ok := r.owners[last.ToolCalls[0].Name]; ok {
			next = owner
		}
		return Decision{Next: next, Reason: ReasonToolCalls}
	}
	if IsCompletion(last, r.sentinel) {
		return Decision{Next: Terminal, Reason: ReasonCompletion}
	}
	if last.Role != types.RoleAgent {
		return Decision{Next: r.peer, Reason: ReasonAmbiguous}
	}
	return Decision{Next: r.peer, Reason: ReasonHandoff}
}

// Targets returns every node this router may select.
func (r *AgentRouter) Targets() []NodeID {
	targets := []NodeID{r.tools, r.peer, Terminal}
	for _, owner := range r.owners {
		targets = append(targets, owner)
	}
	return targets
}
