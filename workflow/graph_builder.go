package workflow

import (
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// GraphBuilder provides a fluent API for assembling a Graph.
type GraphBuilder struct {
	name    string
	entry   NodeID
	nodes   map[NodeID]Node
	order   []NodeID
	routers map[NodeID]Router
	edges   map[NodeID]NodeID
	errs    []error
	logger  *zap.Logger
}

// NewGraphBuilder creates a new graph builder with the given name.
func NewGraphBuilder(name string) *GraphBuilder {
	return &GraphBuilder{
		name:    name,
		nodes:   make(map[NodeID]Node),
		routers: make(map[NodeID]Router),
		edges:   make(map[NodeID]NodeID),
		logger:  zap.NewNop(),
	}
}

// WithLogger sets a custom logger.
func (b *GraphBuilder) WithLogger(logger *zap.Logger) *GraphBuilder {
	if logger != nil {
		b.logger = logger.With(zap.String("component", "graph_builder"))
	}
	return b
}

// AddNode registers a node under its descriptor id.
func (b *GraphBuilder) AddNode(node Node) *GraphBuilder {
	if node == nil {
		b.errs = append(b.errs, errors.New("nil node"))
		return b
	}
	id := node.Descriptor().ID
	switch {
	case id == "":
		b.errs = append(b.errs, errors.New("node with empty id"))
	case id == Terminal:
		b.errs = append(b.errs, fmt.Errorf("node id %q is reserved", Terminal))
	default:
		if _, dup := b.nodes[id]; dup {
			b.errs = append(b.errs, fmt.Errorf("duplicate node %q", id))
			return b
		}
		b.nodes[id] = node
		b.order = append(b.order, id)
	}
	return b
}

// AddConditionalEdges makes router decide what follows from.
func (b *GraphBuilder) AddConditionalEdges(from NodeID, router Router) *GraphBuilder {
	if router == nil {
		b.errs = append(b.errs, fmt.Errorf("nil router for %q", from))
		return b
	}
	b.routers[from] = router
	return b
}

// AddEdge adds a fixed edge from one node to another.
func (b *GraphBuilder) AddEdge(from, to NodeID) *GraphBuilder {
	b.edges[from] = to
	return b
}

// SetEntry sets the entry node.
func (b *GraphBuilder) SetEntry(id NodeID) *GraphBuilder {
	b.entry = id
	return b
}

// Build validates the graph and freezes it.
func (b *GraphBuilder) Build() (*Graph, error) {
	if err := b.validate(); err != nil {
		return nil, fmt.Errorf("graph validation failed: %w", err)
	}

	g := &Graph{
		name:    b.name,
		entry:   b.entry,
		nodes:   make(map[NodeID]Node, len(b.nodes)),
		routers: make(map[NodeID]Router, len(b.routers)),
		edges:   make(map[NodeID]NodeID, len(b.edges)),
	}
	for id, n := range b.nodes {
		g.nodes[id] = n
	}
	for id, r := range b.routers {
		g.routers[id] = r
	}
	for from, to := range b.edges {
		g.edges[from] = to
	}

	b.logger.Info("graph built",
		zap.String("name", b.name),
		zap.Int("nodes", len(g.nodes)),
		zap.String("entry", string(g.entry)),
	)
	return g, nil
}

func (b *GraphBuilder) validate() error {
	if len(b.errs) > 0 {
		return errors.Join(b.errs...)
	}
	if len(b.nodes) == 0 {
		return errors.New("graph has no nodes")
	}
	if b.entry == "" {
		return errors.New("entry node not set")
	}
	if _, ok := b.nodes[b.entry]; !ok {
		return fmt.Errorf("entry node %q not found", b.entry)
	}

	exists := func(id NodeID) bool {
		if id == Terminal {
			return true
		}
		_, ok := b.nodes[id]
		return ok
	}

	for from := range b.routers {
		n, ok := b.nodes[from]
		if !ok {
			return fmt.Errorf("router attached to unknown node %q", from)
		}
		// 工具节点只能固定返回发起调用的 agent
		if n.Descriptor().Kind == NodeKindTool {
			return fmt.Errorf("tool node %q cannot have conditional edges", from)
		}
	}
	for from, to := range b.edges {
		n, ok := b.nodes[from]
		if !ok {
			return fmt.Errorf("edge from unknown node %q", from)
		}
		if !exists(to) {
			return fmt.Errorf("edge %q -> %q targets unknown node", from, to)
		}
		if n.Descriptor().Kind == NodeKindTool {
			target, ok := b.nodes[to]
			if !ok || target.Descriptor().Kind != NodeKindAgent {
				return fmt.Errorf("tool node %q must return to an agent node, got %q", from, to)
			}
		}
	}

	for _, id := range b.order {
		_, routed := b.routers[id]
		_, fixed := b.edges[id]
		switch {
		case routed && fixed:
			return fmt.Errorf("node %q has both a router and a fixed edge", id)
		case !routed && !fixed:
			return fmt.Errorf("node %q has no outgoing rule", id)
		}
		if t, ok := b.routers[id].(targeter); routed && ok {
			for _, target := range t.Targets() {
				if !exists(target) {
					return fmt.Errorf("router of %q targets unknown node %q", id, target)
				}
			}
		}
	}
	return nil
}
