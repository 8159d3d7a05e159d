package workflow

import (
	"fmt"
	"sort"

	"github.com/BaSui01/marginflow/types"
)

// Graph is an immutable set of nodes with their outgoing rules. Every
// non-terminal node has either a router or a fixed edge.
type Graph struct {
	name    string
	entry   NodeID
	nodes   map[NodeID]Node
	routers map[NodeID]Router
	edges   map[NodeID]NodeID
}

// Name returns the graph name.
func (g *Graph) Name() string { return g.name }

// Entry returns the node a new thread starts at.
func (g *Graph) Entry() NodeID { return g.entry }

// Node looks up a node by id.
func (g *Graph) Node(id NodeID) (Node, bool) {
	n, ok := g.nodes[id]
	return n, ok
}

// Has reports whether id is a valid cursor, including Terminal.
func (g *Graph) Has(id NodeID) bool {
	if id == Terminal {
		return true
	}
	_, ok := g.nodes[id]
	return ok
}

// Descriptors returns the descriptors of every node, sorted by id.
func (g *Graph) Descriptors() []NodeDescriptor {
	out := make([]NodeDescriptor, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Next computes the node that follows from, given the message it just appended.
func (g *Graph) Next(from NodeID, last types.Message) (Decision, error) {
	if to, ok := g.edges[from]; ok {
		return Decision{Next: to, Reason: ReasonFixedEdge}, nil
	}
	r, ok := g.routers[from]
	if !ok {
		return Decision{}, fmt.Errorf("node %q has no outgoing rule", from)
	}
	d := r.Route(last)
	if !g.Has(d.Next) {
		return Decision{}, fmt.Errorf("router of %q selected unknown node %q", from, d.Next)
	}
	return d, nil
}
