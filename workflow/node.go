package workflow

import (
	"context"

	"github.com/BaSui01/marginflow/types"
)

// NodeID identifies a node in the graph.
type NodeID string

// Terminal is the cursor value of a finished thread.
const Terminal NodeID = "end"

// NodeKind 节点类型
type NodeKind string

const (
	NodeKindAgent NodeKind = "agent"
	NodeKindTool  NodeKind = "tool"
)

// NodeDescriptor 节点描述，图构建时固定
type NodeDescriptor struct {
	ID   NodeID   `json:"id"`
	Kind NodeKind `json:"kind"`
	Role string   `json:"role,omitempty"`
	// Capabilities lists the tool names an agent may call or a tool node implements.
	Capabilities []string `json:"capabilities,omitempty"`
}

// Node is one request/response unit of the graph. Invoke receives a copy of
// the transcript and returns the messages to append.
type Node interface {
	Descriptor() NodeDescriptor
	Invoke(ctx context.Context, transcript []types.Message) ([]types.Message, error)
}

// NodeFunc 节点函数类型
type NodeFunc func(ctx context.Context, transcript []types.Message) ([]types.Message, error)

// FuncNode adapts a function to the Node interface.
type FuncNode struct {
	desc NodeDescriptor
	fn   NodeFunc
}

// NewFuncNode 创建函数节点
func NewFuncNode(desc NodeDescriptor, fn NodeFunc) *FuncNode {
	return &FuncNode{desc: desc, fn: fn}
}

func (n *FuncNode) Descriptor() NodeDescriptor { return n.desc }

func (n *FuncNode) Invoke(ctx context.Context, transcript []types.Message) ([]types.Message, error) {
	return n.fn(ctx, transcript)
}
