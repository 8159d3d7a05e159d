package agent

import (
	"time"

	"github.com/BaSui01/marginflow/workflow"
)

// Config 描述一个对话 Agent 节点
type Config struct {
	// Name 是 Agent 名称，也是其回复消息的 Name
	Name string `json:"name" yaml:"name"`
	// NodeID 默认等于 Name
	NodeID      workflow.NodeID `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	Role        string          `json:"role,omitempty" yaml:"role,omitempty"`
	Instruction string          `json:"instruction" yaml:"instruction"`
	Model       string          `json:"model,omitempty" yaml:"model,omitempty"`
	MaxTokens   int             `json:"max_tokens,omitempty" yaml:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty" yaml:"temperature,omitempty"`
	// Timeout 限制单次推理调用，0 表示只受 ctx 约束
	Timeout time.Duration `json:"timeout,omitempty" yaml:"timeout,omitempty"`
	// Tools 是该 Agent 可见的工具白名单
	Tools []string `json:"tools,omitempty" yaml:"tools,omitempty"`
	// Sentinel 为空时使用 workflow.DefaultSentinel
	Sentinel string `json:"sentinel,omitempty" yaml:"sentinel,omitempty"`
}

func (c Config) nodeID() workflow.NodeID {
	if c.NodeID != "" {
		return c.NodeID
	}
	return workflow.NodeID(c.Name)
}

func (c Config) sentinel() string {
	if c.Sentinel != "" {
		return c.Sentinel
	}
	return workflow.DefaultSentinel
}
