// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
Package agent 提供编排图中的两类请求/响应节点。

# 节点

  - AgentNode：每次调用向推理服务发送一次 Completion：固定角色指令、
    完整转录、该 Agent 可见的工具声明。回复被规范化为一条以 Agent 名署名
    的 agent 消息；无工具调用且内容含完成标记（默认 "FINAL:"）时置 is_final。
    推理失败或空回复返回 MODEL_INVOCATION_FAILED。
  - ToolNode：应答转录尾部消息中的全部工具调用，经 llm/tools 执行器并发
    执行、按请求顺序返回。工具失败以 error_kind 写入结果消息，不作为 Go 错误
    返回；尾部没有工具调用时返回 INVALID_TRANSCRIPT。

# 构建

	node, err := agent.NewAgentBuilder(agent.Config{
	    Name:        "analyst",
	    Instruction: instruction,
	    Tools:       []string{"fetch_margin_anomalies"},
	}).
	    WithProvider(provider).
	    WithToolRegistry(registry).
	    WithLogger(logger).
	    Build()

持久化后端见子包 agent/persistence，双 Agent 升级场景的装配见 agent/escalation。
*/
package agent
