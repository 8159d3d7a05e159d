// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
Package workflow 提供多智能体对话图的编排与执行引擎。

# 概述

workflow 包实现了一个有向、按条件路由的状态机：依次调用 Agent 节点与 Tool
节点，在每一步之间传递只追加的共享对话状态，仅根据最新一条消息决定下一个
节点，并在每个超步（superstep）之后按线程持久化 Checkpoint，使中断的执行
可以从上次提交的位置恢复。

# 核心接口与类型

  - Channel[T] / Reducer：泛型状态通道与合并策略（AppendReducer）
  - ConversationState：只追加的对话记录，校验 tool_call_id 引用
  - Node / NodeDescriptor：节点接口与构建期固定的节点描述
  - Router / AgentRouter：纯函数路由：工具调用 → 工具节点，完成 → 终止，其他 → 对端
  - GraphBuilder / Graph：Fluent API 构建并校验的不可变图
  - Checkpointer：版本化 compare-and-set 存储接口与内存实现
  - GraphExecutor：超步循环、步数预算、线程串行化、Checkpoint 提交

# 错误语义

节点返回的错误（如 MODEL_INVOCATION_FAILED）终止当前超步且不持久化任何内容；
工具失败由 Tool 节点作为消息写入对话记录，不会从执行循环中逃逸。步数预算耗尽
返回 STEP_BUDGET_EXCEEDED，此前最后一次成功的 Checkpoint 保持不变。
*/
package workflow
