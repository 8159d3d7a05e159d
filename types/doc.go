// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
Package types 提供 MarginFlow 引擎的全局共享类型定义。

# 概述

types 是最底层的公共包，不依赖任何内部包，为 workflow、agent、llm、
tools 等上层模块提供统一的类型契约，以避免循环依赖。

# 核心类型

  - Message：对话消息（Role、Content、ToolCalls、ToolCallID、ErrorKind、Final）
  - ToolCall：Agent 发起的工具调用请求
  - ToolSchema：工具定义（name + description + JSON Schema parameters）
  - ToolResult：工具执行结果，可转换为 tool 消息
  - Error / ErrorCode：结构化错误体系，区分可恢复（写入对话）与致命错误

# 主要能力

  - 错误工具链：NewError / Errorf / WithCause / IsCode / GetErrorCode / IsRetryable
  - 消息构造：NewUserMessage / NewAgentMessage / NewToolMessage
  - 深拷贝：Message.Clone / CloneMessages（检查点与状态快照使用）
*/
package types
