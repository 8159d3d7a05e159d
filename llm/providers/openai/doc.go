// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
# 概述

包 openai 提供基于 github.com/sashabaranov/go-openai 的推理服务 Provider，
可指向任意 OpenAI 兼容 BaseURL（OpenAI、本地 vLLM / Ollama 网关等）。

# 核心结构体

  - Provider：实现 llm.Provider，把对话记录映射为 Chat Completions 消息：
    Instruction → system，agent → assistant（带 Name 与 ToolCalls），
    tool → tool（带 ToolCallID）

# 错误语义

所有调用失败均映射为 MODEL_INVOCATION_FAILED；429 与 5xx 标记为可重试，
其余 4xx 不可重试。Provider 内部不做重试。
*/
package openai
