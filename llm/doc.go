// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
包 llm 定义推理服务（reasoning service）的统一接入层。

# Provider 抽象

[Provider] 只有 Completion 与 Name 两个方法。请求 [ChatRequest] 携带角色
指令、完整转录与可用工具声明；响应 [ChatResponse] 的第一个 choice 即为
agent 的回复，可以是文本结论，也可以是一组 ToolCalls。

具体实现位于子包：

  - providers/heuristic：离线确定性策略，按 agent 名选择行为
  - providers/openai：基于 go-openai 的远程模型适配

# 中间件

[Middleware] 以 [Handler] 为单位组合，[Wrap] 把中间件链套在 Provider 外层：

  - [RecoveryMiddleware]：panic 转为 MODEL_INVOCATION_FAILED
  - [LoggingMiddleware]：zap 记录耗时与 token 用量
  - [MetricsMiddleware]：上报到 [MetricsCollector]
  - [TimeoutMiddleware]：请求级超时，ChatRequest.Timeout 优先

失败统一通过 [InvocationError] 包装为 types.Error。
*/
package llm
