// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
Package finance 提供毛利异常升级场景的两个内置工具。

  - fetch_margin_anomalies：扫描 RecordSource，返回 profit = revenue − cogs < 0
    且 |profit| ≥ min_loss 的 SKU（默认 days=30, min_loss=500），按记录顺序输出
  - raise_ticket：在 TicketLog（内存桩后端）中开单，返回 "TKT-" + 6 位大写十六进制 ID

两个工具都按 llm/tools 的约定以 (ToolFunc, ToolMetadata) 形式构造，并由
Register 一次性注册到 ToolRegistry；输入参数由 JSON Schema 校验。
*/
package finance
