// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
Package escalation 装配毛利异常升级场景：Analyst 与 Finance 两个 Agent、
各自的工具节点，以及它们之间的固定拓扑。

	analyst ──tool_calls──▶ analyst_tools ──▶ analyst
	analyst ──handoff────▶ finance
	finance ──tool_calls──▶ finance_tools ──▶ finance
	finance ──handoff────▶ analyst
	analyst / finance ──completion──▶ end

Analyst 只绑定 fetch_margin_anomalies，Finance 只绑定 raise_ticket；
越权或未知的工具名由对应工具节点以 UNKNOWN_TOOL 应答，控制权回到发起方。
*/
package escalation
