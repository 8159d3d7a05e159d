// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
Package heuristic 提供离线、确定性的推理服务 Provider，使升级流程无需外部
模型即可端到端运行。

按 ChatRequest.Agent 选择策略，只看最近一条用户消息之后的转录：

  - Analyst：尚无异常查询结果时调用 fetch_margin_anomalies；
    total_loss ≤ 阈值时以 "FINAL:" 收尾，否则给出摘要并交给 Finance
  - Finance：损失超过阈值时调用 raise_ticket，拿到工单后以 "FINAL:" 收尾；
    否则直接以 "FINAL:" 说明理由

工具调用 ID 由 uuid 生成。
*/
package heuristic
