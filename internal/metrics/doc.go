// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
包 metrics 提供基于 Prometheus 的执行指标采集。

Collector 同时实现 workflow.Recorder、tools.Recorder 与
llm.MetricsCollector，覆盖超步、路由、检查点写入、工具调用、
模型请求与 SQL 连接池。每个 Collector 持有独立的 Registry，
一次性 CLI 结束时通过 WriteTextfile 写出 textfile 格式供
node_exporter 采集。
*/
package metrics
