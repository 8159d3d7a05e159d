// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

/*
Package main 提供 marginflow 命令行入口。

# 子命令

  - run：启动或恢复一个升级线程，打印转录与最终游标
  - checkpoint show|reset：查看或删除线程检查点
  - migrate up|down|status|version|info|force：管理 SQL 检查点表结构
  - version：版本信息（Version、BuildTime、GitCommit 通过 ldflags 注入）

配置按 默认值 → YAML(--config) → MARGINFLOW_* 环境变量 的顺序加载，
日志由 log 段构建。启用 metrics 时，运行结束后把 Prometheus 指标写入
metrics.textfile_path。
*/
package main
