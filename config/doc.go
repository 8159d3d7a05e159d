// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

// Package config 提供 MarginFlow 的配置加载与校验。
//
// 加载顺序为默认值、YAML 文件、MARGINFLOW_ 前缀的环境变量；
// 字段约束由 validator 的 struct tag 声明，Validate 额外检查跨段约束。
package config
