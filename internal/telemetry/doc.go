// Copyright (c) MarginFlow Authors.
// Licensed under the MIT License.

// Package telemetry 封装 OpenTelemetry SDK 初始化。启用时注册 OTLP gRPC
// 的 TracerProvider 与 MeterProvider，workflow 执行器的 span 经由全局
// provider 导出；禁用时保持 noop，不连接任何外部服务。
//
// Instruments 在 MeterProvider 上注册引擎的计数器与直方图，同时实现
// workflow.Recorder 与 tools.Recorder。
package telemetry
