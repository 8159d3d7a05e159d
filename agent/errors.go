package agent

import "errors"

var (
	// ErrProviderNotSet 推理服务未设置
	ErrProviderNotSet = errors.New("llm provider not set")

	// ErrConfigInvalid 配置无效
	ErrConfigInvalid = errors.New("invalid agent config")
)
