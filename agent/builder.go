package agent

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/llm/tools"
	"github.com/BaSui01/marginflow/types"
)

// AgentBuilder 提供流式构建 AgentNode 的能力
type AgentBuilder struct {
	config   Config
	provider llm.Provider
	registry tools.ToolRegistry
	schemas  []types.ToolSchema
	logger   *zap.Logger

	errors []error
}

// NewAgentBuilder 创建 Agent 构建器
func NewAgentBuilder(config Config) *AgentBuilder {
	return &AgentBuilder{
		config: config,
		errors: make([]error, 0),
	}
}

// WithProvider 设置推理服务
func (b *AgentBuilder) WithProvider(provider llm.Provider) *AgentBuilder {
	if provider == nil {
		b.errors = append(b.errors, fmt.Errorf("provider cannot be nil"))
		return b
	}
	b.provider = provider
	return b
}

// WithToolRegistry 从注册表解析 Config.Tools 的声明
func (b *AgentBuilder) WithToolRegistry(registry tools.ToolRegistry) *AgentBuilder {
	if registry == nil {
		b.errors = append(b.errors, fmt.Errorf("tool registry cannot be nil"))
		return b
	}
	b.registry = registry
	return b
}

// WithToolSchemas 直接声明工具，并把名称并入 Config.Tools
func (b *AgentBuilder) WithToolSchemas(schemas ...types.ToolSchema) *AgentBuilder {
	for _, s := range schemas {
		if s.Name == "" {
			b.errors = append(b.errors, fmt.Errorf("tool schema name cannot be empty"))
			continue
		}
		b.schemas = append(b.schemas, s)
		b.config.Tools = append(b.config.Tools, s.Name)
	}
	return b
}

// WithLogger 设置日志器
func (b *AgentBuilder) WithLogger(logger *zap.Logger) *AgentBuilder {
	if logger == nil {
		b.errors = append(b.errors, fmt.Errorf("logger cannot be nil"))
		return b
	}
	b.logger = logger
	return b
}

// Build 构建 AgentNode
func (b *AgentBuilder) Build() (*AgentNode, error) {
	if err := b.Validate(); err != nil {
		return nil, err
	}
	if b.logger == nil {
		b.logger = zap.NewNop()
	}

	schemas, err := b.resolveSchemas()
	if err != nil {
		return nil, err
	}

	cfg := b.config
	cfg.Tools = dedupe(cfg.Tools)
	return &AgentNode{
		config:   cfg,
		provider: b.provider,
		schemas:  schemas,
		logger: b.logger.With(
			zap.String("component", "agent"),
			zap.String("agent", cfg.Name),
		),
	}, nil
}

// resolveSchemas 按 Config.Tools 顺序给出声明；显式声明优先于注册表
func (b *AgentBuilder) resolveSchemas() ([]types.ToolSchema, error) {
	explicit := make(map[string]types.ToolSchema, len(b.schemas))
	for _, s := range b.schemas {
		explicit[s.Name] = s
	}

	names := dedupe(b.config.Tools)
	out := make([]types.ToolSchema, 0, len(names))
	for _, name := range names {
		if s, ok := explicit[name]; ok {
			out = append(out, s)
			continue
		}
		if b.registry == nil {
			return nil, fmt.Errorf("agent %s: tool %q has no schema and no registry is set", b.config.Name, name)
		}
		_, meta, err := b.registry.Get(name)
		if err != nil {
			return nil, fmt.Errorf("agent %s: %w", b.config.Name, err)
		}
		out = append(out, meta.Schema)
	}
	return out, nil
}

// Validate 验证配置是否有效
func (b *AgentBuilder) Validate() error {
	if len(b.errors) > 0 {
		return fmt.Errorf("builder has %d errors: %v", len(b.errors), b.errors[0])
	}

	if b.config.Name == "" {
		return fmt.Errorf("%w: agent name is required", ErrConfigInvalid)
	}

	if b.config.Instruction == "" {
		return fmt.Errorf("%w: agent %s has no instruction", ErrConfigInvalid, b.config.Name)
	}

	if b.provider == nil {
		return ErrProviderNotSet
	}

	return nil
}

func dedupe(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	return out
}
