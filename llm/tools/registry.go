package tools

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/xeipuuv/gojsonschema"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/BaSui01/marginflow/types"
)

// DefaultTimeout applies to tools registered without a timeout.
const DefaultTimeout = 30 * time.Second

// ErrToolNotFound is returned by Get for unregistered names.
var ErrToolNotFound = errors.New("tool not found")

// ToolFunc defines the tool function signature.
type ToolFunc func(ctx context.Context, args json.RawMessage) (json.RawMessage, error)

// ToolMetadata describes tool metadata.
type ToolMetadata struct {
	Schema    types.ToolSchema // Tool JSON Schema
	RateLimit *RateLimitConfig // Rate limit config (optional)
	Timeout   time.Duration    // Execution timeout (default 30s)
}

// RateLimitConfig defines rate limit configuration.
type RateLimitConfig struct {
	MaxCalls int           // Maximum calls
	Window   time.Duration // Time window
}

// ToolRegistry defines tool registry interface.
type ToolRegistry interface {
	Register(name string, fn ToolFunc, metadata ToolMetadata) error
	Unregister(name string) error
	Get(name string) (ToolFunc, ToolMetadata, error)
	List() []types.ToolSchema
	Has(name string) bool
	// Validate checks args against the tool's input schema.
	Validate(name string, args json.RawMessage) error
	// Allow consumes one call from the tool's rate limit, if any.
	Allow(name string) error
}

// ====== 实现：DefaultRegistry ======

type DefaultRegistry struct {
	mu       sync.RWMutex
	tools    map[string]ToolFunc
	metadata map[string]ToolMetadata
	schemas  map[string]*gojsonschema.Schema
	limiters map[string]*rate.Limiter // 工具级别的速率限制器
	logger   *zap.Logger
}

// NewDefaultRegistry 创建默认的工具注册中心。
func NewDefaultRegistry(logger *zap.Logger) *DefaultRegistry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DefaultRegistry{
		tools:    make(map[string]ToolFunc),
		metadata: make(map[string]ToolMetadata),
		schemas:  make(map[string]*gojsonschema.Schema),
		limiters: make(map[string]*rate.Limiter),
		logger:   logger.With(zap.String("component", "tool_registry")),
	}
}

func (r *DefaultRegistry) Register(name string, fn ToolFunc, metadata ToolMetadata) error {
	if fn == nil {
		return fmt.Errorf("tool %s has no handler", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}

	// 校验 Schema
	if metadata.Schema.Name == "" {
		metadata.Schema.Name = name
	}
	if metadata.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", metadata.Schema.Name, name)
	}
	if len(metadata.Schema.Parameters) > 0 {
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(metadata.Schema.Parameters))
		if err != nil {
			return fmt.Errorf("tool %s: invalid input schema: %w", name, err)
		}
		r.schemas[name] = schema
	}

	// 设置默认超时
	if metadata.Timeout == 0 {
		metadata.Timeout = DefaultTimeout
	}

	r.tools[name] = fn
	r.metadata[name] = metadata

	// 初始化速率限制器
	if rl := metadata.RateLimit; rl != nil && rl.MaxCalls > 0 && rl.Window > 0 {
		r.limiters[name] = rate.NewLimiter(rate.Limit(float64(rl.MaxCalls)/rl.Window.Seconds()), rl.MaxCalls)
	}

	r.logger.Info("tool registered", zap.String("name", name), zap.Duration("timeout", metadata.Timeout))
	return nil
}

func (r *DefaultRegistry) Unregister(name string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.tools[name]; !exists {
		return fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}

	delete(r.tools, name)
	delete(r.metadata, name)
	delete(r.schemas, name)
	delete(r.limiters, name)

	r.logger.Info("tool unregistered", zap.String("name", name))
	return nil
}

func (r *DefaultRegistry) Get(name string) (ToolFunc, ToolMetadata, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	fn, ok := r.tools[name]
	if !ok {
		return nil, ToolMetadata{}, fmt.Errorf("%w: %s", ErrToolNotFound, name)
	}
	return fn, r.metadata[name], nil
}

// List returns all tool schemas sorted by name.
func (r *DefaultRegistry) List() []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	schemas := make([]types.ToolSchema, 0, len(r.metadata))
	for _, meta := range r.metadata {
		schemas = append(schemas, meta.Schema)
	}
	sort.Slice(schemas, func(i, j int) bool { return schemas[i].Name < schemas[j].Name })
	return schemas
}

// Schemas returns the schemas of the named tools, skipping unknown names.
func (r *DefaultRegistry) Schemas(names ...string) []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ToolSchema, 0, len(names))
	for _, name := range names {
		if meta, ok := r.metadata[name]; ok {
			out = append(out, meta.Schema)
		}
	}
	return out
}

func (r *DefaultRegistry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.tools[name]
	return ok
}

func (r *DefaultRegistry) Validate(name string, args json.RawMessage) error {
	r.mu.RLock()
	schema, ok := r.schemas[name]
	r.mu.RUnlock()

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}
	if !json.Valid(args) {
		return types.Errorf(types.ErrToolExecutionFailed, "%s: arguments are not valid JSON", name)
	}
	if !ok {
		return nil
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(args))
	if err != nil {
		return types.Errorf(types.ErrToolExecutionFailed, "%s: schema validation failed", name).WithCause(err)
	}
	if !result.Valid() {
		var problems []string
		for _, e := range result.Errors() {
			problems = append(problems, e.String())
		}
		return types.Errorf(types.ErrToolExecutionFailed, "%s: %s", name, strings.Join(problems, "; "))
	}
	return nil
}

func (r *DefaultRegistry) Allow(name string) error {
	r.mu.RLock()
	limiter, ok := r.limiters[name]
	r.mu.RUnlock()

	if !ok {
		return nil // 没有速率限制
	}
	if !limiter.Allow() {
		return types.Errorf(types.ErrToolExecutionFailed, "%s: rate limit exceeded", name)
	}
	return nil
}
