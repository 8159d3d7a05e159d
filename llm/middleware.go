package llm

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/types"
)

// Handler processes a request and returns a response.
type Handler func(ctx context.Context, req *ChatRequest) (*ChatResponse, error)

// Middleware wraps a handler with additional functionality.
type Middleware func(next Handler) Handler

// Chain represents a middleware chain.
type Chain struct {
	middlewares []Middleware
	mu          sync.RWMutex
}

// NewChain creates a new middleware chain.
func NewChain(middlewares ...Middleware) *Chain {
	return &Chain{middlewares: middlewares}
}

// Use adds middleware to the chain.
func (c *Chain) Use(m Middleware) *Chain {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.middlewares = append(c.middlewares, m)
	return c
}

// Then wraps a handler with all middleware; the first added runs outermost.
func (c *Chain) Then(h Handler) Handler {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for i := len(c.middlewares) - 1; i >= 0; i-- {
		h = c.middlewares[i](h)
	}
	return h
}

// Len returns the number of middleware.
func (c *Chain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.middlewares)
}

// Wrap 返回套上中间件的 Provider，Name 不变
func Wrap(p Provider, middlewares ...Middleware) Provider {
	if len(middlewares) == 0 {
		return p
	}
	return &wrappedProvider{
		inner:   p,
		handler: NewChain(middlewares...).Then(p.Completion),
	}
}

type wrappedProvider struct {
	inner   Provider
	handler Handler
}

func (w *wrappedProvider) Completion(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	return w.handler(ctx, req)
}

func (w *wrappedProvider) Name() string { return w.inner.Name() }

// LoggingMiddleware logs request/response details.
func LoggingMiddleware(provider string, logger *zap.Logger) Middleware {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "llm"), zap.String("provider", provider))
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			start := time.Now()
			logger.Debug("completion request",
				zap.String("agent", req.Agent),
				zap.String("model", req.Model),
				zap.Int("messages", len(req.Messages)),
				zap.Int("tools", len(req.Tools)))

			resp, err := next(ctx, req)

			duration := time.Since(start)
			if err != nil {
				logger.Warn("completion failed", zap.String("agent", req.Agent), zap.Duration("duration", duration), zap.Error(err))
			} else {
				logger.Debug("completion response",
					zap.String("agent", req.Agent),
					zap.Int("total_tokens", resp.Usage.TotalTokens),
					zap.Duration("duration", duration))
			}
			return resp, err
		}
	}
}

// TimeoutMiddleware adds timeout to requests. A request-level Timeout wins.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			d := timeout
			if req.Timeout > 0 {
				d = req.Timeout
			}
			if d <= 0 {
				return next(ctx, req)
			}
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			return next(ctx, req)
		}
	}
}

// RecoveryMiddleware turns a provider panic into MODEL_INVOCATION_FAILED.
func RecoveryMiddleware(provider string, onPanic func(any)) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (resp *ChatResponse, err error) {
			defer func() {
				if r := recover(); r != nil {
					if onPanic != nil {
						onPanic(r)
					}
					resp = nil
					err = InvocationError(provider, &PanicError{Value: r}).WithRetryable(false)
				}
			}()
			return next(ctx, req)
		}
	}
}

// PanicError represents a recovered panic.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic recovered: %v", e.Value)
}

// MetricsCollector receives one observation per completion. internal/metrics
// implements it.
type MetricsCollector interface {
	RecordLLMRequest(provider, model string, duration time.Duration, code types.ErrorCode, usage ChatUsage)
}

// MetricsMiddleware collects request metrics.
func MetricsMiddleware(provider string, collector MetricsCollector) Middleware {
	return func(next Handler) Handler {
		return func(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
			start := time.Now()
			resp, err := next(ctx, req)

			var usage ChatUsage
			model := req.Model
			if resp != nil {
				usage = resp.Usage
				if resp.Model != "" {
					model = resp.Model
				}
			}
			var code types.ErrorCode
			if err != nil {
				code = types.GetErrorCode(err)
				if code == "" {
					code = types.ErrModelInvocationFailed
				}
			}
			collector.RecordLLMRequest(provider, model, time.Since(start), code, usage)
			return resp, err
		}
	}
}
