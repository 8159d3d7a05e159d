// Package metrics provides internal metrics collection.
// This package is internal and should not be imported by external projects.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/internal/database"
	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/llm/tools"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

var (
	_ workflow.Recorder    = (*Collector)(nil)
	_ tools.Recorder       = (*Collector)(nil)
	_ llm.MetricsCollector = (*Collector)(nil)
)

// =============================================================================
// 📊 指标收集器
// =============================================================================

// Collector 指标收集器，每个实例拥有独立的 Registry
type Collector struct {
	registry *prometheus.Registry

	// 执行器指标
	runsTotal          *prometheus.CounterVec
	runSteps           prometheus.Histogram
	superstepsTotal    *prometheus.CounterVec
	superstepDuration  *prometheus.HistogramVec
	routesTotal        *prometheus.CounterVec
	checkpointsTotal   *prometheus.CounterVec
	checkpointDuration prometheus.Histogram

	// 工具指标
	toolCallsTotal   *prometheus.CounterVec
	toolCallDuration *prometheus.HistogramVec

	// LLM 指标
	llmRequestsTotal   *prometheus.CounterVec
	llmRequestDuration *prometheus.HistogramVec
	llmTokensUsed      *prometheus.CounterVec

	// 数据库指标
	dbConnectionsOpen *prometheus.GaugeVec
	dbConnectionsIdle *prometheus.GaugeVec
	dbWaitCount       *prometheus.GaugeVec

	logger *zap.Logger
}

// NewCollector 创建指标收集器
func NewCollector(namespace string, logger *zap.Logger) *Collector {
	if logger == nil {
		logger = zap.NewNop()
	}
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	c := &Collector{
		registry: reg,
		logger:   logger.With(zap.String("component", "metrics")),
	}

	// 执行器指标
	c.runsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Total number of graph invocations by outcome",
		},
		[]string{"outcome"},
	)

	c.runSteps = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "run_supersteps",
			Help:      "Supersteps committed per invocation",
			Buckets:   []float64{1, 2, 4, 6, 8, 12, 16, 25, 50},
		},
	)

	c.superstepsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "supersteps_total",
			Help:      "Total number of executed supersteps",
		},
		[]string{"node", "kind", "status"},
	)

	c.superstepDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "superstep_duration_seconds",
			Help:      "Superstep duration in seconds",
			Buckets:   []float64{0.001, 0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"node", "kind"},
	)

	c.routesTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "routes_total",
			Help:      "Total number of routing decisions",
		},
		[]string{"from", "to", "reason"},
	)

	c.checkpointsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "checkpoint_saves_total",
			Help:      "Total number of checkpoint saves by status",
		},
		[]string{"status"},
	)

	c.checkpointDuration = factory.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "checkpoint_save_duration_seconds",
			Help:      "Checkpoint save duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
	)

	// 工具指标
	c.toolCallsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tool_calls_total",
			Help:      "Total number of tool calls",
		},
		[]string{"tool", "status"},
	)

	c.toolCallDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "tool_call_duration_seconds",
			Help:      "Tool call duration in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"tool"},
	)

	// LLM 指标
	c.llmRequestsTotal = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_requests_total",
			Help:      "Total number of LLM requests",
		},
		[]string{"provider", "model", "status"},
	)

	c.llmRequestDuration = factory.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "llm_request_duration_seconds",
			Help:      "LLM request duration in seconds",
			Buckets:   []float64{0.001, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"provider", "model"},
	)

	c.llmTokensUsed = factory.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_used_total",
			Help:      "Total number of tokens used",
		},
		[]string{"provider", "model", "type"}, // type: prompt, completion
	)

	// 数据库指标
	c.dbConnectionsOpen = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_open",
			Help:      "Number of open database connections",
		},
		[]string{"database"},
	)

	c.dbConnectionsIdle = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connections_idle",
			Help:      "Number of idle database connections",
		},
		[]string{"database"},
	)

	c.dbWaitCount = factory.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "db_connection_waits",
			Help:      "Total number of connections waited for",
		},
		[]string{"database"},
	)

	c.logger.Debug("metrics collector initialized", zap.String("namespace", namespace))
	return c
}

// Registry 返回收集器专属的 Registry
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// WriteTextfile 以 node_exporter textfile 格式写出当前指标
func (c *Collector) WriteTextfile(path string) error {
	if err := prometheus.WriteToTextfile(path, c.registry); err != nil {
		return err
	}
	c.logger.Debug("metrics written", zap.String("path", path))
	return nil
}

// =============================================================================
// 🔀 执行器指标记录
// =============================================================================

// RecordSuperstep 记录一次超步
func (c *Collector) RecordSuperstep(node workflow.NodeID, kind workflow.NodeKind, d time.Duration, err error) {
	c.superstepsTotal.WithLabelValues(string(node), string(kind), status(err)).Inc()
	c.superstepDuration.WithLabelValues(string(node), string(kind)).Observe(d.Seconds())
}

// RecordRoute 记录路由决策
func (c *Collector) RecordRoute(from workflow.NodeID, decision workflow.Decision) {
	c.routesTotal.WithLabelValues(string(from), string(decision.Next), string(decision.Reason)).Inc()
}

// RecordCheckpoint 记录检查点写入
func (c *Collector) RecordCheckpoint(d time.Duration, err error) {
	st := status(err)
	if types.IsCode(err, types.ErrCheckpointConflict) {
		st = "conflict"
	}
	c.checkpointsTotal.WithLabelValues(st).Inc()
	c.checkpointDuration.Observe(d.Seconds())
}

// RecordRun 记录一次调用的结果
func (c *Collector) RecordRun(outcome string, steps int) {
	c.runsTotal.WithLabelValues(outcome).Inc()
	c.runSteps.Observe(float64(steps))
}

// =============================================================================
// 🔧 工具与 LLM 指标记录
// =============================================================================

// RecordToolCall 记录工具调用，errorKind 为空表示成功
func (c *Collector) RecordToolCall(name string, errorKind types.ErrorCode, d time.Duration) {
	st := "ok"
	if errorKind != "" {
		st = string(errorKind)
	}
	c.toolCallsTotal.WithLabelValues(name, st).Inc()
	c.toolCallDuration.WithLabelValues(name).Observe(d.Seconds())
}

// RecordLLMRequest 记录 LLM 请求
func (c *Collector) RecordLLMRequest(provider, model string, d time.Duration, code types.ErrorCode, usage llm.ChatUsage) {
	st := "ok"
	if code != "" {
		st = string(code)
	}
	c.llmRequestsTotal.WithLabelValues(provider, model, st).Inc()
	c.llmRequestDuration.WithLabelValues(provider, model).Observe(d.Seconds())
	c.llmTokensUsed.WithLabelValues(provider, model, "prompt").Add(float64(usage.PromptTokens))
	c.llmTokensUsed.WithLabelValues(provider, model, "completion").Add(float64(usage.CompletionTokens))
}

// =============================================================================
// 🗄️ 数据库指标记录
// =============================================================================

// RecordDBConnections 记录连接池快照
func (c *Collector) RecordDBConnections(db string, stats database.PoolStats) {
	c.dbConnectionsOpen.WithLabelValues(db).Set(float64(stats.OpenConnections))
	c.dbConnectionsIdle.WithLabelValues(db).Set(float64(stats.Idle))
	c.dbWaitCount.WithLabelValues(db).Set(float64(stats.WaitCount))
}

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
