package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/BaSui01/marginflow/llm/tools"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// MeterName 是执行观测使用的 instrumentation scope
const MeterName = "github.com/BaSui01/marginflow"

// Instruments records engine measurements as OTel instruments. It implements
// workflow.Recorder and tools.Recorder, so one instance serves the executor
// and the tool executor.
type Instruments struct {
	supersteps        metric.Int64Counter
	superstepDuration metric.Float64Histogram
	routes            metric.Int64Counter
	checkpoints       metric.Int64Counter
	checkpointLatency metric.Float64Histogram
	runs              metric.Int64Counter
	runSteps          metric.Int64Histogram
	toolCalls         metric.Int64Counter
	toolDuration      metric.Float64Histogram
}

var (
	_ workflow.Recorder = (*Instruments)(nil)
	_ tools.Recorder    = (*Instruments)(nil)
)

// NewInstruments registers every instrument on meter.
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	var (
		in  Instruments
		err error
	)
	counter := func(dst *metric.Int64Counter, name, desc, unit string) {
		if err != nil {
			return
		}
		*dst, err = meter.Int64Counter(name, metric.WithDescription(desc), metric.WithUnit(unit))
		if err != nil {
			err = fmt.Errorf("create %s: %w", name, err)
		}
	}
	seconds := func(dst *metric.Float64Histogram, name, desc string) {
		if err != nil {
			return
		}
		*dst, err = meter.Float64Histogram(name, metric.WithDescription(desc), metric.WithUnit("s"))
		if err != nil {
			err = fmt.Errorf("create %s: %w", name, err)
		}
	}

	counter(&in.supersteps, "marginflow.supersteps", "Supersteps executed by node and status", "{superstep}")
	seconds(&in.superstepDuration, "marginflow.superstep.duration", "Superstep duration")
	counter(&in.routes, "marginflow.routes", "Routing decisions by source, target and reason", "{decision}")
	counter(&in.checkpoints, "marginflow.checkpoints", "Checkpoint writes by status", "{write}")
	seconds(&in.checkpointLatency, "marginflow.checkpoint.duration", "Checkpoint write duration")
	counter(&in.runs, "marginflow.runs", "Invocations by outcome", "{run}")
	counter(&in.toolCalls, "marginflow.tool.calls", "Tool calls by tool and status", "{call}")
	seconds(&in.toolDuration, "marginflow.tool.duration", "Tool call duration")
	if err != nil {
		return nil, err
	}
	in.runSteps, err = meter.Int64Histogram("marginflow.run.steps",
		metric.WithDescription("Supersteps committed per invocation"),
		metric.WithUnit("{superstep}"))
	if err != nil {
		return nil, fmt.Errorf("create marginflow.run.steps: %w", err)
	}
	return &in, nil
}

// Recorder 接口不带 ctx，这里用 Background
func (in *Instruments) RecordSuperstep(node workflow.NodeID, kind workflow.NodeKind, d time.Duration, err error) {
	ctx := context.Background()
	nodeAttr := attribute.String("node", string(node))
	kindAttr := attribute.String("kind", string(kind))
	in.supersteps.Add(ctx, 1, metric.WithAttributes(nodeAttr, kindAttr, attribute.String("status", statusOf(err))))
	in.superstepDuration.Record(ctx, d.Seconds(), metric.WithAttributes(nodeAttr, kindAttr))
}

func (in *Instruments) RecordRoute(from workflow.NodeID, decision workflow.Decision) {
	in.routes.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("from", string(from)),
		attribute.String("next", string(decision.Next)),
		attribute.String("reason", string(decision.Reason)),
	))
}

func (in *Instruments) RecordCheckpoint(d time.Duration, err error) {
	ctx := context.Background()
	st := statusOf(err)
	if types.IsCode(err, types.ErrCheckpointConflict) {
		st = "conflict"
	}
	in.checkpoints.Add(ctx, 1, metric.WithAttributes(attribute.String("status", st)))
	in.checkpointLatency.Record(ctx, d.Seconds())
}

func (in *Instruments) RecordRun(outcome string, steps int) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("outcome", outcome))
	in.runs.Add(ctx, 1, attrs)
	in.runSteps.Record(ctx, int64(steps), attrs)
}

// RecordToolCall 的 status 为错误类型，成功时为 ok
func (in *Instruments) RecordToolCall(name string, errorKind types.ErrorCode, d time.Duration) {
	ctx := context.Background()
	st := "ok"
	if errorKind != "" {
		st = string(errorKind)
	}
	in.toolCalls.Add(ctx, 1, metric.WithAttributes(
		attribute.String("tool", name),
		attribute.String("status", st),
	))
	in.toolDuration.Record(ctx, d.Seconds(), metric.WithAttributes(attribute.String("tool", name)))
}

func statusOf(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
