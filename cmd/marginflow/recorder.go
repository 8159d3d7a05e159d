package main

import (
	"time"

	"github.com/BaSui01/marginflow/llm/tools"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

type recorder interface {
	workflow.Recorder
	tools.Recorder
}

// fanout 把每条观测转发给所有后端
type fanout []recorder

func (f fanout) RecordSuperstep(node workflow.NodeID, kind workflow.NodeKind, d time.Duration, err error) {
	for _, r := range f {
		r.RecordSuperstep(node, kind, d, err)
	}
}

func (f fanout) RecordRoute(from workflow.NodeID, decision workflow.Decision) {
	for _, r := range f {
		r.RecordRoute(from, decision)
	}
}

func (f fanout) RecordCheckpoint(d time.Duration, err error) {
	for _, r := range f {
		r.RecordCheckpoint(d, err)
	}
}

func (f fanout) RecordRun(outcome string, steps int) {
	for _, r := range f {
		r.RecordRun(outcome, steps)
	}
}

func (f fanout) RecordToolCall(name string, errorKind types.ErrorCode, d time.Duration) {
	for _, r := range f {
		r.RecordToolCall(name, errorKind, d)
	}
}
