package persistence

import (
	"context"
	"sync/atomic"

	"github.com/BaSui01/marginflow/workflow"
)

// MemoryCheckpointStore 内存检查点存储，适合开发与测试，进程退出即丢失
type MemoryCheckpointStore struct {
	inner  *workflow.InMemoryCheckpointer
	closed atomic.Bool
}

// NewMemoryCheckpointStore 创建内存存储
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{inner: workflow.NewInMemoryCheckpointer()}
}

func (s *MemoryCheckpointStore) Save(ctx context.Context, cp *workflow.Checkpoint) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.inner.Save(ctx, cp)
}

func (s *MemoryCheckpointStore) Load(ctx context.Context, threadID string) (*workflow.Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	return s.inner.Load(ctx, threadID)
}

func (s *MemoryCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.inner.Delete(ctx, threadID)
}

// Close 关闭存储
func (s *MemoryCheckpointStore) Close() error {
	s.closed.Store(true)
	return nil
}

// Ping 检查存储是否可用
func (s *MemoryCheckpointStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return ctx.Err()
}
