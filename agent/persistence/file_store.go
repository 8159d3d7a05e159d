package persistence

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/workflow"
)

// FileCheckpointStore 每个线程一个 JSON 文件，写入走临时文件加重命名。
// 版本校验依赖进程内锁，多个进程共享同一目录时不安全。
type FileCheckpointStore struct {
	dir    string
	mu     sync.Mutex
	closed bool
	logger *zap.Logger
}

// NewFileCheckpointStore 在 BaseDir 下创建文件存储
func NewFileCheckpointStore(config StoreConfig, logger *zap.Logger) (*FileCheckpointStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dir := config.BaseDir
	if dir == "" {
		dir = DefaultStoreConfig().BaseDir
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create checkpoint directory: %w", err)
	}
	return &FileCheckpointStore{
		dir:    dir,
		logger: logger.With(zap.String("component", "file_checkpoint_store"), zap.String("dir", dir)),
	}, nil
}

// path 线程 ID 经过转义，不会逃出存储目录
func (s *FileCheckpointStore) path(threadID string) string {
	return filepath.Join(s.dir, url.PathEscape(threadID)+".json")
}

func (s *FileCheckpointStore) Save(ctx context.Context, cp *workflow.Checkpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := workflow.MarshalCheckpoint(cp)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}

	path := s.path(cp.ThreadID)
	stored := 0
	current, err := os.ReadFile(path)
	switch {
	case err == nil:
		if stored, err = storedVersion(cp.ThreadID, current); err != nil {
			return err
		}
	case !errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("read checkpoint %s: %w", cp.ThreadID, err)
	}
	if err := workflow.CheckVersion(cp.ThreadID, stored, cp.Version); err != nil {
		return err
	}

	// 原子写: 写入临时文件后重命名
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write checkpoint %s: %w", cp.ThreadID, err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("commit checkpoint %s: %w", cp.ThreadID, err)
	}
	s.logger.Debug("checkpoint written",
		zap.String("thread_id", cp.ThreadID),
		zap.Int("version", cp.Version))
	return nil
}

func (s *FileCheckpointStore) Load(ctx context.Context, threadID string) (*workflow.Checkpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validThread(threadID); err != nil {
		return nil, err
	}
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return nil, ErrStoreClosed
	}

	data, err := os.ReadFile(s.path(threadID))
	if errors.Is(err, os.ErrNotExist) {
		return nil, workflow.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("read checkpoint %s: %w", threadID, err)
	}
	return workflow.UnmarshalCheckpoint(threadID, data)
}

func (s *FileCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validThread(threadID); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if err := os.Remove(s.path(threadID)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Close 关闭存储
func (s *FileCheckpointStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

// Ping 检查目录是否可访问
func (s *FileCheckpointStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return ErrStoreClosed
	}
	if _, err := os.Stat(s.dir); err != nil {
		return fmt.Errorf("checkpoint directory unavailable: %w", err)
	}
	return ctx.Err()
}
