package persistence

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// BadgerCheckpointStore 嵌入式 Badger 检查点存储，适合无外部依赖的单节点部署。
// 版本比较在同一事务内完成，提交冲突按 Retry 重试。
type BadgerCheckpointStore struct {
	db        *badger.DB
	update    func(fn func(txn *badger.Txn) error) error
	keyPrefix string
	ttl       time.Duration
	retry     RetryConfig
	closed    atomic.Bool
	logger    *zap.Logger
}

// badgerLogger 把 Badger 的日志接到 zap
type badgerLogger struct {
	logger *zap.SugaredLogger
}

func (l *badgerLogger) Errorf(format string, args ...any)   { l.logger.Errorf(format, args...) }
func (l *badgerLogger) Warningf(format string, args ...any) { l.logger.Warnf(format, args...) }
func (l *badgerLogger) Infof(format string, args ...any)    { l.logger.Debugf(format, args...) }
func (l *badgerLogger) Debugf(format string, args ...any)   { l.logger.Debugf(format, args...) }

// NewBadgerCheckpointStore 打开 Badger 并创建存储
func NewBadgerCheckpointStore(config StoreConfig, logger *zap.Logger) (*BadgerCheckpointStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("component", "badger_checkpoint_store"))

	var opts badger.Options
	if config.Badger.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		dir := config.Badger.Dir
		if dir == "" {
			base := config.BaseDir
			if base == "" {
				base = DefaultStoreConfig().BaseDir
			}
			dir = filepath.Join(base, "badger")
		}
		opts = badger.DefaultOptions(dir).WithSyncWrites(config.Badger.SyncWrites)
	}
	opts = opts.WithLogger(&badgerLogger{logger: logger.Sugar()})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger: %w", err)
	}

	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultStoreConfig().KeyPrefix
	}
	return &BadgerCheckpointStore{
		db:        db,
		update:    db.Update,
		keyPrefix: keyPrefix + "checkpoint:",
		ttl:       config.TTL,
		retry:     config.Retry,
		logger:    logger,
	}, nil
}

func (s *BadgerCheckpointStore) key(threadID string) []byte {
	return []byte(s.keyPrefix + threadID)
}

func (s *BadgerCheckpointStore) Save(ctx context.Context, cp *workflow.Checkpoint) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, err := workflow.MarshalCheckpoint(cp)
	if err != nil {
		return err
	}
	key := s.key(cp.ThreadID)

	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.update(func(txn *badger.Txn) error {
			stored := 0
			item, err := txn.Get(key)
			switch {
			case errors.Is(err, badger.ErrKeyNotFound):
			case err != nil:
				return err
			default:
				if err := item.Value(func(val []byte) error {
					stored, err = storedVersion(cp.ThreadID, val)
					return err
				}); err != nil {
					return err
				}
			}
			if err := workflow.CheckVersion(cp.ThreadID, stored, cp.Version); err != nil {
				return err
			}
			entry := badger.NewEntry(key, data)
			if s.ttl > 0 {
				entry = entry.WithTTL(s.ttl)
			}
			return txn.SetEntry(entry)
		})
		if !errors.Is(err, badger.ErrConflict) {
			if err == nil {
				s.logger.Debug("checkpoint written",
					zap.String("thread_id", cp.ThreadID),
					zap.Int("version", cp.Version))
			}
			return err
		}
		if attempt >= s.retry.MaxRetries {
			return types.Errorf(types.ErrCheckpointConflict,
				"thread %s: transaction conflict on version %d after %d attempts", cp.ThreadID, cp.Version, attempt+1).WithCause(err)
		}
		s.logger.Debug("badger transaction conflict, retrying",
			zap.String("thread_id", cp.ThreadID),
			zap.Int("attempt", attempt+1))
		if err := s.retry.wait(ctx, attempt); err != nil {
			return err
		}
	}
}

func (s *BadgerCheckpointStore) Load(ctx context.Context, threadID string) (*workflow.Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validThread(threadID); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(threadID))
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, workflow.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	return workflow.UnmarshalCheckpoint(threadID, data)
}

func (s *BadgerCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validThread(threadID); err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(threadID))
	})
}

// Close 关闭 Badger
func (s *BadgerCheckpointStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.db.Close()
}

// Ping 检查数据库是否已关闭
func (s *BadgerCheckpointStore) Ping(ctx context.Context) error {
	if s.closed.Load() || s.db.IsClosed() {
		return ErrStoreClosed
	}
	return ctx.Err()
}
