package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/BaSui01/marginflow/internal/database"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// CheckpointTable 检查点表名，与 internal/migration 中的迁移保持一致
const CheckpointTable = "checkpoints"

// checkpointRecord 检查点表的一行
type checkpointRecord struct {
	ThreadID  string    `gorm:"column:thread_id;primaryKey;size:255"`
	Version   int       `gorm:"column:version;not null"`
	Data      string    `gorm:"column:data;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (checkpointRecord) TableName() string { return CheckpointTable }

// SQLCheckpointStore 基于 GORM 的检查点存储，支持 PostgreSQL、MySQL、SQLite。
// 版本比较由条件写完成：首个版本用 INSERT ... ON CONFLICT DO NOTHING，
// 之后用 UPDATE ... WHERE version = n-1，影响行数为 0 即冲突。
type SQLCheckpointStore struct {
	pool    *database.PoolManager
	retries int
	closed  atomic.Bool
	logger  *zap.Logger
}

// NewSQLCheckpointStore 打开数据库并创建存储
func NewSQLCheckpointStore(config StoreConfig, logger *zap.Logger) (*SQLCheckpointStore, error) {
	pool, err := database.Open(config.SQL.Driver, config.SQL.DSN, config.SQL.Pool, logger)
	if err != nil {
		return nil, err
	}
	store, err := NewSQLCheckpointStoreWithPool(pool, config, logger)
	if err != nil {
		_ = pool.Close()
		return nil, err
	}
	return store, nil
}

// NewSQLCheckpointStoreWithPool 复用已有连接池，Close 时一并关闭
func NewSQLCheckpointStoreWithPool(pool *database.PoolManager, config StoreConfig, logger *zap.Logger) (*SQLCheckpointStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &SQLCheckpointStore{
		pool:    pool,
		retries: config.Retry.MaxRetries + 1,
		logger:  logger.With(zap.String("component", "sql_checkpoint_store"), zap.String("dialect", pool.Dialect())),
	}
	if config.SQL.AutoMigrate {
		if err := pool.DB().AutoMigrate(&checkpointRecord{}); err != nil {
			return nil, fmt.Errorf("migrate %s table: %w", CheckpointTable, err)
		}
	}
	return s, nil
}

func (s *SQLCheckpointStore) Save(ctx context.Context, cp *workflow.Checkpoint) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, err := workflow.MarshalCheckpoint(cp)
	if err != nil {
		return err
	}
	rec := checkpointRecord{
		ThreadID:  cp.ThreadID,
		Version:   cp.Version,
		Data:      string(data),
		UpdatedAt: cp.UpdatedAt.UTC(),
	}
	if rec.UpdatedAt.IsZero() {
		rec.UpdatedAt = time.Now().UTC()
	}

	err = s.pool.WithTransactionRetry(ctx, s.retries, func(tx *gorm.DB) error {
		var res *gorm.DB
		if cp.Version == 1 {
			res = tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&rec)
		} else {
			res = tx.Model(&checkpointRecord{}).
				Where("thread_id = ? AND version = ?", cp.ThreadID, cp.Version-1).
				Updates(map[string]any{
					"version":    rec.Version,
					"data":       rec.Data,
					"updated_at": rec.UpdatedAt,
				})
		}
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return s.conflict(tx, cp)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.logger.Debug("checkpoint written",
		zap.String("thread_id", cp.ThreadID),
		zap.Int("version", cp.Version))
	return nil
}

// conflict 读取当前版本生成冲突错误
func (s *SQLCheckpointStore) conflict(tx *gorm.DB, cp *workflow.Checkpoint) error {
	var current checkpointRecord
	stored := 0
	err := tx.Select("version").Where("thread_id = ?", cp.ThreadID).Take(&current).Error
	switch {
	case err == nil:
		stored = current.Version
	case !errors.Is(err, gorm.ErrRecordNotFound):
		return err
	}
	if err := workflow.CheckVersion(cp.ThreadID, stored, cp.Version); err != nil {
		return err
	}
	return types.Errorf(types.ErrCheckpointConflict, "thread %s: concurrent write of version %d", cp.ThreadID, cp.Version)
}

func (s *SQLCheckpointStore) Load(ctx context.Context, threadID string) (*workflow.Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	if err := validThread(threadID); err != nil {
		return nil, err
	}
	var rec checkpointRecord
	err := s.pool.DB().WithContext(ctx).Where("thread_id = ?", threadID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, workflow.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	return workflow.UnmarshalCheckpoint(threadID, []byte(rec.Data))
}

func (s *SQLCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := validThread(threadID); err != nil {
		return err
	}
	err := s.pool.DB().WithContext(ctx).Where("thread_id = ?", threadID).Delete(&checkpointRecord{}).Error
	if err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Close 关闭存储及连接池
func (s *SQLCheckpointStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.pool.Close()
}

// Ping 检查数据库连接
func (s *SQLCheckpointStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.pool.Ping(ctx)
}

// Dialect 返回底层数据库方言
func (s *SQLCheckpointStore) Dialect() string { return s.pool.Dialect() }

// PoolStats 返回连接池统计，供指标导出
func (s *SQLCheckpointStore) PoolStats() database.PoolStats { return s.pool.GetStats() }
