package persistence

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

const (
	fieldVersion = "version"
	fieldData    = "data"
)

// RedisCheckpointStore 基于 Redis Hash 的检查点存储，适合分布式部署。
// 每个线程一个 Hash{version, data}，写入用 WATCH/MULTI 做版本比较。
type RedisCheckpointStore struct {
	client    *redis.Client
	keyPrefix string
	ttl       time.Duration
	retry     RetryConfig
	closed    atomic.Bool
	logger    *zap.Logger
}

// NewRedisCheckpointStore 连接 Redis 并创建存储
func NewRedisCheckpointStore(config StoreConfig, logger *zap.Logger) (*RedisCheckpointStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", config.Redis.Host, config.Redis.Port),
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}
	return NewRedisCheckpointStoreWithClient(client, config, logger), nil
}

// NewRedisCheckpointStoreWithClient 复用已有客户端，Close 时一并关闭
func NewRedisCheckpointStoreWithClient(client *redis.Client, config StoreConfig, logger *zap.Logger) *RedisCheckpointStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	keyPrefix := config.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = DefaultStoreConfig().KeyPrefix
	}
	return &RedisCheckpointStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
		ttl:       config.TTL,
		retry:     config.Retry,
		logger:    logger.With(zap.String("component", "redis_checkpoint_store")),
	}
}

func (s *RedisCheckpointStore) key(threadID string) string {
	return s.keyPrefix + threadID
}

func (s *RedisCheckpointStore) Save(ctx context.Context, cp *workflow.Checkpoint) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, err := workflow.MarshalCheckpoint(cp)
	if err != nil {
		return err
	}
	key := s.key(cp.ThreadID)

	txf := func(tx *redis.Tx) error {
		stored := 0
		raw, err := tx.HGet(ctx, key, fieldVersion).Result()
		switch {
		case errors.Is(err, redis.Nil):
		case err != nil:
			return err
		default:
			if stored, err = strconv.Atoi(raw); err != nil {
				return types.Errorf(types.ErrCheckpointCorrupt, "stored version of %s", cp.ThreadID).WithCause(err)
			}
		}
		if err := workflow.CheckVersion(cp.ThreadID, stored, cp.Version); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.HSet(ctx, key, fieldVersion, cp.Version, fieldData, data)
			if s.ttl > 0 {
				pipe.Expire(ctx, key, s.ttl)
			}
			return nil
		})
		return err
	}

	for attempt := 0; ; attempt++ {
		err := s.client.Watch(ctx, txf, key)
		if !errors.Is(err, redis.TxFailedErr) {
			if err == nil {
				s.logger.Debug("checkpoint written",
					zap.String("thread_id", cp.ThreadID),
					zap.Int("version", cp.Version))
			}
			return err
		}
		if attempt >= s.retry.MaxRetries {
			return types.Errorf(types.ErrCheckpointConflict,
				"thread %s: concurrent writers after %d attempts", cp.ThreadID, attempt+1).WithCause(err)
		}
		s.logger.Debug("watched key changed, retrying",
			zap.String("thread_id", cp.ThreadID),
			zap.Int("attempt", attempt+1))
		if err := s.retry.wait(ctx, attempt); err != nil {
			return err
		}
	}
}

func (s *RedisCheckpointStore) Load(ctx context.Context, threadID string) (*workflow.Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	if err := validThread(threadID); err != nil {
		return nil, err
	}
	data, err := s.client.HGet(ctx, s.key(threadID), fieldData).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, workflow.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	return workflow.UnmarshalCheckpoint(threadID, data)
}

func (s *RedisCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := validThread(threadID); err != nil {
		return err
	}
	if err := s.client.Del(ctx, s.key(threadID)).Err(); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Close closes the store
func (s *RedisCheckpointStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisCheckpointStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.client.Ping(ctx).Err()
}
