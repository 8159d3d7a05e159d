package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/BaSui01/marginflow/internal/database"
	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// Common errors
var (
	ErrStoreClosed  = errors.New("store is closed")
	ErrInvalidInput = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeBadger StoreType = "badger"
	StoreTypeMongo  StoreType = "mongo"
)

// ParseStoreType 解析存储类型，大小写不敏感由调用方保证
func ParseStoreType(s string) (StoreType, error) {
	switch t := StoreType(s); t {
	case StoreTypeMemory, StoreTypeFile, StoreTypeRedis, StoreTypeSQL, StoreTypeBadger, StoreTypeMongo:
		return t, nil
	case "":
		return StoreTypeMemory, nil
	default:
		return "", types.Errorf(types.ErrConfigInvalid, "unsupported checkpoint store type: %s", s)
	}
}

// RetryConfig controls how optimistic transactions are retried when the
// backend aborts them (Redis WATCH, Badger txn conflicts, SQL deadlocks).
// A version conflict is never retried.
type RetryConfig struct {
	// MaxRetries is the maximum number of retry attempts (default: 3)
	MaxRetries int `json:"max_retries" yaml:"max_retries"`

	// InitialBackoff is the initial backoff duration (default: 10ms)
	InitialBackoff time.Duration `json:"initial_backoff" yaml:"initial_backoff"`

	// MaxBackoff is the maximum backoff duration (default: 500ms)
	MaxBackoff time.Duration `json:"max_backoff" yaml:"max_backoff"`

	// BackoffMultiplier is the multiplier for exponential backoff (default: 2.0)
	BackoffMultiplier float64 `json:"backoff_multiplier" yaml:"backoff_multiplier"`
}

// DefaultRetryConfig returns the default retry configuration
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:        3,
		InitialBackoff:    10 * time.Millisecond,
		MaxBackoff:        500 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

// CalculateBackoff calculates the backoff duration for a given retry attempt
func (c RetryConfig) CalculateBackoff(attempt int) time.Duration {
	if attempt <= 0 {
		return c.InitialBackoff
	}

	backoff := c.InitialBackoff
	for i := 0; i < attempt; i++ {
		backoff = time.Duration(float64(backoff) * c.BackoffMultiplier)
		if backoff > c.MaxBackoff {
			return c.MaxBackoff
		}
	}
	return backoff
}

// wait 按重试次数退避，ctx 结束时提前返回
func (c RetryConfig) wait(ctx context.Context, attempt int) error {
	timer := time.NewTimer(c.CalculateBackoff(attempt))
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// StoreConfig is the configuration of every checkpoint backend
type StoreConfig struct {
	// Type is the storage backend type
	Type StoreType `json:"type" yaml:"type"`

	// BaseDir is the base directory for file-based storage
	BaseDir string `json:"base_dir" yaml:"base_dir"`

	// KeyPrefix namespaces Redis and Badger keys
	KeyPrefix string `json:"key_prefix" yaml:"key_prefix"`

	// TTL expires idle checkpoints in Redis and Badger; zero keeps them forever
	TTL time.Duration `json:"ttl" yaml:"ttl"`

	Redis  RedisStoreConfig  `json:"redis" yaml:"redis"`
	SQL    SQLStoreConfig    `json:"sql" yaml:"sql"`
	Badger BadgerStoreConfig `json:"badger" yaml:"badger"`
	Mongo  MongoStoreConfig  `json:"mongo" yaml:"mongo"`

	// Retry configuration
	Retry RetryConfig `json:"retry" yaml:"retry"`
}

// RedisStoreConfig contains Redis-specific configuration
type RedisStoreConfig struct {
	// Host is the Redis server host
	Host string `json:"host" yaml:"host"`

	// Port is the Redis server port
	Port int `json:"port" yaml:"port"`

	// Password is the Redis password (optional)
	Password string `json:"password" yaml:"password"`

	// DB is the Redis database number
	DB int `json:"db" yaml:"db"`

	// PoolSize is the connection pool size
	PoolSize int `json:"pool_size" yaml:"pool_size"`
}

// SQLStoreConfig 关系型数据库配置
type SQLStoreConfig struct {
	// Driver: postgres, mysql, sqlite
	Driver string `json:"driver" yaml:"driver"`
	DSN    string `json:"dsn" yaml:"dsn"`
	// AutoMigrate 启动时用 gorm 建表；生产环境建议走 migrate 子命令
	AutoMigrate bool                `json:"auto_migrate" yaml:"auto_migrate"`
	Pool        database.PoolConfig `json:"pool" yaml:"pool"`
}

// BadgerStoreConfig 嵌入式 Badger 配置
type BadgerStoreConfig struct {
	// Dir 为空时使用 BaseDir/badger
	Dir        string `json:"dir" yaml:"dir"`
	InMemory   bool   `json:"in_memory" yaml:"in_memory"`
	SyncWrites bool   `json:"sync_writes" yaml:"sync_writes"`
}

// MongoStoreConfig MongoDB 配置
type MongoStoreConfig struct {
	URI        string        `json:"uri" yaml:"uri"`
	Database   string        `json:"database" yaml:"database"`
	Collection string        `json:"collection" yaml:"collection"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultStoreConfig returns the default store configuration
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      StoreTypeMemory,
		BaseDir:   "./data/checkpoints",
		KeyPrefix: "marginflow:",
		Redis: RedisStoreConfig{
			Host:     "localhost",
			Port:     6379,
			DB:       0,
			PoolSize: 10,
		},
		SQL: SQLStoreConfig{
			Driver: "sqlite",
			DSN:    "file:./data/marginflow.db?_pragma=busy_timeout(5000)",
			Pool:   database.DefaultPoolConfig(),
		},
		Mongo: MongoStoreConfig{
			URI:        "mongodb://localhost:27017",
			Database:   "marginflow",
			Collection: "checkpoints",
			Timeout:    5 * time.Second,
		},
		Retry: DefaultRetryConfig(),
	}
}

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// CheckpointStore is a durable workflow.Checkpointer.
type CheckpointStore interface {
	workflow.Checkpointer
	Store
}

// storedVersion 读取已存文档的版本号；文档无法解析时视为损坏
func storedVersion(threadID string, data []byte) (int, error) {
	var head struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return 0, types.Errorf(types.ErrCheckpointCorrupt, "decode stored version for %s", threadID).WithCause(err)
	}
	return head.Version, nil
}

func validThread(threadID string) error {
	if threadID == "" {
		return types.NewError(types.ErrInvalidRequest, "empty thread id").WithCause(ErrInvalidInput)
	}
	return nil
}
