package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/types"
	"github.com/BaSui01/marginflow/workflow"
)

// mongoCheckpoint 集合中的文档，_id 即线程 ID
type mongoCheckpoint struct {
	ThreadID  string    `bson:"_id"`
	Version   int       `bson:"version"`
	Data      string    `bson:"data"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoCheckpointStore MongoDB 检查点存储。
// 首个版本 InsertOne（_id 唯一），之后按 {_id, version: n-1} 条件更新。
type MongoCheckpointStore struct {
	client  *mongo.Client
	coll    *mongo.Collection
	timeout time.Duration
	closed  atomic.Bool
	logger  *zap.Logger
}

// NewMongoCheckpointStore 连接 MongoDB 并创建存储
func NewMongoCheckpointStore(config StoreConfig, logger *zap.Logger) (*MongoCheckpointStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	defaults := DefaultStoreConfig().Mongo
	cfg := config.Mongo
	if cfg.URI == "" {
		cfg.URI = defaults.URI
	}
	if cfg.Database == "" {
		cfg.Database = defaults.Database
	}
	if cfg.Collection == "" {
		cfg.Collection = defaults.Collection
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaults.Timeout
	}

	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI).SetTimeout(cfg.Timeout))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	return &MongoCheckpointStore{
		client:  client,
		coll:    client.Database(cfg.Database).Collection(cfg.Collection),
		timeout: cfg.Timeout,
		logger: logger.With(zap.String("component", "mongo_checkpoint_store"),
			zap.String("collection", cfg.Database+"."+cfg.Collection)),
	}, nil
}

func (s *MongoCheckpointStore) Save(ctx context.Context, cp *workflow.Checkpoint) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	data, err := workflow.MarshalCheckpoint(cp)
	if err != nil {
		return err
	}
	doc := mongoCheckpoint{
		ThreadID:  cp.ThreadID,
		Version:   cp.Version,
		Data:      string(data),
		UpdatedAt: cp.UpdatedAt.UTC(),
	}

	if cp.Version == 1 {
		_, err = s.coll.InsertOne(ctx, doc)
		if mongo.IsDuplicateKeyError(err) {
			return s.conflict(ctx, cp)
		}
		if err != nil {
			return fmt.Errorf("save checkpoint %s: %w", cp.ThreadID, err)
		}
	} else {
		res, err := s.coll.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: cp.ThreadID}, {Key: "version", Value: cp.Version - 1}},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "version", Value: doc.Version},
				{Key: "data", Value: doc.Data},
				{Key: "updated_at", Value: doc.UpdatedAt},
			}}},
		)
		if err != nil {
			return fmt.Errorf("save checkpoint %s: %w", cp.ThreadID, err)
		}
		if res.MatchedCount == 0 {
			return s.conflict(ctx, cp)
		}
	}
	s.logger.Debug("checkpoint written",
		zap.String("thread_id", cp.ThreadID),
		zap.Int("version", cp.Version))
	return nil
}

func (s *MongoCheckpointStore) conflict(ctx context.Context, cp *workflow.Checkpoint) error {
	var current mongoCheckpoint
	stored := 0
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: cp.ThreadID}}).Decode(&current)
	switch {
	case err == nil:
		stored = current.Version
	case !errors.Is(err, mongo.ErrNoDocuments):
		return fmt.Errorf("read checkpoint %s: %w", cp.ThreadID, err)
	}
	if err := workflow.CheckVersion(cp.ThreadID, stored, cp.Version); err != nil {
		return err
	}
	return types.Errorf(types.ErrCheckpointConflict, "thread %s: concurrent write of version %d", cp.ThreadID, cp.Version)
}

func (s *MongoCheckpointStore) Load(ctx context.Context, threadID string) (*workflow.Checkpoint, error) {
	if s.closed.Load() {
		return nil, ErrStoreClosed
	}
	if err := validThread(threadID); err != nil {
		return nil, err
	}
	var doc mongoCheckpoint
	err := s.coll.FindOne(ctx, bson.D{{Key: "_id", Value: threadID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, workflow.ErrCheckpointNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load checkpoint %s: %w", threadID, err)
	}
	return workflow.UnmarshalCheckpoint(threadID, []byte(doc.Data))
}

func (s *MongoCheckpointStore) Delete(ctx context.Context, threadID string) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	if err := validThread(threadID); err != nil {
		return err
	}
	if _, err := s.coll.DeleteOne(ctx, bson.D{{Key: "_id", Value: threadID}}); err != nil {
		return fmt.Errorf("delete checkpoint %s: %w", threadID, err)
	}
	return nil
}

// Close 断开连接
func (s *MongoCheckpointStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping 检查连接
func (s *MongoCheckpointStore) Ping(ctx context.Context) error {
	if s.closed.Load() {
		return ErrStoreClosed
	}
	return s.client.Ping(ctx, nil)
}
