package persistence

import (
	"fmt"

	"go.uber.org/zap"
)

// NewCheckpointStore creates a CheckpointStore based on the configuration
func NewCheckpointStore(config StoreConfig, logger *zap.Logger) (CheckpointStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	storeType, err := ParseStoreType(string(config.Type))
	if err != nil {
		return nil, err
	}
	var store CheckpointStore
	switch storeType {
	case StoreTypeMemory:
		store = NewMemoryCheckpointStore()
	case StoreTypeFile:
		store, err = NewFileCheckpointStore(config, logger)
	case StoreTypeRedis:
		store, err = NewRedisCheckpointStore(config, logger)
	case StoreTypeSQL:
		store, err = NewSQLCheckpointStore(config, logger)
	case StoreTypeBadger:
		store, err = NewBadgerCheckpointStore(config, logger)
	case StoreTypeMongo:
		store, err = NewMongoCheckpointStore(config, logger)
	}
	if err != nil {
		return nil, fmt.Errorf("create %s checkpoint store: %w", storeType, err)
	}
	logger.Info("checkpoint store ready", zap.String("type", string(storeType)))
	return store, nil
}
