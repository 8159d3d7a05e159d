// =============================================================================
// 📦 MarginFlow 默认配置
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置：内存存储、离线规则推理、关闭遥测
func DefaultConfig() *Config {
	return &Config{
		Log:       DefaultLogConfig(),
		Engine:    DefaultEngineConfig(),
		Store:     DefaultStoreConfig(),
		Redis:     DefaultRedisConfig(),
		Database:  DefaultDatabaseConfig(),
		Badger:    BadgerConfig{SyncWrites: true},
		Mongo:     DefaultMongoConfig(),
		LLM:       DefaultLLMConfig(),
		Policy:    DefaultPolicyConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Metrics:   MetricsConfig{Namespace: "marginflow"},
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "console",
		OutputPaths:      []string{"stderr"},
		EnableCaller:     false,
		EnableStacktrace: false,
	}
}

// DefaultEngineConfig 返回默认执行器配置
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		MaxSteps:    25,
		Sentinel:    "FINAL:",
		LockTimeout: 30 * time.Second,
		RunTimeout:  5 * time.Minute,
		ToolTimeout: 30 * time.Second,
	}
}

// DefaultStoreConfig 返回默认检查点存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:      "memory",
		BaseDir:   "./data/checkpoints",
		KeyPrefix: "marginflow:",
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:     "localhost:6379",
		DB:       0,
		PoolSize: 10,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "sqlite",
		Host:            "localhost",
		Name:            "./data/marginflow.db",
		MaxOpenConns:    20,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
	}
}

// DefaultMongoConfig 返回默认 MongoDB 配置
func DefaultMongoConfig() MongoConfig {
	return MongoConfig{
		URI:        "mongodb://localhost:27017",
		Database:   "marginflow",
		Collection: "checkpoints",
		Timeout:    5 * time.Second,
	}
}

// DefaultLLMConfig 返回默认推理服务配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Provider:    "heuristic",
		Model:       "gpt-4o-mini",
		Timeout:     60 * time.Second,
		MaxTokens:   1024,
		Temperature: 0,
	}
}

// DefaultPolicyConfig 返回默认升级策略
func DefaultPolicyConfig() PolicyConfig {
	return PolicyConfig{
		Days:                30,
		MinLoss:             0,
		EscalationThreshold: 500,
		HighSeverityFactor:  2,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "marginflow",
		SampleRate:   1.0,
	}
}
