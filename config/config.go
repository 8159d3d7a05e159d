package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrInvalidConfig 配置校验失败
var ErrInvalidConfig = errors.New("invalid config")

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 MarginFlow 的完整配置结构
type Config struct {
	Log       LogConfig       `yaml:"log" env:"LOG"`
	Engine    EngineConfig    `yaml:"engine" env:"ENGINE"`
	Store     StoreConfig     `yaml:"store" env:"STORE"`
	Redis     RedisConfig     `yaml:"redis" env:"REDIS"`
	Database  DatabaseConfig  `yaml:"database" env:"DATABASE"`
	Badger    BadgerConfig    `yaml:"badger" env:"BADGER"`
	Mongo     MongoConfig     `yaml:"mongo" env:"MONGO"`
	LLM       LLMConfig       `yaml:"llm" env:"LLM"`
	Policy    PolicyConfig    `yaml:"policy" env:"POLICY"`
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
	Metrics   MetricsConfig   `yaml:"metrics" env:"METRICS"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL" validate:"oneof=debug info warn error"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT" validate:"oneof=json console"`
	// 输出路径
	OutputPaths      []string `yaml:"output_paths" env:"OUTPUT_PATHS" validate:"min=1"`
	EnableCaller     bool     `yaml:"enable_caller" env:"ENABLE_CALLER"`
	EnableStacktrace bool     `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// EngineConfig 执行器配置
type EngineConfig struct {
	// 单次调用的超步上限
	MaxSteps int `yaml:"max_steps" env:"MAX_STEPS" validate:"gte=1,lte=1000"`
	// 终止标记，回复以此开头即视为结束
	Sentinel string `yaml:"sentinel" env:"SENTINEL" validate:"required"`
	// 等待线程锁的超时，0 表示只受 ctx 限制
	LockTimeout time.Duration `yaml:"lock_timeout" env:"LOCK_TIMEOUT" validate:"gte=0"`
	// 单次调用的整体超时
	RunTimeout time.Duration `yaml:"run_timeout" env:"RUN_TIMEOUT" validate:"gte=0"`
	// 工具调用超时
	ToolTimeout time.Duration `yaml:"tool_timeout" env:"TOOL_TIMEOUT" validate:"gte=0"`
}

// StoreConfig 检查点存储配置
type StoreConfig struct {
	Type      string        `yaml:"type" env:"TYPE" validate:"oneof=memory file redis sql badger mongo"`
	BaseDir   string        `yaml:"base_dir" env:"BASE_DIR"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	TTL       time.Duration `yaml:"ttl" env:"TTL" validate:"gte=0"`
	// sql 存储启动时自动建表
	AutoMigrate bool `yaml:"auto_migrate" env:"AUTO_MIGRATE"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	Addr     string `yaml:"addr" env:"ADDR" validate:"hostname_port"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB" validate:"gte=0"`
	PoolSize int    `yaml:"pool_size" env:"POOL_SIZE" validate:"gte=0"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER" validate:"oneof=postgres mysql sqlite"`
	// 完整连接串，设置后忽略下面的分项
	URL      string `yaml:"url" env:"URL"`
	Host     string `yaml:"host" env:"HOST"`
	Port     int    `yaml:"port" env:"PORT" validate:"gte=0,lte=65535"`
	User     string `yaml:"user" env:"USER"`
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 时为文件路径
	Name    string `yaml:"name" env:"NAME" validate:"required"`
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`

	MaxOpenConns    int           `yaml:"max_open_conns" env:"MAX_OPEN_CONNS" validate:"gte=1"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS" validate:"gte=1,ltefield=MaxOpenConns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME" validate:"gte=0"`
}

// BadgerConfig 嵌入式 Badger 配置
type BadgerConfig struct {
	Dir        string `yaml:"dir" env:"DIR"`
	InMemory   bool   `yaml:"in_memory" env:"IN_MEMORY"`
	SyncWrites bool   `yaml:"sync_writes" env:"SYNC_WRITES"`
}

// MongoConfig MongoDB 配置
type MongoConfig struct {
	URI        string        `yaml:"uri" env:"URI" validate:"required"`
	Database   string        `yaml:"database" env:"DATABASE" validate:"required"`
	Collection string        `yaml:"collection" env:"COLLECTION" validate:"required"`
	Timeout    time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
}

// LLMConfig 推理服务配置
type LLMConfig struct {
	// heuristic 为离线规则实现，openai 调用 OpenAI 兼容接口
	Provider    string        `yaml:"provider" env:"PROVIDER" validate:"oneof=heuristic openai"`
	APIKey      string        `yaml:"api_key" env:"API_KEY"`
	BaseURL     string        `yaml:"base_url" env:"BASE_URL" validate:"omitempty,url"`
	Model       string        `yaml:"model" env:"MODEL"`
	Timeout     time.Duration `yaml:"timeout" env:"TIMEOUT" validate:"gte=0"`
	MaxTokens   int           `yaml:"max_tokens" env:"MAX_TOKENS" validate:"gte=0"`
	Temperature float32       `yaml:"temperature" env:"TEMPERATURE" validate:"gte=0,lte=2"`
}

// PolicyConfig 异常查询与升级阈值
type PolicyConfig struct {
	Days                int `yaml:"days" env:"DAYS" validate:"gte=1,lte=3650"`
	MinLoss             int `yaml:"min_loss" env:"MIN_LOSS" validate:"gte=0"`
	EscalationThreshold int `yaml:"escalation_threshold" env:"ESCALATION_THRESHOLD" validate:"gte=0"`
	HighSeverityFactor  int `yaml:"high_severity_factor" env:"HIGH_SEVERITY_FACTOR" validate:"gte=1"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	Enabled      bool    `yaml:"enabled" env:"ENABLED"`
	OTLPEndpoint string  `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT" validate:"required_if=Enabled true"`
	ServiceName  string  `yaml:"service_name" env:"SERVICE_NAME" validate:"required"`
	SampleRate   float64 `yaml:"sample_rate" env:"SAMPLE_RATE" validate:"gte=0,lte=1"`
}

// MetricsConfig Prometheus 指标配置
type MetricsConfig struct {
	Enabled   bool   `yaml:"enabled" env:"ENABLED"`
	Namespace string `yaml:"namespace" env:"NAMESPACE" validate:"required"`
	// 运行结束后写出 textfile，供 node_exporter 采集
	TextfilePath string `yaml:"textfile_path" env:"TEXTFILE_PATH"`
}

// =============================================================================
// ✅ 校验
// =============================================================================

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate 校验字段约束与跨段约束
func (c *Config) Validate() error {
	var errs []string

	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if !errors.As(err, &verrs) {
			return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
		}
		for _, fe := range verrs {
			errs = append(errs, fmt.Sprintf("%s: failed %q (value %v)", fieldPath(fe.Namespace()), fe.Tag(), fe.Value()))
		}
	}

	if c.LLM.Provider == "openai" && c.LLM.APIKey == "" {
		errs = append(errs, "llm.api_key is required for the openai provider")
	}
	if c.Store.Type == "file" && c.Store.BaseDir == "" {
		errs = append(errs, "store.base_dir is required for the file store")
	}
	if c.Store.Type == "badger" && !c.Badger.InMemory && c.Badger.Dir == "" && c.Store.BaseDir == "" {
		errs = append(errs, "badger.dir or store.base_dir is required for the badger store")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidConfig, strings.Join(errs, "; "))
	}
	return nil
}

// fieldPath 把 Config.Store.Type 转成 store.type 形式
func fieldPath(ns string) string {
	ns = strings.TrimPrefix(ns, "Config.")
	return strings.ToLower(ns)
}

// DSN 返回数据库连接串，gorm 与 golang-migrate 通用
func (d DatabaseConfig) DSN() string {
	if d.URL != "" {
		return d.URL
	}
	switch d.Driver {
	case "postgres":
		sslMode := d.SSLMode
		if sslMode == "" {
			sslMode = "disable"
		}
		u := url.URL{
			Scheme:   "postgres",
			User:     url.UserPassword(d.User, d.Password),
			Host:     fmt.Sprintf("%s:%d", d.Host, d.Port),
			Path:     "/" + d.Name,
			RawQuery: "sslmode=" + url.QueryEscape(sslMode),
		}
		return u.String()
	case "mysql":
		return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true&multiStatements=true",
			d.User, d.Password, d.Host, d.Port, d.Name)
	case "sqlite":
		return "file:" + d.Name + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	default:
		return ""
	}
}
