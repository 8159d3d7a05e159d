// 配置加载器与默认配置测试。
package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- 默认配置测试 ---

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, 25, cfg.Engine.MaxSteps)
	assert.Equal(t, "FINAL:", cfg.Engine.Sentinel)
	assert.Equal(t, "memory", cfg.Store.Type)
	assert.Equal(t, "heuristic", cfg.LLM.Provider)

	assert.Equal(t, 30, cfg.Policy.Days)
	assert.Equal(t, 0, cfg.Policy.MinLoss)
	assert.Equal(t, 500, cfg.Policy.EscalationThreshold)

	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Equal(t, "info", cfg.Log.Level)

	require.NoError(t, cfg.Validate())
}

// --- Loader 测试 ---

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "marginflow.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoader_LoadFromYAML(t *testing.T) {
	path := writeConfig(t, `
engine:
  max_steps: 12
  lock_timeout: 5s
store:
  type: redis
  ttl: 24h
redis:
  addr: "cache:6380"
policy:
  days: 7
  min_loss: 100
  escalation_threshold: 1000
log:
  level: debug
  format: json
`)

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 12, cfg.Engine.MaxSteps)
	assert.Equal(t, 5*time.Second, cfg.Engine.LockTimeout)
	assert.Equal(t, "FINAL:", cfg.Engine.Sentinel, "unset keys keep defaults")
	assert.Equal(t, "redis", cfg.Store.Type)
	assert.Equal(t, 24*time.Hour, cfg.Store.TTL)
	assert.Equal(t, "cache:6380", cfg.Redis.Addr)
	assert.Equal(t, 7, cfg.Policy.Days)
	assert.Equal(t, 100, cfg.Policy.MinLoss)
	assert.Equal(t, 1000, cfg.Policy.EscalationThreshold)
	assert.Equal(t, "json", cfg.Log.Format)
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("MARGINFLOW_STORE_TYPE", "file")
	t.Setenv("MARGINFLOW_STORE_BASE_DIR", "/var/lib/marginflow")
	t.Setenv("MARGINFLOW_ENGINE_MAX_STEPS", "40")
	t.Setenv("MARGINFLOW_ENGINE_RUN_TIMEOUT", "90s")
	t.Setenv("MARGINFLOW_LLM_TEMPERATURE", "0.2")
	t.Setenv("MARGINFLOW_BADGER_IN_MEMORY", "true")
	t.Setenv("MARGINFLOW_LOG_OUTPUT_PATHS", "stdout, /tmp/marginflow.log")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, "file", cfg.Store.Type)
	assert.Equal(t, "/var/lib/marginflow", cfg.Store.BaseDir)
	assert.Equal(t, 40, cfg.Engine.MaxSteps)
	assert.Equal(t, 90*time.Second, cfg.Engine.RunTimeout)
	assert.InDelta(t, 0.2, cfg.LLM.Temperature, 1e-6)
	assert.True(t, cfg.Badger.InMemory)
	assert.Equal(t, []string{"stdout", "/tmp/marginflow.log"}, cfg.Log.OutputPaths)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	path := writeConfig(t, `
policy:
  escalation_threshold: 800
`)
	t.Setenv("MARGINFLOW_POLICY_ESCALATION_THRESHOLD", "900")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)
	assert.Equal(t, 900, cfg.Policy.EscalationThreshold)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_POLICY_DAYS", "14")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)
	assert.Equal(t, 14, cfg.Policy.Days)
}

func TestLoader_BadEnvValue(t *testing.T) {
	t.Setenv("MARGINFLOW_ENGINE_LOCK_TIMEOUT", "soon")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "MARGINFLOW_ENGINE_LOCK_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("MARGINFLOW_STORE_TYPE", "memory")

	_, err := NewLoader().
		WithValidator(func(c *Config) error {
			if c.Store.Type == "memory" {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/marginflow.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)

	_, err = NewLoader().WithConfigPath("/nonexistent/marginflow.yaml").RequireFile().Load()
	assert.Error(t, err)
}

func TestLoader_InvalidYAML(t *testing.T) {
	path := writeConfig(t, "engine: [unclosed")
	_, err := NewLoader().WithConfigPath(path).Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse config file")
}

func TestLoader_SkipValidation(t *testing.T) {
	t.Setenv("MARGINFLOW_STORE_TYPE", "etcd")

	_, err := NewLoader().Load()
	assert.ErrorIs(t, err, ErrInvalidConfig)

	cfg, err := NewLoader().SkipValidation().Load()
	require.NoError(t, err)
	assert.Equal(t, "etcd", cfg.Store.Type)
}

// --- 校验测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{"defaults", func(c *Config) {}, ""},
		{"zero max steps", func(c *Config) { c.Engine.MaxSteps = 0 }, "engine.maxsteps"},
		{"empty sentinel", func(c *Config) { c.Engine.Sentinel = "" }, "engine.sentinel"},
		{"unknown store", func(c *Config) { c.Store.Type = "etcd" }, "store.type"},
		{"negative ttl", func(c *Config) { c.Store.TTL = -time.Second }, "store.ttl"},
		{"bad redis addr", func(c *Config) { c.Redis.Addr = "no-port" }, "redis.addr"},
		{"idle above open", func(c *Config) { c.Database.MaxIdleConns = 50 }, "database.maxidleconns"},
		{"unknown driver", func(c *Config) { c.Database.Driver = "oracle" }, "database.driver"},
		{"unknown provider", func(c *Config) { c.LLM.Provider = "magic" }, "llm.provider"},
		{"openai without key", func(c *Config) { c.LLM.Provider = "openai" }, "llm.api_key"},
		{"openai with key", func(c *Config) {
			c.LLM.Provider = "openai"
			c.LLM.APIKey = "sk-test"
		}, ""},
		{"bad base url", func(c *Config) { c.LLM.BaseURL = "not a url" }, "llm.baseurl"},
		{"temperature", func(c *Config) { c.LLM.Temperature = 3 }, "llm.temperature"},
		{"days", func(c *Config) { c.Policy.Days = 0 }, "policy.days"},
		{"telemetry without endpoint", func(c *Config) {
			c.Telemetry.Enabled = true
			c.Telemetry.OTLPEndpoint = ""
		}, "telemetry.otlpendpoint"},
		{"file store without dir", func(c *Config) {
			c.Store.Type = "file"
			c.Store.BaseDir = ""
		}, "store.base_dir"},
		{"badger in memory", func(c *Config) {
			c.Store.Type = "badger"
			c.Store.BaseDir = ""
			c.Badger.InMemory = true
		}, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, ErrInvalidConfig)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	tests := []struct {
		name     string
		config   DatabaseConfig
		expected string
	}{
		{
			name: "postgres",
			config: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432,
				User: "mf", Password: "p@ss", Name: "marginflow", SSLMode: "require",
			},
			expected: "postgres://mf:p%40ss@db:5432/marginflow?sslmode=require",
		},
		{
			name: "postgres default ssl",
			config: DatabaseConfig{
				Driver: "postgres", Host: "db", Port: 5432, User: "mf", Password: "x", Name: "marginflow",
			},
			expected: "postgres://mf:x@db:5432/marginflow?sslmode=disable",
		},
		{
			name: "mysql",
			config: DatabaseConfig{
				Driver: "mysql", Host: "db", Port: 3306, User: "mf", Password: "x", Name: "marginflow",
			},
			expected: "mf:x@tcp(db:3306)/marginflow?parseTime=true&multiStatements=true",
		},
		{
			name:     "sqlite",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/data/mf.db"},
			expected: "file:/data/mf.db?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)",
		},
		{
			name:     "explicit url wins",
			config:   DatabaseConfig{Driver: "postgres", URL: "postgres://elsewhere/db", Host: "ignored"},
			expected: "postgres://elsewhere/db",
		},
		{
			name:     "unknown",
			config:   DatabaseConfig{Driver: "oracle"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

func TestMustLoad(t *testing.T) {
	path := writeConfig(t, "policy:\n  days: 3\n")
	cfg := MustLoad(path)
	assert.Equal(t, 3, cfg.Policy.Days)

	bad := writeConfig(t, "engine: [unclosed")
	assert.Panics(t, func() { MustLoad(bad) })
}
