package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"path/filepath"
	"strconv"

	"go.uber.org/zap"

	"github.com/BaSui01/marginflow/agent/escalation"
	"github.com/BaSui01/marginflow/agent/persistence"
	"github.com/BaSui01/marginflow/config"
	"github.com/BaSui01/marginflow/internal/database"
	"github.com/BaSui01/marginflow/internal/metrics"
	"github.com/BaSui01/marginflow/internal/telemetry"
	"github.com/BaSui01/marginflow/llm"
	"github.com/BaSui01/marginflow/llm/providers/heuristic"
	"github.com/BaSui01/marginflow/llm/providers/openai"
	"github.com/BaSui01/marginflow/tools/finance"
	"github.com/BaSui01/marginflow/workflow"
)

// app 一次命令执行所需的全部组件
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	store     persistence.CheckpointStore
	executor  *workflow.GraphExecutor
	collector *metrics.Collector
	otel      *telemetry.Providers
}

// newApp 按配置装配存储、推理服务与执行器
func newApp(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	otelProviders, err := telemetry.Init(ctx, cfg.Telemetry, logger)
	if err != nil {
		logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	a.otel = otelProviders

	if cfg.Metrics.Enabled {
		a.collector = metrics.NewCollector(cfg.Metrics.Namespace, logger)
	}

	storeCfg, err := storeConfig(cfg)
	if err != nil {
		a.shutdownTelemetry()
		return nil, err
	}
	a.store, err = persistence.NewCheckpointStore(storeCfg, logger)
	if err != nil {
		a.shutdownTelemetry()
		return nil, err
	}

	provider, err := newProvider(cfg, logger, a.collector)
	if err != nil {
		a.Close()
		return nil, err
	}

	opts := escalation.Options{
		Provider: provider,
		Finance: finance.Config{
			Anomalies: finance.AnomalyToolConfig{Timeout: cfg.Engine.ToolTimeout},
			Tickets:   finance.TicketToolConfig{Timeout: cfg.Engine.ToolTimeout},
		},
		Model:       cfg.LLM.Model,
		Sentinel:    cfg.Engine.Sentinel,
		Timeout:     cfg.LLM.Timeout,
		MaxTokens:   cfg.LLM.MaxTokens,
		Temperature: cfg.LLM.Temperature,
		Logger:      logger,
	}
	execOpts := []workflow.ExecutorOption{
		workflow.WithMaxSteps(cfg.Engine.MaxSteps),
		workflow.WithLockTimeout(cfg.Engine.LockTimeout),
		workflow.WithTracer(otelProviders.Tracer("github.com/BaSui01/marginflow/workflow")),
	}
	if rec := a.recorders(); len(rec) > 0 {
		opts.ToolRecorder = rec
		execOpts = append(execOpts, workflow.WithRecorder(rec))
	}

	a.executor, err = escalation.New(opts, a.store, execOpts...)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("build escalation graph: %w", err)
	}
	return a, nil
}

// recorders 收集已启用的观测后端：Prometheus 采集器与 OTel 仪表
func (a *app) recorders() fanout {
	var rec fanout
	// typed nil 不能进接口
	if a.collector != nil {
		rec = append(rec, a.collector)
	}
	if a.otel.Enabled() {
		in, err := telemetry.NewInstruments(a.otel.Meter(telemetry.MeterName))
		if err != nil {
			a.logger.Warn("failed to create otel instruments", zap.Error(err))
		} else {
			rec = append(rec, in)
		}
	}
	return rec
}

// Close 导出指标并释放资源
func (a *app) Close() error {
	var errs []error
	if a.collector != nil {
		if sqlStore, ok := a.store.(*persistence.SQLCheckpointStore); ok {
			a.collector.RecordDBConnections(sqlStore.Dialect(), sqlStore.PoolStats())
		}
		if path := a.cfg.Metrics.TextfilePath; path != "" {
			if err := a.collector.WriteTextfile(path); err != nil {
				errs = append(errs, fmt.Errorf("write metrics: %w", err))
			}
		}
	}
	if a.store != nil {
		if err := a.store.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close store: %w", err))
		}
	}
	a.shutdownTelemetry()
	return errors.Join(errs...)
}

func (a *app) shutdownTelemetry() {
	ctx, cancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
	defer cancel()
	if err := a.otel.Shutdown(ctx); err != nil {
		a.logger.Warn("telemetry shutdown failed", zap.Error(err))
	}
}

// newProvider 选择推理服务并套上中间件
func newProvider(cfg *config.Config, logger *zap.Logger, collector *metrics.Collector) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	var p llm.Provider
	switch cfg.LLM.Provider {
	case "", "heuristic":
		p = heuristic.NewProvider(heuristic.Config{
			AnalystAgent:        string(escalation.Analyst),
			FinanceAgent:        string(escalation.Finance),
			Days:                cfg.Policy.Days,
			MinLoss:             cfg.Policy.MinLoss,
			EscalationThreshold: cfg.Policy.EscalationThreshold,
			HighSeverityFactor:  cfg.Policy.HighSeverityFactor,
		}, logger)
	case "openai":
		p = openai.NewProvider(openai.Config{
			APIKey:  cfg.LLM.APIKey,
			BaseURL: cfg.LLM.BaseURL,
			Model:   cfg.LLM.Model,
			Timeout: cfg.LLM.Timeout,
		}, logger)
	default:
		return nil, fmt.Errorf("%w: unsupported llm provider %q", config.ErrInvalidConfig, cfg.LLM.Provider)
	}

	name := p.Name()
	middlewares := []llm.Middleware{
		llm.RecoveryMiddleware(name, func(v any) {
			logger.Error("provider panic", zap.String("provider", name), zap.Any("panic", v))
		}),
		llm.LoggingMiddleware(name, logger),
	}
	if collector != nil {
		middlewares = append(middlewares, llm.MetricsMiddleware(name, collector))
	}
	middlewares = append(middlewares, llm.TimeoutMiddleware(cfg.LLM.Timeout))
	return llm.Wrap(p, middlewares...), nil
}

// storeConfig 把应用配置映射为存储配置
func storeConfig(cfg *config.Config) (persistence.StoreConfig, error) {
	sc := persistence.DefaultStoreConfig()

	storeType, err := persistence.ParseStoreType(cfg.Store.Type)
	if err != nil {
		return sc, err
	}
	sc.Type = storeType
	if cfg.Store.BaseDir != "" {
		sc.BaseDir = cfg.Store.BaseDir
	}
	if cfg.Store.KeyPrefix != "" {
		sc.KeyPrefix = cfg.Store.KeyPrefix
	}
	sc.TTL = cfg.Store.TTL

	if storeType == persistence.StoreTypeRedis {
		host, portStr, err := net.SplitHostPort(cfg.Redis.Addr)
		if err != nil {
			return sc, fmt.Errorf("%w: redis.addr: %v", config.ErrInvalidConfig, err)
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			return sc, fmt.Errorf("%w: redis.addr port: %v", config.ErrInvalidConfig, err)
		}
		sc.Redis = persistence.RedisStoreConfig{
			Host:     host,
			Port:     port,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			PoolSize: cfg.Redis.PoolSize,
		}
	}

	pool := database.DefaultPoolConfig()
	pool.MaxOpenConns = cfg.Database.MaxOpenConns
	pool.MaxIdleConns = cfg.Database.MaxIdleConns
	if cfg.Database.ConnMaxLifetime > 0 {
		pool.ConnMaxLifetime = cfg.Database.ConnMaxLifetime
	}
	sc.SQL = persistence.SQLStoreConfig{
		Driver:      cfg.Database.Driver,
		DSN:         cfg.Database.DSN(),
		AutoMigrate: cfg.Store.AutoMigrate,
		Pool:        pool,
	}

	sc.Badger = persistence.BadgerStoreConfig{
		Dir:        cfg.Badger.Dir,
		InMemory:   cfg.Badger.InMemory,
		SyncWrites: cfg.Badger.SyncWrites,
	}
	if sc.Badger.Dir == "" && !sc.Badger.InMemory {
		sc.Badger.Dir = filepath.Join(sc.BaseDir, "badger")
	}

	sc.Mongo = persistence.MongoStoreConfig{
		URI:        cfg.Mongo.URI,
		Database:   cfg.Mongo.Database,
		Collection: cfg.Mongo.Collection,
		Timeout:    cfg.Mongo.Timeout,
	}
	return sc, nil
}
