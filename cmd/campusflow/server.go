package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"time"

	"github.com/BaSui01/campusflow/agent"
	"github.com/BaSui01/campusflow/agent/guardrails"
	"github.com/BaSui01/campusflow/agent/memory"
	"github.com/BaSui01/campusflow/agent/orchestrator"
	"github.com/BaSui01/campusflow/agent/performance"
	"github.com/BaSui01/campusflow/agent/persistence"
	"github.com/BaSui01/campusflow/agent/prompt"
	"github.com/BaSui01/campusflow/api/handlers"
	"github.com/BaSui01/campusflow/config"
	"github.com/BaSui01/campusflow/internal/cache"
	"github.com/BaSui01/campusflow/internal/database"
	"github.com/BaSui01/campusflow/internal/metrics"
	"github.com/BaSui01/campusflow/internal/server"
	"github.com/BaSui01/campusflow/internal/telemetry"
	"github.com/BaSui01/campusflow/llm"
	"github.com/BaSui01/campusflow/llm/circuitbreaker"
	"github.com/BaSui01/campusflow/llm/providers/openaicompat"
	"github.com/BaSui01/campusflow/llm/retry"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// metricsDatabase 连接池与查询指标的 database 标签
const metricsDatabase = "campusflow"

// 不需要认证的路径
var publicPaths = []string{"/health", "/healthz", "/ready", "/readyz", "/version"}

// =============================================================================
// 🖥️ Server 结构
// =============================================================================

// Server 是 CampusFlow 的主服务器，持有所有长生命周期组件
type Server struct {
	cfg        *config.Config
	loader     *config.Loader
	configPath string
	logger     *zap.Logger
	logLevel   zap.AtomicLevel

	// 基础设施
	telemetry *telemetry.Providers
	collector *metrics.Collector
	pool      *database.PoolManager
	cache     *cache.Manager

	// 领域组件
	taskStore  persistence.TaskStore
	agentStore agentStore
	ruleGate   *guardrails.RuleGovernanceGate
	orch       *orchestrator.Orchestrator

	// 服务器管理器
	httpManager    *server.Manager
	metricsManager *server.Manager

	// 配置热更新
	reloader     *config.Reloader
	rulesWatcher *config.FileWatcher

	// 后台 goroutine 生命周期（限流清理、热更新）
	ctx    context.Context
	cancel context.CancelFunc
}

// agentStore 同时保存 Agent 定义与性能快照
type agentStore interface {
	agent.Store
	performance.Store
}

// NewServer 创建新的服务器实例
func NewServer(cfg *config.Config, loader *config.Loader, configPath string, logger *zap.Logger, level zap.AtomicLevel) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		cfg:        cfg,
		loader:     loader,
		configPath: configPath,
		logger:     logger,
		logLevel:   level,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// =============================================================================
// 🚀 启动流程
// =============================================================================

// Start 按依赖顺序初始化组件并启动监听
func (s *Server) Start() error {
	// 1. 遥测与指标
	s.initObservability()

	// 2. 数据库与缓存
	if err := s.initDatabase(); err != nil {
		return fmt.Errorf("failed to init database: %w", err)
	}
	if err := s.initCache(); err != nil {
		return fmt.Errorf("failed to init cache: %w", err)
	}

	// 3. 编排器及其协作者
	if err := s.initOrchestrator(); err != nil {
		return fmt.Errorf("failed to init orchestrator: %w", err)
	}

	// 4. 配置热更新
	if err := s.initReloader(); err != nil {
		return fmt.Errorf("failed to init config reloader: %w", err)
	}

	// 5. HTTP 与 Metrics 服务器
	if err := s.startHTTPServer(); err != nil {
		return fmt.Errorf("failed to start HTTP server: %w", err)
	}
	if err := s.startMetricsServer(); err != nil {
		return fmt.Errorf("failed to start metrics server: %w", err)
	}

	s.logger.Info("All servers started",
		zap.Int("http_port", s.cfg.Server.HTTPPort),
		zap.Int("metrics_port", s.cfg.Server.MetricsPort),
		zap.String("store", s.cfg.Store.Type),
		zap.Bool("hot_reload_enabled", s.reloader != nil),
	)
	return nil
}

// =============================================================================
// 🔧 基础设施
// =============================================================================

func (s *Server) initObservability() {
	providers, err := telemetry.Init(s.cfg.Telemetry, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize telemetry", zap.Error(err))
	}
	s.telemetry = providers
	s.collector = metrics.NewCollector("campusflow", s.logger)
}

// initDatabase 在配置了驱动时打开连接池，并把池统计与查询耗时导出为指标
func (s *Server) initDatabase() error {
	dbCfg := s.cfg.Database
	if dbCfg.Driver == "" {
		if s.cfg.Store.Type == string(persistence.StoreTypeDatabase) {
			return errors.New("store type database requires database.driver")
		}
		return nil
	}

	poolCfg := database.DefaultPoolConfig()
	if dbCfg.MaxOpenConns > 0 {
		poolCfg.MaxOpenConns = dbCfg.MaxOpenConns
	}
	if dbCfg.MaxIdleConns > 0 {
		poolCfg.MaxIdleConns = dbCfg.MaxIdleConns
	}
	if dbCfg.ConnMaxLifetime > 0 {
		poolCfg.ConnMaxLifetime = dbCfg.ConnMaxLifetime
	}

	pool, err := database.Open(dbCfg.Driver, dbCfg.DSN(), poolCfg, s.logger)
	if err != nil {
		return err
	}
	s.pool = pool

	pool.OnStats(func(st database.PoolStats) {
		s.collector.RecordDBConnections(metricsDatabase, st.OpenConnections, st.Idle)
	})
	if err := database.Instrument(pool.DB(), func(op string, d time.Duration) {
		s.collector.RecordDBQuery(metricsDatabase, op, d)
	}); err != nil {
		s.logger.Warn("failed to instrument database", zap.Error(err))
	}
	return nil
}

// initCache 仅在任务存储或用户上下文使用 Redis 时连接
func (s *Server) initCache() error {
	needsRedis := s.cfg.Store.Type == string(persistence.StoreTypeRedis) ||
		(s.cfg.Orchestrator.EnableMemory && s.cfg.Memory.Backend == "redis")
	if !needsRedis {
		return nil
	}

	cacheCfg := cache.DefaultConfig()
	cacheCfg.Addr = s.cfg.Redis.Addr
	cacheCfg.Password = s.cfg.Redis.Password
	cacheCfg.DB = s.cfg.Redis.DB
	cacheCfg.TLS = s.cfg.Redis.TLS
	if s.cfg.Redis.PoolSize > 0 {
		cacheCfg.PoolSize = s.cfg.Redis.PoolSize
	}
	if s.cfg.Redis.MinIdleConns > 0 {
		cacheCfg.MinIdleConns = s.cfg.Redis.MinIdleConns
	}

	manager, err := cache.NewManager(cacheCfg, s.logger)
	if err != nil {
		return err
	}
	s.cache = manager
	return nil
}

// =============================================================================
// 🤖 编排器
// =============================================================================

func (s *Server) initOrchestrator() error {
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()

	if err := s.initStores(); err != nil {
		return err
	}

	registry := agent.NewRegistry(s.agentStore, s.logger)
	loaded, err := registry.Load(ctx)
	if err != nil {
		return fmt.Errorf("load agent definitions: %w", err)
	}

	ledger := persistence.NewLedger(s.taskStore, s.logger).
		WithOwner(instanceID(s.cfg.Orchestrator.InstanceID)).
		WithStaleAfter(s.cfg.Orchestrator.RecoverStaleAfter)
	s.logger.Info("Task ledger ready", zap.String("instance_id", ledger.Owner()))
	if s.cfg.Orchestrator.RecoverInterrupted {
		recovered, err := ledger.RecoverInterrupted(ctx)
		if err != nil {
			return fmt.Errorf("recover interrupted tasks: %w", err)
		}
		if recovered > 0 {
			s.logger.Warn("Marked tasks from previous run as interrupted", zap.Int("count", recovered))
		}
	}

	aggOpts := []performance.Option{performance.WithLogger(s.logger)}
	if s.cfg.Store.PersistStats {
		aggOpts = append(aggOpts, performance.WithStore(s.agentStore))
	}
	aggregator := performance.NewAggregator(aggOpts...)
	if s.cfg.Store.PersistStats {
		restored, err := aggregator.Restore(ctx)
		if err != nil {
			s.logger.Warn("failed to restore performance snapshots", zap.Error(err))
		} else {
			s.logger.Info("Performance snapshots restored", zap.Int("agents", restored))
		}
	}

	schemas := prompt.SchemaSet{}
	if path := s.cfg.Orchestrator.SchemaPath; path != "" {
		schemas, err = prompt.LoadSchemaSet(path)
		if err != nil {
			return fmt.Errorf("load input schemas: %w", err)
		}
	}

	deps := orchestrator.Deps{
		Registry:   registry,
		Ledger:     ledger,
		Aggregator: aggregator,
		Invoker:    s.buildInvoker(),
		Schemas:    schemas,
		Metrics:    s.collector,
		Tracer:     telemetry.Tracer(),
		Logger:     s.logger,
	}
	if provider := s.buildContextProvider(); provider != nil {
		deps.Context = provider
	}
	if gate := s.buildGovernanceGate(); gate != nil {
		deps.Governance = gate
	}
	if gate := s.buildAlignmentGate(); gate != nil {
		deps.Alignment = gate
	}

	s.orch, err = orchestrator.New(s.orchestratorConfig(), deps)
	if err != nil {
		return err
	}

	s.logger.Info("Orchestrator initialized",
		zap.Int("agents", loaded),
		zap.Int("schemas", len(schemas)),
		zap.String("governance", s.cfg.Gates.Governance.Mode),
		zap.String("alignment", s.cfg.Gates.Alignment.Mode),
	)
	return nil
}

func (s *Server) initStores() error {
	db := s.gormDB()

	switch persistence.StoreType(s.cfg.Store.Type) {
	case persistence.StoreTypeRedis:
		s.taskStore = persistence.NewRedisTaskStoreWithClient(s.cache.Client(), s.cfg.Store.KeyPrefix)
	default:
		store, err := persistence.NewTaskStore(persistence.StoreConfig{
			Type: persistence.StoreType(s.cfg.Store.Type),
		}, db)
		if err != nil {
			return err
		}
		s.taskStore = store
	}

	if db != nil {
		s.agentStore = persistence.NewGormAgentStore(db)
	} else {
		s.agentStore = persistence.NewMemoryAgentStore()
	}
	return nil
}

func (s *Server) orchestratorConfig() orchestrator.Config {
	oc := s.cfg.Orchestrator
	prices := make(llm.PriceTable, len(s.cfg.LLM.Prices))
	for model, p := range s.cfg.LLM.Prices {
		prices[model] = llm.Price{PromptPer1K: p.PromptPer1K, CompletionPer1K: p.CompletionPer1K}
	}
	return orchestrator.Config{
		ModelTimeout:       oc.ModelTimeout,
		ContextTimeout:     oc.ContextTimeout,
		GateTimeout:        oc.GateTimeout,
		MemoryLogTimeout:   oc.MemoryLogTimeout,
		LedgerTimeout:      oc.LedgerTimeout,
		MaxConcurrent:      oc.MaxConcurrent,
		GovernanceFailOpen: s.cfg.Gates.Governance.FailOpen,
		DefaultOptions: orchestrator.Options{
			EnableMemory:     oc.EnableMemory,
			EnableGovernance: oc.EnableGovernance,
			EnableAlignment:  oc.EnableAlignment,
		},
		Prices: prices,
	}
}

// buildInvoker 注册默认 Provider 与 llm.providers 中的附加 Provider
func (s *Server) buildInvoker() *llm.Invoker {
	lc := s.cfg.LLM
	var providers []llm.Provider

	if lc.APIKey != "" || lc.BaseURL != "" {
		providers = append(providers, openaicompat.New(openaicompat.Config{
			ProviderName: lc.DefaultProvider,
			APIKey:       lc.APIKey,
			BaseURL:      lc.BaseURL,
			DefaultModel: lc.Model,
			Timeout:      lc.Timeout,
		}, s.logger))
	}
	for name, pc := range lc.Providers {
		if name == lc.DefaultProvider && len(providers) > 0 {
			continue
		}
		timeout := pc.Timeout
		if timeout <= 0 {
			timeout = lc.Timeout
		}
		providers = append(providers, openaicompat.New(openaicompat.Config{
			ProviderName: name,
			APIKey:       pc.APIKey,
			BaseURL:      pc.BaseURL,
			DefaultModel: pc.Model,
			Timeout:      timeout,
		}, s.logger))
	}
	if len(providers) == 0 {
		s.logger.Warn("No LLM provider configured, executions will fail with MODEL_INVOCATION_ERROR")
	}

	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = lc.MaxRetries
	if lc.RetryDelay > 0 {
		policy.InitialDelay = lc.RetryDelay
	}
	breaker := circuitbreaker.DefaultConfig()
	if lc.BreakerThreshold > 0 {
		breaker.Threshold = lc.BreakerThreshold
	}
	if lc.BreakerResetTimeout > 0 {
		breaker.ResetTimeout = lc.BreakerResetTimeout
	}

	return llm.NewInvoker(llm.InvokerConfig{
		DefaultProvider: lc.DefaultProvider,
		DefaultTimeout:  s.cfg.Orchestrator.ModelTimeout,
		Retry:           *policy,
		Breaker:         breaker,
	}, s.logger, providers...)
}

func (s *Server) buildContextProvider() memory.ContextProvider {
	mc := s.cfg.Memory
	if !s.cfg.Orchestrator.EnableMemory {
		return nil
	}

	var provider memory.ContextProvider
	if mc.Backend == "redis" {
		rc := memory.DefaultRedisProviderConfig()
		if mc.KeyPrefix != "" {
			rc.KeyPrefix = mc.KeyPrefix
		}
		if mc.MaxHistory > 0 {
			rc.MaxHistory = mc.MaxHistory
		}
		if mc.TTL > 0 {
			rc.TTL = mc.TTL
		}
		provider = memory.NewRedisContextProvider(s.cache, rc, s.logger)
	} else {
		provider = memory.NewInMemoryContextProvider(mc.MaxHistory)
	}

	if mc.CacheSize > 0 {
		provider = memory.NewCachedContextProvider(provider, mc.CacheSize, mc.CacheTTL)
	}
	return provider
}

func (s *Server) buildGovernanceGate() guardrails.GovernanceGate {
	gc := s.cfg.Gates.Governance
	switch gc.Mode {
	case "remote":
		return guardrails.NewRemoteGovernanceGate(remoteGateConfig(gc.Remote), s.logger)
	case "rules":
		rules, err := s.governanceRules(s.cfg)
		if err != nil {
			// 规则文件不可读时退回到配置内联规则
			s.logger.Error("failed to load governance rules file", zap.Error(err))
			rules = inlineRules(gc)
		}
		s.ruleGate = guardrails.NewRuleGovernanceGate(rules, s.logger)
		return s.ruleGate
	default:
		return nil
	}
}

func (s *Server) buildAlignmentGate() guardrails.AlignmentGate {
	ac := s.cfg.Gates.Alignment
	switch ac.Mode {
	case "remote":
		return guardrails.NewRemoteAlignmentGate(remoteGateConfig(ac.Remote), s.logger)
	case "content":
		return guardrails.NewContentAlignmentGate(guardrails.ContentAlignmentConfig{
			MaxOutputLength: ac.MaxOutputLength,
			BlockedKeywords: ac.BlockedKeywords,
			BiasTerms:       ac.BiasTerms,
			PIIDetection:    ac.PIIDetection,
			FlagThreshold:   ac.FlagThreshold,
		}, s.logger)
	default:
		return nil
	}
}

// governanceRules 优先读取规则文件
func (s *Server) governanceRules(cfg *config.Config) (guardrails.GovernanceRules, error) {
	gc := cfg.Gates.Governance
	if gc.RulesPath == "" {
		return inlineRules(gc), nil
	}
	return guardrails.LoadGovernanceRules(gc.RulesPath)
}

func inlineRules(gc config.GovernanceConfig) guardrails.GovernanceRules {
	return guardrails.GovernanceRules{
		DeniedActions: gc.DeniedActions,
		DeniedActors:  gc.DeniedActors,
		RatePerMinute: gc.RatePerMinute,
		Burst:         gc.Burst,
	}
}

func remoteGateConfig(rc config.RemoteGateConfig) guardrails.RemoteGateConfig {
	return guardrails.RemoteGateConfig{BaseURL: rc.BaseURL, APIKey: rc.APIKey, Timeout: rc.Timeout}
}

func (s *Server) gormDB() *gorm.DB {
	if s.pool == nil {
		return nil
	}
	return s.pool.DB()
}

// =============================================================================
// 🔄 配置热更新
// =============================================================================

// initReloader 监听配置文件与治理规则文件；
// 只有日志级别与治理规则支持热更新，其他变更需要重启
func (s *Server) initReloader() error {
	if s.configPath != "" {
		reloader, err := config.NewReloader(s.cfg, s.loader, s.logger)
		if err != nil {
			return err
		}
		reloader.OnReload(func(oldCfg, newCfg *config.Config) {
			s.logLevel.SetLevel(parseLevel(newCfg.Log.Level))
			if s.ruleGate != nil {
				rules, err := s.governanceRules(newCfg)
				if err != nil {
					s.logger.Error("governance rules not reloaded", zap.Error(err))
				} else {
					s.ruleGate.SetRules(rules)
				}
			}
			if oldCfg.Server.HTTPPort != newCfg.Server.HTTPPort || oldCfg.Store.Type != newCfg.Store.Type {
				s.logger.Warn("Changed settings require a restart to take effect")
			}
		})
		if err := reloader.Start(s.ctx); err != nil {
			return err
		}
		s.reloader = reloader
	}

	rulesPath := s.cfg.Gates.Governance.RulesPath
	if s.ruleGate == nil || rulesPath == "" {
		return nil
	}
	watcher, err := config.NewFileWatcher([]string{rulesPath}, config.WithWatcherLogger(s.logger))
	if err != nil {
		return err
	}
	watcher.OnChange(func(evt config.FileEvent) {
		if evt.Op == config.FileOpRemove {
			return
		}
		rules, err := guardrails.LoadGovernanceRules(rulesPath)
		if err != nil {
			s.logger.Error("governance rules not reloaded", zap.Error(err))
			return
		}
		s.ruleGate.SetRules(rules)
		s.logger.Info("Governance rules reloaded", zap.String("path", rulesPath))
	})
	if err := watcher.Start(s.ctx); err != nil {
		return err
	}
	s.rulesWatcher = watcher
	return nil
}

// =============================================================================
// 🌐 HTTP 服务器
// =============================================================================

func (s *Server) startHTTPServer() error {
	mux := http.NewServeMux()

	healthHandler := handlers.NewHealthHandler(s.logger)
	if s.pool != nil {
		healthHandler.RegisterCheck(s.pool)
	}
	if s.cache != nil {
		healthHandler.RegisterCheck(handlers.NewRedisHealthCheck(s.cache.Ping))
	}
	healthHandler.RegisterCheck(handlers.NewCheckFunc("task_store", s.taskStore.Ping))
	healthHandler.Register(mux, Version)

	handlers.NewAgentHandler(s.orch, s.logger).Register(mux)

	sc := s.cfg.Server
	handler := Chain(mux,
		Recovery(s.logger),
		RequestID(),
		SecurityHeaders(),
		OTelTracing(),
		MetricsMiddleware(s.collector),
		RequestLogger(s.logger),
		CORS(sc.AllowedOrigins),
		RateLimiter(s.ctx, sc.RateLimitRPS, sc.RateLimitBurst, s.logger),
		JWTAuth(sc.JWT, publicPaths, s.logger),
	)

	serverCfg := server.DefaultConfig()
	serverCfg.Name = "api"
	serverCfg.Addr = fmt.Sprintf(":%d", sc.HTTPPort)
	if sc.ReadTimeout > 0 {
		serverCfg.ReadTimeout = sc.ReadTimeout
	}
	if sc.WriteTimeout > 0 {
		serverCfg.WriteTimeout = sc.WriteTimeout
	}
	if sc.ShutdownTimeout > 0 {
		serverCfg.ShutdownTimeout = sc.ShutdownTimeout
	}
	serverCfg.TLSCertFile = sc.TLSCertFile
	serverCfg.TLSKeyFile = sc.TLSKeyFile

	s.httpManager = server.NewManager(handler, serverCfg, s.logger)
	return s.httpManager.Start()
}

func (s *Server) startMetricsServer() error {
	if s.cfg.Server.MetricsPort == 0 {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	serverCfg := server.DefaultConfig()
	serverCfg.Name = "metrics"
	serverCfg.Addr = fmt.Sprintf(":%d", s.cfg.Server.MetricsPort)

	s.metricsManager = server.NewManager(mux, serverCfg, s.logger)
	return s.metricsManager.Start()
}

// =============================================================================
// 🛑 关闭流程
// =============================================================================

// WaitForShutdown 阻塞直到收到信号或服务器异常退出，然后优雅关闭
func (s *Server) WaitForShutdown() {
	managers := []*server.Manager{s.httpManager}
	if s.metricsManager != nil {
		managers = append(managers, s.metricsManager)
	}
	server.WaitForSignal(s.ctx, s.logger, managers...)
	s.Shutdown()
}

// Shutdown 先停止接收请求，再等待编排器排空，最后释放存储与连接
func (s *Server) Shutdown() {
	timeout := s.cfg.Server.ShutdownTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if s.reloader != nil {
		if err := s.reloader.Stop(); err != nil {
			s.logger.Warn("config reloader stop error", zap.Error(err))
		}
	}
	if s.rulesWatcher != nil {
		if err := s.rulesWatcher.Stop(); err != nil {
			s.logger.Warn("rules watcher stop error", zap.Error(err))
		}
	}

	if s.httpManager != nil {
		if err := s.httpManager.Shutdown(ctx); err != nil {
			s.logger.Error("HTTP server shutdown error", zap.Error(err))
		}
	}
	if s.metricsManager != nil {
		if err := s.metricsManager.Shutdown(ctx); err != nil {
			s.logger.Error("Metrics server shutdown error", zap.Error(err))
		}
	}

	if s.orch != nil {
		if err := s.orch.Close(ctx); err != nil {
			s.logger.Warn("orchestrator did not drain in time", zap.Error(err))
		}
	}

	if s.taskStore != nil {
		if err := s.taskStore.Close(); err != nil {
			s.logger.Warn("task store close error", zap.Error(err))
		}
	}
	if s.cache != nil {
		if err := s.cache.Close(); err != nil {
			s.logger.Warn("cache close error", zap.Error(err))
		}
	}
	if s.pool != nil {
		if err := s.pool.Close(); err != nil {
			s.logger.Warn("database close error", zap.Error(err))
		}
	}

	s.cancel()

	if s.telemetry != nil {
		if err := s.telemetry.Shutdown(ctx); err != nil {
			s.logger.Warn("telemetry shutdown error", zap.Error(err))
		}
	}

	s.logger.Info("Graceful shutdown completed")
}

// instanceID 返回任务 owner 标识：配置优先，其次主机名，最后随机 ID
func instanceID(configured string) string {
	if configured != "" {
		return configured
	}
	if host, err := os.Hostname(); err == nil && host != "" {
		return host
	}
	return "campusflow-" + uuid.NewString()[:8]
}
