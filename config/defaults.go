// =============================================================================
// 📦 CampusFlow 默认配置
// =============================================================================
// 提供所有配置项的合理默认值
// =============================================================================
package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server:       DefaultServerConfig(),
		Orchestrator: DefaultOrchestratorConfig(),
		Gates:        DefaultGatesConfig(),
		Store:        DefaultStoreConfig(),
		Redis:        DefaultRedisConfig(),
		Database:     DefaultDatabaseConfig(),
		LLM:          DefaultLLMConfig(),
		Memory:       DefaultMemoryConfig(),
		Log:          DefaultLogConfig(),
		Telemetry:    DefaultTelemetryConfig(),
	}
}

// DefaultServerConfig 返回默认服务器配置
func DefaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPPort:        8080,
		MetricsPort:     9091,
		ReadTimeout:     30 * time.Second,
		WriteTimeout:    30 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RateLimitRPS:    100,
		RateLimitBurst:  200,
	}
}

// DefaultOrchestratorConfig 返回默认编排器配置
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		ModelTimeout:       5 * time.Second,
		ContextTimeout:     time.Second,
		GateTimeout:        2 * time.Second,
		MemoryLogTimeout:   2 * time.Second,
		LedgerTimeout:      5 * time.Second,
		MaxConcurrent:      256,
		EnableMemory:       true,
		EnableGovernance:   true,
		EnableAlignment:    true,
		RecoverInterrupted: true,
		RecoverStaleAfter:  time.Hour,
	}
}

// DefaultGatesConfig 返回默认网关配置
func DefaultGatesConfig() GatesConfig {
	return GatesConfig{
		Governance: GovernanceConfig{
			Mode:          "rules",
			RatePerMinute: 60,
			Burst:         10,
			Remote:        RemoteGateConfig{Timeout: 2 * time.Second},
		},
		Alignment: AlignmentConfig{
			Mode:            "content",
			MaxOutputLength: 10000,
			PIIDetection:    true,
			FlagThreshold:   0.7,
			Remote:          RemoteGateConfig{Timeout: 2 * time.Second},
		},
	}
}

// DefaultStoreConfig 返回默认存储配置
func DefaultStoreConfig() StoreConfig {
	return StoreConfig{
		Type:         "memory",
		KeyPrefix:    "campusflow:",
		PersistStats: true,
	}
}

// DefaultRedisConfig 返回默认 Redis 配置
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{
		Addr:         "localhost:6379",
		Password:     "",
		DB:           0,
		PoolSize:     10,
		MinIdleConns: 2,
	}
}

// DefaultDatabaseConfig 返回默认数据库配置
func DefaultDatabaseConfig() DatabaseConfig {
	return DatabaseConfig{
		Driver:          "postgres",
		Host:            "localhost",
		Port:            5432,
		User:            "campusflow",
		Password:        "",
		Name:            "campusflow",
		SSLMode:         "disable",
		MaxOpenConns:    25,
		MaxIdleConns:    5,
		ConnMaxLifetime: 5 * time.Minute,
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		DefaultProvider:     "openai",
		Model:               "gpt-4o-mini",
		Timeout:             30 * time.Second,
		MaxRetries:          2,
		RetryDelay:          200 * time.Millisecond,
		BreakerThreshold:    5,
		BreakerResetTimeout: 30 * time.Second,
	}
}

// DefaultMemoryConfig 返回默认用户上下文配置
func DefaultMemoryConfig() MemoryConfig {
	return MemoryConfig{
		Backend:    "memory",
		MaxHistory: 20,
		TTL:        30 * 24 * time.Hour,
		CacheSize:  1024,
		CacheTTL:   30 * time.Second,
		KeyPrefix:  "campusflow:ctx:",
	}
}

// DefaultLogConfig 返回默认日志配置
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:            "info",
		Format:           "json",
		OutputPaths:      []string{"stdout"},
		EnableCaller:     true,
		EnableStacktrace: false,
	}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "campusflow",
		SampleRate:   0.1,
		Insecure:     true,
	}
}
