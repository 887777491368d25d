// =============================================================================
// 📦 CampusFlow 配置加载器
// =============================================================================
// 统一配置加载，支持 YAML 文件 + 环境变量覆盖
//
// 使用方法:
//
//	cfg, err := config.NewLoader().
//	    WithConfigPath("config.yaml").
//	    WithEnvPrefix("CAMPUSFLOW").
//	    Load()
//
// 配置优先级: 默认值 → YAML 文件 → 环境变量
// =============================================================================
package config

import (
	"fmt"
	"os"
	"reflect"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 CampusFlow 的完整配置结构
type Config struct {
	// Server 服务器配置
	Server ServerConfig `yaml:"server" env:"SERVER"`

	// Orchestrator 编排器配置
	Orchestrator OrchestratorConfig `yaml:"orchestrator" env:"ORCHESTRATOR"`

	// Gates 策略网关配置
	Gates GatesConfig `yaml:"gates" env:"GATES"`

	// Store 任务与统计存储配置
	Store StoreConfig `yaml:"store" env:"STORE"`

	// Redis 缓存配置
	Redis RedisConfig `yaml:"redis" env:"REDIS"`

	// Database 数据库配置
	Database DatabaseConfig `yaml:"database" env:"DATABASE"`

	// LLM 大语言模型配置
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Memory 用户上下文配置
	Memory MemoryConfig `yaml:"memory" env:"MEMORY"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`
}

// ServerConfig 服务器配置
type ServerConfig struct {
	// HTTP 端口
	HTTPPort int `yaml:"http_port" env:"HTTP_PORT"`
	// Metrics 端口
	MetricsPort int `yaml:"metrics_port" env:"METRICS_PORT"`
	// 读取超时
	ReadTimeout time.Duration `yaml:"read_timeout" env:"READ_TIMEOUT"`
	// 写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
	// 优雅关闭超时
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SHUTDOWN_TIMEOUT"`
	// 每个 IP 每秒请求数
	RateLimitRPS float64 `yaml:"rate_limit_rps" env:"RATE_LIMIT_RPS"`
	// 令牌桶容量
	RateLimitBurst int `yaml:"rate_limit_burst" env:"RATE_LIMIT_BURST"`
	// JWT 认证
	JWT JWTConfig `yaml:"jwt" env:"JWT"`
	// 允许的跨域来源，空表示不开启 CORS
	AllowedOrigins []string `yaml:"allowed_origins" env:"ALLOWED_ORIGINS"`
	// TLS 证书与私钥，均非空时以 HTTPS 提供服务
	TLSCertFile string `yaml:"tls_cert_file" env:"TLS_CERT_FILE"`
	TLSKeyFile  string `yaml:"tls_key_file" env:"TLS_KEY_FILE"`
}

// TLSEnabled 返回是否配置了证书
func (s ServerConfig) TLSEnabled() bool {
	return s.TLSCertFile != "" && s.TLSKeyFile != ""
}

// JWTConfig JWT 认证配置
type JWTConfig struct {
	// 为 false 时不校验令牌，调用者 ID 取自 X-User-ID 头
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// HMAC 密钥
	Secret string `yaml:"secret" env:"SECRET"`
	// 签发方，非空时校验 iss
	Issuer string `yaml:"issuer" env:"ISSUER"`
	// 受众，非空时校验 aud
	Audience string `yaml:"audience" env:"AUDIENCE"`
}

// OrchestratorConfig 编排器配置
type OrchestratorConfig struct {
	// 模型调用超时
	ModelTimeout time.Duration `yaml:"model_timeout" env:"MODEL_TIMEOUT"`
	// 用户上下文读取超时
	ContextTimeout time.Duration `yaml:"context_timeout" env:"CONTEXT_TIMEOUT"`
	// 单个策略网关超时
	GateTimeout time.Duration `yaml:"gate_timeout" env:"GATE_TIMEOUT"`
	// 后台记忆写回超时
	MemoryLogTimeout time.Duration `yaml:"memory_log_timeout" env:"MEMORY_LOG_TIMEOUT"`
	// 任务账本写入超时
	LedgerTimeout time.Duration `yaml:"ledger_timeout" env:"LEDGER_TIMEOUT"`
	// 最大并发执行数，0 表示不限
	MaxConcurrent int `yaml:"max_concurrent" env:"MAX_CONCURRENT"`
	// 默认开关
	EnableMemory     bool `yaml:"enable_memory" env:"ENABLE_MEMORY"`
	EnableGovernance bool `yaml:"enable_governance" env:"ENABLE_GOVERNANCE"`
	EnableAlignment  bool `yaml:"enable_alignment" env:"ENABLE_ALIGNMENT"`
	// 任务输入 Schema 文件（YAML，按任务类型索引），可选
	SchemaPath string `yaml:"schema_path" env:"SCHEMA_PATH"`
	// 启动时把本实例遗留的 running 任务标记为 INTERRUPTED
	RecoverInterrupted bool `yaml:"recover_interrupted" env:"RECOVER_INTERRUPTED"`
	// 实例标识，写入任务 owner；为空时使用主机名
	InstanceID string `yaml:"instance_id" env:"INSTANCE_ID"`
	// 其他实例的任务超过该时长仍未结束时一并回收，0 表示不回收
	RecoverStaleAfter time.Duration `yaml:"recover_stale_after" env:"RECOVER_STALE_AFTER"`
}

// GatesConfig 策略网关配置
type GatesConfig struct {
	Governance GovernanceConfig `yaml:"governance" env:"GOVERNANCE"`
	Alignment  AlignmentConfig  `yaml:"alignment" env:"ALIGNMENT"`
}

// GovernanceConfig 治理网关配置
type GovernanceConfig struct {
	// 模式: rules, remote, disabled
	Mode string `yaml:"mode" env:"MODE"`
	// 网关不可用时放行
	FailOpen bool `yaml:"fail_open" env:"FAIL_OPEN"`
	// 禁止的任务类型
	DeniedActions []string `yaml:"denied_actions" env:"DENIED_ACTIONS"`
	// 禁止的调用者
	DeniedActors []string `yaml:"denied_actors" env:"DENIED_ACTORS"`
	// 每个调用者每分钟允许的任务数，0 表示不限
	RatePerMinute float64 `yaml:"rate_per_minute" env:"RATE_PER_MINUTE"`
	// 令牌桶容量
	Burst int `yaml:"burst" env:"BURST"`
	// 独立规则文件，修改后自动重载
	RulesPath string `yaml:"rules_path" env:"RULES_PATH"`
	// 远程网关
	Remote RemoteGateConfig `yaml:"remote" env:"REMOTE"`
}

// AlignmentConfig 对齐网关配置
type AlignmentConfig struct {
	// 模式: content, remote, disabled
	Mode string `yaml:"mode" env:"MODE"`
	// 输出最大长度
	MaxOutputLength int `yaml:"max_output_length" env:"MAX_OUTPUT_LENGTH"`
	// 屏蔽词
	BlockedKeywords []string `yaml:"blocked_keywords" env:"BLOCKED_KEYWORDS"`
	// 偏见词
	BiasTerms []string `yaml:"bias_terms" env:"BIAS_TERMS"`
	// 是否检测 PII
	PIIDetection bool `yaml:"pii_detection" env:"PII_DETECTION"`
	// 标记阈值
	FlagThreshold float64 `yaml:"flag_threshold" env:"FLAG_THRESHOLD"`
	// 远程网关
	Remote RemoteGateConfig `yaml:"remote" env:"REMOTE"`
}

// RemoteGateConfig 远程策略服务配置
type RemoteGateConfig struct {
	BaseURL string        `yaml:"base_url" env:"BASE_URL"`
	APIKey  string        `yaml:"api_key" env:"API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
}

// StoreConfig 存储配置
type StoreConfig struct {
	// 类型: memory, redis, database
	Type string `yaml:"type" env:"TYPE"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
	// 是否持久化性能快照（仅 database）
	PersistStats bool `yaml:"persist_stats" env:"PERSIST_STATS"`
}

// RedisConfig Redis 配置
type RedisConfig struct {
	// 地址
	Addr string `yaml:"addr" env:"ADDR"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库编号
	DB int `yaml:"db" env:"DB"`
	// 连接池大小
	PoolSize int `yaml:"pool_size" env:"POOL_SIZE"`
	// 最小空闲连接
	MinIdleConns int `yaml:"min_idle_conns" env:"MIN_IDLE_CONNS"`
	// 是否使用 TLS 连接
	TLS bool `yaml:"tls" env:"TLS"`
}

// DatabaseConfig 数据库配置
type DatabaseConfig struct {
	// 驱动类型: postgres, mysql, sqlite
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// LLMConfig LLM 配置
type LLMConfig struct {
	// 默认 Provider
	DefaultProvider string `yaml:"default_provider" env:"DEFAULT_PROVIDER"`
	// API Key（默认 Provider）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 基础 URL（默认 Provider，可选）
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	// 默认模型
	Model string `yaml:"model" env:"MODEL"`
	// 单次 HTTP 请求超时
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 首次重试延迟
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 连续失败多少次后熔断
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断恢复时间
	BreakerResetTimeout time.Duration `yaml:"breaker_reset_timeout" env:"BREAKER_RESET_TIMEOUT"`
	// 附加 Provider，仅 YAML 可配置
	Providers map[string]ProviderConfig `yaml:"providers" env:"-"`
	// 价格表（每千 token 美元），仅 YAML 可配置
	Prices map[string]PriceConfig `yaml:"prices" env:"-"`
}

// ProviderConfig 单个 OpenAI 兼容 Provider
type ProviderConfig struct {
	APIKey  string        `yaml:"api_key"`
	BaseURL string        `yaml:"base_url"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// PriceConfig 模型价格
type PriceConfig struct {
	PromptPer1K     float64 `yaml:"prompt_per_1k"`
	CompletionPer1K float64 `yaml:"completion_per_1k"`
}

// MemoryConfig 用户上下文配置
type MemoryConfig struct {
	// 后端: redis, memory
	Backend string `yaml:"backend" env:"BACKEND"`
	// 每个用户保留的历史交互数
	MaxHistory int `yaml:"max_history" env:"MAX_HISTORY"`
	// 历史过期时间
	TTL time.Duration `yaml:"ttl" env:"TTL"`
	// 本地 LRU 缓存容量，0 表示不缓存
	CacheSize int `yaml:"cache_size" env:"CACHE_SIZE"`
	// 本地缓存过期时间
	CacheTTL time.Duration `yaml:"cache_ttl" env:"CACHE_TTL"`
	// Redis 键前缀
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 使用明文 gRPC 连接
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// =============================================================================
// 🔧 配置加载器
// =============================================================================

// Loader 配置加载器（Builder 模式）
type Loader struct {
	configPath string
	envPrefix  string
	validators []func(*Config) error
}

// NewLoader 创建新的配置加载器
func NewLoader() *Loader {
	return &Loader{
		envPrefix:  "CAMPUSFLOW",
		validators: make([]func(*Config) error, 0),
	}
}

// WithConfigPath 设置配置文件路径
func (l *Loader) WithConfigPath(path string) *Loader {
	l.configPath = path
	return l
}

// WithEnvPrefix 设置环境变量前缀
func (l *Loader) WithEnvPrefix(prefix string) *Loader {
	l.envPrefix = prefix
	return l
}

// WithValidator 添加配置验证器
func (l *Loader) WithValidator(v func(*Config) error) *Loader {
	l.validators = append(l.validators, v)
	return l
}

// Load 加载配置
// 优先级: 默认值 → YAML 文件 → 环境变量
func (l *Loader) Load() (*Config, error) {
	// 1. 从默认值开始
	cfg := DefaultConfig()

	// 2. 如果指定了配置文件，从文件加载
	if l.configPath != "" {
		if err := l.loadFromFile(cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file: %w", err)
		}
	}

	// 3. 从环境变量覆盖
	if err := l.loadFromEnv(cfg); err != nil {
		return nil, fmt.Errorf("failed to load config from env: %w", err)
	}

	// 4. 运行验证器
	for _, v := range l.validators {
		if err := v(cfg); err != nil {
			return nil, fmt.Errorf("config validation failed: %w", err)
		}
	}

	return cfg, nil
}

// loadFromFile 从 YAML 文件加载配置
func (l *Loader) loadFromFile(cfg *Config) error {
	data, err := os.ReadFile(l.configPath)
	if err != nil {
		if os.IsNotExist(err) {
			// 文件不存在，使用默认值
			return nil
		}
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}

	return nil
}

// loadFromEnv 从环境变量加载配置
func (l *Loader) loadFromEnv(cfg *Config) error {
	return l.setFieldsFromEnv(reflect.ValueOf(cfg).Elem(), l.envPrefix)
}

// setFieldsFromEnv 递归设置结构体字段
func (l *Loader) setFieldsFromEnv(v reflect.Value, prefix string) error {
	t := v.Type()

	for i := 0; i < v.NumField(); i++ {
		field := v.Field(i)
		fieldType := t.Field(i)

		// 获取 env tag
		envTag := fieldType.Tag.Get("env")
		if envTag == "" || envTag == "-" {
			continue
		}

		envKey := prefix + "_" + envTag

		// 如果是结构体，递归处理
		if field.Kind() == reflect.Struct {
			if err := l.setFieldsFromEnv(field, envKey); err != nil {
				return err
			}
			continue
		}

		// 获取环境变量值
		envValue := os.Getenv(envKey)
		if envValue == "" {
			continue
		}

		// 设置字段值
		if err := setFieldValue(field, envValue); err != nil {
			return fmt.Errorf("failed to set %s: %w", envKey, err)
		}
	}

	return nil
}

// setFieldValue 设置字段值
func setFieldValue(field reflect.Value, value string) error {
	if !field.CanSet() {
		return nil
	}

	switch field.Kind() {
	case reflect.String:
		field.SetString(value)

	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		// 特殊处理 time.Duration
		if field.Type() == reflect.TypeOf(time.Duration(0)) {
			d, err := time.ParseDuration(value)
			if err != nil {
				return err
			}
			field.SetInt(int64(d))
		} else {
			i, err := strconv.ParseInt(value, 10, 64)
			if err != nil {
				return err
			}
			field.SetInt(i)
		}

	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(value, 10, 64)
		if err != nil {
			return err
		}
		field.SetUint(u)

	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil {
			return err
		}
		field.SetFloat(f)

	case reflect.Bool:
		b, err := strconv.ParseBool(value)
		if err != nil {
			return err
		}
		field.SetBool(b)

	case reflect.Slice:
		// 支持逗号分隔的字符串切片
		if field.Type().Elem().Kind() == reflect.String {
			parts := strings.Split(value, ",")
			for i := range parts {
				parts[i] = strings.TrimSpace(parts[i])
			}
			field.Set(reflect.ValueOf(parts))
		}
	}

	return nil
}

// =============================================================================
// 🔍 辅助函数
// =============================================================================

// MustLoad 加载配置，失败时 panic
func MustLoad(path string) *Config {
	cfg, err := NewLoader().WithConfigPath(path).Load()
	if err != nil {
		panic(fmt.Sprintf("failed to load config: %v", err))
	}
	return cfg
}

// LoadFromEnv 仅从环境变量加载配置
func LoadFromEnv() (*Config, error) {
	return NewLoader().Load()
}

// Validate 验证配置
func (c *Config) Validate() error {
	var errs []string

	// 服务器
	if c.Server.HTTPPort <= 0 || c.Server.HTTPPort > 65535 {
		errs = append(errs, "invalid HTTP port")
	}
	if c.Server.MetricsPort < 0 || c.Server.MetricsPort > 65535 {
		errs = append(errs, "invalid metrics port")
	}
	if (c.Server.TLSCertFile == "") != (c.Server.TLSKeyFile == "") {
		errs = append(errs, "server.tls_cert_file and server.tls_key_file must be set together")
	}
	if c.Server.JWT.Enabled && c.Server.JWT.Secret == "" {
		errs = append(errs, "jwt.secret is required when jwt is enabled")
	}

	// 编排器
	if c.Orchestrator.ModelTimeout <= 0 {
		errs = append(errs, "orchestrator.model_timeout must be positive")
	}
	if c.Orchestrator.MaxConcurrent < 0 {
		errs = append(errs, "orchestrator.max_concurrent must not be negative")
	}
	if c.Orchestrator.RecoverStaleAfter < 0 {
		errs = append(errs, "orchestrator.recover_stale_after must not be negative")
	}

	// 网关
	if !oneOf(c.Gates.Governance.Mode, "rules", "remote", "disabled") {
		errs = append(errs, fmt.Sprintf("unknown governance mode %q", c.Gates.Governance.Mode))
	}
	if c.Gates.Governance.Mode == "remote" && c.Gates.Governance.Remote.BaseURL == "" {
		errs = append(errs, "gates.governance.remote.base_url is required in remote mode")
	}
	if !oneOf(c.Gates.Alignment.Mode, "content", "remote", "disabled") {
		errs = append(errs, fmt.Sprintf("unknown alignment mode %q", c.Gates.Alignment.Mode))
	}
	if c.Gates.Alignment.Mode == "remote" && c.Gates.Alignment.Remote.BaseURL == "" {
		errs = append(errs, "gates.alignment.remote.base_url is required in remote mode")
	}

	// 存储
	if !oneOf(c.Store.Type, "memory", "redis", "database") {
		errs = append(errs, fmt.Sprintf("unknown store type %q", c.Store.Type))
	}
	if c.Store.Type == "database" && !oneOf(c.Database.Driver, "postgres", "mysql", "sqlite") {
		errs = append(errs, fmt.Sprintf("unsupported database driver %q", c.Database.Driver))
	}
	if !oneOf(c.Memory.Backend, "redis", "memory") {
		errs = append(errs, fmt.Sprintf("unknown memory backend %q", c.Memory.Backend))
	}

	// 遥测
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}

// DSN 返回数据库连接字符串
func (d *DatabaseConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}
