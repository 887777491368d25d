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

// --- Loader 测试 ---

func TestLoader_LoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)
	require.NotNil(t, cfg)

	assert.Equal(t, 8080, cfg.Server.HTTPPort)
	assert.Equal(t, 5*time.Second, cfg.Orchestrator.ModelTimeout)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
  read_timeout: 60s
  jwt:
    enabled: true
    secret: "s3cret"

orchestrator:
  model_timeout: 3s
  max_concurrent: 32
  enable_alignment: false

gates:
  governance:
    mode: rules
    fail_open: true
    denied_actions: ["bulk_export"]
    rate_per_minute: 30
  alignment:
    mode: content
    blocked_keywords: ["expel"]

store:
  type: database

database:
  driver: sqlite
  name: "campusflow.db"

llm:
  default_provider: deepseek
  model: deepseek-chat
  providers:
    qwen:
      api_key: "qk"
      model: qwen-plus
  prices:
    deepseek-chat:
      prompt_per_1k: 0.00027
      completion_per_1k: 0.0011

memory:
  backend: redis
  max_history: 5

log:
  level: debug
  format: console
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.Server.HTTPPort)
	assert.Equal(t, 60*time.Second, cfg.Server.ReadTimeout)
	assert.True(t, cfg.Server.JWT.Enabled)
	assert.Equal(t, "s3cret", cfg.Server.JWT.Secret)

	assert.Equal(t, 3*time.Second, cfg.Orchestrator.ModelTimeout)
	assert.Equal(t, 32, cfg.Orchestrator.MaxConcurrent)
	assert.False(t, cfg.Orchestrator.EnableAlignment)
	assert.True(t, cfg.Orchestrator.EnableGovernance, "unset keys keep defaults")

	assert.True(t, cfg.Gates.Governance.FailOpen)
	assert.Equal(t, []string{"bulk_export"}, cfg.Gates.Governance.DeniedActions)
	assert.Equal(t, 30.0, cfg.Gates.Governance.RatePerMinute)
	assert.Equal(t, []string{"expel"}, cfg.Gates.Alignment.BlockedKeywords)

	assert.Equal(t, "database", cfg.Store.Type)
	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, "deepseek", cfg.LLM.DefaultProvider)
	require.Contains(t, cfg.LLM.Providers, "qwen")
	assert.Equal(t, "qwen-plus", cfg.LLM.Providers["qwen"].Model)
	assert.InDelta(t, 0.0011, cfg.LLM.Prices["deepseek-chat"].CompletionPer1K, 1e-12)

	assert.Equal(t, "redis", cfg.Memory.Backend)
	assert.Equal(t, 5, cfg.Memory.MaxHistory)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.NoError(t, cfg.Validate())
}

func TestLoader_LoadFromEnv(t *testing.T) {
	t.Setenv("CAMPUSFLOW_SERVER_HTTP_PORT", "7777")
	t.Setenv("CAMPUSFLOW_ORCHESTRATOR_MODEL_TIMEOUT", "750ms")
	t.Setenv("CAMPUSFLOW_ORCHESTRATOR_ENABLE_MEMORY", "false")
	t.Setenv("CAMPUSFLOW_GATES_GOVERNANCE_FAIL_OPEN", "true")
	t.Setenv("CAMPUSFLOW_GATES_GOVERNANCE_DENIED_ACTORS", "intruder, guest")
	t.Setenv("CAMPUSFLOW_GATES_ALIGNMENT_FLAG_THRESHOLD", "0.5")
	t.Setenv("CAMPUSFLOW_REDIS_ADDR", "env-redis:6379")
	t.Setenv("CAMPUSFLOW_LLM_API_KEY", "sk-env")
	t.Setenv("CAMPUSFLOW_TELEMETRY_INSECURE", "false")
	t.Setenv("CAMPUSFLOW_LOG_LEVEL", "warn")

	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 7777, cfg.Server.HTTPPort)
	assert.Equal(t, 750*time.Millisecond, cfg.Orchestrator.ModelTimeout)
	assert.False(t, cfg.Orchestrator.EnableMemory)
	assert.True(t, cfg.Gates.Governance.FailOpen)
	assert.Equal(t, []string{"intruder", "guest"}, cfg.Gates.Governance.DeniedActors)
	assert.Equal(t, 0.5, cfg.Gates.Alignment.FlagThreshold)
	assert.Equal(t, "env-redis:6379", cfg.Redis.Addr)
	assert.Equal(t, "sk-env", cfg.LLM.APIKey)
	assert.False(t, cfg.Telemetry.Insecure)
	assert.Equal(t, "warn", cfg.Log.Level)
}

func TestLoader_EnvOverridesYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	yamlContent := `
server:
  http_port: 8888
llm:
  default_provider: "qwen"
  model: "qwen-plus"
`
	require.NoError(t, os.WriteFile(configPath, []byte(yamlContent), 0644))

	t.Setenv("CAMPUSFLOW_SERVER_HTTP_PORT", "9999")
	t.Setenv("CAMPUSFLOW_LLM_DEFAULT_PROVIDER", "glm")

	cfg, err := NewLoader().WithConfigPath(configPath).Load()
	require.NoError(t, err)

	assert.Equal(t, 9999, cfg.Server.HTTPPort)
	assert.Equal(t, "glm", cfg.LLM.DefaultProvider)
	// YAML 值应该保留（没有被环境变量覆盖）
	assert.Equal(t, "qwen-plus", cfg.LLM.Model)
}

func TestLoader_CustomEnvPrefix(t *testing.T) {
	t.Setenv("MYAPP_SERVER_HTTP_PORT", "6666")
	t.Setenv("MYAPP_STORE_TYPE", "redis")

	cfg, err := NewLoader().WithEnvPrefix("MYAPP").Load()
	require.NoError(t, err)

	assert.Equal(t, 6666, cfg.Server.HTTPPort)
	assert.Equal(t, "redis", cfg.Store.Type)
}

func TestLoader_InvalidEnvValue(t *testing.T) {
	t.Setenv("CAMPUSFLOW_ORCHESTRATOR_MODEL_TIMEOUT", "five seconds")

	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "CAMPUSFLOW_ORCHESTRATOR_MODEL_TIMEOUT")
}

func TestLoader_WithValidator(t *testing.T) {
	t.Setenv("CAMPUSFLOW_SERVER_HTTP_PORT", "80")

	_, err := NewLoader().
		WithValidator(func(cfg *Config) error {
			if cfg.Server.HTTPPort < 1024 {
				return assert.AnError
			}
			return nil
		}).
		Load()
	assert.ErrorIs(t, err, assert.AnError)
}

func TestLoader_NonExistentFile(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/non/existent/path/config.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8080, cfg.Server.HTTPPort)
}

func TestLoader_InvalidYAML(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")

	invalidYAML := `
server:
  http_port: [invalid
  this is not valid yaml
`
	require.NoError(t, os.WriteFile(configPath, []byte(invalidYAML), 0644))

	_, err := NewLoader().WithConfigPath(configPath).Load()
	assert.Error(t, err)
}

// --- Config 方法测试 ---

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr string
	}{
		{name: "valid default config", modify: func(c *Config) {}},
		{name: "invalid HTTP port", modify: func(c *Config) { c.Server.HTTPPort = 70000 }, wantErr: "invalid HTTP port"},
		{name: "jwt without secret", modify: func(c *Config) { c.Server.JWT.Enabled = true }, wantErr: "jwt.secret"},
		{name: "zero model timeout", modify: func(c *Config) { c.Orchestrator.ModelTimeout = 0 }, wantErr: "model_timeout"},
		{name: "negative concurrency", modify: func(c *Config) { c.Orchestrator.MaxConcurrent = -1 }, wantErr: "max_concurrent"},
		{name: "negative stale threshold", modify: func(c *Config) { c.Orchestrator.RecoverStaleAfter = -time.Minute }, wantErr: "recover_stale_after"},
		{name: "unknown governance mode", modify: func(c *Config) { c.Gates.Governance.Mode = "opa" }, wantErr: "governance mode"},
		{name: "remote governance without url", modify: func(c *Config) { c.Gates.Governance.Mode = "remote" }, wantErr: "governance.remote.base_url"},
		{name: "remote alignment without url", modify: func(c *Config) { c.Gates.Alignment.Mode = "remote" }, wantErr: "alignment.remote.base_url"},
		{name: "unknown store", modify: func(c *Config) { c.Store.Type = "mongo" }, wantErr: "store type"},
		{
			name: "database store with unsupported driver",
			modify: func(c *Config) {
				c.Store.Type = "database"
				c.Database.Driver = "oracle"
			},
			wantErr: "database driver",
		},
		{name: "unknown memory backend", modify: func(c *Config) { c.Memory.Backend = "disk" }, wantErr: "memory backend"},
		{name: "sample rate out of range", modify: func(c *Config) { c.Telemetry.SampleRate = 1.5 }, wantErr: "sample_rate"},
		{
			name: "remote gates with urls",
			modify: func(c *Config) {
				c.Gates.Governance.Mode = "remote"
				c.Gates.Governance.Remote.BaseURL = "http://policy:8181"
				c.Gates.Alignment.Mode = "disabled"
			},
		},
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
			require.Error(t, err)
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
			name: "postgres DSN",
			config: DatabaseConfig{
				Driver:   "postgres",
				Host:     "localhost",
				Port:     5432,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
				SSLMode:  "disable",
			},
			expected: "host=localhost port=5432 user=user password=pass dbname=dbname sslmode=disable",
		},
		{
			name: "mysql DSN",
			config: DatabaseConfig{
				Driver:   "mysql",
				Host:     "localhost",
				Port:     3306,
				User:     "user",
				Password: "pass",
				Name:     "dbname",
			},
			expected: "user:pass@tcp(localhost:3306)/dbname?parseTime=true",
		},
		{
			name:     "sqlite DSN",
			config:   DatabaseConfig{Driver: "sqlite", Name: "/path/to/db.sqlite"},
			expected: "/path/to/db.sqlite",
		},
		{
			name:     "unknown driver",
			config:   DatabaseConfig{Driver: "unknown"},
			expected: "",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.config.DSN())
		})
	}
}

// --- MustLoad 测试 ---

func TestMustLoad_Success(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("server:\n  http_port: 8080\n"), 0644))

	assert.NotPanics(t, func() {
		cfg := MustLoad(configPath)
		assert.Equal(t, 8080, cfg.Server.HTTPPort)
	})
}

func TestMustLoad_InvalidFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "invalid.yaml")
	require.NoError(t, os.WriteFile(configPath, []byte("invalid: [yaml"), 0644))

	assert.Panics(t, func() {
		MustLoad(configPath)
	})
}

func TestLoadFromEnv_Function(t *testing.T) {
	t.Setenv("CAMPUSFLOW_MEMORY_BACKEND", "redis")

	cfg, err := LoadFromEnv()
	require.NoError(t, err)
	assert.Equal(t, "redis", cfg.Memory.Backend)
}
