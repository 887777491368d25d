package orchestrator

import (
	"time"

	"github.com/BaSui01/campusflow/llm"
)

// Options toggles the optional pipeline steps for one execution.
type Options struct {
	EnableMemory     bool `json:"enable_memory" yaml:"enable_memory"`
	EnableGovernance bool `json:"enable_governance" yaml:"enable_governance"`
	EnableAlignment  bool `json:"enable_alignment" yaml:"enable_alignment"`
}

// DefaultOptions enables every step.
func DefaultOptions() Options {
	return Options{EnableMemory: true, EnableGovernance: true, EnableAlignment: true}
}

// Config bounds every collaborator call the orchestrator makes.
type Config struct {
	// ModelTimeout bounds one model invocation including retries.
	ModelTimeout time.Duration `yaml:"model_timeout" json:"model_timeout"`
	// ContextTimeout bounds ContextProvider.Fetch.
	ContextTimeout time.Duration `yaml:"context_timeout" json:"context_timeout"`
	// GateTimeout bounds each policy gate check.
	GateTimeout time.Duration `yaml:"gate_timeout" json:"gate_timeout"`
	// MemoryLogTimeout bounds the detached ContextProvider.Log call.
	MemoryLogTimeout time.Duration `yaml:"memory_log_timeout" json:"memory_log_timeout"`
	// LedgerTimeout bounds each ledger write. Writes ignore caller cancellation.
	LedgerTimeout time.Duration `yaml:"ledger_timeout" json:"ledger_timeout"`
	// MaxConcurrent caps in-flight executions; 0 means unbounded.
	MaxConcurrent int `yaml:"max_concurrent" json:"max_concurrent"`
	// GovernanceFailOpen lets tasks proceed when the governance gate is unavailable.
	GovernanceFailOpen bool `yaml:"governance_fail_open" json:"governance_fail_open"`
	// DefaultOptions applies when a request carries no options.
	DefaultOptions Options `yaml:"default_options" json:"default_options"`
	// Prices estimates task cost from token usage.
	Prices llm.PriceTable `yaml:"prices" json:"prices"`
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		ModelTimeout:     5 * time.Second,
		ContextTimeout:   time.Second,
		GateTimeout:      2 * time.Second,
		MemoryLogTimeout: 2 * time.Second,
		LedgerTimeout:    5 * time.Second,
		MaxConcurrent:    256,
		DefaultOptions:   DefaultOptions(),
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.ModelTimeout <= 0 {
		c.ModelTimeout = def.ModelTimeout
	}
	if c.ContextTimeout <= 0 {
		c.ContextTimeout = def.ContextTimeout
	}
	if c.GateTimeout <= 0 {
		c.GateTimeout = def.GateTimeout
	}
	if c.MemoryLogTimeout <= 0 {
		c.MemoryLogTimeout = def.MemoryLogTimeout
	}
	if c.LedgerTimeout <= 0 {
		c.LedgerTimeout = def.LedgerTimeout
	}
	if c.MaxConcurrent < 0 {
		c.MaxConcurrent = 0
	}
	return c
}
