package agent

import (
	"fmt"
	"strings"
	"time"
)

// Definition describes a registered agent: what it can do and which model backs it.
type Definition struct {
	ID            string         `json:"id" gorm:"primaryKey;size:128"`
	Name          string         `json:"name" gorm:"size:255"`
	Type          string         `json:"type" gorm:"size:64"`
	Capabilities  []string       `json:"capabilities" gorm:"serializer:json"`
	ModelProvider string         `json:"model_provider" gorm:"size:64"`
	ModelName     string         `json:"model_name" gorm:"size:128"`
	Configuration map[string]any `json:"configuration,omitempty" gorm:"serializer:json"`
	Enabled       bool           `json:"enabled"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// TableName 指定 Agent 定义表名
func (Definition) TableName() string {
	return "agents"
}

// Validate checks the invariants every registered definition must hold.
func (d *Definition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return fmt.Errorf("agent id is required")
	}
	if len(d.Capabilities) == 0 {
		return fmt.Errorf("at least one capability is required")
	}
	for i, c := range d.Capabilities {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("capability %d is empty", i)
		}
	}
	return nil
}

// HasCapability reports whether the agent declares the given capability tag.
func (d *Definition) HasCapability(capability string) bool {
	for _, c := range d.Capabilities {
		if c == capability {
			return true
		}
	}
	return false
}

// Clone returns a deep copy so cached entries are never shared with callers.
func (d *Definition) Clone() *Definition {
	if d == nil {
		return nil
	}
	c := *d
	c.Capabilities = append([]string(nil), d.Capabilities...)
	if d.Configuration != nil {
		c.Configuration = cloneValue(d.Configuration).(map[string]any)
	}
	return &c
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneValue(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return append([]string(nil), t...)
	default:
		return v
	}
}
