package memory

import (
	"context"
	"time"
)

// Interaction is one completed agent run remembered for a user.
type Interaction struct {
	TaskID   string         `json:"task_id"`
	AgentID  string         `json:"agent_id"`
	TaskType string         `json:"task_type"`
	Input    map[string]any `json:"input,omitempty"`
	Output   string         `json:"output"`
	At       time.Time      `json:"at"`
}

// Bundle is the context retrieved for a user before a task runs.
type Bundle struct {
	UserID       string         `json:"user_id"`
	Profile      map[string]any `json:"profile,omitempty"`
	Interactions []Interaction  `json:"interactions,omitempty"`
}

// IsEmpty reports whether the bundle carries nothing worth rendering.
func (b *Bundle) IsEmpty() bool {
	return b == nil || (len(b.Profile) == 0 && len(b.Interactions) == 0)
}

// Clone returns a copy whose slices and top-level maps are not shared.
func (b *Bundle) Clone() *Bundle {
	if b == nil {
		return nil
	}
	c := &Bundle{UserID: b.UserID}
	if b.Profile != nil {
		c.Profile = make(map[string]any, len(b.Profile))
		for k, v := range b.Profile {
			c.Profile[k] = v
		}
	}
	c.Interactions = append([]Interaction(nil), b.Interactions...)
	return c
}

// ContextProvider supplies and records per-user memory.
type ContextProvider interface {
	// Fetch returns the user's context bundle; an unknown user yields an empty bundle
	Fetch(ctx context.Context, userID string) (*Bundle, error)
	// Log remembers a finished interaction for the user
	Log(ctx context.Context, userID string, interaction Interaction) error
}
