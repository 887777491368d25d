package memory

import (
	"context"
	"sync"
)

// InMemoryContextProvider keeps user context in process memory.
// Suitable for development and tests.
type InMemoryContextProvider struct {
	mu         sync.RWMutex
	profiles   map[string]map[string]any
	history    map[string][]Interaction
	maxHistory int
}

// NewInMemoryContextProvider creates a provider keeping at most maxHistory interactions per user.
func NewInMemoryContextProvider(maxHistory int) *InMemoryContextProvider {
	if maxHistory <= 0 {
		maxHistory = 20
	}
	return &InMemoryContextProvider{
		profiles:   make(map[string]map[string]any),
		history:    make(map[string][]Interaction),
		maxHistory: maxHistory,
	}
}

// Fetch returns the stored bundle, newest interaction first.
func (p *InMemoryContextProvider) Fetch(_ context.Context, userID string) (*Bundle, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	b := &Bundle{UserID: userID, Profile: p.profiles[userID]}
	b.Interactions = append([]Interaction(nil), p.history[userID]...)
	return b.Clone(), nil
}

// Log records the interaction.
func (p *InMemoryContextProvider) Log(_ context.Context, userID string, interaction Interaction) error {
	if userID == "" {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	h := append([]Interaction{interaction}, p.history[userID]...)
	if len(h) > p.maxHistory {
		h = h[:p.maxHistory]
	}
	p.history[userID] = h
	return nil
}

// SetProfile stores the user's profile document.
func (p *InMemoryContextProvider) SetProfile(userID string, profile map[string]any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.profiles[userID] = profile
}

var _ ContextProvider = (*InMemoryContextProvider)(nil)
