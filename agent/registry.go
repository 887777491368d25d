package agent

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/campusflow/types"
	"go.uber.org/zap"
)

// Store persists agent definitions behind the registry cache.
type Store interface {
	// SaveDefinition inserts or replaces a definition by ID
	SaveDefinition(ctx context.Context, def *Definition) error
	// ListDefinitions returns all definitions in registration order
	ListDefinitions(ctx context.Context) ([]*Definition, error)
}

// Registry is the process-wide catalog of agent definitions.
// Reads take a shared lock on an index of immutable entries; writers persist
// first and then swap the entry, so readers never observe a partial definition.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*Definition
	order   []string

	// writeMu serializes registrations without blocking readers during store I/O
	writeMu sync.Mutex

	store  Store
	logger *zap.Logger
	now    func() time.Time
}

// NewRegistry creates a registry backed by store. A nil store keeps definitions in memory only.
func NewRegistry(store Store, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*Definition),
		store:   store,
		logger:  logger.With(zap.String("component", "agent_registry")),
		now:     time.Now,
	}
}

// Load warms the cache from the store. Entries already registered in this process win.
func (r *Registry) Load(ctx context.Context) (int, error) {
	if r.store == nil {
		return 0, nil
	}

	defs, err := r.store.ListDefinitions(ctx)
	if err != nil {
		return 0, types.NewPersistenceError("list agent definitions", err)
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	r.mu.Lock()
	defer r.mu.Unlock()

	loaded := 0
	for _, def := range defs {
		if def == nil || def.Validate() != nil {
			continue
		}
		if _, exists := r.entries[def.ID]; exists {
			continue
		}
		r.entries[def.ID] = def.Clone()
		r.order = append(r.order, def.ID)
		loaded++
	}

	r.logger.Info("agent definitions loaded", zap.Int("count", loaded))
	return loaded, nil
}

// Register validates and stores a definition. Re-registering an ID replaces its
// configuration but keeps CreatedAt and the agent's position in List.
func (r *Registry) Register(ctx context.Context, def Definition) (*Definition, error) {
	def.ID = strings.TrimSpace(def.ID)
	if err := def.Validate(); err != nil {
		return nil, types.NewInvalidDefinitionError(err.Error())
	}

	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	next := def.Clone()
	now := r.now()
	next.UpdatedAt = now

	r.mu.RLock()
	existing, replacing := r.entries[next.ID]
	r.mu.RUnlock()

	if replacing {
		next.CreatedAt = existing.CreatedAt
	} else if next.CreatedAt.IsZero() {
		next.CreatedAt = now
	}

	if r.store != nil {
		if err := r.store.SaveDefinition(ctx, next); err != nil {
			r.logger.Error("failed to persist agent definition",
				zap.String("agent_id", next.ID),
				zap.Error(err),
			)
			return nil, types.NewPersistenceError("save agent definition", err)
		}
	}

	r.mu.Lock()
	r.entries[next.ID] = next
	if !replacing {
		r.order = append(r.order, next.ID)
	}
	r.mu.Unlock()

	r.logger.Info("agent registered",
		zap.String("agent_id", next.ID),
		zap.String("type", next.Type),
		zap.Strings("capabilities", next.Capabilities),
		zap.Bool("replaced", replacing),
	)

	return next.Clone(), nil
}

// SetEnabled soft-enables or soft-disables an agent. Definitions are never deleted.
func (r *Registry) SetEnabled(ctx context.Context, agentID string, enabled bool) (*Definition, error) {
	def, err := r.Lookup(agentID)
	if err != nil {
		return nil, err
	}
	def.Enabled = enabled
	return r.Register(ctx, *def)
}

// Lookup returns a copy of the definition registered under agentID.
func (r *Registry) Lookup(agentID string) (*Definition, error) {
	r.mu.RLock()
	def, ok := r.entries[agentID]
	r.mu.RUnlock()

	if !ok {
		return nil, types.NewAgentNotFoundError(agentID)
	}
	return def.Clone(), nil
}

// List returns every definition in registration order.
func (r *Registry) List() []*Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Definition, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.entries[id].Clone())
	}
	return out
}

// Len returns the number of registered agents.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// String implements fmt.Stringer for debug logs.
func (r *Registry) String() string {
	return fmt.Sprintf("Registry(%d agents)", r.Len())
}
