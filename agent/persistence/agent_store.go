package persistence

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/BaSui01/campusflow/agent"
	"github.com/BaSui01/campusflow/agent/performance"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// definitionColumns are replaced on re-registration; created_at is kept.
var definitionColumns = []string{
	"name", "type", "capabilities", "model_provider", "model_name",
	"configuration", "enabled", "updated_at",
}

// GormAgentStore persists agent definitions and performance snapshots.
type GormAgentStore struct {
	db *gorm.DB
}

// NewGormAgentStore creates an agent store on an open gorm connection
func NewGormAgentStore(db *gorm.DB) *GormAgentStore {
	return &GormAgentStore{db: db}
}

// SaveDefinition upserts a definition by ID
func (s *GormAgentStore) SaveDefinition(ctx context.Context, def *agent.Definition) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "id"}},
			DoUpdates: clause.AssignmentColumns(definitionColumns),
		}).
		Create(def).Error
	if err != nil {
		return fmt.Errorf("failed to save agent %s: %w", def.ID, err)
	}
	return nil
}

// ListDefinitions returns definitions in registration order
func (s *GormAgentStore) ListDefinitions(ctx context.Context) ([]*agent.Definition, error) {
	var defs []*agent.Definition
	if err := s.db.WithContext(ctx).Order("created_at ASC").Order("id ASC").Find(&defs).Error; err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return defs, nil
}

// SaveSnapshot upserts an agent's performance snapshot. A row with more
// executions than snap is left alone.
func (s *GormAgentStore) SaveSnapshot(ctx context.Context, snap *performance.Snapshot) error {
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "agent_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"total_executions", "avg_latency_ms", "latency_m2", "success_rate", "last_updated"}),
			// MySQL 方言忽略该条件，只依赖进程内按 agent 串行写入
			Where: clause.Where{Exprs: []clause.Expression{
				clause.Expr{SQL: "agent_stats.total_executions <= excluded.total_executions"},
			}},
		}).
		Create(snap).Error
	if err != nil {
		return fmt.Errorf("failed to save snapshot for %s: %w", snap.AgentID, err)
	}
	return nil
}

// ListSnapshots returns all stored snapshots
func (s *GormAgentStore) ListSnapshots(ctx context.Context) ([]*performance.Snapshot, error) {
	var snaps []*performance.Snapshot
	if err := s.db.WithContext(ctx).Order("agent_id ASC").Find(&snaps).Error; err != nil {
		return nil, fmt.Errorf("failed to list snapshots: %w", err)
	}
	return snaps, nil
}

// MemoryAgentStore keeps definitions and snapshots in process memory.
type MemoryAgentStore struct {
	mu    sync.RWMutex
	defs  map[string]*agent.Definition
	snaps map[string]*performance.Snapshot
}

// NewMemoryAgentStore creates an in-memory agent store
func NewMemoryAgentStore() *MemoryAgentStore {
	return &MemoryAgentStore{
		defs:  make(map[string]*agent.Definition),
		snaps: make(map[string]*performance.Snapshot),
	}
}

// SaveDefinition stores a copy of def
func (s *MemoryAgentStore) SaveDefinition(_ context.Context, def *agent.Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.defs[def.ID] = def.Clone()
	return nil
}

// ListDefinitions returns definitions ordered by creation time
func (s *MemoryAgentStore) ListDefinitions(_ context.Context) ([]*agent.Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*agent.Definition, 0, len(s.defs))
	for _, def := range s.defs {
		out = append(out, def.Clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

// SaveSnapshot stores a copy of snap unless a newer one is already stored
func (s *MemoryAgentStore) SaveSnapshot(_ context.Context, snap *performance.Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.snaps[snap.AgentID]; ok && cur.TotalExecutions > snap.TotalExecutions {
		return nil
	}
	c := *snap
	s.snaps[snap.AgentID] = &c
	return nil
}

// ListSnapshots returns every stored snapshot
func (s *MemoryAgentStore) ListSnapshots(_ context.Context) ([]*performance.Snapshot, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*performance.Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		c := *snap
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out, nil
}

var (
	_ agent.Store       = (*GormAgentStore)(nil)
	_ agent.Store       = (*MemoryAgentStore)(nil)
	_ performance.Store = (*GormAgentStore)(nil)
	_ performance.Store = (*MemoryAgentStore)(nil)
)
