package performance

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Snapshot is the rolling performance record for one agent.
type Snapshot struct {
	AgentID         string    `json:"agent_id" gorm:"primaryKey;size:128"`
	TotalExecutions int64     `json:"total_executions"`
	AvgLatencyMs    float64   `json:"avg_latency_ms"`
	LatencyM2       float64   `json:"-" gorm:"column:latency_m2"`
	SuccessRate     float64   `json:"success_rate"`
	LatencyStdDevMs float64   `json:"latency_stddev_ms" gorm:"-"`
	LastUpdated     time.Time `json:"last_updated"`
}

// TableName 指定性能快照表名
func (Snapshot) TableName() string {
	return "agent_stats"
}

// Store persists snapshots so statistics survive restarts.
type Store interface {
	SaveSnapshot(ctx context.Context, snap *Snapshot) error
	ListSnapshots(ctx context.Context) ([]*Snapshot, error)
}

// entry guards one agent's statistics.
type entry struct {
	mu      sync.Mutex
	latency Accumulator
	success Accumulator
	updated time.Time

	// pending is the newest unsaved snapshot; flushing marks a running writer.
	pending  *Snapshot
	flushing bool
}

func (e *entry) snapshot(agentID string) *Snapshot {
	return &Snapshot{
		AgentID:         agentID,
		TotalExecutions: e.latency.Count,
		AvgLatencyMs:    e.latency.Mean,
		LatencyM2:       e.latency.M2,
		SuccessRate:     e.success.Mean,
		LatencyStdDevMs: e.latency.StdDev(),
		LastUpdated:     e.updated,
	}
}

// Aggregator maintains per-agent statistics. Updates for one agent are
// serialized by that agent's mutex; different agents never contend.
type Aggregator struct {
	entries sync.Map // agentID -> *entry
	store   Store
	logger  *zap.Logger
	now     func() time.Time

	// persistTimeout bounds write-behind saves
	persistTimeout time.Duration
	flushers       sync.WaitGroup
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithStore enables write-behind persistence of snapshots.
func WithStore(store Store) Option {
	return func(a *Aggregator) { a.store = store }
}

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(a *Aggregator) { a.now = now }
}

// NewAggregator creates an aggregator.
func NewAggregator(opts ...Option) *Aggregator {
	a := &Aggregator{
		logger:         zap.NewNop(),
		now:            time.Now,
		persistTimeout: 2 * time.Second,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.logger = a.logger.With(zap.String("component", "performance_aggregator"))
	return a
}

func (a *Aggregator) entryFor(agentID string) *entry {
	if e, ok := a.entries.Load(agentID); ok {
		return e.(*entry)
	}
	e, _ := a.entries.LoadOrStore(agentID, &entry{})
	return e.(*entry)
}

// RecordExecution folds one finished task into the agent's statistics and
// returns the resulting snapshot.
func (a *Aggregator) RecordExecution(ctx context.Context, agentID string, latencyMs int64, success bool) *Snapshot {
	e := a.entryFor(agentID)

	sample := 0.0
	if success {
		sample = 1.0
	}

	e.mu.Lock()
	e.latency.Add(float64(latencyMs))
	e.success.Add(sample)
	e.updated = a.now()
	snap := e.snapshot(agentID)
	if a.store != nil {
		c := *snap
		e.pending = &c
		if !e.flushing {
			e.flushing = true
			a.flushers.Add(1)
			go a.flush(context.WithoutCancel(ctx), e)
		}
	}
	e.mu.Unlock()

	return snap
}

// flush is the single writer for one agent. Saves run in order and each one
// carries the newest snapshot, so an older state never lands last.
func (a *Aggregator) flush(ctx context.Context, e *entry) {
	defer a.flushers.Done()
	for {
		e.mu.Lock()
		snap := e.pending
		e.pending = nil
		if snap == nil {
			e.flushing = false
			e.mu.Unlock()
			return
		}
		e.mu.Unlock()

		a.persist(ctx, snap)
	}
}

// persist saves the snapshot; a failure costs durability of statistics only.
func (a *Aggregator) persist(ctx context.Context, snap *Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, a.persistTimeout)
	defer cancel()

	if err := a.store.SaveSnapshot(ctx, snap); err != nil {
		a.logger.Warn("failed to persist agent snapshot",
			zap.String("agent_id", snap.AgentID),
			zap.Error(err),
		)
	}
}

// Flush waits for pending snapshot saves to finish.
func (a *Aggregator) Flush(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		a.flushers.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for snapshot saves: %w", ctx.Err())
	}
}

// Snapshot returns the agent's statistics, or a zero snapshot if it never ran.
func (a *Aggregator) Snapshot(agentID string) *Snapshot {
	v, ok := a.entries.Load(agentID)
	if !ok {
		return &Snapshot{AgentID: agentID}
	}
	e := v.(*entry)
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshot(agentID)
}

// Snapshots returns every known agent's statistics sorted by agent ID.
func (a *Aggregator) Snapshots() []*Snapshot {
	out := make([]*Snapshot, 0)
	a.entries.Range(func(key, value any) bool {
		e := value.(*entry)
		e.mu.Lock()
		out = append(out, e.snapshot(key.(string)))
		e.mu.Unlock()
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// Restore seeds statistics from the store. Agents already updated in this
// process keep their live values.
func (a *Aggregator) Restore(ctx context.Context) (int, error) {
	if a.store == nil {
		return 0, nil
	}
	snaps, err := a.store.ListSnapshots(ctx)
	if err != nil {
		return 0, err
	}

	restored := 0
	for _, s := range snaps {
		if s == nil || s.TotalExecutions <= 0 {
			continue
		}
		e := &entry{
			latency: Accumulator{Count: s.TotalExecutions, Mean: s.AvgLatencyMs, M2: s.LatencyM2},
			success: Accumulator{Count: s.TotalExecutions, Mean: s.SuccessRate},
			updated: s.LastUpdated,
		}
		if _, loaded := a.entries.LoadOrStore(s.AgentID, e); !loaded {
			restored++
		}
	}

	a.logger.Info("agent snapshots restored", zap.Int("count", restored))
	return restored, nil
}
