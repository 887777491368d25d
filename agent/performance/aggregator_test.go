package performance

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type memStore struct {
	mu    sync.Mutex
	snaps map[string]*Snapshot
	err   error
}

func newMemStore() *memStore {
	return &memStore{snaps: make(map[string]*Snapshot)}
}

func (s *memStore) SaveSnapshot(_ context.Context, snap *Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	c := *snap
	s.snaps[snap.AgentID] = &c
	return nil
}

func (s *memStore) ListSnapshots(_ context.Context) ([]*Snapshot, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*Snapshot, 0, len(s.snaps))
	for _, snap := range s.snaps {
		c := *snap
		out = append(out, &c)
	}
	return out, nil
}

func TestAggregator_RecordExecution(t *testing.T) {
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	agg := NewAggregator(WithClock(func() time.Time { return fixed }))
	ctx := context.Background()

	assert.Equal(t, int64(0), agg.Snapshot("risk-scorer").TotalExecutions)

	agg.RecordExecution(ctx, "risk-scorer", 100, true)
	agg.RecordExecution(ctx, "risk-scorer", 200, false)
	snap := agg.RecordExecution(ctx, "risk-scorer", 300, true)

	assert.Equal(t, int64(3), snap.TotalExecutions)
	assert.InDelta(t, 200.0, snap.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 1e-9)
	assert.InDelta(t, 81.6496580927726, snap.LatencyStdDevMs, 1e-9)
	assert.Equal(t, fixed, snap.LastUpdated)
}

func TestAggregator_ConcurrentUpdatesSameAgent(t *testing.T) {
	agg := NewAggregator()
	ctx := context.Background()

	const m = 250
	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < m; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			<-start
			agg.RecordExecution(ctx, "risk-scorer", int64(i%10), i%2 == 0)
		}(i)
	}
	close(start)
	wg.Wait()

	snap := agg.Snapshot("risk-scorer")
	assert.Equal(t, int64(m), snap.TotalExecutions)
	assert.InDelta(t, 4.5, snap.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 0.5, snap.SuccessRate, 1e-9)
}

func TestAggregator_AgentsAreIndependent(t *testing.T) {
	agg := NewAggregator()
	ctx := context.Background()

	var wg sync.WaitGroup
	for _, id := range []string{"a", "b", "c"} {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				agg.RecordExecution(ctx, id, 50, true)
			}
		}(id)
	}
	wg.Wait()

	snaps := agg.Snapshots()
	require.Len(t, snaps, 3)
	for i, id := range []string{"a", "b", "c"} {
		assert.Equal(t, id, snaps[i].AgentID)
		assert.Equal(t, int64(100), snaps[i].TotalExecutions)
	}
}

func TestAggregator_PersistAndRestore(t *testing.T) {
	store := newMemStore()
	ctx := context.Background()

	first := NewAggregator(WithStore(store), WithLogger(zap.NewNop()))
	first.RecordExecution(ctx, "risk-scorer", 100, true)
	first.RecordExecution(ctx, "risk-scorer", 300, false)
	require.NoError(t, first.Flush(ctx))

	second := NewAggregator(WithStore(store))
	n, err := second.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	snap := second.RecordExecution(ctx, "risk-scorer", 200, true)
	assert.Equal(t, int64(3), snap.TotalExecutions)
	assert.InDelta(t, 200.0, snap.AvgLatencyMs, 1e-9)
	assert.InDelta(t, 2.0/3.0, snap.SuccessRate, 1e-9)
	assert.InDelta(t, 81.6496580927726, snap.LatencyStdDevMs, 1e-9)
}

func TestAggregator_StoreFailureDoesNotLoseInMemoryStats(t *testing.T) {
	store := newMemStore()
	store.err = errors.New("connection reset")
	agg := NewAggregator(WithStore(store))

	snap := agg.RecordExecution(context.Background(), "risk-scorer", 10, true)
	assert.Equal(t, int64(1), snap.TotalExecutions)
	require.NoError(t, agg.Flush(context.Background()))
	assert.Equal(t, int64(1), agg.Snapshot("risk-scorer").TotalExecutions)
}

// gatedStore blocks the first save until released and records save order.
type gatedStore struct {
	memStore
	entered chan struct{}
	release chan struct{}
	once    sync.Once
	order   []int64
}

func (s *gatedStore) SaveSnapshot(ctx context.Context, snap *Snapshot) error {
	first := false
	s.once.Do(func() { first = true })
	if first {
		close(s.entered)
		<-s.release
	}
	s.mu.Lock()
	s.order = append(s.order, snap.TotalExecutions)
	s.mu.Unlock()
	return s.memStore.SaveSnapshot(ctx, snap)
}

func TestAggregator_OverlappingSavesKeepNewest(t *testing.T) {
	store := &gatedStore{
		memStore: memStore{snaps: make(map[string]*Snapshot)},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	agg := NewAggregator(WithStore(store))
	ctx := context.Background()

	agg.RecordExecution(ctx, "risk-scorer", 100, true)
	<-store.entered

	// 第一次保存仍阻塞，记录不应等待存储
	done := make(chan struct{})
	go func() {
		agg.RecordExecution(ctx, "risk-scorer", 300, false)
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("RecordExecution blocked on a slow snapshot store")
	}

	close(store.release)
	require.NoError(t, agg.Flush(ctx))

	store.mu.Lock()
	assert.Equal(t, []int64{1, 2}, store.order)
	store.mu.Unlock()

	restarted := NewAggregator(WithStore(store))
	_, err := restarted.Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), restarted.Snapshot("risk-scorer").TotalExecutions)
	assert.InDelta(t, 200.0, restarted.Snapshot("risk-scorer").AvgLatencyMs, 1e-9)
}

func TestAggregator_FlushHonorsContext(t *testing.T) {
	store := &gatedStore{
		memStore: memStore{snaps: make(map[string]*Snapshot)},
		entered:  make(chan struct{}),
		release:  make(chan struct{}),
	}
	agg := NewAggregator(WithStore(store))
	agg.RecordExecution(context.Background(), "risk-scorer", 100, true)
	<-store.entered

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, agg.Flush(ctx), context.DeadlineExceeded)

	close(store.release)
	require.NoError(t, agg.Flush(context.Background()))
}
