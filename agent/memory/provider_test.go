package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/BaSui01/campusflow/internal/cache"
	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 ContextProvider 测试
// =============================================================================

func newRedisProvider(t *testing.T, maxHistory int) (*miniredis.Miniredis, *RedisContextProvider) {
	t.Helper()

	mr := miniredis.RunT(t)
	manager, err := cache.NewManager(cache.Config{Addr: mr.Addr(), DefaultTTL: time.Hour}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	cfg := DefaultRedisProviderConfig()
	cfg.MaxHistory = maxHistory
	return mr, NewRedisContextProvider(manager, cfg, zap.NewNop())
}

func interaction(i int) Interaction {
	return Interaction{
		TaskID:   fmt.Sprintf("task-%d", i),
		AgentID:  "risk-scorer",
		TaskType: "risk_assessment",
		Output:   fmt.Sprintf("output %d", i),
		At:       time.Date(2026, 9, 1, 8, i, 0, 0, time.UTC),
	}
}

func providerContract(t *testing.T, p ContextProvider) {
	ctx := context.Background()

	b, err := p.Fetch(ctx, "student-1")
	require.NoError(t, err)
	assert.True(t, b.IsEmpty())

	for i := 0; i < 5; i++ {
		require.NoError(t, p.Log(ctx, "student-1", interaction(i)))
	}

	b, err = p.Fetch(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, b.Interactions, 3)
	assert.Equal(t, "task-4", b.Interactions[0].TaskID, "newest first")
	assert.Equal(t, "task-2", b.Interactions[2].TaskID)
	assert.True(t, b.Interactions[0].At.Equal(interaction(4).At))

	other, err := p.Fetch(ctx, "student-2")
	require.NoError(t, err)
	assert.True(t, other.IsEmpty())

	require.NoError(t, p.Log(ctx, "", interaction(9)))
}

func TestRedisContextProvider_Contract(t *testing.T) {
	_, p := newRedisProvider(t, 3)
	providerContract(t, p)
}

func TestInMemoryContextProvider_Contract(t *testing.T) {
	providerContract(t, NewInMemoryContextProvider(3))
}

func TestCachedContextProvider_Contract(t *testing.T) {
	providerContract(t, NewCachedContextProvider(NewInMemoryContextProvider(3), 16, time.Minute))
}

func TestRedisContextProvider_Profile(t *testing.T) {
	_, p := newRedisProvider(t, 5)
	ctx := context.Background()

	require.NoError(t, p.SetProfile(ctx, "student-1", map[string]any{"major": "physics", "year": 2}))

	b, err := p.Fetch(ctx, "student-1")
	require.NoError(t, err)
	assert.False(t, b.IsEmpty())
	assert.Equal(t, "physics", b.Profile["major"])
	assert.Equal(t, float64(2), b.Profile["year"])
}

func TestRedisContextProvider_SkipsMalformedEntries(t *testing.T) {
	mr, p := newRedisProvider(t, 5)
	ctx := context.Background()

	require.NoError(t, p.Log(ctx, "student-1", interaction(1)))
	_, err := mr.Lpush("campusflow:ctx:history:student-1", "{not json")
	require.NoError(t, err)

	b, err := p.Fetch(ctx, "student-1")
	require.NoError(t, err)
	require.Len(t, b.Interactions, 1)
	assert.Equal(t, "task-1", b.Interactions[0].TaskID)
}

func TestRedisContextProvider_Unavailable(t *testing.T) {
	mr, p := newRedisProvider(t, 5)
	mr.Close()

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	_, err := p.Fetch(ctx, "student-1")
	assert.Error(t, err)
}

// countingProvider 记录 Fetch 调用次数
type countingProvider struct {
	ContextProvider
	fetches atomic.Int64
	err     error
}

func (c *countingProvider) Fetch(ctx context.Context, userID string) (*Bundle, error) {
	c.fetches.Add(1)
	if c.err != nil {
		return nil, c.err
	}
	return c.ContextProvider.Fetch(ctx, userID)
}

func TestCachedContextProvider_HitsAndInvalidation(t *testing.T) {
	inner := &countingProvider{ContextProvider: NewInMemoryContextProvider(10)}
	p := NewCachedContextProvider(inner, 16, time.Minute)
	ctx := context.Background()

	require.NoError(t, p.Log(ctx, "u", interaction(1)))

	for i := 0; i < 3; i++ {
		b, err := p.Fetch(ctx, "u")
		require.NoError(t, err)
		require.Len(t, b.Interactions, 1)
	}
	assert.Equal(t, int64(1), inner.fetches.Load())
	assert.Equal(t, 1, p.Len())

	require.NoError(t, p.Log(ctx, "u", interaction(2)))
	b, err := p.Fetch(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, b.Interactions, 2)
	assert.Equal(t, int64(2), inner.fetches.Load())
}

func TestCachedContextProvider_ReturnsCopies(t *testing.T) {
	p := NewCachedContextProvider(NewInMemoryContextProvider(10), 16, time.Minute)
	ctx := context.Background()
	require.NoError(t, p.Log(ctx, "u", interaction(1)))

	b1, err := p.Fetch(ctx, "u")
	require.NoError(t, err)
	b1.Interactions[0].Output = "mutated"

	b2, err := p.Fetch(ctx, "u")
	require.NoError(t, err)
	assert.Equal(t, "output 1", b2.Interactions[0].Output)
}

func TestCachedContextProvider_ErrorsAreNotCached(t *testing.T) {
	inner := &countingProvider{ContextProvider: NewInMemoryContextProvider(10), err: errors.New("down")}
	p := NewCachedContextProvider(inner, 16, time.Minute)

	_, err := p.Fetch(context.Background(), "u")
	require.Error(t, err)
	_, err = p.Fetch(context.Background(), "u")
	require.Error(t, err)

	assert.Equal(t, int64(2), inner.fetches.Load())
	assert.Equal(t, 0, p.Len())
}

// pausingProvider holds Fetch after reading from inner until released.
type pausingProvider struct {
	ContextProvider
	fetched chan struct{}
	release chan struct{}
	once    sync.Once
}

func (p *pausingProvider) Fetch(ctx context.Context, userID string) (*Bundle, error) {
	b, err := p.ContextProvider.Fetch(ctx, userID)
	pause := false
	p.once.Do(func() { pause = true })
	if pause {
		close(p.fetched)
		<-p.release
	}
	return b, err
}

func TestCachedContextProvider_FetchRacingLogIsNotCached(t *testing.T) {
	inner := &pausingProvider{
		ContextProvider: NewInMemoryContextProvider(10),
		fetched:         make(chan struct{}),
		release:         make(chan struct{}),
	}
	p := NewCachedContextProvider(inner, 16, time.Minute)
	ctx := context.Background()
	require.NoError(t, inner.ContextProvider.Log(ctx, "u", interaction(1)))

	done := make(chan *Bundle)
	go func() {
		b, err := p.Fetch(ctx, "u")
		assert.NoError(t, err)
		done <- b
	}()

	<-inner.fetched
	require.NoError(t, p.Log(ctx, "u", interaction(2)))
	close(inner.release)

	stale := <-done
	assert.Len(t, stale.Interactions, 1)
	assert.Equal(t, 0, p.Len(), "bundle read before the log must not be cached")

	fresh, err := p.Fetch(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, fresh.Interactions, 2)
}

func TestInMemoryContextProvider_Concurrent(t *testing.T) {
	p := NewInMemoryContextProvider(1000)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = p.Log(ctx, "u", interaction(i))
			_, _ = p.Fetch(ctx, "u")
		}(i)
	}
	wg.Wait()

	b, err := p.Fetch(ctx, "u")
	require.NoError(t, err)
	assert.Len(t, b.Interactions, 50)
}
