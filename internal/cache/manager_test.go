package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Manager 测试
// =============================================================================

func setupTestRedis(t *testing.T) (*miniredis.Miniredis, *Manager) {
	t.Helper()

	mr := miniredis.RunT(t)
	manager, err := NewManager(Config{
		Addr:       mr.Addr(),
		DefaultTTL: time.Minute,
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = manager.Close() })

	return mr, manager
}

func TestNewManager_ConnectFailure(t *testing.T) {
	_, err := NewManager(Config{Addr: "127.0.0.1:1"}, zap.NewNop())
	assert.Error(t, err)
}

func TestManager_SetGetDelete(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	require.NoError(t, manager.Set(ctx, "k", "v", 0))

	val, err := manager.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", val)

	require.NoError(t, manager.Delete(ctx, "k"))
	_, err = manager.Get(ctx, "k")
	assert.True(t, IsCacheMiss(err))
}

func TestManager_JSONRoundTripAndTTL(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	type profile struct {
		Grade int    `json:"grade"`
		Class string `json:"class"`
	}
	require.NoError(t, manager.SetJSON(ctx, "profile:7", profile{Grade: 9, Class: "9B"}, 2*time.Second))

	var got profile
	require.NoError(t, manager.GetJSON(ctx, "profile:7", &got))
	assert.Equal(t, "9B", got.Class)

	mr.FastForward(3 * time.Second)
	err := manager.GetJSON(ctx, "profile:7", &got)
	assert.True(t, IsCacheMiss(err))
}

func TestManager_PushJSONKeepsNewestN(t *testing.T) {
	mr, manager := setupTestRedis(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		require.NoError(t, manager.PushJSON(ctx, "history", map[string]int{"n": i}, 3, time.Hour))
	}

	items, err := manager.RangeJSON(ctx, "history", 0)
	require.NoError(t, err)
	require.Len(t, items, 3)

	var first map[string]int
	require.NoError(t, json.Unmarshal(items[0], &first))
	assert.Equal(t, 4, first["n"])

	assert.Equal(t, time.Hour, mr.TTL("history"))

	top, err := manager.RangeJSON(ctx, "history", 1)
	require.NoError(t, err)
	assert.Len(t, top, 1)
}

func TestManager_ClosedRejectsOperations(t *testing.T) {
	_, manager := setupTestRedis(t)
	require.NoError(t, manager.Close())
	require.NoError(t, manager.Close())

	ctx := context.Background()
	assert.ErrorIs(t, manager.Ping(ctx), ErrClosed)
	assert.ErrorIs(t, manager.Set(ctx, "k", "v", 0), ErrClosed)
	_, err := manager.RangeJSON(ctx, "k", 1)
	assert.ErrorIs(t, err, ErrClosed)
}

func TestManager_ConcurrentPushes(t *testing.T) {
	_, manager := setupTestRedis(t)
	ctx := context.Background()

	done := make(chan error, 50)
	for i := 0; i < 50; i++ {
		go func(i int) {
			done <- manager.PushJSON(ctx, "concurrent", fmt.Sprintf("item-%d", i), 20, time.Minute)
		}(i)
	}
	for i := 0; i < 50; i++ {
		require.NoError(t, <-done)
	}

	items, err := manager.RangeJSON(ctx, "concurrent", 0)
	require.NoError(t, err)
	assert.Len(t, items, 20)
}
