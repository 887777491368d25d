package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/campusflow/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeStore struct {
	mu      sync.Mutex
	saved   []*Definition
	list    []*Definition
	saveErr error
}

func (s *fakeStore) SaveDefinition(_ context.Context, def *Definition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.saved = append(s.saved, def.Clone())
	return nil
}

func (s *fakeStore) ListDefinitions(_ context.Context) ([]*Definition, error) {
	return s.list, nil
}

func riskScorer() Definition {
	return Definition{
		ID:            "risk-scorer",
		Name:          "Risk Scorer",
		Type:          "analytics",
		Capabilities:  []string{"score"},
		ModelProvider: "openai",
		ModelName:     "gpt-4o-mini",
		Configuration: map[string]any{"threshold": 0.7},
		Enabled:       true,
	}
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	ctx := context.Background()

	tests := []struct {
		name string
		def  Definition
	}{
		{"empty id", Definition{Capabilities: []string{"score"}}},
		{"blank id", Definition{ID: "   ", Capabilities: []string{"score"}}},
		{"no capabilities", Definition{ID: "a"}},
		{"blank capability", Definition{ID: "a", Capabilities: []string{"score", " "}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := r.Register(ctx, tt.def)
			require.Error(t, err)
			assert.True(t, types.IsErrorCode(err, types.ErrInvalidDefinition))
		})
	}
	assert.Equal(t, 0, r.Len())
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	store := &fakeStore{}
	r := NewRegistry(store, zap.NewNop())

	def, err := r.Register(context.Background(), riskScorer())
	require.NoError(t, err)
	assert.False(t, def.CreatedAt.IsZero())
	require.Len(t, store.saved, 1)

	got, err := r.Lookup("risk-scorer")
	require.NoError(t, err)
	assert.Equal(t, "Risk Scorer", got.Name)
	assert.True(t, got.HasCapability("score"))

	// Lookup hands out copies
	got.Capabilities[0] = "mutated"
	got.Configuration["threshold"] = 0.1
	again, err := r.Lookup("risk-scorer")
	require.NoError(t, err)
	assert.Equal(t, "score", again.Capabilities[0])
	assert.Equal(t, 0.7, again.Configuration["threshold"])

	_, err = r.Lookup("missing")
	assert.True(t, types.IsErrorCode(err, types.ErrAgentNotFound))
}

func TestRegistry_ReRegistrationReplacesConfigKeepsOrder(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	ctx := context.Background()

	clock := time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC)
	r.now = func() time.Time { return clock }

	_, err := r.Register(ctx, riskScorer())
	require.NoError(t, err)
	_, err = r.Register(ctx, Definition{ID: "seating", Capabilities: []string{"arrange"}, Enabled: true})
	require.NoError(t, err)

	clock = clock.Add(time.Hour)
	updated := riskScorer()
	updated.Configuration = map[string]any{"threshold": 0.9}
	def, err := r.Register(ctx, updated)
	require.NoError(t, err)

	assert.Equal(t, 0.9, def.Configuration["threshold"])
	assert.Equal(t, time.Date(2026, 1, 1, 8, 0, 0, 0, time.UTC), def.CreatedAt)
	assert.Equal(t, clock, def.UpdatedAt)

	list := r.List()
	require.Len(t, list, 2)
	assert.Equal(t, "risk-scorer", list[0].ID)
	assert.Equal(t, "seating", list[1].ID)
}

func TestRegistry_StoreFailureLeavesCacheUntouched(t *testing.T) {
	store := &fakeStore{saveErr: errors.New("disk full")}
	r := NewRegistry(store, zap.NewNop())

	_, err := r.Register(context.Background(), riskScorer())
	require.Error(t, err)
	assert.True(t, types.IsErrorCode(err, types.ErrPersistence))

	_, err = r.Lookup("risk-scorer")
	assert.True(t, types.IsErrorCode(err, types.ErrAgentNotFound))
}

func TestRegistry_SetEnabled(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	ctx := context.Background()

	_, err := r.Register(ctx, riskScorer())
	require.NoError(t, err)

	def, err := r.SetEnabled(ctx, "risk-scorer", false)
	require.NoError(t, err)
	assert.False(t, def.Enabled)

	_, err = r.SetEnabled(ctx, "missing", false)
	assert.True(t, types.IsErrorCode(err, types.ErrAgentNotFound))
}

func TestRegistry_Load(t *testing.T) {
	stored := riskScorer()
	store := &fakeStore{list: []*Definition{&stored, {ID: "broken"}}}
	r := NewRegistry(store, zap.NewNop())

	n, err := r.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = r.Lookup("risk-scorer")
	assert.NoError(t, err)
}

func TestRegistry_ConcurrentReadersDuringWrites(t *testing.T) {
	r := NewRegistry(&fakeStore{}, zap.NewNop())
	ctx := context.Background()
	_, err := r.Register(ctx, riskScorer())
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			def := riskScorer()
			def.Configuration = map[string]any{"version": i}
			def.Capabilities = []string{"score", fmt.Sprintf("cap-%d", i)}
			_, err := r.Register(ctx, def)
			assert.NoError(t, err)
		}(i)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				def, err := r.Lookup("risk-scorer")
				if assert.NoError(t, err) {
					// a complete entry always carries both capabilities or only the original
					assert.NotEmpty(t, def.Capabilities)
					assert.Equal(t, "score", def.Capabilities[0])
				}
				_ = r.List()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, r.Len())
}
