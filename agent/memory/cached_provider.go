package memory

import (
	"context"
	"hash/maphash"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"
)

// generationStripes is the number of generation counters users hash into.
const generationStripes = 64

type generation struct {
	mu  sync.Mutex
	gen uint64
}

// CachedContextProvider fronts another provider with a bounded, expiring LRU.
// Log invalidates the user's entry so the next Fetch sees the new interaction.
type CachedContextProvider struct {
	inner ContextProvider
	cache *expirable.LRU[string, *Bundle]

	// Log 递增用户所在分片的代数，期间完成的 Fetch 不回填缓存
	seed maphash.Seed
	gens [generationStripes]generation
}

// NewCachedContextProvider wraps inner with an LRU of size entries living ttl.
func NewCachedContextProvider(inner ContextProvider, size int, ttl time.Duration) *CachedContextProvider {
	if size <= 0 {
		size = 1024
	}
	return &CachedContextProvider{
		inner: inner,
		cache: expirable.NewLRU[string, *Bundle](size, nil, ttl),
		seed:  maphash.MakeSeed(),
	}
}

func (p *CachedContextProvider) stripe(userID string) *generation {
	return &p.gens[maphash.String(p.seed, userID)%generationStripes]
}

// Fetch serves from cache when possible.
func (p *CachedContextProvider) Fetch(ctx context.Context, userID string) (*Bundle, error) {
	if b, ok := p.cache.Get(userID); ok {
		return b.Clone(), nil
	}

	g := p.stripe(userID)
	g.mu.Lock()
	before := g.gen
	g.mu.Unlock()

	b, err := p.inner.Fetch(ctx, userID)
	if err != nil {
		return nil, err
	}

	g.mu.Lock()
	if g.gen == before {
		p.cache.Add(userID, b.Clone())
	}
	g.mu.Unlock()
	return b, nil
}

// Log writes through and drops the cached bundle.
func (p *CachedContextProvider) Log(ctx context.Context, userID string, interaction Interaction) error {
	err := p.inner.Log(ctx, userID, interaction)

	g := p.stripe(userID)
	g.mu.Lock()
	g.gen++
	p.cache.Remove(userID)
	g.mu.Unlock()
	return err
}

// Len returns the number of cached users.
func (p *CachedContextProvider) Len() int {
	return p.cache.Len()
}

var _ ContextProvider = (*CachedContextProvider)(nil)
