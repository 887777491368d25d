package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/BaSui01/campusflow/internal/cache"
	"go.uber.org/zap"
)

// RedisProviderConfig configures RedisContextProvider.
type RedisProviderConfig struct {
	KeyPrefix  string        `yaml:"key_prefix" json:"key_prefix"`
	MaxHistory int           `yaml:"max_history" json:"max_history"`
	TTL        time.Duration `yaml:"ttl" json:"ttl"`
}

// DefaultRedisProviderConfig returns defaults suited to one school term of history.
func DefaultRedisProviderConfig() RedisProviderConfig {
	return RedisProviderConfig{
		KeyPrefix:  "campusflow:ctx:",
		MaxHistory: 20,
		TTL:        30 * 24 * time.Hour,
	}
}

// RedisContextProvider keeps a bounded interaction history and an optional
// profile document per user in Redis.
type RedisContextProvider struct {
	cache  *cache.Manager
	config RedisProviderConfig
	logger *zap.Logger
}

// NewRedisContextProvider creates a provider on a cache manager.
func NewRedisContextProvider(manager *cache.Manager, config RedisProviderConfig, logger *zap.Logger) *RedisContextProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.MaxHistory <= 0 {
		config.MaxHistory = DefaultRedisProviderConfig().MaxHistory
	}
	return &RedisContextProvider{
		cache:  manager,
		config: config,
		logger: logger.With(zap.String("component", "redis_context_provider")),
	}
}

func (p *RedisContextProvider) historyKey(userID string) string {
	return p.config.KeyPrefix + "history:" + userID
}

func (p *RedisContextProvider) profileKey(userID string) string {
	return p.config.KeyPrefix + "profile:" + userID
}

// Fetch returns the user's profile and most recent interactions.
func (p *RedisContextProvider) Fetch(ctx context.Context, userID string) (*Bundle, error) {
	bundle := &Bundle{UserID: userID}
	if userID == "" {
		return bundle, nil
	}

	var profile map[string]any
	err := p.cache.GetJSON(ctx, p.profileKey(userID), &profile)
	switch {
	case err == nil:
		bundle.Profile = profile
	case cache.IsCacheMiss(err):
	default:
		return nil, fmt.Errorf("fetch profile: %w", err)
	}

	raw, err := p.cache.RangeJSON(ctx, p.historyKey(userID), p.config.MaxHistory)
	if err != nil {
		return nil, fmt.Errorf("fetch history: %w", err)
	}
	for _, item := range raw {
		var in Interaction
		if err := json.Unmarshal(item, &in); err != nil {
			p.logger.Warn("skipping malformed interaction", zap.String("user_id", userID), zap.Error(err))
			continue
		}
		bundle.Interactions = append(bundle.Interactions, in)
	}

	return bundle, nil
}

// Log prepends the interaction and trims history to MaxHistory.
func (p *RedisContextProvider) Log(ctx context.Context, userID string, interaction Interaction) error {
	if userID == "" {
		return nil
	}
	return p.cache.PushJSON(ctx, p.historyKey(userID), interaction, p.config.MaxHistory, p.config.TTL)
}

// SetProfile stores the user's profile document.
func (p *RedisContextProvider) SetProfile(ctx context.Context, userID string, profile map[string]any) error {
	return p.cache.SetJSON(ctx, p.profileKey(userID), profile, p.config.TTL)
}

var _ ContextProvider = (*RedisContextProvider)(nil)
