package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// maxWatchRetries bounds optimistic-lock retries on contended task keys.
const maxWatchRetries = 5

// RedisTaskStore is a Redis-based implementation of TaskStore.
// Task bodies are JSON strings; sorted sets scored by created_at index them
// per agent, per status and globally. Writes run inside WATCH/MULTI so a task
// body and its indexes always change together.
type RedisTaskStore struct {
	client     *redis.Client
	keyPrefix  string
	ownsClient bool
}

// NewRedisTaskStore creates a new Redis-based task store with its own client
func NewRedisTaskStore(config StoreConfig) (*RedisTaskStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Redis.Addr,
		Password: config.Redis.Password,
		DB:       config.Redis.DB,
		PoolSize: config.Redis.PoolSize,
	})

	// Test connection
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	store := NewRedisTaskStoreWithClient(client, config.Redis.KeyPrefix)
	store.ownsClient = true
	return store, nil
}

// NewRedisTaskStoreWithClient creates a task store on a shared client.
// The caller keeps ownership of the client.
func NewRedisTaskStoreWithClient(client *redis.Client, keyPrefix string) *RedisTaskStore {
	if keyPrefix == "" {
		keyPrefix = "campusflow:"
	}
	return &RedisTaskStore{
		client:    client,
		keyPrefix: keyPrefix + "task:",
	}
}

// Close closes the store
func (s *RedisTaskStore) Close() error {
	if !s.ownsClient {
		return nil
	}
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisTaskStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// taskKey returns the Redis key for a task
func (s *RedisTaskStore) taskKey(taskID string) string {
	return s.keyPrefix + "data:" + taskID
}

// statusKey returns the Redis key for a status index
func (s *RedisTaskStore) statusKey(status TaskStatus) string {
	return s.keyPrefix + "status:" + string(status)
}

// agentKey returns the Redis key for an agent's task index
func (s *RedisTaskStore) agentKey(agentID string) string {
	return s.keyPrefix + "agent:" + agentID
}

// allTasksKey returns the Redis key for all tasks index
func (s *RedisTaskStore) allTasksKey() string {
	return s.keyPrefix + "all"
}

// CreateTask inserts a new task together with its index entries
func (s *RedisTaskStore) CreateTask(ctx context.Context, task *Task) error {
	if err := validateNewTask(task); err != nil {
		return err
	}

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	key := s.taskKey(task.ID)
	score := float64(task.CreatedAt.UnixNano())

	return s.watch(ctx, key, func(tx *redis.Tx) error {
		exists, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if exists > 0 {
			return ErrAlreadyExists
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZAdd(ctx, s.statusKey(task.Status), redis.Z{Score: score, Member: task.ID})
			pipe.ZAdd(ctx, s.agentKey(task.AgentID), redis.Z{Score: score, Member: task.ID})
			pipe.ZAdd(ctx, s.allTasksKey(), redis.Z{Score: score, Member: task.ID})
			return nil
		})
		return err
	})
}

// GetTask retrieves a task by ID
func (s *RedisTaskStore) GetTask(ctx context.Context, taskID string) (*Task, error) {
	return s.get(ctx, s.client, taskID)
}

func (s *RedisTaskStore) get(ctx context.Context, c redis.Cmdable, taskID string) (*Task, error) {
	data, err := c.Get(ctx, s.taskKey(taskID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var task Task
	if err := json.Unmarshal(data, &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", taskID, err)
	}

	return &task, nil
}

// ListTasks walks the narrowest index newest-first and stops at the limit
func (s *RedisTaskStore) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	indexKey := s.allTasksKey()
	switch {
	case filter.AgentID != "":
		indexKey = s.agentKey(filter.AgentID)
	case len(filter.Status) == 1:
		indexKey = s.statusKey(filter.Status[0])
	}

	upper := "+inf"
	if filter.CreatedBefore != nil {
		upper = fmt.Sprintf("(%d", filter.CreatedBefore.UnixNano())
	}

	taskIDs, err := s.client.ZRevRangeByScore(ctx, indexKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: upper,
	}).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*Task, 0)
	for _, taskID := range taskIDs {
		task, err := s.GetTask(ctx, taskID)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}

		if filter.matches(task) {
			result = append(result, task)
		}
		if filter.Limit > 0 && len(result) >= filter.Limit {
			break
		}
	}

	sortNewestFirst(result)
	return result, nil
}

// FinalizeTask applies a terminal outcome under WATCH on the task key
func (s *RedisTaskStore) FinalizeTask(ctx context.Context, taskID string, outcome *Outcome) (*Task, error) {
	if err := outcome.Validate(); err != nil {
		return nil, err
	}

	key := s.taskKey(taskID)
	var finalized *Task

	err := s.watch(ctx, key, func(tx *redis.Tx) error {
		task, err := s.get(ctx, tx, taskID)
		if err != nil {
			return err
		}

		oldStatus := task.Status
		if err := outcome.applyTo(task); err != nil {
			return err
		}

		data, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("failed to marshal task: %w", err)
		}

		score := float64(task.CreatedAt.UnixNano())
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, data, 0)
			pipe.ZRem(ctx, s.statusKey(oldStatus), task.ID)
			pipe.ZAdd(ctx, s.statusKey(task.Status), redis.Z{Score: score, Member: task.ID})
			return nil
		})
		if err != nil {
			return err
		}

		finalized = task
		return nil
	})
	if err != nil {
		return nil, err
	}

	return finalized, nil
}

// watch runs fn in an optimistic transaction, retrying when the key changes underneath.
func (s *RedisTaskStore) watch(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	var err error
	for i := 0; i < maxWatchRetries; i++ {
		err = s.client.Watch(ctx, fn, key)
		if !errors.Is(err, redis.TxFailedErr) {
			return err
		}
	}
	return fmt.Errorf("task %s: too much contention: %w", key, err)
}

// Ensure RedisTaskStore implements TaskStore
var _ TaskStore = (*RedisTaskStore)(nil)
