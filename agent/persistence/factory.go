package persistence

import (
	"fmt"

	"gorm.io/gorm"
)

// NewTaskStore creates a new TaskStore based on the configuration.
// db is required only for StoreTypeDatabase.
func NewTaskStore(config StoreConfig, db *gorm.DB) (TaskStore, error) {
	switch config.Type {
	case StoreTypeMemory, "":
		return NewMemoryTaskStore(), nil
	case StoreTypeRedis:
		return NewRedisTaskStore(config)
	case StoreTypeDatabase:
		if db == nil {
			return nil, fmt.Errorf("task store type %q requires a database connection", config.Type)
		}
		return NewGormTaskStore(db), nil
	default:
		return nil, fmt.Errorf("unsupported task store type: %s", config.Type)
	}
}

// MustNewTaskStore creates a new TaskStore or panics on error.
//
// WARNING: This function should ONLY be used during application initialization.
// For runtime store creation, use NewTaskStore instead.
func MustNewTaskStore(config StoreConfig, db *gorm.DB) TaskStore {
	store, err := NewTaskStore(config, db)
	if err != nil {
		panic(fmt.Sprintf("failed to create task store: %v", err))
	}
	return store
}
