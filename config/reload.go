// =============================================================================
// 🔄 配置热重载
// =============================================================================
// 监听配置文件，变更后重新加载、校验并通知订阅者。
// 校验失败时保留旧配置。
// =============================================================================
package config

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// ReloadCallback 在新配置生效后调用
type ReloadCallback func(oldConfig, newConfig *Config)

// Reloader 持有当前配置并在文件变更时替换
type Reloader struct {
	mu        sync.RWMutex
	current   *Config
	version   int
	loader    *Loader
	watcher   *FileWatcher
	callbacks []ReloadCallback
	logger    *zap.Logger
}

// NewReloader 创建热重载器；loader 必须设置了配置文件路径
func NewReloader(current *Config, loader *Loader, logger *zap.Logger, opts ...WatcherOption) (*Reloader, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if loader == nil || loader.configPath == "" {
		return nil, fmt.Errorf("reloader requires a loader with a config path")
	}
	watcher, err := NewFileWatcher([]string{loader.configPath}, append([]WatcherOption{WithWatcherLogger(logger)}, opts...)...)
	if err != nil {
		return nil, err
	}
	r := &Reloader{
		current: current,
		version: 1,
		loader:  loader,
		watcher: watcher,
		logger:  logger.With(zap.String("component", "config_reloader")),
	}
	watcher.OnChange(func(evt FileEvent) {
		if evt.Op == FileOpRemove {
			r.logger.Warn("config file removed, keeping current config", zap.String("path", evt.Path))
			return
		}
		if err := r.Reload(); err != nil {
			r.logger.Error("config reload failed, keeping current config", zap.Error(err))
		}
	})
	return r, nil
}

// OnReload 注册重载回调
func (r *Reloader) OnReload(cb ReloadCallback) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.callbacks = append(r.callbacks, cb)
}

// Start 开始监听
func (r *Reloader) Start(ctx context.Context) error {
	return r.watcher.Start(ctx)
}

// Stop 停止监听
func (r *Reloader) Stop() error {
	return r.watcher.Stop()
}

// Reload 立即重新加载；新配置校验失败时返回错误且不替换
func (r *Reloader) Reload() error {
	next, err := r.loader.Load()
	if err != nil {
		return err
	}
	if err := next.Validate(); err != nil {
		return err
	}

	r.mu.Lock()
	old := r.current
	r.current = next
	r.version++
	version := r.version
	callbacks := append([]ReloadCallback(nil), r.callbacks...)
	r.mu.Unlock()

	r.logger.Info("config reloaded", zap.Int("version", version))
	for _, cb := range callbacks {
		r.notify(cb, old, next)
	}
	return nil
}

func (r *Reloader) notify(cb ReloadCallback, old, next *Config) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("reload callback panicked", zap.Any("recover", rec))
		}
	}()
	cb(old, next)
}

// Current 返回当前配置
func (r *Reloader) Current() *Config {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.current
}

// Version 返回配置版本号，每次成功重载加一
func (r *Reloader) Version() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.version
}
