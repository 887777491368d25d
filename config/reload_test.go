package config

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewReloader_RequiresConfigPath(t *testing.T) {
	_, err := NewReloader(DefaultConfig(), NewLoader(), nil)
	assert.Error(t, err)

	_, err = NewReloader(DefaultConfig(), nil, nil)
	assert.Error(t, err)
}

func TestReloader_ReloadAppliesAndNotifies(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campusflow.yaml")
	writeFile(t, path, "gates:\n  governance:\n    denied_actions: [\"export_grades\"]\n")

	loader := NewLoader().WithConfigPath(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	r, err := NewReloader(initial, loader, nil)
	require.NoError(t, err)

	var seenOld, seenNew []string
	r.OnReload(func(oldCfg, newCfg *Config) {
		seenOld = oldCfg.Gates.Governance.DeniedActions
		seenNew = newCfg.Gates.Governance.DeniedActions
	})

	writeFile(t, path, "gates:\n  governance:\n    denied_actions: [\"export_grades\", \"delete_student\"]\n")
	require.NoError(t, r.Reload())

	assert.Equal(t, 2, r.Version())
	assert.Equal(t, []string{"export_grades"}, seenOld)
	assert.Equal(t, []string{"export_grades", "delete_student"}, seenNew)
	assert.Equal(t, seenNew, r.Current().Gates.Governance.DeniedActions)
}

func TestReloader_InvalidConfigKeepsCurrent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campusflow.yaml")
	writeFile(t, path, "orchestrator:\n  max_concurrent: 8\n")

	loader := NewLoader().WithConfigPath(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	r, err := NewReloader(initial, loader, nil)
	require.NoError(t, err)

	var calls int32
	r.OnReload(func(_, _ *Config) { atomic.AddInt32(&calls, 1) })

	writeFile(t, path, "orchestrator:\n  max_concurrent: -1\n")
	assert.Error(t, r.Reload())

	assert.Equal(t, 1, r.Version())
	assert.Equal(t, 8, r.Current().Orchestrator.MaxConcurrent)
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestReloader_CallbackPanicDoesNotStopOthers(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campusflow.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	loader := NewLoader().WithConfigPath(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	r, err := NewReloader(initial, loader, nil)
	require.NoError(t, err)

	var reached int32
	r.OnReload(func(_, _ *Config) { panic("boom") })
	r.OnReload(func(_, _ *Config) { atomic.StoreInt32(&reached, 1) })

	require.NoError(t, r.Reload())
	assert.Equal(t, int32(1), atomic.LoadInt32(&reached))
}

func TestReloader_WatchesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "campusflow.yaml")
	writeFile(t, path, "log:\n  level: info\n")

	loader := NewLoader().WithConfigPath(path)
	initial, err := loader.Load()
	require.NoError(t, err)

	r, err := NewReloader(initial, loader, nil,
		WithPollInterval(10*time.Millisecond),
		WithDebounceDelay(20*time.Millisecond),
	)
	require.NoError(t, err)
	require.NoError(t, r.Start(context.Background()))
	defer r.Stop()

	writeFile(t, path, "log:\n  level: debug\n")
	bumpModTime(t, path, time.Second)

	require.Eventually(t, func() bool {
		return r.Current().Log.Level == "debug"
	}, 2*time.Second, 10*time.Millisecond)
	assert.GreaterOrEqual(t, r.Version(), 2)
}
