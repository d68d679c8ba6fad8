package adapters_test

import (
	"testing"

	"github.com/momentics/hioload-fiber/adapters"
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedStats []api.ThreadStats

func (s fixedStats) ThreadStats() []api.ThreadStats { return s }

func TestControlAdapterBasic(t *testing.T) {
	ctrl := adapters.NewControlAdapter(control.DefaultConfig(), nil)
	cfg := ctrl.GetConfig()
	assert.Equal(t, int64(10000), cfg[control.KeyFiberLimit])

	require.NoError(t, ctrl.SetConfig(map[string]any{control.KeyFiberLimit: 5}))
	eff, err := ctrl.Config()
	require.NoError(t, err)
	assert.Equal(t, int64(5), eff.FiberLimit)

	var changed map[string]any
	ctrl.OnReload(func(c map[string]any) { changed = c })
	require.NoError(t, ctrl.SetConfig(map[string]any{control.KeyLogLevel: "debug"}))
	assert.Equal(t, map[string]any{control.KeyLogLevel: "debug"}, changed)
}

func TestControlAdapterRejectsInvalidConfig(t *testing.T) {
	ctrl := adapters.NewControlAdapter(nil, nil)
	called := false
	ctrl.OnReload(func(map[string]any) { called = true })

	assert.Error(t, ctrl.SetConfig(map[string]any{"unknown": 1}))
	assert.Error(t, ctrl.SetConfig(map[string]any{control.KeyFiberLimit: -1}))
	assert.Error(t, ctrl.SetConfig(map[string]any{control.KeyLogLevel: 3}))
	assert.False(t, called)
	assert.NotContains(t, ctrl.GetConfig(), "unknown")
}

func TestControlAdapterStats(t *testing.T) {
	src := fixedStats{{ID: 0, Fibers: 3, Dispatched: 7}, {ID: 1, Fibers: 2}}
	ctrl := adapters.NewControlAdapter(nil, src)
	ctrl.RegisterDebugProbe("answer", func() any { return 42 })
	ctrl.SetMetric("custom", "x")

	stats := ctrl.Stats()
	assert.Equal(t, int64(5), stats["fibers"])
	assert.Equal(t, int64(3), stats["thread.0.fibers"])
	assert.Equal(t, uint64(7), stats["thread.0.dispatched"])
	assert.Equal(t, 2, stats["threads"])
	assert.Equal(t, "x", stats["custom"])
	assert.Equal(t, 42, stats["debug.answer"])
	assert.Contains(t, stats, "debug.platform.cpus")
}
