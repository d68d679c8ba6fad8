// Package adapters
// Author: momentics <momentics@gmail.com>
//
// Control adapter implementing api.Control interface using control package primitives.

package adapters

import (
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
)

// ControlAdapter joins the config store, the metrics registry and the debug
// probes behind api.Control. Stats pulls a fresh scheduler snapshot from the
// stats source, when one is attached.
type ControlAdapter struct {
	config  *control.ConfigStore
	metrics *control.MetricsRegistry
	debug   *control.DebugProbes
	stats   api.StatsSource
}

var _ api.Control = (*ControlAdapter)(nil)

// NewControlAdapter seeds the store with cfg. Updates are validated as
// overrides of the effective configuration.
func NewControlAdapter(cfg *control.Config, stats api.StatsSource) *ControlAdapter {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	adapter := &ControlAdapter{
		metrics: control.NewMetricsRegistry(),
		debug:   control.NewDebugProbes(),
		stats:   stats,
	}
	adapter.config = control.NewConfigStore(cfg.Map(), func(changed map[string]any) error {
		cur, err := adapter.Config()
		if err != nil {
			return err
		}
		return cur.Apply(changed)
	})
	control.RegisterPlatformProbes(adapter.debug)
	return adapter
}

// Config parses the effective configuration.
func (c *ControlAdapter) Config() (*control.Config, error) {
	cfg := control.DefaultConfig()
	if err := cfg.Apply(c.config.GetSnapshot()); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *ControlAdapter) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

func (c *ControlAdapter) SetConfig(cfg map[string]any) error {
	return c.config.SetConfig(cfg)
}

func (c *ControlAdapter) Stats() map[string]any {
	if c.stats != nil {
		c.metrics.Publish(c.stats.ThreadStats())
	}
	stats := c.metrics.GetSnapshot()
	debugStats := c.debug.DumpState()
	combined := make(map[string]any, len(stats)+len(debugStats))
	for k, v := range stats {
		combined[k] = v
	}
	for k, v := range debugStats {
		combined["debug."+k] = v
	}
	return combined
}

// OnReload registers a hook receiving the accepted overrides.
func (c *ControlAdapter) OnReload(fn func(changed map[string]any)) {
	c.config.OnReload(fn)
}

func (c *ControlAdapter) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

func (c *ControlAdapter) RegisterDebugProbe(name string, fn func() any) {
	c.debug.RegisterProbe(name, fn)
}

// Debug returns the probe registry.
func (c *ControlAdapter) Debug() *control.DebugProbes { return c.debug }
