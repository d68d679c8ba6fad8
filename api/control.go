// File: api/control.go
// Package api defines the runtime control surface.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// Control exposes the scheduler's tunables and counters to operators.
// Config keys are flat ("fiber_limit", "log_level"); SetConfig is
// all-or-nothing and listeners only see keys that were accepted.
type Control interface {
	GetConfig() map[string]any
	SetConfig(overrides map[string]any) error
	// Stats merges the per-thread scheduler counters with probe output.
	Stats() map[string]any
	OnReload(fn func(changed map[string]any))
	RegisterDebugProbe(name string, fn func() any)
}
