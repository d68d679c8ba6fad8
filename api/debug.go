// Package api
// Author: momentics
//
// Live introspection of scheduler threads and suspended fibers.

package api

// Debug exposes runtime introspection.
type Debug interface {
	// DumpState evaluates every registered probe.
	DumpState() map[string]any

	// RegisterProbe registers a named probe, replacing any previous one.
	RegisterProbe(name string, fn func() any)
}

// WaitReporter is implemented by anything that can describe what its
// suspended fibers are waiting for.
type WaitReporter interface {
	// WaitReasons maps fiber id to its current wait reason.
	WaitReasons() map[uint64]string
}
