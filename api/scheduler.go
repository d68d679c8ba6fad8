// Package api
// Author: momentics
//
// Read-only scheduler diagnostics contract, consumed by the control layer.

package api

import "time"

// ThreadStats is a point-in-time snapshot of one scheduler thread.
type ThreadStats struct {
	ID         int           // thread index within its runtime
	Fibers     int64         // fibers currently owned by the thread
	Ceiling    int64         // admission limiter ceiling
	Run        time.Duration // time spent executing fibers
	Idle       time.Duration // time spent blocked in the multiplexer
	Locked     time.Duration // time fibers of this thread spent waiting on mutexes
	Dispatched uint64        // fiber activations performed by the loop
	Timeouts   uint64        // items resolved by deadline expiry
	Overloads  uint64        // spawns refused by the admission limiter
	Pending    int           // items waiting on a deadline or readiness source
	Ready      int           // items resolved and queued for activation
}

// StatsSource exposes per-thread scheduler counters.
type StatsSource interface {
	ThreadStats() []ThreadStats
}
