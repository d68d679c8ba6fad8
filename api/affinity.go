// Package api
// Author: momentics@gmail.com
//
// CPU affinity definitions for scheduler threads.

package api

// Affinity controls execution on particular CPUs.
type Affinity interface {
	// Pin locks the calling goroutine to its OS thread and binds that thread to cpuID.
	Pin(cpuID int) error
	// Unpin removes affinity.
	Unpin() error
}
