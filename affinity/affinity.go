// File: affinity/affinity.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral API for CPU affinity of scheduler threads. Platform-specific
// implementations are located in separate files guarded by build tags.

package affinity

import (
	"runtime"

	"github.com/momentics/hioload-fiber/api"
)

// SetAffinity pins the current OS thread to a given logical CPU.
// The caller must have locked its goroutine to the thread.
// On unsupported platforms returns an error.
func SetAffinity(cpuID int) error {
	return setAffinityPlatform(cpuID)
}

// ClearAffinity allows the current OS thread to run on every CPU.
func ClearAffinity() error {
	return clearAffinityPlatform()
}

// CPUFor maps a thread index onto the available CPUs round-robin.
func CPUFor(index int) int {
	n := runtime.NumCPU()
	if n <= 0 || index < 0 {
		return 0
	}
	return index % n
}

// Pinner implements api.Affinity for the calling goroutine.
type Pinner struct {
	cpu    int
	pinned bool
}

var _ api.Affinity = (*Pinner)(nil)

// NewPinner returns an unpinned Pinner.
func NewPinner() *Pinner {
	return &Pinner{cpu: -1}
}

// Pin locks the goroutine to its OS thread and binds the thread to cpuID.
func (p *Pinner) Pin(cpuID int) error {
	runtime.LockOSThread()
	if err := SetAffinity(cpuID); err != nil {
		runtime.UnlockOSThread()
		return err
	}
	p.cpu = cpuID
	p.pinned = true
	return nil
}

// Unpin clears the CPU binding and unlocks the goroutine from the thread.
func (p *Pinner) Unpin() error {
	if !p.pinned {
		return nil
	}
	err := ClearAffinity()
	runtime.UnlockOSThread()
	p.pinned = false
	p.cpu = -1
	return err
}

// CPU returns the bound CPU, -1 when unpinned.
func (p *Pinner) CPU() int { return p.cpu }
