// File: reactor/reactor.go
// Author: momentics <momentics@gmail.com>
//
// Platform-neutral readiness multiplexer interface.

package reactor

import "errors"

// Events is a readiness interest or result mask.
type Events uint32

const (
	EventRead Events = 1 << iota
	EventWrite
	EventError
	EventHangup
)

var (
	ErrClosed      = errors.New("reactor: poller closed")
	ErrUnsupported = errors.New("reactor: this platform is not supported")
)

// Event contains readiness information returned by Wait.
type Event struct {
	Fd     int
	Events Events
}

// Poller is a per-thread readiness multiplexer. Only Wake and Close may be
// called from goroutines other than the owner.
type Poller interface {
	// Add registers fd with one-shot, edge-triggered interest.
	Add(fd int, interest Events) error
	// Modify re-arms a registered fd with a new interest mask.
	Modify(fd int, interest Events) error
	// Delete removes fd from the interest set.
	Delete(fd int) error
	// Wait blocks up to timeoutMs (negative: forever) and writes fired
	// descriptors into events. Wakeups are consumed internally and are not
	// reported. An interrupted wait returns 0, nil.
	Wait(events []Event, timeoutMs int) (int, error)
	// Wake interrupts a concurrent or the next Wait. Calls coalesce.
	Wake() error
	// Close releases the multiplexer and the wakeup channel.
	Close() error
}
