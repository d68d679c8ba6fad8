// File: fiber/item.go
// Author: momentics <momentics@gmail.com>
//
// Suspension items: the descriptor of one pending wait.

package fiber

import (
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/reactor"
)

type itemKind uint8

const (
	kindWake      itemKind = iota // resolved by an explicit wake or the deadline
	kindSleep                     // resolved by the deadline, or shutdown
	kindFd                        // resolved by descriptor readiness or the deadline
	kindMigration                 // queued ready on another thread
	kindSpawn                     // first activation of a new fiber
	kindYield                     // requeued ready on the same thread
)

const (
	itemWaiting int32 = iota
	itemResolved
)

var zeroTime time.Time

type heapSide uint8

const (
	sideNone heapSide = iota
	sidePending
	sideReady
)

// Item describes what a suspended fiber waits for. An item is a member of
// at most one wait queue and at most one side of its thread's heap.
type Item struct {
	f      *Fiber
	t      *Thread // thread whose heap and inbox serve the item
	kind   itemKind
	reason string

	deadline time.Time // zero: never expires
	key      time.Time // heap ordering key

	fd       int
	interest reactor.Events
	fired    reactor.Events

	state atomic.Int32
	code  api.ErrorCode
	err   error

	side  heapSide
	index int
	seq   uint64
	qh    int32 // wait queue handle, 0 when not queued

	// attach runs before the fiber deactivates. Returning false means the
	// item was resolved synchronously and the fiber must not suspend.
	attach func(*Item) bool
	// detach runs on the fiber's thread after reactivation.
	detach func(*Item)
}

func newItem(f *Fiber, kind itemKind, reason string, deadline time.Time) *Item {
	return &Item{
		f:        f,
		kind:     kind,
		reason:   reason,
		deadline: deadline,
		fd:       -1,
		index:    -1,
	}
}

// resolve performs the single waiting to resolved transition. Exactly one
// caller wins; the others observe false and must not touch the item.
func (it *Item) resolve(code api.ErrorCode) bool {
	if !it.state.CompareAndSwap(itemWaiting, itemResolved) {
		return false
	}
	it.code = code
	return true
}

// Resolved reports whether the item has left the waiting state.
func (it *Item) Resolved() bool { return it.state.Load() == itemResolved }

// schedule queues an item the caller has just resolved. from is the thread
// the caller runs on, nil outside any fiber. Heap fields belong to the
// item's thread: a caller running there queues it directly, any other
// posts it and the owner stamps the key on drain.
func (it *Item) schedule(from *Thread) {
	t := it.t
	if from == t {
		t.heap.remove(it)
		it.key = t.rt.clock.Now()
		t.heap.pushReady(it)
		return
	}
	t.post(it)
}

// expiresBy reports whether the item's deadline has elapsed at now.
func (it *Item) expiresBy(now time.Time) bool {
	return !it.deadline.IsZero() && !it.deadline.After(now)
}

// suspend runs the item protocol for f and returns the outcome, nil for Ok.
func (f *Fiber) suspend(op string, it *Item) error {
	t := f.thread
	it.t = t
	if it.expiresBy(t.rt.clock.Now()) {
		return api.OpError(op, api.ErrCodeTimeout)
	}
	// the item goes on the pending side before attach publishes it to
	// wakers on other threads
	if !it.deadline.IsZero() && it.kind != kindMigration {
		t.heap.pushPending(it)
	}
	if it.attach != nil && !it.attach(it) {
		t.heap.remove(it)
		return it.outcome(op)
	}
	f.item = it
	f.deactivate(it.reason)
	f.item = nil
	// dispatch already took the item off the heap; this covers items
	// resolved out of band before they were ever dispatched.
	f.thread.heap.remove(it)
	if it.detach != nil {
		it.detach(it)
	}
	return it.outcome(op)
}

func (it *Item) outcome(op string) error {
	if it.err != nil {
		return it.err
	}
	return api.OpError(op, it.code)
}
