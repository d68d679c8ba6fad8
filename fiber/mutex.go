// File: fiber/mutex.go
// Author: momentics <momentics@gmail.com>
//
// Fiber mutex with FIFO hand-off.

package fiber

import (
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-fiber/api"
)

// Mutex is a non-reentrant fiber lock. Contended waiters queue in FIFO
// order and Unlock hands ownership directly to the head, so a later arrival
// can never overtake a queued waiter. The zero value is unlocked. Locking
// twice from the same fiber deadlocks, or times out if a deadline is given.
type Mutex struct {
	state atomic.Int32
	spin  spinLock
	q     waitQueue
	owner atomic.Pointer[Fiber]
}

// TryLock acquires m without suspending.
func (m *Mutex) TryLock(f *Fiber) bool {
	if m.state.CompareAndSwap(0, 1) {
		m.owner.Store(f)
		return true
	}
	return false
}

// Lock acquires m, suspending f while it is held elsewhere. A zero deadline
// waits forever; an elapsed one fails with Timeout unless m is free.
func (m *Mutex) Lock(f *Fiber, deadline time.Time) error {
	if m.TryLock(f) {
		return nil
	}
	it := newItem(f, kindWake, "mutex lock", deadline)
	it.attach = func(it *Item) bool {
		m.spin.Lock()
		if m.state.CompareAndSwap(0, 1) {
			m.spin.Unlock()
			m.owner.Store(f)
			it.resolve(api.ErrCodeOK)
			return false
		}
		m.q.push(it)
		m.spin.Unlock()
		return true
	}
	it.detach = func(it *Item) {
		m.spin.Lock()
		m.q.remove(it)
		m.spin.Unlock()
	}
	start := f.rt.clock.Now()
	err := f.suspend("mutex lock", it)
	f.thread.lockedNs.Add(int64(f.rt.clock.Since(start)))
	return err
}

// Unlock releases m, handing it to the first queued waiter that has not
// timed out. f is the releasing fiber, nil outside any fiber. Unlocking a
// mutex held by another fiber is fatal.
func (m *Mutex) Unlock(f *Fiber) {
	if m.state.Load() == 0 {
		panic(&api.FatalError{Reason: "unlock of unlocked mutex"})
	}
	if o := m.owner.Load(); o != f {
		panic(&api.FatalError{Reason: "mutex unlocked by a fiber that does not own it"})
	}
	m.spin.Lock()
	next := m.handoff()
	m.spin.Unlock()
	if next != nil {
		next.schedule(threadOf(f))
	}
}

// handoff passes ownership to the first waiter that is still waiting, or
// clears the state when none is. Called with m.spin held.
func (m *Mutex) handoff() *Item {
	for it := m.q.pop(); it != nil; it = m.q.pop() {
		m.owner.Store(it.f)
		if it.resolve(api.ErrCodeOK) {
			return it
		}
	}
	m.owner.Store(nil)
	m.state.Store(0)
	return nil
}

// Owner returns the fiber holding m, for diagnostics.
func (m *Mutex) Owner() *Fiber { return m.owner.Load() }

// Waiters returns the number of queued fibers.
func (m *Mutex) Waiters() int {
	m.spin.Lock()
	defer m.spin.Unlock()
	return m.q.Len()
}
