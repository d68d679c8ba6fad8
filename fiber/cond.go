// File: fiber/cond.go
// Author: momentics <momentics@gmail.com>
//
// Condition variable over Mutex.

package fiber

import (
	"time"

	"github.com/momentics/hioload-fiber/api"
)

// Cond is a FIFO condition variable. The zero value is ready to use.
type Cond struct {
	spin spinLock
	q    waitQueue
}

// Wait releases mu, suspends f until Send, Broadcast or the deadline, and
// reacquires mu before returning. f must hold mu. mu is held on return
// whatever the outcome.
func (c *Cond) Wait(f *Fiber, mu *Mutex, deadline time.Time) error {
	if mu.Owner() != f {
		return api.OpError("cond wait", api.ErrCodeIllegalCall)
	}
	released := false
	it := newItem(f, kindWake, "cond wait", deadline)
	it.attach = func(it *Item) bool {
		c.spin.Lock()
		c.q.push(it)
		c.spin.Unlock()
		mu.Unlock(f)
		released = true
		return true
	}
	it.detach = func(it *Item) {
		c.spin.Lock()
		c.q.remove(it)
		c.spin.Unlock()
	}
	err := f.suspend("cond wait", it)
	if released {
		if lerr := mu.Lock(f, zeroTime); lerr != nil {
			return lerr
		}
	}
	return err
}

// Send wakes the longest waiting fiber. f is the calling fiber, nil
// outside any fiber.
func (c *Cond) Send(f *Fiber) {
	c.spin.Lock()
	var woken *Item
	for it := c.q.pop(); it != nil; it = c.q.pop() {
		if it.resolve(api.ErrCodeOK) {
			woken = it
			break
		}
	}
	c.spin.Unlock()
	if woken != nil {
		woken.schedule(threadOf(f))
	}
}

// Broadcast marks every current waiter ready at once, in FIFO order.
func (c *Cond) Broadcast(f *Fiber) {
	c.spin.Lock()
	var woken []*Item
	for it := c.q.pop(); it != nil; it = c.q.pop() {
		if it.resolve(api.ErrCodeOK) {
			woken = append(woken, it)
		}
	}
	c.spin.Unlock()
	from := threadOf(f)
	for _, it := range woken {
		it.schedule(from)
	}
}

// Waiters returns the number of queued fibers.
func (c *Cond) Waiters() int {
	c.spin.Lock()
	defer c.spin.Unlock()
	return c.q.Len()
}

func threadOf(f *Fiber) *Thread {
	if f == nil {
		return nil
	}
	return f.thread
}
