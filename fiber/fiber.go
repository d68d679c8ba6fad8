// File: fiber/fiber.go
// Author: momentics <momentics@gmail.com>
//
// Fiber control block and the activate/deactivate handoff.

package fiber

import (
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/pool"
)

// Func is the entry routine of a fiber.
type Func func(f *Fiber)

// Fiber is a cooperatively scheduled unit of execution owned by exactly one
// scheduler thread at a time. The handle is passed to the entry routine and
// every blocking call takes it as receiver.
type Fiber struct {
	id     uint64
	rt     *Runtime
	thread *Thread
	entry  Func
	stack  *pool.Stack
	slots  []any

	// resume carries control into the fiber, yield carries it back to the
	// activator together with the terminated flag.
	resume  chan struct{}
	yield   chan bool
	started bool
	done    bool

	item   *Item
	reason atomic.Pointer[string]
}

// ID returns the runtime-unique fiber identifier.
func (f *Fiber) ID() uint64 { return f.id }

// Thread returns the scheduler thread currently owning the fiber. Only
// meaningful from code running on the fiber.
func (f *Fiber) Thread() *Thread { return f.thread }

// Runtime returns the runtime the fiber belongs to.
func (f *Fiber) Runtime() *Runtime { return f.rt }

// Stack returns the usable bytes of the fiber's private region. The memory
// stays valid until the entry routine returns.
func (f *Fiber) Stack() []byte { return f.stack.Bytes() }

// WaitReason returns what the fiber is suspended on, empty while running.
func (f *Fiber) WaitReason() string {
	if p := f.reason.Load(); p != nil {
		return *p
	}
	return ""
}

// activate transfers control into the fiber and blocks until it deactivates
// or returns. It reports whether the fiber terminated.
func (f *Fiber) activate() bool {
	if f.done {
		panic(&api.FatalError{Reason: fmt.Sprintf("activation of finished fiber %d", f.id)})
	}
	if !f.started {
		f.started = true
		go f.run()
	} else {
		f.resume <- struct{}{}
	}
	terminated := <-f.yield
	if terminated {
		f.done = true
	}
	return terminated
}

// deactivate hands control back to whoever last activated the fiber and
// blocks until the next activation.
func (f *Fiber) deactivate(reason string) {
	f.reason.Store(&reason)
	f.yield <- false
	<-f.resume
	f.reason.Store(nil)
}

func (f *Fiber) run() {
	defer func() {
		if r := recover(); r != nil {
			if fe, ok := r.(*api.FatalError); ok {
				f.rt.fatal(fe)
			} else {
				f.rt.logger().Err().
					Uint64("fiber", f.id).
					Int("thread", f.thread.id).
					Str("panic", fmt.Sprint(r)).
					Str("stack", string(debug.Stack())).
					Log("fiber panicked")
			}
		}
		f.yield <- true
	}()
	f.entry(f)
}

// Go creates a fiber on the caller's thread and transfers control to it at
// once. The caller resumes when the new fiber first suspends or returns.
func (f *Fiber) Go(entry Func) (*Fiber, error) {
	t := f.thread
	child, err := t.newFiber(entry)
	if err != nil {
		return nil, err
	}
	t.run(child)
	return child, nil
}

// Yield requeues the fiber behind the work that is already due on its
// thread.
func (f *Fiber) Yield() {
	it := newItem(f, kindYield, "yield", zeroTime)
	it.attach = func(it *Item) bool {
		it.resolve(api.ErrCodeOK)
		it.key = f.rt.clock.Now()
		it.t.heap.pushReady(it)
		return true
	}
	_ = f.suspend("yield", it)
}

// Key indexes a fiber-local slot.
type Key struct {
	idx int
}

var (
	keyCount   atomic.Int32
	fallbackMu sync.Mutex
	fallback   = map[int]any{}
)

// NewKey allocates a fiber-local slot. Fibers created afterwards have the
// slot laid out up front; older fibers grow their slots on first Set.
func NewKey() Key {
	return Key{idx: int(keyCount.Add(1) - 1)}
}

// Get returns the slot value of f. A nil f reads the process-wide fallback.
func (k Key) Get(f *Fiber) any {
	if f == nil {
		fallbackMu.Lock()
		defer fallbackMu.Unlock()
		return fallback[k.idx]
	}
	if k.idx < len(f.slots) {
		return f.slots[k.idx]
	}
	return nil
}

// Set stores v in the slot of f. A nil f writes the process-wide fallback.
func (k Key) Set(f *Fiber, v any) {
	if f == nil {
		fallbackMu.Lock()
		fallback[k.idx] = v
		fallbackMu.Unlock()
		return
	}
	if k.idx >= len(f.slots) {
		grown := make([]any, int(keyCount.Load()))
		copy(grown, f.slots)
		f.slots = grown
	}
	f.slots[k.idx] = v
}
