// File: fiber/thread.go
// Author: momentics <momentics@gmail.com>
//
// Scheduler thread: the per-OS-thread reactor loop.

package fiber

import (
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/eapache/queue"
	"github.com/momentics/hioload-fiber/affinity"
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/pool"
	"github.com/momentics/hioload-fiber/reactor"
)

// fdWatch tracks the waiters of one descriptor. epoll keeps a single
// registration per fd, so the interest mask is the union of both sides.
type fdWatch struct {
	read, write *Item
	registered  bool
}

func (w *fdWatch) mask() reactor.Events {
	var m reactor.Events
	if w.read != nil {
		m |= reactor.EventRead
	}
	if w.write != nil {
		m |= reactor.EventWrite
	}
	return m
}

// Thread is one scheduler: a goroutine locked to an OS thread, owning a
// readiness multiplexer, a timer/ready heap and the fibers assigned to it.
// Only one of its fibers runs at any instant.
type Thread struct {
	id      int
	rt      *Runtime
	cpu     int
	batch   int
	limiter *Limiter

	poller reactor.Poller
	events []reactor.Event
	heap   *timerHeap
	fds    map[int]*fdWatch
	swept  bool

	inboxMu sync.Mutex
	inbox   *queue.Queue
	drained []*Item

	current atomic.Pointer[Fiber]

	runNs      atomic.Int64
	idleNs     atomic.Int64
	lockedNs   atomic.Int64
	dispatched atomic.Uint64
	timeouts   atomic.Uint64
	overloads  atomic.Uint64
	pendingN   atomic.Int64
	readyN     atomic.Int64
}

func newThread(rt *Runtime, id int) (*Thread, error) {
	p, err := reactor.NewPoller(rt.opts.PollEvents)
	if err != nil {
		return nil, fmt.Errorf("thread %d: %w", id, err)
	}
	cpu := -1
	if rt.opts.CPUAffinity {
		cpu = affinity.CPUFor(id)
	}
	return &Thread{
		id:      id,
		rt:      rt,
		cpu:     cpu,
		batch:   rt.opts.DispatchBatch,
		limiter: NewLimiter(rt.opts.FiberLimit),
		poller:  p,
		events:  make([]reactor.Event, rt.opts.PollEvents),
		heap:    newTimerHeap(),
		fds:     make(map[int]*fdWatch),
		inbox:   queue.New(),
	}, nil
}

// ID returns the thread index within its runtime.
func (t *Thread) ID() int { return t.id }

// Limiter returns the admission limiter of the thread.
func (t *Thread) Limiter() *Limiter { return t.limiter }

// Current returns the fiber running on the thread, nil while the loop
// itself runs.
func (t *Thread) Current() *Fiber { return t.current.Load() }

// Spawn creates a fiber on t and queues it for its first activation. It
// fails with Overload when the limiter of t is saturated, and with
// Cancelled once shutdown was requested. Safe from any goroutine.
func (t *Thread) Spawn(entry Func) (*Fiber, error) {
	f, err := t.newFiber(entry)
	if err != nil {
		return nil, err
	}
	it := newItem(f, kindSpawn, "spawn", zeroTime)
	it.t = t
	it.resolve(api.ErrCodeOK)
	t.post(it)
	return f, nil
}

func (t *Thread) newFiber(entry Func) (*Fiber, error) {
	rt := t.rt
	if !t.limiter.TryAcquire() {
		t.overloads.Add(1)
		rt.logger().Debug().
			Int("thread", t.id).
			Int64("ceiling", t.limiter.Ceiling()).
			Log("fiber admission refused")
		return nil, api.OpError("spawn", api.ErrCodeOverload)
	}
	rt.live.Add(1)
	if rt.Stopping() {
		t.limiter.Release()
		rt.fiberDone()
		return nil, api.OpError("spawn", api.ErrCodeCancelled)
	}
	st, err := rt.stacks.Get()
	if err != nil {
		t.limiter.Release()
		rt.fiberDone()
		if errors.Is(err, pool.ErrPoolClosed) {
			return nil, api.OpError("spawn", api.ErrCodeCancelled)
		}
		rt.fatal(&api.FatalError{Reason: "fiber stack allocation", Err: err})
		return nil, err
	}
	f := &Fiber{
		id:     rt.nextID.Add(1),
		rt:     rt,
		thread: t,
		entry:  entry,
		stack:  st,
		slots:  make([]any, int(keyCount.Load())),
		resume: make(chan struct{}),
		yield:  make(chan bool),
	}
	rt.fibers.Store(f.id, f)
	return f, nil
}

// run activates f from the current execution context of t and recycles it
// if it terminated.
func (t *Thread) run(f *Fiber) {
	prev := t.current.Swap(f)
	terminated := f.activate()
	t.current.Store(prev)
	if terminated {
		t.rt.release(f)
	}
}

// post hands a resolved item to t from any goroutine and pokes its loop.
func (t *Thread) post(it *Item) {
	t.inboxMu.Lock()
	t.inbox.Add(it)
	t.inboxMu.Unlock()
	if err := t.poller.Wake(); err != nil && !errors.Is(err, reactor.ErrClosed) {
		t.rt.logger().Err().Int("thread", t.id).Err(err).Log("wakeup failed")
	}
}

func (t *Thread) drain() {
	t.inboxMu.Lock()
	for t.inbox.Length() > 0 {
		t.drained = append(t.drained, t.inbox.Remove().(*Item))
	}
	t.inboxMu.Unlock()
	now := t.rt.clock.Now()
	for i, it := range t.drained {
		if it.kind != kindMigration {
			it.key = now
		}
		t.heap.pushReady(it)
		t.drained[i] = nil
	}
	t.drained = t.drained[:0]
}

// dispatch activates due items up to the batch bound and returns how many
// fibers ran.
func (t *Thread) dispatch() int {
	n := 0
	for n < t.batch {
		it, expired := t.heap.next(t.rt.clock.Now())
		if it == nil {
			break
		}
		if expired {
			if !it.resolve(api.ErrCodeTimeout) {
				// resolved from another thread; its inbox entry requeues it
				continue
			}
			t.timeouts.Add(1)
		}
		t.dispatched.Add(1)
		t.run(it.f)
		n++
	}
	return n
}

// timeout returns the multiplexer wait bound in milliseconds, rounded up
// so a timed item is never dispatched before its deadline.
func (t *Thread) timeout(busy bool) int {
	if busy || t.heap.hasReady() {
		return 0
	}
	d, ok := t.heap.earliest()
	if !ok {
		return -1
	}
	wait := t.rt.clock.Until(d)
	if wait <= 0 {
		return 0
	}
	return int((wait + time.Millisecond - 1) / time.Millisecond)
}

func (t *Thread) loop() error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	log := t.rt.logger()
	if t.cpu >= 0 {
		pin := affinity.NewPinner()
		if err := pin.Pin(t.cpu); err != nil {
			log.Warning().Int("thread", t.id).Int("cpu", t.cpu).Err(err).Log("cpu pinning failed")
		} else {
			defer pin.Unpin()
		}
	}
	log.Info().Int("thread", t.id).Log("scheduler thread started")
	defer func() {
		t.rt.logger().Info().Int("thread", t.id).Log("scheduler thread stopped")
	}()

	clock := t.rt.clock
	for {
		t.drain()
		if t.rt.Stopping() && !t.swept {
			t.swept = true
			n := t.heap.cancel(clock.Now(), func(it *Item) bool { return it.kind == kindSleep })
			if n > 0 {
				t.rt.logger().Debug().Int("thread", t.id).Int("sleepers", n).Log("sleepers cancelled")
			}
		}

		start := clock.Now()
		ran := t.dispatch()
		t.runNs.Add(int64(clock.Since(start)))
		pending, ready := t.heap.lens()
		t.pendingN.Store(int64(pending))
		t.readyN.Store(int64(ready))

		if t.rt.Stopping() && t.rt.live.Load() == 0 {
			return nil
		}

		start = clock.Now()
		n, err := t.poller.Wait(t.events, t.timeout(ran >= t.batch))
		t.idleNs.Add(int64(clock.Since(start)))
		if err != nil {
			return fmt.Errorf("thread %d: poller wait: %w", t.id, err)
		}
		for i := 0; i < n; i++ {
			t.fire(t.events[i])
		}
	}
}

// fire promotes the waiters of a ready descriptor and re-arms the fd for
// any side that did not fire.
func (t *Thread) fire(ev reactor.Event) {
	w := t.fds[ev.Fd]
	if w == nil {
		return
	}
	hit := ev.Events
	if hit&(reactor.EventError|reactor.EventHangup) != 0 {
		hit |= reactor.EventRead | reactor.EventWrite
	}
	now := t.rt.clock.Now()
	promote := func(it *Item) {
		it.fired = ev.Events
		if it.resolve(api.ErrCodeOK) {
			it.key = now
			t.heap.pushReady(it)
		}
	}
	if w.read != nil && hit&reactor.EventRead != 0 {
		promote(w.read)
		w.read = nil
	}
	if w.write != nil && hit&reactor.EventWrite != 0 {
		promote(w.write)
		w.write = nil
	}
	if m := w.mask(); m != 0 {
		if err := t.poller.Modify(ev.Fd, m); err != nil {
			t.failWatch(ev.Fd, w, err)
		}
	}
}

// failWatch resolves the remaining waiters of fd with a system error.
func (t *Thread) failWatch(fd int, w *fdWatch, err error) {
	now := t.rt.clock.Now()
	for _, it := range []*Item{w.read, w.write} {
		if it != nil && it.resolve(api.ErrCodeSystem) {
			it.err = api.SystemError("epoll_ctl", errnoOf(err))
			it.key = now
			t.heap.pushReady(it)
		}
	}
	w.read, w.write = nil, nil
}

// watch is the attach hook of descriptor items.
func (t *Thread) watch(it *Item) bool {
	w := t.fds[it.fd]
	if w == nil {
		w = &fdWatch{}
		t.fds[it.fd] = w
	}
	if (it.interest&reactor.EventRead != 0 && w.read != nil) ||
		(it.interest&reactor.EventWrite != 0 && w.write != nil) {
		it.resolve(api.ErrCodeIllegalCall)
		return false
	}
	if it.interest&reactor.EventRead != 0 {
		w.read = it
	}
	if it.interest&reactor.EventWrite != 0 {
		w.write = it
	}
	var err error
	if w.registered {
		err = t.poller.Modify(it.fd, w.mask())
	} else {
		err = t.poller.Add(it.fd, w.mask())
		w.registered = err == nil
	}
	if err != nil {
		t.unwatch(it)
		it.resolve(api.ErrCodeSystem)
		it.err = api.SystemError("epoll_ctl", errnoOf(err))
		return false
	}
	return true
}

// unwatch is the detach hook of descriptor items. The registration is
// dropped once no waiter is left, so a later wait starts from a clean Add.
func (t *Thread) unwatch(it *Item) {
	w := t.fds[it.fd]
	if w == nil {
		return
	}
	if w.read == it {
		w.read = nil
	}
	if w.write == it {
		w.write = nil
	}
	if m := w.mask(); m != 0 {
		if err := t.poller.Modify(it.fd, m); err != nil {
			t.failWatch(it.fd, w, err)
		}
		return
	}
	if w.registered {
		// the fd may already be closed; there is nothing left to undo then
		_ = t.poller.Delete(it.fd)
	}
	delete(t.fds, it.fd)
}

// Stats returns a snapshot of the thread counters. Safe from any goroutine.
func (t *Thread) Stats() api.ThreadStats {
	return api.ThreadStats{
		ID:         t.id,
		Fibers:     t.limiter.Count(),
		Ceiling:    t.limiter.Ceiling(),
		Run:        time.Duration(t.runNs.Load()),
		Idle:       time.Duration(t.idleNs.Load()),
		Locked:     time.Duration(t.lockedNs.Load()),
		Dispatched: t.dispatched.Load(),
		Timeouts:   t.timeouts.Load(),
		Overloads:  t.overloads.Load(),
		Pending:    int(t.pendingN.Load()),
		Ready:      int(t.readyN.Load()),
	}
}

func errnoOf(err error) syscall.Errno {
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno
	}
	return syscall.EINVAL
}
