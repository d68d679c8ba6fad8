// File: fiber/runtime.go
// Author: momentics <momentics@gmail.com>
//
// Runtime: the pool of scheduler threads and process-wide fiber state.

package fiber

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coder/quartz"
	"github.com/joeycumines/logiface"
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/pool"
	"golang.org/x/sync/errgroup"
)

// Options configures a Runtime.
type Options struct {
	Threads       int    // Number of scheduler threads
	FiberLimit    int64  // Admission ceiling per thread
	DispatchBatch int    // Max activations per loop turn before re-polling
	PollEvents    int    // Max readiness events per wait
	CPUAffinity   bool   // Pin thread i to CPU i mod NumCPU
	Stacks        *pool.StackPool
	Logger        *logiface.Logger[logiface.Event]
	Clock         quartz.Clock
	// OnFatal handles invariant violations. The default logs and panics.
	OnFatal func(*api.FatalError)
}

// DefaultOptions returns options for a single-threaded runtime.
func DefaultOptions() Options {
	return Options{
		Threads:       1,
		FiberLimit:    10000,
		DispatchBatch: 64,
		PollEvents:    128,
	}
}

// Runtime owns the scheduler threads, the stack pool and the process-wide
// stop flag and live-fiber count.
type Runtime struct {
	opts     Options
	clock    quartz.Clock
	log      atomic.Pointer[logiface.Logger[logiface.Event]]
	stacks   *pool.StackPool
	ownPool  bool
	threads  []*Thread
	onFatal  func(*api.FatalError)
	stop     atomic.Bool
	live     atomic.Int64
	nextID   atomic.Uint64
	fibers   sync.Map // id -> *Fiber
	start    sync.Once
	started  atomic.Bool
	done     chan struct{}
	err      error
	closed   sync.Once
	closeErr error
}

var (
	_ api.StatsSource      = (*Runtime)(nil)
	_ api.WaitReporter     = (*Runtime)(nil)
	_ api.GracefulShutdown = (*Runtime)(nil)
)

// NewRuntime creates the scheduler threads. They start running on Start.
func NewRuntime(opts Options) (*Runtime, error) {
	def := DefaultOptions()
	if opts.Threads <= 0 {
		opts.Threads = def.Threads
	}
	if opts.FiberLimit <= 0 {
		opts.FiberLimit = def.FiberLimit
	}
	if opts.DispatchBatch <= 0 {
		opts.DispatchBatch = def.DispatchBatch
	}
	if opts.PollEvents <= 0 {
		opts.PollEvents = def.PollEvents
	}
	rt := &Runtime{
		opts:   opts,
		clock:  opts.Clock,
		stacks: opts.Stacks,
		done:   make(chan struct{}),
	}
	if rt.clock == nil {
		rt.clock = quartz.NewReal()
	}
	if rt.stacks == nil {
		rt.stacks = pool.NewStackPool(pool.DefaultStackSize, pool.DefaultStackPoolCapacity)
		rt.ownPool = true
	}
	rt.log.Store(opts.Logger)
	rt.onFatal = opts.OnFatal
	if rt.onFatal == nil {
		rt.onFatal = func(e *api.FatalError) { panic(e) }
	}
	for i := 0; i < opts.Threads; i++ {
		t, err := newThread(rt, i)
		if err != nil {
			_ = rt.Close()
			return nil, err
		}
		rt.threads = append(rt.threads, t)
	}
	return rt, nil
}

func (rt *Runtime) logger() *logiface.Logger[logiface.Event] { return rt.log.Load() }

// Logger returns the current logger, nil when logging is disabled.
func (rt *Runtime) Logger() *logiface.Logger[logiface.Event] { return rt.logger() }

// SetLogger replaces the logger; nil disables logging.
func (rt *Runtime) SetLogger(l *logiface.Logger[logiface.Event]) { rt.log.Store(l) }

// Start runs every scheduler thread. Cancelling ctx requests a stop.
func (rt *Runtime) Start(ctx context.Context) {
	rt.start.Do(func() {
		rt.started.Store(true)
		g, gctx := errgroup.WithContext(ctx)
		for _, t := range rt.threads {
			t := t
			g.Go(func() error {
				if err := t.loop(); err != nil {
					rt.fatal(&api.FatalError{Reason: "scheduler thread failed", Err: err})
					return err
				}
				return nil
			})
		}
		go func() {
			<-gctx.Done()
			rt.Stop()
		}()
		go func() {
			rt.err = g.Wait()
			close(rt.done)
		}()
	})
}

// Stop sets the one-way stop flag. Threads keep serving live fibers and
// exit once no fiber remains in the runtime; plain sleepers are cancelled.
func (rt *Runtime) Stop() {
	if !rt.stop.CompareAndSwap(false, true) {
		return
	}
	rt.logger().Info().Int64("fibers", rt.live.Load()).Log("shutdown requested")
	rt.pokeAll()
}

// Stopping reports whether Stop was called.
func (rt *Runtime) Stopping() bool { return rt.stop.Load() }

// Wait blocks until every thread exited.
func (rt *Runtime) Wait() error {
	if !rt.started.Load() {
		return errors.New("fiber runtime: not started")
	}
	<-rt.done
	return rt.err
}

// Shutdown stops the runtime, waits for every fiber to finish and releases
// the multiplexers and the stack pool.
func (rt *Runtime) Shutdown() error {
	rt.Stop()
	var err error
	if rt.started.Load() {
		err = rt.Wait()
	}
	return errors.Join(err, rt.Close())
}

// Close releases the multiplexers, and the stack pool if the runtime
// created it. Threads must have exited.
func (rt *Runtime) Close() error {
	rt.closed.Do(func() {
		var errs []error
		for _, t := range rt.threads {
			if err := t.poller.Close(); err != nil {
				errs = append(errs, fmt.Errorf("thread %d: %w", t.id, err))
			}
		}
		if rt.ownPool {
			errs = append(errs, rt.stacks.Close())
		}
		rt.closeErr = errors.Join(errs...)
	})
	return rt.closeErr
}

// Spawn creates a fiber on t. See Thread.Spawn.
func (rt *Runtime) Spawn(t *Thread, entry Func) (*Fiber, error) {
	if t == nil || t.rt != rt {
		return nil, api.OpError("spawn", api.ErrCodeIllegalCall)
	}
	return t.Spawn(entry)
}

// Thread returns the i-th scheduler thread.
func (rt *Runtime) Thread(i int) *Thread { return rt.threads[i] }

// Threads returns every scheduler thread.
func (rt *Runtime) Threads() []*Thread { return rt.threads }

// Live returns the number of fibers alive in the runtime.
func (rt *Runtime) Live() int64 { return rt.live.Load() }

// Stacks returns the stack pool.
func (rt *Runtime) Stacks() *pool.StackPool { return rt.stacks }

// SetFiberLimit changes the admission ceiling of every thread.
func (rt *Runtime) SetFiberLimit(n int64) {
	for _, t := range rt.threads {
		t.limiter.SetCeiling(n)
	}
}

// ThreadStats implements api.StatsSource.
func (rt *Runtime) ThreadStats() []api.ThreadStats {
	out := make([]api.ThreadStats, len(rt.threads))
	for i, t := range rt.threads {
		out[i] = t.Stats()
	}
	return out
}

// WaitReasons implements api.WaitReporter for suspended fibers.
func (rt *Runtime) WaitReasons() map[uint64]string {
	out := make(map[uint64]string)
	rt.fibers.Range(func(k, v any) bool {
		if r := v.(*Fiber).WaitReason(); r != "" {
			out[k.(uint64)] = r
		}
		return true
	})
	return out
}

func (rt *Runtime) release(f *Fiber) {
	rt.fibers.Delete(f.id)
	rt.stacks.Put(f.stack)
	f.stack = nil
	f.thread.limiter.Release()
	rt.fiberDone()
}

func (rt *Runtime) fiberDone() {
	if rt.live.Add(-1) == 0 && rt.Stopping() {
		rt.pokeAll()
	}
}

func (rt *Runtime) pokeAll() {
	for _, t := range rt.threads {
		_ = t.poller.Wake()
	}
}

func (rt *Runtime) fatal(e *api.FatalError) {
	rt.logger().Emerg().Str("reason", e.Reason).Err(e.Err).Log("fatal runtime error")
	rt.onFatal(e)
}
