// File: facade/hioload.go
// Unified facade layer for the hioload-fiber runtime.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Runtime aggregates the fiber scheduler and its supporting services behind
// a single handle: logger, stack pool, scheduler threads, control adapter
// (config store, metrics, debug probes) and the Prometheus collector. The
// configuration is applied at construction; fiber_limit and log_level are
// hot-reloaded through the Control interface, other keys are recorded and
// take effect on the next construction. A Runtime is single-use: it cannot
// be started again after Shutdown.

package facade

import (
	"context"
	"io"
	"sync"

	"github.com/coder/quartz"
	"github.com/momentics/hioload-fiber/adapters"
	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/pool"
	"github.com/prometheus/client_golang/prometheus"
)

// Option customizes a Runtime.
type Option func(*options)

type options struct {
	logWriter io.Writer
	clock     quartz.Clock
	onFatal   func(*api.FatalError)
	namespace string
}

// WithLogWriter directs the JSON log to w.
func WithLogWriter(w io.Writer) Option { return func(o *options) { o.logWriter = w } }

// WithClock replaces the real clock.
func WithClock(c quartz.Clock) Option { return func(o *options) { o.clock = c } }

// WithOnFatal replaces the default fatal handler, which panics.
func WithOnFatal(fn func(*api.FatalError)) Option { return func(o *options) { o.onFatal = fn } }

// WithMetricsNamespace sets the Prometheus namespace, "hioload_fiber" by
// default.
func WithMetricsNamespace(ns string) Option { return func(o *options) { o.namespace = ns } }

// Runtime is the main facade type.
// It implements api.GracefulShutdown to allow unified shutdown logic.
type Runtime struct {
	config    *control.Config
	opts      options
	stacks    *pool.StackPool
	fibers    *fiber.Runtime
	control   *adapters.ControlAdapter
	collector *control.Collector

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
}

// Ensure compliance with api.GracefulShutdown.
var _ api.GracefulShutdown = (*Runtime)(nil)

// New constructs a Runtime with the given configuration. Threads are
// created but do not run until Start.
func New(cfg *control.Config, opts ...Option) (*Runtime, error) {
	if cfg == nil {
		cfg = control.DefaultConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := options{namespace: "hioload_fiber"}
	for _, opt := range opts {
		opt(&o)
	}
	level, _ := control.ParseLevel(cfg.LogLevel)
	logger := control.NewLogger(o.logWriter, level)

	r := &Runtime{
		config: cfg,
		opts:   o,
		stacks: pool.NewStackPool(cfg.StackSize, cfg.StackPoolCapacity),
	}
	fr, err := fiber.NewRuntime(fiber.Options{
		Threads:       cfg.Threads,
		FiberLimit:    cfg.FiberLimit,
		DispatchBatch: cfg.DispatchBatch,
		PollEvents:    cfg.PollEvents,
		CPUAffinity:   cfg.CPUAffinity,
		Stacks:        r.stacks,
		Logger:        logger,
		Clock:         o.clock,
		OnFatal:       o.onFatal,
	})
	if err != nil {
		_ = r.stacks.Close()
		return nil, err
	}
	r.fibers = fr
	r.control = adapters.NewControlAdapter(cfg, fr)
	r.collector = control.NewCollector(o.namespace, fr)

	r.control.RegisterDebugProbe("fibers.wait_reasons", func() any { return fr.WaitReasons() })
	r.control.RegisterDebugProbe("fibers.live", func() any { return fr.Live() })
	r.control.RegisterDebugProbe("stacks", func() any { return r.stacks.Stats() })
	r.control.OnReload(r.reload)
	return r, nil
}

// reload hot-applies the settings that can change on a running scheduler.
func (r *Runtime) reload(changed map[string]any) {
	log := r.fibers.Logger()
	cfg, err := r.control.Config()
	if err != nil {
		log.Err().Err(err).Log("config reload failed")
		return
	}
	for k := range changed {
		switch k {
		case control.KeyFiberLimit, control.KeyLogLevel:
		default:
			log.Warning().Str("key", k).Log("config change takes effect on restart")
		}
	}
	if _, ok := changed[control.KeyFiberLimit]; ok {
		r.fibers.SetFiberLimit(cfg.FiberLimit)
	}
	if _, ok := changed[control.KeyLogLevel]; ok {
		level, _ := control.ParseLevel(cfg.LogLevel)
		r.fibers.SetLogger(control.NewLogger(r.opts.logWriter, level))
	}
}

// Start runs the scheduler threads. Subsequent calls have no effect; a
// call after Shutdown fails with Cancelled.
func (r *Runtime) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return api.OpError("start", api.ErrCodeCancelled)
	}
	if r.started {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	r.cancel = cancel
	r.fibers.Start(ctx)
	r.started = true
	return nil
}

// Spawn creates a fiber on scheduler thread i.
func (r *Runtime) Spawn(i int, entry fiber.Func) (*fiber.Fiber, error) {
	if i < 0 || i >= len(r.fibers.Threads()) {
		return nil, api.OpError("spawn", api.ErrCodeIllegalCall)
	}
	return r.fibers.Spawn(r.fibers.Thread(i), entry)
}

// Thread returns scheduler thread i.
func (r *Runtime) Thread(i int) *fiber.Thread { return r.fibers.Thread(i) }

// Fibers exposes the underlying scheduler.
func (r *Runtime) Fibers() *fiber.Runtime { return r.fibers }

// Control returns the Control interface for dynamic config and metrics.
func (r *Runtime) Control() api.Control { return r.control }

// Collector returns the Prometheus collector for the scheduler counters.
func (r *Runtime) Collector() prometheus.Collector { return r.collector }

// Wait blocks until the scheduler threads exit.
func (r *Runtime) Wait() error { return r.fibers.Wait() }

// Shutdown implements api.GracefulShutdown: it requests a stop, waits for
// every live fiber to return and releases the scheduler resources.
func (r *Runtime) Shutdown() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	err := r.fibers.Shutdown()
	if r.cancel != nil {
		r.cancel()
	}
	if cerr := r.stacks.Close(); err == nil {
		err = cerr
	}
	r.started = false
	r.closed = true
	return err
}
