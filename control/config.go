// control/config.go
// Author: momentics <momentics@gmail.com>
//
// Runtime configuration and a thread-safe store with reload propagation.

package control

import (
	"fmt"
	"math"
	"runtime"
	"sync"
)

// Configuration keys accepted by Config.Apply.
const (
	KeyThreads           = "threads"
	KeyFiberLimit        = "fiber_limit"
	KeyStackSize         = "stack_size"
	KeyStackPoolCapacity = "stack_pool_capacity"
	KeyDispatchBatch     = "dispatch_batch"
	KeyPollEvents        = "poll_events"
	KeyCPUAffinity       = "cpu_affinity"
	KeyLogLevel          = "log_level"
)

// Config holds the parameters of one fiber runtime.
type Config struct {
	Threads           int    // Number of scheduler threads
	FiberLimit        int64  // Admission ceiling per scheduler thread
	StackSize         int    // Usable bytes of each fiber region
	StackPoolCapacity int    // Idle regions kept for reuse
	DispatchBatch     int    // Max activations per loop iteration before re-polling
	PollEvents        int    // Max readiness events per multiplexer wait
	CPUAffinity       bool   // Pin scheduler thread i to CPU i mod NumCPU
	LogLevel          string // logiface level name
}

// DefaultConfig returns default configuration values.
func DefaultConfig() *Config {
	return &Config{
		Threads:           runtime.NumCPU(), // one scheduler per CPU
		FiberLimit:        10000,            // per-thread admission ceiling
		StackSize:         64 * 1024,        // 64 KiB per fiber region
		StackPoolCapacity: 256,              // idle regions kept per runtime
		DispatchBatch:     64,               // activations per loop turn
		PollEvents:        128,              // epoll batch
		CPUAffinity:       false,            // leave placement to the OS
		LogLevel:          "warning",
	}
}

// Validate checks value ranges.
func (c *Config) Validate() error {
	switch {
	case c.Threads <= 0:
		return fmt.Errorf("config: %s must be positive, got %d", KeyThreads, c.Threads)
	case c.FiberLimit <= 0:
		return fmt.Errorf("config: %s must be positive, got %d", KeyFiberLimit, c.FiberLimit)
	case c.StackSize <= 0:
		return fmt.Errorf("config: %s must be positive, got %d", KeyStackSize, c.StackSize)
	case c.StackPoolCapacity < 0:
		return fmt.Errorf("config: %s must not be negative, got %d", KeyStackPoolCapacity, c.StackPoolCapacity)
	case c.DispatchBatch <= 0:
		return fmt.Errorf("config: %s must be positive, got %d", KeyDispatchBatch, c.DispatchBatch)
	case c.PollEvents <= 0:
		return fmt.Errorf("config: %s must be positive, got %d", KeyPollEvents, c.PollEvents)
	}
	if _, err := ParseLevel(c.LogLevel); err != nil {
		return fmt.Errorf("config: %s: %w", KeyLogLevel, err)
	}
	return nil
}

// Map renders the configuration as key/value pairs.
func (c *Config) Map() map[string]any {
	return map[string]any{
		KeyThreads:           c.Threads,
		KeyFiberLimit:        c.FiberLimit,
		KeyStackSize:         c.StackSize,
		KeyStackPoolCapacity: c.StackPoolCapacity,
		KeyDispatchBatch:     c.DispatchBatch,
		KeyPollEvents:        c.PollEvents,
		KeyCPUAffinity:       c.CPUAffinity,
		KeyLogLevel:          c.LogLevel,
	}
}

// Apply merges overrides into c. Unknown keys and mistyped values fail
// without modifying c.
func (c *Config) Apply(overrides map[string]any) error {
	next := *c
	for k, v := range overrides {
		var err error
		switch k {
		case KeyThreads:
			next.Threads, err = toInt(k, v)
		case KeyFiberLimit:
			var n int
			n, err = toInt(k, v)
			next.FiberLimit = int64(n)
		case KeyStackSize:
			next.StackSize, err = toInt(k, v)
		case KeyStackPoolCapacity:
			next.StackPoolCapacity, err = toInt(k, v)
		case KeyDispatchBatch:
			next.DispatchBatch, err = toInt(k, v)
		case KeyPollEvents:
			next.PollEvents, err = toInt(k, v)
		case KeyCPUAffinity:
			b, ok := v.(bool)
			if !ok {
				err = fmt.Errorf("config: %s: want bool, got %T", k, v)
			}
			next.CPUAffinity = b
		case KeyLogLevel:
			s, ok := v.(string)
			if !ok {
				err = fmt.Errorf("config: %s: want string, got %T", k, v)
			}
			next.LogLevel = s
		default:
			err = fmt.Errorf("config: unknown key %q", k)
		}
		if err != nil {
			return err
		}
	}
	if err := next.Validate(); err != nil {
		return err
	}
	*c = next
	return nil
}

func toInt(key string, v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case int32:
		return int(n), nil
	case int64:
		return int(n), nil
	case uint32:
		return int(n), nil
	case float64:
		if n != math.Trunc(n) {
			return 0, fmt.Errorf("config: %s: not an integer: %v", key, n)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("config: %s: want integer, got %T", key, v)
	}
}

// ConfigStore is a dynamic key/value map with atomic snapshot and listener support.
type ConfigStore struct {
	mu        sync.RWMutex
	config    map[string]any
	validate  func(map[string]any) error
	listeners []func(changed map[string]any)
}

// NewConfigStore initializes a store with initial values. validate, when
// non-nil, vets every update before it is merged.
func NewConfigStore(initial map[string]any, validate func(map[string]any) error) *ConfigStore {
	cs := &ConfigStore{
		config:   make(map[string]any, len(initial)),
		validate: validate,
	}
	for k, v := range initial {
		cs.config[k] = v
	}
	return cs
}

// GetSnapshot returns a copy of all config values.
func (cs *ConfigStore) GetSnapshot() map[string]any {
	cs.mu.RLock()
	defer cs.mu.RUnlock()
	out := make(map[string]any, len(cs.config))
	for k, v := range cs.config {
		out[k] = v
	}
	return out
}

// SetConfig validates and merges new values, then invokes every listener
// synchronously with the changed keys.
func (cs *ConfigStore) SetConfig(newCfg map[string]any) error {
	if cs.validate != nil {
		if err := cs.validate(newCfg); err != nil {
			return err
		}
	}
	cs.mu.Lock()
	for k, v := range newCfg {
		cs.config[k] = v
	}
	listeners := append([]func(map[string]any){}, cs.listeners...)
	cs.mu.Unlock()
	for _, fn := range listeners {
		fn(newCfg)
	}
	return nil
}

// OnReload registers a listener hook called on config changes.
func (cs *ConfigStore) OnReload(fn func(changed map[string]any)) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.listeners = append(cs.listeners, fn)
}
