// Package benchmarks
// Author: momentics <momentics@gmail.com>
//
// Performance benchmarks for hioload-fiber components.

package benchmarks

import (
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/facade"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/momentics/hioload-fiber/pool"
)

func startRuntime(b *testing.B, threads int) *facade.Runtime {
	b.Helper()
	cfg := control.DefaultConfig()
	cfg.Threads = threads
	cfg.FiberLimit = 1 << 20
	rt, err := facade.New(cfg)
	if err != nil {
		b.Fatal(err)
	}
	if err := rt.Start(); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() {
		if err := rt.Shutdown(); err != nil {
			b.Error(err)
		}
	})
	return rt
}

// BenchmarkStackPoolGetPut measures recycling of fiber stacks.
func BenchmarkStackPoolGetPut(b *testing.B) {
	p := pool.NewStackPool(64<<10, 256)
	defer p.Close()

	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			s, err := p.Get()
			if err != nil {
				b.Error(err)
				return
			}
			p.Put(s)
		}
	})
}

// BenchmarkSpawn measures fiber creation and completion on one thread.
func BenchmarkSpawn(b *testing.B) {
	rt := startRuntime(b, 1)
	var wg sync.WaitGroup
	wg.Add(b.N)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := rt.Spawn(0, func(*fiber.Fiber) { wg.Done() }); err != nil {
			b.Fatal(err)
		}
	}
	wg.Wait()
}

// BenchmarkYield measures one suspend/resume round trip through the loop.
func BenchmarkYield(b *testing.B) {
	rt := startRuntime(b, 1)
	done := make(chan struct{})

	b.ResetTimer()
	_, err := rt.Spawn(0, func(f *fiber.Fiber) {
		defer close(done)
		for i := 0; i < b.N; i++ {
			f.Yield()
		}
	})
	if err != nil {
		b.Fatal(err)
	}
	<-done
}

// BenchmarkMutexHandoff measures contended lock hand-off between fibers
// running on different threads.
func BenchmarkMutexHandoff(b *testing.B) {
	rt := startRuntime(b, 2)
	var mu fiber.Mutex
	var wg sync.WaitGroup
	per := b.N/2 + 1
	wg.Add(2)

	b.ResetTimer()
	for i := 0; i < 2; i++ {
		_, err := rt.Spawn(i, func(f *fiber.Fiber) {
			defer wg.Done()
			for j := 0; j < per; j++ {
				if err := mu.Lock(f, time.Time{}); err != nil {
					b.Error(err)
					return
				}
				f.Yield()
				mu.Unlock(f)
			}
		})
		if err != nil {
			b.Fatal(err)
		}
	}
	wg.Wait()
}

// BenchmarkCrossThreadWake measures signalling a condition waiter owned by
// another thread.
func BenchmarkCrossThreadWake(b *testing.B) {
	rt := startRuntime(b, 2)
	var (
		mu    fiber.Mutex
		cond  fiber.Cond
		turns int
		wg    sync.WaitGroup
	)
	wg.Add(2)

	b.ResetTimer()
	for side := 0; side < 2; side++ {
		side := side
		_, err := rt.Spawn(side, func(f *fiber.Fiber) {
			defer wg.Done()
			if err := mu.Lock(f, time.Time{}); err != nil {
				b.Error(err)
				return
			}
			defer mu.Unlock(f)
			for turns < b.N {
				for turns%2 != side && turns < b.N {
					if err := cond.Wait(f, &mu, time.Time{}); err != nil {
						b.Error(err)
						return
					}
				}
				if turns < b.N {
					turns++
				}
				cond.Send(f)
			}
		})
		if err != nil {
			b.Fatal(err)
		}
	}
	wg.Wait()
}
