package fiber

import (
	"context"
	"testing"
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/stretchr/testify/require"
)

const testTimeout = 5 * time.Second

func newTestRuntime(t *testing.T, threads int, limit int64) *Runtime {
	t.Helper()
	rt, err := NewRuntime(Options{
		Threads:    threads,
		FiberLimit: limit,
		OnFatal:    func(e *api.FatalError) { t.Errorf("fatal: %v", e) },
	})
	require.NoError(t, err)
	rt.Start(context.Background())
	t.Cleanup(func() {
		done := make(chan error, 1)
		go func() { done <- rt.Shutdown() }()
		select {
		case err := <-done:
			require.NoError(t, err)
		case <-time.After(testTimeout):
			t.Errorf("shutdown timed out with %d live fibers", rt.Live())
		}
	})
	return rt
}

// spawn starts fn on th and returns a channel closed when it returns.
func spawn(t *testing.T, th *Thread, fn Func) <-chan struct{} {
	t.Helper()
	done := make(chan struct{})
	_, err := th.Spawn(func(f *Fiber) {
		defer close(done)
		fn(f)
	})
	require.NoError(t, err)
	return done
}

func await(t *testing.T, chs ...<-chan struct{}) {
	t.Helper()
	timer := time.NewTimer(testTimeout)
	defer timer.Stop()
	for _, ch := range chs {
		select {
		case <-ch:
		case <-timer.C:
			t.Fatal("fiber did not finish in time")
		}
	}
}
