package facade_test

import (
	"bytes"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/control"
	"github.com/momentics/hioload-fiber/facade"
	"github.com/momentics/hioload-fiber/fiber"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func testConfig() *control.Config {
	cfg := control.DefaultConfig()
	cfg.Threads = 2
	cfg.FiberLimit = 16
	cfg.StackPoolCapacity = 4
	return cfg
}

// Full lifecycle: start, spawn on every thread, hot reload, stats, shutdown.
func TestRuntimeFullLifecycle(t *testing.T) {
	logs := &syncBuffer{}
	r, err := facade.New(testConfig(), facade.WithLogWriter(logs))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	require.NoError(t, r.Start())

	var ran atomic.Int32
	for i := 0; i < 2; i++ {
		_, err := r.Spawn(i, func(f *fiber.Fiber) {
			_ = f.Sleep(time.Millisecond)
			ran.Add(1)
		})
		require.NoError(t, err)
	}
	_, err = r.Spawn(5, func(*fiber.Fiber) {})
	assert.ErrorIs(t, err, api.ErrIllegalCall)

	called := false
	r.Control().OnReload(func(map[string]any) { called = true })
	require.NoError(t, r.Control().SetConfig(map[string]any{control.KeyFiberLimit: 3, control.KeyLogLevel: "info"}))
	assert.True(t, called)
	assert.Equal(t, int64(3), r.Thread(0).Limiter().Ceiling())
	assert.Equal(t, int64(3), r.Thread(1).Limiter().Ceiling())

	require.Eventually(t, func() bool { return ran.Load() == 2 }, 2*time.Second, time.Millisecond)

	stats := r.Control().Stats()
	assert.Equal(t, 2, stats["threads"])
	assert.Contains(t, stats, "debug.fibers.wait_reasons")
	assert.Contains(t, stats, "debug.stacks")

	assert.Equal(t, 20, testutil.CollectAndCount(r.Collector()))

	require.NoError(t, r.Shutdown())
	assert.True(t, strings.Contains(logs.String(), "shutdown requested"), logs.String())
}

func TestRuntimeShutdownWaitsForFibers(t *testing.T) {
	r, err := facade.New(testConfig())
	require.NoError(t, err)
	require.NoError(t, r.Start())

	var finished atomic.Bool
	started := make(chan struct{})
	_, err = r.Spawn(0, func(f *fiber.Fiber) {
		close(started)
		for i := 0; i < 5; i++ {
			f.Yield()
		}
		finished.Store(true)
	})
	require.NoError(t, err)
	<-started
	require.NoError(t, r.Shutdown())
	assert.True(t, finished.Load())
	assert.Equal(t, int64(0), r.Fibers().Live())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := control.DefaultConfig()
	cfg.Threads = 0
	_, err := facade.New(cfg)
	assert.Error(t, err)
}

func TestReloadWarnsAboutRestartOnlyKeys(t *testing.T) {
	logs := &syncBuffer{}
	r, err := facade.New(testConfig(), facade.WithLogWriter(logs))
	require.NoError(t, err)
	require.NoError(t, r.Start())
	defer r.Shutdown()

	require.NoError(t, r.Control().SetConfig(map[string]any{control.KeyThreads: 4}))
	assert.Contains(t, logs.String(), "takes effect on restart")
	assert.Contains(t, logs.String(), `"key":"threads"`)
	assert.Len(t, r.Fibers().Threads(), 2)
	assert.Equal(t, 4, r.Control().GetConfig()[control.KeyThreads])
}

func TestStartAfterShutdownFails(t *testing.T) {
	r, err := facade.New(testConfig())
	require.NoError(t, err)
	require.NoError(t, r.Start())
	require.NoError(t, r.Shutdown())
	assert.ErrorIs(t, r.Start(), api.ErrCancelled)
}
