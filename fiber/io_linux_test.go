//go:build linux
// +build linux

package fiber

import (
	"os"
	"testing"
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/reactor"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func pipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	require.NoError(t, unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC))
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func socketpair(t *testing.T) (a, b int) {
	t.Helper()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	t.Cleanup(func() {
		unix.Close(fds[0])
		unix.Close(fds[1])
	})
	return fds[0], fds[1]
}

func TestReadTimeoutReregistersCleanly(t *testing.T) {
	rt := newTestRuntime(t, 1, 16)
	r, w := pipe(t)
	done := spawn(t, rt.Thread(0), func(f *Fiber) {
		buf := make([]byte, 16)
		for i := 0; i < 2; i++ {
			start := time.Now()
			n, err := f.Read(r, buf, start.Add(10*time.Millisecond))
			elapsed := time.Since(start)
			assert.ErrorIs(t, err, api.ErrTimeout)
			assert.Zero(t, n)
			assert.GreaterOrEqual(t, elapsed, 10*time.Millisecond)
			assert.Less(t, elapsed, time.Second)
			assert.Empty(t, f.Thread().fds, "registration left behind")
		}

		_, err := f.Go(func(g *Fiber) {
			assert.NoError(t, g.Sleep(5*time.Millisecond))
			_, err := g.Write(w, []byte("ready"), zeroTime)
			assert.NoError(t, err)
		})
		assert.NoError(t, err)
		n, err := f.Read(r, buf, time.Now().Add(time.Second))
		assert.NoError(t, err)
		assert.Equal(t, "ready", string(buf[:n]))
		assert.Empty(t, f.Thread().fds)
	})
	await(t, done)
}

func TestReadWakesAcrossThreads(t *testing.T) {
	rt := newTestRuntime(t, 2, 16)
	r, w := pipe(t)
	reader := spawn(t, rt.Thread(0), func(f *Fiber) {
		buf := make([]byte, 8)
		n, err := f.Read(r, buf, zeroTime)
		assert.NoError(t, err)
		assert.Equal(t, "x", string(buf[:n]))
	})
	assert.Eventually(t, func() bool {
		for _, reason := range rt.WaitReasons() {
			if reason == "read" {
				return true
			}
		}
		return false
	}, time.Second, time.Millisecond)
	writer := spawn(t, rt.Thread(1), func(f *Fiber) {
		_, err := f.Write(w, []byte("x"), zeroTime)
		assert.NoError(t, err)
	})
	await(t, reader, writer)
}

func TestReadEndOfStream(t *testing.T) {
	rt := newTestRuntime(t, 1, 16)
	a, b := socketpair(t)
	done := spawn(t, rt.Thread(0), func(f *Fiber) {
		_, err := f.Go(func(g *Fiber) {
			assert.NoError(t, g.Sleep(2*time.Millisecond))
			assert.NoError(t, unix.Shutdown(b, unix.SHUT_WR))
		})
		assert.NoError(t, err)
		n, err := f.Read(a, make([]byte, 4), time.Now().Add(time.Second))
		assert.NoError(t, err)
		assert.Zero(t, n)
	})
	await(t, done)
}

func TestSystemErrorCarriesErrno(t *testing.T) {
	rt := newTestRuntime(t, 1, 16)
	done := spawn(t, rt.Thread(0), func(f *Fiber) {
		_, err := f.Read(-1, make([]byte, 1), zeroTime)
		assert.Equal(t, api.ErrCodeSystem, api.CodeOf(err))
		assert.ErrorIs(t, err, unix.EBADF)
	})
	await(t, done)
}

func TestVectoredIO(t *testing.T) {
	rt := newTestRuntime(t, 1, 16)
	a, b := socketpair(t)
	done := spawn(t, rt.Thread(0), func(f *Fiber) {
		n, err := f.Writev(a, [][]byte{[]byte("hello "), []byte("fiber")}, zeroTime)
		assert.NoError(t, err)
		assert.Equal(t, 11, n)

		head, tail := make([]byte, 6), make([]byte, 5)
		n, err = f.Readv(b, [][]byte{head, tail}, time.Now().Add(time.Second))
		assert.NoError(t, err)
		assert.Equal(t, 11, n)
		assert.Equal(t, "hello ", string(head))
		assert.Equal(t, "fiber", string(tail))
	})
	await(t, done)
}

func TestWriteFullWaitsForWritability(t *testing.T) {
	rt := newTestRuntime(t, 1, 16)
	a, b := socketpair(t)
	require.NoError(t, unix.SetsockoptInt(a, unix.SOL_SOCKET, unix.SO_SNDBUF, 4096))
	payload := make([]byte, 1<<20)
	for i := range payload {
		payload[i] = byte(i)
	}
	received := make([]byte, 0, len(payload))
	done := spawn(t, rt.Thread(0), func(f *Fiber) {
		_, err := f.Go(func(g *Fiber) {
			buf := g.Stack()[:8192]
			for len(received) < len(payload) {
				n, err := g.Read(b, buf, time.Now().Add(time.Second))
				if !assert.NoError(t, err) {
					return
				}
				received = append(received, buf[:n]...)
			}
		})
		assert.NoError(t, err)
		n, err := f.WriteFull(a, payload, time.Now().Add(5*time.Second))
		assert.NoError(t, err)
		assert.Equal(t, len(payload), n)
		for len(received) < len(payload) {
			f.Yield()
		}
	})
	await(t, done)
	assert.Equal(t, payload, received)
}

func TestAcceptAndConnect(t *testing.T) {
	rt := newTestRuntime(t, 2, 16)
	lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(lfd)
	require.NoError(t, unix.Bind(lfd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, unix.Listen(lfd, 16))
	sa, err := unix.Getsockname(lfd)
	require.NoError(t, err)

	server := spawn(t, rt.Thread(0), func(f *Fiber) {
		cfd, peer, err := f.Accept(lfd, time.Now().Add(2*time.Second))
		if !assert.NoError(t, err) {
			return
		}
		defer unix.Close(cfd)
		assert.NotNil(t, peer)
		flags, err := unix.FcntlInt(uintptr(cfd), unix.F_GETFL, 0)
		assert.NoError(t, err)
		assert.NotZero(t, flags&unix.O_NONBLOCK)

		buf := make([]byte, 4)
		n, err := f.Read(cfd, buf, time.Now().Add(time.Second))
		assert.NoError(t, err)
		_, err = f.Write(cfd, buf[:n], zeroTime)
		assert.NoError(t, err)
	})
	client := spawn(t, rt.Thread(1), func(f *Fiber) {
		fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
		if !assert.NoError(t, err) {
			return
		}
		defer unix.Close(fd)
		assert.NoError(t, f.Connect(fd, sa, time.Now().Add(time.Second)))
		_, err = f.Write(fd, []byte("ping"), zeroTime)
		assert.NoError(t, err)
		buf := make([]byte, 4)
		n, err := f.Read(fd, buf, time.Now().Add(time.Second))
		assert.NoError(t, err)
		assert.Equal(t, "ping", string(buf[:n]))
	})
	await(t, server, client)
}

func TestAcceptTimeout(t *testing.T) {
	rt := newTestRuntime(t, 1, 16)
	lfd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, 0)
	require.NoError(t, err)
	defer unix.Close(lfd)
	require.NoError(t, unix.Bind(lfd, &unix.SockaddrInet4{Addr: [4]byte{127, 0, 0, 1}}))
	require.NoError(t, unix.Listen(lfd, 16))
	done := spawn(t, rt.Thread(0), func(f *Fiber) {
		_, _, err := f.Accept(lfd, time.Now().Add(5*time.Millisecond))
		assert.ErrorIs(t, err, api.ErrTimeout)
	})
	await(t, done)
}

func TestPollReportsReadiness(t *testing.T) {
	rt := newTestRuntime(t, 1, 16)
	a, b := socketpair(t)
	done := spawn(t, rt.Thread(0), func(f *Fiber) {
		_, err := f.Poll(a, reactor.EventRead, time.Now().Add(5*time.Millisecond))
		assert.ErrorIs(t, err, api.ErrTimeout)

		ev, err := f.Poll(a, reactor.EventWrite, time.Now().Add(time.Second))
		assert.NoError(t, err)
		assert.NotZero(t, ev&reactor.EventWrite)

		_, err = unix.Write(b, []byte("!"))
		assert.NoError(t, err)
		ev, err = f.Poll(a, reactor.EventRead, time.Now().Add(time.Second))
		assert.NoError(t, err)
		assert.NotZero(t, ev&reactor.EventRead)
	})
	await(t, done)
}

func TestSendfile(t *testing.T) {
	rt := newTestRuntime(t, 1, 16)
	a, b := socketpair(t)
	file, err := os.CreateTemp(t.TempDir(), "sendfile")
	require.NoError(t, err)
	defer file.Close()
	_, err = file.WriteString("zero copy payload")
	require.NoError(t, err)
	in := int(file.Fd())

	done := spawn(t, rt.Thread(0), func(f *Fiber) {
		var off int64
		n, err := f.Sendfile(a, in, &off, 17, zeroTime)
		assert.NoError(t, err)
		assert.Equal(t, 17, n)
		assert.Equal(t, int64(17), off)

		buf := make([]byte, 32)
		n, err = f.Read(b, buf, time.Now().Add(time.Second))
		assert.NoError(t, err)
		assert.Equal(t, "zero copy payload", string(buf[:n]))
	})
	await(t, done)
}

func TestConcurrentReadersOnOneFdRefused(t *testing.T) {
	rt := newTestRuntime(t, 1, 16)
	r, w := pipe(t)
	done := spawn(t, rt.Thread(0), func(f *Fiber) {
		var (
			first    error
			finished bool
		)
		_, err := f.Go(func(g *Fiber) {
			_, first = g.Read(r, make([]byte, 1), time.Now().Add(time.Second))
			finished = true
		})
		assert.NoError(t, err)
		_, err = f.Read(r, make([]byte, 1), zeroTime)
		assert.ErrorIs(t, err, api.ErrIllegalCall)

		_, err = unix.Write(w, []byte("a"))
		assert.NoError(t, err)
		for !finished {
			f.Yield()
		}
		assert.NoError(t, first)
		assert.Empty(t, f.Thread().fds)
	})
	await(t, done)
}
