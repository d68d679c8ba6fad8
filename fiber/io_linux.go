//go:build linux
// +build linux

// File: fiber/io_linux.go
// Author: momentics <momentics@gmail.com>
//
// Blocking-style wrappers over non-blocking descriptors. A would-block
// result parks the fiber on a one-shot readiness wait and retries; callers
// never observe EAGAIN.

package fiber

import (
	"errors"
	"time"

	"github.com/momentics/hioload-fiber/api"
	"github.com/momentics/hioload-fiber/reactor"
	"golang.org/x/sys/unix"
)

func (f *Fiber) waitFd(op string, fd int, interest reactor.Events, deadline time.Time) (reactor.Events, error) {
	it := newItem(f, kindFd, op, deadline)
	it.fd = fd
	it.interest = interest
	t := f.thread
	it.attach = t.watch
	it.detach = t.unwatch
	err := f.suspend(op, it)
	return it.fired, err
}

// retry runs call until it stops reporting EAGAIN or EINTR, waiting for
// interest between attempts.
func (f *Fiber) retry(op string, fd int, interest reactor.Events, deadline time.Time, call func() error) error {
	for {
		err := call()
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EAGAIN):
			if _, werr := f.waitFd(op, fd, interest, deadline); werr != nil {
				return werr
			}
		default:
			return api.SystemError(op, errnoOf(err))
		}
	}
}

// Read reads into p, waiting for readability. A zero deadline waits
// forever. A zero count with a nil error is end of stream.
func (f *Fiber) Read(fd int, p []byte, deadline time.Time) (int, error) {
	var n int
	err := f.retry("read", fd, reactor.EventRead, deadline, func() (err error) {
		n, err = unix.Read(fd, p)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Write writes p, waiting for writability. It may return a short count
// together with nil when the kernel accepted only part of p.
func (f *Fiber) Write(fd int, p []byte, deadline time.Time) (int, error) {
	var n int
	err := f.retry("write", fd, reactor.EventWrite, deadline, func() (err error) {
		n, err = unix.Write(fd, p)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// WriteFull writes all of p, suspending as often as needed.
func (f *Fiber) WriteFull(fd int, p []byte, deadline time.Time) (int, error) {
	total := 0
	for total < len(p) {
		n, err := f.Write(fd, p[total:], deadline)
		total += n
		if err != nil {
			return total, err
		}
	}
	return total, nil
}

// Readv is the vectored Read.
func (f *Fiber) Readv(fd int, iovs [][]byte, deadline time.Time) (int, error) {
	var n int
	err := f.retry("readv", fd, reactor.EventRead, deadline, func() (err error) {
		n, err = unix.Readv(fd, iovs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Writev is the vectored Write.
func (f *Fiber) Writev(fd int, iovs [][]byte, deadline time.Time) (int, error) {
	var n int
	err := f.retry("writev", fd, reactor.EventWrite, deadline, func() (err error) {
		n, err = unix.Writev(fd, iovs)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Connect connects a non-blocking socket, waiting for the handshake.
func (f *Fiber) Connect(fd int, sa unix.Sockaddr, deadline time.Time) error {
	for {
		err := unix.Connect(fd, sa)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, unix.EINPROGRESS), errors.Is(err, unix.EALREADY):
			if _, werr := f.waitFd("connect", fd, reactor.EventWrite, deadline); werr != nil {
				return werr
			}
			soerr, gerr := unix.GetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_ERROR)
			if gerr != nil {
				return api.SystemError("connect", errnoOf(gerr))
			}
			if soerr != 0 {
				return api.SystemError("connect", unix.Errno(soerr))
			}
			return nil
		default:
			return api.SystemError("connect", errnoOf(err))
		}
	}
}

// Accept accepts a connection on a non-blocking listener. The returned
// descriptor is non-blocking and close-on-exec.
func (f *Fiber) Accept(fd int, deadline time.Time) (int, unix.Sockaddr, error) {
	var (
		nfd int
		sa  unix.Sockaddr
	)
	err := f.retry("accept", fd, reactor.EventRead, deadline, func() (err error) {
		nfd, sa, err = unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
		if errors.Is(err, unix.ECONNABORTED) {
			return unix.EINTR
		}
		return err
	})
	if err != nil {
		return -1, nil, err
	}
	return nfd, sa, nil
}

// Sendfile copies up to count bytes from in to the out socket, advancing
// offset when it is non-nil.
func (f *Fiber) Sendfile(out, in int, offset *int64, count int, deadline time.Time) (int, error) {
	var n int
	err := f.retry("sendfile", out, reactor.EventWrite, deadline, func() (err error) {
		n, err = unix.Sendfile(out, in, offset, count)
		return err
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Poll waits until fd reports any of interest, the deadline passes
// (Timeout) or registration fails, and returns the readiness that fired.
func (f *Fiber) Poll(fd int, interest reactor.Events, deadline time.Time) (reactor.Events, error) {
	return f.waitFd("poll", fd, interest, deadline)
}
