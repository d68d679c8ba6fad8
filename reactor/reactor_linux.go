//go:build linux
// +build linux

// File: reactor/reactor_linux.go
// Author: momentics <momentics@gmail.com>
//
// Linux epoll(7) multiplexer with an eventfd(2) wakeup channel.

package reactor

import (
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// linuxPoller is an epoll-based readiness multiplexer.
type linuxPoller struct {
	epfd    int
	wakefd  int
	raw     []unix.EpollEvent
	pending atomic.Bool
	closed  atomic.Bool
}

// NewPoller constructs an epoll instance sized for maxEvents per wait.
func NewPoller(maxEvents int) (Poller, error) {
	if maxEvents <= 0 {
		maxEvents = 128
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, err
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		_ = unix.Close(epfd)
		return nil, err
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		_ = unix.Close(wakefd)
		_ = unix.Close(epfd)
		return nil, err
	}
	return &linuxPoller{
		epfd:   epfd,
		wakefd: wakefd,
		raw:    make([]unix.EpollEvent, maxEvents),
	}, nil
}

func (p *linuxPoller) ctl(op, fd int, interest Events) error {
	if p.closed.Load() {
		return ErrClosed
	}
	ev := unix.EpollEvent{
		Events: toEpoll(interest) | unix.EPOLLET | unix.EPOLLONESHOT,
		Fd:     int32(fd),
	}
	return unix.EpollCtl(p.epfd, op, fd, &ev)
}

func (p *linuxPoller) Add(fd int, interest Events) error {
	return p.ctl(unix.EPOLL_CTL_ADD, fd, interest)
}

func (p *linuxPoller) Modify(fd int, interest Events) error {
	return p.ctl(unix.EPOLL_CTL_MOD, fd, interest)
}

func (p *linuxPoller) Delete(fd int) error {
	if p.closed.Load() {
		return ErrClosed
	}
	return unix.EpollCtl(p.epfd, unix.EPOLL_CTL_DEL, fd, nil)
}

func (p *linuxPoller) Wait(events []Event, timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, ErrClosed
	}
	if timeoutMs < 0 {
		timeoutMs = -1
	}
	raw := p.raw
	if len(events) < len(raw) {
		raw = raw[:len(events)]
	}
	n, err := unix.EpollWait(p.epfd, raw, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	out := 0
	for i := 0; i < n; i++ {
		fd := int(raw[i].Fd)
		if fd == p.wakefd {
			p.drain()
			continue
		}
		events[out] = Event{Fd: fd, Events: fromEpoll(raw[i].Events)}
		out++
	}
	return out, nil
}

// drain clears the pending flag before reading, so a Wake racing with the
// drain always produces a fresh notification.
func (p *linuxPoller) drain() {
	p.pending.Store(false)
	var buf [8]byte
	for {
		if _, err := unix.Read(p.wakefd, buf[:]); err != nil {
			return
		}
	}
}

func (p *linuxPoller) Wake() error {
	if p.closed.Load() {
		return ErrClosed
	}
	if !p.pending.CompareAndSwap(false, true) {
		return nil
	}
	buf := [8]byte{1}
	for {
		_, err := unix.Write(p.wakefd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			return nil
		case unix.EINTR:
			continue
		default:
			p.pending.Store(false)
			return err
		}
	}
}

func (p *linuxPoller) Close() error {
	if !p.closed.CompareAndSwap(false, true) {
		return nil
	}
	err1 := unix.Close(p.wakefd)
	err2 := unix.Close(p.epfd)
	if err1 != nil {
		return err1
	}
	return err2
}

func toEpoll(interest Events) uint32 {
	var ev uint32
	if interest&EventRead != 0 {
		ev |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&EventWrite != 0 {
		ev |= unix.EPOLLOUT
	}
	return ev
}

func fromEpoll(ev uint32) Events {
	var out Events
	if ev&unix.EPOLLIN != 0 {
		out |= EventRead
	}
	if ev&unix.EPOLLOUT != 0 {
		out |= EventWrite
	}
	if ev&unix.EPOLLERR != 0 {
		out |= EventError
	}
	if ev&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		out |= EventHangup
	}
	return out
}
