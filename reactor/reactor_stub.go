//go:build !linux
// +build !linux

// File: reactor/reactor_stub.go
// Author: momentics <momentics@gmail.com>
//
// Stub implementation for unsupported platforms.

package reactor

// NewPoller returns ErrUnsupported on platforms without epoll.
func NewPoller(int) (Poller, error) {
	return nil, ErrUnsupported
}
