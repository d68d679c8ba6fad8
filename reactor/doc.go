// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor provides the readiness multiplexer used by scheduler
// threads: one-shot, edge-triggered descriptor interest plus a private
// wakeup channel that interrupts a blocked wait from any goroutine.
package reactor
