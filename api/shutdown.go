// File: api/shutdown.go
// Package api defines unified graceful shutdown contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

// GracefulShutdown is implemented by components with a cooperative stop.
type GracefulShutdown interface {
	// Shutdown requests a stop, waits for owned work to finish and releases
	// resources. Returns an error on failure.
	Shutdown() error
}
