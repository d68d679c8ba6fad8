// Package control
// Author: momentics <momentics@gmail.com>
//
// Configuration, logging, metrics and debug introspection for the fiber
// runtime.
//
// Provides concurrent-safe state handling primitives including:
//   - Typed runtime configuration with key/value overrides and reload hooks
//   - Structured JSON logging through logiface
//   - Per-thread scheduler metrics, exported to Prometheus
//   - Debug probes, including fiber wait reasons
package control
