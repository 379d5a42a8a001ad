// Package pkg provides shared utilities for the usbdev device-controller
// driver.
//
// This package contains common functionality used across the driver core,
// the hardware abstraction layer, and class drivers, including:
//
//   - Structured logging via Go's standard [log/slog] package
//   - Sentinel error types for USB protocol and driver errors
//   - Component identifiers for log filtering
//
// The package is designed to have zero external dependencies, relying
// only on the Go standard library.
//
// # Logging
//
// The logging subsystem wraps [log/slog] with USB-specific context:
//
//	pkg.SetLogLevel(slog.LevelDebug)
//	pkg.LogInfo(pkg.ComponentControl, "device configured", "config", 1)
//
// # Errors
//
// Common driver errors are defined as sentinel values:
//
//	if errors.Is(err, pkg.ErrNoMemory) {
//	    // Endpoint configuration exceeds packet-memory capacity
//	}
package pkg
