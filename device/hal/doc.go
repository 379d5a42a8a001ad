// Package hal defines the hardware register surface of the USB
// device-controller peripheral driven by the usbdev device stack.
//
// The peripheral is a USB 2.0 full-speed device controller with one
// bidirectional control endpoint, seven configurable data endpoints, and a
// shared 1024-byte packet memory from which all endpoint buffers are carved.
// The [Hardware] interface exposes the controller's register-level
// operations: global interrupt status/enable with write-1-to-clear
// acknowledge, the per-endpoint register quartet (control/status,
// interrupt-enable, interrupt-status, transfer-count plus configuration),
// the device-address latch, and the D+ pull-up control.
//
// # Interrupt Model
//
// The controller raises a single interrupt line. Implementations invoke the
// handler registered with [Hardware.SetInterruptHandler] whenever an enabled
// event bit becomes pending; the handler must read [Hardware.InterruptStatus]
// and [Hardware.EndpointStatus], act on the pending bits, and acknowledge
// each one with [Hardware.AckInterrupt] / [Hardware.AckEndpointStatus]
// before returning. Implementations must never invoke the handler
// re-entrantly: at most one interrupt context is active at a time.
//
// # Packet Memory
//
// Endpoint data lives in [PacketMemory], which is only word-addressable.
// All byte-granular access goes through its ReadBytes/WriteBytes methods,
// which perform aligned 32-bit reads and read-modify-write merges for
// unaligned or partial words.
//
// A simulated controller suitable for tests is available in
// [github.com/ardnew/usbdev/device/hal/sim].
package hal
