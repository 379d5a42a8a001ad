// Package sim provides an in-memory simulation of the USB device controller
// for testing and development without hardware.
//
// The Controller implements hal.Hardware with the same register surface and
// interrupt discipline as the real peripheral: flags are raised by bus
// events, the interrupt handler is invoked synchronously, and flags remain
// set until acknowledged with a write-1-to-clear mask.
//
// In addition to the device-facing interface, the Controller exposes
// host-role helpers (Reset, SendSetup, SendOut, ReceiveIn, ControlIn,
// ControlOut, Suspend, Resume, SOF) that drive the simulated bus from the
// host side. Bus transactions are serialized: the interrupt handler never
// runs concurrently with itself or with another transaction.
package sim
