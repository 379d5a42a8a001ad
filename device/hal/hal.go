package hal

// MaxEndpoints is the number of physical endpoints (EP0 + 7 configurable).
const MaxEndpoints = 8

// MaxPacketSize is the largest packet any full-speed endpoint may carry.
const MaxPacketSize = 64

// Direction identifies one side of an endpoint.
type Direction uint8

// Endpoint directions.
const (
	DirOut Direction = iota // Host to device
	DirIn                   // Device to host
)

// String returns a human-readable direction name.
func (d Direction) String() string {
	if d == DirIn {
		return "IN"
	}
	return "OUT"
}

// Endpoint transfer types (USB 2.0 Spec Table 9-13, also the encoding used
// in the endpoint configuration register).
const (
	TypeControl     = 0x00
	TypeIsochronous = 0x01
	TypeBulk        = 0x02
	TypeInterrupt   = 0x03
)

// Global interrupt status/enable bits (write 1 to the status register to
// clear). EP0..EP7 occupy one bit each starting at bit 8.
const (
	IntSOF     uint32 = 1 << 0 // Start of frame received
	IntReset   uint32 = 1 << 1 // Bus reset detected
	IntResume  uint32 = 1 << 2 // Resume signaling detected
	IntSuspend uint32 = 1 << 3 // Suspend condition detected

	intEndpointShift = 8
)

// IntEndpoint returns the global interrupt bit for endpoint num.
func IntEndpoint(num uint8) uint32 {
	return 1 << (intEndpointShift + uint32(num&0x07))
}

// IntEndpointMask covers the global interrupt bits of all eight endpoints.
const IntEndpointMask uint32 = 0xFF << intEndpointShift

// Per-endpoint interrupt status bits (write 1 to clear).
const (
	EPIntSetup       uint32 = 1 << 0 // SETUP packet received (EP0 only)
	EPIntOutReceived uint32 = 1 << 1 // OUT data received
	EPIntOutOverrun  uint32 = 1 << 2 // OUT data exceeded buffer length
	EPIntInToken     uint32 = 1 << 3 // IN token seen while not armed
	EPIntInComplete  uint32 = 1 << 4 // IN data transmitted and acknowledged
	EPIntNAKSent     uint32 = 1 << 5 // NAK handshake sent
	EPIntStallSent   uint32 = 1 << 6 // STALL handshake sent
	EPIntError       uint32 = 1 << 7 // Transaction error
	EPIntZeroLength  uint32 = 1 << 8 // Zero-length OUT packet received
)

// EndpointConfig mirrors the fields of an endpoint configuration register:
// enable, type, direction, address, buffer length and buffer offset.
type EndpointConfig struct {
	Number        uint8     // Endpoint number (0-7)
	Direction     Direction // Ignored for EP0 (bidirectional)
	Type          uint8     // TypeControl, TypeBulk, TypeInterrupt, TypeIsochronous
	MaxPacketSize uint16    // Maximum packet size (<= MaxPacketSize)
	BufferOffset  uint16    // Offset of the buffer in packet memory
	BufferLength  uint16    // Length of the buffer (4-byte aligned)
}

// Hardware is the register surface of the USB device controller.
//
// All methods are non-blocking register operations. Data movement is
// asynchronous: Transmit and ArmReceive only prime the controller; the
// outcome is reported through the interrupt handler.
type Hardware interface {
	// Init resets the controller to its power-on state: all endpoints
	// disabled, address 0, pull-up released, all interrupt flags cleared.
	Init() error

	// Start enables the D+ pull-up, attaching the device to the bus.
	Start() error

	// Stop releases the D+ pull-up, detaching the device from the bus.
	Stop() error

	// SetAddress latches the device address into hardware. Callers must
	// respect the protocol requirement that the address is latched only
	// after the SET_ADDRESS status stage completes.
	SetAddress(addr uint8)

	// SignalResume drives resume signaling on the bus (remote wakeup).
	SignalResume()

	// ConfigureEndpoint writes an endpoint's configuration register and
	// enables the endpoint.
	ConfigureEndpoint(cfg EndpointConfig) error

	// DisableEndpoint clears the endpoint's enable flag. Any primed
	// transmission or reception is abandoned.
	DisableEndpoint(num uint8, dir Direction)

	// SetStall sets or clears the STALL handshake condition for one
	// direction of an endpoint.
	SetStall(num uint8, dir Direction, stalled bool)

	// Stalled reports whether the given direction of an endpoint is
	// currently stalled.
	Stalled(num uint8, dir Direction) bool

	// ResetDataToggle forces the data toggle of the given direction back
	// to DATA0.
	ResetDataToggle(num uint8, dir Direction)

	// ArmReceive readies the OUT side of an endpoint to accept one packet
	// into its buffer. Until armed, the controller NAKs OUT tokens.
	ArmReceive(num uint8)

	// Transmit latches count into the endpoint's transfer-count register
	// and readies the IN side to answer the next IN token from the buffer.
	// A count of zero transmits a zero-length packet.
	Transmit(num uint8, count uint16)

	// ReceiveCount returns the byte count of the most recently received
	// OUT packet, read from the transfer-count register.
	ReceiveCount(num uint8) uint16

	// InterruptStatus returns the pending global interrupt flags.
	InterruptStatus() uint32

	// AckInterrupt clears the given global interrupt flags (write 1 to
	// clear). Endpoint bits are cleared only once the corresponding
	// per-endpoint status is fully acknowledged.
	AckInterrupt(mask uint32)

	// SetInterruptEnable replaces the global interrupt enable mask.
	SetInterruptEnable(mask uint32)

	// InterruptEnable returns the current global interrupt enable mask.
	InterruptEnable() uint32

	// EndpointStatus returns the pending per-endpoint interrupt flags.
	EndpointStatus(num uint8) uint32

	// AckEndpointStatus clears the given per-endpoint interrupt flags
	// (write 1 to clear).
	AckEndpointStatus(num uint8, mask uint32)

	// SetInterruptHandler registers the function invoked on every
	// controller interrupt. The controller never invokes the handler
	// re-entrantly.
	SetInterruptHandler(fn func())

	// Memory returns the shared packet memory.
	Memory() *PacketMemory

	// FrameNumber returns the frame number of the most recent
	// start-of-frame token.
	FrameNumber() uint16
}
