package device

import (
	"github.com/ardnew/usbdev/device/hal"
)

// ControlMaxPacketSize is the fixed maximum packet size of endpoint 0.
// Endpoint 0 owns a 64-byte split buffer after the SETUP slot, one half
// per direction, leaving the rest of packet memory for data endpoints.
const ControlMaxPacketSize = 32

// Fixed packet memory layout for endpoint 0, established on every bus
// reset: the SETUP slot at offset 0, then the transmit and receive halves.
const (
	setupOffset     = 0
	controlTxOffset = SetupRegionSize
	controlRxOffset = controlTxOffset + ControlMaxPacketSize

	// dataMemoryBase is the first offset available to data endpoints.
	dataMemoryBase = controlRxOffset + ControlMaxPacketSize
)

// transferState tracks progress of one multi-packet transfer.
type transferState struct {
	total       int  // Requested transfer length
	transferred int  // Bytes moved so far
	lastPacket  int  // Length of the packet currently in flight (IN)
	zlpPending  bool // Trailing zero-length packet still owed (IN)
}

// endpointEntry is the driver's runtime state for one endpoint direction.
type endpointEntry struct {
	cfg     hal.EndpointConfig
	enabled bool
	halted  bool

	// Transfer in progress. buf is the consumer's buffer: the receive
	// destination for OUT, the send source for IN. At most one transfer
	// may be active per endpoint direction.
	active bool
	buf    []byte
	xfer   transferState
}

// endpointTable indexes endpoint state by number and direction, matching
// the controller's fixed eight-endpoint register file.
type endpointTable struct {
	out [hal.MaxEndpoints]endpointEntry
	in  [hal.MaxEndpoints]endpointEntry
}

// get returns the entry for one endpoint direction.
func (t *endpointTable) get(num uint8, dir hal.Direction) *endpointEntry {
	if dir == hal.DirIn {
		return &t.in[num]
	}
	return &t.out[num]
}

// reset clears every entry. Called on bus reset before endpoint 0 is
// reconfigured.
func (t *endpointTable) reset() {
	for i := range t.out {
		t.out[i] = endpointEntry{}
		t.in[i] = endpointEntry{}
	}
}

// dirIndex maps a hal direction to a completion channel index.
func dirIndex(dir hal.Direction) int {
	if dir == hal.DirIn {
		return 1
	}
	return 0
}

// endpointTarget resolves a request's endpoint address to number and
// direction. The address 0x00 and 0x80 both name the control endpoint.
func endpointTarget(address uint8) (uint8, hal.Direction) {
	num := address & 0x0F
	if address&EndpointDirectionIn != 0 {
		return num, hal.DirIn
	}
	return num, hal.DirOut
}
