package sim

import (
	"sync"

	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

// setupOffset is the fixed packet memory location of the SETUP buffer.
const setupOffset = 0

// endpoint holds simulated register state for one endpoint direction.
type endpoint struct {
	cfg     hal.EndpointConfig
	enabled bool
	stalled bool
	toggle  uint8

	// armed means ready to accept an OUT packet, or holding a staged IN
	// packet of count bytes. For OUT endpoints count records the byte
	// count of the most recent reception.
	armed bool
	count uint16
}

// Controller is a simulated USB device controller. It implements
// hal.Hardware for the device side and exposes host-role helpers for
// driving the bus in tests.
//
// Two locks are involved: busMu serializes host transactions and handler
// invocation, while mu guards register state. The interrupt handler runs
// with mu released, so device-side methods may be called from within it.
type Controller struct {
	busMu sync.Mutex
	mu    sync.Mutex

	mem     hal.PacketMemory
	handler func()

	initDone bool
	running  bool

	address   uint8
	frame     uint16
	intStatus uint32
	intEnable uint32
	epStatus  [hal.MaxEndpoints]uint32

	out [hal.MaxEndpoints]endpoint
	in  [hal.MaxEndpoints]endpoint

	wakeup bool
}

// New creates a simulated controller.
func New() *Controller {
	return &Controller{}
}

// Init prepares the controller for use. It must be called before Start.
func (c *Controller) Init() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.initDone {
		return pkg.ErrAlreadyRunning
	}

	c.mem.Clear()
	c.address = 0
	c.frame = 0
	c.intStatus = 0
	c.intEnable = 0
	for i := range c.epStatus {
		c.epStatus[i] = 0
		c.out[i] = endpoint{}
		c.in[i] = endpoint{}
	}
	c.initDone = true

	pkg.LogDebug(pkg.ComponentHAL, "sim controller initialized")
	return nil
}

// Start makes the device visible on the simulated bus and enables
// interrupt delivery.
func (c *Controller) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.initDone {
		return pkg.ErrNotConfigured
	}
	if c.running {
		return pkg.ErrAlreadyRunning
	}
	c.running = true

	pkg.LogInfo(pkg.ComponentHAL, "sim controller started")
	return nil
}

// Stop detaches the device from the simulated bus. Pending interrupt flags
// are preserved but no longer delivered.
func (c *Controller) Stop() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return pkg.ErrNotRunning
	}
	c.running = false

	pkg.LogInfo(pkg.ComponentHAL, "sim controller stopped")
	return nil
}

// SetAddress latches the device address used for packet filtering.
func (c *Controller) SetAddress(addr uint8) {
	c.mu.Lock()
	c.address = addr & 0x7F
	c.mu.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "device address latched", "address", addr)
}

// Address returns the currently latched device address. Host-side tests use
// it to verify enumeration progress.
func (c *Controller) Address() uint8 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.address
}

// SignalResume records a remote wakeup request. The simulated host observes
// it through WakeupSignaled.
func (c *Controller) SignalResume() {
	c.mu.Lock()
	c.wakeup = true
	c.mu.Unlock()
	pkg.LogDebug(pkg.ComponentHAL, "remote wakeup signaled")
}

// WakeupSignaled reports whether the device has driven resume signaling
// since the last call, clearing the indication.
func (c *Controller) WakeupSignaled() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.wakeup
	c.wakeup = false
	return w
}

// ConfigureEndpoint enables one endpoint direction with the given buffer
// assignment. The endpoint starts unstalled, unarmed, and at DATA0.
func (c *Controller) ConfigureEndpoint(cfg hal.EndpointConfig) error {
	if cfg.Number >= hal.MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	if cfg.MaxPacketSize == 0 || cfg.MaxPacketSize > hal.MaxPacketSize {
		return pkg.ErrInvalidParameter
	}
	if cfg.BufferLength < cfg.MaxPacketSize ||
		int(cfg.BufferOffset)+int(cfg.BufferLength) > hal.MemorySize {
		return pkg.ErrInvalidParameter
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	ep := c.ep(cfg.Number, cfg.Direction)
	*ep = endpoint{cfg: cfg, enabled: true}

	pkg.LogDebug(pkg.ComponentHAL, "endpoint configured",
		"number", cfg.Number,
		"direction", cfg.Direction,
		"maxPacketSize", cfg.MaxPacketSize,
		"offset", cfg.BufferOffset)
	return nil
}

// DisableEndpoint disables one endpoint direction and discards its state.
func (c *Controller) DisableEndpoint(num uint8, dir hal.Direction) {
	if num >= hal.MaxEndpoints {
		return
	}
	c.mu.Lock()
	*c.ep(num, dir) = endpoint{}
	c.mu.Unlock()
}

// SetStall sets or clears the halt condition on one endpoint direction.
func (c *Controller) SetStall(num uint8, dir hal.Direction, stalled bool) {
	if num >= hal.MaxEndpoints {
		return
	}
	c.mu.Lock()
	c.ep(num, dir).stalled = stalled
	c.mu.Unlock()
}

// Stalled reports the halt condition of one endpoint direction.
func (c *Controller) Stalled(num uint8, dir hal.Direction) bool {
	if num >= hal.MaxEndpoints {
		return false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ep(num, dir).stalled
}

// ResetDataToggle forces the endpoint direction back to DATA0.
func (c *Controller) ResetDataToggle(num uint8, dir hal.Direction) {
	if num >= hal.MaxEndpoints {
		return
	}
	c.mu.Lock()
	c.ep(num, dir).toggle = 0
	c.mu.Unlock()
}

// ArmReceive makes the OUT endpoint ready to accept the next packet from
// the host. Until armed, OUT tokens are NAKed.
func (c *Controller) ArmReceive(num uint8) {
	if num >= hal.MaxEndpoints {
		return
	}
	c.mu.Lock()
	c.out[num].armed = true
	c.mu.Unlock()
}

// Transmit stages count bytes from the IN endpoint's buffer for the next
// IN token. Until staged, IN tokens are NAKed.
func (c *Controller) Transmit(num uint8, count uint16) {
	if num >= hal.MaxEndpoints {
		return
	}
	c.mu.Lock()
	c.in[num].armed = true
	c.in[num].count = count
	c.mu.Unlock()
}

// ReceiveCount returns the byte count of the most recent packet received
// on the OUT endpoint.
func (c *Controller) ReceiveCount(num uint8) uint16 {
	if num >= hal.MaxEndpoints {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.out[num].count
}

// InterruptStatus returns the device-level interrupt flags. Endpoint bits
// reflect whether the corresponding endpoint has any unacknowledged flags.
func (c *Controller) InterruptStatus() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingLocked()
}

// AckInterrupt clears the device-level flags set in mask. Endpoint bits in
// the mask are ignored; endpoint flags clear through AckEndpointStatus.
func (c *Controller) AckInterrupt(mask uint32) {
	c.mu.Lock()
	c.intStatus &^= mask &^ hal.IntEndpointMask
	c.mu.Unlock()
}

// SetInterruptEnable sets the interrupt enable mask. Disabled sources still
// latch their flags but do not invoke the handler.
func (c *Controller) SetInterruptEnable(mask uint32) {
	c.mu.Lock()
	c.intEnable = mask
	c.mu.Unlock()
}

// InterruptEnable returns the current interrupt enable mask.
func (c *Controller) InterruptEnable() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.intEnable
}

// EndpointStatus returns the unacknowledged flags for one endpoint.
func (c *Controller) EndpointStatus(num uint8) uint32 {
	if num >= hal.MaxEndpoints {
		return 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epStatus[num]
}

// AckEndpointStatus clears the endpoint flags set in mask.
func (c *Controller) AckEndpointStatus(num uint8, mask uint32) {
	if num >= hal.MaxEndpoints {
		return
	}
	c.mu.Lock()
	c.epStatus[num] &^= mask
	c.mu.Unlock()
}

// SetInterruptHandler installs the function invoked when an enabled
// interrupt flag is raised.
func (c *Controller) SetInterruptHandler(fn func()) {
	c.mu.Lock()
	c.handler = fn
	c.mu.Unlock()
}

// Memory returns the shared endpoint packet memory.
func (c *Controller) Memory() *hal.PacketMemory {
	return &c.mem
}

// FrameNumber returns the current 11-bit frame number.
func (c *Controller) FrameNumber() uint16 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.frame
}

// ep returns the endpoint state for one number and direction.
// Callers must hold mu.
func (c *Controller) ep(num uint8, dir hal.Direction) *endpoint {
	if dir == hal.DirIn {
		return &c.in[num]
	}
	return &c.out[num]
}

// pendingLocked composes the device-level status word from latched device
// flags and per-endpoint flag presence. Callers must hold mu.
func (c *Controller) pendingLocked() uint32 {
	status := c.intStatus
	for i := uint8(0); i < hal.MaxEndpoints; i++ {
		if c.epStatus[i] != 0 {
			status |= hal.IntEndpoint(i)
		}
	}
	return status
}

// raiseDevice latches a device-level flag. Callers must hold mu.
func (c *Controller) raiseDevice(flag uint32) {
	c.intStatus |= flag
}

// raiseEndpoint latches endpoint flags. Callers must hold mu.
func (c *Controller) raiseEndpoint(num uint8, flags uint32) {
	c.epStatus[num] |= flags
}

// dispatch invokes the interrupt handler if any enabled flag is pending.
// It must be called with mu released and busMu held.
func (c *Controller) dispatch() {
	c.mu.Lock()
	pending := c.pendingLocked() & c.intEnable
	fn := c.handler
	running := c.running
	c.mu.Unlock()

	if pending == 0 || fn == nil || !running {
		return
	}
	fn()
}

// Compile-time interface check
var _ hal.Hardware = (*Controller)(nil)
