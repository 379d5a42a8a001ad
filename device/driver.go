package device

import (
	"sync"

	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

// Result is the completion record of one asynchronous transfer: the byte
// count moved and the error, if any.
type Result struct {
	N   int
	Err error
}

// Status classifies the result for logging and coarse-grained handling.
func (r Result) Status() pkg.TransferStatus {
	return pkg.StatusOf(r.Err)
}

// RequestHandler receives class and vendor control requests the standard
// handler does not consume. For host-to-device requests data carries the
// received payload; for device-to-host requests the returned slice is the
// response. Returning an error stalls the control pipe.
type RequestHandler func(setup *SetupPacket, data []byte) ([]byte, error)

// Driver is the USB device-controller driver. It owns the packet memory
// allocator, the endpoint table, the control pipe, and the bus state, and
// installs itself as the controller's interrupt handler.
//
// All protocol state is guarded by mu and mutated only while holding it.
// The interrupt handler and consumer-facing methods both take mu; the
// hardware never invokes the handler re-entrantly, so no further exclusion
// is needed.
type Driver struct {
	hw  hal.Hardware
	dev *Device

	mu      sync.Mutex
	running bool
	bus     busTracker
	alloc   *Allocator
	eps     endpointTable
	ctrl    controlPipe

	std            *StandardRequestHandler
	requestHandler RequestHandler

	// Completion channels, one per endpoint direction, capacity one.
	// At most one transfer is outstanding per endpoint direction, so a
	// non-blocking send always succeeds.
	compl [hal.MaxEndpoints][2]chan Result

	onReset      func()
	onSuspend    func()
	onResume     func()
	onConfigured func(value uint8)
	onSOF        func(frame uint16)

	// Callbacks queued while the lock is held, fired by ServiceInterrupt
	// after release so they may call back into the driver.
	deferred []func()
}

func (d *Driver) deferLocked(fn func()) {
	d.deferred = append(d.deferred, fn)
}

// New creates a driver for the given controller and device model.
func New(hw hal.Hardware, dev *Device) *Driver {
	d := &Driver{
		hw:    hw,
		dev:   dev,
		alloc: NewAllocator(),
	}
	d.std = NewStandardRequestHandler(d)
	for i := range d.compl {
		d.compl[i][0] = make(chan Result, 1)
		d.compl[i][1] = make(chan Result, 1)
	}
	d.ctrl.init()
	return d
}

// Device returns the device model served to the host.
func (d *Driver) Device() *Device {
	return d.dev
}

// Hardware returns the underlying controller.
func (d *Driver) Hardware() hal.Hardware {
	return d.hw
}

// Start initializes the controller, installs the interrupt handler, and
// attaches the device to the bus.
func (d *Driver) Start() error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return pkg.ErrAlreadyRunning
	}
	d.mu.Unlock()

	if err := d.hw.Init(); err != nil {
		return err
	}

	d.hw.SetInterruptHandler(d.ServiceInterrupt)
	d.hw.SetInterruptEnable(hal.IntReset | hal.IntSuspend | hal.IntResume |
		hal.IntSOF | hal.IntEndpointMask)

	d.mu.Lock()
	d.bus.state = StatePowered
	d.configureControlLocked()
	d.running = true
	d.mu.Unlock()

	if err := d.hw.Start(); err != nil {
		d.mu.Lock()
		d.running = false
		d.mu.Unlock()
		return err
	}

	pkg.LogInfo(pkg.ComponentDispatch, "driver started")
	return nil
}

// Stop detaches the device from the bus. Outstanding transfers are
// cancelled and their waiters woken.
func (d *Driver) Stop() error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return pkg.ErrNotRunning
	}
	d.running = false
	d.cancelAllTransfersLocked(pkg.ErrCancelled)
	d.mu.Unlock()

	if err := d.hw.Stop(); err != nil {
		return err
	}
	pkg.LogInfo(pkg.ComponentDispatch, "driver stopped")
	return nil
}

// BusState returns the current enumeration state.
func (d *Driver) BusState() BusState {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.bus.state
}

// SetRequestHandler registers the handler for class and vendor requests.
func (d *Driver) SetRequestHandler(h RequestHandler) {
	d.mu.Lock()
	d.requestHandler = h
	d.mu.Unlock()
}

// SetOnReset registers a callback invoked after a bus reset is handled.
func (d *Driver) SetOnReset(cb func()) {
	d.mu.Lock()
	d.onReset = cb
	d.mu.Unlock()
}

// SetOnSuspend registers a callback invoked when the bus suspends.
func (d *Driver) SetOnSuspend(cb func()) {
	d.mu.Lock()
	d.onSuspend = cb
	d.mu.Unlock()
}

// SetOnResume registers a callback invoked when the bus resumes.
func (d *Driver) SetOnResume(cb func()) {
	d.mu.Lock()
	d.onResume = cb
	d.mu.Unlock()
}

// SetOnConfigured registers a callback invoked after SET_CONFIGURATION is
// accepted, with the selected configuration value (0 on deconfigure).
func (d *Driver) SetOnConfigured(cb func(value uint8)) {
	d.mu.Lock()
	d.onConfigured = cb
	d.mu.Unlock()
}

// SetOnSOF registers a callback invoked on every start-of-frame with the
// current frame number.
func (d *Driver) SetOnSOF(cb func(frame uint16)) {
	d.mu.Lock()
	d.onSOF = cb
	d.mu.Unlock()
}

// ServiceInterrupt is the single hardware-facing entry point. It reads the
// latched event flags, acknowledges them, and routes endpoint 0 events to
// the control pipe and all other endpoint events to the transfer engine.
//
// It is installed via hal.Hardware.SetInterruptHandler and may also be
// called directly by integrations that dispatch interrupts themselves.
func (d *Driver) ServiceInterrupt() {
	status := d.hw.InterruptStatus() & d.hw.InterruptEnable()

	// Callbacks collected under the lock, invoked after release.
	var fire []func()

	d.mu.Lock()

	if status&hal.IntReset != 0 {
		d.hw.AckInterrupt(hal.IntReset)
		d.handleResetLocked()
		if cb := d.onReset; cb != nil {
			fire = append(fire, cb)
		}
	}
	if status&hal.IntSuspend != 0 {
		d.hw.AckInterrupt(hal.IntSuspend)
		d.bus.suspend()
		pkg.LogDebug(pkg.ComponentBus, "bus suspended")
		if cb := d.onSuspend; cb != nil {
			fire = append(fire, cb)
		}
	}
	if status&hal.IntResume != 0 {
		d.hw.AckInterrupt(hal.IntResume)
		d.bus.wake()
		pkg.LogDebug(pkg.ComponentBus, "bus resumed", "state", d.bus.state.String())
		if cb := d.onResume; cb != nil {
			fire = append(fire, cb)
		}
	}
	if status&hal.IntSOF != 0 {
		d.hw.AckInterrupt(hal.IntSOF)
		if cb := d.onSOF; cb != nil {
			frame := d.hw.FrameNumber()
			fire = append(fire, func() { cb(frame) })
		}
	}

	for num := uint8(0); num < hal.MaxEndpoints; num++ {
		if status&hal.IntEndpoint(num) == 0 {
			continue
		}
		flags := d.hw.EndpointStatus(num)
		d.hw.AckEndpointStatus(num, flags)
		if num == 0 {
			d.serviceControlLocked(flags)
		} else {
			d.serviceDataLocked(num, flags)
		}
	}

	fire = append(fire, d.deferred...)
	d.deferred = nil
	d.mu.Unlock()

	for _, cb := range fire {
		cb()
	}
}

// handleResetLocked processes a bus reset: all endpoint configuration is
// revoked except endpoint 0's fixed control layout, the allocator returns
// to its initial state, the device address clears, and pending transfers
// are cancelled.
func (d *Driver) handleResetLocked() {
	d.cancelAllTransfersLocked(pkg.ErrReset)

	for num := uint8(1); num < hal.MaxEndpoints; num++ {
		d.hw.DisableEndpoint(num, hal.DirOut)
		d.hw.DisableEndpoint(num, hal.DirIn)
	}
	d.eps.reset()

	d.alloc.Reset()
	d.configureControlLocked()

	d.hw.SetAddress(0)
	d.dev.unconfigure()
	d.ctrl.reset()
	d.bus.reset()

	pkg.LogInfo(pkg.ComponentBus, "bus reset handled")
}

// configureControlLocked establishes endpoint 0's fixed packet memory
// layout: the transmit and receive halves are the allocator's first two
// regions after the reserved SETUP slot.
func (d *Driver) configureControlLocked() {
	tx, err := d.alloc.Allocate(ControlMaxPacketSize)
	if err == nil {
		_, err = d.alloc.Allocate(ControlMaxPacketSize)
	}
	if err != nil || tx.Offset != controlTxOffset {
		// Only possible if the allocator was not reset first.
		pkg.LogError(pkg.ComponentControl, "control endpoint layout unavailable")
		return
	}

	for _, cfg := range []hal.EndpointConfig{
		{Number: 0, Direction: hal.DirIn, Type: hal.TypeControl,
			MaxPacketSize: ControlMaxPacketSize,
			BufferOffset:  controlTxOffset, BufferLength: ControlMaxPacketSize},
		{Number: 0, Direction: hal.DirOut, Type: hal.TypeControl,
			MaxPacketSize: ControlMaxPacketSize,
			BufferOffset:  controlRxOffset, BufferLength: ControlMaxPacketSize},
	} {
		if err := d.hw.ConfigureEndpoint(cfg); err != nil {
			pkg.LogError(pkg.ComponentControl, "control endpoint configuration failed",
				"error", err)
			return
		}
		entry := d.eps.get(0, cfg.Direction)
		entry.cfg = cfg
		entry.enabled = true
	}
}

// ApplyConfiguration allocates packet memory and configures hardware for
// every endpoint of config. It first verifies the whole configuration
// fits; on ErrNoMemory nothing is changed. A nil config tears down all
// data endpoints.
//
// Called by the control pipe when the host selects a configuration, and
// exported for integrations that manage configuration themselves.
func (d *Driver) ApplyConfiguration(config *Configuration) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.applyConfigurationLocked(config)
}

func (d *Driver) applyConfigurationLocked(config *Configuration) error {
	if config != nil {
		// Plan before touching state so a rejected configuration leaves
		// the previous one intact.
		var required uint32
		for _, iface := range config.Interfaces() {
			for _, ep := range iface.Endpoints() {
				size := ep.bufferSize()
				required += uint32((size + 3) &^ 3)
			}
		}
		if uint32(dataMemoryBase)+required > hal.MemorySize {
			pkg.LogWarn(pkg.ComponentAllocator, "configuration exceeds packet memory",
				"required", required,
				"available", hal.MemorySize-dataMemoryBase)
			return pkg.ErrNoMemory
		}
	}

	d.teardownDataEndpointsLocked()

	if config == nil {
		return nil
	}

	for _, iface := range config.Interfaces() {
		for _, ep := range iface.Endpoints() {
			region, err := d.alloc.Allocate(ep.bufferSize())
			if err != nil {
				// Unreachable after the planning pass.
				d.teardownDataEndpointsLocked()
				return err
			}
			cfg := hal.EndpointConfig{
				Number:        ep.Number(),
				Direction:     ep.HALDirection(),
				Type:          ep.TransferType(),
				MaxPacketSize: ep.MaxPacketSize,
				BufferOffset:  region.Offset,
				BufferLength:  region.Length,
			}
			if err := d.hw.ConfigureEndpoint(cfg); err != nil {
				d.teardownDataEndpointsLocked()
				return err
			}
			entry := d.eps.get(cfg.Number, cfg.Direction)
			*entry = endpointEntry{cfg: cfg, enabled: true}
		}
	}
	return nil
}

// teardownDataEndpointsLocked disables endpoints 1-7, cancels their
// transfers, and returns their packet memory to the allocator.
func (d *Driver) teardownDataEndpointsLocked() {
	for num := uint8(1); num < hal.MaxEndpoints; num++ {
		d.disableEndpointLocked(num, hal.DirOut)
		d.disableEndpointLocked(num, hal.DirIn)
	}
	d.alloc.Rewind(dataMemoryBase)
}

// disableEndpointLocked disables one endpoint direction, cancelling any
// transfer in flight.
func (d *Driver) disableEndpointLocked(num uint8, dir hal.Direction) {
	entry := d.eps.get(num, dir)
	if !entry.enabled {
		return
	}
	if entry.active {
		d.completeLocked(num, dir, entry.xfer.transferred, pkg.ErrCancelled)
	}
	d.hw.DisableEndpoint(num, dir)
	*entry = endpointEntry{}
}

// DisableEndpoint disables one endpoint direction by address, waking any
// waiter with a cancellation. Consumers use this to force-abandon a
// transfer, e.g. after an application-level timeout.
func (d *Driver) DisableEndpoint(address uint8) error {
	num, dir := endpointTarget(address)
	if num == 0 || num >= hal.MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.eps.get(num, dir).enabled {
		return pkg.ErrInvalidEndpoint
	}
	d.disableEndpointLocked(num, dir)
	return nil
}

// HaltEndpoint sets the halt (STALL) condition on an endpoint by address.
func (d *Driver) HaltEndpoint(address uint8) error {
	num, dir := endpointTarget(address)
	if num >= hal.MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.haltLocked(num, dir, true)
}

// ClearHalt clears the halt condition on an endpoint by address, resets
// its data toggle to DATA0, and discards any transfer in flight.
func (d *Driver) ClearHalt(address uint8) error {
	num, dir := endpointTarget(address)
	if num >= hal.MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.haltLocked(num, dir, false)
}

// haltLocked implements halt set/clear. Clearing also resets the data
// toggle and cancels the in-flight transfer: its data cannot be trusted
// once the host has seen a halt.
func (d *Driver) haltLocked(num uint8, dir hal.Direction, halted bool) error {
	entry := d.eps.get(num, dir)
	if !entry.enabled {
		return pkg.ErrInvalidEndpoint
	}
	entry.halted = halted
	d.hw.SetStall(num, dir, halted)
	if !halted {
		d.hw.ResetDataToggle(num, dir)
		if entry.active {
			d.completeLocked(num, dir, entry.xfer.transferred, pkg.ErrCancelled)
		}
	}
	pkg.LogDebug(pkg.ComponentEndpoint, "endpoint halt changed",
		"endpoint", num, "direction", dir, "halted", halted)
	return nil
}

// EndpointHalted reports the halt condition of an endpoint by address.
func (d *Driver) EndpointHalted(address uint8) (bool, error) {
	num, dir := endpointTarget(address)
	if num >= hal.MaxEndpoints {
		return false, pkg.ErrInvalidEndpoint
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	entry := d.eps.get(num, dir)
	if !entry.enabled {
		return false, pkg.ErrInvalidEndpoint
	}
	return entry.halted, nil
}

// RemoteWakeup drives resume signaling to wake a suspended host. It fails
// unless the bus is suspended and the host has enabled the remote wakeup
// feature.
func (d *Driver) RemoteWakeup() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.bus.state != StateSuspended {
		return pkg.ErrInvalidState
	}
	if !d.dev.IsRemoteWakeupEnabled() {
		return pkg.ErrNotSupported
	}
	d.hw.SignalResume()
	d.bus.wake()
	return nil
}

// cancelAllTransfersLocked wakes every waiter with the given error.
func (d *Driver) cancelAllTransfersLocked(cause error) {
	for num := uint8(0); num < hal.MaxEndpoints; num++ {
		for _, dir := range []hal.Direction{hal.DirOut, hal.DirIn} {
			entry := d.eps.get(num, dir)
			if entry.active {
				d.completeLocked(num, dir, entry.xfer.transferred, cause)
			}
		}
	}
}
