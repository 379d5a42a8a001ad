package device

import (
	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

// MaxControlDataSize is the largest control transfer data stage supported.
// Large enough for any realistic configuration descriptor set.
const MaxControlDataSize = 512

// controlStage tracks the position of the control pipe within a transfer.
type controlStage uint8

const (
	stageIdle controlStage = iota
	stageDataOut
	stageDataIn
	stageStatusIn
	stageStatusOut
)

func (s controlStage) String() string {
	switch s {
	case stageIdle:
		return "idle"
	case stageDataOut:
		return "data-out"
	case stageDataIn:
		return "data-in"
	case stageStatusIn:
		return "status-in"
	case stageStatusOut:
		return "status-out"
	default:
		return "unknown"
	}
}

// controlPipe is the endpoint 0 state machine. SETUP packets are decoded,
// data stages assembled or chunked through the fixed control buffer, and
// the status stage completed with a zero-length packet in the opposite
// direction. Protocol errors stall both directions; the stall clears
// automatically on the next SETUP.
type controlPipe struct {
	stage controlStage
	setup SetupPacket

	dataBuf  [MaxControlDataSize]byte
	dataLen  int // valid bytes (OUT: received so far; IN: response size)
	dataPos  int // next byte to move across the wire
	zlpAfter bool

	// SET_ADDRESS is latched into hardware only after the status stage
	// completes; until then the device answers on its old address.
	pendingAddress int16
}

func (c *controlPipe) init() {
	c.pendingAddress = -1
}

func (c *controlPipe) reset() {
	c.stage = stageIdle
	c.dataLen = 0
	c.dataPos = 0
	c.zlpAfter = false
	c.pendingAddress = -1
}

// serviceControlLocked routes endpoint 0 events into the control pipe.
func (d *Driver) serviceControlLocked(flags uint32) {
	if flags&hal.EPIntSetup != 0 {
		d.handleSetupLocked()
		return
	}
	if flags&(hal.EPIntOutReceived|hal.EPIntZeroLength) != 0 {
		d.handleControlOutLocked()
	}
	if flags&hal.EPIntInComplete != 0 {
		d.handleControlInLocked()
	}
}

// handleSetupLocked begins a new control transfer. A SETUP packet always
// aborts whatever came before it.
func (d *Driver) handleSetupLocked() {
	c := &d.ctrl
	c.reset()

	var raw [8]byte
	d.hw.Memory().ReadBytes(setupOffset, raw[:])
	if err := ParseSetupPacket(raw[:], &c.setup); err != nil {
		d.stallControlLocked()
		return
	}

	pkg.LogDebug(pkg.ComponentControl, "setup received",
		"request", c.setup.String())

	if c.setup.IsDeviceToHost() {
		d.beginControlInLocked()
		return
	}

	if c.setup.Length > 0 {
		if int(c.setup.Length) > MaxControlDataSize {
			d.stallControlLocked()
			return
		}
		c.stage = stageDataOut
		d.hw.ArmReceive(0)
		return
	}

	// No data stage: handle immediately, then the status stage is a
	// zero-length IN packet.
	d.dispatchControlLocked(nil)
}

// handleControlOutLocked consumes packets of an OUT data stage, or the
// zero-length OUT packet that closes an IN transfer.
func (d *Driver) handleControlOutLocked() {
	c := &d.ctrl
	switch c.stage {
	case stageDataOut:
		count := int(d.hw.ReceiveCount(0))
		expected := int(c.setup.Length)
		if c.dataLen+count > expected {
			d.stallControlLocked()
			return
		}
		if count > 0 {
			d.hw.Memory().ReadBytes(controlRxOffset,
				c.dataBuf[c.dataLen:c.dataLen+count])
			c.dataLen += count
		}
		if c.dataLen == expected || count < ControlMaxPacketSize {
			if c.dataLen != expected {
				d.stallControlLocked()
				return
			}
			d.dispatchControlLocked(c.dataBuf[:c.dataLen])
			return
		}
		d.hw.ArmReceive(0)

	case stageStatusOut:
		// Status stage of an IN transfer complete.
		c.stage = stageIdle

	default:
		d.stallControlLocked()
	}
}

// handleControlInLocked advances an IN data stage after the host takes a
// packet, or finishes the status stage of an OUT or no-data transfer.
func (d *Driver) handleControlInLocked() {
	c := &d.ctrl
	switch c.stage {
	case stageDataIn:
		if c.dataPos < c.dataLen || c.zlpAfter {
			d.transmitControlChunkLocked()
			return
		}
		// Data stage done; the host acknowledges with a zero-length OUT.
		c.stage = stageStatusOut
		d.hw.ArmReceive(0)

	case stageStatusIn:
		c.stage = stageIdle
		if c.pendingAddress >= 0 {
			addr := uint8(c.pendingAddress)
			c.pendingAddress = -1
			d.hw.SetAddress(addr)
			d.bus.setAddressed(addr)
			pkg.LogInfo(pkg.ComponentBus, "address assigned", "address", addr)
		}

	default:
		d.stallControlLocked()
	}
}

// dispatchControlLocked hands a decoded request to the standard handler or
// the registered class/vendor handler and starts the status stage. data is
// the assembled OUT payload, nil for no-data requests.
func (d *Driver) dispatchControlLocked(data []byte) {
	c := &d.ctrl

	var err error
	if c.setup.IsStandard() {
		_, err = d.std.Handle(&c.setup, data)
	} else if h := d.requestHandler; h != nil {
		_, err = h(&c.setup, data)
	} else {
		err = pkg.ErrNotSupported
	}
	if err != nil {
		pkg.LogDebug(pkg.ComponentControl, "request rejected",
			"request", c.setup.String(), "error", err)
		d.stallControlLocked()
		return
	}

	c.stage = stageStatusIn
	d.hw.Transmit(0, 0)
}

// beginControlInLocked handles a device-to-host request: the handler runs
// immediately and its response feeds the IN data stage.
func (d *Driver) beginControlInLocked() {
	c := &d.ctrl

	var response []byte
	var err error
	if c.setup.IsStandard() {
		response, err = d.std.Handle(&c.setup, nil)
	} else if h := d.requestHandler; h != nil {
		response, err = h(&c.setup, nil)
	} else {
		err = pkg.ErrNotSupported
	}
	if err != nil {
		pkg.LogDebug(pkg.ComponentControl, "request rejected",
			"request", c.setup.String(), "error", err)
		d.stallControlLocked()
		return
	}

	n := len(response)
	if n > int(c.setup.Length) {
		n = int(c.setup.Length)
	}
	if n > MaxControlDataSize {
		d.stallControlLocked()
		return
	}
	copy(c.dataBuf[:], response[:n])
	c.dataLen = n
	c.dataPos = 0

	// A terminating zero-length packet is needed only when the response
	// is shorter than requested and ends on a packet boundary; at exactly
	// wLength the host stops reading on its own.
	c.zlpAfter = n > 0 && n%ControlMaxPacketSize == 0 && n < int(c.setup.Length)

	c.stage = stageDataIn
	d.transmitControlChunkLocked()
}

// transmitControlChunkLocked loads the next IN data stage packet.
func (d *Driver) transmitControlChunkLocked() {
	c := &d.ctrl
	chunk := c.dataLen - c.dataPos
	if chunk > ControlMaxPacketSize {
		chunk = ControlMaxPacketSize
	}
	if chunk > 0 {
		d.hw.Memory().WriteBytes(controlTxOffset,
			c.dataBuf[c.dataPos:c.dataPos+chunk])
		c.dataPos += chunk
	} else {
		c.zlpAfter = false
	}
	d.hw.Transmit(0, uint16(chunk))
}

// stallControlLocked rejects the current control transfer by stalling both
// directions of endpoint 0. Hardware clears the stall when the next SETUP
// packet arrives.
func (d *Driver) stallControlLocked() {
	c := &d.ctrl
	pkg.LogDebug(pkg.ComponentControl, "control pipe stalled",
		"stage", c.stage.String())
	c.stage = stageIdle
	c.pendingAddress = -1
	d.hw.SetStall(0, hal.DirIn, true)
	d.hw.SetStall(0, hal.DirOut, true)
}
