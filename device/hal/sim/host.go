package sim

import (
	"context"
	"errors"
	"time"

	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

// nakRetryInterval is the pause between host retries of a NAKed transaction.
const nakRetryInterval = 50 * time.Microsecond

// Reset performs a bus reset: the device address returns to zero, all
// endpoint state is discarded, and the reset interrupt is raised.
func (c *Controller) Reset() {
	c.busMu.Lock()
	defer c.busMu.Unlock()

	c.mu.Lock()
	c.address = 0
	for i := range c.epStatus {
		c.epStatus[i] = 0
		c.out[i] = endpoint{}
		c.in[i] = endpoint{}
	}
	c.raiseDevice(hal.IntReset)
	c.mu.Unlock()

	pkg.LogDebug(pkg.ComponentHAL, "bus reset")
	c.dispatch()
}

// Suspend raises the suspend interrupt, modeling 3ms of bus idle.
func (c *Controller) Suspend() {
	c.busMu.Lock()
	defer c.busMu.Unlock()

	c.mu.Lock()
	c.raiseDevice(hal.IntSuspend)
	c.mu.Unlock()
	c.dispatch()
}

// Resume raises the resume interrupt, modeling host resume signaling.
func (c *Controller) Resume() {
	c.busMu.Lock()
	defer c.busMu.Unlock()

	c.mu.Lock()
	c.raiseDevice(hal.IntResume)
	c.mu.Unlock()
	c.dispatch()
}

// SOF advances the frame number and raises the start-of-frame interrupt.
func (c *Controller) SOF() {
	c.busMu.Lock()
	defer c.busMu.Unlock()

	c.mu.Lock()
	c.frame = (c.frame + 1) & 0x07FF
	c.raiseDevice(hal.IntSOF)
	c.mu.Unlock()
	c.dispatch()
}

// SendSetup delivers an 8-byte SETUP packet to the control endpoint.
// SETUP is always accepted: it clears any halt condition on the control
// endpoint and discards staged data from a previous transfer.
func (c *Controller) SendSetup(setup [8]byte) error {
	c.busMu.Lock()
	defer c.busMu.Unlock()

	c.mu.Lock()
	if !c.out[0].enabled {
		c.mu.Unlock()
		return pkg.ErrNotConfigured
	}

	c.mem.WriteBytes(setupOffset, setup[:])
	c.out[0].stalled = false
	c.out[0].armed = false
	c.out[0].toggle = 1
	c.in[0].stalled = false
	c.in[0].armed = false
	c.in[0].toggle = 1
	c.raiseEndpoint(0, hal.EPIntSetup)
	c.mu.Unlock()

	pkg.LogDebug(pkg.ComponentHAL, "setup sent",
		"requestType", setup[0], "request", setup[1])
	c.dispatch()
	return nil
}

// SendOut delivers one OUT packet to an endpoint. It returns ErrStall if
// the endpoint is halted and ErrNAK if no receive buffer is armed. A packet
// longer than the endpoint's maximum packet size raises the overrun flag
// and returns ErrOverrun.
func (c *Controller) SendOut(num uint8, data []byte) error {
	if num >= hal.MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}

	c.busMu.Lock()
	defer c.busMu.Unlock()

	c.mu.Lock()
	ep := &c.out[num]
	switch {
	case !ep.enabled:
		c.mu.Unlock()
		return pkg.ErrInvalidEndpoint
	case ep.stalled:
		c.mu.Unlock()
		return pkg.ErrStall
	case !ep.armed:
		c.mu.Unlock()
		return pkg.ErrNAK
	}

	if len(data) > int(ep.cfg.MaxPacketSize) {
		n := int(ep.cfg.BufferLength)
		if len(data) < n {
			n = len(data)
		}
		c.mem.WriteBytes(ep.cfg.BufferOffset, data[:n])
		ep.count = uint16(n)
		ep.armed = false
		c.raiseEndpoint(num, hal.EPIntOutReceived|hal.EPIntOutOverrun)
		c.mu.Unlock()
		c.dispatch()
		return pkg.ErrOverrun
	}

	c.mem.WriteBytes(ep.cfg.BufferOffset, data)
	ep.count = uint16(len(data))
	ep.armed = false
	ep.toggle ^= 1
	flags := uint32(hal.EPIntOutReceived)
	if len(data) == 0 {
		flags |= hal.EPIntZeroLength
	}
	c.raiseEndpoint(num, flags)
	c.mu.Unlock()

	c.dispatch()
	return nil
}

// ReceiveIn collects one IN packet from an endpoint into buf, returning
// the packet length. It returns ErrStall if the endpoint is halted and
// ErrNAK if no packet is staged.
func (c *Controller) ReceiveIn(num uint8, buf []byte) (int, error) {
	if num >= hal.MaxEndpoints {
		return 0, pkg.ErrInvalidEndpoint
	}

	c.busMu.Lock()
	defer c.busMu.Unlock()

	c.mu.Lock()
	ep := &c.in[num]
	switch {
	case !ep.enabled:
		c.mu.Unlock()
		return 0, pkg.ErrInvalidEndpoint
	case ep.stalled:
		c.mu.Unlock()
		return 0, pkg.ErrStall
	case !ep.armed:
		c.mu.Unlock()
		return 0, pkg.ErrNAK
	}

	n := int(ep.count)
	if n > len(buf) {
		c.mu.Unlock()
		return 0, pkg.ErrBufferTooSmall
	}
	c.mem.ReadBytes(ep.cfg.BufferOffset, buf[:n])
	ep.armed = false
	ep.toggle ^= 1
	c.raiseEndpoint(num, hal.EPIntInComplete)
	c.mu.Unlock()

	c.dispatch()
	return n, nil
}

// ControlIn performs a complete control read: SETUP, IN data packets until
// wLength bytes or a short packet, then a zero-length OUT status. It
// returns the number of data bytes received. For requests without a data
// stage use ControlOut.
func (c *Controller) ControlIn(ctx context.Context, setup [8]byte, buf []byte) (int, error) {
	if err := c.SendSetup(setup); err != nil {
		return 0, err
	}

	wLength := int(setup[6]) | int(setup[7])<<8
	mps := c.controlPacketSize()

	var pkt [hal.MaxPacketSize]byte
	n := 0
	for n < wLength {
		k, err := c.receiveInWait(ctx, 0, pkt[:])
		if err != nil {
			return n, err
		}
		if n+k > len(buf) {
			return n, pkg.ErrBufferTooSmall
		}
		copy(buf[n:], pkt[:k])
		n += k
		if k < mps {
			break
		}
	}

	if err := c.sendOutWait(ctx, 0, nil); err != nil {
		return n, err
	}
	return n, nil
}

// ControlOut performs a complete control write: SETUP, OUT data packets if
// any, then a zero-length IN status.
func (c *Controller) ControlOut(ctx context.Context, setup [8]byte, data []byte) error {
	if err := c.SendSetup(setup); err != nil {
		return err
	}

	mps := c.controlPacketSize()
	for off := 0; off < len(data); off += mps {
		end := off + mps
		if end > len(data) {
			end = len(data)
		}
		if err := c.sendOutWait(ctx, 0, data[off:end]); err != nil {
			return err
		}
	}

	var pkt [hal.MaxPacketSize]byte
	k, err := c.receiveInWait(ctx, 0, pkt[:])
	if err != nil {
		return err
	}
	if k != 0 {
		return pkg.ErrProtocol
	}
	return nil
}

// OutTransfer sends data to an OUT endpoint as a sequence of maximum-size
// packets, retrying NAKed transactions until the context is done. A nil or
// empty data slice sends a single zero-length packet.
func (c *Controller) OutTransfer(ctx context.Context, num uint8, data []byte) error {
	mps := c.packetSize(num, hal.DirOut)

	if len(data) == 0 {
		return c.sendOutWait(ctx, num, nil)
	}
	for off := 0; off < len(data); off += mps {
		end := off + mps
		if end > len(data) {
			end = len(data)
		}
		if err := c.sendOutWait(ctx, num, data[off:end]); err != nil {
			return err
		}
	}
	return nil
}

// InTransfer collects packets from an IN endpoint into buf until a short
// packet arrives, retrying NAKed transactions until the context is done.
// It returns the total number of bytes received.
func (c *Controller) InTransfer(ctx context.Context, num uint8, buf []byte) (int, error) {
	mps := c.packetSize(num, hal.DirIn)

	var pkt [hal.MaxPacketSize]byte
	n := 0
	for {
		k, err := c.receiveInWait(ctx, num, pkt[:])
		if err != nil {
			return n, err
		}
		if n+k > len(buf) {
			return n, pkg.ErrBufferTooSmall
		}
		copy(buf[n:], pkt[:k])
		n += k
		if k < mps {
			return n, nil
		}
	}
}

// sendOutWait retries SendOut while the endpoint NAKs.
func (c *Controller) sendOutWait(ctx context.Context, num uint8, data []byte) error {
	for {
		err := c.SendOut(num, data)
		if !errors.Is(err, pkg.ErrNAK) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(nakRetryInterval):
		}
	}
}

// receiveInWait retries ReceiveIn while the endpoint NAKs.
func (c *Controller) receiveInWait(ctx context.Context, num uint8, buf []byte) (int, error) {
	for {
		n, err := c.ReceiveIn(num, buf)
		if !errors.Is(err, pkg.ErrNAK) {
			return n, err
		}
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(nakRetryInterval):
		}
	}
}

// controlPacketSize returns the control endpoint's maximum packet size.
func (c *Controller) controlPacketSize() int {
	return c.packetSize(0, hal.DirIn)
}

// packetSize returns the configured maximum packet size for an endpoint
// direction, defaulting to the full-speed maximum when unconfigured.
func (c *Controller) packetSize(num uint8, dir hal.Direction) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	ep := c.ep(num, dir)
	if ep.enabled && ep.cfg.MaxPacketSize > 0 {
		return int(ep.cfg.MaxPacketSize)
	}
	return hal.MaxPacketSize
}
