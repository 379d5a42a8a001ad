package device

import (
	"context"

	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

// Data transfer engine for endpoints 1-7. A transfer is a sequence of
// packets in one direction; it completes when the byte count is reached
// (IN and OUT), when a short packet arrives (OUT), or when cancelled.
// At most one transfer may be outstanding per endpoint direction.

// StartReceive begins an asynchronous OUT transfer into buf. The transfer
// completes when buf is full or the host sends a packet shorter than the
// endpoint's maximum packet size. The result is delivered on the channel
// returned by Completion.
func (d *Driver) StartReceive(num uint8, buf []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, err := d.startableLocked(num, hal.DirOut)
	if err != nil {
		return err
	}

	entry.active = true
	entry.buf = buf
	entry.xfer = transferState{total: len(buf)}
	d.drainLocked(num, hal.DirOut)
	d.hw.ArmReceive(num)

	pkg.LogDebug(pkg.ComponentTransfer, "receive started",
		"endpoint", num, "length", len(buf))
	return nil
}

// StartSend begins an asynchronous IN transfer of data. The payload is
// split into maximum-size packets; if the length is a positive multiple
// of the packet size, a zero-length packet terminates the transfer.
func (d *Driver) StartSend(num uint8, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	entry, err := d.startableLocked(num, hal.DirIn)
	if err != nil {
		return err
	}

	entry.active = true
	entry.buf = data
	entry.xfer = transferState{
		total:      len(data),
		zlpPending: len(data) > 0 && len(data)%int(entry.cfg.MaxPacketSize) == 0,
	}
	d.drainLocked(num, hal.DirIn)
	d.transmitNextLocked(num, entry)

	pkg.LogDebug(pkg.ComponentTransfer, "send started",
		"endpoint", num, "length", len(data))
	return nil
}

// Completion returns the channel delivering the result of transfers on one
// endpoint direction. The channel has capacity one and is reused across
// transfers on the same endpoint.
func (d *Driver) Completion(num uint8, dir hal.Direction) <-chan Result {
	return d.compl[num][dirIndex(dir)]
}

// Read performs a blocking OUT transfer into buf, returning the number of
// bytes received. It honors ctx: on cancellation the transfer is aborted
// and the context error returned.
func (d *Driver) Read(ctx context.Context, num uint8, buf []byte) (int, error) {
	if err := d.StartReceive(num, buf); err != nil {
		return 0, err
	}
	return d.wait(ctx, num, hal.DirOut)
}

// Write performs a blocking IN transfer of data, returning the number of
// bytes the host acknowledged.
func (d *Driver) Write(ctx context.Context, num uint8, data []byte) (int, error) {
	if err := d.StartSend(num, data); err != nil {
		return 0, err
	}
	return d.wait(ctx, num, hal.DirIn)
}

func (d *Driver) wait(ctx context.Context, num uint8, dir hal.Direction) (int, error) {
	select {
	case res := <-d.compl[num][dirIndex(dir)]:
		return res.N, res.Err
	case <-ctx.Done():
		d.abortTransfer(num, dir)
		return 0, ctx.Err()
	}
}

// abortTransfer tears down an in-flight transfer without waking the
// waiter; the caller already holds the context error. A completion that
// raced the abort is drained.
func (d *Driver) abortTransfer(num uint8, dir hal.Direction) {
	d.mu.Lock()
	entry := d.eps.get(num, dir)
	if entry.active {
		entry.active = false
		entry.buf = nil
		entry.xfer = transferState{}
	}
	d.drainLocked(num, dir)
	d.mu.Unlock()
}

// startableLocked validates that a transfer may begin on the endpoint.
func (d *Driver) startableLocked(num uint8, dir hal.Direction) (*endpointEntry, error) {
	if num == 0 || num >= hal.MaxEndpoints {
		return nil, pkg.ErrInvalidEndpoint
	}
	if !d.running {
		return nil, pkg.ErrNotRunning
	}
	if !d.bus.configured() {
		return nil, pkg.ErrNotConfigured
	}
	entry := d.eps.get(num, dir)
	if !entry.enabled {
		return nil, pkg.ErrInvalidEndpoint
	}
	if entry.halted {
		return nil, pkg.ErrStall
	}
	if entry.active {
		return nil, pkg.ErrBusy
	}
	return entry, nil
}

// serviceDataLocked routes endpoint events for endpoints 1-7.
func (d *Driver) serviceDataLocked(num uint8, flags uint32) {
	if flags&hal.EPIntOutOverrun != 0 {
		d.handleOverrunLocked(num)
		return
	}
	if flags&(hal.EPIntOutReceived|hal.EPIntZeroLength) != 0 {
		d.handleDataOutLocked(num)
	}
	if flags&hal.EPIntInComplete != 0 {
		d.handleDataInLocked(num)
	}
}

// handleDataOutLocked copies a received packet out of packet memory and
// either re-arms the endpoint or completes the transfer.
func (d *Driver) handleDataOutLocked(num uint8) {
	entry := d.eps.get(num, hal.DirOut)
	if !entry.active {
		// Packet with no receiver pending. Leave the endpoint NAKing
		// until a consumer arms it.
		pkg.LogWarn(pkg.ComponentTransfer, "unexpected OUT packet",
			"endpoint", num)
		return
	}

	count := int(d.hw.ReceiveCount(num))
	remaining := entry.xfer.total - entry.xfer.transferred
	if count > remaining {
		d.hw.SetStall(num, hal.DirOut, true)
		entry.halted = true
		d.completeLocked(num, hal.DirOut, entry.xfer.transferred, pkg.ErrOverrun)
		return
	}
	if count > 0 {
		d.hw.Memory().ReadBytes(entry.cfg.BufferOffset,
			entry.buf[entry.xfer.transferred:entry.xfer.transferred+count])
		entry.xfer.transferred += count
	}

	short := count < int(entry.cfg.MaxPacketSize)
	if short || entry.xfer.transferred == entry.xfer.total {
		d.completeLocked(num, hal.DirOut, entry.xfer.transferred, nil)
		return
	}
	d.hw.ArmReceive(num)
}

// handleDataInLocked advances an IN transfer after the host acknowledges a
// packet: queue the next chunk, the trailing zero-length packet, or report
// completion.
func (d *Driver) handleDataInLocked(num uint8) {
	entry := d.eps.get(num, hal.DirIn)
	if !entry.active {
		return
	}

	entry.xfer.transferred += entry.xfer.lastPacket
	entry.xfer.lastPacket = 0

	if entry.xfer.transferred < entry.xfer.total {
		d.transmitNextLocked(num, entry)
		return
	}
	if entry.xfer.zlpPending {
		entry.xfer.zlpPending = false
		d.hw.Transmit(num, 0)
		return
	}
	d.completeLocked(num, hal.DirIn, entry.xfer.transferred, nil)
}

// transmitNextLocked loads the next packet of an IN transfer into packet
// memory and hands it to hardware. A zero-length payload transmits a
// zero-length packet immediately.
func (d *Driver) transmitNextLocked(num uint8, entry *endpointEntry) {
	remaining := entry.xfer.total - entry.xfer.transferred
	chunk := int(entry.cfg.MaxPacketSize)
	if remaining < chunk {
		chunk = remaining
	}
	if chunk > 0 {
		d.hw.Memory().WriteBytes(entry.cfg.BufferOffset,
			entry.buf[entry.xfer.transferred:entry.xfer.transferred+chunk])
	}
	entry.xfer.lastPacket = chunk
	d.hw.Transmit(num, uint16(chunk))
}

// handleOverrunLocked stalls an endpoint whose packet exceeded its buffer
// and fails the transfer.
func (d *Driver) handleOverrunLocked(num uint8) {
	entry := d.eps.get(num, hal.DirOut)
	d.hw.SetStall(num, hal.DirOut, true)
	entry.halted = true
	pkg.LogWarn(pkg.ComponentTransfer, "OUT packet overrun", "endpoint", num)
	if entry.active {
		d.completeLocked(num, hal.DirOut, entry.xfer.transferred, pkg.ErrOverrun)
	}
}

// completeLocked finishes a transfer and delivers its result. The channel
// has capacity one and is drained at start, so the send cannot block.
func (d *Driver) completeLocked(num uint8, dir hal.Direction, n int, err error) {
	entry := d.eps.get(num, dir)
	entry.active = false
	entry.buf = nil
	entry.xfer = transferState{}

	select {
	case d.compl[num][dirIndex(dir)] <- Result{N: n, Err: err}:
	default:
	}

	if err != nil {
		pkg.LogDebug(pkg.ComponentTransfer, "transfer failed",
			"endpoint", num, "direction", dir, "count", n,
			"status", pkg.StatusOf(err), "error", err)
	} else {
		pkg.LogDebug(pkg.ComponentTransfer, "transfer complete",
			"endpoint", num, "direction", dir, "count", n)
	}
}

// drainLocked empties a completion channel of any stale result.
func (d *Driver) drainLocked(num uint8, dir hal.Direction) {
	select {
	case <-d.compl[num][dirIndex(dir)]:
	default:
	}
}
