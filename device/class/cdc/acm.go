package cdc

import (
	"context"
	"sync"

	"github.com/ardnew/usbdev/device"
	"github.com/ardnew/usbdev/pkg"
)

// NotificationMaxPacketSize is the interrupt endpoint packet size, large
// enough for the 10-byte SERIAL_STATE notification.
const NotificationMaxPacketSize = 16

// ACM is a CDC-ACM class driver: a USB serial port. Install adds its
// interfaces to a configuration and Bind attaches it to a device driver,
// where it consumes the class requests arriving on the control pipe.
type ACM struct {
	driver *device.Driver

	controlIface uint8
	dataIface    uint8
	notifyEP     uint8 // Interrupt IN address
	dataInEP     uint8 // Bulk IN address
	dataOutEP    uint8 // Bulk OUT address

	lineCoding   LineCoding
	controlState uint16

	onLineCodingChange   func(LineCoding)
	onControlStateChange func(dtr, rts bool)
	onBreak              func(millis uint16)

	funcDesc    [FunctionalDescriptorsSize]byte
	responseBuf [LineCodingSize]byte

	mutex sync.RWMutex
}

// NewACM creates a CDC-ACM class driver with default line coding.
func NewACM() *ACM {
	return &ACM{lineCoding: DefaultLineCoding}
}

// Install adds the ACM control and data interfaces to config, numbered
// firstIface and firstIface+1, with the given endpoint addresses. The
// notification and data IN addresses must carry the direction bit (0x80);
// the data OUT address must not.
func (a *ACM) Install(config *device.Configuration, firstIface uint8, notifyEP, dataInEP, dataOutEP uint8) error {
	a.mutex.Lock()
	defer a.mutex.Unlock()

	a.controlIface = firstIface
	a.dataIface = firstIface + 1
	a.notifyEP = notifyEP
	a.dataInEP = dataInEP
	a.dataOutEP = dataOutEP

	ctrl := device.NewInterface(a.controlIface, ClassCDC, SubclassACM, ProtocolAT)
	functionalDescriptorsTo(a.funcDesc[:], a.controlIface, a.dataIface)
	ctrl.SetClassSpecific(a.funcDesc[:])
	if err := ctrl.AddEndpoint(&device.Endpoint{
		Address:       notifyEP,
		Attributes:    device.EndpointTypeInterrupt,
		MaxPacketSize: NotificationMaxPacketSize,
		Interval:      16,
	}); err != nil {
		return err
	}

	data := device.NewInterface(a.dataIface, ClassCDCData, 0, ProtocolNone)
	for _, ep := range []*device.Endpoint{
		{Address: dataInEP, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64},
		{Address: dataOutEP, Attributes: device.EndpointTypeBulk, MaxPacketSize: 64},
	} {
		if err := data.AddEndpoint(ep); err != nil {
			return err
		}
	}

	if err := config.AddInterface(ctrl); err != nil {
		return err
	}
	if err := config.AddInterface(data); err != nil {
		return err
	}
	return config.AddAssociation(device.InterfaceAssociation{
		FirstInterface:   a.controlIface,
		InterfaceCount:   2,
		FunctionClass:    ClassCDC,
		FunctionSubClass: SubclassACM,
		FunctionProtocol: ProtocolAT,
	})
}

// Bind attaches the class driver to a device driver, registering it as
// the handler for class control requests.
func (a *ACM) Bind(d *device.Driver) {
	a.mutex.Lock()
	a.driver = d
	a.mutex.Unlock()
	d.SetRequestHandler(a.HandleRequest)
}

// SetOnLineCodingChange registers a callback for SET_LINE_CODING.
func (a *ACM) SetOnLineCodingChange(cb func(LineCoding)) {
	a.mutex.Lock()
	a.onLineCodingChange = cb
	a.mutex.Unlock()
}

// SetOnControlStateChange registers a callback for SET_CONTROL_LINE_STATE.
func (a *ACM) SetOnControlStateChange(cb func(dtr, rts bool)) {
	a.mutex.Lock()
	a.onControlStateChange = cb
	a.mutex.Unlock()
}

// SetOnBreak registers a callback for SEND_BREAK with the break duration
// in milliseconds.
func (a *ACM) SetOnBreak(cb func(millis uint16)) {
	a.mutex.Lock()
	a.onBreak = cb
	a.mutex.Unlock()
}

// LineCoding returns the line coding most recently set by the host.
func (a *ACM) LineCoding() LineCoding {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.lineCoding
}

// DTR reports the host's Data Terminal Ready state.
func (a *ACM) DTR() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.controlState&ControlLineDTR != 0
}

// RTS reports the host's Request To Send state.
func (a *ACM) RTS() bool {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.controlState&ControlLineRTS != 0
}

// HandleRequest processes class requests addressed to the ACM control
// interface. It satisfies device.RequestHandler; Bind registers it.
func (a *ACM) HandleRequest(setup *device.SetupPacket, data []byte) ([]byte, error) {
	if !setup.IsClass() || setup.Recipient() != device.RequestRecipientInterface {
		return nil, pkg.ErrNotSupported
	}
	if setup.InterfaceNumber() != a.controlIface {
		return nil, pkg.ErrNotSupported
	}

	switch setup.Request {
	case RequestSetLineCoding:
		return nil, a.setLineCoding(data)
	case RequestGetLineCoding:
		return a.getLineCoding(), nil
	case RequestSetControlLineState:
		a.setControlLineState(setup.Value)
		return nil, nil
	case RequestSendBreak:
		a.sendBreak(setup.Value)
		return nil, nil
	default:
		return nil, pkg.ErrNotSupported
	}
}

func (a *ACM) setLineCoding(data []byte) error {
	a.mutex.Lock()
	if !ParseLineCoding(data, &a.lineCoding) {
		a.mutex.Unlock()
		return pkg.ErrInvalidRequest
	}
	cb := a.onLineCodingChange
	lc := a.lineCoding
	a.mutex.Unlock()

	pkg.LogDebug(pkg.ComponentCDC, "line coding set",
		"baud", lc.DTERate, "dataBits", lc.DataBits,
		"parity", lc.ParityType, "stopBits", lc.CharFormat)

	if cb != nil {
		cb(lc)
	}
	return nil
}

func (a *ACM) getLineCoding() []byte {
	a.mutex.Lock()
	defer a.mutex.Unlock()
	a.lineCoding.MarshalTo(a.responseBuf[:])
	return a.responseBuf[:]
}

func (a *ACM) setControlLineState(state uint16) {
	a.mutex.Lock()
	a.controlState = state
	cb := a.onControlStateChange
	a.mutex.Unlock()

	dtr := state&ControlLineDTR != 0
	rts := state&ControlLineRTS != 0
	pkg.LogDebug(pkg.ComponentCDC, "control line state set", "dtr", dtr, "rts", rts)

	if cb != nil {
		cb(dtr, rts)
	}
}

func (a *ACM) sendBreak(millis uint16) {
	a.mutex.RLock()
	cb := a.onBreak
	a.mutex.RUnlock()

	pkg.LogDebug(pkg.ComponentCDC, "break signaled", "duration_ms", millis)
	if cb != nil {
		cb(millis)
	}
}

// Read receives serial data from the host, blocking until a transfer
// completes or ctx is done.
func (a *ACM) Read(ctx context.Context, buf []byte) (int, error) {
	d := a.boundDriver()
	if d == nil {
		return 0, pkg.ErrNotConfigured
	}
	return d.Read(ctx, a.dataOutEP&0x0F, buf)
}

// Write sends serial data to the host, blocking until the host has read
// it all or ctx is done.
func (a *ACM) Write(ctx context.Context, data []byte) (int, error) {
	d := a.boundDriver()
	if d == nil {
		return 0, pkg.ErrNotConfigured
	}
	return d.Write(ctx, a.dataInEP&0x0F, data)
}

// SendSerialState sends a SERIAL_STATE notification on the interrupt
// endpoint, blocking until the host polls for it or ctx is done.
func (a *ACM) SendSerialState(ctx context.Context, state uint16) error {
	d := a.boundDriver()
	if d == nil {
		return pkg.ErrNotConfigured
	}

	// Notifications use the class request header layout followed by the
	// two state bytes.
	var note [10]byte
	note[0] = device.RequestDirectionDeviceToHost |
		device.RequestTypeClass | device.RequestRecipientInterface
	note[1] = NotificationSerialState
	note[4] = a.controlIface
	note[6] = 2
	note[8] = byte(state)
	note[9] = byte(state >> 8)

	_, err := d.Write(ctx, a.notifyEP&0x0F, note[:])
	return err
}

func (a *ACM) boundDriver() *device.Driver {
	a.mutex.RLock()
	defer a.mutex.RUnlock()
	return a.driver
}
