package device

import (
	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

// StandardRequestHandler implements the standard device requests of the
// USB 2.0 specification chapter 9. It is created by the driver and invoked
// from the control pipe with the driver lock held.
type StandardRequestHandler struct {
	driver      *Driver
	responseBuf [MaxControlDataSize]byte
}

// NewStandardRequestHandler creates a handler bound to a driver.
func NewStandardRequestHandler(d *Driver) *StandardRequestHandler {
	return &StandardRequestHandler{driver: d}
}

// Handle processes one standard request. For device-to-host requests the
// returned slice is the response payload; it remains valid until the next
// call. An error return stalls the control pipe.
func (h *StandardRequestHandler) Handle(setup *SetupPacket, data []byte) ([]byte, error) {
	switch setup.Recipient() {
	case RequestRecipientDevice:
		return h.handleDevice(setup, data)
	case RequestRecipientInterface:
		return h.handleInterface(setup)
	case RequestRecipientEndpoint:
		return h.handleEndpoint(setup)
	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleDevice(setup *SetupPacket, data []byte) ([]byte, error) {
	d := h.driver
	switch setup.Request {
	case RequestGetStatus:
		status := d.dev.Status()
		h.responseBuf[0] = uint8(status)
		h.responseBuf[1] = uint8(status >> 8)
		return h.responseBuf[:2], nil

	case RequestSetAddress:
		if setup.Value > 127 || setup.Index != 0 || setup.Length != 0 {
			return nil, pkg.ErrInvalidRequest
		}
		if d.bus.state == StateConfigured {
			return nil, pkg.ErrInvalidState
		}
		// Latched after the status stage; the status handshake still
		// travels on the old address.
		d.ctrl.pendingAddress = int16(setup.Value)
		return nil, nil

	case RequestGetDescriptor:
		return h.handleGetDescriptor(setup)

	case RequestGetConfiguration:
		value := uint8(0)
		if cfg := d.dev.ActiveConfiguration(); cfg != nil {
			value = cfg.Value
		}
		h.responseBuf[0] = value
		return h.responseBuf[:1], nil

	case RequestSetConfiguration:
		return nil, h.handleSetConfiguration(setup)

	case RequestSetFeature:
		if setup.Value == FeatureDeviceRemoteWakeup {
			d.dev.EnableRemoteWakeup(true)
			return nil, nil
		}
		return nil, pkg.ErrNotSupported

	case RequestClearFeature:
		if setup.Value == FeatureDeviceRemoteWakeup {
			d.dev.EnableRemoteWakeup(false)
			return nil, nil
		}
		return nil, pkg.ErrNotSupported

	case RequestSetDescriptor:
		return nil, pkg.ErrNotSupported

	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleGetDescriptor(setup *SetupPacket) ([]byte, error) {
	d := h.driver
	descType := setup.DescriptorType()
	index := setup.DescriptorIndex()

	switch descType {
	case DescriptorTypeDevice:
		if d.dev.Descriptor == nil {
			return nil, pkg.ErrNotSupported
		}
		n := d.dev.Descriptor.MarshalTo(h.responseBuf[:])
		return h.responseBuf[:n], nil

	case DescriptorTypeConfiguration:
		configs := 0
		for v := uint8(1); v <= MaxConfigurations; v++ {
			if cfg := d.dev.GetConfiguration(v); cfg != nil {
				if uint8(configs) == index {
					n := cfg.MarshalTo(h.responseBuf[:])
					return h.responseBuf[:n], nil
				}
				configs++
			}
		}
		return nil, pkg.ErrNotSupported

	case DescriptorTypeString:
		s := d.dev.GetString(index)
		if s == nil {
			return nil, pkg.ErrNotSupported
		}
		n := copy(h.responseBuf[:], s)
		return h.responseBuf[:n], nil

	case DescriptorTypeDeviceQualifier:
		// Full-speed only device; no other-speed information exists.
		return nil, pkg.ErrNotSupported

	default:
		return nil, pkg.ErrNotSupported
	}
}

func (h *StandardRequestHandler) handleSetConfiguration(setup *SetupPacket) error {
	d := h.driver
	value := uint8(setup.Value)

	if d.bus.state != StateAddressed && d.bus.state != StateConfigured {
		return pkg.ErrInvalidState
	}

	if value == 0 {
		if err := d.applyConfigurationLocked(nil); err != nil {
			return err
		}
		d.dev.unconfigure()
		d.bus.setConfigured(false)
		if cb := d.onConfigured; cb != nil {
			d.deferLocked(func() { cb(0) })
		}
		pkg.LogInfo(pkg.ComponentBus, "device deconfigured")
		return nil
	}

	cfg := d.dev.GetConfiguration(value)
	if cfg == nil {
		return pkg.ErrInvalidRequest
	}
	if err := d.applyConfigurationLocked(cfg); err != nil {
		return err
	}
	d.dev.setActiveConfiguration(cfg)
	d.bus.setConfigured(true)
	if cb := d.onConfigured; cb != nil {
		d.deferLocked(func() { cb(value) })
	}
	pkg.LogInfo(pkg.ComponentBus, "configuration selected", "value", value)
	return nil
}

func (h *StandardRequestHandler) handleInterface(setup *SetupPacket) ([]byte, error) {
	d := h.driver
	if d.bus.state != StateConfigured {
		return nil, pkg.ErrNotConfigured
	}
	iface := d.dev.GetInterface(setup.InterfaceNumber())
	if iface == nil {
		return nil, pkg.ErrInvalidRequest
	}

	switch setup.Request {
	case RequestGetStatus:
		h.responseBuf[0] = 0
		h.responseBuf[1] = 0
		return h.responseBuf[:2], nil

	case RequestGetInterface:
		h.responseBuf[0] = iface.AlternateSetting
		return h.responseBuf[:1], nil

	case RequestSetInterface:
		alt := uint8(setup.Value)
		if alt > iface.MaxAlternate {
			return nil, pkg.ErrInvalidRequest
		}
		iface.AlternateSetting = alt
		// Switching alternates resets the interface's endpoint toggles.
		for _, ep := range iface.Endpoints() {
			d.hw.ResetDataToggle(ep.Number(), ep.HALDirection())
		}
		return nil, nil

	case RequestSetFeature, RequestClearFeature:
		// No interface features are defined.
		return nil, pkg.ErrNotSupported

	default:
		return nil, pkg.ErrInvalidRequest
	}
}

func (h *StandardRequestHandler) handleEndpoint(setup *SetupPacket) ([]byte, error) {
	d := h.driver
	address := setup.EndpointAddress()
	num, dir := endpointTarget(address)

	if num >= hal.MaxEndpoints {
		return nil, pkg.ErrInvalidEndpoint
	}
	// Endpoint 0 is always addressable; data endpoints only once
	// configured.
	if num != 0 {
		if d.bus.state != StateConfigured {
			return nil, pkg.ErrNotConfigured
		}
		if !d.eps.get(num, dir).enabled {
			return nil, pkg.ErrInvalidEndpoint
		}
	}

	switch setup.Request {
	case RequestGetStatus:
		var status uint16
		if d.eps.get(num, dir).halted {
			status = 1
		}
		h.responseBuf[0] = uint8(status)
		h.responseBuf[1] = uint8(status >> 8)
		return h.responseBuf[:2], nil

	case RequestSetFeature:
		if setup.Value != FeatureEndpointHalt || num == 0 {
			return nil, pkg.ErrNotSupported
		}
		return nil, d.haltLocked(num, dir, true)

	case RequestClearFeature:
		if setup.Value != FeatureEndpointHalt || num == 0 {
			return nil, pkg.ErrNotSupported
		}
		return nil, d.haltLocked(num, dir, false)

	case RequestSynchFrame:
		entry := d.eps.get(num, dir)
		if entry.cfg.Type != hal.TypeIsochronous {
			return nil, pkg.ErrNotSupported
		}
		frame := d.hw.FrameNumber()
		h.responseBuf[0] = uint8(frame)
		h.responseBuf[1] = uint8(frame >> 8)
		return h.responseBuf[:2], nil

	default:
		return nil, pkg.ErrInvalidRequest
	}
}
