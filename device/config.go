package device

import (
	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

// Fixed-size model limits. The descriptor model is assembled before the
// driver starts and is read-only afterward, so no locking is needed here.
const (
	MaxEndpointsPerInterface      = 8
	MaxInterfacesPerConfiguration = 8
	MaxAssociationsPerConfig      = 4
	MaxConfigurations             = 4
	MaxStrings                    = 16
)

// Endpoint transfer types (USB 2.0 Spec Table 9-13). These match the
// hardware configuration encoding in hal.
const (
	EndpointTypeControl     = hal.TypeControl
	EndpointTypeIsochronous = hal.TypeIsochronous
	EndpointTypeBulk        = hal.TypeBulk
	EndpointTypeInterrupt   = hal.TypeInterrupt
)

// Endpoint address direction bit.
const (
	EndpointDirectionOut = 0x00
	EndpointDirectionIn  = 0x80
)

// Endpoint describes one endpoint of an interface. Runtime state (halt,
// data toggle, transfer progress) lives in the driver's endpoint table;
// this type only carries what the descriptors advertise.
type Endpoint struct {
	Address       uint8  // Endpoint number plus direction bit
	Attributes    uint8  // Transfer type
	MaxPacketSize uint16 // At most 64 for Full-Speed
	Interval      uint8  // Polling interval for interrupt endpoints

	// BufferSize is the packet memory reserved for the endpoint when the
	// host selects its configuration. Zero means one maximum-size packet.
	BufferSize uint16
}

// bufferSize returns the packet memory requirement.
func (e *Endpoint) bufferSize() uint16 {
	if e.BufferSize == 0 {
		return e.MaxPacketSize
	}
	return e.BufferSize
}

// Number returns the endpoint number (0-7 on this controller).
func (e *Endpoint) Number() uint8 {
	return e.Address & 0x0F
}

// IsIn returns true for a device-to-host endpoint.
func (e *Endpoint) IsIn() bool {
	return e.Address&EndpointDirectionIn != 0
}

// HALDirection returns the endpoint direction in hal terms.
func (e *Endpoint) HALDirection() hal.Direction {
	if e.IsIn() {
		return hal.DirIn
	}
	return hal.DirOut
}

// TransferType returns the transfer type bits of the attributes.
func (e *Endpoint) TransferType() uint8 {
	return e.Attributes & 0x03
}

// IsIsochronous returns true for an isochronous endpoint.
func (e *Endpoint) IsIsochronous() bool {
	return e.TransferType() == EndpointTypeIsochronous
}

// Descriptor returns the wire-format endpoint descriptor.
func (e *Endpoint) Descriptor() EndpointDescriptor {
	return EndpointDescriptor{
		Length:          EndpointDescriptorSize,
		DescriptorType:  DescriptorTypeEndpoint,
		EndpointAddress: e.Address,
		Attributes:      e.Attributes,
		MaxPacketSize:   e.MaxPacketSize,
		Interval:        e.Interval,
	}
}

// Interface represents one interface of a configuration.
type Interface struct {
	Number           uint8
	AlternateSetting uint8 // Currently selected alternate
	MaxAlternate     uint8 // Highest alternate setting the host may select
	Class            uint8
	SubClass         uint8
	Protocol         uint8
	StringIndex      uint8

	endpoints     [MaxEndpointsPerInterface]*Endpoint
	endpointCount int

	// extra holds class-specific descriptors emitted immediately after
	// the interface descriptor (e.g. CDC functional descriptors).
	extra []byte
}

// NewInterface creates an interface with the given identity.
func NewInterface(number, class, subClass, protocol uint8) *Interface {
	return &Interface{
		Number:   number,
		Class:    class,
		SubClass: subClass,
		Protocol: protocol,
	}
}

// AddEndpoint adds an endpoint to the interface. Duplicate addresses and
// numbers outside the controller's range are rejected.
func (i *Interface) AddEndpoint(ep *Endpoint) error {
	if ep.Number() == 0 || ep.Number() >= hal.MaxEndpoints {
		return pkg.ErrInvalidEndpoint
	}
	if ep.MaxPacketSize == 0 || ep.MaxPacketSize > hal.MaxPacketSize {
		return pkg.ErrInvalidParameter
	}
	if ep.BufferSize != 0 && ep.BufferSize < ep.MaxPacketSize {
		return pkg.ErrInvalidParameter
	}
	if ep.BufferSize > hal.MemorySize {
		return pkg.ErrInvalidParameter
	}
	if i.endpointCount >= MaxEndpointsPerInterface {
		return pkg.ErrNoMemory
	}
	for idx := 0; idx < i.endpointCount; idx++ {
		if i.endpoints[idx].Address == ep.Address {
			return pkg.ErrBusy
		}
	}
	i.endpoints[i.endpointCount] = ep
	i.endpointCount++
	return nil
}

// GetEndpoint returns the endpoint with the given address, or nil.
func (i *Interface) GetEndpoint(address uint8) *Endpoint {
	for idx := 0; idx < i.endpointCount; idx++ {
		if i.endpoints[idx].Address == address {
			return i.endpoints[idx]
		}
	}
	return nil
}

// Endpoints returns the interface's endpoints.
// The returned slice references internal storage; do not modify.
func (i *Interface) Endpoints() []*Endpoint {
	return i.endpoints[:i.endpointCount]
}

// SetClassSpecific sets the class-specific descriptor bytes emitted after
// the interface descriptor. The slice is stored by reference.
func (i *Interface) SetClassSpecific(data []byte) {
	i.extra = data
}

// Descriptor returns the wire-format interface descriptor for the current
// alternate setting.
func (i *Interface) Descriptor() InterfaceDescriptor {
	return InterfaceDescriptor{
		Length:            InterfaceDescriptorSize,
		DescriptorType:    DescriptorTypeInterface,
		InterfaceNumber:   i.Number,
		AlternateSetting:  i.AlternateSetting,
		NumEndpoints:      uint8(i.endpointCount),
		InterfaceClass:    i.Class,
		InterfaceSubClass: i.SubClass,
		InterfaceProtocol: i.Protocol,
		InterfaceIndex:    i.StringIndex,
	}
}

// InterfaceAssociation groups related interfaces for composite devices
// (e.g. CDC control plus CDC data).
type InterfaceAssociation struct {
	FirstInterface   uint8
	InterfaceCount   uint8
	FunctionClass    uint8
	FunctionSubClass uint8
	FunctionProtocol uint8
	StringIndex      uint8
}

// Configuration represents one device configuration.
type Configuration struct {
	Value       uint8 // Value used by SET_CONFIGURATION
	Attributes  uint8 // Bus/self powered, remote wakeup
	MaxPower    uint8 // In 2mA units
	StringIndex uint8

	interfaces     [MaxInterfacesPerConfiguration]*Interface
	interfaceCount int

	associations     [MaxAssociationsPerConfig]InterfaceAssociation
	associationCount int
}

// NewConfiguration creates a bus-powered configuration drawing 100mA.
func NewConfiguration(value uint8) *Configuration {
	return &Configuration{
		Value:      value,
		Attributes: ConfigAttrBusPowered,
		MaxPower:   50,
	}
}

// AddInterface adds an interface. Duplicate numbers are rejected.
func (c *Configuration) AddInterface(iface *Interface) error {
	if c.interfaceCount >= MaxInterfacesPerConfiguration {
		return pkg.ErrNoMemory
	}
	for idx := 0; idx < c.interfaceCount; idx++ {
		if c.interfaces[idx].Number == iface.Number {
			return pkg.ErrBusy
		}
	}
	c.interfaces[c.interfaceCount] = iface
	c.interfaceCount++
	return nil
}

// GetInterface returns the interface with the given number, or nil.
func (c *Configuration) GetInterface(number uint8) *Interface {
	for idx := 0; idx < c.interfaceCount; idx++ {
		if c.interfaces[idx].Number == number {
			return c.interfaces[idx]
		}
	}
	return nil
}

// Interfaces returns the configuration's interfaces.
// The returned slice references internal storage; do not modify.
func (c *Configuration) Interfaces() []*Interface {
	return c.interfaces[:c.interfaceCount]
}

// AddAssociation adds an interface association descriptor.
func (c *Configuration) AddAssociation(assoc InterfaceAssociation) error {
	if c.associationCount >= MaxAssociationsPerConfig {
		return pkg.ErrNoMemory
	}
	c.associations[c.associationCount] = assoc
	c.associationCount++
	return nil
}

// SetSelfPowered sets or clears the self-powered attribute.
func (c *Configuration) SetSelfPowered(selfPowered bool) {
	if selfPowered {
		c.Attributes |= ConfigAttrSelfPowered
	} else {
		c.Attributes &^= ConfigAttrSelfPowered
	}
}

// IsSelfPowered returns true if the configuration is self-powered.
func (c *Configuration) IsSelfPowered() bool {
	return c.Attributes&ConfigAttrSelfPowered != 0
}

// SetRemoteWakeup sets or clears the remote wakeup capability.
func (c *Configuration) SetRemoteWakeup(enabled bool) {
	if enabled {
		c.Attributes |= ConfigAttrRemoteWakeup
	} else {
		c.Attributes &^= ConfigAttrRemoteWakeup
	}
}

// SupportsRemoteWakeup returns true if remote wakeup is advertised.
func (c *Configuration) SupportsRemoteWakeup() bool {
	return c.Attributes&ConfigAttrRemoteWakeup != 0
}

// totalLength computes the length of the full configuration descriptor
// set: the configuration descriptor plus IADs, interfaces, class-specific
// bytes, and endpoints.
func (c *Configuration) totalLength() uint16 {
	length := uint16(ConfigurationDescriptorSize)
	length += uint16(c.associationCount) * IADSize
	for idx := 0; idx < c.interfaceCount; idx++ {
		iface := c.interfaces[idx]
		length += InterfaceDescriptorSize
		length += uint16(len(iface.extra))
		length += uint16(iface.endpointCount) * EndpointDescriptorSize
	}
	return length
}

// Descriptor returns the wire-format configuration descriptor header.
func (c *Configuration) Descriptor() ConfigurationDescriptor {
	return ConfigurationDescriptor{
		Length:             ConfigurationDescriptorSize,
		DescriptorType:     DescriptorTypeConfiguration,
		TotalLength:        c.totalLength(),
		NumInterfaces:      uint8(c.interfaceCount),
		ConfigurationValue: c.Value,
		ConfigurationIndex: c.StringIndex,
		Attributes:         c.Attributes,
		MaxPower:           c.MaxPower,
	}
}

// MarshalTo writes the full configuration descriptor set to buf.
// Returns the number of bytes written, or 0 if buf is too small.
func (c *Configuration) MarshalTo(buf []byte) int {
	offset := 0

	desc := c.Descriptor()
	n := desc.MarshalTo(buf)
	if n == 0 {
		return 0
	}
	offset += n

	for idx := 0; idx < c.associationCount; idx++ {
		assoc := &c.associations[idx]
		iad := InterfaceAssociationDescriptor{
			Length:           IADSize,
			DescriptorType:   DescriptorTypeInterfaceAssociation,
			FirstInterface:   assoc.FirstInterface,
			InterfaceCount:   assoc.InterfaceCount,
			FunctionClass:    assoc.FunctionClass,
			FunctionSubClass: assoc.FunctionSubClass,
			FunctionProtocol: assoc.FunctionProtocol,
			FunctionIndex:    assoc.StringIndex,
		}
		n = iad.MarshalTo(buf[offset:])
		if n == 0 {
			return 0
		}
		offset += n
	}

	for idx := 0; idx < c.interfaceCount; idx++ {
		iface := c.interfaces[idx]
		ifd := iface.Descriptor()
		n = ifd.MarshalTo(buf[offset:])
		if n == 0 {
			return 0
		}
		offset += n

		if len(iface.extra) > 0 {
			if offset+len(iface.extra) > len(buf) {
				return 0
			}
			offset += copy(buf[offset:], iface.extra)
		}

		for _, ep := range iface.Endpoints() {
			epd := ep.Descriptor()
			n = epd.MarshalTo(buf[offset:])
			if n == 0 {
				return 0
			}
			offset += n
		}
	}

	return offset
}
