package device

import (
	"sync"

	"github.com/ardnew/usbdev/pkg"
)

// Device describes a USB device to the host: its device descriptor,
// configurations, and string descriptors. The descriptor model is built
// before the driver starts; only the active configuration and the remote
// wakeup flag change afterward, both from interrupt context via the
// control pipe.
type Device struct {
	Descriptor *DeviceDescriptor

	configurations     [MaxConfigurations]*Configuration
	configurationCount int
	activeConfig       *Configuration

	strings [MaxStrings][]byte

	remoteWakeupEnabled bool

	mutex sync.RWMutex
}

// NewDevice creates a device with the given descriptor.
func NewDevice(desc *DeviceDescriptor) *Device {
	return &Device{Descriptor: desc}
}

// AddConfiguration adds a configuration. Duplicate values are rejected.
func (d *Device) AddConfiguration(config *Configuration) error {
	d.mutex.Lock()
	defer d.mutex.Unlock()

	if d.configurationCount >= MaxConfigurations {
		return pkg.ErrNoMemory
	}
	for idx := 0; idx < d.configurationCount; idx++ {
		if d.configurations[idx].Value == config.Value {
			return pkg.ErrBusy
		}
	}
	d.configurations[d.configurationCount] = config
	d.configurationCount++
	return nil
}

// GetConfiguration returns the configuration with the given value, or nil.
func (d *Device) GetConfiguration(value uint8) *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	for idx := 0; idx < d.configurationCount; idx++ {
		if d.configurations[idx].Value == value {
			return d.configurations[idx]
		}
	}
	return nil
}

// ActiveConfiguration returns the configuration selected by the host,
// or nil when unconfigured.
func (d *Device) ActiveConfiguration() *Configuration {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.activeConfig
}

// setActiveConfiguration records the host's configuration selection.
func (d *Device) setActiveConfiguration(config *Configuration) {
	d.mutex.Lock()
	d.activeConfig = config
	d.mutex.Unlock()
}

// SetString stores a pre-encoded string descriptor at the given index.
// The data slice is stored by reference.
func (d *Device) SetString(index uint8, data []byte) {
	if index >= MaxStrings {
		return
	}
	d.mutex.Lock()
	d.strings[index] = data
	d.mutex.Unlock()
}

// SetStringFrom encodes s as a USB string descriptor into buf and stores
// the resulting slice at the given index. Returns the encoded length.
func (d *Device) SetStringFrom(index uint8, buf []byte, s string) int {
	if index >= MaxStrings {
		return 0
	}
	n := StringDescriptorTo(buf, s)
	if n > 0 {
		d.SetString(index, buf[:n])
	}
	return n
}

// SetLanguagesFrom encodes the supported language IDs into buf and stores
// the result at string index 0. Returns the encoded length.
func (d *Device) SetLanguagesFrom(buf []byte, langIDs ...uint16) int {
	n := LanguageDescriptorTo(buf, langIDs...)
	if n > 0 {
		d.SetString(0, buf[:n])
	}
	return n
}

// GetString returns the string descriptor at the given index, or nil.
func (d *Device) GetString(index uint8) []byte {
	if index >= MaxStrings {
		return nil
	}
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.strings[index]
}

// GetInterface returns an interface of the active configuration, or nil
// when unconfigured or unknown.
func (d *Device) GetInterface(number uint8) *Interface {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	return config.GetInterface(number)
}

// GetEndpoint returns an endpoint of the active configuration by address.
func (d *Device) GetEndpoint(address uint8) *Endpoint {
	config := d.ActiveConfiguration()
	if config == nil {
		return nil
	}
	for _, iface := range config.Interfaces() {
		if ep := iface.GetEndpoint(address); ep != nil {
			return ep
		}
	}
	return nil
}

// EnableRemoteWakeup records the host's remote wakeup feature selection.
func (d *Device) EnableRemoteWakeup(enabled bool) {
	d.mutex.Lock()
	d.remoteWakeupEnabled = enabled
	d.mutex.Unlock()
}

// IsRemoteWakeupEnabled returns true if the host enabled remote wakeup.
func (d *Device) IsRemoteWakeupEnabled() bool {
	d.mutex.RLock()
	defer d.mutex.RUnlock()
	return d.remoteWakeupEnabled
}

// DeviceStatus represents the GET_STATUS(device) response bits.
type DeviceStatus uint16

// Device status bits.
const (
	DeviceStatusSelfPowered  DeviceStatus = 1 << 0
	DeviceStatusRemoteWakeup DeviceStatus = 1 << 1
)

// Status returns the device status reported to GET_STATUS.
func (d *Device) Status() DeviceStatus {
	d.mutex.RLock()
	defer d.mutex.RUnlock()

	var status DeviceStatus
	if d.activeConfig != nil && d.activeConfig.IsSelfPowered() {
		status |= DeviceStatusSelfPowered
	}
	if d.remoteWakeupEnabled {
		status |= DeviceStatusRemoteWakeup
	}
	return status
}

// unconfigure clears the active configuration and host-set features.
// Called on bus reset and SET_CONFIGURATION(0).
func (d *Device) unconfigure() {
	d.mutex.Lock()
	d.activeConfig = nil
	d.remoteWakeupEnabled = false
	d.mutex.Unlock()
}

// DeviceBuilder provides a fluent API for assembling devices.
type DeviceBuilder struct {
	device *Device
	config *Configuration
	iface  *Interface
	errors []error

	stringBufs [MaxStrings][256]byte
}

// NewDeviceBuilder creates a device builder.
func NewDeviceBuilder() *DeviceBuilder {
	return &DeviceBuilder{}
}

// WithDescriptor sets the device descriptor.
func (b *DeviceBuilder) WithDescriptor(desc *DeviceDescriptor) *DeviceBuilder {
	b.device = NewDevice(desc)
	return b
}

// WithVendorProduct sets vendor and product IDs, creating a default
// Full-Speed USB 2.0 descriptor if none is set yet.
func (b *DeviceBuilder) WithVendorProduct(vendorID, productID uint16) *DeviceBuilder {
	if b.device == nil {
		b.device = NewDevice(&DeviceDescriptor{
			Length:         DeviceDescriptorSize,
			DescriptorType: DescriptorTypeDevice,
			USBVersion:     0x0200,
			MaxPacketSize0: ControlMaxPacketSize,
		})
	}
	b.device.Descriptor.VendorID = vendorID
	b.device.Descriptor.ProductID = productID
	return b
}

// WithStrings sets the manufacturer, product, and serial strings.
func (b *DeviceBuilder) WithStrings(manufacturer, product, serial string) *DeviceBuilder {
	if b.device == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.device.SetLanguagesFrom(b.stringBufs[0][:], LangIDUSEnglish)
	if manufacturer != "" {
		b.device.Descriptor.ManufacturerIndex = 1
		b.device.SetStringFrom(1, b.stringBufs[1][:], manufacturer)
	}
	if product != "" {
		b.device.Descriptor.ProductIndex = 2
		b.device.SetStringFrom(2, b.stringBufs[2][:], product)
	}
	if serial != "" {
		b.device.Descriptor.SerialNumberIndex = 3
		b.device.SetStringFrom(3, b.stringBufs[3][:], serial)
	}
	return b
}

// AddConfiguration adds a new configuration and makes it current.
func (b *DeviceBuilder) AddConfiguration(value uint8) *DeviceBuilder {
	if b.device == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	b.config = NewConfiguration(value)
	if err := b.device.AddConfiguration(b.config); err != nil {
		b.errors = append(b.errors, err)
	}
	b.device.Descriptor.NumConfigurations++
	return b
}

// AddInterface adds a new interface to the current configuration.
func (b *DeviceBuilder) AddInterface(class, subClass, protocol uint8) *DeviceBuilder {
	if b.config == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	num := uint8(len(b.config.Interfaces()))
	b.iface = NewInterface(num, class, subClass, protocol)
	if err := b.config.AddInterface(b.iface); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// AddEndpoint adds an endpoint to the current interface.
func (b *DeviceBuilder) AddEndpoint(address, transferType uint8, maxPacketSize uint16) *DeviceBuilder {
	if b.iface == nil {
		b.errors = append(b.errors, pkg.ErrInvalidState)
		return b
	}
	ep := &Endpoint{
		Address:       address,
		Attributes:    transferType,
		MaxPacketSize: maxPacketSize,
	}
	if err := b.iface.AddEndpoint(ep); err != nil {
		b.errors = append(b.errors, err)
	}
	return b
}

// Build returns the assembled device, or the first error encountered.
func (b *DeviceBuilder) Build() (*Device, error) {
	if len(b.errors) > 0 {
		return nil, b.errors[0]
	}
	if b.device == nil {
		return nil, pkg.ErrInvalidState
	}
	return b.device, nil
}
