package device

import (
	"errors"
	"testing"

	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

func TestInterfaceAddEndpointValidation(t *testing.T) {
	tests := []struct {
		name string
		ep   Endpoint
		want error
	}{
		{"valid", Endpoint{Address: 0x81, Attributes: EndpointTypeBulk, MaxPacketSize: 64}, nil},
		{"endpoint zero", Endpoint{Address: 0x80, MaxPacketSize: 64}, pkg.ErrInvalidEndpoint},
		{"number too high", Endpoint{Address: 0x88, MaxPacketSize: 64}, pkg.ErrInvalidEndpoint},
		{"zero packet size", Endpoint{Address: 0x82}, pkg.ErrInvalidParameter},
		{"oversized packet", Endpoint{Address: 0x82, MaxPacketSize: 65}, pkg.ErrInvalidParameter},
		{"buffer below packet size", Endpoint{Address: 0x82, MaxPacketSize: 64, BufferSize: 32}, pkg.ErrInvalidParameter},
		{"multi-packet buffer", Endpoint{Address: 0x82, MaxPacketSize: 64, BufferSize: 256}, nil},
		{"buffer beyond packet memory", Endpoint{Address: 0x82, MaxPacketSize: 64, BufferSize: hal.MemorySize + 1}, pkg.ErrInvalidParameter},
		{"buffer alignment would wrap", Endpoint{Address: 0x82, MaxPacketSize: 64, BufferSize: 65534}, pkg.ErrInvalidParameter},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			iface := NewInterface(0, ClassVendor, 0, 0)
			ep := tt.ep
			err := iface.AddEndpoint(&ep)
			if !errors.Is(err, tt.want) {
				t.Errorf("AddEndpoint = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestInterfaceDuplicateEndpoint(t *testing.T) {
	iface := NewInterface(0, ClassVendor, 0, 0)
	ep := &Endpoint{Address: 0x81, Attributes: EndpointTypeBulk, MaxPacketSize: 64}
	if err := iface.AddEndpoint(ep); err != nil {
		t.Fatalf("first AddEndpoint failed: %v", err)
	}
	dup := &Endpoint{Address: 0x81, Attributes: EndpointTypeInterrupt, MaxPacketSize: 8}
	if err := iface.AddEndpoint(dup); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("duplicate AddEndpoint = %v, want ErrBusy", err)
	}
}

func TestEndpointAccessors(t *testing.T) {
	in := Endpoint{Address: 0x83, Attributes: EndpointTypeInterrupt, MaxPacketSize: 16}
	if in.Number() != 3 || !in.IsIn() {
		t.Errorf("IN endpoint misparsed: number=%d in=%v", in.Number(), in.IsIn())
	}
	out := Endpoint{Address: 0x02, Attributes: EndpointTypeBulk, MaxPacketSize: 64}
	if out.Number() != 2 || out.IsIn() {
		t.Errorf("OUT endpoint misparsed: number=%d in=%v", out.Number(), out.IsIn())
	}
	if out.bufferSize() != 64 {
		t.Errorf("default bufferSize = %d, want MaxPacketSize", out.bufferSize())
	}
	out.BufferSize = 256
	if out.bufferSize() != 256 {
		t.Errorf("explicit bufferSize = %d, want 256", out.bufferSize())
	}
}

func TestConfigurationDuplicateInterface(t *testing.T) {
	config := NewConfiguration(1)
	if err := config.AddInterface(NewInterface(0, ClassVendor, 0, 0)); err != nil {
		t.Fatalf("AddInterface failed: %v", err)
	}
	if err := config.AddInterface(NewInterface(0, ClassCDC, 0, 0)); !errors.Is(err, pkg.ErrBusy) {
		t.Errorf("duplicate AddInterface = %v, want ErrBusy", err)
	}
}

func TestConfigurationAttributes(t *testing.T) {
	config := NewConfiguration(1)
	if config.IsSelfPowered() {
		t.Error("new configuration reports self-powered")
	}
	config.SetSelfPowered(true)
	if !config.IsSelfPowered() {
		t.Error("SetSelfPowered(true) not reflected")
	}
	config.SetRemoteWakeup(true)
	if !config.SupportsRemoteWakeup() {
		t.Error("SetRemoteWakeup(true) not reflected")
	}
	if config.Attributes&ConfigAttrBusPowered == 0 {
		t.Error("bus-powered bit must stay set")
	}
}

func TestDeviceBuilder(t *testing.T) {
	dev, err := NewDeviceBuilder().
		WithVendorProduct(0x1234, 0x5678).
		WithStrings("Acme", "Widget", "0001").
		AddConfiguration(1).
		AddInterface(ClassVendor, 0, 0).
		AddEndpoint(0x81, EndpointTypeBulk, 64).
		AddEndpoint(0x01, EndpointTypeBulk, 64).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	if dev.Descriptor.VendorID != 0x1234 || dev.Descriptor.ProductID != 0x5678 {
		t.Errorf("IDs = %04X:%04X", dev.Descriptor.VendorID, dev.Descriptor.ProductID)
	}
	if dev.Descriptor.MaxPacketSize0 != ControlMaxPacketSize {
		t.Errorf("MaxPacketSize0 = %d, want %d",
			dev.Descriptor.MaxPacketSize0, ControlMaxPacketSize)
	}
	if dev.Descriptor.NumConfigurations != 1 {
		t.Errorf("NumConfigurations = %d, want 1", dev.Descriptor.NumConfigurations)
	}

	config := dev.GetConfiguration(1)
	if config == nil {
		t.Fatal("configuration 1 missing")
	}
	iface := config.GetInterface(0)
	if iface == nil {
		t.Fatal("interface 0 missing")
	}
	if len(iface.Endpoints()) != 2 {
		t.Errorf("endpoint count = %d, want 2", len(iface.Endpoints()))
	}

	if dev.GetString(0) == nil {
		t.Error("language descriptor missing")
	}
	product := dev.GetString(dev.Descriptor.ProductIndex)
	if product == nil || product[1] != DescriptorTypeString {
		t.Error("product string missing or malformed")
	}
}

func TestDeviceBuilderInvalidEndpoint(t *testing.T) {
	_, err := NewDeviceBuilder().
		WithVendorProduct(1, 2).
		AddConfiguration(1).
		AddInterface(ClassVendor, 0, 0).
		AddEndpoint(0x80, EndpointTypeBulk, 64). // endpoint 0 is reserved
		Build()
	if !errors.Is(err, pkg.ErrInvalidEndpoint) {
		t.Errorf("Build = %v, want ErrInvalidEndpoint", err)
	}
}

func TestDeviceBuilderOrderEnforced(t *testing.T) {
	_, err := NewDeviceBuilder().
		AddConfiguration(1).
		Build()
	if !errors.Is(err, pkg.ErrInvalidState) {
		t.Errorf("Build = %v, want ErrInvalidState", err)
	}
}

func TestDeviceStatus(t *testing.T) {
	dev, err := NewDeviceBuilder().
		WithVendorProduct(1, 2).
		AddConfiguration(1).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if dev.Status() != 0 {
		t.Errorf("unconfigured status = %04X, want 0", dev.Status())
	}

	config := dev.GetConfiguration(1)
	config.SetSelfPowered(true)
	dev.setActiveConfiguration(config)
	dev.EnableRemoteWakeup(true)

	want := DeviceStatusSelfPowered | DeviceStatusRemoteWakeup
	if dev.Status() != want {
		t.Errorf("status = %04X, want %04X", dev.Status(), want)
	}

	dev.unconfigure()
	if dev.Status() != 0 {
		t.Errorf("status after unconfigure = %04X, want 0", dev.Status())
	}
	if dev.ActiveConfiguration() != nil {
		t.Error("active configuration survived unconfigure")
	}
}
