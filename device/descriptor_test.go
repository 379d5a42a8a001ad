package device

import (
	"bytes"
	"errors"
	"testing"

	"github.com/ardnew/usbdev/pkg"
)

func TestDeviceDescriptorRoundTrip(t *testing.T) {
	orig := DeviceDescriptor{
		Length:            DeviceDescriptorSize,
		DescriptorType:    DescriptorTypeDevice,
		USBVersion:        0x0200,
		DeviceClass:       ClassMisc,
		DeviceSubClass:    0x02,
		DeviceProtocol:    0x01,
		MaxPacketSize0:    ControlMaxPacketSize,
		VendorID:          0x1234,
		ProductID:         0x5678,
		DeviceVersion:     0x0100,
		ManufacturerIndex: 1,
		ProductIndex:      2,
		SerialNumberIndex: 3,
		NumConfigurations: 1,
	}
	var buf [64]byte
	n := orig.MarshalTo(buf[:])
	if n != DeviceDescriptorSize {
		t.Fatalf("MarshalTo = %d, want %d", n, DeviceDescriptorSize)
	}
	var parsed DeviceDescriptor
	if err := ParseDeviceDescriptor(buf[:n], &parsed); err != nil {
		t.Fatalf("ParseDeviceDescriptor failed: %v", err)
	}
	if parsed != orig {
		t.Errorf("round trip mismatch:\n got %+v\nwant %+v", parsed, orig)
	}
}

func TestDeviceDescriptorMarshalShortBuffer(t *testing.T) {
	var d DeviceDescriptor
	if n := d.MarshalTo(make([]byte, 17)); n != 0 {
		t.Errorf("MarshalTo short buffer = %d, want 0", n)
	}
}

func TestParseDeviceDescriptorErrors(t *testing.T) {
	var out DeviceDescriptor
	if err := ParseDeviceDescriptor(make([]byte, 10), &out); !errors.Is(err, pkg.ErrDescriptorTooShort) {
		t.Errorf("short data: %v, want ErrDescriptorTooShort", err)
	}
	wrong := make([]byte, 18)
	wrong[1] = DescriptorTypeConfiguration
	if err := ParseDeviceDescriptor(wrong, &out); !errors.Is(err, pkg.ErrDescriptorTypeMismatch) {
		t.Errorf("wrong type: %v, want ErrDescriptorTypeMismatch", err)
	}
}

func TestStringDescriptor(t *testing.T) {
	var buf [64]byte
	n := StringDescriptorTo(buf[:], "AB")
	if n != 6 {
		t.Fatalf("length = %d, want 6", n)
	}
	want := []byte{6, DescriptorTypeString, 'A', 0, 'B', 0}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("encoding = % X, want % X", buf[:n], want)
	}
}

func TestLanguageDescriptor(t *testing.T) {
	var buf [8]byte
	n := LanguageDescriptorTo(buf[:], LangIDUSEnglish)
	if n != 4 {
		t.Fatalf("length = %d, want 4", n)
	}
	want := []byte{4, DescriptorTypeString, 0x09, 0x04}
	if !bytes.Equal(buf[:n], want) {
		t.Errorf("encoding = % X, want % X", buf[:n], want)
	}
}

func TestConfigurationMarshalFullSet(t *testing.T) {
	config := NewConfiguration(1)
	iface := NewInterface(0, ClassVendor, 0, 0)
	iface.AddEndpoint(&Endpoint{
		Address:       0x81,
		Attributes:    EndpointTypeBulk,
		MaxPacketSize: 64,
	})
	iface.AddEndpoint(&Endpoint{
		Address:       0x01,
		Attributes:    EndpointTypeBulk,
		MaxPacketSize: 64,
	})
	if err := config.AddInterface(iface); err != nil {
		t.Fatalf("AddInterface failed: %v", err)
	}

	wantTotal := ConfigurationDescriptorSize + InterfaceDescriptorSize +
		2*EndpointDescriptorSize

	var buf [128]byte
	n := config.MarshalTo(buf[:])
	if n != wantTotal {
		t.Fatalf("MarshalTo = %d, want %d", n, wantTotal)
	}

	var desc ConfigurationDescriptor
	if err := ParseConfigurationDescriptor(buf[:n], &desc); err != nil {
		t.Fatalf("ParseConfigurationDescriptor failed: %v", err)
	}
	if desc.TotalLength != uint16(wantTotal) {
		t.Errorf("TotalLength = %d, want %d", desc.TotalLength, wantTotal)
	}
	if desc.NumInterfaces != 1 {
		t.Errorf("NumInterfaces = %d, want 1", desc.NumInterfaces)
	}

	// Interface descriptor follows the configuration header.
	if buf[ConfigurationDescriptorSize+1] != DescriptorTypeInterface {
		t.Error("interface descriptor not at expected offset")
	}
	// First endpoint descriptor follows the interface descriptor.
	epOff := ConfigurationDescriptorSize + InterfaceDescriptorSize
	var ep EndpointDescriptor
	if err := ParseEndpointDescriptor(buf[epOff:], &ep); err != nil {
		t.Fatalf("ParseEndpointDescriptor failed: %v", err)
	}
	if ep.EndpointAddress != 0x81 || ep.MaxPacketSize != 64 {
		t.Errorf("endpoint descriptor: %+v", ep)
	}
}

func TestConfigurationMarshalWithClassSpecific(t *testing.T) {
	config := NewConfiguration(1)
	iface := NewInterface(0, ClassCDC, 0x02, 0x01)
	extra := []byte{0x05, DescriptorTypeCSInterface, 0x00, 0x10, 0x01}
	iface.SetClassSpecific(extra)
	config.AddInterface(iface)

	var buf [64]byte
	n := config.MarshalTo(buf[:])
	want := ConfigurationDescriptorSize + InterfaceDescriptorSize + len(extra)
	if n != want {
		t.Fatalf("MarshalTo = %d, want %d", n, want)
	}
	off := ConfigurationDescriptorSize + InterfaceDescriptorSize
	if !bytes.Equal(buf[off:off+len(extra)], extra) {
		t.Error("class-specific bytes not emitted after interface descriptor")
	}
}

func TestConfigurationMarshalWithAssociation(t *testing.T) {
	config := NewConfiguration(1)
	config.AddAssociation(InterfaceAssociation{
		FirstInterface:   0,
		InterfaceCount:   2,
		FunctionClass:    ClassCDC,
		FunctionSubClass: 0x02,
	})
	config.AddInterface(NewInterface(0, ClassCDC, 0x02, 0x01))
	config.AddInterface(NewInterface(1, ClassCDCData, 0, 0))

	var buf [128]byte
	n := config.MarshalTo(buf[:])
	want := ConfigurationDescriptorSize + IADSize + 2*InterfaceDescriptorSize
	if n != want {
		t.Fatalf("MarshalTo = %d, want %d", n, want)
	}
	if buf[ConfigurationDescriptorSize+1] != DescriptorTypeInterfaceAssociation {
		t.Error("IAD not emitted before interface descriptors")
	}
}
