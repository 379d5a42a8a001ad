package cdc

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/ardnew/usbdev/device"
	"github.com/ardnew/usbdev/device/hal/sim"
	"github.com/ardnew/usbdev/pkg"
)

func setupLineCoding() device.SetupPacket {
	return device.SetupPacket{
		RequestType: device.RequestDirectionHostToDevice |
			device.RequestTypeClass | device.RequestRecipientInterface,
		Request: RequestSetLineCoding,
		Length:  LineCodingSize,
	}
}

func startACM(t *testing.T) (*ACM, *device.Driver, *sim.Controller) {
	t.Helper()

	dev := device.NewDevice(&device.DeviceDescriptor{
		Length:            device.DeviceDescriptorSize,
		DescriptorType:    device.DescriptorTypeDevice,
		USBVersion:        0x0200,
		DeviceClass:       device.ClassMisc,
		DeviceSubClass:    0x02,
		DeviceProtocol:    0x01,
		MaxPacketSize0:    device.ControlMaxPacketSize,
		VendorID:          0x1209,
		ProductID:         0xACDC,
		NumConfigurations: 1,
	})
	config := device.NewConfiguration(1)

	acm := NewACM()
	if err := acm.Install(config, 0, 0x82, 0x81, 0x01); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if err := dev.AddConfiguration(config); err != nil {
		t.Fatalf("AddConfiguration failed: %v", err)
	}

	hw := sim.New()
	d := device.New(hw, dev)
	acm.Bind(d)
	if err := d.Start(); err != nil {
		t.Fatalf("driver start failed: %v", err)
	}
	t.Cleanup(func() { d.Stop() })

	hw.Reset()
	ctx := context.Background()
	if err := hw.ControlOut(ctx, device.SetupSetAddress(7).Bytes(), nil); err != nil {
		t.Fatalf("SET_ADDRESS failed: %v", err)
	}
	if err := hw.ControlOut(ctx, device.SetupSetConfiguration(1).Bytes(), nil); err != nil {
		t.Fatalf("SET_CONFIGURATION failed: %v", err)
	}
	return acm, d, hw
}

func TestInstallDescriptors(t *testing.T) {
	_, _, hw := startACM(t)

	var buf [256]byte
	setup := device.SetupGetDescriptor(device.DescriptorTypeConfiguration, 0, 255)
	n, err := hw.ControlIn(context.Background(), setup.Bytes(), buf[:])
	if err != nil {
		t.Fatalf("GET_DESCRIPTOR failed: %v", err)
	}

	want := device.ConfigurationDescriptorSize + device.IADSize +
		2*device.InterfaceDescriptorSize + FunctionalDescriptorsSize +
		3*device.EndpointDescriptorSize
	if n != want {
		t.Fatalf("descriptor set = %d bytes, want %d", n, want)
	}

	// The IAD groups two interfaces starting at 0 for the CDC function.
	iad := buf[device.ConfigurationDescriptorSize:]
	if iad[1] != device.DescriptorTypeInterfaceAssociation ||
		iad[2] != 0 || iad[3] != 2 || iad[4] != ClassCDC {
		t.Errorf("IAD = % X", iad[:device.IADSize])
	}

	// Functional descriptors follow the control interface descriptor.
	fd := buf[device.ConfigurationDescriptorSize+device.IADSize+device.InterfaceDescriptorSize:]
	if fd[1] != DescriptorTypeCSInterface || fd[2] != SubtypeHeader {
		t.Errorf("header functional descriptor = % X", fd[:HeaderDescriptorSize])
	}
}

func TestLineCodingRoundTrip(t *testing.T) {
	acm, _, hw := startACM(t)
	ctx := context.Background()

	var changed []LineCoding
	acm.SetOnLineCodingChange(func(lc LineCoding) { changed = append(changed, lc) })

	coding := LineCoding{DTERate: 9600, CharFormat: StopBits2, ParityType: ParityEven, DataBits: 7}
	var payload [LineCodingSize]byte
	coding.MarshalTo(payload[:])
	if err := hw.ControlOut(ctx, setupLineCoding().Bytes(), payload[:]); err != nil {
		t.Fatalf("SET_LINE_CODING failed: %v", err)
	}

	if got := acm.LineCoding(); got != coding {
		t.Errorf("LineCoding = %+v, want %+v", got, coding)
	}
	if len(changed) != 1 || changed[0] != coding {
		t.Errorf("callback saw %+v", changed)
	}

	// Read it back with GET_LINE_CODING.
	get := device.SetupPacket{
		RequestType: device.RequestDirectionDeviceToHost |
			device.RequestTypeClass | device.RequestRecipientInterface,
		Request: RequestGetLineCoding,
		Length:  LineCodingSize,
	}
	var buf [LineCodingSize]byte
	n, err := hw.ControlIn(ctx, get.Bytes(), buf[:])
	if err != nil || n != LineCodingSize {
		t.Fatalf("GET_LINE_CODING: n=%d err=%v", n, err)
	}
	if !bytes.Equal(buf[:], payload[:]) {
		t.Errorf("GET_LINE_CODING = % X, want % X", buf[:], payload[:])
	}
}

func TestSetLineCodingShortPayloadStalls(t *testing.T) {
	_, _, hw := startACM(t)
	setup := setupLineCoding()
	setup.Length = 3
	err := hw.ControlOut(context.Background(), setup.Bytes(), []byte{1, 2, 3})
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("short SET_LINE_CODING = %v, want ErrStall", err)
	}
}

func TestControlLineState(t *testing.T) {
	acm, _, hw := startACM(t)

	var gotDTR, gotRTS bool
	acm.SetOnControlStateChange(func(dtr, rts bool) { gotDTR, gotRTS = dtr, rts })

	setup := device.SetupPacket{
		RequestType: device.RequestDirectionHostToDevice |
			device.RequestTypeClass | device.RequestRecipientInterface,
		Request: RequestSetControlLineState,
		Value:   ControlLineDTR | ControlLineRTS,
	}
	if err := hw.ControlOut(context.Background(), setup.Bytes(), nil); err != nil {
		t.Fatalf("SET_CONTROL_LINE_STATE failed: %v", err)
	}
	if !acm.DTR() || !acm.RTS() {
		t.Errorf("DTR=%v RTS=%v, want both true", acm.DTR(), acm.RTS())
	}
	if !gotDTR || !gotRTS {
		t.Error("callback not invoked with both lines asserted")
	}
}

func TestSendBreak(t *testing.T) {
	acm, _, hw := startACM(t)

	var gotMillis uint16
	acm.SetOnBreak(func(millis uint16) { gotMillis = millis })

	setup := device.SetupPacket{
		RequestType: device.RequestDirectionHostToDevice |
			device.RequestTypeClass | device.RequestRecipientInterface,
		Request: RequestSendBreak,
		Value:   250,
	}
	if err := hw.ControlOut(context.Background(), setup.Bytes(), nil); err != nil {
		t.Fatalf("SEND_BREAK failed: %v", err)
	}
	if gotMillis != 250 {
		t.Errorf("break duration = %d, want 250", gotMillis)
	}
}

func TestSerialDataLoopback(t *testing.T) {
	acm, _, hw := startACM(t)
	ctx := context.Background()

	// Host to device.
	sent := []byte("the quick brown fox")
	type result struct {
		n   int
		err error
	}
	done := make(chan result, 1)
	buf := make([]byte, 64)
	go func() {
		n, err := acm.Read(ctx, buf)
		done <- result{n, err}
	}()
	if err := hw.OutTransfer(ctx, 1, sent); err != nil {
		t.Fatalf("OutTransfer failed: %v", err)
	}
	res := <-done
	if res.err != nil || res.n != len(sent) {
		t.Fatalf("Read: n=%d err=%v", res.n, res.err)
	}
	if !bytes.Equal(buf[:res.n], sent) {
		t.Errorf("Read data = %q", buf[:res.n])
	}

	// Device to host.
	go func() {
		n, err := acm.Write(ctx, sent)
		done <- result{n, err}
	}()
	n, err := hw.InTransfer(ctx, 1, buf)
	if err != nil || n != len(sent) {
		t.Fatalf("InTransfer: n=%d err=%v", n, err)
	}
	res = <-done
	if res.err != nil || res.n != len(sent) {
		t.Fatalf("Write: n=%d err=%v", res.n, res.err)
	}
	if !bytes.Equal(buf[:n], sent) {
		t.Errorf("host received %q", buf[:n])
	}
}

func TestSerialStateNotification(t *testing.T) {
	acm, _, hw := startACM(t)
	ctx := context.Background()

	done := make(chan error, 1)
	go func() {
		done <- acm.SendSerialState(ctx, SerialStateTxCarrier|SerialStateRxCarrier)
	}()

	var note [16]byte
	n, err := hw.InTransfer(ctx, 2, note[:])
	if err != nil || n != 10 {
		t.Fatalf("notification read: n=%d err=%v", n, err)
	}
	if err := <-done; err != nil {
		t.Fatalf("SendSerialState failed: %v", err)
	}

	if note[1] != NotificationSerialState {
		t.Errorf("notification code = 0x%02X", note[1])
	}
	if note[8] != SerialStateTxCarrier|SerialStateRxCarrier || note[9] != 0 {
		t.Errorf("state bytes = % X", note[8:10])
	}
}

func TestUnknownClassRequestStalls(t *testing.T) {
	_, _, hw := startACM(t)
	setup := device.SetupPacket{
		RequestType: device.RequestDirectionHostToDevice |
			device.RequestTypeClass | device.RequestRecipientInterface,
		Request: 0x7F,
	}
	err := hw.ControlOut(context.Background(), setup.Bytes(), nil)
	if !errors.Is(err, pkg.ErrStall) {
		t.Errorf("unknown request = %v, want ErrStall", err)
	}
}
