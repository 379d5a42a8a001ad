package sim

import (
	"errors"
	"testing"

	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

func newRunning(t *testing.T) *Controller {
	t.Helper()
	c := New()
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c
}

func configureControl(t *testing.T, c *Controller) {
	t.Helper()
	for _, cfg := range []hal.EndpointConfig{
		{Number: 0, Direction: hal.DirIn, Type: hal.TypeControl,
			MaxPacketSize: 64, BufferOffset: 8, BufferLength: 64},
		{Number: 0, Direction: hal.DirOut, Type: hal.TypeControl,
			MaxPacketSize: 64, BufferOffset: 72, BufferLength: 64},
	} {
		if err := c.ConfigureEndpoint(cfg); err != nil {
			t.Fatalf("ConfigureEndpoint: %v", err)
		}
	}
}

func TestLifecycle(t *testing.T) {
	c := New()

	if err := c.Start(); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("Start before Init = %v, want ErrNotConfigured", err)
	}
	if err := c.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := c.Init(); !errors.Is(err, pkg.ErrAlreadyRunning) {
		t.Errorf("second Init = %v, want ErrAlreadyRunning", err)
	}
	if err := c.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := c.Stop(); !errors.Is(err, pkg.ErrNotRunning) {
		t.Errorf("second Stop = %v, want ErrNotRunning", err)
	}
}

func TestSetupRaisesInterrupt(t *testing.T) {
	c := newRunning(t)
	configureControl(t, c)
	c.SetInterruptEnable(hal.IntReset | hal.IntEndpointMask)

	calls := 0
	c.SetInterruptHandler(func() {
		calls++
		status := c.InterruptStatus()
		if status&hal.IntEndpoint(0) == 0 {
			t.Errorf("status = %#x, want endpoint 0 bit set", status)
		}
		epStatus := c.EndpointStatus(0)
		if epStatus&hal.EPIntSetup == 0 {
			t.Errorf("endpoint status = %#x, want setup flag", epStatus)
		}
		c.AckEndpointStatus(0, hal.EPIntSetup)
	})

	setup := [8]byte{0x80, 0x06, 0x00, 0x01, 0x00, 0x00, 0x12, 0x00}
	if err := c.SendSetup(setup); err != nil {
		t.Fatalf("SendSetup: %v", err)
	}
	if calls != 1 {
		t.Fatalf("handler invoked %d times, want 1", calls)
	}

	var got [8]byte
	c.Memory().ReadBytes(0, got[:])
	if got != setup {
		t.Errorf("setup buffer = % x, want % x", got, setup)
	}
	if c.EndpointStatus(0) != 0 {
		t.Errorf("endpoint status = %#x after ack, want 0", c.EndpointStatus(0))
	}
}

func TestSetupClearsControlStall(t *testing.T) {
	c := newRunning(t)
	configureControl(t, c)

	c.SetStall(0, hal.DirIn, true)
	c.SetStall(0, hal.DirOut, true)

	if err := c.SendSetup([8]byte{0x80, 0x00}); err != nil {
		t.Fatalf("SendSetup: %v", err)
	}
	if c.Stalled(0, hal.DirIn) || c.Stalled(0, hal.DirOut) {
		t.Error("control endpoint still halted after SETUP")
	}
}

func TestOutHandshakes(t *testing.T) {
	c := newRunning(t)
	cfg := hal.EndpointConfig{Number: 2, Direction: hal.DirOut, Type: hal.TypeBulk,
		MaxPacketSize: 64, BufferOffset: 136, BufferLength: 64}
	if err := c.ConfigureEndpoint(cfg); err != nil {
		t.Fatalf("ConfigureEndpoint: %v", err)
	}

	data := []byte("hello")

	if err := c.SendOut(2, data); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("SendOut unarmed = %v, want ErrNAK", err)
	}

	c.ArmReceive(2)
	if err := c.SendOut(2, data); err != nil {
		t.Fatalf("SendOut armed: %v", err)
	}
	if got := c.ReceiveCount(2); got != uint16(len(data)) {
		t.Errorf("ReceiveCount = %d, want %d", got, len(data))
	}
	buf := make([]byte, len(data))
	c.Memory().ReadBytes(136, buf)
	if string(buf) != "hello" {
		t.Errorf("buffer = %q, want %q", buf, "hello")
	}
	if c.EndpointStatus(2)&hal.EPIntOutReceived == 0 {
		t.Error("out-received flag not raised")
	}

	// Reception disarms the endpoint until rearmed.
	if err := c.SendOut(2, data); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("SendOut after reception = %v, want ErrNAK", err)
	}

	c.SetStall(2, hal.DirOut, true)
	c.ArmReceive(2)
	if err := c.SendOut(2, data); !errors.Is(err, pkg.ErrStall) {
		t.Errorf("SendOut halted = %v, want ErrStall", err)
	}
}

func TestOutOverrun(t *testing.T) {
	c := newRunning(t)
	cfg := hal.EndpointConfig{Number: 1, Direction: hal.DirOut, Type: hal.TypeBulk,
		MaxPacketSize: 8, BufferOffset: 136, BufferLength: 8}
	if err := c.ConfigureEndpoint(cfg); err != nil {
		t.Fatalf("ConfigureEndpoint: %v", err)
	}

	c.ArmReceive(1)
	err := c.SendOut(1, make([]byte, 16))
	if !errors.Is(err, pkg.ErrOverrun) {
		t.Fatalf("SendOut oversized = %v, want ErrOverrun", err)
	}
	if c.EndpointStatus(1)&hal.EPIntOutOverrun == 0 {
		t.Error("overrun flag not raised")
	}
}

func TestInHandshakes(t *testing.T) {
	c := newRunning(t)
	cfg := hal.EndpointConfig{Number: 3, Direction: hal.DirIn, Type: hal.TypeBulk,
		MaxPacketSize: 64, BufferOffset: 200, BufferLength: 64}
	if err := c.ConfigureEndpoint(cfg); err != nil {
		t.Fatalf("ConfigureEndpoint: %v", err)
	}

	buf := make([]byte, 64)
	if _, err := c.ReceiveIn(3, buf); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("ReceiveIn unstaged = %v, want ErrNAK", err)
	}

	c.Memory().WriteBytes(200, []byte("world"))
	c.Transmit(3, 5)
	n, err := c.ReceiveIn(3, buf)
	if err != nil {
		t.Fatalf("ReceiveIn: %v", err)
	}
	if n != 5 || string(buf[:n]) != "world" {
		t.Errorf("ReceiveIn = %d %q, want 5 %q", n, buf[:n], "world")
	}
	if c.EndpointStatus(3)&hal.EPIntInComplete == 0 {
		t.Error("in-complete flag not raised")
	}

	if _, err := c.ReceiveIn(3, buf); !errors.Is(err, pkg.ErrNAK) {
		t.Errorf("ReceiveIn after completion = %v, want ErrNAK", err)
	}
}

func TestZeroLengthFlagIsOutOnly(t *testing.T) {
	c := newRunning(t)
	for _, cfg := range []hal.EndpointConfig{
		{Number: 2, Direction: hal.DirOut, Type: hal.TypeBulk,
			MaxPacketSize: 64, BufferOffset: 136, BufferLength: 64},
		{Number: 2, Direction: hal.DirIn, Type: hal.TypeBulk,
			MaxPacketSize: 64, BufferOffset: 200, BufferLength: 64},
	} {
		if err := c.ConfigureEndpoint(cfg); err != nil {
			t.Fatalf("ConfigureEndpoint: %v", err)
		}
	}

	// A zero-length OUT packet carries the zero-length flag.
	c.ArmReceive(2)
	if err := c.SendOut(2, nil); err != nil {
		t.Fatalf("SendOut: %v", err)
	}
	flags := c.EndpointStatus(2)
	if flags&hal.EPIntOutReceived == 0 || flags&hal.EPIntZeroLength == 0 {
		t.Errorf("zero-length OUT flags = %#x, want out-received and zero-length", flags)
	}
	c.AckEndpointStatus(2, flags)

	// A zero-length IN packet completes without it. Raising the flag here
	// would route a status-stage acknowledgement into the OUT path.
	c.Transmit(2, 0)
	if _, err := c.ReceiveIn(2, nil); err != nil {
		t.Fatalf("ReceiveIn: %v", err)
	}
	flags = c.EndpointStatus(2)
	if flags&hal.EPIntInComplete == 0 {
		t.Errorf("zero-length IN flags = %#x, want in-complete", flags)
	}
	if flags&hal.EPIntZeroLength != 0 {
		t.Errorf("zero-length IN flags = %#x, zero-length flag is OUT-only", flags)
	}
}

func TestResetClearsState(t *testing.T) {
	c := newRunning(t)
	configureControl(t, c)
	c.SetInterruptEnable(hal.IntReset)
	c.SetAddress(42)

	var sawReset bool
	c.SetInterruptHandler(func() {
		if c.InterruptStatus()&hal.IntReset != 0 {
			sawReset = true
			c.AckInterrupt(hal.IntReset)
		}
	})

	c.Reset()

	if !sawReset {
		t.Error("reset interrupt not delivered")
	}
	if c.Address() != 0 {
		t.Errorf("address = %d after reset, want 0", c.Address())
	}
	// Endpoint configuration does not survive reset.
	if err := c.SendSetup([8]byte{}); !errors.Is(err, pkg.ErrNotConfigured) {
		t.Errorf("SendSetup after reset = %v, want ErrNotConfigured", err)
	}
}

func TestFrameNumberWraps(t *testing.T) {
	c := newRunning(t)
	for i := 0; i < 0x800; i++ {
		c.SOF()
	}
	if got := c.FrameNumber(); got != 0 {
		t.Errorf("frame number = %d after 2048 SOFs, want 0", got)
	}
}

func TestInterruptEnableGatesHandler(t *testing.T) {
	c := newRunning(t)
	calls := 0
	c.SetInterruptHandler(func() {
		calls++
		c.AckInterrupt(hal.IntSOF | hal.IntSuspend)
	})

	c.SetInterruptEnable(0)
	c.SOF()
	if calls != 0 {
		t.Fatalf("handler invoked with interrupts disabled")
	}

	// The flag latched while disabled is still visible.
	if c.InterruptStatus()&hal.IntSOF == 0 {
		t.Error("SOF flag not latched while disabled")
	}

	c.SetInterruptEnable(hal.IntSuspend)
	c.Suspend()
	if calls != 1 {
		t.Fatalf("handler invoked %d times, want 1", calls)
	}
}

func TestWakeupSignal(t *testing.T) {
	c := newRunning(t)
	if c.WakeupSignaled() {
		t.Error("wakeup signaled before request")
	}
	c.SignalResume()
	if !c.WakeupSignaled() {
		t.Error("wakeup not signaled after request")
	}
	if c.WakeupSignaled() {
		t.Error("wakeup indication not cleared on read")
	}
}
