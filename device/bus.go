package device

import "fmt"

// Bus states as defined in USB 2.0 specification section 9.1.
const (
	StatePowered    BusState = 0 // Powered but not yet reset
	StateDefault    BusState = 1 // Reset received, default address
	StateAddressed  BusState = 2 // Unique address assigned
	StateConfigured BusState = 3 // Configuration selected, operational
	StateSuspended  BusState = 4 // Bus idle, device suspended
)

// BusState represents the device's position in the enumeration sequence.
type BusState uint8

// String returns a human-readable state description.
func (s BusState) String() string {
	switch s {
	case StatePowered:
		return "Powered"
	case StateDefault:
		return "Default"
	case StateAddressed:
		return "Addressed"
	case StateConfigured:
		return "Configured"
	case StateSuspended:
		return "Suspended"
	default:
		return fmt.Sprintf("Unknown State (%d)", s)
	}
}

// busTracker records the bus state and the state to restore after a
// suspend/resume round trip. State only advances through reset, address,
// and configuration events; it never regresses otherwise.
type busTracker struct {
	state BusState
	// resume is the state held before suspend, restored on resume.
	resume BusState
}

// reset moves to Default from any state.
func (b *busTracker) reset() {
	b.state = StateDefault
	b.resume = StateDefault
}

// setAddressed records the outcome of a completed SET_ADDRESS status stage.
// A zero address returns the device to Default.
func (b *busTracker) setAddressed(address uint8) {
	if address == 0 {
		b.state = StateDefault
	} else {
		b.state = StateAddressed
	}
}

// setConfigured records the outcome of an accepted SET_CONFIGURATION.
// Value zero reverts to Addressed.
func (b *busTracker) setConfigured(configured bool) {
	if configured {
		b.state = StateConfigured
	} else {
		b.state = StateAddressed
	}
}

// suspend enters Suspended, remembering the prior state.
func (b *busTracker) suspend() {
	if b.state == StateSuspended {
		return
	}
	b.resume = b.state
	b.state = StateSuspended
}

// wake restores the state held before suspend. A no-op if not suspended.
func (b *busTracker) wake() {
	if b.state != StateSuspended {
		return
	}
	b.state = b.resume
}

// configured reports whether data endpoints are usable.
func (b *busTracker) configured() bool {
	return b.state == StateConfigured
}
