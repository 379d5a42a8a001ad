package device

import (
	"github.com/ardnew/usbdev/device/hal"
	"github.com/ardnew/usbdev/pkg"
)

// SetupRegionSize is the packet memory reserved at offset 0 for the most
// recently received SETUP packet.
const SetupRegionSize = 8

// Region is a byte range inside the shared packet memory, 4-byte aligned
// at both ends.
type Region struct {
	Offset uint16
	Length uint16
}

// End returns the first offset past the region.
func (r Region) End() uint16 {
	return r.Offset + r.Length
}

// Overlaps reports whether two regions share any byte.
func (r Region) Overlaps(other Region) bool {
	return r.Offset < other.End() && other.Offset < r.End()
}

// Allocator hands out non-overlapping buffer regions from the 1024-byte
// packet memory. Allocation is append-only: regions are never returned
// individually, only reclaimed wholesale by Reset on bus reset or by
// Rewind when a configuration is torn down.
type Allocator struct {
	cursor uint16
}

// NewAllocator creates an allocator with the SETUP region reserved.
func NewAllocator() *Allocator {
	return &Allocator{cursor: SetupRegionSize}
}

// Allocate reserves size bytes, rounded up to a 4-byte boundary, and
// returns the region. It fails with ErrNoMemory when the request would
// extend past the end of packet memory.
func (a *Allocator) Allocate(size uint16) (Region, error) {
	if size == 0 {
		return Region{}, pkg.ErrInvalidParameter
	}
	aligned := (size + 3) &^ 3
	if int(a.cursor)+int(aligned) > hal.MemorySize {
		pkg.LogWarn(pkg.ComponentAllocator, "packet memory exhausted",
			"cursor", a.cursor, "requested", size)
		return Region{}, pkg.ErrNoMemory
	}
	r := Region{Offset: a.cursor, Length: aligned}
	a.cursor += aligned

	pkg.LogDebug(pkg.ComponentAllocator, "region allocated",
		"offset", r.Offset, "length", r.Length)
	return r, nil
}

// Reset returns the allocator to its initial state with only the SETUP
// region reserved. Called on every bus reset.
func (a *Allocator) Reset() {
	a.cursor = SetupRegionSize
}

// Mark returns the current cursor so a failed configuration attempt can be
// rolled back with Rewind.
func (a *Allocator) Mark() uint16 {
	return a.cursor
}

// Rewind moves the cursor back to a position previously returned by Mark.
// Positions ahead of the cursor are ignored.
func (a *Allocator) Rewind(mark uint16) {
	if mark >= SetupRegionSize && mark <= a.cursor {
		a.cursor = mark
	}
}

// Free returns the number of unallocated bytes remaining.
func (a *Allocator) Free() uint16 {
	return hal.MemorySize - a.cursor
}
