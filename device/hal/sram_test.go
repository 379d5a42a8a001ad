package hal

import (
	"bytes"
	"testing"
)

func TestPacketMemoryWordAccess(t *testing.T) {
	var m PacketMemory

	m.WriteWord(0, 0xDEADBEEF)
	if got := m.ReadWord(0); got != 0xDEADBEEF {
		t.Errorf("ReadWord(0) = %#x, want 0xDEADBEEF", got)
	}

	// Offsets within the same word resolve to the word boundary.
	if got := m.ReadWord(3); got != 0xDEADBEEF {
		t.Errorf("ReadWord(3) = %#x, want 0xDEADBEEF", got)
	}

	m.WriteWord(1020, 0x12345678)
	if got := m.ReadWord(1020); got != 0x12345678 {
		t.Errorf("ReadWord(1020) = %#x, want 0x12345678", got)
	}
}

func TestPacketMemoryByteRoundTrip(t *testing.T) {
	tests := []struct {
		name   string
		offset uint16
		length int
	}{
		{"aligned word multiple", 0, 8},
		{"aligned short", 4, 3},
		{"unaligned start", 1, 8},
		{"unaligned both ends", 3, 7},
		{"single byte", 9, 1},
		{"spanning many words", 2, 65},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var m PacketMemory

			src := make([]byte, tt.length)
			for i := range src {
				src[i] = byte(0xA0 + i)
			}
			m.WriteBytes(tt.offset, src)

			dst := make([]byte, tt.length)
			m.ReadBytes(tt.offset, dst)

			if !bytes.Equal(src, dst) {
				t.Errorf("round trip at offset %d: got % x, want % x",
					tt.offset, dst, src)
			}
		})
	}
}

func TestPacketMemoryByteWritePreservesNeighbors(t *testing.T) {
	var m PacketMemory

	m.WriteWord(0, 0xFFFFFFFF)
	m.WriteWord(4, 0xFFFFFFFF)

	// Writing bytes 1..5 must leave bytes 0, 6, and 7 untouched.
	m.WriteBytes(1, []byte{0x11, 0x22, 0x33, 0x44, 0x55})

	if got := m.ReadWord(0); got != 0x332211FF {
		t.Errorf("word 0 = %#x, want 0x332211ff", got)
	}
	if got := m.ReadWord(4); got != 0xFFFF5544 {
		t.Errorf("word 1 = %#x, want 0xffff5544", got)
	}
}

func TestPacketMemoryClear(t *testing.T) {
	var m PacketMemory

	m.WriteBytes(0, []byte{1, 2, 3, 4, 5, 6, 7, 8})
	m.Clear()

	buf := make([]byte, 8)
	m.ReadBytes(0, buf)
	for i, b := range buf {
		if b != 0 {
			t.Fatalf("byte %d = %#x after Clear, want 0", i, b)
		}
	}
}
