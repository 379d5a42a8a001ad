package hal

// MemorySize is the total size of the shared endpoint packet memory in bytes.
const MemorySize = 1024

// MemoryWords is the packet memory size in 32-bit words.
const MemoryWords = MemorySize / 4

// PacketMemory is the controller's shared 1024-byte endpoint buffer memory.
// The underlying memory is only word-addressable: every access is an aligned
// 32-bit read or write, and byte-granular operations merge into the
// surrounding word. Words are little-endian (byte at offset n occupies bits
// 8*(n%4)..8*(n%4)+7 of word n/4).
type PacketMemory [MemoryWords]uint32

// ReadWord returns the 32-bit word containing the given byte offset.
// The offset is truncated to its word boundary.
func (m *PacketMemory) ReadWord(offset uint16) uint32 {
	return m[(offset%MemorySize)/4]
}

// WriteWord stores a 32-bit word at the word boundary containing offset.
func (m *PacketMemory) WriteWord(offset uint16, value uint32) {
	m[(offset%MemorySize)/4] = value
}

// ReadBytes copies len(buf) bytes starting at offset into buf using aligned
// word reads. Whole aligned words are extracted directly; leading and
// trailing partial words are shifted and masked.
func (m *PacketMemory) ReadBytes(offset uint16, buf []byte) {
	pos := int(offset)
	i := 0

	// Leading bytes up to the next word boundary.
	for i < len(buf) && pos%4 != 0 {
		word := m[(pos/4)%MemoryWords]
		buf[i] = byte(word >> (8 * (pos % 4)))
		pos++
		i++
	}

	// Whole words.
	for len(buf)-i >= 4 {
		word := m[(pos/4)%MemoryWords]
		buf[i] = byte(word)
		buf[i+1] = byte(word >> 8)
		buf[i+2] = byte(word >> 16)
		buf[i+3] = byte(word >> 24)
		pos += 4
		i += 4
	}

	// Trailing bytes.
	for i < len(buf) {
		word := m[(pos/4)%MemoryWords]
		buf[i] = byte(word >> (8 * (pos % 4)))
		pos++
		i++
	}
}

// WriteBytes copies data into packet memory starting at offset using aligned
// word writes. Partial words at either end are merged with a
// read-modify-write so neighboring bytes are preserved.
func (m *PacketMemory) WriteBytes(offset uint16, data []byte) {
	pos := int(offset)
	i := 0

	// Leading bytes up to the next word boundary.
	for i < len(data) && pos%4 != 0 {
		idx := (pos / 4) % MemoryWords
		shift := uint(8 * (pos % 4))
		m[idx] = m[idx]&^(0xFF<<shift) | uint32(data[i])<<shift
		pos++
		i++
	}

	// Whole words.
	for len(data)-i >= 4 {
		m[(pos/4)%MemoryWords] = uint32(data[i]) |
			uint32(data[i+1])<<8 |
			uint32(data[i+2])<<16 |
			uint32(data[i+3])<<24
		pos += 4
		i += 4
	}

	// Trailing bytes.
	for i < len(data) {
		idx := (pos / 4) % MemoryWords
		shift := uint(8 * (pos % 4))
		m[idx] = m[idx]&^(0xFF<<shift) | uint32(data[i])<<shift
		pos++
		i++
	}
}

// Clear zeroes the entire packet memory.
func (m *PacketMemory) Clear() {
	for i := range m {
		m[i] = 0
	}
}
