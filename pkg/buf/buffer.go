// Package buf implements the zero-copy byte buffer and tag-length-value
// primitives shared by the STUN/TURN and MTP/DMTP wire codecs.
package buf

import "bytes"

// Buffer is an immutable view over a byte range. Buffers carry no identity:
// two Buffers with equal bytes compare equal regardless of origin.
type Buffer struct {
	data []byte
}

// New wraps data as a Buffer. The caller must not mutate data afterward.
func New(data []byte) Buffer {
	return Buffer{data: data}
}

// Len returns the number of bytes in the buffer.
func (b Buffer) Len() int {
	return len(b.data)
}

// Bytes returns the underlying byte slice. Callers must treat it as
// read-only; Buffer makes no copy.
func (b Buffer) Bytes() []byte {
	return b.data
}

// Slice returns a zero-copy sub-range [start:end).
func (b Buffer) Slice(start, end int) Buffer {
	return Buffer{data: b.data[start:end]}
}

// At returns the byte at index i.
func (b Buffer) At(i int) byte {
	return b.data[i]
}

// Equal reports whether two buffers hold the same bytes.
func (b Buffer) Equal(other Buffer) bool {
	return bytes.Equal(b.data, other.data)
}

// UInt8 reads a big-endian uint8 at offset.
func UInt8(b Buffer, offset int) uint8 {
	return b.data[offset]
}

// UInt16 reads a big-endian uint16 at offset.
func UInt16(b Buffer, offset int) uint16 {
	return uint16(b.data[offset])<<8 | uint16(b.data[offset+1])
}

// UInt32 reads a big-endian uint32 at offset.
func UInt32(b Buffer, offset int) uint32 {
	return uint32(b.data[offset])<<24 | uint32(b.data[offset+1])<<16 |
		uint32(b.data[offset+2])<<8 | uint32(b.data[offset+3])
}

// PutUInt16 writes v as big-endian into dst at offset.
func PutUInt16(dst []byte, offset int, v uint16) {
	dst[offset] = byte(v >> 8)
	dst[offset+1] = byte(v)
}

// PutUInt32 writes v as big-endian into dst at offset.
func PutUInt32(dst []byte, offset int, v uint32) {
	dst[offset] = byte(v >> 24)
	dst[offset+1] = byte(v >> 16)
	dst[offset+2] = byte(v >> 8)
	dst[offset+3] = byte(v)
}

// Pad4 returns n rounded up to the next multiple of 4.
func Pad4(n int) int {
	if r := n % 4; r != 0 {
		return n + (4 - r)
	}
	return n
}
