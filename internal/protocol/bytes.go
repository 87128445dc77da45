package protocol

import (
	"bytes"
	"encoding/binary"
)

// maxVarintShift bounds decoding to 32 bits of payload.
const maxVarintShift = 32

// ReadVarint decodes a base-128 varint at offset. Seven data bits per byte,
// least-significant group first, 0x80 as continuation. It returns the value
// and the number of bytes read, or (-1, -1) if the data ends first or the
// value does not fit in 32 bits.
func ReadVarint(data []byte, offset int) (int, int) {
	if offset < 0 {
		return -1, -1
	}

	value := 0
	shift := 0
	count := 0

	for {
		if offset+count >= len(data) {
			return -1, -1
		}

		b := data[offset+count]
		count++
		value |= int(b&0x7F) << shift

		if b&0x80 == 0 {
			return value, count
		}

		shift += 7
		if shift >= maxVarintShift {
			return -1, -1
		}
	}
}

// AppendVarint appends the varint encoding of v to dst.
func AppendVarint(dst []byte, v uint32) []byte {
	for v >= 0x80 {
		dst = append(dst, byte(v)|0x80)
		v >>= 7
	}
	return append(dst, byte(v))
}

// EncodeVarint returns the varint encoding of v.
func EncodeVarint(v uint32) []byte {
	return AppendVarint(make([]byte, 0, 5), v)
}

// ReadUint32LE reads a little-endian uint32 at offset. Out-of-range reads
// return 0.
func ReadUint32LE(data []byte, offset int) uint32 {
	if offset < 0 || offset+4 > len(data) {
		return 0
	}
	return binary.LittleEndian.Uint32(data[offset:])
}

// ReadUint16LE reads a little-endian uint16 at offset. Out-of-range reads
// return 0.
func ReadUint16LE(data []byte, offset int) uint16 {
	if offset < 0 || offset+2 > len(data) {
		return 0
	}
	return binary.LittleEndian.Uint16(data[offset:])
}

// IndexFrom returns the index of the first occurrence of pattern in data at
// or after offset, or -1.
func IndexFrom(data, pattern []byte, offset int) int {
	if offset < 0 {
		offset = 0
	}
	if len(pattern) == 0 || offset > len(data)-len(pattern) {
		return -1
	}
	idx := bytes.Index(data[offset:], pattern)
	if idx < 0 {
		return -1
	}
	return offset + idx
}
