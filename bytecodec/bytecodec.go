// Package bytecodec provides fixed big-endian encode/decode of primitive
// values into and out of byte slices at a given offset.
//
// This is the lowest layer of the storage stack: Endpoint implementations
// delegate their typed reads/writes here once they have a []byte window to
// operate on. Every function is a pure, allocation-free transform; bounds
// checking is the caller's responsibility (Endpoint enforces it).
package bytecodec

import "math"

// Sizes in bytes of each primitive, for callers computing buffer windows.
const (
	SizeI8  = 1
	SizeU8  = 1
	SizeI16 = 2
	SizeU16 = 2
	SizeI32 = 4
	SizeU32 = 4
	SizeI64 = 8
	SizeU64 = 8
	SizeF32 = 4
	SizeF64 = 8
)

func PutI8(b []byte, v int8) { b[0] = byte(v) }
func GetI8(b []byte) int8    { return int8(b[0]) }

func PutU8(b []byte, v uint8) { b[0] = v }
func GetU8(b []byte) uint8    { return b[0] }

func PutI16(b []byte, v int16) { PutU16(b, uint16(v)) }
func GetI16(b []byte) int16    { return int16(GetU16(b)) }

func PutU16(b []byte, v uint16) {
	b[0] = byte(v >> 8)
	b[1] = byte(v)
}

func GetU16(b []byte) uint16 {
	return uint16(b[0])<<8 | uint16(b[1])
}

func PutI32(b []byte, v int32) { PutU32(b, uint32(v)) }
func GetI32(b []byte) int32    { return int32(GetU32(b)) }

func PutU32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func GetU32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}

func PutI64(b []byte, v int64) { PutU64(b, uint64(v)) }
func GetI64(b []byte) int64    { return int64(GetU64(b)) }

func PutU64(b []byte, v uint64) {
	b[0] = byte(v >> 56)
	b[1] = byte(v >> 48)
	b[2] = byte(v >> 40)
	b[3] = byte(v >> 32)
	b[4] = byte(v >> 24)
	b[5] = byte(v >> 16)
	b[6] = byte(v >> 8)
	b[7] = byte(v)
}

func GetU64(b []byte) uint64 {
	return uint64(b[0])<<56 | uint64(b[1])<<48 | uint64(b[2])<<40 | uint64(b[3])<<32 |
		uint64(b[4])<<24 | uint64(b[5])<<16 | uint64(b[6])<<8 | uint64(b[7])
}

func PutF32(b []byte, v float32) { PutU32(b, math.Float32bits(v)) }
func GetF32(b []byte) float32    { return math.Float32frombits(GetU32(b)) }

func PutF64(b []byte, v float64) { PutU64(b, math.Float64bits(v)) }
func GetF64(b []byte) float64    { return math.Float64frombits(GetU64(b)) }
