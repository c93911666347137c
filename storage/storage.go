// Package storage implements the flat addressable byte store that the WAL
// core is layered over: a uniform Storage/Endpoint contract with four
// concrete substrates (in-memory, direct single file, cached single file,
// split multi-file), plus the Access cursor used to read/write typed
// values through any of them.
package storage

import "github.com/marlowdb/walcore/walerr"

// PageSize (P) is the fixed page size in bytes. Page locations are always
// multiples of PageSize; a 13-bit intra-page index addresses one byte
// within a page.
const PageSize = 8192

// Endpoint is a bounded, random-access view over a Storage's byte space.
// All indices passed to its methods are absolute positions in the owning
// Storage's address space; the endpoint must fail with ErrOutOfRange for
// any index outside [LowerBound, UpperBound).
type Endpoint interface {
	LowerBound() int64
	UpperBound() int64

	ReadI8(index int64) (int8, error)
	WriteI8(index int64, v int8) error
	ReadU8(index int64) (uint8, error)
	WriteU8(index int64, v uint8) error
	ReadI16(index int64) (int16, error)
	WriteI16(index int64, v int16) error
	ReadU16(index int64) (uint16, error)
	WriteU16(index int64, v uint16) error
	ReadI32(index int64) (int32, error)
	WriteI32(index int64, v int32) error
	ReadU32(index int64) (uint32, error)
	WriteU32(index int64, v uint32) error
	ReadI64(index int64) (int64, error)
	WriteI64(index int64, v int64) error
	ReadU64(index int64) (uint64, error)
	WriteU64(index int64, v uint64) error
	ReadF32(index int64) (float32, error)
	WriteF32(index int64, v float32) error
	ReadF64(index int64) (float64, error)
	WriteF64(index int64, v float64) error

	ReadBytes(index int64, buf []byte) error
	WriteBytes(index int64, buf []byte) error
}

// Storage is the capability a byte-addressable substrate must expose:
// size, flush, cut, and scoped endpoint acquisition. Multiple concrete
// substrates implement it (InMemoryStore, DirectFileStore,
// BufferedFileStore, SplitFileStore) plus the WAL's per-transaction
// SnapshotStorage.
type Storage interface {
	// Size returns the current logical byte length.
	Size() (uint64, error)
	// Writable reports whether mutating operations are permitted.
	Writable() bool
	// Flush makes all prior writes durable. Fails if closed or on I/O error.
	Flush() error
	// Cut logically removes the byte interval [from, to). Returns whether
	// any state changed. Fails with ErrOutOfRange if from < 0 or from > to.
	Cut(from, to int64) (bool, error)
	// AcquireEndpointAt returns an Endpoint whose range covers index.
	// Fails with ErrOutOfRange if index < 0.
	AcquireEndpointAt(index int64) (Endpoint, error)
	// ReleaseEndpoint returns the Endpoint to the Storage. Substrate
	// specific; may be a no-op.
	ReleaseEndpoint(ep Endpoint) error
	// Close idempotently fails subsequent operations. Does not imply Flush.
	Close() error
}

func outOfRange(format string, args ...any) error {
	return walerr.OutOfRange(format, args...)
}

// pageLocation rounds index down to the nearest page boundary.
func pageLocation(index int64) int64 {
	return index &^ (PageSize - 1)
}
