package storage

import "github.com/marlowdb/walcore/bytecodec"

// Access is a cursor over a contiguous range of a Storage: a fixed
// [location, location+length) window, typed big-endian read/write
// primitives, and scoped endpoint release. Every exit path must call
// Close (§4.7) — it releases whatever Endpoint is currently held.
type Access struct {
	storage  Storage
	location int64
	length   int64
	writable bool

	index int64
	ep    Endpoint
}

// NewAccess binds a cursor to [location, location+length) in storage.
// writable is narrowed to storage.Writable() && writable by convention of
// the caller (Transaction.access does this narrowing per §4.8).
func NewAccess(s Storage, location, length int64, writable bool) (*Access, error) {
	if location < 0 || length <= 0 {
		return nil, outOfRange("access: invalid window [%d,+%d)", location, length)
	}
	return &Access{storage: s, location: location, length: length, writable: writable, index: location}, nil
}

// Reinit rebinds an already-allocated Access to a new window, releasing
// whatever endpoint it currently holds first. Used by the WAL's access pool
// (§4.9.2) to recycle Access values across transactions instead of
// allocating one per acquisition.
func (a *Access) Reinit(s Storage, location, length int64, writable bool) error {
	if location < 0 || length <= 0 {
		return outOfRange("access: invalid window [%d,+%d)", location, length)
	}
	if a.ep != nil {
		_ = a.storage.ReleaseEndpoint(a.ep)
		a.ep = nil
	}
	a.storage = s
	a.location = location
	a.length = length
	a.writable = writable
	a.index = location
	return nil
}

func (a *Access) Location() int64 { return a.location }
func (a *Access) Length() int64   { return a.length }
func (a *Access) Index() int64    { return a.index }

// Reset moves the cursor back to the start of the window.
func (a *Access) Reset() { a.index = a.location }

// Seek moves the cursor to an offset relative to the window's location.
func (a *Access) Seek(k int64) { a.index = a.location + k }

// Skip advances the cursor by n bytes (n may be negative).
func (a *Access) Skip(n int64) { a.index += n }

// Disjoint reports whether the two Access windows do not overlap.
func (a *Access) Disjoint(other *Access) bool {
	aEnd := a.location + a.length
	bEnd := other.location + other.length
	return aEnd <= other.location || bEnd <= a.location
}

func (a *Access) checkBounds(n int64) error {
	if a.index < a.location || a.index+n > a.location+a.length {
		return outOfRange("access: operation at %d (len %d) outside window [%d,%d)",
			a.index, n, a.location, a.location+a.length)
	}
	return nil
}

// ensureEndpoint makes sure a.ep covers a.index, releasing and
// re-acquiring across Storage as the cursor moves past the current
// endpoint's range (§4.7: "re-seek past the endpoint's range" ends the
// borrow).
func (a *Access) ensureEndpoint() error {
	if a.ep != nil && a.index >= a.ep.LowerBound() && a.index < a.ep.UpperBound() {
		return nil
	}
	if a.ep != nil {
		_ = a.storage.ReleaseEndpoint(a.ep)
		a.ep = nil
	}
	ep, err := a.storage.AcquireEndpointAt(a.index)
	if err != nil {
		return err
	}
	a.ep = ep
	return nil
}

// Close releases the current endpoint, if any. Idempotent.
func (a *Access) Close() error {
	if a.ep == nil {
		return nil
	}
	err := a.storage.ReleaseEndpoint(a.ep)
	a.ep = nil
	return err
}

func (a *Access) checkWritable() error {
	if !a.writable {
		return outOfRange("access: not writable")
	}
	return nil
}

// readBytesChunked reads n bytes starting at a.index, crossing endpoint
// boundaries as needed, and advances the cursor.
func (a *Access) readBytesChunked(buf []byte) error {
	remaining := len(buf)
	off := 0
	for remaining > 0 {
		if err := a.ensureEndpoint(); err != nil {
			return err
		}
		avail := int(a.ep.UpperBound() - a.index)
		n := remaining
		if n > avail {
			n = avail
		}
		if err := a.ep.ReadBytes(a.index, buf[off:off+n]); err != nil {
			return err
		}
		a.index += int64(n)
		off += n
		remaining -= n
	}
	return nil
}

func (a *Access) writeBytesChunked(buf []byte) error {
	remaining := len(buf)
	off := 0
	for remaining > 0 {
		if err := a.ensureEndpoint(); err != nil {
			return err
		}
		avail := int(a.ep.UpperBound() - a.index)
		n := remaining
		if n > avail {
			n = avail
		}
		if err := a.ep.WriteBytes(a.index, buf[off:off+n]); err != nil {
			return err
		}
		a.index += int64(n)
		off += n
		remaining -= n
	}
	return nil
}

// ReadBytes reads n bytes at the cursor, advancing it. May cross endpoint
// boundaries.
func (a *Access) ReadBytes(n int) ([]byte, error) {
	if err := a.checkBounds(int64(n)); err != nil {
		return nil, err
	}
	buf := make([]byte, n)
	if err := a.readBytesChunked(buf); err != nil {
		return nil, err
	}
	return buf, nil
}

// ReadBytesInto reads into buf[start:start+n] at the cursor, advancing it.
func (a *Access) ReadBytesInto(buf []byte, start, n int) error {
	if err := a.checkBounds(int64(n)); err != nil {
		return err
	}
	return a.readBytesChunked(buf[start : start+n])
}

// WriteBytes writes buf[start:start+n] at the cursor, advancing it.
func (a *Access) WriteBytes(buf []byte, start, n int) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if err := a.checkBounds(int64(n)); err != nil {
		return err
	}
	return a.writeBytesChunked(buf[start : start+n])
}

// typedReadFast decodes a primitive at the cursor: if it fits within the
// current endpoint's bound, delegate directly; otherwise fall back to a
// byte-by-byte chunked read and decode (straddling, §4.1/§4.7).
func typedReadFast[T any](a *Access, size int, direct func(Endpoint, int64) (T, error), decode func([]byte) T) (T, error) {
	var zero T
	if err := a.checkBounds(int64(size)); err != nil {
		return zero, err
	}
	if err := a.ensureEndpoint(); err != nil {
		return zero, err
	}
	if a.index+int64(size) <= a.ep.UpperBound() {
		v, err := direct(a.ep, a.index)
		if err != nil {
			return zero, err
		}
		a.index += int64(size)
		return v, nil
	}
	buf := make([]byte, size)
	if err := a.readBytesChunked(buf); err != nil {
		return zero, err
	}
	return decode(buf), nil
}

func typedWriteFast(a *Access, size int, index int64, encode func([]byte), direct func(Endpoint, int64) error) error {
	if err := a.checkWritable(); err != nil {
		return err
	}
	if err := a.checkBounds(int64(size)); err != nil {
		return err
	}
	if err := a.ensureEndpoint(); err != nil {
		return err
	}
	if a.index+int64(size) <= a.ep.UpperBound() {
		if err := direct(a.ep, a.index); err != nil {
			return err
		}
		a.index += int64(size)
		return nil
	}
	buf := make([]byte, size)
	encode(buf)
	return a.writeBytesChunked(buf)
}

func (a *Access) ReadI8() (int8, error) {
	return typedReadFast(a, bytecodec.SizeI8, func(e Endpoint, i int64) (int8, error) { return e.ReadI8(i) }, bytecodec.GetI8)
}
func (a *Access) WriteI8(v int8) error {
	return typedWriteFast(a, bytecodec.SizeI8, a.index, func(b []byte) { bytecodec.PutI8(b, v) }, func(e Endpoint, i int64) error { return e.WriteI8(i, v) })
}

func (a *Access) ReadU8() (uint8, error) {
	return typedReadFast(a, bytecodec.SizeU8, func(e Endpoint, i int64) (uint8, error) { return e.ReadU8(i) }, bytecodec.GetU8)
}
func (a *Access) WriteU8(v uint8) error {
	return typedWriteFast(a, bytecodec.SizeU8, a.index, func(b []byte) { bytecodec.PutU8(b, v) }, func(e Endpoint, i int64) error { return e.WriteU8(i, v) })
}

func (a *Access) ReadI16() (int16, error) {
	return typedReadFast(a, bytecodec.SizeI16, func(e Endpoint, i int64) (int16, error) { return e.ReadI16(i) }, bytecodec.GetI16)
}
func (a *Access) WriteI16(v int16) error {
	return typedWriteFast(a, bytecodec.SizeI16, a.index, func(b []byte) { bytecodec.PutI16(b, v) }, func(e Endpoint, i int64) error { return e.WriteI16(i, v) })
}

func (a *Access) ReadU16() (uint16, error) {
	return typedReadFast(a, bytecodec.SizeU16, func(e Endpoint, i int64) (uint16, error) { return e.ReadU16(i) }, bytecodec.GetU16)
}
func (a *Access) WriteU16(v uint16) error {
	return typedWriteFast(a, bytecodec.SizeU16, a.index, func(b []byte) { bytecodec.PutU16(b, v) }, func(e Endpoint, i int64) error { return e.WriteU16(i, v) })
}

func (a *Access) ReadI32() (int32, error) {
	return typedReadFast(a, bytecodec.SizeI32, func(e Endpoint, i int64) (int32, error) { return e.ReadI32(i) }, bytecodec.GetI32)
}
func (a *Access) WriteI32(v int32) error {
	return typedWriteFast(a, bytecodec.SizeI32, a.index, func(b []byte) { bytecodec.PutI32(b, v) }, func(e Endpoint, i int64) error { return e.WriteI32(i, v) })
}

func (a *Access) ReadU32() (uint32, error) {
	return typedReadFast(a, bytecodec.SizeU32, func(e Endpoint, i int64) (uint32, error) { return e.ReadU32(i) }, bytecodec.GetU32)
}
func (a *Access) WriteU32(v uint32) error {
	return typedWriteFast(a, bytecodec.SizeU32, a.index, func(b []byte) { bytecodec.PutU32(b, v) }, func(e Endpoint, i int64) error { return e.WriteU32(i, v) })
}

func (a *Access) ReadI64() (int64, error) {
	return typedReadFast(a, bytecodec.SizeI64, func(e Endpoint, i int64) (int64, error) { return e.ReadI64(i) }, bytecodec.GetI64)
}
func (a *Access) WriteI64(v int64) error {
	return typedWriteFast(a, bytecodec.SizeI64, a.index, func(b []byte) { bytecodec.PutI64(b, v) }, func(e Endpoint, i int64) error { return e.WriteI64(i, v) })
}

func (a *Access) ReadU64() (uint64, error) {
	return typedReadFast(a, bytecodec.SizeU64, func(e Endpoint, i int64) (uint64, error) { return e.ReadU64(i) }, bytecodec.GetU64)
}
func (a *Access) WriteU64(v uint64) error {
	return typedWriteFast(a, bytecodec.SizeU64, a.index, func(b []byte) { bytecodec.PutU64(b, v) }, func(e Endpoint, i int64) error { return e.WriteU64(i, v) })
}

func (a *Access) ReadF32() (float32, error) {
	return typedReadFast(a, bytecodec.SizeF32, func(e Endpoint, i int64) (float32, error) { return e.ReadF32(i) }, bytecodec.GetF32)
}
func (a *Access) WriteF32(v float32) error {
	return typedWriteFast(a, bytecodec.SizeF32, a.index, func(b []byte) { bytecodec.PutF32(b, v) }, func(e Endpoint, i int64) error { return e.WriteF32(i, v) })
}

func (a *Access) ReadF64() (float64, error) {
	return typedReadFast(a, bytecodec.SizeF64, func(e Endpoint, i int64) (float64, error) { return e.ReadF64(i) }, bytecodec.GetF64)
}
func (a *Access) WriteF64(v float64) error {
	return typedWriteFast(a, bytecodec.SizeF64, a.index, func(b []byte) { bytecodec.PutF64(b, v) }, func(e Endpoint, i int64) error { return e.WriteF64(i, v) })
}
