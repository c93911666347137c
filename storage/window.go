package storage

import "github.com/marlowdb/walcore/bytecodec"

// onWrite is invoked after every write covering the absolute range
// [loInclusive, hiExclusive), so the owning Storage can update its
// high-water-mark size via CAS, or a WAL page can record the write as an
// edit, without the window knowing about either.
type onWrite func(loInclusive, hiExclusive int64)

// WindowEndpoint is an Endpoint backed directly by a byte slice held in
// memory, bounded to [base, base+len(buf)). InMemoryStore pages and the
// WAL's WalPage buffers both serve reads/writes through one of these; it
// is exported so the wal package can reuse it for page buffers.
type WindowEndpoint struct {
	base     int64
	buf      []byte
	writable bool
	notify   onWrite
}

// NewWindowEndpoint builds an Endpoint over buf, whose first byte sits at
// absolute position base. notify may be nil.
func NewWindowEndpoint(base int64, buf []byte, writable bool, notify onWrite) *WindowEndpoint {
	return &WindowEndpoint{base: base, buf: buf, writable: writable, notify: notify}
}

func (w *WindowEndpoint) LowerBound() int64 { return w.base }
func (w *WindowEndpoint) UpperBound() int64 { return w.base + int64(len(w.buf)) }

func (w *WindowEndpoint) slice(index int64, n int) ([]byte, error) {
	if index < w.base || index+int64(n) > w.base+int64(len(w.buf)) {
		return nil, outOfRange("window: index %d (len %d) outside [%d,%d)", index, n, w.base, w.base+int64(len(w.buf)))
	}
	off := index - w.base
	return w.buf[off : off+int64(n)], nil
}

func (w *WindowEndpoint) checkWritable() error {
	if !w.writable {
		return outOfRange("window: not writable")
	}
	return nil
}

func (w *WindowEndpoint) written(index int64, n int) {
	if w.notify != nil {
		w.notify(index, index+int64(n))
	}
}

func (w *WindowEndpoint) ReadI8(index int64) (int8, error) {
	b, err := w.slice(index, bytecodec.SizeI8)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI8(b), nil
}

func (w *WindowEndpoint) WriteI8(index int64, v int8) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeI8)
	if err != nil {
		return err
	}
	bytecodec.PutI8(b, v)
	w.written(index, bytecodec.SizeI8)
	return nil
}

func (w *WindowEndpoint) ReadU8(index int64) (uint8, error) {
	b, err := w.slice(index, bytecodec.SizeU8)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU8(b), nil
}

func (w *WindowEndpoint) WriteU8(index int64, v uint8) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeU8)
	if err != nil {
		return err
	}
	bytecodec.PutU8(b, v)
	w.written(index, bytecodec.SizeU8)
	return nil
}

func (w *WindowEndpoint) ReadI16(index int64) (int16, error) {
	b, err := w.slice(index, bytecodec.SizeI16)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI16(b), nil
}

func (w *WindowEndpoint) WriteI16(index int64, v int16) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeI16)
	if err != nil {
		return err
	}
	bytecodec.PutI16(b, v)
	w.written(index, bytecodec.SizeI16)
	return nil
}

func (w *WindowEndpoint) ReadU16(index int64) (uint16, error) {
	b, err := w.slice(index, bytecodec.SizeU16)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU16(b), nil
}

func (w *WindowEndpoint) WriteU16(index int64, v uint16) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeU16)
	if err != nil {
		return err
	}
	bytecodec.PutU16(b, v)
	w.written(index, bytecodec.SizeU16)
	return nil
}

func (w *WindowEndpoint) ReadI32(index int64) (int32, error) {
	b, err := w.slice(index, bytecodec.SizeI32)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI32(b), nil
}

func (w *WindowEndpoint) WriteI32(index int64, v int32) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeI32)
	if err != nil {
		return err
	}
	bytecodec.PutI32(b, v)
	w.written(index, bytecodec.SizeI32)
	return nil
}

func (w *WindowEndpoint) ReadU32(index int64) (uint32, error) {
	b, err := w.slice(index, bytecodec.SizeU32)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU32(b), nil
}

func (w *WindowEndpoint) WriteU32(index int64, v uint32) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeU32)
	if err != nil {
		return err
	}
	bytecodec.PutU32(b, v)
	w.written(index, bytecodec.SizeU32)
	return nil
}

func (w *WindowEndpoint) ReadI64(index int64) (int64, error) {
	b, err := w.slice(index, bytecodec.SizeI64)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI64(b), nil
}

func (w *WindowEndpoint) WriteI64(index int64, v int64) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeI64)
	if err != nil {
		return err
	}
	bytecodec.PutI64(b, v)
	w.written(index, bytecodec.SizeI64)
	return nil
}

func (w *WindowEndpoint) ReadU64(index int64) (uint64, error) {
	b, err := w.slice(index, bytecodec.SizeU64)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU64(b), nil
}

func (w *WindowEndpoint) WriteU64(index int64, v uint64) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeU64)
	if err != nil {
		return err
	}
	bytecodec.PutU64(b, v)
	w.written(index, bytecodec.SizeU64)
	return nil
}

func (w *WindowEndpoint) ReadF32(index int64) (float32, error) {
	b, err := w.slice(index, bytecodec.SizeF32)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetF32(b), nil
}

func (w *WindowEndpoint) WriteF32(index int64, v float32) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeF32)
	if err != nil {
		return err
	}
	bytecodec.PutF32(b, v)
	w.written(index, bytecodec.SizeF32)
	return nil
}

func (w *WindowEndpoint) ReadF64(index int64) (float64, error) {
	b, err := w.slice(index, bytecodec.SizeF64)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetF64(b), nil
}

func (w *WindowEndpoint) WriteF64(index int64, v float64) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, bytecodec.SizeF64)
	if err != nil {
		return err
	}
	bytecodec.PutF64(b, v)
	w.written(index, bytecodec.SizeF64)
	return nil
}

func (w *WindowEndpoint) ReadBytes(index int64, buf []byte) error {
	b, err := w.slice(index, len(buf))
	if err != nil {
		return err
	}
	copy(buf, b)
	return nil
}

func (w *WindowEndpoint) WriteBytes(index int64, buf []byte) error {
	if err := w.checkWritable(); err != nil {
		return err
	}
	b, err := w.slice(index, len(buf))
	if err != nil {
		return err
	}
	copy(b, buf)
	w.written(index, len(buf))
	return nil
}

// Buf exposes the backing slice directly, for callers (the WAL page cache)
// that need to read/write whole-page contents without going through the
// typed interface, or serialize it to a log.
func (w *WindowEndpoint) Buf() []byte { return w.buf }
