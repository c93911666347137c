package storage

import (
	"io"
	"math"
	"os"
	"sync"
	"sync/atomic"

	"github.com/marlowdb/walcore/bytecodec"
)

// DirectFileStore is a Storage backed by a single OS file, serialised per
// primitive call: every read/write takes the store's mutex and performs
// one positioned read or write (ReadAt/WriteAt). No paging or caching — appropriate for small
// loads or where the BufferedFileStore's page cache is not needed.
type DirectFileStore struct {
	mu       sync.Mutex
	file     *os.File
	lock     *fileLock
	size     atomic.Uint64
	writable bool
	closed   atomic.Bool
}

// OpenDirectFileStore opens or creates path for direct, unbuffered access.
// A writable store takes an OS-level advisory lock on path+".lock" to
// keep a second process from opening it concurrently (§5 supplement).
func OpenDirectFileStore(path string, writable bool) (*DirectFileStore, error) {
	var lock *fileLock
	if writable {
		l, err := lockFile(path)
		if err != nil {
			return nil, err
		}
		lock = l
	}

	flags := os.O_RDWR | os.O_CREATE
	if !writable {
		flags = os.O_RDONLY
	}
	f, err := os.OpenFile(path, flags, 0o644)
	if err != nil {
		if lock != nil {
			lock.unlock()
		}
		return nil, outOfRange("direct: open %q: %v", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		if lock != nil {
			lock.unlock()
		}
		return nil, outOfRange("direct: stat %q: %v", path, err)
	}
	s := &DirectFileStore{file: f, lock: lock, writable: writable}
	s.size.Store(uint64(info.Size()))
	return s, nil
}

func (s *DirectFileStore) Size() (uint64, error) {
	if s.closed.Load() {
		return 0, outOfRange("direct: closed")
	}
	return s.size.Load(), nil
}

func (s *DirectFileStore) Writable() bool { return s.writable }

func (s *DirectFileStore) Flush() error {
	if s.closed.Load() {
		return outOfRange("direct: closed")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.file.Sync()
}

func (s *DirectFileStore) AcquireEndpointAt(index int64) (Endpoint, error) {
	if s.closed.Load() {
		return nil, outOfRange("direct: closed")
	}
	if index < 0 {
		return nil, outOfRange("direct: negative index %d", index)
	}
	return &directEndpoint{store: s}, nil
}

func (s *DirectFileStore) ReleaseEndpoint(ep Endpoint) error { return nil }

func (s *DirectFileStore) Cut(from, to int64) (bool, error) {
	if s.closed.Load() {
		return false, outOfRange("direct: closed")
	}
	if from < 0 || from > to {
		return false, outOfRange("direct: cut bounds [%d,%d)", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := int64(s.size.Load())
	changed := false

	zeroTo := to
	if zeroTo > size {
		zeroTo = size
	}
	if zeroTo > from {
		zeros := make([]byte, zeroTo-from)
		if _, err := s.file.WriteAt(zeros, from); err != nil {
			return false, outOfRange("direct: cut zero: %v", err)
		}
		changed = true
	}

	if to >= size {
		if from < size {
			if err := s.file.Truncate(from); err != nil {
				return false, outOfRange("direct: cut truncate: %v", err)
			}
			s.size.Store(uint64(from))
			changed = true
		}
	}

	return changed, nil
}

func (s *DirectFileStore) Close() error {
	s.closed.Store(true)
	s.mu.Lock()
	err := s.file.Close()
	s.mu.Unlock()
	if s.lock != nil {
		s.lock.unlock()
	}
	return err
}

func (s *DirectFileStore) bumpSize(hi int64) {
	for {
		cur := s.size.Load()
		if hi <= int64(cur) || s.size.CompareAndSwap(cur, uint64(hi)) {
			return
		}
	}
}

// directEndpoint serves the whole file's address space; DirectFileStore
// has no page granularity, so its upper bound is effectively unbounded.
type directEndpoint struct {
	store *DirectFileStore
}

const directUpperBound = math.MaxInt64 / 2

func (e *directEndpoint) LowerBound() int64 { return 0 }
func (e *directEndpoint) UpperBound() int64 { return directUpperBound }

func (e *directEndpoint) readAt(index int64, n int) ([]byte, error) {
	if index < 0 {
		return nil, outOfRange("direct: negative index %d", index)
	}
	buf := make([]byte, n)
	e.store.mu.Lock()
	defer e.store.mu.Unlock()
	read, err := e.store.file.ReadAt(buf, index)
	if err != nil && err != io.EOF {
		return nil, outOfRange("direct: read at %d: %v", index, err)
	}
	for i := read; i < n; i++ {
		buf[i] = 0
	}
	return buf, nil
}

func (e *directEndpoint) writeAt(index int64, b []byte) error {
	if !e.store.writable {
		return outOfRange("direct: not writable")
	}
	if index < 0 {
		return outOfRange("direct: negative index %d", index)
	}
	e.store.mu.Lock()
	_, err := e.store.file.WriteAt(b, index)
	e.store.mu.Unlock()
	if err != nil {
		return outOfRange("direct: write at %d: %v", index, err)
	}
	e.store.bumpSize(index + int64(len(b)))
	return nil
}

func (e *directEndpoint) ReadI8(index int64) (int8, error) {
	b, err := e.readAt(index, bytecodec.SizeI8)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI8(b), nil
}
func (e *directEndpoint) WriteI8(index int64, v int8) error {
	b := make([]byte, bytecodec.SizeI8)
	bytecodec.PutI8(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadU8(index int64) (uint8, error) {
	b, err := e.readAt(index, bytecodec.SizeU8)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU8(b), nil
}
func (e *directEndpoint) WriteU8(index int64, v uint8) error {
	b := make([]byte, bytecodec.SizeU8)
	bytecodec.PutU8(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadI16(index int64) (int16, error) {
	b, err := e.readAt(index, bytecodec.SizeI16)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI16(b), nil
}
func (e *directEndpoint) WriteI16(index int64, v int16) error {
	b := make([]byte, bytecodec.SizeI16)
	bytecodec.PutI16(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadU16(index int64) (uint16, error) {
	b, err := e.readAt(index, bytecodec.SizeU16)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU16(b), nil
}
func (e *directEndpoint) WriteU16(index int64, v uint16) error {
	b := make([]byte, bytecodec.SizeU16)
	bytecodec.PutU16(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadI32(index int64) (int32, error) {
	b, err := e.readAt(index, bytecodec.SizeI32)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI32(b), nil
}
func (e *directEndpoint) WriteI32(index int64, v int32) error {
	b := make([]byte, bytecodec.SizeI32)
	bytecodec.PutI32(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadU32(index int64) (uint32, error) {
	b, err := e.readAt(index, bytecodec.SizeU32)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU32(b), nil
}
func (e *directEndpoint) WriteU32(index int64, v uint32) error {
	b := make([]byte, bytecodec.SizeU32)
	bytecodec.PutU32(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadI64(index int64) (int64, error) {
	b, err := e.readAt(index, bytecodec.SizeI64)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI64(b), nil
}
func (e *directEndpoint) WriteI64(index int64, v int64) error {
	b := make([]byte, bytecodec.SizeI64)
	bytecodec.PutI64(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadU64(index int64) (uint64, error) {
	b, err := e.readAt(index, bytecodec.SizeU64)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU64(b), nil
}
func (e *directEndpoint) WriteU64(index int64, v uint64) error {
	b := make([]byte, bytecodec.SizeU64)
	bytecodec.PutU64(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadF32(index int64) (float32, error) {
	b, err := e.readAt(index, bytecodec.SizeF32)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetF32(b), nil
}
func (e *directEndpoint) WriteF32(index int64, v float32) error {
	b := make([]byte, bytecodec.SizeF32)
	bytecodec.PutF32(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadF64(index int64) (float64, error) {
	b, err := e.readAt(index, bytecodec.SizeF64)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetF64(b), nil
}
func (e *directEndpoint) WriteF64(index int64, v float64) error {
	b := make([]byte, bytecodec.SizeF64)
	bytecodec.PutF64(b, v)
	return e.writeAt(index, b)
}

func (e *directEndpoint) ReadBytes(index int64, buf []byte) error {
	b, err := e.readAt(index, len(buf))
	if err != nil {
		return err
	}
	copy(buf, b)
	return nil
}

func (e *directEndpoint) WriteBytes(index int64, buf []byte) error {
	return e.writeAt(index, buf)
}
