package storage

import (
	"fmt"
	"os"
	"sync"

	"github.com/marlowdb/walcore/bytecodec"
)

// MaxMissingParts bounds the probe-for-parts scan on open (§4.6).
const MaxMissingParts = 15

// PartFactory opens (creating if necessary) the Nth part file of a
// SplitFileStore. OpenSplitFileStore always uses OSPartFactory; the store
// also probes for and removes part files through package os directly.
type PartFactory func(index int, writable bool) (StorageFile, error)

// OSPartFactory is the default PartFactory, opening "prefix%04dsuffix".
func OSPartFactory(prefix, suffix string) PartFactory {
	return func(index int, writable bool) (StorageFile, error) {
		path := fmt.Sprintf("%s%04d%s", prefix, index, suffix)
		flags := os.O_RDWR | os.O_CREATE
		if !writable {
			flags = os.O_RDONLY
		}
		f, err := os.OpenFile(path, flags, 0o644)
		if err != nil {
			return nil, err
		}
		return f, nil
	}
}

// StorageFile is the minimal OS-file capability SplitFileStore's parts
// need: read/write/stat/sync/close/truncate. Removing a part is done by
// path with os.Remove, not through this interface.
type StorageFile interface {
	ReadAt(b []byte, off int64) (int, error)
	WriteAt(b []byte, off int64) (int, error)
	Sync() error
	Close() error
	Stat() (os.FileInfo, error)
	Truncate(size int64) error
}

// SplitFileStore partitions the address space by maxPartLength: part i
// spans [i*maxPartLength, (i+1)*maxPartLength) and is stored as a
// separate file, opened lazily on first access (§4.6).
type SplitFileStore struct {
	mu            sync.Mutex
	factory       PartFactory
	removePath    func(index int) string
	maxPartLength int64
	writable      bool
	closed        bool

	parts    []StorageFile // nil until opened
	partSize []int64       // cached logical size of each opened part
	partCnt  int           // number of existing parts, discovered on open
}

// OpenSplitFileStore probes prefix+NNNN+suffix for existing parts (up to
// MaxMissingParts consecutive gaps) to determine the initial part count,
// then returns a store that opens parts lazily through factory.
func OpenSplitFileStore(prefix, suffix string, maxPartLength int64, writable bool) (*SplitFileStore, error) {
	factory := OSPartFactory(prefix, suffix)
	removePath := func(index int) string { return fmt.Sprintf("%s%04d%s", prefix, index, suffix) }

	partCnt := 0
	missing := 0
	for i := 0; missing < MaxMissingParts; i++ {
		path := removePath(i)
		if _, err := os.Stat(path); err != nil {
			missing++
			continue
		}
		missing = 0
		partCnt = i + 1
	}

	return &SplitFileStore{
		factory:       factory,
		removePath:    removePath,
		maxPartLength: maxPartLength,
		writable:      writable,
		parts:         make([]StorageFile, partCnt),
		partSize:      make([]int64, partCnt),
		partCnt:       partCnt,
	}, nil
}

func (s *SplitFileStore) ensurePart(index int) (StorageFile, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, outOfRange("split: closed")
	}

	if index >= len(s.parts) {
		grown := make([]StorageFile, index+1)
		copy(grown, s.parts)
		s.parts = grown
		grownSize := make([]int64, index+1)
		copy(grownSize, s.partSize)
		s.partSize = grownSize
	}
	if s.parts[index] == nil {
		f, err := s.factory(index, s.writable)
		if err != nil {
			return nil, outOfRange("split: open part %d: %v", index, err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, outOfRange("split: stat part %d: %v", index, err)
		}
		s.parts[index] = f
		s.partSize[index] = info.Size()
		if index+1 > s.partCnt {
			s.partCnt = index + 1
		}
	}
	return s.parts[index], nil
}

func (s *SplitFileStore) partIndex(index int64) int {
	return int(index / s.maxPartLength)
}

func (s *SplitFileStore) Size() (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, outOfRange("split: closed")
	}
	if s.partCnt == 0 {
		return 0, nil
	}
	last := s.partCnt - 1
	lastSize := s.partSize[last]
	if lastSize == 0 && s.parts[last] != nil {
		if info, err := s.parts[last].Stat(); err == nil {
			lastSize = info.Size()
		}
	}
	return uint64(int64(last)*s.maxPartLength + lastSize), nil
}

func (s *SplitFileStore) Writable() bool { return s.writable }

func (s *SplitFileStore) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return outOfRange("split: closed")
	}
	for _, p := range s.parts {
		if p == nil {
			continue
		}
		if err := p.Sync(); err != nil {
			return outOfRange("split: flush: %v", err)
		}
	}
	return nil
}

func (s *SplitFileStore) AcquireEndpointAt(index int64) (Endpoint, error) {
	if index < 0 {
		return nil, outOfRange("split: negative index %d", index)
	}
	idx := s.partIndex(index)
	part, err := s.ensurePart(idx)
	if err != nil {
		return nil, err
	}
	base := int64(idx) * s.maxPartLength
	return &splitEndpoint{store: s, part: part, partIndex: idx, base: base}, nil
}

func (s *SplitFileStore) ReleaseEndpoint(ep Endpoint) error { return nil }

func (s *SplitFileStore) Cut(from, to int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, outOfRange("split: closed")
	}
	if from < 0 || from > to {
		return false, outOfRange("split: cut bounds [%d,%d)", from, to)
	}

	changed := false
	firstPart := int(from / s.maxPartLength)
	var lastPart int
	if to > from {
		lastPart = int((to - 1) / s.maxPartLength)
	} else {
		lastPart = firstPart
	}

	for idx := firstPart; idx <= lastPart && idx < len(s.parts); idx++ {
		base := int64(idx) * s.maxPartLength
		partFrom := from - base
		if partFrom < 0 {
			partFrom = 0
		}
		partTo := to - base
		if partTo > s.maxPartLength {
			partTo = s.maxPartLength
		}
		if partTo <= partFrom {
			continue
		}

		fullyCut := partFrom == 0 && partTo >= s.maxPartLength
		if fullyCut {
			if s.parts[idx] != nil {
				s.parts[idx].Close()
				s.parts[idx] = nil
			}
			os.Remove(s.removePath(idx))
			s.partSize[idx] = 0
			changed = true
			continue
		}

		part, err := s.partLocked(idx)
		if err != nil {
			return false, err
		}
		info, err := part.Stat()
		if err != nil {
			return false, outOfRange("split: cut stat part %d: %v", idx, err)
		}
		partSize := info.Size()

		zeroTo := partTo
		if zeroTo > partSize {
			zeroTo = partSize
		}
		if zeroTo > partFrom {
			zeros := make([]byte, zeroTo-partFrom)
			if _, err := part.WriteAt(zeros, partFrom); err != nil {
				return false, outOfRange("split: cut zero part %d: %v", idx, err)
			}
			changed = true
		}
		if partTo >= partSize && partFrom < partSize {
			if err := part.Truncate(partFrom); err != nil {
				return false, outOfRange("split: cut truncate part %d: %v", idx, err)
			}
			s.partSize[idx] = partFrom
			changed = true
		}
	}

	// An emptied trailing run no longer counts toward partCnt, so Size
	// reflects removed parts instead of reporting stale tail length.
	for s.partCnt > 0 {
		last := s.partCnt - 1
		if s.partSize[last] != 0 || s.parts[last] != nil {
			break
		}
		s.partCnt--
	}

	return changed, nil
}

func (s *SplitFileStore) partLocked(idx int) (StorageFile, error) {
	if idx >= len(s.parts) || s.parts[idx] == nil {
		f, err := s.factory(idx, s.writable)
		if err != nil {
			return nil, outOfRange("split: open part %d: %v", idx, err)
		}
		if idx >= len(s.parts) {
			grown := make([]StorageFile, idx+1)
			copy(grown, s.parts)
			s.parts = grown
			grownSize := make([]int64, idx+1)
			copy(grownSize, s.partSize)
			s.partSize = grownSize
		}
		s.parts[idx] = f
	}
	return s.parts[idx], nil
}

func (s *SplitFileStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	for _, p := range s.parts {
		if p != nil {
			p.Close()
		}
	}
	return nil
}

// splitEndpoint translates absolute indices into offsets within one part
// file and clamps its upper bound at the part boundary (§4.6).
type splitEndpoint struct {
	store     *SplitFileStore
	part      StorageFile
	partIndex int
	base      int64
}

func (e *splitEndpoint) LowerBound() int64 { return e.base }
func (e *splitEndpoint) UpperBound() int64 { return e.base + e.store.maxPartLength }

func (e *splitEndpoint) within(index int64, n int) error {
	if index < e.LowerBound() || index+int64(n) > e.UpperBound() {
		return outOfRange("split: index %d (len %d) outside part %d", index, n, e.partIndex)
	}
	return nil
}

func (e *splitEndpoint) readAt(index int64, n int) ([]byte, error) {
	if err := e.within(index, n); err != nil {
		return nil, err
	}
	off := index - e.base
	buf := make([]byte, n)
	read, err := e.part.ReadAt(buf, off)
	if err != nil && read < n {
		for i := read; i < n; i++ {
			buf[i] = 0
		}
	} else if err != nil {
		return nil, outOfRange("split: read part %d at %d: %v", e.partIndex, off, err)
	}
	return buf, nil
}

func (e *splitEndpoint) writeAt(index int64, b []byte) error {
	if !e.store.writable {
		return outOfRange("split: not writable")
	}
	if err := e.within(index, len(b)); err != nil {
		return err
	}
	off := index - e.base
	if _, err := e.part.WriteAt(b, off); err != nil {
		return outOfRange("split: write part %d at %d: %v", e.partIndex, off, err)
	}
	e.store.mu.Lock()
	if e.partIndex < len(e.store.partSize) {
		hi := off + int64(len(b))
		if hi > e.store.partSize[e.partIndex] {
			e.store.partSize[e.partIndex] = hi
		}
	}
	e.store.mu.Unlock()
	return nil
}

// The typed primitives below all funnel through readAt/writeAt for the raw
// bytes and bytecodec for the encode/decode, mirroring WindowEndpoint's
// structure but backed by a part file instead of memory.

func (e *splitEndpoint) ReadI8(i int64) (int8, error) {
	b, err := e.readAt(i, bytecodec.SizeI8)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI8(b), nil
}
func (e *splitEndpoint) WriteI8(i int64, v int8) error {
	b := make([]byte, bytecodec.SizeI8)
	bytecodec.PutI8(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadU8(i int64) (uint8, error) {
	b, err := e.readAt(i, bytecodec.SizeU8)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU8(b), nil
}
func (e *splitEndpoint) WriteU8(i int64, v uint8) error {
	b := make([]byte, bytecodec.SizeU8)
	bytecodec.PutU8(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadI16(i int64) (int16, error) {
	b, err := e.readAt(i, bytecodec.SizeI16)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI16(b), nil
}
func (e *splitEndpoint) WriteI16(i int64, v int16) error {
	b := make([]byte, bytecodec.SizeI16)
	bytecodec.PutI16(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadU16(i int64) (uint16, error) {
	b, err := e.readAt(i, bytecodec.SizeU16)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU16(b), nil
}
func (e *splitEndpoint) WriteU16(i int64, v uint16) error {
	b := make([]byte, bytecodec.SizeU16)
	bytecodec.PutU16(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadI32(i int64) (int32, error) {
	b, err := e.readAt(i, bytecodec.SizeI32)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI32(b), nil
}
func (e *splitEndpoint) WriteI32(i int64, v int32) error {
	b := make([]byte, bytecodec.SizeI32)
	bytecodec.PutI32(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadU32(i int64) (uint32, error) {
	b, err := e.readAt(i, bytecodec.SizeU32)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU32(b), nil
}
func (e *splitEndpoint) WriteU32(i int64, v uint32) error {
	b := make([]byte, bytecodec.SizeU32)
	bytecodec.PutU32(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadI64(i int64) (int64, error) {
	b, err := e.readAt(i, bytecodec.SizeI64)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetI64(b), nil
}
func (e *splitEndpoint) WriteI64(i int64, v int64) error {
	b := make([]byte, bytecodec.SizeI64)
	bytecodec.PutI64(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadU64(i int64) (uint64, error) {
	b, err := e.readAt(i, bytecodec.SizeU64)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetU64(b), nil
}
func (e *splitEndpoint) WriteU64(i int64, v uint64) error {
	b := make([]byte, bytecodec.SizeU64)
	bytecodec.PutU64(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadF32(i int64) (float32, error) {
	b, err := e.readAt(i, bytecodec.SizeF32)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetF32(b), nil
}
func (e *splitEndpoint) WriteF32(i int64, v float32) error {
	b := make([]byte, bytecodec.SizeF32)
	bytecodec.PutF32(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadF64(i int64) (float64, error) {
	b, err := e.readAt(i, bytecodec.SizeF64)
	if err != nil {
		return 0, err
	}
	return bytecodec.GetF64(b), nil
}
func (e *splitEndpoint) WriteF64(i int64, v float64) error {
	b := make([]byte, bytecodec.SizeF64)
	bytecodec.PutF64(b, v)
	return e.writeAt(i, b)
}

func (e *splitEndpoint) ReadBytes(index int64, buf []byte) error {
	b, err := e.readAt(index, len(buf))
	if err != nil {
		return err
	}
	copy(buf, b)
	return nil
}

func (e *splitEndpoint) WriteBytes(index int64, buf []byte) error {
	return e.writeAt(index, buf)
}
