package storage

import (
	"io"
	"os"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/singleflight"
)

// MaxLoadedPages bounds the BufferedFileStore page cache (§4.5).
const MaxLoadedPages = 1024

const (
	slotFree slotState = iota
	slotReserved
	slotReady
	slotReclaiming
)

type slotState int32

// cacheSlot is one TsPage cache slot. Its state and sharer count are
// plain atomics so acquisition/release never blocks behind a mutex; only
// the rare full-cache reclaim scan takes a lock (a process-wide "busy"
// flag).
type cacheSlot struct {
	state    atomic.Int32 // slotState
	sharers  atomic.Int32
	location atomic.Int64 // -1 = unset
	lastHit  atomic.Int64
	dirty    atomic.Bool
	buf      []byte
}

func newCacheSlot() *cacheSlot {
	s := &cacheSlot{buf: make([]byte, PageSize)}
	s.location.Store(-1)
	return s
}

// tryUse attempts Ready->InUse(+1) for the given location (spec: Ready
// CAS InUse(1); InUse(n)->InUse(n+1)). Both collapse to "Ready with a
// positive sharer count" here.
func (s *cacheSlot) tryUse(loc int64) bool {
	if s.state.Load() != int32(slotReady) || s.location.Load() != loc {
		return false
	}
	s.sharers.Add(1)
	// Re-check after the increment: a concurrent reclaim may have raced
	// us between the state/location check and the increment.
	if s.state.Load() != int32(slotReady) || s.location.Load() != loc {
		s.sharers.Add(-1)
		return false
	}
	s.lastHit.Store(time.Now().UnixNano())
	return true
}

func (s *cacheSlot) release() {
	n := s.sharers.Add(-1)
	if n < 0 {
		panic("walcore: release of a slot with no holders")
	}
}

func (s *cacheSlot) tryReserve(loc int64) bool {
	if !s.state.CompareAndSwap(int32(slotFree), int32(slotReserved)) {
		return false
	}
	s.location.Store(loc)
	return true
}

func (s *cacheSlot) markReady() {
	s.state.Store(int32(slotReady))
}

// tryReclaim attempts Ready(zero sharers)->Reclaiming for repurposing to
// newLoc. Fails if the slot is not Ready or still has holders.
func (s *cacheSlot) tryReclaim(newLoc int64) bool {
	if s.sharers.Load() != 0 {
		return false
	}
	if !s.state.CompareAndSwap(int32(slotReady), int32(slotReclaiming)) {
		return false
	}
	if s.sharers.Load() != 0 {
		// Lost the race to a use() that slipped in before the CAS; restore.
		s.state.Store(int32(slotReady))
		return false
	}
	s.location.Store(newLoc)
	return true
}

type writeJob struct {
	location int64
	data     []byte
	done     chan error
}

// BufferedFileStore is a Storage backed by a single file through a
// bounded concurrent page cache (§4.5). Dirty pages are written back to the
// backing file by a single writer goroutine fed over a channel; page loads
// and Cut read, write and truncate the file handle directly.
type BufferedFileStore struct {
	file     *os.File
	lock     *fileLock
	writable bool
	closed   atomic.Bool

	slots      []*cacheSlot
	blockCount atomic.Int32
	reclaimMu  sync.Mutex // process-wide "busy" flag for full scans

	size atomic.Uint64

	loadGroup singleflight.Group

	writeCh chan writeJob
	stopCh  chan struct{}
	wg      sync.WaitGroup

	hits   atomic.Uint64
	misses atomic.Uint64
}

// OpenBufferedFileStore opens or creates path, serving pages through the
// bounded cache described by spec §4.5.
func OpenBufferedFileStore(path string, writable bool) (*BufferedFileStore, error) {
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
		return nil, outOfRange("buffered: open %q: %v", path, err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		if lock != nil {
			lock.unlock()
		}
		return nil, outOfRange("buffered: stat %q: %v", path, err)
	}

	s := &BufferedFileStore{
		file:     f,
		lock:     lock,
		writable: writable,
		slots:    make([]*cacheSlot, MaxLoadedPages),
		writeCh:  make(chan writeJob, 64),
		stopCh:   make(chan struct{}),
	}
	for i := range s.slots {
		s.slots[i] = newCacheSlot()
	}
	s.size.Store(uint64(info.Size()))

	s.wg.Add(1)
	go s.writerLoop()

	return s, nil
}

func (s *BufferedFileStore) writerLoop() {
	defer s.wg.Done()
	for {
		select {
		case job := <-s.writeCh:
			_, err := s.file.WriteAt(job.data, job.location)
			job.done <- err
		case <-s.stopCh:
			// Drain any writes queued before close.
			for {
				select {
				case job := <-s.writeCh:
					_, err := s.file.WriteAt(job.data, job.location)
					job.done <- err
				default:
					return
				}
			}
		}
	}
}

func (s *BufferedFileStore) writeBack(loc int64, data []byte) error {
	done := make(chan error, 1)
	s.writeCh <- writeJob{location: loc, data: data, done: done}
	return <-done
}

func (s *BufferedFileStore) Size() (uint64, error) {
	if s.closed.Load() {
		return 0, outOfRange("buffered: closed")
	}
	return s.size.Load(), nil
}

func (s *BufferedFileStore) Writable() bool { return s.writable }

func (s *BufferedFileStore) bumpSize(hi int64) {
	for {
		cur := s.size.Load()
		if hi <= int64(cur) || s.size.CompareAndSwap(cur, uint64(hi)) {
			return
		}
	}
}

// loadInto fills slot's buffer for loc from the backing file, zeroing any
// suffix past EOF. Concurrent loads of the same loc share one file read;
// each caller copies the shared bytes into its own slot.
func (s *BufferedFileStore) loadInto(slot *cacheSlot, loc int64) error {
	v, err, _ := s.loadGroup.Do(loadKey(loc), func() (any, error) {
		page := make([]byte, PageSize)
		if _, readErr := s.file.ReadAt(page, loc); readErr != nil && readErr != io.EOF {
			return nil, outOfRange("buffered: load page at %d: %v", loc, readErr)
		}
		return page, nil
	})
	if err != nil {
		return err
	}
	copy(slot.buf, v.([]byte))
	slot.dirty.Store(false)
	return nil
}

func loadKey(loc int64) string {
	// Small, allocation-light key; locations are page-aligned so this is
	// unique per page without needing strconv.
	buf := make([]byte, 8)
	for i := 0; i < 8; i++ {
		buf[i] = byte(loc >> (8 * i))
	}
	return string(buf)
}

func (s *BufferedFileStore) pickReclaimVictim() *cacheSlot {
	s.reclaimMu.Lock()
	defer s.reclaimMu.Unlock()

	var oldest *cacheSlot
	var oldestHit int64
	var oldestLoc int64

	bc := int(s.blockCount.Load())
	for i := 0; i < bc; i++ {
		slot := s.slots[i]
		if slot.sharers.Load() != 0 || slot.state.Load() != int32(slotReady) {
			continue
		}
		hit := slot.lastHit.Load()
		if oldest == nil || hit < oldestHit {
			oldest = slot
			oldestHit = hit
			oldestLoc = slot.location.Load()
		}
	}
	if oldest == nil {
		return nil
	}
	// Re-validate the recorded lastHit/location are unchanged after the
	// pass, as required by §4.5 step 3, before handing it back.
	if oldest.lastHit.Load() != oldestHit || oldest.location.Load() != oldestLoc {
		return nil
	}
	return oldest
}

func (s *BufferedFileStore) getBlockFor(loc int64) (*cacheSlot, error) {
	for {
		bc := int(s.blockCount.Load())
		for i := 0; i < bc; i++ {
			slot := s.slots[i]
			if slot.location.Load() == loc && slot.tryUse(loc) {
				s.hits.Add(1)
				return slot, nil
			}
		}

		if bc < len(s.slots) {
			slot := s.slots[bc]
			if slot.tryReserve(loc) {
				if err := s.loadInto(slot, loc); err != nil {
					slot.state.Store(int32(slotFree))
					return nil, err
				}
				slot.markReady()
				s.blockCount.CompareAndSwap(int32(bc), int32(bc+1))
				s.misses.Add(1)
				if slot.tryUse(loc) {
					return slot, nil
				}
			}
			runtime.Gosched()
			continue
		}

		victim := s.pickReclaimVictim()
		if victim == nil {
			runtime.Gosched()
			continue
		}
		oldLoc := victim.location.Load()
		wasDirty := victim.dirty.Load()
		if victim.tryReclaim(loc) {
			// tryReclaim already repointed victim.location to loc; the
			// buffer still holds oldLoc's bytes until loadInto overwrites
			// it below, so write them back first if dirty.
			if wasDirty {
				if err := s.writeBack(oldLoc, victim.buf); err != nil {
					victim.location.Store(oldLoc)
					victim.state.Store(int32(slotReady))
					return nil, err
				}
				victim.dirty.Store(false)
			}
			if err := s.loadInto(victim, loc); err != nil {
				return nil, err
			}
			victim.markReady()
			s.misses.Add(1)
			if victim.tryUse(loc) {
				return victim, nil
			}
		}
		runtime.Gosched()
	}
}

func (s *BufferedFileStore) AcquireEndpointAt(index int64) (Endpoint, error) {
	if s.closed.Load() {
		return nil, outOfRange("buffered: closed")
	}
	if index < 0 {
		return nil, outOfRange("buffered: negative index %d", index)
	}
	loc := pageLocation(index)
	slot, err := s.getBlockFor(loc)
	if err != nil {
		return nil, err
	}
	win := NewWindowEndpoint(loc, slot.buf, s.writable, func(lo, hi int64) {
		slot.dirty.Store(true)
		s.bumpSize(hi)
	})
	return &bufferedEndpoint{WindowEndpoint: win, slot: slot}, nil
}

type bufferedEndpoint struct {
	*WindowEndpoint
	slot *cacheSlot
}

func (s *BufferedFileStore) ReleaseEndpoint(ep Endpoint) error {
	be, ok := ep.(*bufferedEndpoint)
	if !ok {
		return outOfRange("buffered: foreign endpoint")
	}
	be.slot.release()
	return nil
}

// Flush serializes all dirty slots to the backing file and fsyncs.
func (s *BufferedFileStore) Flush() error {
	if s.closed.Load() {
		return outOfRange("buffered: closed")
	}
	bc := int(s.blockCount.Load())
	for i := 0; i < bc; i++ {
		slot := s.slots[i]
		if !slot.dirty.Load() {
			continue
		}
		loc := slot.location.Load()
		if loc < 0 {
			continue
		}
		if err := s.writeBack(loc, slot.buf); err != nil {
			return outOfRange("buffered: flush slot at %d: %v", loc, err)
		}
		slot.dirty.Store(false)
	}
	return s.file.Sync()
}

func (s *BufferedFileStore) Cut(from, to int64) (bool, error) {
	if s.closed.Load() {
		return false, outOfRange("buffered: closed")
	}
	if from < 0 || from > to {
		return false, outOfRange("buffered: cut bounds [%d,%d)", from, to)
	}

	changed := false
	bc := int(s.blockCount.Load())
	for i := 0; i < bc; i++ {
		slot := s.slots[i]
		loc := slot.location.Load()
		if loc < 0 {
			continue
		}
		base := loc
		zeroFrom := from - base
		if zeroFrom < 0 {
			zeroFrom = 0
		}
		zeroTo := to - base
		if zeroTo > PageSize {
			zeroTo = PageSize
		}
		if zeroTo > zeroFrom {
			for b := zeroFrom; b < zeroTo; b++ {
				slot.buf[b] = 0
			}
			slot.dirty.Store(true)
			changed = true
		}
	}

	size := int64(s.size.Load())
	zeroTo := to
	if zeroTo > size {
		zeroTo = size
	}
	if zeroTo > from {
		zeros := make([]byte, zeroTo-from)
		if _, err := s.file.WriteAt(zeros, from); err != nil {
			return false, outOfRange("buffered: cut zero: %v", err)
		}
		changed = true
	}
	if to >= size && from < size {
		if err := s.file.Truncate(from); err != nil {
			return false, outOfRange("buffered: cut truncate: %v", err)
		}
		s.size.Store(uint64(from))
		changed = true
	}

	return changed, nil
}

func (s *BufferedFileStore) Close() error {
	if s.closed.Swap(true) {
		return nil
	}
	close(s.stopCh)
	s.wg.Wait()
	err := s.file.Close()
	if s.lock != nil {
		s.lock.unlock()
	}
	return err
}

// Stats reports page-cache effectiveness (§5 supplement): loaded pages,
// hit/miss counters, and the hit rate.
type Stats struct {
	LoadedPages int
	Hits        uint64
	Misses      uint64
}

func (s *BufferedFileStore) Stats() Stats {
	return Stats{
		LoadedPages: int(s.blockCount.Load()),
		Hits:        s.hits.Load(),
		Misses:      s.misses.Load(),
	}
}

func (s Stats) HitRate() float64 {
	total := s.Hits + s.Misses
	if total == 0 {
		return 0
	}
	return float64(s.Hits) / float64(total)
}
