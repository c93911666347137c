package storage

import (
	"sync"
	"sync/atomic"
)

// InMemoryStore is a Storage backed by a growable set of in-memory pages.
// acquireEndpointAt grows the page array on demand (doubling) and lazily
// allocates pages; size tracks the high-water mark reached by any write.
type InMemoryStore struct {
	mu       sync.RWMutex
	pages    [][]byte // nil entries are unallocated (read as zero)
	size     atomic.Uint64
	writable bool
	closed   atomic.Bool
}

// NewInMemoryStore creates an empty, writable in-memory store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{writable: true}
}

func (s *InMemoryStore) Size() (uint64, error) {
	if s.closed.Load() {
		return 0, outOfRange("inmemory: closed")
	}
	return s.size.Load(), nil
}

func (s *InMemoryStore) Writable() bool { return s.writable }

func (s *InMemoryStore) Flush() error {
	if s.closed.Load() {
		return outOfRange("inmemory: closed")
	}
	return nil
}

func (s *InMemoryStore) AcquireEndpointAt(index int64) (Endpoint, error) {
	if s.closed.Load() {
		return nil, outOfRange("inmemory: closed")
	}
	if index < 0 {
		return nil, outOfRange("inmemory: negative index %d", index)
	}
	loc := pageLocation(index)
	pageIdx := int(loc / PageSize)

	s.mu.Lock()
	if pageIdx >= len(s.pages) {
		newCap := len(s.pages)
		if newCap == 0 {
			newCap = 16
		}
		for newCap <= pageIdx {
			newCap *= 2
		}
		grown := make([][]byte, newCap)
		copy(grown, s.pages)
		s.pages = grown
	}
	if s.pages[pageIdx] == nil {
		s.pages[pageIdx] = make([]byte, PageSize)
	}
	buf := s.pages[pageIdx]
	s.mu.Unlock()

	return NewWindowEndpoint(loc, buf, s.writable, func(lo, hi int64) {
		for {
			cur := s.size.Load()
			if hi <= int64(cur) || s.size.CompareAndSwap(cur, uint64(hi)) {
				return
			}
		}
	}), nil
}

func (s *InMemoryStore) ReleaseEndpoint(ep Endpoint) error { return nil }

func (s *InMemoryStore) Cut(from, to int64) (bool, error) {
	if s.closed.Load() {
		return false, outOfRange("inmemory: closed")
	}
	if from < 0 || from > to {
		return false, outOfRange("inmemory: cut bounds [%d,%d)", from, to)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	size := int64(s.size.Load())
	changed := false

	firstPage := int(pageLocation(from) / PageSize)
	lastPage := firstPage
	if to > from {
		lastPage = int(pageLocation(to-1) / PageSize)
	}
	for p := firstPage; p <= lastPage && p < len(s.pages); p++ {
		buf := s.pages[p]
		if buf == nil {
			continue
		}
		base := int64(p) * PageSize
		zeroFrom := from - base
		if zeroFrom < 0 {
			zeroFrom = 0
		}
		zeroTo := to - base
		if zeroTo > PageSize {
			zeroTo = PageSize
		}
		if zeroTo > zeroFrom {
			for i := zeroFrom; i < zeroTo; i++ {
				buf[i] = 0
			}
			changed = true
		}
	}

	if to >= size {
		if from < size {
			s.size.Store(uint64(from))
			changed = true
		}
	}

	return changed, nil
}

func (s *InMemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
