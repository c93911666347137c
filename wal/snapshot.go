package wal

import (
	"github.com/marlowdb/walcore/storage"
	"github.com/marlowdb/walcore/walerr"
)

// pageLoader acquires the WalPage reconstructed as of a transaction's
// endMark (§4.9.5). Implemented by *WAL; factored out as an interface so
// SnapshotStorage has no import-cycle dependency back onto *WAL.
type pageLoader interface {
	acquirePage(location int64, endMark int64) (*WalPage, error)
}

// SnapshotStorage is the virtual per-transaction Storage a WalTransaction
// hands its Access cursors (§4.9.6). acquireEndpointAt dispatches to the
// WAL's page loader, caching each page for the transaction's lifetime so
// repeated access to the same page reuses one WalPage; releaseEndpoint is
// a no-op until the transaction ends and releases everything at once.
type SnapshotStorage struct {
	wal      pageLoader
	endMark  int64
	writable bool

	pages map[int64]*WalPage // location -> page, populated lazily
}

// NewSnapshotStorage builds a SnapshotStorage bound to endMark.
func NewSnapshotStorage(wal pageLoader, endMark int64, writable bool) *SnapshotStorage {
	return &SnapshotStorage{wal: wal, endMark: endMark, writable: writable, pages: make(map[int64]*WalPage)}
}

func (s *SnapshotStorage) Size() (uint64, error) { return 0, nil }

func (s *SnapshotStorage) Writable() bool { return s.writable }

// Flush is a no-op: a SnapshotStorage is not itself durable, commit owns
// durability.
func (s *SnapshotStorage) Flush() error { return nil }

// Cut is unsupported at the snapshot level; only the backing storage
// itself is cut, during checkpoint write-back.
func (s *SnapshotStorage) Cut(from, to int64) (bool, error) {
	return false, outOfRange("snapshot: cut not supported")
}

func (s *SnapshotStorage) AcquireEndpointAt(index int64) (storage.Endpoint, error) {
	if index < 0 {
		return nil, outOfRange("snapshot: negative index %d", index)
	}
	loc := pageLocation(index)
	page, ok := s.pages[loc]
	if !ok {
		p, err := s.wal.acquirePage(loc, s.endMark)
		if err != nil {
			return nil, err
		}
		page = p
		s.pages[loc] = page
	}
	return storage.NewWindowEndpoint(loc, page.Buf(), s.writable, func(lo, hi int64) {
		page.recordWrite(uint32(lo-loc), page.Buf()[lo-loc:hi-loc])
	}), nil
}

// ReleaseEndpoint is a no-op: pages are held for the transaction's full
// lifetime and released in bulk by WAL.endTransaction.
func (s *SnapshotStorage) ReleaseEndpoint(ep storage.Endpoint) error { return nil }

func (s *SnapshotStorage) Close() error { return nil }

// acquiredPages returns every page touched so far, for commit assembly
// and end-of-transaction release.
func (s *SnapshotStorage) acquiredPages() map[int64]*WalPage { return s.pages }

func pageLocation(index int64) int64 {
	return index &^ (storage.PageSize - 1)
}

func outOfRange(format string, args ...any) error {
	return walerr.OutOfRange(format, args...)
}
