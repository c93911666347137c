package wal

import (
	"sync/atomic"

	"github.com/marlowdb/walcore/storage"
)

// pageState is a WalPage's lifecycle state (§3, §4.9.2): Free → Reserved →
// Ready → Free again once the last borrowing transaction releases it.
// Ready is the only state in which a page may serve reads/writes.
type pageState int32

const (
	pageFree pageState = iota
	pageReserved
	pageReady
)

// WalPage is the WAL's unit of cached, snapshot-reconstructed page content:
// a location, a full-page buffer, and the PageEdits a transaction has
// accumulated against it while it is held.
type WalPage struct {
	state pageState

	location int64
	buf      [storage.PageSize]byte
	edits    PageEdits
}

// tryReserve attempts Free→Reserved via CAS, binding the page to location.
// Returns false if another goroutine won the race.
func (p *WalPage) tryReserve(location int64) bool {
	if !atomic.CompareAndSwapInt32((*int32)(&p.state), int32(pageFree), int32(pageReserved)) {
		return false
	}
	p.location = location
	return true
}

// markReady transitions Reserved → Ready after the page buffer has been
// loaded and its log edits replayed.
func (p *WalPage) markReady() {
	atomic.StoreInt32((*int32)(&p.state), int32(pageReady))
}

// free releases the page back to the pool: clears content and returns it
// to Free. Called once the last transaction holding it ends.
func (p *WalPage) free() {
	p.edits.Reset()
	for i := range p.buf {
		p.buf[i] = 0
	}
	p.location = 0
	atomic.StoreInt32((*int32)(&p.state), int32(pageFree))
}

// Location reports the page's base offset.
func (p *WalPage) Location() int64 { return p.location }

// Buf returns the page's full-page buffer for direct reads/writes by a
// SnapshotStorage endpoint.
func (p *WalPage) Buf() []byte { return p.buf[:] }

// Edits returns the page's accumulated edits.
func (p *WalPage) Edits() *PageEdits { return &p.edits }

// recordWrite records data, already landed in the page buffer at offset by
// the caller, as an edit for later log serialization.
func (p *WalPage) recordWrite(offset uint32, data []byte) {
	p.edits.AddEdit(offset, data)
}
