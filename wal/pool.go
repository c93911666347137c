package wal

import (
	"sync"
	"sync/atomic"

	"github.com/marlowdb/walcore/storage"
)

// poolPagesSize and poolAccessesSize are the fixed pool sizes (§4.9.2);
// load past these falls back to heap allocation via sync.Pool.
const (
	poolPagesSize    = 1024
	poolAccessesSize = 1024
)

// pagePool hands out WalPages: a fixed array of pre-allocated slots
// reserved via CAS, with sync.Pool overflow once the array is exhausted.
// Mirrors the cacheSlot/blockCount design of storage.BufferedFileStore.
type pagePool struct {
	slots    [poolPagesSize]WalPage
	overflow sync.Pool
}

func newPagePool() *pagePool {
	pp := &pagePool{}
	pp.overflow.New = func() any { return &WalPage{} }
	return pp
}

// acquire reserves a page for location, from the fixed array if a slot is
// free, otherwise from the overflow pool.
func (pp *pagePool) acquire(location int64) *WalPage {
	for i := range pp.slots {
		if pp.slots[i].tryReserve(location) {
			return &pp.slots[i]
		}
	}
	for {
		p := pp.overflow.Get().(*WalPage)
		if p.tryReserve(location) {
			return p
		}
		// Only reachable if a caller forgot to release before the pool
		// recycled the entry; drop it rather than spin forever.
	}
}

// release returns p to Free and, if it came from the overflow pool, back
// to sync.Pool. Fixed-array slots are left in place for reuse.
func (pp *pagePool) release(p *WalPage) {
	p.free()
	if pp.inSlots(p) {
		return
	}
	pp.overflow.Put(p)
}

func (pp *pagePool) inSlots(p *WalPage) bool {
	return &pp.slots[0] <= p && p <= &pp.slots[poolPagesSize-1]
}

// accessSlot is one fixed-array entry of an accessPool: a CAS-guarded
// reservation flag plus the storage.Access it owns.
type accessSlot struct {
	state int32 // 0 = free, 1 = reserved
	acc   storage.Access
}

// accessPool hands out storage.Access cursors bound to a SnapshotStorage,
// recycled across transactions via Access.Reinit instead of allocating a
// fresh Access per acquisition.
type accessPool struct {
	slots    [poolAccessesSize]accessSlot
	overflow sync.Pool
}

func newAccessPool() *accessPool {
	ap := &accessPool{}
	ap.overflow.New = func() any { return &storage.Access{} }
	return ap
}

// acquire binds an Access to [location, location+length) over s. The
// returned release func must be called exactly once when the caller is
// done, in place of Access.Close.
func (ap *accessPool) acquire(s storage.Storage, location, length int64, writable bool) (*storage.Access, func(), error) {
	for i := range ap.slots {
		sl := &ap.slots[i]
		if atomic.CompareAndSwapInt32(&sl.state, 0, 1) {
			if err := sl.acc.Reinit(s, location, length, writable); err != nil {
				atomic.StoreInt32(&sl.state, 0)
				return nil, nil, err
			}
			release := func() {
				_ = sl.acc.Close()
				atomic.StoreInt32(&sl.state, 0)
			}
			return &sl.acc, release, nil
		}
	}

	a := ap.overflow.Get().(*storage.Access)
	if err := a.Reinit(s, location, length, writable); err != nil {
		ap.overflow.Put(a)
		return nil, nil, err
	}
	release := func() {
		_ = a.Close()
		ap.overflow.Put(a)
	}
	return a, release, nil
}
