package storage

import (
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func tempPath(t *testing.T) string {
	t.Helper()
	return filepath.Join(t.TempDir(), "walcore.store")
}

func withAccess(t *testing.T, s Storage, location, length int64, writable bool) *Access {
	t.Helper()
	a, err := NewAccess(s, location, length, writable)
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	return a
}

func TestInMemoryStoreReadWriteRoundTrip(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	a := withAccess(t, s, 0, PageSize, true)
	require.NoError(t, a.WriteU32(0xDEADBEEF))
	require.NoError(t, a.WriteI64(-42))

	a.Reset()
	u, err := a.ReadU32()
	require.NoError(t, err)
	require.Equal(t, uint32(0xDEADBEEF), u)

	i, err := a.ReadI64()
	require.NoError(t, err)
	require.Equal(t, int64(-42), i)
}

func TestInMemoryStoreSizeGrowsWithWrite(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	a := withAccess(t, s, 0, 4*PageSize, true)
	a.Seek(3*PageSize + 10)
	require.NoError(t, a.WriteU8(7))

	size, err := s.Size()
	require.NoError(t, err)
	require.EqualValues(t, 3*PageSize+11, size)
}

func TestInMemoryStoreCutZeroesAndTruncates(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	a := withAccess(t, s, 0, PageSize, true)
	require.NoError(t, a.WriteU64(0x0102030405060708))

	changed, err := s.Cut(0, PageSize)
	require.NoError(t, err)
	require.True(t, changed)

	size, err := s.Size()
	require.NoError(t, err)
	require.Zero(t, size)
}

// TestAccessStraddlesPageBoundary exercises the chunked typed read/write
// fallback in Access when a multi-byte primitive spans two InMemoryStore
// pages (§4.1/§4.7 boundary crossing).
func TestAccessStraddlesPageBoundary(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	a := withAccess(t, s, 0, 2*PageSize, true)
	a.Seek(PageSize - 4)
	require.NoError(t, a.WriteU64(0x1122334455667788))

	a.Seek(PageSize - 4)
	v, err := a.ReadU64()
	require.NoError(t, err)
	require.Equal(t, uint64(0x1122334455667788), v)
}

func TestAccessDisjointWindows(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	a, err := NewAccess(s, 0, PageSize, true)
	require.NoError(t, err)
	defer a.Close()
	b, err := NewAccess(s, PageSize, PageSize, true)
	require.NoError(t, err)
	defer b.Close()
	c, err := NewAccess(s, PageSize/2, PageSize, true)
	require.NoError(t, err)
	defer c.Close()

	require.True(t, a.Disjoint(b))
	require.False(t, a.Disjoint(c))
}

func TestAccessWriteBytesOutOfBoundsFails(t *testing.T) {
	s := NewInMemoryStore()
	defer s.Close()

	a := withAccess(t, s, 0, 8, true)
	a.Seek(4)
	err := a.WriteBytes(make([]byte, 16), 0, 16)
	require.Error(t, err)
}

func TestDirectFileStorePersistsAcrossReopen(t *testing.T) {
	path := tempPath(t)

	s, err := OpenDirectFileStore(path, true)
	require.NoError(t, err)

	a := withAccess(t, s, 0, PageSize, true)
	require.NoError(t, a.WriteF64(3.14159))
	require.NoError(t, a.Close())
	require.NoError(t, s.Flush())
	require.NoError(t, s.Close())

	s2, err := OpenDirectFileStore(path, false)
	require.NoError(t, err)
	defer s2.Close()

	a2 := withAccess(t, s2, 0, PageSize, false)
	v, err := a2.ReadF64()
	require.NoError(t, err)
	require.InDelta(t, 3.14159, v, 1e-9)
}

func TestDirectFileStoreSecondWriterIsLockedOut(t *testing.T) {
	path := tempPath(t)

	s, err := OpenDirectFileStore(path, true)
	require.NoError(t, err)
	defer s.Close()

	_, err = OpenDirectFileStore(path, true)
	require.Error(t, err, "a second writable open should be refused the advisory lock")
}

func TestDirectFileStoreCutTruncatesFile(t *testing.T) {
	path := tempPath(t)
	s, err := OpenDirectFileStore(path, true)
	require.NoError(t, err)
	defer s.Close()

	a := withAccess(t, s, 0, PageSize, true)
	require.NoError(t, a.WriteU32(99))
	require.NoError(t, a.Close())

	changed, err := s.Cut(4, 1<<20)
	require.NoError(t, err)
	require.True(t, changed)

	size, err := s.Size()
	require.NoError(t, err)
	require.EqualValues(t, 4, size)
}

func TestBufferedFileStoreReadWriteThroughCache(t *testing.T) {
	path := tempPath(t)
	s, err := OpenBufferedFileStore(path, true)
	require.NoError(t, err)
	defer s.Close()

	a := withAccess(t, s, 0, PageSize, true)
	require.NoError(t, a.WriteU16(4242))
	a.Reset()
	v, err := a.ReadU16()
	require.NoError(t, err)
	require.EqualValues(t, 4242, v)
	require.NoError(t, s.Flush())
}

func TestBufferedFileStoreSurvivesEvictionUnderPressure(t *testing.T) {
	path := tempPath(t)
	s, err := OpenBufferedFileStore(path, true)
	require.NoError(t, err)
	defer s.Close()

	// Touch more distinct pages than the cache holds so every access forces
	// at least one reclaim; every page must still read back correctly.
	const pages = MaxLoadedPages + 64
	for p := 0; p < pages; p++ {
		a, err := NewAccess(s, int64(p)*PageSize, PageSize, true)
		require.NoError(t, err)
		require.NoError(t, a.WriteU32(uint32(p)))
		require.NoError(t, a.Close())
	}
	require.NoError(t, s.Flush())

	for p := 0; p < pages; p++ {
		a, err := NewAccess(s, int64(p)*PageSize, PageSize, false)
		require.NoError(t, err)
		v, err := a.ReadU32()
		require.NoError(t, err)
		require.EqualValuesf(t, p, v, "page %d corrupted after reclaim", p)
		require.NoError(t, a.Close())
	}

	stats := s.Stats()
	require.Greater(t, stats.Misses, uint64(0))
}

func TestBufferedFileStoreConcurrentDistinctPages(t *testing.T) {
	path := tempPath(t)
	s, err := OpenBufferedFileStore(path, true)
	require.NoError(t, err)
	defer s.Close()

	const goroutines = 16
	var wg sync.WaitGroup
	errCh := make(chan error, goroutines)

	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(gid int) {
			defer wg.Done()
			a, err := NewAccess(s, int64(gid)*PageSize, PageSize, true)
			if err != nil {
				errCh <- err
				return
			}
			defer a.Close()
			if err := a.WriteU32(uint32(gid * 7)); err != nil {
				errCh <- err
			}
		}(g)
	}
	wg.Wait()
	close(errCh)
	for err := range errCh {
		t.Errorf("concurrent write: %v", err)
	}

	for g := 0; g < goroutines; g++ {
		a, err := NewAccess(s, int64(g)*PageSize, PageSize, false)
		require.NoError(t, err)
		v, err := a.ReadU32()
		require.NoError(t, err)
		require.EqualValues(t, g*7, v)
		require.NoError(t, a.Close())
	}
}

func TestSplitFileStoreWritesAcrossParts(t *testing.T) {
	dir := t.TempDir()
	const partLen = PageSize

	s, err := OpenSplitFileStore(filepath.Join(dir, "part"), ".seg", partLen, true)
	require.NoError(t, err)
	defer s.Close()

	a := withAccess(t, s, 0, 3*partLen, true)
	a.Seek(0)
	require.NoError(t, a.WriteU64(1))
	a.Seek(partLen)
	require.NoError(t, a.WriteU64(2))
	a.Seek(2 * partLen)
	require.NoError(t, a.WriteU64(3))

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.GreaterOrEqual(t, len(entries), 3)

	a.Seek(0)
	v1, err := a.ReadU64()
	require.NoError(t, err)
	require.EqualValues(t, 1, v1)

	a.Seek(2 * partLen)
	v3, err := a.ReadU64()
	require.NoError(t, err)
	require.EqualValues(t, 3, v3)
}

func TestSplitFileStoreCutRemovesTrailingParts(t *testing.T) {
	dir := t.TempDir()
	const partLen = PageSize

	s, err := OpenSplitFileStore(filepath.Join(dir, "part"), ".seg", partLen, true)
	require.NoError(t, err)
	defer s.Close()

	a := withAccess(t, s, 0, 2*partLen, true)
	a.Seek(partLen)
	require.NoError(t, a.WriteU8(1))
	require.NoError(t, a.Close())

	changed, err := s.Cut(0, 2*partLen)
	require.NoError(t, err)
	require.True(t, changed)

	size, err := s.Size()
	require.NoError(t, err)
	require.Zero(t, size)
}
