package wal

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/marlowdb/walcore/internal/executor"
	"github.com/marlowdb/walcore/storage"
	"github.com/marlowdb/walcore/walerr"
)

func testOptions() Options {
	o := NewOptions()
	o.JanitorPeriod = time.Hour // tests drive the janitor explicitly via Cleanup
	return o
}

func newMemoryWAL(t *testing.T) *WAL {
	t.Helper()
	w, err := Open(storage.NewInMemoryStore(), storage.NewInMemoryStore(), testOptions())
	require.NoError(t, err)
	t.Cleanup(func() { _ = w.Close() })
	return w
}

func TestWriteFlushReload(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data")
	logPath := filepath.Join(dir, "log")

	data, err := storage.OpenDirectFileStore(dataPath, true)
	require.NoError(t, err)
	logStore, err := storage.OpenDirectFileStore(logPath, true)
	require.NoError(t, err)
	w, err := Open(data, logStore, testOptions())
	require.NoError(t, err)

	exec1 := executor.New()
	tx1, err := w.Begin(exec1, true, false)
	require.NoError(t, err)
	acc, err := tx1.Access(exec1, 0, storage.PageSize, true)
	require.NoError(t, err)
	for i := int32(0); i < 2048; i++ {
		require.NoError(t, acc.WriteI32(i))
	}
	require.NoError(t, acc.Close())
	require.NoError(t, tx1.Commit(exec1))
	require.NoError(t, tx1.Close(exec1))
	require.NoError(t, w.Close())

	data2, err := storage.OpenDirectFileStore(dataPath, true)
	require.NoError(t, err)
	logStore2, err := storage.OpenDirectFileStore(logPath, true)
	require.NoError(t, err)
	w2, err := Open(data2, logStore2, testOptions())
	require.NoError(t, err)
	defer w2.Close()

	exec2 := executor.New()
	tx2, err := w2.Begin(exec2, false, false)
	require.NoError(t, err)
	acc2, err := tx2.Access(exec2, 4092, 4, false)
	require.NoError(t, err)
	v, err := acc2.ReadI32()
	require.NoError(t, err)
	require.EqualValues(t, 1023, v)
	require.NoError(t, acc2.Close())
	require.NoError(t, tx2.Close(exec2))

	size, err := data2.Size()
	require.NoError(t, err)
	require.EqualValues(t, storage.PageSize, size)
}

func TestCommitConflictRejectsSecondWriter(t *testing.T) {
	w := newMemoryWAL(t)
	execA, execB, execC := executor.New(), executor.New(), executor.New()

	ta, err := w.Begin(execA, true, false)
	require.NoError(t, err)
	tb, err := w.Begin(execB, true, false)
	require.NoError(t, err)
	require.Equal(t, ta.EndMark(), tb.EndMark())

	accA, err := ta.Access(execA, 16, 8, true)
	require.NoError(t, err)
	require.NoError(t, accA.WriteU64(0x0102030405060708))
	require.NoError(t, accA.Close())
	require.NoError(t, ta.Commit(execA))
	require.NoError(t, ta.Close(execA))

	accB, err := tb.Access(execB, 20, 8, true)
	require.NoError(t, err)
	require.NoError(t, accB.WriteU64(0))
	require.NoError(t, accB.Close())
	err = tb.Commit(execB)
	require.Error(t, err)
	require.ErrorIs(t, err, walerr.ErrConcurrentWrite)
	require.Equal(t, StateRejected, tb.State())
	require.NoError(t, tb.Close(execB))

	tc, err := w.Begin(execC, false, false)
	require.NoError(t, err)
	accC, err := tc.Access(execC, 16, 8, false)
	require.NoError(t, err)
	v, err := accC.ReadU64()
	require.NoError(t, err)
	require.EqualValues(t, 0x0102030405060708, v)
	require.NoError(t, accC.Close())
	require.NoError(t, tc.Close(execC))
}

func TestNonConflictingConcurrentWritesBothSucceed(t *testing.T) {
	w := newMemoryWAL(t)
	execA, execB := executor.New(), executor.New()

	ta, err := w.Begin(execA, true, false)
	require.NoError(t, err)
	tb, err := w.Begin(execB, true, false)
	require.NoError(t, err)

	accA, err := ta.Access(execA, 0, 4, true)
	require.NoError(t, err)
	require.NoError(t, accA.WriteU32(0xAAAAAAAA))
	require.NoError(t, accA.Close())
	require.NoError(t, ta.Commit(execA))
	require.NoError(t, ta.Close(execA))

	accB, err := tb.Access(execB, storage.PageSize, 4, true)
	require.NoError(t, err)
	require.NoError(t, accB.WriteU32(0xBBBBBBBB))
	require.NoError(t, accB.Close())
	require.NoError(t, tb.Commit(execB))
	require.NoError(t, tb.Close(execB))

	execC := executor.New()
	tc, err := w.Begin(execC, false, false)
	require.NoError(t, err)
	acc1, err := tc.Access(execC, 0, 4, false)
	require.NoError(t, err)
	v1, err := acc1.ReadU32()
	require.NoError(t, err)
	require.EqualValues(t, 0xAAAAAAAA, v1)
	require.NoError(t, acc1.Close())

	acc2, err := tc.Access(execC, storage.PageSize, 4, false)
	require.NoError(t, err)
	v2, err := acc2.ReadU32()
	require.NoError(t, err)
	require.EqualValues(t, 0xBBBBBBBB, v2)
	require.NoError(t, acc2.Close())
	require.NoError(t, tc.Close(execC))
}

func TestReloadDiscardsPartialTail(t *testing.T) {
	dir := t.TempDir()
	dataPath := filepath.Join(dir, "data")
	logPath := filepath.Join(dir, "log")

	data, err := storage.OpenDirectFileStore(dataPath, true)
	require.NoError(t, err)
	logStore, err := storage.OpenDirectFileStore(logPath, true)
	require.NoError(t, err)
	w, err := Open(data, logStore, testOptions())
	require.NoError(t, err)

	exec1 := executor.New()
	tx1, err := w.Begin(exec1, true, false)
	require.NoError(t, err)
	acc, err := tx1.Access(exec1, 0, 4, true)
	require.NoError(t, err)
	require.NoError(t, acc.WriteU32(0xCAFEBABE))
	require.NoError(t, acc.Close())
	require.NoError(t, tx1.Commit(exec1))
	require.NoError(t, tx1.Close(exec1))

	// Simulate a crash: close the raw files without running the WAL's
	// final checkpoint, then chop the last 5 bytes off the log.
	require.NoError(t, data.Close())
	require.NoError(t, logStore.Close())
	info, err := os.Stat(logPath)
	require.NoError(t, err)
	require.NoError(t, os.Truncate(logPath, info.Size()-5))

	data2, err := storage.OpenDirectFileStore(dataPath, true)
	require.NoError(t, err)
	logStore2, err := storage.OpenDirectFileStore(logPath, true)
	require.NoError(t, err)
	w2, err := Open(data2, logStore2, testOptions())
	require.NoError(t, err)
	defer w2.Close()

	logSize, err := logStore2.Size()
	require.NoError(t, err)
	require.EqualValues(t, headerSize, logSize)

	exec2 := executor.New()
	tx2, err := w2.Begin(exec2, false, false)
	require.NoError(t, err)
	require.EqualValues(t, -1, tx2.EndMark())

	acc2, err := tx2.Access(exec2, 0, 4, false)
	require.NoError(t, err)
	v, err := acc2.ReadU32()
	require.NoError(t, err)
	require.EqualValues(t, 0, v, "the discarded record's writes must not have reached the backing storage")
	require.NoError(t, acc2.Close())
	require.NoError(t, tx2.Close(exec2))
}

func TestCheckpointTriggersAtIndexThreshold(t *testing.T) {
	w := newMemoryWAL(t)
	exec := executor.New()

	for i := 0; i < 520; i++ {
		tx, err := w.Begin(exec, true, true)
		require.NoError(t, err)
		acc, err := tx.Access(exec, int64(i), 1, true)
		require.NoError(t, err)
		require.NoError(t, acc.WriteU8(byte(i)))
		require.NoError(t, acc.Close())
		require.NoError(t, tx.Close(exec))
	}

	w.Cleanup()

	logSize, err := w.log.Size()
	require.NoError(t, err)
	require.EqualValues(t, headerSize, logSize)

	w.indexMu.Lock()
	indexLen := len(w.index)
	w.indexMu.Unlock()
	require.Zero(t, indexLen)

	exec2 := executor.New()
	tx, err := w.Begin(exec2, false, false)
	require.NoError(t, err)
	for i := 0; i < 520; i++ {
		acc, err := tx.Access(exec2, int64(i), 1, false)
		require.NoError(t, err)
		v, err := acc.ReadU8()
		require.NoError(t, err)
		require.EqualValues(t, byte(i), v)
		require.NoError(t, acc.Close())
	}
	require.NoError(t, tx.Close(exec2))
}

func TestOrphanTransactionIsReapedAndInvisible(t *testing.T) {
	deadID := executor.ID{PID: 999999999, Tag: 1}
	opts := testOptions()
	opts.LivenessProbe = func(id executor.ID) bool { return id != deadID }

	w, err := Open(storage.NewInMemoryStore(), storage.NewInMemoryStore(), opts)
	require.NoError(t, err)
	defer w.Close()

	tx, err := w.Begin(deadID, true, false)
	require.NoError(t, err)
	acc, err := tx.Access(deadID, 0, 4, true)
	require.NoError(t, err)
	require.NoError(t, acc.WriteU32(0xDEADBEEF))
	require.NoError(t, acc.Close())

	w.Cleanup()
	require.Equal(t, StateAborted, tx.State())

	exec2 := executor.New()
	tx2, err := w.Begin(exec2, false, false)
	require.NoError(t, err)
	acc2, err := tx2.Access(exec2, 0, 4, false)
	require.NoError(t, err)
	v, err := acc2.ReadU32()
	require.NoError(t, err)
	require.EqualValues(t, 0, v, "an orphan's uncommitted writes must never become visible")
	require.NoError(t, acc2.Close())
	require.NoError(t, tx2.Close(exec2))
}
