package wal

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/marlowdb/walcore/storage"
)

func newLogStore(t *testing.T) storage.Storage {
	t.Helper()
	return storage.NewInMemoryStore()
}

func TestTransactionRecordEncodeRoundTrip(t *testing.T) {
	rec := &TransactionRecord{
		SequenceNumber: 7,
		TimestampMs:    1234567,
		Pages: []PageRecord{
			{Location: 0, Edits: []EditRecord{{Offset: 4, Length: 3, Bytes: []byte("abc")}}},
			{Location: storage.PageSize, Edits: []EditRecord{
				{Offset: 0, Length: 2, Bytes: []byte("hi")},
				{Offset: 10, Length: 1, Bytes: []byte("z")},
			}},
		},
	}

	s := newLogStore(t)
	require.NoError(t, writeTransactionRecordAt(s, headerSize, rec))

	size, err := s.Size()
	require.NoError(t, err)

	decoded, ok, err := decodeTransactionRecordAt(s, headerSize, int64(size))
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec.SequenceNumber, decoded.SequenceNumber)
	require.Equal(t, rec.TimestampMs, decoded.TimestampMs)
	if diff := cmp.Diff(rec.Pages, decoded.Pages); diff != "" {
		t.Fatalf("decoded pages mismatch (-want +got):\n%s", diff)
	}

	// Re-encoding the decoded record must be byte-identical to the original.
	require.Equal(t, rec.encode(), decoded.encode())
}

func TestDecodeTransactionRecordPartialTailIsDiscarded(t *testing.T) {
	rec := &TransactionRecord{
		SequenceNumber: 1,
		TimestampMs:    1,
		Pages: []PageRecord{
			{Location: 0, Edits: []EditRecord{{Offset: 0, Length: 4, Bytes: []byte("wxyz")}}},
		},
	}
	s := newLogStore(t)
	require.NoError(t, writeTransactionRecordAt(s, headerSize, rec))
	full := rec.encodedLen()

	_, ok, err := decodeTransactionRecordAt(s, headerSize, headerSize+full-5)
	require.NoError(t, err)
	require.False(t, ok, "a truncated size must be reported as a partial tail, not decoded")
}

func TestLogHeaderRoundTrip(t *testing.T) {
	s := newLogStore(t)
	require.NoError(t, writeLogHeader(s, logHeader{
		lastCheckpointTimestampMs: 42,
		indexedTransactionCount:   3,
		firstTransactionLogOffset: uint64(headerSize),
	}))

	h, err := readLogHeader(s)
	require.NoError(t, err)
	require.Equal(t, logMagic, h.magic)
	require.EqualValues(t, 42, h.lastCheckpointTimestampMs)
	require.EqualValues(t, 3, h.indexedTransactionCount)
	require.EqualValues(t, headerSize, h.firstTransactionLogOffset)
}

func TestTransactionRecordIntersectsOnSharedPageOverlap(t *testing.T) {
	a := &TransactionRecord{Pages: []PageRecord{
		{Location: 0, Edits: []EditRecord{{Offset: 0, Length: 8}}},
	}}
	b := &TransactionRecord{Pages: []PageRecord{
		{Location: 0, Edits: []EditRecord{{Offset: 4, Length: 8}}},
	}}
	c := &TransactionRecord{Pages: []PageRecord{
		{Location: storage.PageSize, Edits: []EditRecord{{Offset: 0, Length: 8}}},
	}}

	require.True(t, a.intersects(b))
	require.True(t, b.intersects(a))
	require.False(t, a.intersects(c), "different page locations never intersect")
}
