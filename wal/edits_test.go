package wal

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func assertGapInvariant(t *testing.T, pe *PageEdits) {
	t.Helper()
	edits := pe.Edits()
	for i := 1; i < len(edits); i++ {
		require.Greater(t, edits[i].Offset, edits[i-1].end(),
			"edits must be strictly gap-separated: %+v", edits)
	}
}

func TestPageEditsAddEditDisjoint(t *testing.T) {
	var pe PageEdits
	pe.AddEdit(100, []byte("abcd"))
	pe.AddEdit(10, []byte("xy"))
	pe.AddEdit(200, []byte("z"))

	assertGapInvariant(t, &pe)
	require.Equal(t, 3, pe.Len())
	require.Equal(t, uint32(10), pe.Edits()[0].Offset)
	require.Equal(t, uint32(100), pe.Edits()[1].Offset)
	require.Equal(t, uint32(200), pe.Edits()[2].Offset)
}

func TestPageEditsAddEditMergesOverlap(t *testing.T) {
	var pe PageEdits
	pe.AddEdit(0, []byte("AAAA"))
	pe.AddEdit(2, []byte("BBBB"))

	assertGapInvariant(t, &pe)
	require.Equal(t, 1, pe.Len())
	require.Equal(t, uint32(0), pe.Edits()[0].Offset)
	require.Equal(t, uint32(6), pe.Edits()[0].Length)
	require.Equal(t, []byte("AABBBB"), pe.Edits()[0].Bytes)
}

func TestPageEditsAddEditMergesAdjacent(t *testing.T) {
	var pe PageEdits
	pe.AddEdit(0, []byte("AB"))
	pe.AddEdit(2, []byte("CD"))

	assertGapInvariant(t, &pe)
	require.Equal(t, 1, pe.Len())
	require.Equal(t, []byte("ABCD"), pe.Edits()[0].Bytes)
}

func TestPageEditsAddEditLatestWriteWins(t *testing.T) {
	var pe PageEdits
	pe.AddEdit(0, []byte("AAAA"))
	pe.AddEdit(1, []byte("XX"))

	require.Equal(t, 1, pe.Len())
	require.Equal(t, []byte("AXXA"), pe.Edits()[0].Bytes)
}

func TestPageEditsAddEditMergesSpanningRun(t *testing.T) {
	var pe PageEdits
	pe.AddEdit(0, []byte("AA"))
	pe.AddEdit(10, []byte("BB"))
	pe.AddEdit(20, []byte("CC"))
	require.Equal(t, 3, pe.Len())

	// One big write spanning all three existing edits collapses them.
	pe.AddEdit(0, make([]byte, 22))
	assertGapInvariant(t, &pe)
	require.Equal(t, 1, pe.Len())
	require.Equal(t, uint32(0), pe.Edits()[0].Offset)
	require.Equal(t, uint32(22), pe.Edits()[0].Length)
}

func TestPageEditsIntersectsSymmetric(t *testing.T) {
	var a, b PageEdits
	a.AddEdit(0, []byte("1234"))
	b.AddEdit(2, []byte("56"))

	require.True(t, a.Intersects(&b))
	require.True(t, b.Intersects(&a))
}

func TestPageEditsIntersectsDisjointNeverIntersects(t *testing.T) {
	var a, b PageEdits
	a.AddEdit(0, []byte("1234"))
	b.AddEdit(4, []byte("56")) // adjacent, not overlapping

	require.False(t, a.Intersects(&b))
	require.False(t, b.Intersects(&a))
}

func TestPageEditsResetEmpties(t *testing.T) {
	var pe PageEdits
	pe.AddEdit(0, []byte("x"))
	pe.Reset()
	require.Equal(t, 0, pe.Len())
}
