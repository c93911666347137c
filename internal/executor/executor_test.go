package executor

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistrySetCurrentForget(t *testing.T) {
	r := NewRegistry(nil)
	id := New()

	_, ok := r.Current(id)
	require.False(t, ok)

	r.Set(id, "tx-1")
	tx, ok := r.Current(id)
	require.True(t, ok)
	require.Equal(t, "tx-1", tx)

	r.Forget(id)
	_, ok = r.Current(id)
	require.False(t, ok)
}

func TestRegistrySnapshotIsACopy(t *testing.T) {
	r := NewRegistry(nil)
	id1, id2 := New(), New()
	r.Set(id1, "a")
	r.Set(id2, "b")

	snap := r.Snapshot()
	require.Len(t, snap, 2)

	r.Forget(id1)
	require.Len(t, snap, 2, "snapshot must not be affected by later mutation")
}

func TestDefaultProbeTreatsCurrentProcessAsAlive(t *testing.T) {
	r := NewRegistry(nil)
	id := New()
	require.True(t, r.IsAlive(id))
}

func TestCustomLivenessProbeOverridesDefault(t *testing.T) {
	r := NewRegistry(func(ID) bool { return false })
	require.False(t, r.IsAlive(New()))
}

func TestNewExecutorIDsAreDistinct(t *testing.T) {
	a, b := New(), New()
	require.NotEqual(t, a, b)
	require.Equal(t, a.PID, b.PID)
}
