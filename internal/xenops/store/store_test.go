package store

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xenops/xenopsd/internal/xenops/types"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	extra := &types.VmExtra{
		VmId:               "11111111-1111-1111-1111-111111111111",
		DomId:              types.NoDomain,
		MemoryStaticMaxKiB: 262144,
	}
	require.NoError(t, s.Save(extra))

	got, err := s.Load(extra.VmId)
	require.NoError(t, err)
	require.Equal(t, extra.VmId, got.VmId)
	require.Equal(t, extra.MemoryStaticMaxKiB, got.MemoryStaticMaxKiB)

	require.True(t, s.Exists(extra.VmId))

	ids, err := s.List()
	require.NoError(t, err)
	require.Equal(t, []types.VmId{extra.VmId}, ids)
}

func TestLoadMissingIsErrNotFound(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	_, err = s.Load("does-not-exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestSaveOverwritesAtomically(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	extra := &types.VmExtra{VmId: "vm-1", SuspendMemoryBytes: 0}
	require.NoError(t, s.Save(extra))

	extra.SuspendMemoryBytes = 4096 * 10
	require.NoError(t, s.Save(extra))

	got, err := s.Load("vm-1")
	require.NoError(t, err)
	require.Equal(t, uint64(4096*10), got.SuspendMemoryBytes)
}

func TestDeleteIsIdempotent(t *testing.T) {
	s, err := New(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, s.Delete("never-existed"))

	require.NoError(t, s.Save(&types.VmExtra{VmId: "vm-2"}))
	require.NoError(t, s.Delete("vm-2"))
	require.False(t, s.Exists("vm-2"))
	require.NoError(t, s.Delete("vm-2"))
}
