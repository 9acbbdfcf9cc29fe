package xenstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestReadWriteRoundTrip(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	require.NoError(t, m.Write(ctx, "/local/domain/1/name", "vm1"))
	v, err := m.Read(ctx, "/local/domain/1/name")
	require.NoError(t, err)
	require.Equal(t, "vm1", v)
}

func TestReadMissingIsErrNotFound(t *testing.T) {
	m := NewMock()
	_, err := m.Read(context.Background(), "/nope")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestDirectoryListsImmediateChildren(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "/local/domain/1/device/vbd/51712/state", "4"))
	require.NoError(t, m.Write(ctx, "/local/domain/1/device/vif/0/state", "4"))

	children, err := m.Directory(ctx, "/local/domain/1/device")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"vbd", "vif"}, children)
}

func TestRmRemovesSubtree(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "/a/b/c", "1"))
	require.NoError(t, m.Write(ctx, "/a/b/d", "2"))

	require.NoError(t, m.Rm(ctx, "/a/b"))
	_, err := m.Read(ctx, "/a/b/c")
	require.ErrorIs(t, err, ErrNotFound)
	_, err = m.Read(ctx, "/a/b/d")
	require.ErrorIs(t, err, ErrNotFound)
}

func TestWatchFiresOnWrite(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	w, err := m.Watch(ctx, "/local/domain/1/memory/target", "tok-1")
	require.NoError(t, err)
	defer w.Cancel()

	require.NoError(t, m.Write(ctx, "/local/domain/1/memory/target", "262144"))

	select {
	case ev := <-w.Events():
		require.Equal(t, "tok-1", ev.Token)
	case <-time.After(time.Second):
		t.Fatal("watch did not fire")
	}
}

func TestTransactionCommitIsAtomic(t *testing.T) {
	m := NewMock()
	ctx := context.Background()

	txn, err := m.Transaction(ctx)
	require.NoError(t, err)
	require.NoError(t, txn.Write(ctx, "/a", "1"))
	require.NoError(t, txn.Write(ctx, "/b", "2"))

	// not yet visible outside the transaction
	_, err = m.Read(ctx, "/a")
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, txn.Commit(ctx))

	v, err := m.Read(ctx, "/a")
	require.NoError(t, err)
	require.Equal(t, "1", v)
}

func TestReadVSkipsMissingPaths(t *testing.T) {
	m := NewMock()
	ctx := context.Background()
	require.NoError(t, m.Write(ctx, "/x", "1"))

	out, err := m.ReadV(ctx, []string{"/x", "/y"})
	require.NoError(t, err)
	require.Equal(t, map[string]string{"/x": "1"}, out)
}
