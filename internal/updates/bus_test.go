package updates

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xenops/xenopsd/internal/xenops/types"
)

func TestGetReturnsImmediatelyIfUpdatesAlreadyPast(t *testing.T) {
	b := New()
	_, err := b.Push(types.UpdateVm, types.VmId("vm-1"), "")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	out, _, err := b.Get(ctx, 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

func TestGetBlocksUntilPush(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	var out []types.Update
	var newLast uint64
	wg.Add(1)
	go func() {
		defer wg.Done()
		var err error
		out, newLast, err = b.Get(ctx, 0)
		require.NoError(t, err)
	}()

	time.Sleep(50 * time.Millisecond)
	u, err := b.Push(types.UpdateVbd, types.VmId("vm-2"), "xvda")
	require.NoError(t, err)

	wg.Wait()
	require.Len(t, out, 1)
	require.Equal(t, u.ID, newLast)
}

func TestGetTimesOutWithNothingNew(t *testing.T) {
	b := New()
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	out, last, err := b.Get(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, out)
	require.Equal(t, uint64(0), last)
}

func TestPushIDsAreMonotonic(t *testing.T) {
	b := New()
	u1, err := b.Push(types.UpdateVm, types.VmId("a"), "")
	require.NoError(t, err)
	u2, err := b.Push(types.UpdateVm, types.VmId("b"), "")
	require.NoError(t, err)
	require.Greater(t, u2.ID, u1.ID)
}
