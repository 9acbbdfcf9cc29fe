// Package updates is the Update bus (base spec §4.J): an append-only,
// monotonically-id'd log of Update events that RPC's UPDATES.get long-polls
// against. Every lifecycle transition the engine makes is expected to end
// with exactly one push onto this bus so a client that lost its connection
// can resume from the last id it saw without missing anything.
package updates

import (
	"context"
	"sync"

	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/pkg/idalloc"
)

// Bus is a single process-wide update log. Get blocks until either new
// items exist past last or timeout elapses, the long-poll shape RPC's
// UPDATES.get exposes directly.
type Bus struct {
	mu    sync.Mutex
	items []types.Update
	cond  *sync.Cond
}

// New returns an empty bus.
func New() *Bus {
	b := &Bus{}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Push appends an update, minting its id from the shared id generator, and
// wakes any blocked Get callers.
func (b *Bus) Push(kind types.UpdateKind, vmID types.VmId, devID string) (types.Update, error) {
	id, err := idalloc.Next()
	if err != nil {
		return types.Update{}, err
	}

	u := types.Update{ID: id, Kind: kind, VmId: vmID, DevId: devID}

	b.mu.Lock()
	b.items = append(b.items, u)
	b.mu.Unlock()
	b.cond.Broadcast()

	return u, nil
}

// Get returns every item with ID > last, blocking (via ctx) if none exist
// yet, and the new high-water mark to pass as last on the next call. If
// ctx expires before anything new arrives, Get returns an empty slice and
// last unchanged, not an error: a timed-out long poll is a normal outcome
// the caller simply retries.
func (b *Bus) Get(ctx context.Context, last uint64) ([]types.Update, uint64, error) {
	// wake every blocked Get once ctx is done, so cond.Wait below doesn't
	// sleep past the caller's deadline.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			b.mu.Lock()
			b.cond.Broadcast()
			b.mu.Unlock()
		case <-stop:
		}
	}()

	b.mu.Lock()
	defer b.mu.Unlock()
	for {
		out := b.newerThanLocked(last)
		if len(out) > 0 {
			return out, out[len(out)-1].ID, nil
		}
		if ctx.Err() != nil {
			return nil, last, nil
		}
		b.cond.Wait()
	}
}

func (b *Bus) newerThanLocked(last uint64) []types.Update {
	var out []types.Update
	for _, u := range b.items {
		if u.ID > last {
			out = append(out, u)
		}
	}
	return out
}

// Tail returns the current high-water mark, for callers establishing a
// fresh subscription that only wants updates from now on.
func (b *Bus) Tail() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.items) == 0 {
		return 0
	}
	return b.items[len(b.items)-1].ID
}
