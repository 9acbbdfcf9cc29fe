package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/pkg/idalloc"
)

// Mock is an in-memory Transport, standing in for a real squeezed-style
// ballooning daemon the same way hypervisor.Mock stands in for privcmd
// and xenstore.Mock stands in for xenstored: the daemon's own wire
// protocol is host-specific and outside what this module vendors.
type Mock struct {
	mu           sync.Mutex
	reservations map[string]uint64
	// Refuse, if set, is returned as a transient refusal the first
	// RefuseCount times Reserve is called (counted across all sessions)
	// before it succeeds.
	Refuse      RefusalCode
	RefuseCount int
	calls       int
}

// NewMock returns an empty Mock transport.
func NewMock() *Mock {
	return &Mock{reservations: make(map[string]uint64)}
}

func (m *Mock) Login(ctx context.Context) (string, error) {
	return "mock-session", nil
}

func (m *Mock) Reserve(ctx context.Context, session string, min, max uint64) (uint64, string, RefusalCode, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.RefuseCount > 0 && m.calls < m.RefuseCount {
		m.calls++
		return 0, "", m.Refuse, fmt.Errorf("mock broker refused reservation: %s", m.Refuse)
	}

	id, err := idalloc.NextWithPrefix("resv")
	if err != nil {
		return 0, "", "", err
	}
	m.reservations[id] = max
	return max, id, "", nil
}

func (m *Mock) TransferToDomain(ctx context.Context, session, reservationID string, domid types.DomId) error {
	return nil
}

func (m *Mock) Release(ctx context.Context, session, reservationID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.reservations, reservationID)
	return nil
}

func (m *Mock) Balance(ctx context.Context, session string) error {
	return nil
}
