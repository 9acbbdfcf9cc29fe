package hypervisor

import (
	"context"
	"sync"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// Mock is an in-memory Control used by engine tests and local development;
// it keeps just enough state to make the engine's call sequence
// observable and its invariants checkable.
type Mock struct {
	mu sync.Mutex

	nextDomId types.DomId
	nextPort  int
	domains   map[types.DomId]*DomainInfo
	shadowMB  map[types.DomId]int
	affinity  map[types.DomId]map[int]VcpuAffinity
	cpuid     map[types.DomId][]CpuidTemplate

	// DestroyHook, if set, runs inside DomainDestroy before the domain is
	// removed from the map; tests use it to simulate a domain stuck dying.
	DestroyHook func(domid types.DomId) error
}

// NewMock returns an empty Mock Control with domids starting at 1.
func NewMock() *Mock {
	return &Mock{
		nextDomId: 1,
		nextPort:  1,
		domains:   make(map[types.DomId]*DomainInfo),
		shadowMB:  make(map[types.DomId]int),
		affinity:  make(map[types.DomId]map[int]VcpuAffinity),
		cpuid:     make(map[types.DomId][]CpuidTemplate),
	}
}

func (m *Mock) get(domid types.DomId) (*DomainInfo, error) {
	d, ok := m.domains[domid]
	if !ok {
		return nil, apierror.WrapError(apierror.ErrDoesNotExist, "domain not found", nil)
	}
	return d, nil
}

func (m *Mock) DomainCreate(ctx context.Context, info types.CreateInfo) (types.DomId, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	domid := m.nextDomId
	m.nextDomId++
	m.domains[domid] = &DomainInfo{
		DomId: domid,
	}
	return domid, nil
}

func (m *Mock) DomainDestroy(ctx context.Context, domid types.DomId) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, err := m.get(domid); err != nil {
		return err
	}
	if m.DestroyHook != nil {
		if err := m.DestroyHook(domid); err != nil {
			return err
		}
	}
	delete(m.domains, domid)
	delete(m.shadowMB, domid)
	delete(m.affinity, domid)
	delete(m.cpuid, domid)
	return nil
}

func (m *Mock) DomainPause(ctx context.Context, domid types.DomId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(domid)
	if err != nil {
		return err
	}
	d.Paused = true
	d.Running = false
	return nil
}

func (m *Mock) DomainUnpause(ctx context.Context, domid types.DomId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(domid)
	if err != nil {
		return err
	}
	d.Paused = false
	d.Running = true
	return nil
}

func (m *Mock) DomainShutdown(ctx context.Context, domid types.DomId, reason types.ShutdownReason) error {
	if !reason.Valid() {
		return apierror.WrapError(apierror.ErrInternalError, "unrecognized shutdown reason", nil)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(domid)
	if err != nil {
		return err
	}
	d.Running = false
	d.Shutdown = true
	return nil
}

func (m *Mock) DomainGetInfo(ctx context.Context, domid types.DomId) (DomainInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(domid)
	if err != nil {
		return DomainInfo{}, err
	}
	return *d, nil
}

func (m *Mock) DomainGetInfoList(ctx context.Context) ([]DomainInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]DomainInfo, 0, len(m.domains))
	for _, d := range m.domains {
		out = append(out, *d)
	}
	return out, nil
}

// EvtchnAllocUnbound mints a fresh port on every call, the same way a real
// event-channel allocation never hands back a port already bound to
// something else, even for repeat calls against the same domid/remoteDomid
// pair.
func (m *Mock) EvtchnAllocUnbound(ctx context.Context, domid, remoteDomid types.DomId) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(domid); err != nil {
		return 0, err
	}
	port := m.nextPort
	m.nextPort++
	return port, nil
}

func (m *Mock) ShadowAllocationGet(ctx context.Context, domid types.DomId) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(domid); err != nil {
		return 0, err
	}
	return m.shadowMB[domid], nil
}

func (m *Mock) ShadowAllocationSet(ctx context.Context, domid types.DomId, mb int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(domid); err != nil {
		return err
	}
	m.shadowMB[domid] = mb
	return nil
}

func (m *Mock) SetMaxMem(ctx context.Context, domid types.DomId, maxKB uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(domid)
	if err != nil {
		return err
	}
	d.MaxMemKB = maxKB
	return nil
}

func (m *Mock) SetMemmapLimit(ctx context.Context, domid types.DomId, maxPages uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.get(domid)
	return err
}

func (m *Mock) MaxVcpus(ctx context.Context, domid types.DomId, n int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, err := m.get(domid)
	if err != nil {
		return err
	}
	d.MaxVcpus = n
	return nil
}

func (m *Mock) VcpuAffinitySet(ctx context.Context, domid types.DomId, vcpu int, affinity VcpuAffinity) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(domid); err != nil {
		return err
	}
	if m.affinity[domid] == nil {
		m.affinity[domid] = make(map[int]VcpuAffinity)
	}
	m.affinity[domid][vcpu] = affinity
	return nil
}

func (m *Mock) VcpuAffinityGet(ctx context.Context, domid types.DomId, vcpu int) (VcpuAffinity, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(domid); err != nil {
		return nil, err
	}
	return m.affinity[domid][vcpu], nil
}

func (m *Mock) IoportPermission(ctx context.Context, domid types.DomId, first, number int, allow bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.get(domid)
	return err
}

func (m *Mock) IomemPermission(ctx context.Context, domid types.DomId, first, number uint64, allow bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.get(domid)
	return err
}

func (m *Mock) IrqPermission(ctx context.Context, domid types.DomId, irq int, allow bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.get(domid)
	return err
}

func (m *Mock) DomainCpuidSet(ctx context.Context, domid types.DomId, templates []CpuidTemplate) error {
	if err := ValidateAll(templates); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, err := m.get(domid); err != nil {
		return err
	}
	m.cpuid[domid] = templates
	return nil
}

func (m *Mock) DomainCpuidApply(ctx context.Context, domid types.DomId) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, err := m.get(domid)
	return err
}

func (m *Mock) CpuidCheck(ctx context.Context, templates []CpuidTemplate) error {
	return ValidateAll(templates)
}

var _ Control = (*Mock)(nil)
