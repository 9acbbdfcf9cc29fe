// Package hypervisor is the typed client for the Hypervisor Control
// surface (base spec §4.B): domain lifecycle primitives, the event
// channel allocator, shadow-memory and hard memory-limit controls, vcpu
// accounting and affinity, ioport/iomem/irq permission grants, and cpuid
// policy application. Every call here is a thin, typed wrapper over a
// single hypercall-equivalent; the lifecycle engine composes them.
package hypervisor

import (
	"context"
	"fmt"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// DomainInfo mirrors the subset of domain_getinfo the engine and watch
// subsystem consume.
type DomainInfo struct {
	DomId      types.DomId
	Running    bool
	Paused     bool
	Shutdown   bool
	Dying      bool
	Crashed    bool
	ShutdownCode int
	CPUTime    uint64
	MaxVcpus   int
	MaxMemKB   uint64
	TotMemKB   uint64
}

// VcpuAffinity is a bitmask of host pcpus a vcpu may run on; nil means
// "any pcpu".
type VcpuAffinity []bool

// Control is the full Hypervisor Control surface. A real implementation
// issues the Xen privcmd hypercalls directly; Mock backs tests and the
// rest of this repository's development loop.
type Control interface {
	DomainCreate(ctx context.Context, info types.CreateInfo) (types.DomId, error)
	DomainDestroy(ctx context.Context, domid types.DomId) error
	DomainPause(ctx context.Context, domid types.DomId) error
	DomainUnpause(ctx context.Context, domid types.DomId) error
	DomainShutdown(ctx context.Context, domid types.DomId, reason types.ShutdownReason) error
	DomainGetInfo(ctx context.Context, domid types.DomId) (DomainInfo, error)
	DomainGetInfoList(ctx context.Context) ([]DomainInfo, error)

	EvtchnAllocUnbound(ctx context.Context, domid, remoteDomid types.DomId) (port int, err error)

	ShadowAllocationGet(ctx context.Context, domid types.DomId) (mb int, err error)
	ShadowAllocationSet(ctx context.Context, domid types.DomId, mb int) error

	SetMaxMem(ctx context.Context, domid types.DomId, maxKB uint64) error
	SetMemmapLimit(ctx context.Context, domid types.DomId, maxPages uint64) error

	MaxVcpus(ctx context.Context, domid types.DomId, n int) error
	VcpuAffinitySet(ctx context.Context, domid types.DomId, vcpu int, affinity VcpuAffinity) error
	VcpuAffinityGet(ctx context.Context, domid types.DomId, vcpu int) (VcpuAffinity, error)

	IoportPermission(ctx context.Context, domid types.DomId, first, number int, allow bool) error
	IomemPermission(ctx context.Context, domid types.DomId, first, number uint64, allow bool) error
	IrqPermission(ctx context.Context, domid types.DomId, irq int, allow bool) error

	DomainCpuidSet(ctx context.Context, domid types.DomId, templates []CpuidTemplate) error
	DomainCpuidApply(ctx context.Context, domid types.DomId) error
	CpuidCheck(ctx context.Context, templates []CpuidTemplate) error
}

// CpuidTemplate is one leaf/subleaf policy line: a 32-character string
// over {'0','1','x','s','k'} covering eax,ebx,ecx,edx (8 characters each),
// per the base spec's closed cpuid-template vocabulary.
type CpuidTemplate string

const templateLength = 32

var validTemplateChars = map[byte]bool{
	'0': true, '1': true, 'x': true, 's': true, 'k': true,
}

// Validate checks t against the closed vocabulary without consulting the
// hypervisor: length must be exactly 32, and every character must be one
// of '0' (clear), '1' (set), 'x' (don't care / default), 's' (same as
// host), or 'k' (keep incoming, restore/migrate only). This validation is
// mandatory before any DomainCpuidSet/Apply call reaches the hypervisor
// (testable property 8).
func (t CpuidTemplate) Validate() error {
	s := string(t)
	if len(s) != templateLength {
		return apierror.WrapError(apierror.ErrBadCpuidTemplate,
			fmt.Sprintf("template length %d, want %d", len(s), templateLength), nil)
	}
	for i := 0; i < len(s); i++ {
		if !validTemplateChars[s[i]] {
			return apierror.WrapError(apierror.ErrBadCpuidTemplate,
				fmt.Sprintf("invalid character %q at offset %d", s[i], i), nil)
		}
	}
	return nil
}

// ValidateAll validates every template in templates, short-circuiting on
// the first failure. The engine calls this before DomainCpuidSet so a
// malformed policy never results in a partial hypercall sequence.
func ValidateAll(templates []CpuidTemplate) error {
	for i, t := range templates {
		if err := t.Validate(); err != nil {
			return fmt.Errorf("cpuid template %d: %w", i, err)
		}
	}
	return nil
}
