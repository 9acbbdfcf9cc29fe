package engine

import (
	"context"

	"github.com/xenops/xenopsd/internal/xenops/types"
)

// RebootAcknowledge handles a domain's disappearance from the hypervisor
// with shutdown code Reboot: it destroys the old domain's remnants while
// preserving the /vm control-tree subtree and VmExtra, then immediately
// re-enters Create using the VmExtra recorded by the original Create
// call, producing a fresh domid for the same VmId. Devices are replugged
// by the caller the same way a first-time Build does, since the new
// domid invalidates every device frontend/backend path.
func (e *Engine) RebootAcknowledge(ctx context.Context, vmID types.VmId) (types.DomId, error) {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return types.NoDomain, err
	}

	if err := e.Destroy(ctx, vmID, true, true); err != nil {
		return types.NoDomain, err
	}

	// Destroy (called with isSuspending=true) intentionally left VmExtra
	// on disk; reload it since hardShutdownAllDevices may have observed
	// devices in a state worth re-checking, then re-create.
	extra, err = e.Store.Load(vmID)
	if err != nil {
		return types.NoDomain, err
	}

	return e.Create(ctx, vmID, extra.CreateInfo, extra.BuildInfo, nil)
}
