package engine

import (
	"context"
	"fmt"
	"os"

	"github.com/xenops/xenopsd/internal/devices"
	"github.com/xenops/xenopsd/internal/task"
	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// controlChannelFD opens the per-domain control-channel descriptor the
// builder helper expects as its first extra fd. A real deployment backs
// this by the Xen control-interface device for the domain; tests supply
// any readable/writable file.
var controlChannelFD = func(domid types.DomId) (*os.File, error) {
	return os.OpenFile(fmt.Sprintf("/dev/xen/domain-%d-control", domid), os.O_RDWR, 0)
}

// Build spawns the builder helper to construct the domain's initial CPU
// and memory state, then re-applies the requested shadow allocation if
// the helper's own sizing left it short (testable property: build never
// silently under-allocates shadow memory below what Create requested).
func (e *Engine) Build(ctx context.Context, vmID types.VmId, args []string, t task.Task) error {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}
	if extra.BuildInfo == nil {
		return apierror.WrapError(apierror.ErrDomainNotBuilt, "no build info recorded", nil)
	}

	fd, err := controlChannelFD(extra.DomId)
	if err != nil {
		return apierror.WrapError(apierror.ErrBuildFailed, "open control channel", err)
	}
	defer fd.Close()

	res, err := e.Helper.Build(ctx, t, e.Logger, fd, args)
	if err != nil {
		return err
	}

	if extra.ShadowMultiplier > 0 {
		wantMB := shadowAllocationMB(extra.MemoryStaticMaxKiB, extra.ShadowMultiplier)
		gotMB, serr := e.Control.ShadowAllocationGet(ctx, extra.DomId)
		if serr == nil && gotMB < wantMB-1 {
			if e.Logger != nil {
				e.Logger.Warn().
					Str("vm_id", string(vmID)).
					Int("want_mb", wantMB).
					Int("got_mb", gotMB).
					Msg("builder helper reduced shadow allocation, reapplying requested value")
			}
			_ = e.Control.ShadowAllocationSet(ctx, extra.DomId, wantMB)
		}
	}

	if err := e.writeEventChannel(ctx, extra.DomId, "store", res.StoreMfn); err != nil {
		return err
	}
	if err := e.writeEventChannel(ctx, extra.DomId, "console", res.ConsoleMfn); err != nil {
		return err
	}

	if err := e.Store.Save(extra); err != nil {
		return err
	}
	e.publish(vmID, "")
	return nil
}

// writeEventChannel allocates a fresh unbound event channel for category
// ("store" or "console") and publishes it the way a guest's PV frontend
// expects to find it: the shared page's mfn under ring-ref, the bound
// port under port. mfn identifies the shared memory page the helper
// mapped; port identifies the event channel EvtchnAllocUnbound just
// opened to notify across it, and conflating the two leaves the frontend
// with no working event channel at all. The remote end is assumed to be
// domain 0, consistent with this engine's backend_domid=0 assumption
// elsewhere.
func (e *Engine) writeEventChannel(ctx context.Context, domid types.DomId, category string, mfn uint64) error {
	port, err := e.Control.EvtchnAllocUnbound(ctx, domid, 0)
	if err != nil {
		return apierror.WrapError(apierror.ErrIoError, fmt.Sprintf("allocate %s event channel", category), err)
	}
	if err := e.Tree.Write(ctx, fmt.Sprintf("/local/domain/%d/%s/ring-ref", domid, category), fmt.Sprintf("%d", mfn)); err != nil {
		return apierror.WrapError(apierror.ErrIoError, fmt.Sprintf("publish %s ring-ref", category), err)
	}
	if err := e.Tree.Write(ctx, fmt.Sprintf("/local/domain/%d/%s/port", domid, category), fmt.Sprintf("%d", port)); err != nil {
		return apierror.WrapError(apierror.ErrIoError, fmt.Sprintf("publish %s port", category), err)
	}
	return nil
}

// PlugVBD attaches vbd to the domain's device tree and records it in
// VmExtra so it survives suspend/resume and device-model restarts.
func (e *Engine) PlugVBD(ctx context.Context, vmID types.VmId, id string, vbd types.VBDExtra) error {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}
	mgr := devices.NewVBDManager(e.Tree, extra.DomId)
	if err := mgr.Add(ctx, id, vbd); err != nil {
		return err
	}
	extra.VBDs = append(extra.VBDs, vbd)
	if err := e.Store.Save(extra); err != nil {
		return err
	}
	e.indexDevice(ctx, vmID, "vbd", id, devices.VBDBackendPath(vbd.BackendDomId, extra.DomId, vbd.LogicalID))
	e.publish(vmID, id)
	return nil
}

// PlugVIF attaches vif to the domain's device tree and records it in
// VmExtra.
func (e *Engine) PlugVIF(ctx context.Context, vmID types.VmId, id string, vif types.VIFExtra) error {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}
	mgr := devices.NewVIFManager(e.Tree, extra.DomId)
	if err := mgr.Add(ctx, id, vif); err != nil {
		return err
	}
	extra.VIFs = append(extra.VIFs, vif)
	if err := e.Store.Save(extra); err != nil {
		return err
	}
	e.indexDevice(ctx, vmID, "vif", id, devices.VIFBackendPath(extra.DomId, vif.LogicalID))
	e.publish(vmID, id)
	return nil
}

// PlugPCI binds and hot-plugs a host PCI device into slot of vmID's
// domain. Unlike VBD/VIF, PCI assignments are not replayed into VmExtra
// here: passthrough devices are host-resident hardware, not something a
// resumed domain can simply recreate, so this engine does not persist
// them and leaves that to whatever inventories host PCI ownership.
func (e *Engine) PlugPCI(ctx context.Context, vmID types.VmId, id string, addr devices.PCIAddress, slot int) error {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}
	mgr := devices.NewPCIManager(e.Tree, extra.DomId)
	if err := mgr.Bind(ctx, id, addr); err != nil {
		return err
	}
	if err := mgr.Plug(ctx, id, slot, addr); err != nil {
		return err
	}
	e.indexDevice(ctx, vmID, "pci", id, devices.PCIPath(extra.DomId, slot))
	e.publish(vmID, id)
	return nil
}

// UnplugPCI removes a previously plugged PCI device from slot.
func (e *Engine) UnplugPCI(ctx context.Context, vmID types.VmId, slot int) error {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}
	mgr := devices.NewPCIManager(e.Tree, extra.DomId)
	return mgr.Unplug(ctx, slot)
}
