package engine

import (
	"context"
	"fmt"

	"github.com/xenops/xenopsd/internal/builder"
	"github.com/xenops/xenopsd/internal/devices"
	"github.com/xenops/xenopsd/internal/memory"
	"github.com/xenops/xenopsd/internal/task"
	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// Resume (the base spec's restore path) re-creates a domain from a
// preserved VmExtra and a suspend image: it reserves exactly
// suspend_memory_bytes (not the usual [target,max] window, since the
// image was written at a known, fixed memory footprint), verifies
// SaveMagic, drives the builder helper in restore mode, and for an HVM
// guest also consumes the framed device-model state blob, starts a fresh
// device model and tells it to continue execution. The blob is read past
// but not loaded into the new device model (DM.Resume only sends cont).
func (e *Engine) Resume(ctx context.Context, vmID types.VmId, imagePath string, dmCfgForRestore func(domid types.DomId) devices.DMConfig, t task.Task) (types.DomId, error) {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return types.NoDomain, err
	}
	if !extra.HasSuspendImage() {
		return types.NoDomain, apierror.WrapError(apierror.ErrInternalError, "no suspend image recorded for this vm", nil)
	}

	img, err := imageFileFor(imagePath, false)
	if err != nil {
		return types.NoDomain, apierror.WrapError(apierror.ErrIoError, "open suspend image for reading", err)
	}
	defer img.Close()

	if err := builder.VerifySaveMagic(img); err != nil {
		return types.NoDomain, err
	}

	var domid types.DomId
	amount := extra.SuspendMemoryBytes
	err = e.Memory.WithReservation(ctx, amount, amount, func(r memory.Reservation) (bool, error) {
		var cerr error
		domid, cerr = e.Control.DomainCreate(ctx, extra.CreateInfo)
		if cerr != nil {
			return false, cerr
		}
		if terr := e.Memory.TransferToDomain(ctx, r, domid); terr != nil {
			_ = e.Control.DomainDestroy(ctx, domid)
			return false, terr
		}
		return true, nil
	})
	if err != nil {
		return types.NoDomain, err
	}

	fd, err := controlChannelFD(domid)
	if err != nil {
		_ = e.Control.DomainDestroy(ctx, domid)
		return types.NoDomain, apierror.WrapError(apierror.ErrBuildFailed, "open control channel", err)
	}
	defer fd.Close()

	res, err := e.Helper.Restore(ctx, t, e.Logger, fd, img, nil)
	if err != nil {
		_ = e.Control.DomainDestroy(ctx, domid)
		return types.NoDomain, err
	}

	hvm := extra.Ty == types.BuilderHVM
	if hvm {
		blob, derr := builder.ReadDMState(img)
		if derr != nil {
			_ = e.Control.DomainDestroy(ctx, domid)
			return types.NoDomain, derr
		}
		if dmCfgForRestore != nil {
			dm, serr := devices.Start(ctx, dmCfgForRestore(domid))
			if serr != nil {
				_ = e.Control.DomainDestroy(ctx, domid)
				return types.NoDomain, serr
			}
			if rerr := dm.Resume(ctx, blob); rerr != nil {
				_ = e.Control.DomainDestroy(ctx, domid)
				return types.NoDomain, rerr
			}
			e.dm().set(domid, dm)
		}
	}

	if err := e.writeEventChannel(ctx, domid, "store", res.StoreMfn); err != nil {
		_ = e.Control.DomainDestroy(ctx, domid)
		return types.NoDomain, err
	}
	if err := e.writeEventChannel(ctx, domid, "console", res.ConsoleMfn); err != nil {
		_ = e.Control.DomainDestroy(ctx, domid)
		return types.NoDomain, err
	}

	for _, vbd := range extra.VBDs {
		mgr := devices.NewVBDManager(e.Tree, domid)
		if aerr := mgr.Add(ctx, fmt.Sprintf("vbd-%d", vbd.LogicalID), vbd); aerr != nil && e.Logger != nil {
			e.Logger.Warn().Err(aerr).Int("logical_id", vbd.LogicalID).Msg("resume: failed to replug vbd")
		}
	}
	for _, vif := range extra.VIFs {
		mgr := devices.NewVIFManager(e.Tree, domid)
		if aerr := mgr.Add(ctx, fmt.Sprintf("vif-%d", vif.LogicalID), vif); aerr != nil && e.Logger != nil {
			e.Logger.Warn().Err(aerr).Int("logical_id", vif.LogicalID).Msg("resume: failed to replug vif")
		}
	}

	extra.DomId = domid
	extra.SuspendMemoryBytes = 0
	if err := e.Store.Save(extra); err != nil {
		return types.NoDomain, err
	}
	e.publish(vmID, "")
	return domid, nil
}
