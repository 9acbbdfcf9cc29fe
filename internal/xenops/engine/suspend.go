package engine

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/xenops/xenopsd/internal/builder"
	"github.com/xenops/xenopsd/internal/devices"
	"github.com/xenops/xenopsd/internal/task"
	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

const suspendShutdownBudget = 30 * time.Second

// imageFileFor opens the on-disk suspend image path for writing (suspend)
// or reading (resume); overridable so tests can redirect it.
var imageFileFor = func(path string, write bool) (*os.File, error) {
	if write {
		return os.Create(path)
	}
	return os.Open(path)
}

// Suspend writes SaveMagic to the suspend image, drives the builder
// helper in save mode, and once it signals readiness issues a Suspend
// shutdown request with a 30s acknowledgement budget. On success the
// domain's final page count (read from the hypervisor after the helper's
// save completes) is recorded as
// suspend_memory_bytes, and every device is hard-shut-down the same way
// Destroy does it, leaving VmExtra intact for a later Resume.
func (e *Engine) Suspend(ctx context.Context, vmID types.VmId, imagePath string, dm *devices.DM, t task.Task) error {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}

	img, err := imageFileFor(imagePath, true)
	if err != nil {
		return apierror.WrapError(apierror.ErrIoError, "open suspend image for writing", err)
	}
	defer img.Close()

	if _, err := io.WriteString(img, builder.SaveMagic); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "write save magic", err)
	}

	fd, err := controlChannelFD(extra.DomId)
	if err != nil {
		return apierror.WrapError(apierror.ErrBuildFailed, "open control channel", err)
	}
	defer fd.Close()

	hvm := extra.Ty == types.BuilderHVM

	onSuspend := func() error {
		shutdownCtx, cancel := context.WithTimeout(ctx, suspendShutdownBudget)
		defer cancel()
		return e.RequestShutdown(shutdownCtx, vmID, types.ShutdownSuspend, true)
	}

	var dmBlob func() ([]byte, error)
	if hvm && dm != nil {
		dmBlob = func() ([]byte, error) { return dm.Suspend(ctx) }
	}

	if err := e.Helper.Save(ctx, t, e.Logger, fd, img, nil, hvm, onSuspend, dmBlob); err != nil {
		return err
	}

	info, infoErr := e.Control.DomainGetInfo(ctx, extra.DomId)
	if infoErr == nil {
		extra.SuspendMemoryBytes = info.TotMemKB * 1024
	}

	e.hardShutdownAllDevices(ctx, extra.DomId, extra)

	if err := e.Store.Save(extra); err != nil {
		return err
	}
	e.publish(vmID, "")
	return nil
}
