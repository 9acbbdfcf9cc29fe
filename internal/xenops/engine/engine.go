// Package engine is the VM Lifecycle Engine (base spec §4.H): the state
// machine that drives a VmExtra record through Absent -> Reserved ->
// Created -> Built -> Running <-> Paused | Suspended, composing every
// other component (memory broker, hypervisor control, control tree,
// builder helper, device supervisor, storage) around one domain at a
// time. Every public method here is meant to be called from inside a
// single per-VmId queue.Dispatcher job so two operations against the same
// VmId never interleave.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/xenops/xenopsd/internal/builder"
	"github.com/xenops/xenopsd/internal/builder/seed"
	"github.com/xenops/xenopsd/internal/devices"
	"github.com/xenops/xenopsd/internal/hypervisor"
	"github.com/xenops/xenopsd/internal/memory"
	"github.com/xenops/xenopsd/internal/storage"
	"github.com/xenops/xenopsd/internal/updates"
	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/registry"
	"github.com/xenops/xenopsd/internal/xenops/store"
	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/internal/xenstore"
)

const (
	// destroyPollInterval and destroyBudget realize the 30s dying-domain
	// wall-clock budget; the base spec's open question about a toolstack
	// poll cadence against that budget is resolved by making the poll
	// period an explicit constant, independent of the watch subsystem's
	// own DyingPollInterval.
	destroyPollInterval = 1 * time.Second
	destroyBudget       = 30 * time.Second

	shutdownAckDelay = 30 * time.Second

	hardShutdownTimeout = 10 * time.Second

	// ballooningOverheadKiB stands in for the per-platform O term the
	// base spec's initial-target formula subtracts from a reservation.
	// This engine's BuildInfo carries no per-platform overhead figure to
	// source a real one from, so O is treated as zero until a concrete
	// formula lands.
	ballooningOverheadKiB = 0
)

// Engine bundles every collaborator the lifecycle state machine needs.
type Engine struct {
	Store   *store.Store
	Control hypervisor.Control
	Tree    xenstore.Client
	Memory  *memory.Broker
	Storage *storage.Manager
	Helper  *builder.Helper
	Bus     *updates.Bus
	Logger  *zerolog.Logger

	// Registry is optional: every lifecycle operation works without it,
	// it only accelerates device lookups and makes the update tail and
	// reservation ledger survive a restart.
	Registry *registry.Registry

	// Seed and SeedDir are optional: only a pv-bootloader domain needs a
	// cidata seed image, and both can be left zero for every other flavor.
	Seed    *seed.Generator
	SeedDir string

	// DeviceModelBinary is the qemu-style device-model executable started
	// for an HVM domain's first run. Left empty, no HVM domain ever gets
	// a device model (useful for PV-only deployments and most tests).
	DeviceModelBinary string

	internalStateCache *internalState
	dmRegistryCache    *dmRegistry
}

// sentinelDyingUUID renders the base spec's stuck-in-dying sentinel,
// "deadbeef-dead-beef-dead-beef0000<domid-hex>".
func sentinelDyingUUID(domid types.DomId) string {
	return fmt.Sprintf("deadbeef-dead-beef-dead-beef0000%04x", uint32(domid))
}

// Create reserves memory, asks the hypervisor for a fresh domain, applies
// the shadow-memory and cpuid policy, writes CreateInfo into the control
// tree, and persists a new VmExtra. On any failure past the memory
// reservation, the reservation is released and no VmExtra is left behind
// (testable property: reservation-leak-free).
func (e *Engine) Create(ctx context.Context, vmID types.VmId, info types.CreateInfo, build *types.BuildInfo, cpuid []hypervisor.CpuidTemplate) (types.DomId, error) {
	if build == nil {
		return types.NoDomain, apierror.WrapError(apierror.ErrInternalError, "create requires build info for memory sizing", nil)
	}
	if err := hypervisor.ValidateAll(cpuid); err != nil {
		return types.NoDomain, err
	}

	shadowMultiplier := 1.0
	if build.HVM != nil && build.HVM.ShadowMultiplier > 0 {
		shadowMultiplier = build.HVM.ShadowMultiplier
	}

	var domid types.DomId
	var reservationID string
	var transferred bool
	err := e.Memory.WithReservation(ctx, build.MemoryTargetKiB*1024, build.MemoryMaxKiB*1024, func(r memory.Reservation) (bool, error) {
		reservationID = r.ID
		if e.Registry != nil {
			if rerr := e.Registry.OpenReservation(ctx, r.ID, vmID, r.Amount); rerr != nil && e.Logger != nil {
				e.Logger.Warn().Err(rerr).Str("reservation_id", r.ID).Msg("failed to record reservation in registry")
			}
		}

		var err error
		domid, err = e.Control.DomainCreate(ctx, info)
		if err != nil {
			return false, err
		}

		if terr := e.Memory.TransferToDomain(ctx, r, domid); terr != nil {
			_ = e.Control.DomainDestroy(ctx, domid)
			return false, terr
		}
		transferred = true
		if e.Registry != nil {
			_ = e.Registry.SetReservationState(ctx, r.ID, "transferred")
		}

		if serr := e.Control.SetMaxMem(ctx, domid, build.MemoryMaxKiB); serr != nil {
			_ = e.Control.DomainDestroy(ctx, domid)
			return true, serr
		}

		if werr := e.writeMemoryBounds(ctx, domid, build, r.Amount); werr != nil {
			_ = e.Control.DomainDestroy(ctx, domid)
			return true, werr
		}

		shadowMB := shadowAllocationMB(build.MemoryMaxKiB, shadowMultiplier)
		if serr := e.Control.ShadowAllocationSet(ctx, domid, shadowMB); serr != nil {
			_ = e.Control.DomainDestroy(ctx, domid)
			return true, serr
		}

		if len(cpuid) > 0 {
			if serr := e.Control.DomainCpuidSet(ctx, domid, cpuid); serr != nil {
				_ = e.Control.DomainDestroy(ctx, domid)
				return true, serr
			}
			if serr := e.Control.DomainCpuidApply(ctx, domid); serr != nil {
				_ = e.Control.DomainDestroy(ctx, domid)
				return true, serr
			}
		}

		for path, value := range info.InitialTreeData {
			if werr := e.Tree.Write(ctx, fmt.Sprintf("/local/domain/%d/%s", domid, path), value); werr != nil {
				_ = e.Control.DomainDestroy(ctx, domid)
				return true, werr
			}
		}

		return true, nil
	})
	if err != nil {
		// A reservation only reaches here still unmarked when it was
		// never transferred (WithReservation released it back to the
		// host itself): record that in the ledger too, so a leak check
		// only ever has to look at rows still in "open".
		if e.Registry != nil && reservationID != "" && !transferred {
			_ = e.Registry.SetReservationState(ctx, reservationID, "released")
		}
		return types.NoDomain, err
	}

	extra := &types.VmExtra{
		VmId:               vmID,
		DomId:              domid,
		CreateInfo:         info,
		BuildInfo:          build,
		VCPUs:              build.VCPUs,
		ShadowMultiplier:   shadowMultiplier,
		MemoryStaticMaxKiB: build.MemoryMaxKiB,
		Ty:                 builderFlavor(info, build),
		LastCreateTime:     time.Now().Unix(),
	}

	if extra.Ty == types.BuilderPVBootloader && e.Seed != nil {
		path, serr := e.Seed.Build(seed.Spec{VmId: vmID, Hostname: info.Name, OutputDir: e.SeedDir})
		if serr != nil {
			if e.Logger != nil {
				e.Logger.Warn().Err(serr).Str("vm_id", string(vmID)).Msg("seed image generation failed, bootloader will find no cidata disk")
			}
		} else {
			extra.SeedImagePath = path
		}
	}

	if err := e.Store.Save(extra); err != nil {
		_ = e.Control.DomainDestroy(ctx, domid)
		return types.NoDomain, err
	}

	return domid, nil
}

func builderFlavor(info types.CreateInfo, build *types.BuildInfo) types.BuilderFlavor {
	if info.HVM {
		return types.BuilderHVM
	}
	if build.PV != nil && build.PV.Bootloader != "" {
		return types.BuilderPVBootloader
	}
	return types.BuilderPVDirect
}

// shadowAllocationMB applies the classic Xen shadow-memory sizing formula:
// multiplier times guest memory, in megabytes.
func shadowAllocationMB(memMaxKiB uint64, multiplier float64) int {
	return int(float64(memMaxKiB) / 1024.0 * multiplier)
}

// writeMemoryBounds publishes the ballooning driver's operating range for
// a freshly created domain: static-max and dynamic-min bound how far it
// may ever balloon, target is where the driver should currently aim, and
// initial-target is min(dyn_max, reservedAmountBytes/1024 - O), since the
// actual reservation may come in short of dyn_max under host memory
// pressure and initial-target must never promise more than what was
// really reserved. This engine has no separate dynamic-min figure apart
// from target, so the two are published equal.
func (e *Engine) writeMemoryBounds(ctx context.Context, domid types.DomId, build *types.BuildInfo, reservedAmountBytes uint64) error {
	reservedKiB := reservedAmountBytes / 1024
	initialTarget := build.MemoryMaxKiB - ballooningOverheadKiB
	if reservedKiB-ballooningOverheadKiB < initialTarget {
		initialTarget = reservedKiB - ballooningOverheadKiB
	}

	bounds := []struct {
		key   string
		value uint64
	}{
		{"memory/static-max", build.MemoryMaxKiB},
		{"memory/target", build.MemoryTargetKiB},
		{"memory/dynamic-min", build.MemoryTargetKiB},
		{"memory/initial-target", initialTarget},
	}
	for _, b := range bounds {
		path := fmt.Sprintf("/local/domain/%d/%s", domid, b.key)
		if err := e.Tree.Write(ctx, path, fmt.Sprintf("%d", b.value)); err != nil {
			return apierror.WrapError(apierror.ErrIoError, fmt.Sprintf("publish %s", b.key), err)
		}
	}
	return nil
}

// RequestShutdown writes reason to control/shutdown and, when waitForAck
// is set, waits up to shutdownAckDelay for a cooperating guest to
// acknowledge by clearing the node before returning. It never assumes the
// guest is actually gone; the watch subsystem is what eventually confirms
// that via its dying-domain poll.
func (e *Engine) RequestShutdown(ctx context.Context, vmID types.VmId, reason types.ShutdownReason, waitForAck bool) error {
	if !reason.Valid() {
		return apierror.WrapError(apierror.ErrInternalError, fmt.Sprintf("unrecognized shutdown reason %q", reason), nil)
	}
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}

	path := fmt.Sprintf("/local/domain/%d/control/shutdown", extra.DomId)
	if err := e.Tree.Write(ctx, path, string(reason)); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "write control/shutdown", err)
	}

	if !waitForAck {
		return e.Control.DomainShutdown(ctx, extra.DomId, reason)
	}

	deadline := time.Now().Add(shutdownAckDelay)
	for {
		v, rerr := e.Tree.Read(ctx, path)
		if rerr != nil || v == "" {
			return nil
		}
		if time.Now().After(deadline) {
			return apierror.WrapError(apierror.ErrBackendTimeout, "guest did not acknowledge shutdown request", nil)
		}
		select {
		case <-ctx.Done():
			return apierror.WrapError(apierror.ErrCancelled, "request shutdown", ctx.Err())
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// Pause pauses a running domain.
func (e *Engine) Pause(ctx context.Context, vmID types.VmId) error {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}
	return e.Control.DomainPause(ctx, extra.DomId)
}

// Unpause starts this domain's device model, if it is HVM and does not
// already have one running, then resumes it. Starting the device model
// here rather than in Build means it always comes up after every device
// a caller plugged between Build and this call, matching the order a
// cooperating toolstack plugs devices in.
func (e *Engine) Unpause(ctx context.Context, vmID types.VmId) error {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}
	if _, derr := e.ensureDeviceModel(ctx, extra.DomId, extra.Ty); derr != nil {
		return derr
	}
	return e.Control.DomainUnpause(ctx, extra.DomId)
}

// Destroy tears a domain down: hypervisor destroy, then hard-shutdown of
// every plugged device in parallel, then control-tree cleanup, then a
// bounded poll waiting for the domain to actually disappear from the
// hypervisor's list. If it is still present after destroyBudget, the
// domain is stamped with the sentinel dying UUID and StuckInDyingState is
// raised. VmExtra is erased unless isSuspending is set, which keeps the
// record for a caller that re-creates the domain from it
// (RebootAcknowledge).
func (e *Engine) Destroy(ctx context.Context, vmID types.VmId, preserveVmSubtree bool, isSuspending bool) error {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return err
	}
	domid := extra.DomId

	if !isSuspending {
		if err := e.Store.Delete(vmID); err != nil && e.Logger != nil {
			e.Logger.Error().Err(err).Str("vm_id", string(vmID)).Msg("destroy: failed to erase VmExtra")
		}
	}

	destroyErr := e.Control.DomainDestroy(ctx, domid)

	if dm := e.dm().get(domid); dm != nil {
		if serr := dm.Stop(ctx); serr != nil && e.Logger != nil {
			e.Logger.Warn().Err(serr).Str("vm_id", string(vmID)).Msg("destroy: failed to stop device model")
		}
		e.dm().delete(domid)
	}

	e.hardShutdownAllDevices(ctx, domid, extra)

	vmPath := fmt.Sprintf("/local/domain/%d", domid)
	if !preserveVmSubtree {
		if err := e.Tree.Rm(ctx, vmPath); err != nil && e.Logger != nil {
			e.Logger.Error().Err(err).Msg("destroy: failed to remove control tree subtree")
		}
	}

	if destroyErr != nil {
		return destroyErr
	}

	deadline := time.Now().Add(destroyBudget)
	for {
		_, infoErr := e.Control.DomainGetInfo(ctx, domid)
		if infoErr != nil {
			return nil
		}
		if time.Now().After(deadline) {
			sentinel := sentinelDyingUUID(domid)
			_ = e.Tree.Write(ctx, fmt.Sprintf("/local/domain/%d/vm", domid), "/vm/"+sentinel)
			return apierror.StuckInDyingState(int32(domid))
		}
		select {
		case <-ctx.Done():
			return apierror.WrapError(apierror.ErrCancelled, "destroy", ctx.Err())
		case <-time.After(destroyPollInterval):
		}
	}
}

// hardShutdownAllDevices shuts down every VBD and VIF recorded in extra
// in parallel, logging (but not failing on) individual device errors —
// destroy must make forward progress even if one backend is wedged.
func (e *Engine) hardShutdownAllDevices(ctx context.Context, domid types.DomId, extra *types.VmExtra) {
	total := len(extra.VBDs) + len(extra.VIFs)
	if total == 0 {
		return
	}
	done := make(chan struct{}, total)

	vbdMgr := devices.NewVBDManager(e.Tree, domid)
	for _, vbd := range extra.VBDs {
		vbd := vbd
		go func() {
			defer func() { done <- struct{}{} }()
			if err := vbdMgr.Shutdown(ctx, vbd, false, hardShutdownTimeout); err != nil && e.Logger != nil {
				e.Logger.Warn().Err(err).Int("logical_id", vbd.LogicalID).Msg("destroy: vbd hard shutdown failed")
			}
			_ = vbdMgr.Release(ctx, vbd)
		}()
	}

	vifMgr := devices.NewVIFManager(e.Tree, domid)
	for _, vif := range extra.VIFs {
		vif := vif
		go func() {
			defer func() { done <- struct{}{} }()
			if err := vifMgr.Shutdown(ctx, vif, false, hardShutdownTimeout); err != nil && e.Logger != nil {
				e.Logger.Warn().Err(err).Int("logical_id", vif.LogicalID).Msg("destroy: vif hard shutdown failed")
			}
			_ = vifMgr.Release(ctx, vif)
		}()
	}

	for i := 0; i < total; i++ {
		<-done
	}
}

// indexDevice records the control path a device lives at in the
// auxiliary registry, if one is configured. Best-effort: a failure here
// never fails the plug operation itself, the registry is an accelerator,
// not the source of truth.
func (e *Engine) indexDevice(ctx context.Context, vmID types.VmId, kind, id string, path string) {
	if e.Registry == nil {
		return
	}
	if err := e.Registry.IndexDevice(ctx, vmID, kind, id, path); err != nil && e.Logger != nil {
		e.Logger.Warn().Err(err).Str("vm_id", string(vmID)).Str("kind", kind).Msg("failed to index device in registry")
	}
}

func (e *Engine) publish(vmID types.VmId, devID string) {
	if e.Bus == nil {
		return
	}
	u, err := e.Bus.Push(types.UpdateVm, vmID, devID)
	if err != nil {
		if e.Logger != nil {
			e.Logger.Error().Err(err).Msg("failed to publish update")
		}
		return
	}
	if e.Registry != nil {
		if rerr := e.Registry.AppendUpdate(context.Background(), u); rerr != nil && e.Logger != nil {
			e.Logger.Warn().Err(rerr).Msg("failed to record update in durable tail")
		}
	}
}
