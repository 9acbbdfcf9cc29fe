package engine

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// VmState is the RPC-facing snapshot of a VM's lifecycle position,
// composed from VmExtra (the engine's own record) and the hypervisor's
// live DomainInfo (ground truth for whether it is actually running).
type VmState struct {
	VmId     types.VmId `json:"vm_id"`
	DomId    types.DomId `json:"domid"`
	Present  bool        `json:"present"`
	Running  bool        `json:"running"`
	Paused   bool        `json:"paused"`
	Dying    bool        `json:"dying"`
	Shutdown bool        `json:"shutdown"`
	Suspended bool       `json:"suspended"`
}

// GetState reports the current lifecycle state for vmID, consulting both
// VmExtra and a live hypervisor lookup: VmExtra alone cannot distinguish
// "running" from "the domain crashed out from under us", which is exactly
// the gap the watch subsystem's dying poll exists to close asynchronously
// — GetState gives a synchronous point-in-time answer for callers that
// need one now.
func (e *Engine) GetState(ctx context.Context, vmID types.VmId) (VmState, error) {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return VmState{}, err
	}

	st := VmState{VmId: vmID, DomId: extra.DomId, Suspended: extra.HasSuspendImage()}
	if extra.DomId == types.NoDomain {
		return st, nil
	}

	info, err := e.Control.DomainGetInfo(ctx, extra.DomId)
	if err != nil {
		return st, nil
	}
	st.Present = true
	st.Running = info.Running
	st.Paused = info.Paused
	st.Dying = info.Dying
	st.Shutdown = info.Shutdown
	return st, nil
}

// DomainActionRequest is what a cooperating toolstack should do next,
// derived from the hypervisor's shutdown_code for a domain that has
// entered the shutdown state but not yet disappeared.
type DomainActionRequest string

const (
	ActionNone         DomainActionRequest = "none"
	ActionNeedsReboot  DomainActionRequest = "needs_reboot"
	ActionNeedsDestroy DomainActionRequest = "needs_destroy"
)

// GetDomainActionRequest inspects the live hypervisor state for vmID's
// domain and reports whether it has shut itself down awaiting a reboot or
// a destroy, mirroring how a real toolstack learns of a guest-initiated
// shutdown without itself having called RequestShutdown.
func (e *Engine) GetDomainActionRequest(ctx context.Context, vmID types.VmId) (DomainActionRequest, error) {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return ActionNone, err
	}
	if extra.DomId == types.NoDomain {
		return ActionNone, nil
	}

	info, err := e.Control.DomainGetInfo(ctx, extra.DomId)
	if err != nil {
		// domain no longer present: nothing further for the caller to do,
		// the watch subsystem already published its dying transition.
		return ActionNone, nil
	}
	if !info.Shutdown && !info.Dying {
		return ActionNone, nil
	}
	if info.ShutdownCode == int(shutdownCodeReboot) {
		return ActionNeedsReboot, nil
	}
	return ActionNeedsDestroy, nil
}

// shutdownCodeReboot is the conventional Xen shutdown_code value for a
// guest-initiated reboot (SHUTDOWN_reboot), distinct from poweroff(0),
// suspend(2), crash(3), watchdog(4), soft_reset(5).
const shutdownCodeReboot = 1

// internalState is a process-lifetime cache of opaque per-VM migration
// handshake state: the piece of state a receiving xenopsd needs between
// ReceiveMemory and the Resume call that completes a live migration, kept
// in memory rather than in VmExtra because it is meaningless after a
// daemon restart (the migration it belongs to would already have failed).
type internalState struct {
	mu   sync.Mutex
	data map[types.VmId]json.RawMessage
}

func newInternalState() *internalState {
	return &internalState{data: make(map[types.VmId]json.RawMessage)}
}

// SetInternalState records an opaque migration-handshake blob for vmID.
func (e *Engine) SetInternalState(vmID types.VmId, blob json.RawMessage) {
	e.internal().mu.Lock()
	defer e.internal().mu.Unlock()
	e.internal().data[vmID] = blob
}

// GetInternalState returns the opaque blob previously recorded by
// SetInternalState, or nil if none is present.
func (e *Engine) GetInternalState(vmID types.VmId) json.RawMessage {
	e.internal().mu.Lock()
	defer e.internal().mu.Unlock()
	return e.internal().data[vmID]
}

func (e *Engine) internal() *internalState {
	if e.internalStateCache == nil {
		e.internalStateCache = newInternalState()
	}
	return e.internalStateCache
}

// ReceiveMemory reserves exactly amount bytes on behalf of an inbound live
// migration and records the reservation id as internal state so the
// subsequent Resume call can pick it up instead of reserving again. This
// is the receiving side's counterpart to Suspend's sender-side teardown.
func (e *Engine) ReceiveMemory(ctx context.Context, vmID types.VmId, amount uint64) error {
	r, err := e.Memory.Reserve(ctx, amount, amount)
	if err != nil {
		return err
	}
	if e.Registry != nil {
		if rerr := e.Registry.OpenReservation(ctx, r.ID, vmID, r.Amount); rerr != nil && e.Logger != nil {
			e.Logger.Warn().Err(rerr).Str("reservation_id", r.ID).Msg("failed to record reservation in registry")
		}
	}
	blob, merr := json.Marshal(struct {
		ReservationID string `json:"reservation_id"`
		Amount        uint64 `json:"amount"`
	}{ReservationID: r.ID, Amount: r.Amount})
	if merr != nil {
		_ = e.Memory.Release(ctx, r)
		return apierror.WrapError(apierror.ErrInternalError, "marshal receive-memory internal state", merr)
	}
	e.SetInternalState(vmID, blob)
	return nil
}
