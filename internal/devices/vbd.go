// Package devices is the Device Supervisor (base spec §4.E): block
// device (VBD), network interface (VIF), and passthrough PCI device
// attach/detach against a running domain, plus the device model process
// that backs HVM guests. Every device add stamps a reverse-lookup key
// under the control tree so watch notifications and get_device_action_request
// can resolve a backend path back to the (kind, device id) pair that owns
// it (invariant 5 of the data model).
package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/internal/xenstore"
)

// Kind tags which device table a reverse-lookup key belongs to.
type Kind string

const (
	KindVBD Kind = "vbd"
	KindVIF Kind = "vif"
	KindPCI Kind = "pci"
)

// IDKey is the control-tree key under which a device's (kind, id) pair is
// stamped for reverse lookup, per invariant 5.
func IDKey(kind Kind) string { return fmt.Sprintf("%s-id", kind) }

// VBDManager plugs, unplugs, and manages removable media for block
// devices against one domain's control tree.
type VBDManager struct {
	tree  xenstore.Client
	domid types.DomId
}

// NewVBDManager returns a manager scoped to domid.
func NewVBDManager(tree xenstore.Client, domid types.DomId) *VBDManager {
	return &VBDManager{tree: tree, domid: domid}
}

func vbdFrontendPath(domid types.DomId, logicalID int) string {
	return fmt.Sprintf("/local/domain/%d/device/vbd/%d", domid, logicalID)
}

func vbdBackendPath(backendDomid, domid types.DomId, logicalID int) string {
	return fmt.Sprintf("/local/domain/%d/backend/vbd/%d/%d", backendDomid, domid, logicalID)
}

// VBDBackendPath exposes vbdBackendPath for callers outside this package
// that need to index or log the control path a VBD lives at (the
// auxiliary registry's reverse-lookup index, notably).
func VBDBackendPath(backendDomid, domid types.DomId, logicalID int) string {
	return vbdBackendPath(backendDomid, domid, logicalID)
}

// Add creates the frontend/backend pair for extra and publishes them as one
// transaction, then stamps the reverse-lookup id key.
func (v *VBDManager) Add(ctx context.Context, id string, extra types.VBDExtra) error {
	txn, err := v.tree.Transaction(ctx)
	if err != nil {
		return apierror.WrapError(apierror.ErrIoError, "open vbd-add transaction", err)
	}

	fe := vbdFrontendPath(v.domid, extra.LogicalID)
	be := vbdBackendPath(extra.BackendDomId, v.domid, extra.LogicalID)
	idKey := IDKey(KindVBD)

	values := map[string]string{
		fe + "/backend":    be,
		fe + "/device":     extra.LinuxDevice,
		fe + "/state":      "1",
		fe + "/" + idKey:   id,
		be + "/frontend":   fe,
		be + "/params":     extra.Params,
		be + "/mode":       extra.Mode,
		be + "/type":       extra.BackendType,
		be + "/state":      "1",
		be + "/" + idKey:   id,
	}

	for path, value := range values {
		if err := txn.Write(ctx, path, value); err != nil {
			_ = txn.Abort(ctx)
			return err
		}
	}
	if err := txn.Commit(ctx); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "commit vbd-add transaction", err)
	}
	return nil
}

// Insert plugs removable media into an already-added but empty VBD.
func (v *VBDManager) Insert(ctx context.Context, extra types.VBDExtra, physicalPath string) error {
	if !extra.IsCDROM {
		return apierror.WrapError(apierror.ErrNotSupported, "insert is only valid for cdrom vbds", nil)
	}
	be := vbdBackendPath(extra.BackendDomId, v.domid, extra.LogicalID)
	return v.tree.Write(ctx, be+"/params", physicalPath)
}

// Eject removes media from a VBD, leaving the frontend/backend pair
// otherwise intact.
func (v *VBDManager) Eject(ctx context.Context, extra types.VBDExtra) error {
	if !extra.IsCDROM {
		return apierror.WrapError(apierror.ErrNotSupported, "eject is only valid for cdrom vbds", nil)
	}
	be := vbdBackendPath(extra.BackendDomId, v.domid, extra.LogicalID)
	return v.tree.Write(ctx, be+"/params", "")
}

// MediaIsEjected reports whether a VBD currently has no media loaded.
func (v *VBDManager) MediaIsEjected(ctx context.Context, extra types.VBDExtra) (bool, error) {
	be := vbdBackendPath(extra.BackendDomId, v.domid, extra.LogicalID)
	params, err := v.tree.Read(ctx, be+"/params")
	if err != nil {
		if err == xenstore.ErrNotFound {
			return true, nil
		}
		return false, err
	}
	return params == "", nil
}

// Shutdown requests the frontend disconnect; soft waits for the guest
// kernel to acknowledge backend state 6 (Closed) before returning, up to
// timeout. A hard shutdown (soft=false) signals closure and returns
// immediately, for the engine's parallel hard-shutdown path in Destroy
// and Suspend.
func (v *VBDManager) Shutdown(ctx context.Context, extra types.VBDExtra, soft bool, timeout time.Duration) error {
	be := vbdBackendPath(extra.BackendDomId, v.domid, extra.LogicalID)

	if err := v.tree.Write(ctx, be+"/online", "0"); err != nil {
		return err
	}
	if err := v.tree.Write(ctx, be+"/state", "5"); err != nil {
		return err
	}

	if !soft {
		return nil
	}

	deadline := time.Now().Add(timeout)
	for {
		state, err := v.tree.Read(ctx, be+"/state")
		if err == nil && state == "6" {
			return nil
		}
		if time.Now().After(deadline) {
			return apierror.WrapError(apierror.ErrBackendTimeout, "vbd backend did not close", nil)
		}
		select {
		case <-ctx.Done():
			return apierror.WrapError(apierror.ErrCancelled, "vbd shutdown", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Release tears down the frontend and backend subtrees entirely, once
// Shutdown has completed.
func (v *VBDManager) Release(ctx context.Context, extra types.VBDExtra) error {
	if err := v.tree.Rm(ctx, vbdFrontendPath(v.domid, extra.LogicalID)); err != nil {
		return err
	}
	return v.tree.Rm(ctx, vbdBackendPath(extra.BackendDomId, v.domid, extra.LogicalID))
}

// LookupByBackendPath resolves a backend state-change path (as delivered
// by the watch subsystem) back to its (kind, id) pair, reading the id key
// this package stamped at Add time.
func LookupByBackendPath(ctx context.Context, tree xenstore.Client, kind Kind, backendPath string) (string, error) {
	return tree.Read(ctx, backendPath+"/"+IDKey(kind))
}
