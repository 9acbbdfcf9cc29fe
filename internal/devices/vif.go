package devices

import (
	"context"
	"fmt"
	"time"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/internal/xenstore"
)

// NetworkKind is a closed vocabulary of backend implementations a VIF can
// be wired to, matching types.VIFExtra.Kind.
type NetworkKind string

const (
	NetworkBridge  NetworkKind = "bridge"
	NetworkVSwitch NetworkKind = "vswitch"
	NetworkNetback NetworkKind = "netback"
)

// VIFManager plugs and unplugs virtual network interfaces for one domain.
type VIFManager struct {
	tree  xenstore.Client
	domid types.DomId
}

// NewVIFManager returns a manager scoped to domid.
func NewVIFManager(tree xenstore.Client, domid types.DomId) *VIFManager {
	return &VIFManager{tree: tree, domid: domid}
}

func vifFrontendPath(domid types.DomId, logicalID int) string {
	return fmt.Sprintf("/local/domain/%d/device/vif/%d", domid, logicalID)
}

func vifBackendPath(domid types.DomId, logicalID int) string {
	return fmt.Sprintf("/local/domain/0/backend/vif/%d/%d", domid, logicalID)
}

// VIFBackendPath exposes vifBackendPath for external indexing, mirroring
// VBDBackendPath.
func VIFBackendPath(domid types.DomId, logicalID int) string {
	return vifBackendPath(domid, logicalID)
}

// Add wires up extra's frontend/backend pair as one transaction and stamps
// the reverse-lookup id key.
func (v *VIFManager) Add(ctx context.Context, id string, extra types.VIFExtra) error {
	switch NetworkKind(extra.Kind) {
	case NetworkBridge, NetworkVSwitch, NetworkNetback:
	default:
		return apierror.WrapError(apierror.ErrInternalError, fmt.Sprintf("unrecognized vif network kind %q", extra.Kind), nil)
	}

	txn, err := v.tree.Transaction(ctx)
	if err != nil {
		return apierror.WrapError(apierror.ErrIoError, "open vif-add transaction", err)
	}

	fe := vifFrontendPath(v.domid, extra.LogicalID)
	be := vifBackendPath(v.domid, extra.LogicalID)
	idKey := IDKey(KindVIF)

	values := map[string]string{
		fe + "/backend":  be,
		fe + "/mac":       extra.MAC,
		fe + "/state":     "1",
		fe + "/" + idKey:  id,
		be + "/frontend":  fe,
		be + "/mac":       extra.MAC,
		be + "/bridge":    extra.Bridge,
		be + "/mtu":       fmt.Sprintf("%d", extra.MTU),
		be + "/state":     "1",
		be + "/" + idKey:  id,
	}
	if extra.Rate != "" {
		values[be+"/rate"] = extra.Rate
	}

	for path, value := range values {
		if err := txn.Write(ctx, path, value); err != nil {
			_ = txn.Abort(ctx)
			return err
		}
	}
	if err := txn.Commit(ctx); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "commit vif-add transaction", err)
	}
	return nil
}

// Shutdown mirrors VBDManager.Shutdown for network frontends.
func (v *VIFManager) Shutdown(ctx context.Context, extra types.VIFExtra, soft bool, timeout time.Duration) error {
	be := vifBackendPath(v.domid, extra.LogicalID)

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
			return apierror.WrapError(apierror.ErrBackendTimeout, "vif backend did not close", nil)
		}
		select {
		case <-ctx.Done():
			return apierror.WrapError(apierror.ErrCancelled, "vif shutdown", ctx.Err())
		case <-time.After(50 * time.Millisecond):
		}
	}
}

// Release tears down a VIF's frontend and backend subtrees.
func (v *VIFManager) Release(ctx context.Context, extra types.VIFExtra) error {
	if err := v.tree.Rm(ctx, vifFrontendPath(v.domid, extra.LogicalID)); err != nil {
		return err
	}
	return v.tree.Rm(ctx, vifBackendPath(v.domid, extra.LogicalID))
}
