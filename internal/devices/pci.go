package devices

import (
	"context"
	"fmt"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/internal/xenstore"
)

// PCIAddress is a host PCI device's bus/device/function/domain address,
// e.g. "0000:03:00.0".
type PCIAddress string

// PCIManager binds a host PCI device to a domain and plugs/unplugs it
// from the running guest.
type PCIManager struct {
	tree  xenstore.Client
	domid types.DomId
}

// NewPCIManager returns a manager scoped to domid.
func NewPCIManager(tree xenstore.Client, domid types.DomId) *PCIManager {
	return &PCIManager{tree: tree, domid: domid}
}

func pciPath(domid types.DomId, slot int) string {
	return fmt.Sprintf("/local/domain/0/backend/pci/%d/0", domid) + fmt.Sprintf("/dev-%d", slot)
}

// PCIPath exposes pciPath for external indexing, mirroring VBDBackendPath.
func PCIPath(domid types.DomId, slot int) string {
	return pciPath(domid, slot)
}

// Bind records id under the domain's dom0 PCI backend root
// (/local/domain/0/backend/pci/<domid>/0) so backend events can be mapped
// back to the device. addr is not written, and the kernel's pciback
// sysfs unbind/bind files are not touched.
func (p *PCIManager) Bind(ctx context.Context, id string, addr PCIAddress) error {
	return p.tree.Write(ctx, fmt.Sprintf("/local/domain/0/backend/pci/%d/0/%s", p.domid, IDKey(KindPCI)), id)
}

// Plug hot-plugs addr into slot of the running domain.
func (p *PCIManager) Plug(ctx context.Context, id string, slot int, addr PCIAddress) error {
	path := pciPath(p.domid, slot)
	if err := p.tree.Write(ctx, path, string(addr)); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "plug pci device", err)
	}
	return p.tree.Write(ctx, path+"/"+IDKey(KindPCI), id)
}

// Unplug removes a previously plugged PCI device from slot.
func (p *PCIManager) Unplug(ctx context.Context, slot int) error {
	return p.tree.Rm(ctx, pciPath(p.domid, slot))
}
