package engine

import (
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// DomidResolver implements watch.VmIdResolver directly against the
// engine's Store: the store is the only place a domid-to-VmId mapping is
// durably recorded, so the resolver simply scans it. This trades a small
// amount of per-event Store I/O for not having to keep a second, harder-
// to-keep-consistent in-memory index in sync with Create/Destroy/Resume.
type DomidResolver struct {
	Store interface {
		List() ([]types.VmId, error)
		Load(id types.VmId) (*types.VmExtra, error)
	}
}

// VmIdForDomId reports the VmId whose VmExtra currently names domid, or
// false if no live VmExtra references it (already destroyed, or a domid
// the engine never created).
func (r *DomidResolver) VmIdForDomId(domid types.DomId) (types.VmId, bool) {
	ids, err := r.Store.List()
	if err != nil {
		return "", false
	}
	for _, id := range ids {
		extra, err := r.Store.Load(id)
		if err != nil {
			continue
		}
		if extra.DomId == domid {
			return id, true
		}
	}
	return "", false
}
