// Package storage is the Storage client (base spec §4.F): disk pointer
// resolution, datapath attach lifecycle, and the VDI operations
// (clone/snapshot/compose/content-id) the lifecycle engine calls around
// build, suspend, and migrate. It wraps the same qemu-img CLI surface
// this codebase already uses for disk image manipulation.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/pkg/qemuimg"
)

// DiskKind distinguishes a bare local path from a name resolved through
// the storage manager's VDI namespace.
type DiskKind int

const (
	DiskLocal DiskKind = iota
	DiskVDI
)

// Disk is a resolved disk pointer: either a Local path or a VDI name that
// GetByName has already turned into a concrete path.
type Disk struct {
	Kind DiskKind
	Path string
	Name string // set when Kind == DiskVDI
}

// Local wraps a bare filesystem path with no VDI-layer bookkeeping.
func Local(path string) Disk { return Disk{Kind: DiskLocal, Path: path} }

// VDIRecord is the storage manager's bookkeeping for one named virtual
// disk image: its backing path, format, and content-addressing fields
// used by clone/similar_content.
type VDIRecord struct {
	Name      string
	Path      string
	Format    string
	ContentID string
}

// Manager resolves VDI names to disk pointers and performs the
// format-aware operations on them. It keeps an in-memory name->record map;
// a production deployment would back this with the host's actual storage
// repository metadata.
type Manager struct {
	img qemuimg.QemuImgClient

	mu      sync.Mutex
	records map[string]*VDIRecord
	// active counts concurrent attach/activate holders per VDI name, so
	// Detach/Deactivate can refuse to tear down a disk still in use.
	active map[string]int
}

// New returns a Manager driving qemu-img through img.
func New(img qemuimg.QemuImgClient) *Manager {
	return &Manager{
		img:     img,
		records: make(map[string]*VDIRecord),
		active:  make(map[string]int),
	}
}

// Register adds a VDI record the manager will resolve by name; real
// deployments populate this from the host's storage repository at
// startup, the way NewStorageService seeds its default pools.
func (m *Manager) Register(rec VDIRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r := rec
	m.records[rec.Name] = &r
}

// GetByName resolves a VDI name to its Disk pointer.
func (m *Manager) GetByName(name string) (Disk, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return Disk{}, apierror.WrapError(apierror.ErrDoesNotExist, fmt.Sprintf("vdi %q not found", name), nil)
	}
	return Disk{Kind: DiskVDI, Path: rec.Path, Name: name}, nil
}

// DP is a datapath handle: the attach/activate lifecycle scoped to one
// disk for the duration of a domain's use of it.
type DP struct {
	m    *Manager
	disk Disk
}

// Create opens a datapath over disk without yet activating it for any
// domain (create is idempotent and cheap; activation is what a running
// domain actually needs).
func (m *Manager) Create(disk Disk) *DP {
	return &DP{m: m, disk: disk}
}

// Destroy releases the datapath handle. It is an error to Destroy a DP
// that is still active.
func (dp *DP) Destroy(ctx context.Context) error {
	if dp.disk.Kind != DiskVDI {
		return nil
	}
	dp.m.mu.Lock()
	defer dp.m.mu.Unlock()
	if dp.m.active[dp.disk.Name] > 0 {
		return apierror.WrapError(apierror.ErrDeviceDetachRejected, "datapath is still active", nil)
	}
	return nil
}

// Attach marks the disk in-use for rw (true) or read-only access,
// returning the backing path a VBD's backend should point its params at.
func (dp *DP) Attach(ctx context.Context, rw bool) (string, error) {
	dp.m.mu.Lock()
	dp.m.active[dp.disk.Name]++
	dp.m.mu.Unlock()
	return dp.disk.Path, nil
}

// Activate is a no-op beyond Attach for the qemu-img-backed manager: a
// local or qcow2 file needs no further activation step the way an LVM
// volume would need lvchange. Kept distinct from Attach so callers that
// model the two phases separately (attach = visible to storage layer,
// activate = visible to the guest) compile against the same surface as a
// backend that does need both.
func (dp *DP) Activate(ctx context.Context) error { return nil }

// Deactivate is Activate's counterpart.
func (dp *DP) Deactivate(ctx context.Context) error { return nil }

// Detach releases the in-use mark Attach set.
func (dp *DP) Detach(ctx context.Context) error {
	dp.m.mu.Lock()
	defer dp.m.mu.Unlock()
	if dp.m.active[dp.disk.Name] > 0 {
		dp.m.active[dp.disk.Name]--
	}
	return nil
}

// SetContentID stamps name's content-addressing id, used by
// SimilarContent to detect two VDIs sharing origin data without a full
// byte comparison.
func (m *Manager) SetContentID(name, contentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.records[name]
	if !ok {
		return apierror.WrapError(apierror.ErrDoesNotExist, fmt.Sprintf("vdi %q not found", name), nil)
	}
	rec.ContentID = contentID
	return nil
}

// SimilarContent reports whether a and b share a non-empty content id.
func (m *Manager) SimilarContent(a, b string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ra, ok := m.records[a]
	if !ok {
		return false, apierror.WrapError(apierror.ErrDoesNotExist, fmt.Sprintf("vdi %q not found", a), nil)
	}
	rb, ok := m.records[b]
	if !ok {
		return false, apierror.WrapError(apierror.ErrDoesNotExist, fmt.Sprintf("vdi %q not found", b), nil)
	}
	return ra.ContentID != "" && ra.ContentID == rb.ContentID, nil
}

// Clone creates a new VDI named dst as a qemu-img copy-on-write child of
// src, sharing src's backing data until either diverges.
func (m *Manager) Clone(ctx context.Context, src, dst string) error {
	m.mu.Lock()
	srcRec, ok := m.records[src]
	m.mu.Unlock()
	if !ok {
		return apierror.WrapError(apierror.ErrDoesNotExist, fmt.Sprintf("vdi %q not found", src), nil)
	}

	dstPath := srcRec.Path + "." + dst
	if err := m.img.CreateFromBackingFile(ctx, srcRec.Format, srcRec.Format, srcRec.Path, dstPath); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "clone vdi", err)
	}

	m.Register(VDIRecord{Name: dst, Path: dstPath, Format: srcRec.Format, ContentID: srcRec.ContentID})
	return nil
}

// Snapshot takes a qemu-img internal snapshot of name, tagged snapshotName.
func (m *Manager) Snapshot(ctx context.Context, name, snapshotName string) error {
	m.mu.Lock()
	rec, ok := m.records[name]
	m.mu.Unlock()
	if !ok {
		return apierror.WrapError(apierror.ErrDoesNotExist, fmt.Sprintf("vdi %q not found", name), nil)
	}
	if err := m.img.Snapshot(ctx, rec.Path, snapshotName); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "snapshot vdi", err)
	}
	return nil
}

// Compose layers delta on top of base, producing a single VDI named dst
// that a guest sees as one disk (used for the indirect-PV bootloader
// staging disk and post-migrate disk consolidation).
func (m *Manager) Compose(ctx context.Context, base, delta, dst string) error {
	m.mu.Lock()
	baseRec, baseOK := m.records[base]
	deltaRec, deltaOK := m.records[delta]
	m.mu.Unlock()
	if !baseOK {
		return apierror.WrapError(apierror.ErrDoesNotExist, fmt.Sprintf("vdi %q not found", base), nil)
	}
	if !deltaOK {
		return apierror.WrapError(apierror.ErrDoesNotExist, fmt.Sprintf("vdi %q not found", delta), nil)
	}

	dstPath := baseRec.Path + "." + dst
	if err := m.img.Convert(ctx, deltaRec.Format, baseRec.Format, deltaRec.Path, dstPath); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "compose vdi", err)
	}

	m.Register(VDIRecord{Name: dst, Path: dstPath, Format: baseRec.Format})
	return nil
}

// WithDisk resolves disk, attaches it rw or read-only, and runs f with
// the backing path, always detaching afterward even if f fails.
func (m *Manager) WithDisk(ctx context.Context, disk Disk, rw bool, f func(path string) error) error {
	dp := m.Create(disk)
	path, err := dp.Attach(ctx, rw)
	if err != nil {
		return err
	}

	ferr := f(path)

	if err := dp.Detach(ctx); err != nil && ferr == nil {
		return err
	}
	return ferr
}
