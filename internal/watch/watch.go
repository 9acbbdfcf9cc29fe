// Package watch is the Event/Watch subsystem (base spec §4.I): a single
// goroutine that translates Host-Configuration Tree watches and a
// periodic domain-list poll into typed Update pushes onto the update bus.
// It is the only piece of this codebase that learns about hypervisor
// state changes the engine did not itself cause (a guest's unprompted
// reboot, a watchdog-triggered crash, a backend finishing hotplug).
package watch

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/xenops/xenopsd/internal/devices"
	"github.com/xenops/xenopsd/internal/hypervisor"
	"github.com/xenops/xenopsd/internal/updates"
	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/internal/xenstore"
)

// VmIdResolver maps a DomId back to its stable VmId, so watch events (which
// arrive keyed by domid, the only identifier the control tree and
// hypervisor know) can be republished keyed by the engine's stable VmId.
type VmIdResolver interface {
	VmIdForDomId(domid types.DomId) (types.VmId, bool)
}

const (
	introduceDomainPath = "@introduceDomain"
	releaseDomainPath   = "@releaseDomain"

	defaultDyingPollInterval = 2 * time.Second
)

// Watcher runs the single watch goroutine.
type Watcher struct {
	tree      xenstore.Client
	control   hypervisor.Control
	bus       *updates.Bus
	resolver  VmIdResolver
	logger    *zerolog.Logger

	// DyingPollInterval governs how often GetInfoList is polled for
	// domains that have entered the dying state without the toolstack
	// having initiated their destruction (base spec §9 open question:
	// resolved here as a fixed-period poll rather than an event source,
	// since Xen does not raise a watch specifically for "domain died").
	DyingPollInterval time.Duration
}

// New returns a Watcher. Call Run to start it; Run blocks until ctx is
// cancelled.
func New(tree xenstore.Client, control hypervisor.Control, bus *updates.Bus, resolver VmIdResolver, logger *zerolog.Logger) *Watcher {
	return &Watcher{
		tree:              tree,
		control:           control,
		bus:               bus,
		resolver:          resolver,
		logger:            logger,
		DyingPollInterval: defaultDyingPollInterval,
	}
}

// Run subscribes to the control-tree watches this subsystem cares about
// and polls for dying domains, publishing Updates until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	introduced, err := w.tree.Watch(ctx, introduceDomainPath, "introduce")
	if err != nil {
		return err
	}
	defer introduced.Cancel()

	released, err := w.tree.Watch(ctx, releaseDomainPath, "release")
	if err != nil {
		return err
	}
	defer released.Cancel()

	memTarget, err := w.tree.Watch(ctx, "/local/domain", "memory-or-device")
	if err != nil {
		return err
	}
	defer memTarget.Cancel()

	ticker := time.NewTicker(w.dyingPollInterval())
	defer ticker.Stop()

	seenDying := make(map[types.DomId]bool)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-introduced.Events():
			w.logIfPresent("control tree reports a newly introduced domain")

		case <-released.Events():
			w.logIfPresent("control tree reports a released domain")

		case ev, ok := <-memTarget.Events():
			if !ok {
				return nil
			}
			w.handleTreeEvent(ctx, ev.Path)

		case <-ticker.C:
			w.pollDying(ctx, seenDying)
		}
	}
}

// Shutdown is a no-op: Run already exits as soon as its ctx is
// cancelled, which is how the shepherd stops every managed service.
func (w *Watcher) Shutdown(ctx context.Context) error { return nil }

// Name implements grace.Grace.
func (w *Watcher) Name() string { return "xenopsd watcher" }

func (w *Watcher) dyingPollInterval() time.Duration {
	if w.DyingPollInterval <= 0 {
		return defaultDyingPollInterval
	}
	return w.DyingPollInterval
}

// handleTreeEvent classifies a raw control-tree path into the Update kind
// it corresponds to, per the base spec's mapping of data/updated,
// memory/target, memory/uncooperative, console/*, and device backend
// state keys onto the four Update payload kinds.
func (w *Watcher) handleTreeEvent(ctx context.Context, path string) {
	domid, ok := domIdFromPath(path)
	if !ok {
		return
	}
	// Backend keys live under the backend domain's subtree
	// (/local/domain/<backend>/backend/<kind>/<guest>/<devid>/...), so the
	// guest's domid is the segment after the kind.
	if idx := strings.Index(path, "/backend/"); idx >= 0 {
		parts := strings.SplitN(path[idx+len("/backend/"):], "/", 3)
		if len(parts) < 2 {
			return
		}
		n, err := strconv.Atoi(parts[1])
		if err != nil {
			return
		}
		domid = types.DomId(n)
	}
	vmID, ok := w.resolver.VmIdForDomId(domid)
	if !ok {
		return
	}

	switch {
	case strings.Contains(path, "/memory/target"), strings.Contains(path, "/memory/uncooperative"), strings.Contains(path, "/data/updated"):
		w.push(types.UpdateVm, vmID, "")

	case strings.Contains(path, "/backend/vbd/"):
		devID, _ := devices.LookupByBackendPath(ctx, w.tree, devices.KindVBD, backendRoot(path, "vbd"))
		w.push(types.UpdateVbd, vmID, devID)

	case strings.Contains(path, "/backend/vif/"):
		devID, _ := devices.LookupByBackendPath(ctx, w.tree, devices.KindVIF, backendRoot(path, "vif"))
		w.push(types.UpdateVif, vmID, devID)

	case strings.Contains(path, "/backend/pci/"):
		devID, _ := devices.LookupByBackendPath(ctx, w.tree, devices.KindPCI, backendRoot(path, "pci"))
		w.push(types.UpdatePci, vmID, devID)
	}
}

// backendRoot trims a leaf key like ".../backend/vbd/3/51712/state" down to
// the device's backend root ".../backend/vbd/3/51712".
func backendRoot(path, kind string) string {
	marker := "/backend/" + kind + "/"
	idx := strings.Index(path, marker)
	if idx < 0 {
		return path
	}
	rest := path[idx+len(marker):]
	parts := strings.SplitN(rest, "/", 3)
	if len(parts) < 2 {
		return path
	}
	return path[:idx] + marker + parts[0] + "/" + parts[1]
}

// domIdFromPath extracts the domid segment from a "/local/domain/<id>/..."
// control-tree path.
func domIdFromPath(path string) (types.DomId, bool) {
	const prefix = "/local/domain/"
	if !strings.HasPrefix(path, prefix) {
		return 0, false
	}
	rest := path[len(prefix):]
	end := strings.IndexByte(rest, '/')
	if end < 0 {
		end = len(rest)
	}
	n, err := strconv.Atoi(rest[:end])
	if err != nil {
		return 0, false
	}
	return types.DomId(n), true
}

// pollDying scans the hypervisor's domain list for domains in the dying
// state not previously seen, publishing one VM update per newly-dying
// domain (testable property: each dying transition is reported exactly
// once, not once per poll tick).
func (w *Watcher) pollDying(ctx context.Context, seen map[types.DomId]bool) {
	infos, err := w.control.DomainGetInfoList(ctx)
	if err != nil {
		if w.logger != nil {
			w.logger.Warn().Err(err).Msg("watch: failed to list domains for dying poll")
		}
		return
	}

	live := make(map[types.DomId]bool, len(infos))
	for _, info := range infos {
		live[info.DomId] = true
		if !info.Dying {
			delete(seen, info.DomId)
			continue
		}
		if seen[info.DomId] {
			continue
		}
		seen[info.DomId] = true

		if vmID, ok := w.resolver.VmIdForDomId(info.DomId); ok {
			w.push(types.UpdateVm, vmID, "")
		}
	}

	for domid := range seen {
		if !live[domid] {
			delete(seen, domid)
		}
	}
}

func (w *Watcher) push(kind types.UpdateKind, vmID types.VmId, devID string) {
	if _, err := w.bus.Push(kind, vmID, devID); err != nil && w.logger != nil {
		w.logger.Error().Err(err).Str("vm_id", string(vmID)).Msg("watch: failed to push update")
	}
}

func (w *Watcher) logIfPresent(msg string) {
	if w.logger != nil {
		w.logger.Debug().Msg(msg)
	}
}
