package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/xenops/xenopsd/internal/devices"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// dmRegistry tracks the one live *devices.DM per domid this process
// itself started, the same process-lifetime-cache shape internalState
// uses for migration handshake blobs: a DM process is meaningless across
// a daemon restart, so there is nothing here to persist into VmExtra.
type dmRegistry struct {
	mu   sync.Mutex
	data map[types.DomId]*devices.DM
}

func newDMRegistry() *dmRegistry {
	return &dmRegistry{data: make(map[types.DomId]*devices.DM)}
}

func (r *dmRegistry) get(domid types.DomId) *devices.DM {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.data[domid]
}

func (r *dmRegistry) set(domid types.DomId, dm *devices.DM) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.data[domid] = dm
}

func (r *dmRegistry) delete(domid types.DomId) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.data, domid)
}

func (e *Engine) dm() *dmRegistry {
	if e.dmRegistryCache == nil {
		e.dmRegistryCache = newDMRegistry()
	}
	return e.dmRegistryCache
}

// dmQMPPort derives a per-domain QMP listen port so concurrently running
// device models never collide on the same loopback socket.
func dmQMPPort(domid types.DomId) int { return 4000 + int(domid) }

// deviceModelConfig assembles the DMConfig a domid's device model starts
// with. The same formula backs both a fresh HVM start (ensureDeviceModel)
// and a restore's dmCfgForRestore callback, so a resumed domain's device
// model always listens where ensureDeviceModel itself would have put it.
func (e *Engine) deviceModelConfig(domid types.DomId) devices.DMConfig {
	addr := fmt.Sprintf("127.0.0.1:%d", dmQMPPort(domid))
	return devices.DMConfig{
		Domid:      domid,
		QMPAddress: addr,
		Binary:     e.DeviceModelBinary,
		Args: []string{
			"-xen-domid", fmt.Sprintf("%d", domid),
			"-M", "xenpv",
			"-qmp", fmt.Sprintf("tcp:%s,server,nowait", addr),
		},
	}
}

// ensureDeviceModel starts the device model for an HVM domid's first run
// if one is not already tracked, satisfying the lifecycle's "start device
// model" step between device-plugging and run. It is a no-op for a
// non-HVM domain or when no device-model binary is configured, and it
// never restarts a device model already running for domid.
func (e *Engine) ensureDeviceModel(ctx context.Context, domid types.DomId, ty types.BuilderFlavor) (*devices.DM, error) {
	if ty != types.BuilderHVM || e.DeviceModelBinary == "" {
		return nil, nil
	}
	if dm := e.dm().get(domid); dm != nil {
		return dm, nil
	}
	dm, err := devices.Start(ctx, e.deviceModelConfig(domid))
	if err != nil {
		return nil, err
	}
	e.dm().set(domid, dm)
	return dm, nil
}

// CurrentDeviceModel returns the device model this process started for
// vmID's current domain, or nil if none is tracked (not HVM, not yet
// started, or already stopped). RPC handlers use this to give Suspend a
// live DM instead of always passing nil.
func (e *Engine) CurrentDeviceModel(vmID types.VmId) (*devices.DM, error) {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return nil, err
	}
	return e.dm().get(extra.DomId), nil
}

// DeviceModelConfigFor returns the dmCfgForRestore callback Resume needs
// to bring vmID's device model back up, or nil when vmID is not an HVM
// domain or no device-model binary is configured.
func (e *Engine) DeviceModelConfigFor(vmID types.VmId) (func(types.DomId) devices.DMConfig, error) {
	extra, err := e.Store.Load(vmID)
	if err != nil {
		return nil, err
	}
	if extra.Ty != types.BuilderHVM || e.DeviceModelBinary == "" {
		return nil, nil
	}
	return e.deviceModelConfig, nil
}
