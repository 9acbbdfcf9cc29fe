package watch

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/xenops/xenopsd/internal/devices"
	"github.com/xenops/xenopsd/internal/hypervisor"
	"github.com/xenops/xenopsd/internal/updates"
	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/internal/xenstore"
)

type staticResolver map[types.DomId]types.VmId

func (r staticResolver) VmIdForDomId(domid types.DomId) (types.VmId, bool) {
	vmID, ok := r[domid]
	return vmID, ok
}

func TestHandleTreeEventPublishesMemoryTargetAsVmUpdate(t *testing.T) {
	tree := xenstore.NewMock()
	control := hypervisor.NewMock()
	bus := updates.New()
	resolver := staticResolver{3: types.VmId("vm-a")}

	w := New(tree, control, bus, resolver, nil)
	w.handleTreeEvent(context.Background(), "/local/domain/3/memory/target")

	out, _, err := bus.Get(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, types.UpdateVm, out[0].Kind)
	require.Equal(t, types.VmId("vm-a"), out[0].VmId)
}

func TestHandleTreeEventResolvesVbdDeviceID(t *testing.T) {
	tree := xenstore.NewMock()
	control := hypervisor.NewMock()
	bus := updates.New()
	resolver := staticResolver{3: types.VmId("vm-a")}

	be := "/local/domain/0/backend/vbd/3/51712"
	require.NoError(t, tree.Write(context.Background(), be+"/"+devices.IDKey(devices.KindVBD), "vbd-xyz"))

	w := New(tree, control, bus, resolver, nil)
	w.handleTreeEvent(context.Background(), be+"/state")

	out, _, err := bus.Get(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, types.UpdateVbd, out[0].Kind)
	require.Equal(t, "vbd-xyz", out[0].DevId)
}

func TestHandleTreeEventIgnoresUnresolvableDomid(t *testing.T) {
	tree := xenstore.NewMock()
	control := hypervisor.NewMock()
	bus := updates.New()
	resolver := staticResolver{}

	w := New(tree, control, bus, resolver, nil)
	w.handleTreeEvent(context.Background(), "/local/domain/99/memory/target")

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	out, _, err := bus.Get(ctx, 0)
	require.NoError(t, err)
	require.Empty(t, out)
}

func TestPollDyingPublishesOncePerTransition(t *testing.T) {
	tree := xenstore.NewMock()
	control := hypervisor.NewMock()
	bus := updates.New()
	resolver := staticResolver{}

	domid, err := control.DomainCreate(context.Background(), types.CreateInfo{Name: "vm"})
	require.NoError(t, err)
	resolver[domid] = types.VmId("vm-dying")

	w := New(tree, control, bus, resolver, nil)
	seen := make(map[types.DomId]bool)

	// Mock has no setter for Dying; simulate by swapping in a fake
	// Control that reports the domain as dying.
	w.control = &fakeDyingControl{domid: domid}

	w.pollDying(context.Background(), seen)
	w.pollDying(context.Background(), seen)

	out, _, err := bus.Get(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, out, 1)
}

type fakeDyingControl struct {
	hypervisor.Control
	domid types.DomId
}

func (f *fakeDyingControl) DomainGetInfoList(ctx context.Context) ([]hypervisor.DomainInfo, error) {
	return []hypervisor.DomainInfo{{DomId: f.domid, Dying: true}}, nil
}
