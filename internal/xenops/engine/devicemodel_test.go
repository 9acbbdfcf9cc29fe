package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xenops/xenopsd/internal/devices"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

func TestDmRegistryGetSetDelete(t *testing.T) {
	r := newDMRegistry()
	require.Nil(t, r.get(1))

	dm := &devices.DM{}
	r.set(1, dm)
	require.Same(t, dm, r.get(1))

	r.delete(1)
	require.Nil(t, r.get(1))
}

func TestDeviceModelConfigDistinctPortsPerDomain(t *testing.T) {
	e := &Engine{DeviceModelBinary: "/usr/lib/xen/bin/qemu-system-i386"}

	cfgA := e.deviceModelConfig(5)
	cfgB := e.deviceModelConfig(6)

	require.NotEqual(t, cfgA.QMPAddress, cfgB.QMPAddress, "each domain's device model must listen on its own QMP socket")
	require.Equal(t, types.DomId(5), cfgA.Domid)
	require.Contains(t, cfgA.Args, "-xen-domid")
}

func TestEnsureDeviceModelNoopWithoutBinaryConfigured(t *testing.T) {
	e := &Engine{}
	dm, err := e.ensureDeviceModel(context.Background(), 1, types.BuilderHVM)
	require.NoError(t, err)
	require.Nil(t, dm)
}

func TestEnsureDeviceModelNoopForNonHVM(t *testing.T) {
	e := &Engine{DeviceModelBinary: "/usr/lib/xen/bin/qemu-system-i386"}
	dm, err := e.ensureDeviceModel(context.Background(), 1, types.BuilderPVDirect)
	require.NoError(t, err)
	require.Nil(t, dm)
}

func TestDeviceModelConfigForNonHVMReturnsNilCallback(t *testing.T) {
	e, _, _ := newTestEngine(t)
	e.DeviceModelBinary = "/usr/lib/xen/bin/qemu-system-i386"
	ctx := context.Background()
	vmID := types.VmId("44444444-4444-4444-4444-444444444444")

	_, err := e.Create(ctx, vmID, types.CreateInfo{Name: "pv-vm"}, pvBuildInfo(), nil)
	require.NoError(t, err)

	cfg, err := e.DeviceModelConfigFor(vmID)
	require.NoError(t, err)
	require.Nil(t, cfg, "a pv domain never needs a restore-time device model config")
}
