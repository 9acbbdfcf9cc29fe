package storage

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xenops/xenopsd/pkg/qemuimg"
)

func TestGetByNameResolvesRegisteredVDI(t *testing.T) {
	img := new(qemuimg.MockClient)
	m := New(img)
	m.Register(VDIRecord{Name: "disk0", Path: "/var/lib/xenopsd/disk0.qcow2", Format: "qcow2"})

	disk, err := m.GetByName("disk0")
	require.NoError(t, err)
	require.Equal(t, DiskVDI, disk.Kind)
	require.Equal(t, "/var/lib/xenopsd/disk0.qcow2", disk.Path)
}

func TestGetByNameMissingIsDoesNotExist(t *testing.T) {
	img := new(qemuimg.MockClient)
	m := New(img)
	_, err := m.GetByName("nope")
	require.Error(t, err)
}

func TestCloneCreatesBackingChildAndRegisters(t *testing.T) {
	img := new(qemuimg.MockClient)
	m := New(img)
	m.Register(VDIRecord{Name: "base", Path: "/vdi/base.qcow2", Format: "qcow2", ContentID: "sha-1"})

	img.On("CreateFromBackingFile", context.Background(), "qcow2", "qcow2", "/vdi/base.qcow2", "/vdi/base.qcow2.child1").
		Return(nil)

	require.NoError(t, m.Clone(context.Background(), "base", "child1"))

	cloned, err := m.GetByName("child1")
	require.NoError(t, err)
	require.Equal(t, "/vdi/base.qcow2.child1", cloned.Path)

	similar, err := m.SimilarContent("base", "child1")
	require.NoError(t, err)
	require.True(t, similar)

	img.AssertExpectations(t)
}

func TestWithDiskAlwaysDetaches(t *testing.T) {
	img := new(qemuimg.MockClient)
	m := New(img)
	disk := Local("/tmp/scratch.raw")

	called := false
	err := m.WithDisk(context.Background(), disk, true, func(path string) error {
		called = true
		require.Equal(t, "/tmp/scratch.raw", path)
		return nil
	})
	require.NoError(t, err)
	require.True(t, called)
}

func TestSetContentIDUnknownVDI(t *testing.T) {
	img := new(qemuimg.MockClient)
	m := New(img)
	err := m.SetContentID("nope", "abc")
	require.Error(t, err)
}
