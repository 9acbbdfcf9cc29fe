package types

import "testing"

func TestFromDiskNumberTieBreak(t *testing.T) {
	cases := []struct {
		name       string
		diskNumber int
		hvm        bool
		wantIde    bool
	}{
		{"hvm low disk uses ide", 0, true, true},
		{"hvm within fanout uses ide", 3, true, true},
		{"hvm beyond fanout falls to xen", 4, true, false},
		{"pv always uses xen", 0, false, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			n := FromDiskNumber(tc.diskNumber, 0, tc.hvm)
			if (n.Ide != nil) != tc.wantIde {
				t.Fatalf("FromDiskNumber(%d, hvm=%v) = %+v, want ide=%v", tc.diskNumber, tc.hvm, n, tc.wantIde)
			}
		})
	}
}

func TestLinuxDeviceRendering(t *testing.T) {
	cases := []struct {
		name string
		n    InterfaceName
		want string
	}{
		{"xen disk 0", InterfaceName{Xen: &BusAddr{Disk: 0}}, "xvda"},
		{"xen disk 1 partition 1", InterfaceName{Xen: &BusAddr{Disk: 1, Partition: 1}}, "xvdb1"},
		{"ide disk 0", InterfaceName{Ide: &BusAddr{Disk: 0}}, "hda"},
		{"scsi disk 2", InterfaceName{Scsi: &BusAddr{Disk: 2}}, "sdc"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.n.LinuxDevice()
			if err != nil {
				t.Fatalf("LinuxDevice: %v", err)
			}
			if got != tc.want {
				t.Fatalf("LinuxDevice() = %q, want %q", got, tc.want)
			}
		})
	}
}

func TestLinuxDeviceEmptyIsError(t *testing.T) {
	_, err := InterfaceName{}.LinuxDevice()
	if err == nil {
		t.Fatal("expected error for empty interface name")
	}
}

func TestControlTreeKeyInjective(t *testing.T) {
	seen := map[int]InterfaceName{}
	names := []InterfaceName{
		{Xen: &BusAddr{Disk: 0}},
		{Xen: &BusAddr{Disk: 1}},
		{Ide: &BusAddr{Disk: 0}},
		{Ide: &BusAddr{Disk: 1}},
		{Scsi: &BusAddr{Disk: 0}},
	}
	for _, n := range names {
		key, err := n.ControlTreeKey()
		if err != nil {
			t.Fatalf("ControlTreeKey: %v", err)
		}
		if other, ok := seen[key]; ok {
			t.Fatalf("collision: %+v and %+v both map to key %d", n, other, key)
		}
		seen[key] = n
	}
}
