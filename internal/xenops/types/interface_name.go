package types

import (
	"fmt"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
)

// InterfaceName is the sum type covering the three disk bus namings a
// guest can see a block device under. Exactly one of the three concrete
// kinds is ever populated for a given value.
type InterfaceName struct {
	Xen  *BusAddr
	Scsi *BusAddr
	Ide  *BusAddr
}

// BusAddr is a (disk, partition) pair within one bus naming scheme.
type BusAddr struct {
	Disk      int
	Partition int
}

// ideFanout is the number of IDE (bus, device) slots HVM guests expose
// before falling through to Xen numbering: 2 buses * 2 devices.
const ideFanout = 4

// LinuxDevice renders the control-tree-facing linux device string, e.g.
// "xvda", "sda1", "hdb".
func (n InterfaceName) LinuxDevice() (string, error) {
	switch {
	case n.Xen != nil:
		return renderDevice("xvd", n.Xen.Disk, n.Xen.Partition), nil
	case n.Scsi != nil:
		return renderDevice("sd", n.Scsi.Disk, n.Scsi.Partition), nil
	case n.Ide != nil:
		return renderDevice("hd", n.Ide.Disk, n.Ide.Partition), nil
	default:
		return "", apierror.ErrBadInterfaceName
	}
}

func renderDevice(prefix string, disk, partition int) string {
	letter := diskLetter(disk)
	if partition == 0 {
		return prefix + letter
	}
	return fmt.Sprintf("%s%s%d", prefix, letter, partition)
}

func diskLetter(disk int) string {
	// disk 0 -> "a", disk 25 -> "z", disk 26 -> "aa", matching the
	// conventional Linux block-device lettering scheme.
	s := ""
	disk++
	for disk > 0 {
		disk--
		s = string(rune('a'+disk%26)) + s
		disk /= 26
	}
	return s
}

// FromDiskNumber converts a user-facing disk number into an InterfaceName,
// applying the tie-break rules of the base spec: HVM guests prefer IDE for
// low disk numbers (bus 0-1, device 0-1) and fall through to Xen numbering
// once the IDE fan-out is exhausted; PV guests always use Xen numbering.
func FromDiskNumber(diskNumber int, partition int, hvm bool) InterfaceName {
	if hvm && diskNumber < ideFanout {
		return InterfaceName{Ide: &BusAddr{Disk: diskNumber, Partition: partition}}
	}
	return InterfaceName{Xen: &BusAddr{Disk: diskNumber, Partition: partition}}
}

// ControlTreeKey renders the integer control-tree device key used to tag
// a frontend, per the base spec's (user-facing number, linux-device,
// control-tree key) triple. The key is disk<<8|partition, with the
// bus-kind packed into the high bits: Xen disks carry no bus-kind bits,
// IDE adds 1<<20 and SCSI 2<<20, so the three namings never collide in
// the tree.
func (n InterfaceName) ControlTreeKey() (int, error) {
	switch {
	case n.Xen != nil:
		return n.Xen.Disk<<8 | n.Xen.Partition, nil
	case n.Ide != nil:
		return 1<<20 | n.Ide.Disk<<8 | n.Ide.Partition, nil
	case n.Scsi != nil:
		return 2<<20 | n.Scsi.Disk<<8 | n.Scsi.Partition, nil
	default:
		return 0, apierror.ErrBadInterfaceName
	}
}
