// Package seed generates the NoCloud cloud-init seed image an
// indirect-PV domain's bootloader reads to configure the guest on first
// boot (hostname, SSH key, a root password hash), reusing the same
// generator/ISO-builder pair this lineage already uses for instance
// provisioning rather than inventing a second cloud-init writer.
package seed

import (
	"fmt"

	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/pkg/cloudinit"
)

// Spec is the minimal per-VM input the seed image needs. It is supplied
// by whatever created the domain (typically derived from CreateInfo's
// name and the caller's own provisioning request), not read back out of
// the engine's own state.
type Spec struct {
	VmId        types.VmId
	Hostname    string
	SSHKeys     []string
	RootPasswd  string // plaintext; hashed with bcrypt before it reaches disk
	OutputDir   string // directory BuildISO writes the seed image into
}

// Generator builds a cidata ISO for a VmId's bootloader-driven domain.
type Generator struct {
	gen *cloudinit.Generator
	iso *cloudinit.ISOBuilder
}

// New returns a Generator using the default qemu-img-adjacent ISO
// tooling (genisoimage/mkisofs) already vendored by this lineage.
func New() *Generator {
	return &Generator{
		gen: cloudinit.NewGenerator(),
		iso: cloudinit.NewISOBuilder(),
	}
}

// Build renders meta-data and user-data for spec and writes a cidata ISO,
// returning its path so the caller can attach it to the domain as a
// read-only VBD (the indirect-PV bootloader reads it before the kernel it
// names ever runs).
func (g *Generator) Build(spec Spec) (string, error) {
	if spec.VmId == "" {
		return "", fmt.Errorf("seed: VmId is required")
	}
	hostname := spec.Hostname
	if hostname == "" {
		hostname = string(spec.VmId)
	}

	userData := &cloudinit.UserData{
		Users: []any{"default"},
	}
	if len(spec.SSHKeys) > 0 || spec.RootPasswd != "" {
		user := cloudinit.User{
			Name:              "root",
			SSHAuthorizedKeys: spec.SSHKeys,
		}
		if spec.RootPasswd != "" {
			hash, err := cloudinit.HashPassword(spec.RootPasswd)
			if err != nil {
				return "", fmt.Errorf("seed: hash root password: %w", err)
			}
			user.HashedPasswd = hash
		}
		userData.Users = append(userData.Users, user)
	}

	cfg := &cloudinit.Config{Hostname: hostname}
	return g.iso.BuildISO(&cloudinit.BuildOptions{
		VMName:    string(spec.VmId),
		OutputDir: spec.OutputDir,
		Config:    cfg,
		UserData:  userData,
	})
}
