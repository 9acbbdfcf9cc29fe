// Package rpc is the External Interfaces / RPC Boundary (base spec §6): a
// gin HTTP surface exposing VM.*, VBD.*, VIF.*, PCI.*, UPDATES.get and
// DEBUG.trigger, each request/response pair shaped as a plain DTO struct
// the way the teacher lineage's own api package shapes its entity
// request/response types. Every handler's job is to bind a DTO, call
// exactly one engine/devices/updates method, and translate the result (or
// error) back into the envelope pkg/ginx and pkg/apierror already define.
package rpc

import (
	"github.com/xenops/xenopsd/internal/hypervisor"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// CreateRequest is VM.create's request body.
type CreateRequest struct {
	VmId    string            `json:"vm_id" binding:"required"`
	HVM     bool              `json:"hvm"`
	SSIDRef uint32            `json:"ssidref"`
	Name    string            `json:"name" binding:"required"`
	Tree    map[string]string `json:"initial_tree_data,omitempty"`

	MemoryMaxKiB    uint64  `json:"memory_max_kib" binding:"required"`
	MemoryTargetKiB uint64  `json:"memory_target_kib" binding:"required"`
	VCPUs           uint16  `json:"vcpus" binding:"required"`
	HVMBuild        *HVMDTO `json:"hvm_build,omitempty"`
	PVBuild         *PVDTO  `json:"pv_build,omitempty"`

	CpuidTemplates []string `json:"cpuid_templates,omitempty"`
}

// HVMDTO mirrors types.HVMBuildInfo on the wire.
type HVMDTO struct {
	PAE              bool    `json:"pae"`
	APIC             bool    `json:"apic"`
	ACPI             bool    `json:"acpi"`
	NX               bool    `json:"nx"`
	Viridian         bool    `json:"viridian"`
	TimeOffset       string  `json:"timeoffset"`
	ShadowMultiplier float64 `json:"shadow_multiplier"`
}

// PVDTO mirrors types.PVBuildInfo on the wire.
type PVDTO struct {
	Kernel     string `json:"kernel"`
	Cmdline    string `json:"cmdline"`
	Ramdisk    string `json:"ramdisk,omitempty"`
	Bootloader string `json:"bootloader,omitempty"`
}

// CreateResponse is VM.create's response body.
type CreateResponse struct {
	DomId int32 `json:"domid"`
}

// BuildRequest is VM.build's request body.
type BuildRequest struct {
	VmId string   `json:"vm_id" binding:"required"`
	Args []string `json:"args,omitempty"`
}

// ShutdownRequest is VM.shutdown's request body.
type ShutdownRequest struct {
	VmId       string `json:"vm_id" binding:"required"`
	Reason     string `json:"reason" binding:"required"`
	WaitForAck bool   `json:"wait_for_ack"`
}

// VmIdRequest is the shape shared by every VM.* call that takes only a
// VmId: unpause, get_state, get_domain_action_request, get_internal_state.
type VmIdRequest struct {
	VmId string `json:"vm_id" binding:"required"`
}

// SuspendRequest is VM.suspend's request body.
type SuspendRequest struct {
	VmId      string `json:"vm_id" binding:"required"`
	ImagePath string `json:"image_path" binding:"required"`
}

// RestoreRequest is VM.restore's request body.
type RestoreRequest struct {
	VmId      string `json:"vm_id" binding:"required"`
	ImagePath string `json:"image_path" binding:"required"`
}

// RestoreResponse is VM.restore's response body.
type RestoreResponse struct {
	DomId int32 `json:"domid"`
}

// SetInternalStateRequest is VM.set_internal_state's request body.
type SetInternalStateRequest struct {
	VmId  string          `json:"vm_id" binding:"required"`
	State interface{}     `json:"state"`
}

// ReceiveMemoryRequest is VM.receive_memory's request body.
type ReceiveMemoryRequest struct {
	VmId      string `json:"vm_id" binding:"required"`
	AmountKiB uint64 `json:"amount_kib" binding:"required"`
}

// VBDAddRequest is VBD.add's request body.
type VBDAddRequest struct {
	VmId         string `json:"vm_id" binding:"required"`
	Id           string `json:"id" binding:"required"`
	LogicalID    int    `json:"logical_id"`
	LinuxDevice  string `json:"linux_device" binding:"required"`
	Mode         string `json:"mode" binding:"required"`
	BackendType  string `json:"backend_type"`
	BackendDomId int32  `json:"backend_domid"`
	Params       string `json:"params"`
	IsCDROM      bool   `json:"is_cdrom"`
}

// VIFAddRequest is VIF.add's request body.
type VIFAddRequest struct {
	VmId      string `json:"vm_id" binding:"required"`
	Id        string `json:"id" binding:"required"`
	LogicalID int    `json:"logical_id"`
	MAC       string `json:"mac" binding:"required"`
	Kind      string `json:"kind" binding:"required"`
	Bridge    string `json:"bridge,omitempty"`
	MTU       int    `json:"mtu"`
	Rate      string `json:"rate,omitempty"`
}

// UpdatesGetRequest is UPDATES.get's request body: a long poll resumed
// from the last id the caller has already consumed.
type UpdatesGetRequest struct {
	Last       uint64 `json:"last"`
	TimeoutMs  int    `json:"timeout_ms"`
}

// UpdatesGetResponse is UPDATES.get's response body.
type UpdatesGetResponse struct {
	Updates []types.Update `json:"updates"`
	Last    uint64         `json:"last"`
}

// DebugTriggerRequest is DEBUG.trigger's request body, the escape hatch
// for ad-hoc operator commands (e.g. forcing a balloon rebalance) that do
// not warrant a dedicated endpoint.
type DebugTriggerRequest struct {
	Command string   `json:"command" binding:"required"`
	Args    []string `json:"args,omitempty"`
}

func toCpuidTemplates(raw []string) []hypervisor.CpuidTemplate {
	out := make([]hypervisor.CpuidTemplate, len(raw))
	for i, r := range raw {
		out[i] = hypervisor.CpuidTemplate(r)
	}
	return out
}

func vmID(s string) types.VmId { return types.VmId(s) }
