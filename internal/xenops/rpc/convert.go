package rpc

import (
	"github.com/jinzhu/copier"

	wireerror "github.com/xenops/xenopsd/pkg/apierror"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// toBuildInfo copies the wire DTOs into the persisted BuildInfo shape.
// copier handles the field-for-field HVM/PV sub-struct copies so this
// stays a one-liner per branch even as those structs grow.
func toBuildInfo(req *CreateRequest) (*types.BuildInfo, error) {
	build := &types.BuildInfo{
		MemoryMaxKiB:    req.MemoryMaxKiB,
		MemoryTargetKiB: req.MemoryTargetKiB,
		VCPUs:           req.VCPUs,
	}

	if req.HVMBuild != nil {
		hvm := &types.HVMBuildInfo{}
		if err := copier.Copy(hvm, req.HVMBuild); err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "convert hvm build info", err)
		}
		build.HVM = hvm
	}
	if req.PVBuild != nil {
		pv := &types.PVBuildInfo{}
		if err := copier.Copy(pv, req.PVBuild); err != nil {
			return nil, apierror.WrapError(apierror.ErrInternalError, "convert pv build info", err)
		}
		build.PV = pv
	}

	return build, nil
}

func toVBDExtra(req *VBDAddRequest) types.VBDExtra {
	return types.VBDExtra{
		LogicalID:    req.LogicalID,
		LinuxDevice:  req.LinuxDevice,
		Mode:         req.Mode,
		BackendType:  req.BackendType,
		BackendDomId: types.DomId(req.BackendDomId),
		Params:       req.Params,
		IsCDROM:      req.IsCDROM,
	}
}

func toVIFExtra(req *VIFAddRequest) types.VIFExtra {
	return types.VIFExtra{
		LogicalID: req.LogicalID,
		MAC:       req.MAC,
		Kind:      req.Kind,
		Bridge:    req.Bridge,
		MTU:       req.MTU,
		Rate:      req.Rate,
	}
}

// asAPIError converts a base-spec taxonomy error into the teacher
// lineage's wire error type so the existing pkg/ginx response rendering
// (which only special-cases *pkg/apierror.Error) applies unchanged.
func asAPIError(err error) error {
	if err == nil {
		return nil
	}
	xe, ok := err.(*apierror.Error)
	if !ok {
		return err
	}
	return wireerror.NewErrorWithRawAndStatus(xe.Code, xe.Message, xe.HTTPStatus, xe.RawError)
}
