package rpc

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/pkg/ginx"
)

func (r *RPC) registerVM(group *gin.RouterGroup) {
	vm := group.Group("/vm")
	vm.POST("/create", ginx.Adapt5(r.create))
	vm.POST("/build", ginx.Adapt4(r.build))
	vm.POST("/unpause", ginx.Adapt4(r.unpause))
	vm.POST("/shutdown", ginx.Adapt4(r.shutdown))
	vm.POST("/suspend", ginx.Adapt4(r.suspend))
	vm.POST("/restore", ginx.Adapt5(r.restore))
	vm.POST("/get_state", ginx.Adapt5(r.getState))
	vm.POST("/get_domain_action_request", ginx.Adapt5(r.getDomainActionRequest))
	vm.POST("/set_internal_state", ginx.Adapt4(r.setInternalState))
	vm.POST("/get_internal_state", ginx.Adapt5(r.getInternalState))
	vm.POST("/receive_memory", ginx.Adapt4(r.receiveMemory))
}

func (r *RPC) create(ctx *gin.Context, req *CreateRequest) (*CreateResponse, error) {
	logger := zerolog.Ctx(ctx.Request.Context())

	build, err := toBuildInfo(req)
	if err != nil {
		return nil, asAPIError(err)
	}

	info := types.CreateInfo{HVM: req.HVM, SSIDRef: req.SSIDRef, Name: req.Name, InitialTreeData: req.Tree}
	id := vmID(req.VmId)

	var domid types.DomId
	err = serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		var jobErr error
		domid, jobErr = r.engine.Create(jobCtx, id, info, build, toCpuidTemplates(req.CpuidTemplates))
		return jobErr
	})
	if err != nil {
		logger.Error().Err(err).Str("vm_id", req.VmId).Msg("VM.create failed")
		return nil, asAPIError(err)
	}
	return &CreateResponse{DomId: int32(domid)}, nil
}

func (r *RPC) build(ctx *gin.Context, req *BuildRequest) error {
	t := engineTaskFor(ctx)
	id := vmID(req.VmId)
	return asAPIError(serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		return r.engine.Build(jobCtx, id, req.Args, t)
	}))
}

func (r *RPC) unpause(ctx *gin.Context, req *VmIdRequest) error {
	id := vmID(req.VmId)
	return asAPIError(serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		return r.engine.Unpause(jobCtx, id)
	}))
}

func (r *RPC) shutdown(ctx *gin.Context, req *ShutdownRequest) error {
	reason := types.ShutdownReason(req.Reason)
	id := vmID(req.VmId)
	return asAPIError(serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		return r.engine.RequestShutdown(jobCtx, id, reason, req.WaitForAck)
	}))
}

func (r *RPC) suspend(ctx *gin.Context, req *SuspendRequest) error {
	t := engineTaskFor(ctx)
	id := vmID(req.VmId)
	dm, err := r.engine.CurrentDeviceModel(id)
	if err != nil {
		return asAPIError(err)
	}
	return asAPIError(serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		return r.engine.Suspend(jobCtx, id, req.ImagePath, dm, t)
	}))
}

func (r *RPC) restore(ctx *gin.Context, req *RestoreRequest) (*RestoreResponse, error) {
	t := engineTaskFor(ctx)
	id := vmID(req.VmId)

	dmCfg, err := r.engine.DeviceModelConfigFor(id)
	if err != nil {
		return nil, asAPIError(err)
	}

	var domid types.DomId
	err = serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		var jobErr error
		domid, jobErr = r.engine.Resume(jobCtx, id, req.ImagePath, dmCfg, t)
		return jobErr
	})
	if err != nil {
		return nil, asAPIError(err)
	}
	return &RestoreResponse{DomId: int32(domid)}, nil
}

func (r *RPC) getState(ctx *gin.Context, req *VmIdRequest) (interface{}, error) {
	st, err := r.engine.GetState(ctx.Request.Context(), vmID(req.VmId))
	if err != nil {
		return nil, asAPIError(err)
	}
	return st, nil
}

func (r *RPC) getDomainActionRequest(ctx *gin.Context, req *VmIdRequest) (interface{}, error) {
	action, err := r.engine.GetDomainActionRequest(ctx.Request.Context(), vmID(req.VmId))
	if err != nil {
		return nil, asAPIError(err)
	}
	return gin.H{"action": action}, nil
}

func (r *RPC) setInternalState(ctx *gin.Context, req *SetInternalStateRequest) error {
	blob, err := marshalInternalState(req.State)
	if err != nil {
		return asAPIError(err)
	}
	r.engine.SetInternalState(vmID(req.VmId), blob)
	return nil
}

func (r *RPC) getInternalState(ctx *gin.Context, req *VmIdRequest) (interface{}, error) {
	return gin.H{"state": r.engine.GetInternalState(vmID(req.VmId))}, nil
}

func (r *RPC) receiveMemory(ctx *gin.Context, req *ReceiveMemoryRequest) error {
	return asAPIError(r.engine.ReceiveMemory(ctx.Request.Context(), vmID(req.VmId), req.AmountKiB*1024))
}
