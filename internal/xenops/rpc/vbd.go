package rpc

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xenops/xenopsd/pkg/ginx"
)

func (r *RPC) registerVBD(group *gin.RouterGroup) {
	vbd := group.Group("/vbd")
	vbd.POST("/add", ginx.Adapt4(r.vbdAdd))
}

func (r *RPC) vbdAdd(ctx *gin.Context, req *VBDAddRequest) error {
	extra := toVBDExtra(req)
	id := vmID(req.VmId)
	return asAPIError(serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		return r.engine.PlugVBD(jobCtx, id, req.Id, extra)
	}))
}
