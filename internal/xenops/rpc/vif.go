package rpc

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xenops/xenopsd/pkg/ginx"
)

func (r *RPC) registerVIF(group *gin.RouterGroup) {
	vif := group.Group("/vif")
	vif.POST("/add", ginx.Adapt4(r.vifAdd))
}

func (r *RPC) vifAdd(ctx *gin.Context, req *VIFAddRequest) error {
	extra := toVIFExtra(req)
	id := vmID(req.VmId)
	return asAPIError(serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		return r.engine.PlugVIF(jobCtx, id, req.Id, extra)
	}))
}
