package rpc

import (
	"github.com/gin-gonic/gin"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/pkg/ginx"
)

func (r *RPC) registerDebug(group *gin.RouterGroup) {
	group.POST("/debug/trigger", ginx.Adapt4(r.debugTrigger))
}

// debugTrigger is the operator escape hatch: a small closed set of named
// commands that don't warrant their own endpoint. Unknown commands are
// rejected rather than silently ignored, so a typo in an ops runbook
// fails loudly.
func (r *RPC) debugTrigger(ctx *gin.Context, req *DebugTriggerRequest) error {
	switch req.Command {
	case "rebalance_memory":
		return asAPIError(r.engine.Memory.Balance(ctx.Request.Context()))
	default:
		return asAPIError(apierror.WrapError(apierror.ErrNotSupported, "unknown debug command: "+req.Command, nil))
	}
}
