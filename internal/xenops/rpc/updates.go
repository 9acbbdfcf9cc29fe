package rpc

import (
	"context"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/xenops/xenopsd/pkg/ginx"
)

func (r *RPC) registerUpdates(group *gin.RouterGroup) {
	group.POST("/updates/get", ginx.Adapt5(r.updatesGet))
}

// updatesGet is the single long-poll endpoint every watcher of this
// daemon's state uses: it blocks (bounded by timeout_ms) until an update
// newer than last is available, then returns whatever arrived.
func (r *RPC) updatesGet(ctx *gin.Context, req *UpdatesGetRequest) (*UpdatesGetResponse, error) {
	timeout := time.Duration(req.TimeoutMs) * time.Millisecond
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	pollCtx, cancel := context.WithTimeout(ctx.Request.Context(), timeout)
	defer cancel()

	out, last, err := r.bus.Get(pollCtx, req.Last)
	if err != nil {
		return nil, asAPIError(err)
	}
	return &UpdatesGetResponse{Updates: out, Last: last}, nil
}
