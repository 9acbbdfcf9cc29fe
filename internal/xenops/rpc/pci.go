package rpc

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/xenops/xenopsd/internal/devices"
	"github.com/xenops/xenopsd/pkg/ginx"
)

// PCIPlugRequest is PCI.plug's request body.
type PCIPlugRequest struct {
	VmId    string `json:"vm_id" binding:"required"`
	Id      string `json:"id" binding:"required"`
	Address string `json:"address" binding:"required"`
	Slot    int    `json:"slot"`
}

// PCIUnplugRequest is PCI.unplug's request body.
type PCIUnplugRequest struct {
	VmId string `json:"vm_id" binding:"required"`
	Slot int    `json:"slot"`
}

func (r *RPC) registerPCI(group *gin.RouterGroup) {
	pci := group.Group("/pci")
	pci.POST("/plug", ginx.Adapt4(r.pciPlug))
	pci.POST("/unplug", ginx.Adapt4(r.pciUnplug))
}

func (r *RPC) pciPlug(ctx *gin.Context, req *PCIPlugRequest) error {
	id := vmID(req.VmId)
	return asAPIError(serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		return r.engine.PlugPCI(jobCtx, id, req.Id, devices.PCIAddress(req.Address), req.Slot)
	}))
}

func (r *RPC) pciUnplug(ctx *gin.Context, req *PCIUnplugRequest) error {
	id := vmID(req.VmId)
	return asAPIError(serialize(ctx.Request.Context(), r.queue, id, func(jobCtx context.Context) error {
		return r.engine.UnplugPCI(jobCtx, id, req.Slot)
	}))
}
