package rpc

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/xenops/xenopsd/internal/updates"
	"github.com/xenops/xenopsd/internal/xenops/console"
	"github.com/xenops/xenopsd/internal/xenops/engine"
	"github.com/xenops/xenopsd/internal/xenops/queue"
	"github.com/xenops/xenopsd/internal/xenstore"
)

// RPC is the gin-backed External Interfaces surface. It owns no lifecycle
// logic of its own: every handler binds a DTO, serializes mutating calls
// through queue against their VmId, and otherwise calls straight through
// to Engine, devices, or the update bus.
type RPC struct {
	engine *engine.Engine
	tree   xenstore.Client
	bus    *updates.Bus
	queue  *queue.Dispatcher
	addr   string

	server *http.Server
}

// New wires every VM.*/VBD.*/VIF.*/PCI.*/UPDATES.*/DEBUG.* route onto a
// fresh gin.Engine bound to addr.
func New(eng *engine.Engine, tree xenstore.Client, bus *updates.Bus, addr string) *RPC {
	gin.SetMode(gin.ReleaseMode)
	ginEngine := gin.Default()

	r := &RPC{engine: eng, tree: tree, bus: bus, queue: queue.New(0), addr: addr}

	group := ginEngine.Group("/api")
	r.registerVM(group)
	r.registerVBD(group)
	r.registerVIF(group)
	r.registerPCI(group)
	r.registerUpdates(group)
	r.registerDebug(group)
	console.New(eng.Store, tree).RegisterRoutes(group)

	r.server = &http.Server{Addr: addr, Handler: ginEngine}
	return r
}

// Run blocks serving HTTP until ctx is cancelled, the same grace.Grace
// contract the teacher lineage's API type implements.
func (r *RPC) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		if err := r.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Shutdown gracefully stops the HTTP server.
func (r *RPC) Shutdown(ctx context.Context) error {
	return r.server.Shutdown(ctx)
}

// Name implements grace.Grace.
func (r *RPC) Name() string { return "xenopsd RPC" }
