// Package console exposes a VM's Xen virtual serial console over a
// WebSocket, reusing the teacher lineage's pty/unix-socket proxy as-is:
// a Xen console device is a pty on the host exactly like the libvirt
// serial console wsproxy was built against, so no new transport is
// needed, only a different path-resolution step (xenstore's
// console/tty node instead of a libvirt domain lookup).
package console

import (
	"context"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/xenops/xenopsd/internal/xenops/store"
	"github.com/xenops/xenopsd/internal/xenops/types"
	"github.com/xenops/xenopsd/internal/xenstore"
	"github.com/xenops/xenopsd/pkg/wsproxy"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  32768,
	WriteBufferSize: 32768,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Server serves GET /console/serial/:vm_id, upgrading to a WebSocket and
// proxying bytes to and from the domain's console pty.
type Server struct {
	store *store.Store
	tree  xenstore.Client
}

// New returns a console Server backed by store (to resolve VmId -> domid)
// and tree (to resolve domid -> console tty path).
func New(s *store.Store, tree xenstore.Client) *Server {
	return &Server{store: s, tree: tree}
}

// RegisterRoutes mounts the console endpoint under router.
func (s *Server) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/console/serial/:vm_id", s.handleSerial)
}

func (s *Server) handleSerial(ctx *gin.Context) {
	logger := zerolog.Ctx(ctx.Request.Context())
	vmID := types.VmId(ctx.Param("vm_id"))

	extra, err := s.store.Load(vmID)
	if err != nil {
		logger.Error().Err(err).Str("vm_id", string(vmID)).Msg("console: unknown vm")
		ctx.Status(http.StatusNotFound)
		return
	}

	ttyPath := fmt.Sprintf("/local/domain/%d/console/tty", extra.DomId)
	tty, err := s.tree.Read(context.Background(), ttyPath)
	if err != nil || tty == "" {
		logger.Error().Err(err).Str("vm_id", string(vmID)).Msg("console: no tty published yet")
		ctx.Status(http.StatusServiceUnavailable)
		return
	}

	wsConn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		logger.Error().Err(err).Msg("console: websocket upgrade failed")
		return
	}
	defer wsConn.Close()

	proxy := wsproxy.NewSerialProxy(tty, wsConn)
	defer proxy.Close()

	if err := proxy.Start(); err != nil {
		logger.Error().Err(err).Str("vm_id", string(vmID)).Msg("console: proxy failed")
	}
}
