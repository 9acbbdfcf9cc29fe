// Package server assembles the daemon's components into a single
// grace.Shepherd-managed process, the same top-level wiring shape the
// teacher lineage's internal/jvp.Server uses.
package server

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jimmicro/grace"
	"github.com/rs/zerolog"

	"github.com/xenops/xenopsd/internal/builder"
	"github.com/xenops/xenopsd/internal/builder/seed"
	"github.com/xenops/xenopsd/internal/hypervisor"
	"github.com/xenops/xenopsd/internal/memory"
	"github.com/xenops/xenopsd/internal/storage"
	"github.com/xenops/xenopsd/internal/updates"
	"github.com/xenops/xenopsd/internal/watch"
	"github.com/xenops/xenopsd/internal/xenops/config"
	"github.com/xenops/xenopsd/internal/xenops/engine"
	"github.com/xenops/xenopsd/internal/xenops/registry"
	"github.com/xenops/xenopsd/internal/xenops/rpc"
	"github.com/xenops/xenopsd/internal/xenops/store"
	"github.com/xenops/xenopsd/internal/xenstore"
	"github.com/xenops/xenopsd/pkg/qemuimg"
)

// Server owns every long-lived component of the daemon and runs them
// under a grace.Shepherd, the same lifecycle contract the teacher
// lineage's internal/jvp.Server uses for its own services.
type Server struct {
	cfg    *config.Config
	rpc    *rpc.RPC
	watch  *watch.Watcher
	reg    *registry.Registry
	logger zerolog.Logger
}

// New wires xenstore, the hypervisor control surface, the domain
// builder, storage, the memory broker, the update bus, the lifecycle
// engine, the background watcher/queue, and the RPC surface into one
// Server, in the same dependency order cmd/jvp's internal/jvp.New
// threads libvirt -> services -> API.
func New(cfg *config.Config) (*Server, error) {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()
	zerolog.DefaultContextLogger = &logger

	if cfg.Bootstrap.MemoryRetryIntervalSec > 0 || cfg.Bootstrap.MemoryRetryBudgetSec > 0 {
		memory.SetRetryParams(
			time.Duration(cfg.Bootstrap.MemoryRetryIntervalSec)*time.Second,
			time.Duration(cfg.Bootstrap.MemoryRetryBudgetSec)*time.Second,
		)
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	st, err := store.New(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("open vm store: %w", err)
	}

	reg, err := registry.New(filepath.Join(cfg.DataDir, "registry.db"))
	if err != nil {
		return nil, fmt.Errorf("open registry: %w", err)
	}

	// The privileged hypervisor control plane and the xenstore tree both
	// require cgo bindings onto host-kernel interfaces (privcmd ioctls,
	// the xenstored wire protocol) this module does not vendor; Mock
	// implements the same Control/Client contracts a real binding would,
	// and is what every engine operation below actually drives.
	control := hypervisor.NewMock()
	tree := xenstore.NewMock()

	helper := builder.New(cfg.BuilderHelperPath)
	img := qemuimg.New("qemu-img")
	storageMgr := storage.New(img)
	// The ballooning daemon's own session protocol is equally
	// host-specific; Mock stands in for it the same way control and tree
	// stand in for their privileged counterparts above.
	memBroker := memory.New(memory.NewMock(), &logger)
	bus := updates.New()

	seedDir := filepath.Join(cfg.DataDir, "seeds")
	if err := os.MkdirAll(seedDir, 0o755); err != nil {
		return nil, fmt.Errorf("create seed image dir: %w", err)
	}

	eng := &engine.Engine{
		Store:             st,
		Control:           control,
		Tree:              tree,
		Memory:            memBroker,
		Storage:           storageMgr,
		Helper:            helper,
		Bus:               bus,
		Logger:            &logger,
		Registry:          reg,
		Seed:              seed.New(),
		SeedDir:           seedDir,
		DeviceModelBinary: cfg.DeviceModelBinary,
	}

	resolver := &engine.DomidResolver{Store: st}
	watcher := watch.New(tree, control, bus, resolver, &logger)

	rpcServer := rpc.New(eng, tree, bus, cfg.Address)

	return &Server{
		cfg:    cfg,
		rpc:    rpcServer,
		watch:  watcher,
		reg:    reg,
		logger: logger,
	}, nil
}

// Run starts every component under a grace.Shepherd and blocks until ctx
// is cancelled or a component fails, mirroring internal/jvp.Server.Run.
func (s *Server) Run(ctx context.Context) error {
	services := []grace.Grace{
		s.rpc,
		s.watch,
	}

	shepherd := grace.NewShepherd(
		services,
		grace.WithTimeout(30*time.Second),
		grace.WithLogger(&zerologLogger{logger: &s.logger}),
	)

	shepherd.Start(ctx)
	return nil
}

// Shutdown stops the RPC surface and closes the registry; the shepherd
// drives shutdown of the rest of services through their own
// grace.Grace.Shutdown.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.rpc.Shutdown(ctx)
	if cerr := s.reg.Close(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

// Name implements grace.Grace.
func (s *Server) Name() string { return "xenopsd" }

// zerologLogger adapts zerolog to grace.Logger, the same bridge the
// teacher lineage's internal/jvp package defines.
type zerologLogger struct {
	logger *zerolog.Logger
}

func (l *zerologLogger) Info(msg string, args ...interface{}) {
	ev := l.logger.Info()
	if len(args) > 0 {
		ev.Msgf(msg, args...)
	} else {
		ev.Msg(msg)
	}
}

func (l *zerologLogger) Error(msg string, args ...interface{}) {
	ev := l.logger.Error()
	if len(args) > 0 {
		ev.Msgf(msg, args...)
	} else {
		ev.Msg(msg)
	}
}
