package devices

import (
	"context"
	"encoding/json"
	"fmt"
	"os/exec"
	"time"

	"github.com/digitalocean/go-qemu/qemu"
	"github.com/digitalocean/go-qemu/qmp"

	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// DMConfig is what an HVM device model needs to start: the domain it
// backs, its QMP monitor address (host:port), and the qemu binary/args the
// lifecycle engine assembled from VmExtra.
type DMConfig struct {
	Domid      types.DomId
	QMPAddress string // host:port the socket monitor dials
	Binary     string
	Args       []string
	Timeout    time.Duration
}

// DM supervises one running device-model process via QMP, using the
// go-qemu client.
type DM struct {
	cfg     DMConfig
	cmd     *exec.Cmd
	monitor *qmp.SocketMonitor
	domain  *qemu.Domain
}

// Start execs the qemu-style device model for cfg and dials its QMP
// socket once the process is listening.
func Start(ctx context.Context, cfg DMConfig) (*DM, error) {
	cmd := exec.CommandContext(ctx, cfg.Binary, cfg.Args...)
	if err := cmd.Start(); err != nil {
		return nil, apierror.WrapError(apierror.ErrBuildFailed, "start device model", err)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	host, port, err := splitHostPort(cfg.QMPAddress)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, err
	}

	monitor, err := qmp.NewSocketMonitor(host, port, timeout)
	if err != nil {
		_ = cmd.Process.Kill()
		return nil, apierror.WrapError(apierror.ErrBuildFailed, "dial device model qmp socket", err)
	}
	if err := monitor.Connect(); err != nil {
		_ = cmd.Process.Kill()
		return nil, apierror.WrapError(apierror.ErrBuildFailed, "connect device model qmp socket", err)
	}

	domain, err := qemu.NewDomain(monitor, fmt.Sprintf("domain-%d", cfg.Domid))
	if err != nil {
		_ = monitor.Disconnect()
		_ = cmd.Process.Kill()
		return nil, apierror.WrapError(apierror.ErrBuildFailed, "attach to device model domain", err)
	}

	return &DM{cfg: cfg, cmd: cmd, monitor: monitor, domain: domain}, nil
}

// splitHostPort is a tiny helper since cfg.QMPAddress arrives as
// "host:port" but go-qemu's SocketMonitor wants them separate.
func splitHostPort(addr string) (host, port string, err error) {
	for i := len(addr) - 1; i >= 0; i-- {
		if addr[i] == ':' {
			return addr[:i], addr[i+1:], nil
		}
	}
	return "", "", apierror.WrapError(apierror.ErrInternalError, fmt.Sprintf("malformed qmp address %q", addr), nil)
}

// Suspend runs the device model's stop command, quiescing it before the
// guest's own suspend sequence runs, and returns the raw QMP reply to
// query-migrate (the device model's migration status), which the caller
// frames into the suspend image. The device model's own device state is
// not serialized.
func (d *DM) Suspend(ctx context.Context) ([]byte, error) {
	if _, err := d.domain.Run([]byte(`{"execute":"stop"}`)); err != nil {
		return nil, apierror.WrapError(apierror.ErrBuildFailed, "stop device model", err)
	}

	raw, err := d.domain.Run([]byte(`{"execute":"query-migrate"}`))
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrBuildFailed, "query device model migration state", err)
	}
	return raw, nil
}

// Resume sends the device model the cont command so it continues
// execution, the counterpart of Suspend on the restore path. blob is not
// loaded into the device model.
func (d *DM) Resume(ctx context.Context, blob []byte) error {
	cmd, err := json.Marshal(struct {
		Execute   string          `json:"execute"`
		Arguments json.RawMessage `json:"arguments"`
	}{Execute: "cont"})
	if err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "marshal cont command", err)
	}
	if _, err := d.domain.Run(cmd); err != nil {
		return apierror.WrapError(apierror.ErrBuildFailed, "resume device model", err)
	}
	return nil
}

// Stop disconnects the QMP monitor and waits for the device-model process
// to exit, killing it if it does not within the configured timeout.
func (d *DM) Stop(ctx context.Context) error {
	_ = d.monitor.Disconnect()

	done := make(chan error, 1)
	go func() { done <- d.cmd.Wait() }()

	timeout := d.cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		_ = d.cmd.Process.Kill()
		<-done
		return nil
	case <-ctx.Done():
		_ = d.cmd.Process.Kill()
		<-done
		return ctx.Err()
	}
}
