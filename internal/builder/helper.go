// Package builder implements the line-based request/response protocol
// spoken with the short-lived "build helper" child process that actually
// builds, saves, or restores a domain (base spec §4.C). The helper
// receives the hypervisor control FD and, for save/restore, the suspend
// image FD as extra file descriptors; it reports progress and a terminal
// result/error over its stdout.
package builder

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/xenops/xenopsd/internal/task"
	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/pkg/lineproto"
)

// SaveMagic and DMStateMagic are the literal framing markers the base spec
// requires on the wire: SaveMagic precedes every save, DMStateMagic
// precedes the device-model state blob that follows an HVM save/restore.
const (
	SaveMagic     = "XenSavedDomain\n"
	DMStateMagic  = "QemuDeviceModelRecord\n"
)

// Protocol is the guest ABI the helper negotiated during build.
type Protocol string

const (
	ProtocolX86_32 Protocol = "x86_32-abi"
	ProtocolX86_64 Protocol = "x86_64-abi"
	ProtocolOther  Protocol = "other"
)

// BuildResult is the parsed three-token response to a build request.
type BuildResult struct {
	StoreMfn   uint64
	ConsoleMfn uint64
	Protocol   Protocol
}

// RestoreResult is the parsed two-token response to a restore request.
type RestoreResult struct {
	StoreMfn   uint64
	ConsoleMfn uint64
}

// Helper drives one invocation of the build-helper binary.
type Helper struct {
	path string
}

// New returns a Helper that execs the binary at path (e.g.
// "/usr/lib/xen/bin/xenguest").
func New(path string) *Helper {
	return &Helper{path: path}
}

// onSuspendRequested is invoked once the helper signals it is ready for
// the guest to be told to suspend (the bare "suspend" frame).
type onSuspendRequested func() error

// Build spawns the helper in build mode, feeding it args, and returns the
// parsed store/console/protocol triple once it emits "result ...".
func (h *Helper) Build(ctx context.Context, t task.Task, logger *zerolog.Logger, controlFD *os.File, args []string) (BuildResult, error) {
	proc, err := lineproto.Start(ctx, h.path, append([]string{"build"}, args...), []*os.File{controlFD})
	if err != nil {
		return BuildResult{}, apierror.WrapError(apierror.ErrBuildFailed, "start build helper", err)
	}

	tokens, err := h.drive(ctx, t, logger, proc, nil)
	if err != nil {
		return BuildResult{}, err
	}
	if len(tokens) != 3 {
		return BuildResult{}, apierror.HelperProtocol(fmt.Sprintf("build result: expected 3 tokens, got %d", len(tokens)))
	}

	store, err := strconv.ParseUint(tokens[0], 10, 64)
	if err != nil {
		return BuildResult{}, apierror.HelperProtocol("build result: bad store_mfn")
	}
	console, err := strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		return BuildResult{}, apierror.HelperProtocol("build result: bad console_mfn")
	}

	proto := ProtocolOther
	switch tokens[2] {
	case string(ProtocolX86_32):
		proto = ProtocolX86_32
	case string(ProtocolX86_64):
		proto = ProtocolX86_64
	}

	return BuildResult{StoreMfn: store, ConsoleMfn: console, Protocol: proto}, nil
}

// Save spawns the helper in (hvm_)save mode. The caller must have already
// written SaveMagic to w before calling Save. onSuspend fires exactly once,
// when the helper is ready for the guest to be told to suspend; its error,
// if any, aborts the save. When hvm is true, dmBlob is called after the
// helper reports success to obtain the device-model state to frame and
// append to w.
func (h *Helper) Save(ctx context.Context, t task.Task, logger *zerolog.Logger, controlFD, imageFD *os.File, args []string, hvm bool, onSuspend onSuspendRequested, dmBlob func() ([]byte, error)) error {
	proc, err := lineproto.Start(ctx, h.path, append([]string{"save"}, args...), []*os.File{controlFD, imageFD})
	if err != nil {
		return apierror.WrapError(apierror.ErrBuildFailed, "start save helper", err)
	}

	_, err = h.drive(ctx, t, logger, proc, onSuspend)
	if err != nil {
		return err
	}

	if hvm && dmBlob != nil {
		blob, err := dmBlob()
		if err != nil {
			return fmt.Errorf("capture device-model state: %w", err)
		}
		if err := WriteDMState(imageFD, blob); err != nil {
			return err
		}
	}
	return nil
}

// Restore spawns the helper in restore mode. r must already be positioned
// past a verified SaveMagic. When hvm is true, ReadDMState is the caller's
// responsibility after Restore returns, using the same FD.
func (h *Helper) Restore(ctx context.Context, t task.Task, logger *zerolog.Logger, controlFD, imageFD *os.File, args []string) (RestoreResult, error) {
	proc, err := lineproto.Start(ctx, h.path, append([]string{"restore"}, args...), []*os.File{controlFD, imageFD})
	if err != nil {
		return RestoreResult{}, apierror.WrapError(apierror.ErrBuildFailed, "start restore helper", err)
	}

	tokens, err := h.drive(ctx, t, logger, proc, nil)
	if err != nil {
		return RestoreResult{}, err
	}
	if len(tokens) != 2 {
		return RestoreResult{}, apierror.HelperProtocol(fmt.Sprintf("restore result: expected 2 tokens, got %d", len(tokens)))
	}

	store, err := strconv.ParseUint(tokens[0], 10, 64)
	if err != nil {
		return RestoreResult{}, apierror.HelperProtocol("restore result: bad store_mfn")
	}
	console, err := strconv.ParseUint(tokens[1], 10, 64)
	if err != nil {
		return RestoreResult{}, apierror.HelperProtocol("restore result: bad console_mfn")
	}

	return RestoreResult{StoreMfn: store, ConsoleMfn: console}, nil
}

// drive reads lines from proc until a terminal "result"/"error" frame,
// translating "debug" to a log line, "progress" to a task checkpoint, and
// "suspend" to the onSuspend callback. It returns the whitespace-split
// tokens of a "result" frame.
func (h *Helper) drive(ctx context.Context, t task.Task, logger *zerolog.Logger, proc *lineproto.Process, onSuspend onSuspendRequested) ([]string, error) {
	for {
		if t != nil && t.Cancelled() {
			_ = proc.Wait()
			return nil, apierror.ErrCancelled
		}

		select {
		case <-ctx.Done():
			_ = proc.Wait()
			return nil, apierror.WrapError(apierror.ErrBuildFailed, "context cancelled", ctx.Err())
		case line, ok := <-proc.Lines():
			if !ok {
				if err := proc.ScanErr(); err != nil {
					return nil, apierror.WrapError(apierror.ErrBuildFailed, "read helper stdout", err)
				}
				if err := proc.Wait(); err != nil {
					return nil, apierror.WrapError(apierror.ErrBuildFailed, "build helper exited with error", err)
				}
				return nil, apierror.HelperProtocol("helper exited without a result or error frame")
			}

			kind, payload := parseFrame(line)
			switch kind {
			case "debug":
				if logger != nil {
					logger.Debug().Str("helper", h.path).Msg(payload)
				}
			case "progress":
				if t != nil {
					pct, err := parsePercent(payload)
					if err == nil {
						t.SetProgress(pct)
					}
				}
			case "suspend":
				if onSuspend != nil {
					if err := onSuspend(); err != nil {
						return nil, err
					}
					onSuspend = nil
				}
			case "result":
				_ = proc.Wait()
				return strings.Fields(payload), nil
			case "error":
				_ = proc.Wait()
				return nil, apierror.HelperReported(payload)
			default:
				if logger != nil {
					logger.Warn().Str("helper", h.path).Str("line", line).Msg("unrecognized helper frame")
				}
			}
		}
	}
}

// parseFrame splits a raw line into its frame kind and payload.
func parseFrame(line string) (kind, payload string) {
	if line == "suspend" {
		return "suspend", ""
	}
	for _, k := range []string{"debug", "progress", "result", "error"} {
		prefix := k + " "
		if strings.HasPrefix(line, prefix) {
			return k, line[len(prefix):]
		}
	}
	return "", line
}

// parsePercent strips the helper's "\b\b\b\b" cursor-rewind prefix (used so
// repeated progress frames overwrite a single terminal line) and clamps the
// remaining decimal percent to [0,100].
func parsePercent(payload string) (int, error) {
	trimmed := strings.TrimLeft(payload, "\b")
	trimmed = strings.TrimSpace(trimmed)
	pct, err := strconv.Atoi(trimmed)
	if err != nil {
		return 0, fmt.Errorf("parse progress percent %q: %w", payload, err)
	}
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return pct, nil
}

// WriteDMState frames and writes an HVM device-model state blob: the
// literal magic, a 4-byte big-endian length, then the bytes themselves.
func WriteDMState(w io.Writer, blob []byte) error {
	if _, err := io.WriteString(w, DMStateMagic); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "write dm state magic", err)
	}
	var length [4]byte
	binary.BigEndian.PutUint32(length[:], uint32(len(blob)))
	if _, err := w.Write(length[:]); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "write dm state length", err)
	}
	if _, err := w.Write(blob); err != nil {
		return apierror.WrapError(apierror.ErrIoError, "write dm state blob", err)
	}
	return nil
}

// ReadDMState verifies the DMStateMagic and reads the framed blob that
// follows, failing with TruncatedDmState if fewer bytes are available than
// the declared length.
func ReadDMState(r io.Reader) ([]byte, error) {
	magic := make([]byte, len(DMStateMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return nil, apierror.WrapError(apierror.ErrTruncatedDmState, "read dm state magic", err)
	}
	if string(magic) != DMStateMagic {
		return nil, apierror.ErrBadSignature
	}

	var length [4]byte
	if _, err := io.ReadFull(r, length[:]); err != nil {
		return nil, apierror.WrapError(apierror.ErrTruncatedDmState, "read dm state length", err)
	}
	n := binary.BigEndian.Uint32(length[:])

	blob := make([]byte, n)
	if _, err := io.ReadFull(r, blob); err != nil {
		return nil, apierror.WrapError(apierror.ErrTruncatedDmState, "read dm state blob", err)
	}
	return blob, nil
}

// VerifySaveMagic reads and checks the SaveMagic prefix every suspend image
// must begin with.
func VerifySaveMagic(r io.Reader) error {
	magic := make([]byte, len(SaveMagic))
	if _, err := io.ReadFull(r, magic); err != nil {
		return apierror.WrapError(apierror.ErrBadSignature, "read save magic", err)
	}
	if string(magic) != SaveMagic {
		return apierror.ErrBadSignature
	}
	return nil
}
