// Package xenstore is the client for the Host-Configuration Tree (base
// spec §4.A): a hierarchical key/value store every domain and the host
// toolstack read and write to exchange configuration and runtime status.
// Watches on tree paths are how component I (internal/watch) learns about
// domain introduction, memory target changes, and device hotplug
// completion.
package xenstore

import (
	"context"
	"errors"
)

// ErrNotFound distinguishes "path does not exist" from any other
// transport-level failure, the same way the base spec's operations
// distinguish DoesNotExist from a generic I/O error.
var ErrNotFound = errors.New("xenstore: path not found")

// WatchEvent is one notification delivered on a watch's channel: the path
// that changed and the opaque token the watch was registered with.
type WatchEvent struct {
	Path  string
	Token string
}

// Watch is a live subscription; Events closes when Cancel is called or the
// underlying connection is lost.
type Watch interface {
	Events() <-chan WatchEvent
	Cancel() error
}

// Transaction scopes a sequence of reads/writes for atomic commit, used by
// operations in the lifecycle engine that must publish several control
// tree keys as one visible unit (e.g. device attach: backend + frontend
// entries together).
type Transaction interface {
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, value string) error
	Mkdir(ctx context.Context, path string) error
	Rm(ctx context.Context, path string) error
	Directory(ctx context.Context, path string) ([]string, error)
	Commit(ctx context.Context) error
	Abort(ctx context.Context) error
}

// Client is the Host-Configuration Tree surface.
type Client interface {
	Read(ctx context.Context, path string) (string, error)
	Write(ctx context.Context, path, value string) error
	Mkdir(ctx context.Context, path string) error
	Rm(ctx context.Context, path string) error
	Directory(ctx context.Context, path string) ([]string, error)
	SetPerms(ctx context.Context, path string, domid int, readOnly bool) error

	// ReadV and WriteV batch several paths in one call, matching the base
	// spec's operations that read or write many leaves of a device's tree
	// (e.g. all of a VBD's backend and frontend keys) as one unit.
	ReadV(ctx context.Context, paths []string) (map[string]string, error)
	WriteV(ctx context.Context, values map[string]string) error

	Watch(ctx context.Context, path, token string) (Watch, error)

	Transaction(ctx context.Context) (Transaction, error)
}
