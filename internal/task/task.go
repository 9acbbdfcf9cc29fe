// Package task provides the minimal surface the lifecycle engine consumes
// from the (externally designed, out of scope) task facility: progress
// reporting and cooperative cancellation checkpoints. Persistence,
// sub-task trees, and the RPC-visible task table live outside this
// repository; this package only defines the interface the engine calls
// through and a context-based implementation good enough for standalone
// use and tests.
package task

import (
	"context"
	"sync/atomic"
)

// Task is consulted at progress checkpoints inside build/suspend/restore
// loops. Cancelled is checked cooperatively; it never preempts a blocking
// call already in flight.
type Task interface {
	SetProgress(percent int)
	Cancelled() bool
	WithSubtask(name string) Task
}

// Noop satisfies Task and discards everything; useful when a caller has no
// task context (CLI tools, tests).
type Noop struct{}

func (Noop) SetProgress(int)          {}
func (Noop) Cancelled() bool          { return false }
func (Noop) WithSubtask(string) Task  { return Noop{} }

// ContextTask implements Task against a context.Context's cancellation and
// an atomic progress counter, for callers that already plumb a ctx through
// the engine but have no richer task table.
type ContextTask struct {
	ctx      context.Context
	name     string
	progress atomic.Int64
}

// New returns a ContextTask named name, cancelled when ctx is done.
func New(ctx context.Context, name string) *ContextTask {
	return &ContextTask{ctx: ctx, name: name}
}

func (t *ContextTask) SetProgress(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	t.progress.Store(int64(percent))
}

// Progress returns the last reported percentage.
func (t *ContextTask) Progress() int { return int(t.progress.Load()) }

func (t *ContextTask) Cancelled() bool {
	select {
	case <-t.ctx.Done():
		return true
	default:
		return false
	}
}

func (t *ContextTask) WithSubtask(name string) Task {
	return New(t.ctx, t.name+"/"+name)
}

// Name returns the task's slash-separated name.
func (t *ContextTask) Name() string { return t.name }

// ErrCancelled-shaped helper for callers that want a uniform error when a
// checkpoint observes cancellation; kept here rather than in apierror to
// avoid a dependency from this consumed-only package back into the
// engine's error taxonomy.
type CancelledError struct{}

func (CancelledError) Error() string { return "operation cancelled" }
