// Package queue serializes lifecycle operations per VM (base spec §4.J):
// every operation against a given VmId runs strictly after the previous
// one against that same VmId finishes, while operations on different VMs
// run concurrently. This is what stops a build and a destroy racing each
// other against the same domain.
package queue

import (
	"container/list"
	"context"
	"fmt"
	"sync"

	"github.com/xenops/xenopsd/internal/xenops/types"
)

// Job is one unit of serialized work.
type Job func(ctx context.Context) error

// Dispatcher owns one bounded FIFO worker goroutine per VmId, created
// lazily on first use and torn down once its queue drains.
type Dispatcher struct {
	mu      sync.Mutex
	queues  map[types.VmId]*vmQueue
	maxSize int
}

type vmQueue struct {
	mu      sync.Mutex
	pending *list.List // of *queuedJob
	running bool
}

type queuedJob struct {
	ctx  context.Context
	job  Job
	done chan error
}

// New returns a Dispatcher whose per-VM queues reject a Push once
// maxSize jobs are already pending, surfacing a bounded backlog instead
// of unbounded memory growth under a caller that never waits for results.
func New(maxSize int) *Dispatcher {
	if maxSize <= 0 {
		maxSize = 64
	}
	return &Dispatcher{queues: make(map[types.VmId]*vmQueue), maxSize: maxSize}
}

func (d *Dispatcher) queueFor(vmID types.VmId) *vmQueue {
	d.mu.Lock()
	defer d.mu.Unlock()
	q, ok := d.queues[vmID]
	if !ok {
		q = &vmQueue{pending: list.New()}
		d.queues[vmID] = q
	}
	return q
}

// Push enqueues job against vmID's queue and returns a channel that
// receives exactly one value: job's error (nil on success) once it runs.
// Jobs for the same vmID never run concurrently with each other.
func (d *Dispatcher) Push(ctx context.Context, vmID types.VmId, job Job) (<-chan error, error) {
	q := d.queueFor(vmID)

	q.mu.Lock()
	if q.pending.Len() >= d.maxSize {
		q.mu.Unlock()
		return nil, fmt.Errorf("queue for %s: backlog full (%d pending)", vmID, d.maxSize)
	}

	qj := &queuedJob{ctx: ctx, job: job, done: make(chan error, 1)}
	q.pending.PushBack(qj)
	needsWorker := !q.running
	if needsWorker {
		q.running = true
	}
	q.mu.Unlock()

	if needsWorker {
		go q.drain()
	}

	return qj.done, nil
}

// drain runs jobs off the front of the queue one at a time until it is
// empty, then marks the queue idle so the next Push spawns a fresh
// worker.
func (q *vmQueue) drain() {
	for {
		q.mu.Lock()
		front := q.pending.Front()
		if front == nil {
			q.running = false
			q.mu.Unlock()
			return
		}
		q.pending.Remove(front)
		q.mu.Unlock()

		qj := front.Value.(*queuedJob)
		var err error
		if qj.ctx.Err() != nil {
			err = qj.ctx.Err()
		} else {
			err = qj.job(qj.ctx)
		}
		qj.done <- err
		close(qj.done)
	}
}

// Len reports how many jobs are queued (including one currently running)
// for vmID, for tests and diagnostics.
func (d *Dispatcher) Len(vmID types.VmId) int {
	d.mu.Lock()
	q, ok := d.queues[vmID]
	d.mu.Unlock()
	if !ok {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	n := q.pending.Len()
	if q.running {
		n++
	}
	return n
}
