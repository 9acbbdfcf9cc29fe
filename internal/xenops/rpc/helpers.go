package rpc

import (
	"context"
	"encoding/json"

	"github.com/gin-gonic/gin"

	"github.com/xenops/xenopsd/internal/task"
	"github.com/xenops/xenopsd/internal/xenops/apierror"
	"github.com/xenops/xenopsd/internal/xenops/queue"
	"github.com/xenops/xenopsd/internal/xenops/types"
)

// engineTaskFor gives build/suspend/restore a progress/cancellation
// checkpoint tied to the request's own context, so an HTTP client
// disconnect cooperatively aborts the in-flight builder-helper drive loop.
func engineTaskFor(ctx *gin.Context) task.Task {
	return task.New(ctx.Request.Context(), ctx.FullPath())
}

// serialize runs job through the per-VM queue so two mutating requests
// against the same vmID never race the underlying domain: build and
// destroy landing concurrently against one domid is exactly what the
// queue exists to rule out.
func serialize(ctx context.Context, q *queue.Dispatcher, id types.VmId, job queue.Job) error {
	done, err := q.Push(ctx, id, job)
	if err != nil {
		return apierror.WrapError(apierror.ErrInternalError, "enqueue operation", err)
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func marshalInternalState(v interface{}) (json.RawMessage, error) {
	if v == nil {
		return nil, nil
	}
	blob, err := json.Marshal(v)
	if err != nil {
		return nil, apierror.WrapError(apierror.ErrInternalError, "marshal internal state", err)
	}
	return blob, nil
}
