package manager

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"

	"npud/pkg/types"
)

// task is the scheduler's internal record for one submitted inference.
// Everything except the immutable request fields is guarded by the
// scheduler's mutex.
type task struct {
	id        types.TaskID
	req       types.InferenceRequest
	priority  types.Priority
	resources types.ResourceSpec
	hints     types.SchedulingHints
	submitted time.Time
	deadline  time.Time

	state  types.TaskState
	output *types.InferenceResult
	reason string

	attempts    int
	retry       backoff.BackOff
	nextAttempt time.Time

	alloc           *Allocation
	device          *Device
	cancel          context.CancelFunc
	cancelRequested bool
	finishedAt      time.Time
}

func newTask(id types.TaskID, req types.InferenceRequest, prio types.Priority,
	res types.ResourceSpec, hints types.SchedulingHints, cfg Config) *task {
	now := time.Now()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryInitial
	bo.MaxInterval = cfg.RetryMax
	bo.MaxElapsedTime = 0 // retry count is bounded separately
	return &task{
		id:        id,
		req:       req,
		priority:  prio,
		resources: res,
		hints:     hints,
		submitted: now,
		deadline:  now.Add(req.Timeout),
		state:     types.TaskQueued,
		retry:     bo,
	}
}

// status projects the externally visible view; callers hold the scheduler
// mutex.
func (t *task) status() types.TaskStatus {
	st := types.TaskStatus{State: t.state}
	switch t.state {
	case types.TaskCompleted:
		st.Output = t.output
	case types.TaskFailed:
		st.Reason = t.reason
	}
	return st
}
