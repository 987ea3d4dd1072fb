package types

import "time"

// Priority orders tasks in the scheduler; lower values dispatch first.
type Priority int

const (
	PriorityCritical Priority = iota
	PriorityHigh
	PriorityNormal
	PriorityLow
	PriorityBackground

	// NumPriorities is the number of distinct priority levels.
	NumPriorities = int(PriorityBackground) + 1
)

func (p Priority) String() string {
	switch p {
	case PriorityCritical:
		return "critical"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	case PriorityLow:
		return "low"
	case PriorityBackground:
		return "background"
	default:
		return "unknown"
	}
}

// Valid reports whether p is one of the defined priority levels.
func (p Priority) Valid() bool {
	return p >= PriorityCritical && p <= PriorityBackground
}

// ParsePriority maps a wire string to a Priority. The bool result is false
// for unknown values.
func ParsePriority(s string) (Priority, bool) {
	switch s {
	case "critical":
		return PriorityCritical, true
	case "high":
		return PriorityHigh, true
	case "normal", "":
		return PriorityNormal, true
	case "low":
		return PriorityLow, true
	case "background":
		return PriorityBackground, true
	default:
		return PriorityNormal, false
	}
}

// TaskState is the scheduling state of a task.
type TaskState string

const (
	TaskQueued    TaskState = "queued"
	TaskRunning   TaskState = "running"
	TaskCompleted TaskState = "completed"
	TaskFailed    TaskState = "failed"
	TaskCancelled TaskState = "cancelled"
)

// Terminal reports whether s is a final state.
func (s TaskState) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed || s == TaskCancelled
}

// TaskStatus is the externally visible status of a task. Output is set only
// in TaskCompleted, Reason only in TaskFailed.
type TaskStatus struct {
	State  TaskState        `json:"state"`
	Output *InferenceResult `json:"output,omitempty"`
	Reason string           `json:"reason,omitempty"`
}

// Tensor is a typed, shaped blob of input or output data.
type Tensor struct {
	Shape    []int64  `json:"shape"`
	DataType DataType `json:"data_type"`
	Data     []byte   `json:"data"`
}

// Elements returns the number of elements implied by the shape.
func (t Tensor) Elements() int64 {
	if len(t.Shape) == 0 {
		return 0
	}
	n := int64(1)
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// InferenceRequest describes one inference invocation.
type InferenceRequest struct {
	// Path or identifier of the model to run.
	ModelPath string `json:"model_path"`
	// Input tensors in model signature order.
	Inputs []Tensor `json:"inputs"`
	// Hard deadline measured from submission. Must be positive.
	Timeout time.Duration `json:"timeout"`
	// Agent submitting the request.
	AgentID AgentID `json:"agent_id,omitempty"`
	// Free-form metadata passed through to the result.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// InferenceResult is the output of a completed inference.
type InferenceResult struct {
	Outputs  []Tensor          `json:"outputs"`
	Duration time.Duration     `json:"duration"`
	DeviceID DeviceID          `json:"device_id"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ResourceSpec states what a task needs reserved before it may run.
type ResourceSpec struct {
	// Compute unit kinds the task requires. Kind matching is exact: a
	// tensor-core request is never satisfied by vector units.
	ComputeUnits []ComputeUnit `json:"compute_units,omitempty"`
	// Device memory to reserve in bytes.
	MemoryBytes uint64 `json:"memory_bytes"`
	// Power budget to reserve in watts.
	PowerBudgetWatts float64 `json:"power_budget_watts,omitempty"`
}

// SchedulingHints narrow the candidate device set for a task. AvoidDevices
// and RequiredMemoryType are hard constraints; the rest are relaxed in a
// fixed order when no device satisfies everything.
type SchedulingHints struct {
	PreferredDevices   []DeviceID    `json:"preferred_devices,omitempty"`
	AvoidDevices       []DeviceID    `json:"avoid_devices,omitempty"`
	RequiredMemoryType MemoryType    `json:"required_memory_type,omitempty"`
	MinTOPS            float64       `json:"min_tops,omitempty"`
	MaxLatency         time.Duration `json:"max_latency,omitempty"`
}
