package types

import "time"

// SubmitTaskRequest is the payload for POST /tasks.
type SubmitTaskRequest struct {
	// Inference request to execute.
	Request InferenceRequest `json:"request"`
	// Priority level: critical, high, normal, low, background.
	// example: normal
	Priority string `json:"priority,omitempty" example:"normal"`
	// Resources to reserve on the chosen device.
	Resources ResourceSpec `json:"resources"`
	// Optional placement hints.
	Hints SchedulingHints `json:"hints,omitempty"`
}

// SubmitTaskResponse is returned by POST /tasks.
type SubmitTaskResponse struct {
	// Assigned task identifier.
	// example: 2f9c9a3e-4a1d-4f9a-b1c6-0d9f6f6e2a11
	TaskID TaskID `json:"task_id"`
}

// TaskStatusResponse is returned by GET /tasks/{id}.
type TaskStatusResponse struct {
	TaskID TaskID     `json:"task_id"`
	Status TaskStatus `json:"status"`
}

// DeviceSnapshot is a read-only projection of one device for GET /devices.
type DeviceSnapshot struct {
	Info         DeviceInfo   `json:"info"`
	Capabilities Capabilities `json:"capabilities"`
	Health       Health       `json:"health"`
	// Compute utilization in [0,1].
	// example: 0.25
	Utilization float64 `json:"utilization"`
	// Memory currently reserved by active allocations, in bytes.
	ReservedMemoryBytes uint64 `json:"reserved_memory_bytes"`
	// Power currently reserved by active allocations, in watts.
	ReservedPowerWatts float64 `json:"reserved_power_watts"`
	// Number of models loaded on the device.
	LoadedModels int `json:"loaded_models"`
	// Number of inferences currently executing.
	InflightTasks int `json:"inflight_tasks"`
}

// SystemStats aggregates fleet-wide usage for GET /stats.
type SystemStats struct {
	// Number of registered devices.
	// example: 3
	TotalDevices int `json:"total_devices"`
	// Devices with at least one running task.
	// example: 1
	ActiveDevices int `json:"active_devices"`
	// Mean compute utilization across devices, in [0,1].
	ComputeUtilization float64 `json:"compute_utilization"`
	// Reserved memory over available memory across devices, in [0,1].
	MemoryUtilization float64 `json:"memory_utilization"`
	// Tasks currently waiting in priority queues.
	QueuedTasks int `json:"queued_tasks"`
	// Tasks currently executing.
	RunningTasks int `json:"running_tasks"`
	// Tasks that reached a terminal state since startup.
	CompletedTasks uint64 `json:"completed_tasks"`
	FailedTasks    uint64 `json:"failed_tasks"`
	// Mean execution time of completed tasks.
	AverageTaskTime time.Duration `json:"average_task_time"`
}

// ErrorResponse is a consistent JSON error payload.
type ErrorResponse struct {
	// Error message.
	// example: zero timeout
	Error string `json:"error" example:"zero timeout"`
	// HTTP status code.
	// example: 400
	Code int `json:"code" example:"400"`
}

// ModelsResponse wraps the model catalog returned by GET /models.
type ModelsResponse struct {
	Models []Model `json:"models"`
}
