// Package manager coordinates accelerator devices, resource reservations,
// and priority task scheduling. It is structured into small files by concern:
//
//   - manager.go: core Manager type, driver registration, public API.
//   - config.go: Config and package defaults; NewWithConfig applies defaults.
//   - device.go: Device wrapper binding one hal.Driver to its ledger.
//   - allocator.go: Allocator reserve/release; the sole ledger authority.
//   - scheduler.go: priority queues, dispatch loop, task state machine.
//   - reaper.go: periodic sweep enforcing deadlines and reaping old tasks.
//   - task.go: internal task record and status projection.
//   - events.go: EventPublisher hook for lifecycle events.
//   - metrics.go: prometheus collectors.
//   - errors.go: manager-level error types and helpers.
//
// Scheduling is strict-priority across five FIFO queues; within a level,
// tasks dispatch in submission order. Lower priorities may starve under
// sustained higher-priority load.
//
// When no device satisfies all scheduling hints, hints are relaxed in a
// fixed order: max_latency first, then min_tops, then preferred_devices.
// avoid_devices and required_memory_type are never relaxed.
//
// External packages should treat this package as the orchestration layer and
// use public methods only (NewWithConfig, RegisterBackend, SubmitTask,
// CancelTask, TaskStatus, Devices, UsageStats, Close). Internal types are
// subject to change.
package manager
