package manager

import (
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"npud/internal/hal"
	"npud/pkg/types"
)

// Manager is the façade over the device registry, allocator, and scheduler.
// It exclusively owns the registry; devices are mutated only through the
// allocator's reserve/release contract and the scheduler's dispatch.
type Manager struct {
	mu       sync.RWMutex
	devices  map[types.DeviceID]*Device
	order    []types.DeviceID
	fatalErr error

	alloc     *Allocator
	sched     *Scheduler
	startTime time.Time
}

// New constructs a Manager with default configuration.
func New() *Manager {
	return NewWithConfig(Config{})
}

// NewWithConfig constructs a Manager and starts its scheduling loops.
func NewWithConfig(cfg Config) *Manager {
	cfg = cfg.withDefaults()
	m := &Manager{
		devices:   make(map[types.DeviceID]*Device),
		startTime: time.Now(),
	}
	m.alloc = NewAllocator(m.fatal)
	m.sched = newScheduler(cfg, m.alloc, m.deviceList)
	m.sched.start()
	return m
}

// fatal records a broken safety invariant. It is never cleared: the manager
// reports not-ready until restarted.
func (m *Manager) fatal(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fatalErr == nil {
		m.fatalErr = err
		log.Error().Err(err).Msg("manager entering fatal state")
	}
}

// Ready reports whether the manager has devices and no fatal condition.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatalErr == nil && len(m.devices) > 0
}

// FatalErr returns the recorded invariant violation, if any.
func (m *Manager) FatalErr() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.fatalErr
}

// RegisterBackend discovers a backend's devices and registers each driver.
// A backend that fails discovery is logged and skipped so remaining
// backends can still be tried.
func (m *Manager) RegisterBackend(backends ...hal.Backend) {
	for _, b := range backends {
		drivers, err := b.Discover()
		if err != nil {
			log.Warn().Str("backend", b.Name()).Err(err).Msg("backend discovery failed, skipping")
			continue
		}
		for _, d := range drivers {
			if err := m.RegisterDriver(d); err != nil {
				log.Warn().Str("backend", b.Name()).Err(err).Msg("driver registration failed")
			}
		}
	}
}

// RegisterDriver initializes the driver and adds its device to the registry.
func (m *Manager) RegisterDriver(d hal.Driver) error {
	if err := d.Init(); err != nil {
		return err
	}
	dev := newDevice(d)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.devices[dev.ID()]; exists {
		return hal.ErrInitFailure("registry", "duplicate device id "+string(dev.ID()))
	}
	m.devices[dev.ID()] = dev
	m.order = append(m.order, dev.ID())
	log.Info().Str("device", string(dev.ID())).Str("type", string(dev.info.Type)).
		Uint64("memory", dev.caps.AvailableMemoryBytes).Msg("device registered")
	return nil
}

// DeregisterDevice removes a device from the registry and shuts its driver
// down. Queued tasks pinned to it will fail their retry budget naturally.
func (m *Manager) DeregisterDevice(id types.DeviceID) error {
	m.mu.Lock()
	dev, ok := m.devices[id]
	if !ok {
		m.mu.Unlock()
		return hal.ErrDeviceNotFound(id)
	}
	delete(m.devices, id)
	for i, oid := range m.order {
		if oid == id {
			m.order = append(m.order[:i], m.order[i+1:]...)
			break
		}
	}
	m.mu.Unlock()
	return dev.Driver().Shutdown()
}

// deviceList snapshots the registry in registration order for the scheduler.
func (m *Manager) deviceList() []*Device {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Device, 0, len(m.order))
	for _, id := range m.order {
		out = append(out, m.devices[id])
	}
	return out
}

// SubmitTask enqueues an inference task and returns its id without waiting
// for dispatch. It fails only on malformed input.
func (m *Manager) SubmitTask(req types.InferenceRequest, prio types.Priority,
	res types.ResourceSpec, hints types.SchedulingHints) (types.TaskID, error) {
	m.mu.RLock()
	fatal := m.fatalErr
	m.mu.RUnlock()
	if fatal != nil {
		return "", fatal
	}
	return m.sched.Submit(req, prio, res, hints)
}

// TaskStatus returns the status for id; the bool result is false for an
// unknown or reaped id.
func (m *Manager) TaskStatus(id types.TaskID) (types.TaskStatus, bool) {
	return m.sched.Status(id)
}

// CancelTask cancels a queued or running task.
func (m *Manager) CancelTask(id types.TaskID) error {
	return m.sched.Cancel(id)
}

// Devices returns read-only snapshots in registration order.
func (m *Manager) Devices() []types.DeviceSnapshot {
	devs := m.deviceList()
	out := make([]types.DeviceSnapshot, 0, len(devs))
	for _, d := range devs {
		out = append(out, d.Snapshot())
	}
	return out
}

// UsageStats aggregates fleet-wide usage.
func (m *Manager) UsageStats() types.SystemStats {
	devs := m.deviceList()
	queued, running := m.sched.Counts()
	completed, failed, avg := m.sched.Totals()

	stats := types.SystemStats{
		TotalDevices:    len(devs),
		QueuedTasks:     queued,
		RunningTasks:    running,
		CompletedTasks:  completed,
		FailedTasks:     failed,
		AverageTaskTime: avg,
	}
	var utilSum float64
	var memAvail, memReserved uint64
	for _, d := range devs {
		snap := d.Snapshot()
		utilSum += snap.Utilization
		memAvail += snap.Capabilities.AvailableMemoryBytes
		memReserved += snap.ReservedMemoryBytes
		if snap.InflightTasks > 0 {
			stats.ActiveDevices++
		}
	}
	if len(devs) > 0 {
		stats.ComputeUtilization = utilSum / float64(len(devs))
	}
	if memAvail > 0 {
		stats.MemoryUtilization = float64(memReserved) / float64(memAvail)
	}
	return stats
}

// Uptime reports time since construction.
func (m *Manager) Uptime() time.Duration { return time.Since(m.startTime) }

// Close drains the scheduler, releases all allocations, and shuts down
// every registered driver.
func (m *Manager) Close() error {
	m.sched.Drain()
	m.mu.Lock()
	devs := make([]*Device, 0, len(m.order))
	for _, id := range m.order {
		devs = append(devs, m.devices[id])
	}
	m.devices = make(map[types.DeviceID]*Device)
	m.order = nil
	m.mu.Unlock()

	var firstErr error
	for _, d := range devs {
		if err := d.Driver().Shutdown(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
