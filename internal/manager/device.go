package manager

import (
	"sync"

	"npud/internal/hal"
	"npud/pkg/types"
)

// Device binds one hal.Driver to its resource ledger. The ledger (reserved
// memory, reserved power, in-flight count) is guarded by the device's own
// mutex, so operations on different devices never contend. Nothing outside
// the Allocator mutates the ledger.
type Device struct {
	driver hal.Driver
	info   types.DeviceInfo
	caps   types.Capabilities

	mu            sync.Mutex
	reservedMem   uint64
	reservedPower float64
	inflight      int
	loadedModels  int
}

func newDevice(driver hal.Driver) *Device {
	return &Device{
		driver: driver,
		info:   driver.Info(),
		caps:   driver.Capabilities(),
	}
}

// ID returns the device identity.
func (d *Device) ID() types.DeviceID { return d.info.ID }

// Capabilities returns the immutable capability description.
func (d *Device) Capabilities() types.Capabilities { return d.caps }

// Driver exposes the underlying driver for execution.
func (d *Device) Driver() hal.Driver { return d.driver }

// FreeMemory returns memory not committed to any active allocation.
func (d *Device) FreeMemory() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.caps.AvailableMemoryBytes - d.reservedMem
}

// Inflight returns the number of inferences currently executing.
func (d *Device) Inflight() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.inflight
}

func (d *Device) beginTask() {
	d.mu.Lock()
	d.inflight++
	d.mu.Unlock()
}

func (d *Device) endTask() {
	d.mu.Lock()
	if d.inflight > 0 {
		d.inflight--
	}
	d.mu.Unlock()
}

func (d *Device) modelLoaded() {
	d.mu.Lock()
	d.loadedModels++
	d.mu.Unlock()
}

func (d *Device) modelUnloaded() {
	d.mu.Lock()
	if d.loadedModels > 0 {
		d.loadedModels--
	}
	d.mu.Unlock()
}

// Snapshot projects the device state for API consumers. Health and
// utilization come from non-blocking driver reads.
func (d *Device) Snapshot() types.DeviceSnapshot {
	health := d.driver.Health()
	util := d.driver.Utilization()
	d.mu.Lock()
	defer d.mu.Unlock()
	return types.DeviceSnapshot{
		Info:                d.info,
		Capabilities:        d.caps,
		Health:              health,
		Utilization:         util,
		ReservedMemoryBytes: d.reservedMem,
		ReservedPowerWatts:  d.reservedPower,
		LoadedModels:        d.loadedModels,
		InflightTasks:       d.inflight,
	}
}
