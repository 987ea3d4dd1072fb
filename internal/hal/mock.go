package hal

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"npud/pkg/types"
)

// Defaults applied when corresponding MockConfig fields are unset.
const (
	defaultMockBaseLatency = 2 * time.Millisecond
	defaultIdleTempC       = 35.0
	defaultMaxTempC        = 85.0
	// Fraction of the distance to the target closed per drift step.
	driftFactor = 0.25
)

// MockConfig configures one simulated device. The zero value is usable for
// tests; Capabilities falls back to DefaultMockCapabilities.
type MockConfig struct {
	ID           types.DeviceID
	Name         string
	Type         types.DeviceType
	Capabilities types.Capabilities
	// Seed makes the simulation reproducible. Zero means seed 1.
	Seed int64
	// Fixed latency added to every inference before the size-dependent part.
	BaseLatency time.Duration
	// Fault-injection rates in [0,1], drawn per call from the seeded RNG.
	FailOOMRate     float64
	FailBusyRate    float64
	FailTimeoutRate float64
	// Catalog resolves a model path to its metadata. When nil, every
	// LoadModel fails with ModelNotFound.
	Catalog func(path string) (types.Model, bool)
}

// DefaultMockCapabilities returns the capability set used when a MockConfig
// does not specify one: 4 GiB unified memory, tensor+vector cores, common
// dtypes and formats.
func DefaultMockCapabilities() types.Capabilities {
	return types.Capabilities{
		MaxBatchSize: 32,
		CoreCounts: map[types.ComputeUnit]int{
			types.TensorCore: 8,
			types.VectorCore: 4,
		},
		DataTypes:            []types.DataType{types.Float32, types.Float16, types.Int8},
		Formats:              []types.ModelFormat{types.FormatONNX, types.FormatTFLite},
		TotalMemoryBytes:     4 << 30,
		AvailableMemoryBytes: 4 << 30,
		MemoryType:           types.MemoryUnified,
		MemoryBandwidthGBps:  100,
		PeakTOPS:             10,
		SustainedTOPS:        8,
		TDPWatts:             15,
		ConcurrentInference:  true,
	}
}

type loadedModel struct {
	handle ModelHandle
	path   string
	bytes  uint64
	refs   int
}

// MockDriver is a deterministic simulated accelerator implementing Driver.
// All simulated behavior (latency, faults, thermal drift) derives from the
// configured seed so test runs are reproducible.
type MockDriver struct {
	cfg  MockConfig
	info types.DeviceInfo
	caps types.Capabilities

	mu          sync.Mutex
	initialized bool
	rng         *rand.Rand
	nextHandle  uint64
	models      map[ModelHandle]*loadedModel
	byPath      map[string]ModelHandle
	allocs      map[MemoryHandle]uint64
	usedBytes   uint64
	inflight    int

	tempC  float64
	powerW float64
}

// NewMockDriver builds a simulated device from cfg.
func NewMockDriver(cfg MockConfig) *MockDriver {
	if cfg.ID == "" {
		cfg.ID = "mock-0"
	}
	if cfg.Name == "" {
		cfg.Name = "Mock NPU"
	}
	if cfg.Type == "" {
		cfg.Type = types.DeviceMock
	}
	if cfg.Seed == 0 {
		cfg.Seed = 1
	}
	if cfg.BaseLatency <= 0 {
		cfg.BaseLatency = defaultMockBaseLatency
	}
	caps := cfg.Capabilities
	if caps.TotalMemoryBytes == 0 {
		caps = DefaultMockCapabilities()
	}
	if caps.AvailableMemoryBytes == 0 {
		caps.AvailableMemoryBytes = caps.TotalMemoryBytes
	}
	return &MockDriver{
		cfg: cfg,
		info: types.DeviceInfo{
			ID:            cfg.ID,
			Name:          cfg.Name,
			Type:          cfg.Type,
			Vendor:        "npud",
			DriverVersion: "1.0.0",
		},
		caps:       caps,
		rng:        rand.New(rand.NewSource(cfg.Seed)),
		nextHandle: 1,
		models:     make(map[ModelHandle]*loadedModel),
		byPath:     make(map[string]ModelHandle),
		allocs:     make(map[MemoryHandle]uint64),
		tempC:      defaultIdleTempC,
		powerW:     caps.TDPWatts * 0.1,
	}
}

func (d *MockDriver) Init() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Re-init is a no-op.
	d.initialized = true
	return nil
}

func (d *MockDriver) Shutdown() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.initialized = false
	d.models = make(map[ModelHandle]*loadedModel)
	d.byPath = make(map[string]ModelHandle)
	d.allocs = make(map[MemoryHandle]uint64)
	d.usedBytes = 0
	return nil
}

func (d *MockDriver) Info() types.DeviceInfo          { return d.info }
func (d *MockDriver) Capabilities() types.Capabilities { return d.caps }

func (d *MockDriver) LoadModel(path string) (ModelHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if h, ok := d.byPath[path]; ok {
		d.models[h].refs++
		return h, nil
	}
	if d.cfg.Catalog == nil {
		return 0, ErrModelNotFound(path)
	}
	model, ok := d.cfg.Catalog(path)
	if !ok {
		return 0, ErrModelNotFound(path)
	}
	if !d.caps.SupportsFormat(model.Format) {
		return 0, ErrFormatUnsupported(model.Format)
	}
	free := d.caps.AvailableMemoryBytes - d.usedBytes
	if model.SizeBytes > free {
		return 0, ErrOutOfMemory(model.SizeBytes, free)
	}
	h := ModelHandle(d.nextHandle)
	d.nextHandle++
	d.models[h] = &loadedModel{handle: h, path: path, bytes: model.SizeBytes, refs: 1}
	d.byPath[path] = h
	d.usedBytes += model.SizeBytes
	return h, nil
}

func (d *MockDriver) UnloadModel(h ModelHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	m, ok := d.models[h]
	if !ok {
		return ErrInvalidHandle(fmt.Sprintf("model %d", h))
	}
	m.refs--
	if m.refs > 0 {
		return nil
	}
	delete(d.models, h)
	delete(d.byPath, m.path)
	d.usedBytes -= m.bytes
	return nil
}

func (d *MockDriver) RunInference(ctx context.Context, h ModelHandle, inputs []types.Tensor) ([]types.Tensor, error) {
	d.mu.Lock()
	if _, ok := d.models[h]; !ok {
		d.mu.Unlock()
		return nil, ErrInvalidHandle(fmt.Sprintf("model %d", h))
	}
	if err := validateInputs(inputs, d.caps); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if !d.caps.ConcurrentInference && d.inflight > 0 {
		d.mu.Unlock()
		return nil, ErrDeviceBusy(d.info.ID)
	}
	if d.roll(d.cfg.FailBusyRate) {
		d.mu.Unlock()
		return nil, ErrDeviceBusy(d.info.ID)
	}
	if d.roll(d.cfg.FailOOMRate) {
		free := d.caps.AvailableMemoryBytes - d.usedBytes
		d.mu.Unlock()
		return nil, ErrOutOfMemory(inputBytes(inputs), free)
	}
	latency := d.simLatency(inputBytes(inputs))
	if d.roll(d.cfg.FailTimeoutRate) {
		d.mu.Unlock()
		return nil, ErrTimeout("injected inference timeout")
	}
	d.inflight++
	d.mu.Unlock()

	defer func() {
		d.mu.Lock()
		d.inflight--
		d.mu.Unlock()
	}()

	timer := time.NewTimer(latency)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		if ctx.Err() == context.DeadlineExceeded {
			return nil, ErrTimeout("inference deadline exceeded")
		}
		return nil, ctx.Err()
	}

	// Echo inputs back as outputs; enough for round-trip assertions.
	outputs := make([]types.Tensor, len(inputs))
	copy(outputs, inputs)
	return outputs, nil
}

func (d *MockDriver) AllocateMemory(bytes uint64) (MemoryHandle, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	free := d.caps.AvailableMemoryBytes - d.usedBytes
	if bytes > free {
		return 0, ErrOutOfMemory(bytes, free)
	}
	h := MemoryHandle(d.nextHandle)
	d.nextHandle++
	d.allocs[h] = bytes
	d.usedBytes += bytes
	return h, nil
}

func (d *MockDriver) FreeMemory(h MemoryHandle) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	bytes, ok := d.allocs[h]
	if !ok {
		return ErrInvalidHandle(fmt.Sprintf("memory %d", h))
	}
	delete(d.allocs, h)
	d.usedBytes -= bytes
	return nil
}

// Health advances the thermal simulation one drift step toward the
// utilization-dependent target and returns the snapshot.
func (d *MockDriver) Health() types.Health {
	d.mu.Lock()
	defer d.mu.Unlock()
	util := d.utilizationLocked()
	targetTemp := defaultIdleTempC + util*(defaultMaxTempC-defaultIdleTempC)
	targetPower := d.caps.TDPWatts * (0.1 + 0.9*util)
	d.tempC += (targetTemp - d.tempC) * driftFactor
	d.powerW += (targetPower - d.powerW) * driftFactor
	return types.Health{
		Healthy:        d.tempC < defaultMaxTempC,
		TemperatureC:   d.tempC,
		PowerDrawWatts: d.powerW,
		LastCheck:      time.Now(),
		StatusMessage:  "simulated",
	}
}

func (d *MockDriver) Utilization() float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.utilizationLocked()
}

func (d *MockDriver) utilizationLocked() float64 {
	slots := 1
	if d.caps.ConcurrentInference {
		slots = 4
	}
	util := float64(d.inflight) / float64(slots)
	if util > 1 {
		util = 1
	}
	return util
}

// UsedBytes exposes the simulated memory ledger for tests.
func (d *MockDriver) UsedBytes() uint64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.usedBytes
}

// simLatency models execution time as a base cost plus a size-dependent
// term scaled by the device's TOPS rating.
func (d *MockDriver) simLatency(bytes uint64) time.Duration {
	tops := d.caps.PeakTOPS
	if tops <= 0 {
		tops = 1
	}
	micros := float64(bytes) / (tops * 1000)
	return d.cfg.BaseLatency + time.Duration(micros*float64(time.Microsecond))
}

// roll draws from the seeded RNG; callers hold d.mu.
func (d *MockDriver) roll(rate float64) bool {
	if rate <= 0 {
		return false
	}
	return d.rng.Float64() < rate
}

func inputBytes(inputs []types.Tensor) uint64 {
	var n uint64
	for _, t := range inputs {
		n += uint64(len(t.Data))
	}
	return n
}

func validateInputs(inputs []types.Tensor, caps types.Capabilities) error {
	if len(inputs) == 0 {
		return ErrInvalidShape("no input tensors")
	}
	for i, t := range inputs {
		if len(t.Shape) == 0 {
			return ErrInvalidShape(fmt.Sprintf("input %d has empty shape", i))
		}
		want := t.Elements() * int64(t.DataType.SizeBytes())
		if int64(len(t.Data)) != want {
			return ErrInvalidShape(fmt.Sprintf("input %d: %d data bytes for shape implying %d", i, len(t.Data), want))
		}
		if caps.MaxBatchSize > 0 && t.Shape[0] > int64(caps.MaxBatchSize) {
			return ErrInvalidShape(fmt.Sprintf("input %d: batch %d exceeds max %d", i, t.Shape[0], caps.MaxBatchSize))
		}
	}
	return nil
}
