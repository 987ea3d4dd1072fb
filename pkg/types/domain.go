package types

import "time"

// DeviceID uniquely identifies a registered accelerator device.
type DeviceID string

func (id DeviceID) String() string { return string(id) }

// TaskID uniquely identifies a submitted inference task.
type TaskID string

func (id TaskID) String() string { return string(id) }

// AgentID identifies the agent that submitted a task.
type AgentID string

// DeviceType tags the accelerator family behind a driver.
type DeviceType string

const (
	DeviceAppleNeuralEngine DeviceType = "apple_neural_engine"
	DeviceIntelNPU          DeviceType = "intel_npu"
	DeviceNvidiaGPU         DeviceType = "nvidia_gpu"
	DeviceAmdGPU            DeviceType = "amd_gpu"
	DeviceQualcommHexagon   DeviceType = "qualcomm_hexagon"
	DeviceGoogleEdgeTPU     DeviceType = "google_edge_tpu"
	DeviceCPUFallback       DeviceType = "cpu"
	DeviceMock              DeviceType = "mock"
)

// DispatchRank orders device types by discovery preference: specialized
// accelerators first, general-purpose GPUs next, CPU fallback last.
func (t DeviceType) DispatchRank() int {
	switch t {
	case DeviceAppleNeuralEngine, DeviceIntelNPU, DeviceQualcommHexagon, DeviceGoogleEdgeTPU:
		return 0
	case DeviceNvidiaGPU, DeviceAmdGPU:
		return 1
	case DeviceMock:
		return 2
	case DeviceCPUFallback:
		return 3
	default:
		return 2
	}
}

// MemoryType describes how device memory is attached.
type MemoryType string

const (
	MemoryUnified   MemoryType = "unified"
	MemoryDedicated MemoryType = "dedicated"
	MemoryHBM       MemoryType = "hbm"
	MemorySystemRAM MemoryType = "system_ram"
)

// DataType enumerates tensor element types a device may support.
type DataType string

const (
	Float32  DataType = "float32"
	Float16  DataType = "float16"
	BFloat16 DataType = "bfloat16"
	Int8     DataType = "int8"
	Int16    DataType = "int16"
	Int32    DataType = "int32"
	UInt8    DataType = "uint8"
)

// SizeBytes returns the element width in bytes.
func (d DataType) SizeBytes() int {
	switch d {
	case Float32, Int32:
		return 4
	case Float16, BFloat16, Int16:
		return 2
	default:
		return 1
	}
}

// ComputeUnit identifies a kind of execution unit on a device.
type ComputeUnit string

const (
	TensorCore        ComputeUnit = "tensor_core"
	VectorCore        ComputeUnit = "vector_core"
	ScalarCore        ComputeUnit = "scalar_core"
	CustomAccelerator ComputeUnit = "custom_accelerator"
)

// ModelFormat enumerates supported model container formats.
type ModelFormat string

const (
	FormatONNX       ModelFormat = "onnx"
	FormatTensorFlow ModelFormat = "tensorflow"
	FormatPyTorch    ModelFormat = "pytorch"
	FormatCoreML     ModelFormat = "coreml"
	FormatTFLite     ModelFormat = "tflite"
	FormatOpenVINO   ModelFormat = "openvino"
)

// Capabilities is the immutable capability description of one device,
// fixed at registration time.
type Capabilities struct {
	// Maximum batch size accepted by the device.
	MaxBatchSize int `json:"max_batch_size" yaml:"max_batch_size" toml:"max_batch_size"`
	// Execution unit kinds present on the device with their core counts.
	CoreCounts map[ComputeUnit]int `json:"core_counts" yaml:"core_counts" toml:"core_counts"`
	// Tensor element types the device can execute.
	DataTypes []DataType `json:"data_types" yaml:"data_types" toml:"data_types"`
	// Model container formats the device can load.
	Formats []ModelFormat `json:"formats" yaml:"formats" toml:"formats"`
	// Total device memory in bytes.
	TotalMemoryBytes uint64 `json:"total_memory_bytes" yaml:"total_memory_bytes" toml:"total_memory_bytes"`
	// Memory available for task allocations (total minus firmware reserve).
	AvailableMemoryBytes uint64 `json:"available_memory_bytes" yaml:"available_memory_bytes" toml:"available_memory_bytes"`
	// How device memory is attached.
	MemoryType MemoryType `json:"memory_type" yaml:"memory_type" toml:"memory_type"`
	// Memory bandwidth in GB/s.
	MemoryBandwidthGBps float64 `json:"memory_bandwidth_gbps" yaml:"memory_bandwidth_gbps" toml:"memory_bandwidth_gbps"`
	// Peak throughput in tera-operations per second.
	PeakTOPS float64 `json:"peak_tops" yaml:"peak_tops" toml:"peak_tops"`
	// Sustained throughput under thermal constraints.
	SustainedTOPS float64 `json:"sustained_tops" yaml:"sustained_tops" toml:"sustained_tops"`
	// Thermal design power in watts; also the power-budget ceiling for allocations.
	TDPWatts float64 `json:"tdp_watts" yaml:"tdp_watts" toml:"tdp_watts"`
	// Whether the device can run more than one inference at a time.
	ConcurrentInference bool `json:"concurrent_inference" yaml:"concurrent_inference" toml:"concurrent_inference"`
}

// SupportsDataType reports whether dt is in the capability set.
func (c Capabilities) SupportsDataType(dt DataType) bool {
	for _, d := range c.DataTypes {
		if d == dt {
			return true
		}
	}
	return false
}

// SupportsFormat reports whether f is in the capability set.
func (c Capabilities) SupportsFormat(f ModelFormat) bool {
	for _, have := range c.Formats {
		if have == f {
			return true
		}
	}
	return false
}

// HasComputeUnit reports whether the device has at least one core of kind u.
func (c Capabilities) HasComputeUnit(u ComputeUnit) bool {
	return c.CoreCounts[u] > 0
}

// Health is a point-in-time device health snapshot.
type Health struct {
	Healthy        bool      `json:"healthy"`
	TemperatureC   float64   `json:"temperature_c"`
	PowerDrawWatts float64   `json:"power_draw_watts"`
	MemoryErrors   uint64    `json:"memory_errors"`
	ComputeErrors  uint64    `json:"compute_errors"`
	LastCheck      time.Time `json:"last_check"`
	StatusMessage  string    `json:"status_message,omitempty"`
}

// DeviceInfo is the static identity of a device.
type DeviceInfo struct {
	ID            DeviceID   `json:"id"`
	Name          string     `json:"name"`
	Type          DeviceType `json:"type"`
	Vendor        string     `json:"vendor,omitempty"`
	DriverVersion string     `json:"driver_version,omitempty"`
}

// Model describes one entry in the on-disk model catalog.
type Model struct {
	// Stable identifier (the file name).
	ID string `json:"id"`
	// Absolute path to the model file on disk.
	Path string `json:"path"`
	// Container format inferred from the file extension.
	Format ModelFormat `json:"format"`
	// File size in bytes; used as the device memory footprint on load.
	SizeBytes uint64 `json:"size_bytes"`
}
