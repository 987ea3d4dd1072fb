// Package hal defines the driver contract concrete accelerator backends
// implement, the shared error taxonomy, and a deterministic mock backend.
// The scheduler and allocator above this package never see a concrete
// driver type, only the Driver interface.
package hal

import (
	"context"
	"sort"

	"npud/pkg/types"
)

// ModelHandle is an opaque token for a model loaded on one device. Handles
// are reference counted by the driver: each LoadModel of the same path
// returns the same handle with an incremented count, and the model is
// physically unloaded only when the count drops to zero.
type ModelHandle uint64

// MemoryHandle is an opaque token for a raw device memory allocation.
type MemoryHandle uint64

// Driver is the low-level contract one accelerator device exposes. All
// methods are safe for concurrent use; RunInference honors ctx cancellation
// on a best-effort basis.
type Driver interface {
	// Init prepares the device. It is idempotent: calling it on an
	// already-initialized driver is a no-op, not an error.
	Init() error
	// Shutdown releases driver resources. Loaded models and allocations
	// are dropped.
	Shutdown() error

	// Info returns the static identity of the device.
	Info() types.DeviceInfo
	// Capabilities returns the immutable capability description.
	Capabilities() types.Capabilities

	// LoadModel resolves path and loads the model into device memory.
	// Fails with ModelNotFound, FormatUnsupported, or OutOfMemory.
	LoadModel(path string) (ModelHandle, error)
	// UnloadModel decrements the handle's reference count and unloads at
	// zero. Fails with InvalidHandle for an unknown handle.
	UnloadModel(h ModelHandle) error

	// RunInference executes the model against inputs. Fails with
	// InvalidShape, DeviceBusy, or Timeout.
	RunInference(ctx context.Context, h ModelHandle, inputs []types.Tensor) ([]types.Tensor, error)

	// AllocateMemory reserves raw device memory. Fails with OutOfMemory.
	AllocateMemory(bytes uint64) (MemoryHandle, error)
	// FreeMemory releases an allocation. Freeing an unknown or
	// already-freed handle fails with InvalidHandle and never mutates the
	// ledger.
	FreeMemory(h MemoryHandle) error

	// Health returns a non-blocking health snapshot.
	Health() types.Health
	// Utilization returns current compute utilization in [0,1].
	Utilization() float64
}

// Backend discovers the drivers of one accelerator family. A discovery
// failure in one backend must not prevent other backends from being tried;
// the manager logs and skips it.
type Backend interface {
	// Name identifies the backend for logging.
	Name() string
	// Discover probes hardware and returns one Driver per device found.
	// Fails with InitFailure when the backend cannot probe at all.
	Discover() ([]Driver, error)
}

// SortDrivers orders drivers by fixed device-type preference: specialized
// accelerator, then general-purpose GPU, then CPU fallback. The sort is
// stable so devices of the same rank keep discovery order.
func SortDrivers(drivers []Driver) {
	sort.SliceStable(drivers, func(i, j int) bool {
		return drivers[i].Info().Type.DispatchRank() < drivers[j].Info().Type.DispatchRank()
	})
}
