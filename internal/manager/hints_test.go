package manager

import (
	"testing"
	"time"

	"npud/internal/hal"
	"npud/pkg/types"
)

func hintDevice(t *testing.T, id types.DeviceID, mutate func(*types.Capabilities)) *Device {
	t.Helper()
	caps := hal.DefaultMockCapabilities()
	if mutate != nil {
		mutate(&caps)
	}
	drv := hal.NewMockDriver(hal.MockConfig{ID: id, Capabilities: caps})
	if err := drv.Init(); err != nil {
		t.Fatalf("Init: %v", err)
	}
	return newDevice(drv)
}

func hintScheduler(devs ...*Device) *Scheduler {
	return newScheduler(Config{}.withDefaults(), NewAllocator(nil), func() []*Device { return devs })
}

func hintTask(hints types.SchedulingHints, res types.ResourceSpec) *task {
	return newTask("t", echoRequest(time.Minute), types.PriorityNormal, res, hints, Config{}.withDefaults())
}

func candidateIDs(devs []*Device) []types.DeviceID {
	out := make([]types.DeviceID, len(devs))
	for i, d := range devs {
		out[i] = d.ID()
	}
	return out
}

func TestCandidatesHardConstraints(t *testing.T) {
	unified := hintDevice(t, "unified-0", nil)
	hbm := hintDevice(t, "hbm-0", func(c *types.Capabilities) { c.MemoryType = types.MemoryHBM })
	s := hintScheduler(unified, hbm)

	// avoid_devices is absolute: it survives every relaxation pass.
	got := s.candidates(hintTask(types.SchedulingHints{
		AvoidDevices: []types.DeviceID{"unified-0", "hbm-0"},
	}, types.ResourceSpec{}))
	if len(got) != 0 {
		t.Fatalf("avoided devices still offered: %v", candidateIDs(got))
	}

	// required_memory_type filters before any soft hint is considered.
	got = s.candidates(hintTask(types.SchedulingHints{
		RequiredMemoryType: types.MemoryHBM,
	}, types.ResourceSpec{}))
	if len(got) != 1 || got[0].ID() != "hbm-0" {
		t.Fatalf("HBM filter gave %v, want [hbm-0]", candidateIDs(got))
	}
	got = s.candidates(hintTask(types.SchedulingHints{
		RequiredMemoryType: types.MemoryDedicated,
	}, types.ResourceSpec{}))
	if len(got) != 0 {
		t.Fatalf("unsatisfiable memory type gave %v", candidateIDs(got))
	}
}

func TestCandidatesCapabilityFilters(t *testing.T) {
	vectorOnly := hintDevice(t, "vec-0", func(c *types.Capabilities) {
		c.CoreCounts = map[types.ComputeUnit]int{types.VectorCore: 4}
	})
	full := hintDevice(t, "full-0", nil)
	s := hintScheduler(vectorOnly, full)

	got := s.candidates(hintTask(types.SchedulingHints{}, types.ResourceSpec{
		ComputeUnits: []types.ComputeUnit{types.TensorCore},
	}))
	if len(got) != 1 || got[0].ID() != "full-0" {
		t.Fatalf("tensor-core demand gave %v, want [full-0]", candidateIDs(got))
	}
}

func TestCandidatesRelaxLatencyBeforeTOPS(t *testing.T) {
	// fast fails the latency estimate but meets min_tops; slow is the
	// opposite. The first relaxation pass drops max_latency, so fast wins.
	fast := hintDevice(t, "fast-0", func(c *types.Capabilities) { c.PeakTOPS = 50 })
	slow := hintDevice(t, "slow-0", func(c *types.Capabilities) { c.PeakTOPS = 1 })
	s := hintScheduler(fast, slow)

	tk := hintTask(types.SchedulingHints{
		MinTOPS:    10,
		MaxLatency: time.Nanosecond,
	}, types.ResourceSpec{})
	// Large enough that the estimate exceeds max_latency on every device.
	tk.req.Inputs = []types.Tensor{{
		Shape:    []int64{1, 262144},
		DataType: types.Float32,
		Data:     make([]byte, 1<<20),
	}}
	got := s.candidates(tk)
	if len(got) != 1 || got[0].ID() != "fast-0" {
		t.Fatalf("candidates = %v, want [fast-0]", candidateIDs(got))
	}
}

func TestCandidatesRelaxTOPSBeforePreferred(t *testing.T) {
	// preferred meets no soft hint but preferred_devices; other meets
	// min_tops only. min_tops relaxes before preferred_devices, so the
	// preferred slow device wins over the fast non-preferred one.
	preferred := hintDevice(t, "pref-0", func(c *types.Capabilities) { c.PeakTOPS = 1 })
	other := hintDevice(t, "other-0", func(c *types.Capabilities) { c.PeakTOPS = 100 })
	s := hintScheduler(preferred, other)

	tk := hintTask(types.SchedulingHints{
		PreferredDevices: []types.DeviceID{"pref-0"},
		MinTOPS:          50,
	}, types.ResourceSpec{})
	got := s.candidates(tk)
	if len(got) != 1 || got[0].ID() != "pref-0" {
		t.Fatalf("candidates = %v, want [pref-0]", candidateIDs(got))
	}
}

func TestCandidatesRelaxPreferredLast(t *testing.T) {
	// When even the preferred set is empty the task still gets a device.
	only := hintDevice(t, "only-0", nil)
	s := hintScheduler(only)

	tk := hintTask(types.SchedulingHints{
		PreferredDevices: []types.DeviceID{"gone-0"},
	}, types.ResourceSpec{})
	got := s.candidates(tk)
	if len(got) != 1 || got[0].ID() != "only-0" {
		t.Fatalf("candidates = %v, want [only-0]", candidateIDs(got))
	}
}

func TestCandidatesRankByFreeMemory(t *testing.T) {
	small := hintDevice(t, "small-0", func(c *types.Capabilities) {
		c.TotalMemoryBytes = 1 << 30
		c.AvailableMemoryBytes = 1 << 30
	})
	large := hintDevice(t, "large-0", func(c *types.Capabilities) {
		c.TotalMemoryBytes = 8 << 30
		c.AvailableMemoryBytes = 8 << 30
	})
	s := hintScheduler(small, large)

	got := s.candidates(hintTask(types.SchedulingHints{}, types.ResourceSpec{}))
	if len(got) != 2 || got[0].ID() != "large-0" {
		t.Fatalf("ranking = %v, want large-0 first", candidateIDs(got))
	}

	// Reserving most of the large device flips the order.
	alloc, err := s.alloc.Reserve(large, types.ResourceSpec{MemoryBytes: (8 << 30) - (1 << 20)}, time.Now().Add(time.Minute))
	if err != nil {
		t.Fatalf("Reserve: %v", err)
	}
	defer s.alloc.Release(alloc)
	got = s.candidates(hintTask(types.SchedulingHints{}, types.ResourceSpec{}))
	if len(got) != 2 || got[0].ID() != "small-0" {
		t.Fatalf("ranking = %v, want small-0 first", candidateIDs(got))
	}
}

func TestCandidatesSkipBusySerializedDevice(t *testing.T) {
	serialized := hintDevice(t, "serial-0", func(c *types.Capabilities) { c.ConcurrentInference = false })
	s := hintScheduler(serialized)

	if got := s.candidates(hintTask(types.SchedulingHints{}, types.ResourceSpec{})); len(got) != 1 {
		t.Fatalf("idle serialized device not offered: %v", candidateIDs(got))
	}
	serialized.beginTask()
	defer serialized.endTask()
	if got := s.candidates(hintTask(types.SchedulingHints{}, types.ResourceSpec{})); len(got) != 0 {
		t.Fatalf("busy serialized device offered: %v", candidateIDs(got))
	}
}
