package manager

import (
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"npud/internal/hal"
	"npud/pkg/types"
)

// Allocation records one admitted reservation against a device ledger.
// Its lifetime is bound to the owning task: created at reservation, released
// by exactly one of completion, failure, cancellation, or timeout — but
// Release is idempotent so cleanup paths may call it defensively.
type Allocation struct {
	Device   *Device
	Spec     types.ResourceSpec
	Deadline time.Time

	released bool // guarded by Device.mu
}

// Allocator is the sole authority for admitting or rejecting reservations.
// Reserve and Release are atomic check-then-commit under the device's
// exclusive section; two concurrent Reserve calls against one device can
// never interleave into an over-commit.
type Allocator struct {
	// onFatal is invoked when a ledger invariant is found violated.
	onFatal func(error)
}

// NewAllocator builds an Allocator. onFatal may be nil.
func NewAllocator(onFatal func(error)) *Allocator {
	if onFatal == nil {
		onFatal = func(error) {}
	}
	return &Allocator{onFatal: onFatal}
}

// Reserve admits spec against d or rejects it without mutating the ledger.
// Compute-unit matching is exact by kind; memory exhaustion returns
// OutOfMemory, a missing unit kind or power over-commit returns
// ResourceUnavailable.
func (a *Allocator) Reserve(d *Device, spec types.ResourceSpec, deadline time.Time) (*Allocation, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, unit := range spec.ComputeUnits {
		if d.caps.CoreCounts[unit] <= 0 {
			return nil, hal.ErrResourceUnavailable(
				fmt.Sprintf("device %s has no %s units", d.info.ID, unit))
		}
	}
	free := d.caps.AvailableMemoryBytes - d.reservedMem
	if spec.MemoryBytes > free {
		return nil, hal.ErrOutOfMemory(spec.MemoryBytes, free)
	}
	if d.caps.TDPWatts > 0 && d.reservedPower+spec.PowerBudgetWatts > d.caps.TDPWatts {
		return nil, hal.ErrResourceUnavailable(
			fmt.Sprintf("device %s power budget exhausted (%.1fW reserved of %.1fW)",
				d.info.ID, d.reservedPower, d.caps.TDPWatts))
	}

	d.reservedMem += spec.MemoryBytes
	d.reservedPower += spec.PowerBudgetWatts
	if err := a.checkLedgerLocked(d); err != nil {
		// Roll back the commit that broke the invariant.
		d.reservedMem -= spec.MemoryBytes
		d.reservedPower -= spec.PowerBudgetWatts
		return nil, err
	}
	return &Allocation{Device: d, Spec: spec, Deadline: deadline}, nil
}

// Release returns the allocation's resources to the device ledger. A second
// release of the same allocation is a no-op.
func (a *Allocator) Release(alloc *Allocation) {
	if alloc == nil {
		return
	}
	d := alloc.Device
	d.mu.Lock()
	defer d.mu.Unlock()
	if alloc.released {
		return
	}
	alloc.released = true
	if alloc.Spec.MemoryBytes > d.reservedMem || alloc.Spec.PowerBudgetWatts > d.reservedPower+1e-9 {
		err := hal.ErrInternalInconsistency(
			fmt.Sprintf("release of %d bytes exceeds %d reserved on %s",
				alloc.Spec.MemoryBytes, d.reservedMem, d.info.ID))
		log.Error().Err(err).Str("device", string(d.info.ID)).Msg("ledger invariant violated")
		a.onFatal(err)
		d.reservedMem = 0
		d.reservedPower = 0
		return
	}
	d.reservedMem -= alloc.Spec.MemoryBytes
	d.reservedPower -= alloc.Spec.PowerBudgetWatts
	reservedMemoryBytes.WithLabelValues(string(d.info.ID)).Set(float64(d.reservedMem))
	reservedPowerWatts.WithLabelValues(string(d.info.ID)).Set(d.reservedPower)
}

// checkLedgerLocked verifies the post-commit invariants; callers hold d.mu.
func (a *Allocator) checkLedgerLocked(d *Device) error {
	if d.reservedMem > d.caps.AvailableMemoryBytes {
		err := hal.ErrInternalInconsistency(
			fmt.Sprintf("device %s reserved %d bytes of %d available",
				d.info.ID, d.reservedMem, d.caps.AvailableMemoryBytes))
		log.Error().Err(err).Str("device", string(d.info.ID)).Msg("ledger invariant violated")
		a.onFatal(err)
		return err
	}
	if d.caps.TDPWatts > 0 && d.reservedPower > d.caps.TDPWatts+1e-9 {
		err := hal.ErrInternalInconsistency(
			fmt.Sprintf("device %s reserved %.1fW of %.1fW TDP",
				d.info.ID, d.reservedPower, d.caps.TDPWatts))
		log.Error().Err(err).Str("device", string(d.info.ID)).Msg("ledger invariant violated")
		a.onFatal(err)
		return err
	}
	reservedMemoryBytes.WithLabelValues(string(d.info.ID)).Set(float64(d.reservedMem))
	reservedPowerWatts.WithLabelValues(string(d.info.ID)).Set(d.reservedPower)
	return nil
}
