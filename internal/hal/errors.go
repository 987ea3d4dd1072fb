package hal

import (
	"errors"
	"fmt"

	"npud/pkg/types"
)

// initFailureError signals that a backend could not probe its hardware.
type initFailureError struct{ backend, msg string }

func (e initFailureError) Error() string {
	return fmt.Sprintf("init failure (%s): %s", e.backend, e.msg)
}

// ErrInitFailure constructs an initFailureError for a backend.
func ErrInitFailure(backend, msg string) error { return initFailureError{backend: backend, msg: msg} }

// IsInitFailure reports whether err indicates backend initialization failure.
func IsInitFailure(err error) bool {
	var e initFailureError
	return errors.As(err, &e)
}

type deviceNotFoundError struct{ id types.DeviceID }

func (e deviceNotFoundError) Error() string { return "device not found: " + string(e.id) }

func ErrDeviceNotFound(id types.DeviceID) error { return deviceNotFoundError{id: id} }

func IsDeviceNotFound(err error) bool {
	var e deviceNotFoundError
	return errors.As(err, &e)
}

type modelNotFoundError struct{ path string }

func (e modelNotFoundError) Error() string { return "model not found: " + e.path }

func ErrModelNotFound(path string) error { return modelNotFoundError{path: path} }

func IsModelNotFound(err error) bool {
	var e modelNotFoundError
	return errors.As(err, &e)
}

type formatUnsupportedError struct{ format types.ModelFormat }

func (e formatUnsupportedError) Error() string {
	return "model format unsupported: " + string(e.format)
}

func ErrFormatUnsupported(f types.ModelFormat) error { return formatUnsupportedError{format: f} }

func IsFormatUnsupported(err error) bool {
	var e formatUnsupportedError
	return errors.As(err, &e)
}

// outOfMemoryError signals that a device cannot satisfy a memory request.
type outOfMemoryError struct {
	requested uint64
	free      uint64
}

func (e outOfMemoryError) Error() string {
	return fmt.Sprintf("out of memory: requested %d bytes, %d free", e.requested, e.free)
}

func ErrOutOfMemory(requested, free uint64) error {
	return outOfMemoryError{requested: requested, free: free}
}

func IsOutOfMemory(err error) bool {
	var e outOfMemoryError
	return errors.As(err, &e)
}

type invalidHandleError struct{ what string }

func (e invalidHandleError) Error() string { return "invalid handle: " + e.what }

func ErrInvalidHandle(what string) error { return invalidHandleError{what: what} }

func IsInvalidHandle(err error) bool {
	var e invalidHandleError
	return errors.As(err, &e)
}

type invalidShapeError struct{ msg string }

func (e invalidShapeError) Error() string { return "invalid input shape: " + e.msg }

func ErrInvalidShape(msg string) error { return invalidShapeError{msg: msg} }

func IsInvalidShape(err error) bool {
	var e invalidShapeError
	return errors.As(err, &e)
}

// deviceBusyError signals that no execution slot is free on a device that
// does not allow concurrent inference.
type deviceBusyError struct{ id types.DeviceID }

func (e deviceBusyError) Error() string { return "device busy: " + string(e.id) }

func ErrDeviceBusy(id types.DeviceID) error { return deviceBusyError{id: id} }

func IsDeviceBusy(err error) bool {
	var e deviceBusyError
	return errors.As(err, &e)
}

// resourceUnavailableError signals a reservation that cannot be admitted for
// a reason other than memory, e.g. a missing compute unit kind.
type resourceUnavailableError struct{ msg string }

func (e resourceUnavailableError) Error() string { return "resource unavailable: " + e.msg }

func ErrResourceUnavailable(msg string) error { return resourceUnavailableError{msg: msg} }

func IsResourceUnavailable(err error) bool {
	var e resourceUnavailableError
	return errors.As(err, &e)
}

type timeoutError struct{ msg string }

func (e timeoutError) Error() string { return "timeout: " + e.msg }

func ErrTimeout(msg string) error { return timeoutError{msg: msg} }

func IsTimeout(err error) bool {
	var e timeoutError
	return errors.As(err, &e)
}

type cancelledError struct{ id types.TaskID }

func (e cancelledError) Error() string { return "cancelled: " + string(e.id) }

func ErrCancelled(id types.TaskID) error { return cancelledError{id: id} }

func IsCancelled(err error) bool {
	var e cancelledError
	return errors.As(err, &e)
}

// internalInconsistencyError marks a broken ledger invariant. It is never
// retried; the manager treats it as fatal.
type internalInconsistencyError struct{ msg string }

func (e internalInconsistencyError) Error() string { return "internal inconsistency: " + e.msg }

func ErrInternalInconsistency(msg string) error { return internalInconsistencyError{msg: msg} }

func IsInternalInconsistency(err error) bool {
	var e internalInconsistencyError
	return errors.As(err, &e)
}
