package manager

import (
	"errors"

	"npud/pkg/types"
)

// unknownTaskError signals an id that was never submitted or has been reaped.
type unknownTaskError struct{ id types.TaskID }

func (e unknownTaskError) Error() string { return "unknown task: " + string(e.id) }

// ErrUnknownTask constructs an unknownTaskError.
func ErrUnknownTask(id types.TaskID) error { return unknownTaskError{id: id} }

// IsUnknownTask reports whether err indicates a missing task id.
func IsUnknownTask(err error) bool {
	var e unknownTaskError
	return errors.As(err, &e)
}

// alreadyTerminalError signals a cancel against a task that already finished.
type alreadyTerminalError struct {
	id    types.TaskID
	state types.TaskState
}

func (e alreadyTerminalError) Error() string {
	return "task " + string(e.id) + " already " + string(e.state)
}

func ErrAlreadyTerminal(id types.TaskID, state types.TaskState) error {
	return alreadyTerminalError{id: id, state: state}
}

// IsAlreadyTerminal reports whether err indicates a no-op cancel.
func IsAlreadyTerminal(err error) bool {
	var e alreadyTerminalError
	return errors.As(err, &e)
}

// invalidTaskError signals malformed submission input (unknown priority,
// zero timeout) for 400 mapping.
type invalidTaskError struct{ msg string }

func (e invalidTaskError) Error() string { return "invalid task: " + e.msg }

func ErrInvalidTask(msg string) error { return invalidTaskError{msg: msg} }

func IsInvalidTask(err error) bool {
	var e invalidTaskError
	return errors.As(err, &e)
}
