package vm

import (
	"errors"
	"fmt"

	"gitlab.com/glidex/control-plane/models"
)

var (
	// ErrNotFound means no live record matches the given ID or name.
	ErrNotFound = errors.New("vm not found")
	// ErrDuplicateName means a live record already uses the requested name.
	ErrDuplicateName = errors.New("vm name already in use")
	// ErrConsoleUnavailable means a live console attach was requested for a
	// VM that has no running process.
	ErrConsoleUnavailable = errors.New("vm console unavailable: not running")
)

// InvalidConfigError rejects a create request whose configuration cannot
// possibly boot.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid vm config: %s", e.Reason)
}

// InvalidTransitionError rejects a lifecycle request that the state machine
// does not allow from the record's current state. No mutation happened.
type InvalidTransitionError struct {
	Name      string
	Current   models.VMState
	Requested string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("vm %s: cannot %s from state %s", e.Name, e.Requested, e.Current)
}
