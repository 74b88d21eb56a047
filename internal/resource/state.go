// Package resource implements the monotonic lifecycle every worker,
// pipeline instance, segment instance, and manifold instance carries.
package resource

import (
	"errors"
	"fmt"
	"slices"
)

// Status is a point in the resource lifecycle. The zero value is not a
// valid status; entities are created directly at StatusRegistered.
type Status uint8

const (
	StatusRegistered Status = iota + 1
	StatusActivated
	StatusReady
	StatusRunning
	StatusCompleted
	StatusStopped
	StatusDestroyed
)

func (s Status) String() string {
	switch s {
	case StatusRegistered:
		return "Registered"
	case StatusActivated:
		return "Activated"
	case StatusReady:
		return "Ready"
	case StatusRunning:
		return "Running"
	case StatusCompleted:
		return "Completed"
	case StatusStopped:
		return "Stopped"
	case StatusDestroyed:
		return "Destroyed"
	default:
		return "Unknown"
	}
}

// ErrInvalidTransition is returned by UpdateStatus when the requested
// status would move an entity backwards in the lifecycle.
var ErrInvalidTransition = errors.New("invalid state transition")

// ErrPrematureRemoval is returned when removal is attempted on an entity
// that has not reached StatusDestroyed.
var ErrPrematureRemoval = errors.New("premature removal")

// State is the resource state carried by every non-definition entity.
type State struct {
	Status   Status
	RefCount int
}

// NewState returns a freshly Registered state.
func NewState() State {
	return State{Status: StatusRegistered}
}

// order lists, for every status, the statuses reachable in one
// UpdateStatus call — every status at or after it in the total order,
// itself included (updateStatus is a no-op success when new == current).
var order = []Status{
	StatusRegistered,
	StatusActivated,
	StatusReady,
	StatusRunning,
	StatusCompleted,
	StatusStopped,
	StatusDestroyed,
}

func reachable(from Status) []Status {
	idx := slices.Index(order, from)
	if idx < 0 {
		return nil
	}

	return order[idx:]
}

// UpdateStatus applies the monotonic transition rule: it fails with
// ErrInvalidTransition unless new >= current.
func (s *State) UpdateStatus(new Status) error {
	allowed := reachable(s.Status)
	if !slices.Contains(allowed, new) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, s.Status, new)
	}

	s.Status = new

	return nil
}

// CanRemove reports whether the entity has reached StatusDestroyed and
// may be removed from the store.
func (s State) CanRemove() error {
	if s.Status != StatusDestroyed {
		return fmt.Errorf("%w: status is %s, want %s", ErrPrematureRemoval, s.Status, StatusDestroyed)
	}

	return nil
}
