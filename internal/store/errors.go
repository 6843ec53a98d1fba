package store

import "errors"

var (
	// ErrNotFound is returned when a lore entry or session note does not exist.
	ErrNotFound = errors.New("not found")

	// ErrTaskNotFound is returned when a task id does not exist in its queue.
	ErrTaskNotFound = errors.New("task not found")

	// ErrNoEligibleTask is returned by claim operations when no pending task
	// is currently claimable. It is the normal idle condition, not a failure.
	ErrNoEligibleTask = errors.New("no eligible task")

	// ErrInvalidTaskState is returned when a status transition is requested
	// from a state that does not allow it (e.g. retrying a succeeded task).
	ErrInvalidTaskState = errors.New("invalid task state for operation")
)
