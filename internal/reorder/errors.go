package reorder

import (
	"errors"
	"fmt"
)

var (
	ErrEmptyBatch = errors.New("reorder: batch has no instructions")

	// ErrNotFound is returned by store implementations when an entity or book
	// does not exist.
	ErrNotFound = errors.New("reorder: not found")

	// ErrStalePlan means an entity changed between validation and the moment
	// its book was locked. Retrying the batch re-validates it.
	ErrStalePlan = errors.New("reorder: entity changed since validation")
)

type UnknownKindError struct {
	Index int
	Value string
}

func (e *UnknownKindError) Error() string {
	if e.Index < 0 {
		return fmt.Sprintf("reorder: unknown entity type %q", e.Value)
	}
	return fmt.Sprintf("reorder: instruction %d has unknown entity type %q", e.Index, e.Value)
}

type UnknownEntityError struct {
	Ref Ref
}

func (e *UnknownEntityError) Error() string {
	return fmt.Sprintf("reorder: unknown %s", e.Ref)
}

type InconsistentTargetError struct {
	Index  int
	Move   Move
	Reason string
}

func (e *InconsistentTargetError) Error() string {
	return fmt.Sprintf("reorder: instruction %d (%s): %s", e.Index, e.Move.Ref, e.Reason)
}

type PermissionDeniedError struct {
	BookID int64
}

func (e *PermissionDeniedError) Error() string {
	return fmt.Sprintf("reorder: not permitted to modify structure of book %d", e.BookID)
}

// ApplyFailedError wraps an infrastructure fault. Stage is one of resolve,
// authorize or apply. Nothing from the batch is visible when it is returned.
type ApplyFailedError struct {
	Stage string
	Cause error
}

func (e *ApplyFailedError) Error() string {
	return fmt.Sprintf("reorder: %s failed: %v", e.Stage, e.Cause)
}

func (e *ApplyFailedError) Unwrap() error {
	return e.Cause
}

// IsValidation reports whether err was raised before any write was attempted
// because of the batch content or the caller's permissions.
func IsValidation(err error) bool {
	var (
		kindErr       *UnknownKindError
		entityErr     *UnknownEntityError
		targetErr     *InconsistentTargetError
		permissionErr *PermissionDeniedError
	)
	return errors.Is(err, ErrEmptyBatch) ||
		errors.As(err, &kindErr) ||
		errors.As(err, &entityErr) ||
		errors.As(err, &targetErr) ||
		errors.As(err, &permissionErr)
}

func failed(stage string, err error) error {
	var applyErr *ApplyFailedError
	if errors.As(err, &applyErr) {
		return err
	}
	return &ApplyFailedError{Stage: stage, Cause: err}
}
