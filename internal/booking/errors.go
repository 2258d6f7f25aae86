package booking

import "fmt"

// ValidationError covers malformed or out-of-range input.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

// UnauthorizedError means the actor may not perform the operation on this
// reservation.
type UnauthorizedError struct {
	Reason string
}

func (e *UnauthorizedError) Error() string { return e.Reason }

// NotFoundError means the reservation (or other entity) does not exist.
type NotFoundError struct {
	Entity string
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

// ConflictError means another writer got there first: the slot was taken
// between check and write, or an optimistic-lock guard failed. The caller
// should re-read and retry.
type ConflictError struct {
	Reason string
}

func (e *ConflictError) Error() string { return e.Reason }

// BusinessRuleError means the request is well-formed but a booking rule
// rejects it (lead time, reschedule limit, insufficient points, terminal
// status).
type BusinessRuleError struct {
	Reason string
}

func (e *BusinessRuleError) Error() string { return e.Reason }

// UpstreamError wraps a failure from an external dependency, typically the
// payment processor. When it is returned no local state was changed.
type UpstreamError struct {
	System string
	Err    error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("%s: %v", e.System, e.Err)
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// PartialFailureError is returned when a multi-step operation committed some
// writes and then hit a guard failure, after compensation was applied. The
// reservation state reported to the caller reflects the compensated outcome.
type PartialFailureError struct {
	Reason string
}

func (e *PartialFailureError) Error() string { return e.Reason }
