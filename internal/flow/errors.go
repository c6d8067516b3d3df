package flow

import (
	"errors"
	"fmt"

	"migration-discovery/backend/pkg/models"
)

// ConflictError is returned when a tenant already holds a non-terminal flow.
// BlockingFlowID identifies the existing flow so the caller can offer
// resume or delete.
type ConflictError struct {
	TenantKey      models.TenantKey
	BlockingFlowID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("tenant %s already has an active flow %s", e.TenantKey, e.BlockingFlowID)
}

// IsConflict returns the blocking flow id if err is a ConflictError.
func IsConflict(err error) (string, bool) {
	var c *ConflictError
	if errors.As(err, &c) {
		return c.BlockingFlowID, true
	}
	return "", false
}

// InvalidTransitionError is returned for illegal state changes. Invalid
// transitions are always rejected, never silently coerced.
type InvalidTransitionError struct {
	From models.FlowStatus
	To   models.FlowStatus
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("invalid flow transition %s -> %s", e.From, e.To)
}

// IncompatibleSnapshotError is returned when a resumption snapshot was
// written by a different schema version and cannot be trusted.
type IncompatibleSnapshotError struct {
	Got  int
	Want int
}

func (e *IncompatibleSnapshotError) Error() string {
	return fmt.Sprintf("resumption snapshot schema %d is incompatible (want %d)", e.Got, e.Want)
}

// AlreadyResumingError is returned to the loser of a resume race: another
// caller flipped the flow to active first.
type AlreadyResumingError struct {
	FlowID string
}

func (e *AlreadyResumingError) Error() string {
	return fmt.Sprintf("flow %s is already being resumed", e.FlowID)
}

// FlowActiveError is returned when deleting an active flow without force.
type FlowActiveError struct {
	FlowID string
}

func (e *FlowActiveError) Error() string {
	return fmt.Sprintf("flow %s is active; pause it or pass force", e.FlowID)
}

// NotFoundError covers both a genuinely missing flow and a flow owned by a
// different tenant; the two are indistinguishable to the caller so existence
// is never leaked across tenants.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Resource, e.ID)
}

// OutOfOrderPhaseError is returned when a completion callback names a phase
// the flow has not been gated to yet. Phases complete strictly in the
// configured sequence.
type OutOfOrderPhaseError struct {
	FlowID   string
	Reported string
	Expected string
}

func (e *OutOfOrderPhaseError) Error() string {
	return fmt.Sprintf("flow %s: phase %q reported out of order (expected %q)", e.FlowID, e.Reported, e.Expected)
}

// RetryableError marks transient store contention; callers retry with
// bounded backoff before surfacing it.
type RetryableError struct {
	Err error
}

func (e *RetryableError) Error() string { return "retryable: " + e.Err.Error() }
func (e *RetryableError) Unwrap() error { return e.Err }

// Retryable wraps err as transient.
func Retryable(err error) error { return &RetryableError{Err: err} }

// IsRetryable reports whether err is transient store contention.
func IsRetryable(err error) bool {
	var r *RetryableError
	return errors.As(err, &r)
}

// PermanentError marks an irrecoverable failure, for example a corrupted
// audit write.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return "permanent: " + e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err as irrecoverable.
func Permanent(err error) error { return &PermanentError{Err: err} }

var (
	// ErrUnknownFlowType is returned when no phase sequence is configured
	// for a flow's type.
	ErrUnknownFlowType = errors.New("unknown flow type")

	// ErrUnknownPhase is returned when a callback names a phase that is
	// not part of the flow type's sequence.
	ErrUnknownPhase = errors.New("unknown phase")

	// ErrAuditFinalized is returned on any attempt to mutate a deletion
	// audit record whose outcome is already terminal.
	ErrAuditFinalized = errors.New("deletion audit record already finalized")

	// ErrMissingTenantKey is returned when a caller omits either half of
	// the tenant key.
	ErrMissingTenantKey = errors.New("tenant key is required")
)
