// Package repository provides durable persistence for discovery flows and
// their deletion audit records.
package repository

import (
	"context"
	"errors"
	"fmt"

	"migration-discovery/backend/pkg/models"
)

var (
	// ErrFlowNotFound is returned when a flow does not exist in the
	// caller's tenant scope. Cross-tenant lookups report the same error.
	ErrFlowNotFound = errors.New("flow not found")

	// ErrVersionConflict is returned when an optimistic update lost the
	// race; the caller re-reads the row and retries.
	ErrVersionConflict = errors.New("flow version conflict")

	// ErrAuditNotFound is returned when a deletion audit record does not
	// exist in the caller's tenant scope.
	ErrAuditNotFound = errors.New("deletion audit record not found")

	// ErrAuditFinalized is returned on updates to an audit record whose
	// outcome is already terminal.
	ErrAuditFinalized = errors.New("deletion audit record already finalized")
)

// ActiveFlowExistsError is returned by CreateFlow when the tenant already
// holds a non-terminal flow. The uniqueness check lives in the store layer so
// it holds across service replicas.
type ActiveFlowExistsError struct {
	BlockingFlowID string
}

func (e *ActiveFlowExistsError) Error() string {
	return fmt.Sprintf("tenant already has active flow %s", e.BlockingFlowID)
}

// FlowFilter selects flows from a tenant's scope. Zero values mean
// "no filter" for that field.
type FlowFilter struct {
	// Incomplete limits results to non-terminal statuses.
	Incomplete bool

	// Status, if non-empty, limits results to the given status.
	Status models.FlowStatus
}

// FlowStore is the durable, transactional store for flow state. Every query
// is scoped by tenant key; a flow id alone never resolves a row.
type FlowStore interface {
	// CreateFlow inserts a new flow. It fails with ActiveFlowExistsError
	// if the tenant already holds a non-terminal flow; the insert and the
	// uniqueness check are a single conditional operation.
	CreateFlow(ctx context.Context, f *models.Flow) error

	// GetFlow returns the flow if it exists within the tenant scope.
	GetFlow(ctx context.Context, tenant models.TenantKey, id string) (*models.Flow, error)

	// ListFlows returns the tenant's flows matching the filter.
	ListFlows(ctx context.Context, tenant models.TenantKey, filter FlowFilter) ([]*models.Flow, error)

	// UpdateFlow persists the flow if its Version still matches the
	// stored row, then increments Version. A stale version yields
	// ErrVersionConflict.
	UpdateFlow(ctx context.Context, f *models.Flow) error

	// CompareAndSwapStatus atomically flips status from -> to. It returns
	// false when the stored status no longer matches from.
	CompareAndSwapStatus(ctx context.Context, tenant models.TenantKey, id string, from, to models.FlowStatus) (bool, error)

	// DeleteFlow removes the flow row. Cleanup calls this last so a crash
	// mid-deletion leaves the flow discoverable.
	DeleteFlow(ctx context.Context, tenant models.TenantKey, id string) error

	// AppendTransition records one entry in the append-only transition log.
	AppendTransition(ctx context.Context, rec models.TransitionRecord) error

	// ListTransitions returns a flow's transition log in order.
	ListTransitions(ctx context.Context, tenant models.TenantKey, flowID string) ([]models.TransitionRecord, error)

	// CountResources returns how many rows of one owned-resource category
	// the flow holds.
	CountResources(ctx context.Context, tenant models.TenantKey, flowID string, rt models.ResourceType) (int, error)

	// DeleteResources removes one owned-resource category and reports how
	// many rows were removed.
	DeleteResources(ctx context.Context, tenant models.TenantKey, flowID string, rt models.ResourceType) (int, error)
}

// AuditStore persists deletion audit records. Records are append-only:
// created before destructive work begins, finalized exactly once.
type AuditStore interface {
	CreateAudit(ctx context.Context, rec *models.DeletionAuditRecord) error

	// FinalizeAudit sets the terminal outcome and per-category counts.
	// It fails with ErrAuditFinalized if the record already settled.
	FinalizeAudit(ctx context.Context, rec *models.DeletionAuditRecord) error

	GetAudit(ctx context.Context, tenant models.TenantKey, id string) (*models.DeletionAuditRecord, error)

	ListAudits(ctx context.Context, tenant models.TenantKey) ([]*models.DeletionAuditRecord, error)
}

// Store is the combined persistence surface the flow service depends on.
type Store interface {
	FlowStore
	AuditStore
}
