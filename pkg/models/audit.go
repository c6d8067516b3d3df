package models

import "time"

// DeletionReason classifies why a flow was deleted.
type DeletionReason string

const (
	DeletionReasonUserRequested  DeletionReason = "user_requested"
	DeletionReasonAutoCleanup    DeletionReason = "auto_cleanup"
	DeletionReasonAdminAction    DeletionReason = "admin_action"
	DeletionReasonBatchOperation DeletionReason = "batch_operation"
)

// DeletionOutcome is the terminal disposition of a delete operation.
type DeletionOutcome string

const (
	DeletionOutcomeInProgress DeletionOutcome = "in_progress"
	DeletionOutcomeSuccess    DeletionOutcome = "success"
	DeletionOutcomePartial    DeletionOutcome = "partial"
	DeletionOutcomeFailed     DeletionOutcome = "failed"
)

// IsTerminal reports whether the outcome may no longer change.
func (o DeletionOutcome) IsTerminal() bool {
	return o == DeletionOutcomeSuccess || o == DeletionOutcomePartial || o == DeletionOutcomeFailed
}

// ResourceType names one category of flow-owned data. Cleanup iterates this
// closed list rather than relying on an implicit cascade, so every delete is
// auditable and partially retryable.
type ResourceType string

const (
	ResourceImportedRecords ResourceType = "imported_records"
	ResourceDerivedAssets   ResourceType = "derived_assets"
	ResourcePhaseArtifacts  ResourceType = "phase_artifacts"
	ResourceAgentContexts   ResourceType = "agent_contexts"
)

// OwnedResourceTypes is the deletion order for flow-owned data. The flow row
// itself is always removed last so a crash mid-cleanup leaves it discoverable.
func OwnedResourceTypes() []ResourceType {
	return []ResourceType{
		ResourceImportedRecords,
		ResourceDerivedAssets,
		ResourcePhaseArtifacts,
		ResourceAgentContexts,
	}
}

// DeletionAuditRecord is created once per delete operation, before any
// destructive action, and finalized when the operation settles. After a purge
// it is the only record of the flow's prior existence.
type DeletionAuditRecord struct {
	ID        string         `json:"id" db:"id"`
	FlowID    string         `json:"flow_id" db:"flow_id"`
	TenantKey TenantKey      `json:"tenant_key"`
	Reason    DeletionReason `json:"deletion_reason" db:"deletion_reason"`

	// Snapshot is the flow state captured before deletion began.
	Snapshot *Flow `json:"snapshot,omitempty"`

	ResourcesRemoved map[ResourceType]int `json:"resources_removed"`

	Outcome        DeletionOutcome `json:"outcome" db:"outcome"`
	FailedCategory ResourceType    `json:"failed_category,omitempty" db:"failed_category"`
	FailureDetail  string          `json:"failure_detail,omitempty" db:"failure_detail"`

	StartedAt   time.Time  `json:"started_at" db:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty" db:"completed_at"`
}

// BatchDeleteResult aggregates a DeleteMany call: one audit record per flow
// plus summary counts. A failure on one flow never aborts the others.
type BatchDeleteResult struct {
	Audits    []*DeletionAuditRecord `json:"audits"`
	Succeeded int                    `json:"succeeded"`
	Partial   int                    `json:"partial"`
	Failed    int                    `json:"failed"`
}
