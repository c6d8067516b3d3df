// Package models defines the domain models for the discovery flow service
package models

import (
	"encoding/json"
	"time"
)

// FlowStatus represents the lifecycle state of a discovery flow.
type FlowStatus string

const (
	FlowStatusInitializing   FlowStatus = "initializing"
	FlowStatusActive         FlowStatus = "active"
	FlowStatusPaused         FlowStatus = "paused"
	FlowStatusWaitingForUser FlowStatus = "waiting_for_user"
	FlowStatusCompleted      FlowStatus = "completed"
	FlowStatusFailed         FlowStatus = "failed"
	FlowStatusCancelled      FlowStatus = "cancelled"
)

// IsTerminal reports whether the status ends the flow's lifecycle.
func (s FlowStatus) IsTerminal() bool {
	switch s {
	case FlowStatusCompleted, FlowStatusFailed, FlowStatusCancelled:
		return true
	}
	return false
}

// NonTerminalStatuses lists every status counted against the
// one-active-flow-per-tenant constraint.
func NonTerminalStatuses() []FlowStatus {
	return []FlowStatus{
		FlowStatusInitializing,
		FlowStatusActive,
		FlowStatusPaused,
		FlowStatusWaitingForUser,
	}
}

// PhaseStatus represents the outcome of a single phase attempt.
type PhaseStatus string

const (
	PhaseStatusCompleted  PhaseStatus = "completed"
	PhaseStatusFailed     PhaseStatus = "failed"
	PhaseStatusInProgress PhaseStatus = "in_progress"
)

// FlowType selects the ordered phase sequence a flow runs through.
type FlowType string

const (
	// FlowTypeDiscovery is the standard six-phase migration discovery run.
	FlowTypeDiscovery FlowType = "discovery"
)

// PhaseResult records one attempt at a phase. Success or failure is terminal
// for the attempt; a retry appends a new result with a higher Attempt number.
type PhaseResult struct {
	Status      PhaseStatus `json:"status"`
	Error       string      `json:"error,omitempty"`
	CompletedAt *time.Time  `json:"completed_at,omitempty"`
	PayloadRef  string      `json:"payload_ref,omitempty"`
	Attempt     int         `json:"attempt"`
}

// TenantKey is the (client account, engagement) pair that scopes every flow.
// Every store query filters by it; there is no default tenant.
type TenantKey struct {
	ClientAccountID string `json:"client_account_id"`
	EngagementID    string `json:"engagement_id"`
}

// IsZero reports whether either half of the key is missing.
func (k TenantKey) IsZero() bool {
	return k.ClientAccountID == "" || k.EngagementID == ""
}

func (k TenantKey) String() string {
	return k.ClientAccountID + "/" + k.EngagementID
}

// SnapshotSchemaVersion is the resumption snapshot layout written by this
// build. Snapshots carrying any other version are rejected on resume rather
// than parsed best-effort.
const SnapshotSchemaVersion = 2

// ResumptionSnapshot is the persisted execution context captured on pause,
// sufficient for the execution layer to pick up at the recorded phase.
type ResumptionSnapshot struct {
	SchemaVersion int             `json:"schema_version"`
	Phase         string          `json:"phase"`
	Cursor        json.RawMessage `json:"cursor,omitempty"`
	CapturedAt    time.Time       `json:"captured_at"`
}

// Flow is the root entity: one tenant-scoped, multi-phase discovery run.
type Flow struct {
	ID        string    `json:"id" db:"id"`
	TenantKey TenantKey `json:"tenant_key"`
	FlowType  FlowType  `json:"flow_type" db:"flow_type"`

	Status       FlowStatus `json:"status" db:"status"`
	CurrentPhase string     `json:"current_phase,omitempty" db:"current_phase"`
	NextPhase    string     `json:"next_phase,omitempty" db:"next_phase"`

	// PhaseResults is keyed by phase name; the slice holds attempts in
	// order. Phase ordering authority is the flow-type configuration,
	// never this map.
	PhaseResults map[string][]PhaseResult `json:"phase_results"`

	// ProgressPercentage is a cache of the derived value; authoritative
	// reads recompute it from PhaseResults.
	ProgressPercentage int `json:"progress_percentage" db:"progress_percentage"`

	ResumptionSnapshot *ResumptionSnapshot `json:"resumption_snapshot,omitempty"`

	CreatedAt        time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at" db:"updated_at"`
	LastUserActivity time.Time  `json:"last_user_activity" db:"last_user_activity"`
	ExpiresAt        *time.Time `json:"expiration_at,omitempty" db:"expiration_at"`

	// Version is the optimistic concurrency counter; every successful
	// update increments it and stale writers lose.
	Version int64 `json:"version" db:"version"`
}

// LatestResult returns the most recent attempt for the named phase.
func (f *Flow) LatestResult(phase string) (PhaseResult, bool) {
	attempts := f.PhaseResults[phase]
	if len(attempts) == 0 {
		return PhaseResult{}, false
	}
	return attempts[len(attempts)-1], true
}

// TransitionRecord is one entry in the append-only transition log. It exists
// for observability, not correctness.
type TransitionRecord struct {
	FlowID    string     `json:"flow_id"`
	TenantKey TenantKey  `json:"tenant_key"`
	From      FlowStatus `json:"from"`
	To        FlowStatus `json:"to"`
	Reason    string     `json:"reason,omitempty"`
	At        time.Time  `json:"at"`
}
