package flow

import (
	"time"

	"migration-discovery/backend/pkg/models"
)

// transitions is the authoritative table of legal status changes. Anything
// absent here is rejected with InvalidTransitionError.
var transitions = map[models.FlowStatus][]models.FlowStatus{
	models.FlowStatusInitializing: {
		models.FlowStatusActive,
		models.FlowStatusCancelled,
	},
	models.FlowStatusActive: {
		models.FlowStatusWaitingForUser,
		models.FlowStatusPaused,
		models.FlowStatusCompleted,
		models.FlowStatusFailed,
		models.FlowStatusCancelled,
	},
	models.FlowStatusWaitingForUser: {
		models.FlowStatusActive,
		models.FlowStatusFailed,
		models.FlowStatusCancelled,
	},
	models.FlowStatusPaused: {
		models.FlowStatusActive,
		models.FlowStatusFailed,
		models.FlowStatusCancelled,
	},
	// Failed flows may be resumed: the resume manager re-derives the next
	// phase and reactivates.
	models.FlowStatusFailed: {
		models.FlowStatusActive,
	},
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to models.FlowStatus) bool {
	for _, allowed := range transitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// Transition applies a validated status change in memory. It touches
// UpdatedAt and returns the transition record the caller must append to the
// log once the change is persisted.
func Transition(f *models.Flow, to models.FlowStatus, reason string) (models.TransitionRecord, error) {
	if !CanTransition(f.Status, to) {
		return models.TransitionRecord{}, &InvalidTransitionError{From: f.Status, To: to}
	}

	now := time.Now().UTC()
	rec := models.TransitionRecord{
		FlowID:    f.ID,
		TenantKey: f.TenantKey,
		From:      f.Status,
		To:        to,
		Reason:    reason,
		At:        now,
	}

	f.Status = to
	f.UpdatedAt = now
	return rec, nil
}
