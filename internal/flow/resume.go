package flow

import (
	"context"
	"time"

	"migration-discovery/backend/pkg/models"
)

// ExecutionContext is returned by Resume. It carries everything the
// execution layer needs to pick up at ResumePhase without replaying any
// already-completed phase.
type ExecutionContext struct {
	Flow        *models.Flow               `json:"flow"`
	ResumePhase string                     `json:"resume_phase"`
	Snapshot    *models.ResumptionSnapshot `json:"snapshot,omitempty"`
}

// resumableFrom lists the statuses Resume accepts.
func resumableFrom(st models.FlowStatus) bool {
	switch st {
	case models.FlowStatusPaused, models.FlowStatusFailed, models.FlowStatusWaitingForUser:
		return true
	}
	return false
}

// Resume reactivates a paused, failed, or waiting flow.
//
// The next phase is re-derived from the phase results; the stored next_phase
// is never trusted. Idempotence under concurrent calls is guaranteed by the
// store's status compare-and-swap: exactly one caller wins the flip to
// active, every other caller gets AlreadyResumingError, so no phase is
// dispatched twice.
func (s *Service) Resume(ctx context.Context, tenant models.TenantKey, flowID string) (*ExecutionContext, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ResumeTimeout)
	defer cancel()

	f, err := s.store.GetFlow(ctx, tenant, flowID)
	if err != nil {
		return nil, mapStoreErr(err, flowID)
	}

	if !resumableFrom(f.Status) {
		if f.Status == models.FlowStatusActive {
			// Either a concurrent resume already won or the flow never
			// stopped; both look the same to this caller.
			return nil, &AlreadyResumingError{FlowID: flowID}
		}
		return nil, &InvalidTransitionError{From: f.Status, To: models.FlowStatusActive}
	}

	snapshot := f.ResumptionSnapshot
	if snapshot != nil && snapshot.SchemaVersion != models.SnapshotSchemaVersion {
		// An incompatible snapshot is rejected outright rather than
		// parsed best-effort.
		return nil, &IncompatibleSnapshotError{Got: snapshot.SchemaVersion, Want: models.SnapshotSchemaVersion}
	}

	p, err := ComputeProgress(s.phases, f)
	if err != nil {
		return nil, err
	}
	if p.CompletedCount == p.TotalPhases {
		// Every phase already finished; nothing to resume.
		return nil, &InvalidTransitionError{From: f.Status, To: models.FlowStatusActive}
	}

	resumePhase := p.NextPhase
	if p.FailurePhase != "" {
		// Resuming a failed flow means a fresh attempt at the phase
		// that failed, never a replay of completed ones.
		resumePhase = p.FailurePhase
	}

	from := f.Status
	swapped, err := s.store.CompareAndSwapStatus(ctx, tenant, flowID, from, models.FlowStatusActive)
	if err != nil {
		return nil, mapStoreErr(err, flowID)
	}
	if !swapped {
		return nil, &AlreadyResumingError{FlowID: flowID}
	}

	s.recordTransition(ctx, models.TransitionRecord{
		FlowID:    flowID,
		TenantKey: tenant,
		From:      from,
		To:        models.FlowStatusActive,
		Reason:    "resumed",
		At:        time.Now().UTC(),
	})

	// Winner's bookkeeping: reload the flipped row, mark a retry attempt
	// when the resume targets a previously failed phase (so derived status
	// reflects the re-execution, not the superseded failure), refresh the
	// cached next phase.
	f, err = s.store.GetFlow(ctx, tenant, flowID)
	if err != nil {
		return nil, mapStoreErr(err, flowID)
	}
	if p.FailurePhase != "" {
		f.PhaseResults[resumePhase] = append(f.PhaseResults[resumePhase], models.PhaseResult{
			Status:  models.PhaseStatusInProgress,
			Attempt: len(f.PhaseResults[resumePhase]) + 1,
		})
	}
	f.NextPhase = resumePhase
	f.CurrentPhase = resumePhase
	f.LastUserActivity = time.Now().UTC()
	f.UpdatedAt = f.LastUserActivity
	if err := s.store.UpdateFlow(ctx, f); err != nil {
		return nil, mapStoreErr(err, flowID)
	}

	s.logger.Info("flow resumed",
		"flow_id", flowID, "tenant", tenant.String(),
		"from", string(from), "resume_phase", resumePhase)

	return &ExecutionContext{
		Flow:        f,
		ResumePhase: resumePhase,
		Snapshot:    snapshot,
	}, nil
}
