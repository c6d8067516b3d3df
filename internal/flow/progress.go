package flow

import (
	"migration-discovery/backend/pkg/models"
)

// Progress is the derived view of a flow computed from its phase results.
// It is recomputed on every authoritative read; the stored percentage and
// status are treated as a cache only.
type Progress struct {
	Status         models.FlowStatus
	Percentage     int
	CompletedCount int
	TotalPhases    int

	// FailurePhase is set when a phase in the sequence failed; the flow
	// status is then failed regardless of the persisted status field.
	FailurePhase string

	// NextPhase is the first phase with no terminal result, empty when
	// the flow is finished or failed.
	NextPhase string
}

// ComputeProgress walks the flow type's configured phase sequence in order
// and derives status and percentage from the results actually recorded.
//
// The walk stops at the first gap (phase never reported), the first failure,
// or the first in-progress phase. Percentage counts only sequentially
// completed phases, so a flow whose later phases somehow carry results while
// an earlier one failed still reports the earlier failure, not 100%.
func ComputeProgress(cfg *PhaseConfig, f *models.Flow) (Progress, error) {
	seq, err := cfg.Sequence(f.FlowType)
	if err != nil {
		return Progress{}, err
	}

	p := Progress{
		Status:      f.Status,
		TotalPhases: len(seq),
	}

	for _, phase := range seq {
		result, ok := f.LatestResult(phase)
		if !ok {
			// Flow has not reached this phase yet.
			p.NextPhase = phase
			break
		}
		switch result.Status {
		case models.PhaseStatusFailed:
			p.FailurePhase = phase
			p.Status = models.FlowStatusFailed
		case models.PhaseStatusCompleted:
			p.CompletedCount++
			continue
		default:
			// in_progress or unrecognized: stop, phase is not done.
			p.NextPhase = phase
		}
		break
	}

	p.Percentage = p.CompletedCount * 100 / len(seq)

	if p.FailurePhase == "" && p.CompletedCount == len(seq) {
		p.Status = models.FlowStatusCompleted
	}

	return p, nil
}
