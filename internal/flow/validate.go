package flow

import (
	"context"
	"fmt"

	"migration-discovery/backend/pkg/models"
)

// ValidationReport is the result of a read-only integrity check on a flow.
type ValidationReport struct {
	FlowID string `json:"flow_id"`
	Valid  bool   `json:"valid"`

	Status    models.FlowStatus           `json:"status"`
	Progress  int                         `json:"progress_percentage"`
	NextPhase string                      `json:"next_phase,omitempty"`
	Resumable bool                        `json:"resumable"`
	Problems  []string                    `json:"problems,omitempty"`
	Resources map[models.ResourceType]int `json:"resources,omitempty"`
}

// Validate checks a flow's integrity without mutating anything: phase config
// coverage, snapshot compatibility, stale cached progress, and owned-resource
// counts.
func (s *Service) Validate(ctx context.Context, tenant models.TenantKey, flowID string) (*ValidationReport, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	f, err := s.store.GetFlow(ctx, tenant, flowID)
	if err != nil {
		return nil, mapStoreErr(err, flowID)
	}

	report := &ValidationReport{
		FlowID:    flowID,
		Resumable: resumableFrom(f.Status),
		Resources: map[models.ResourceType]int{},
	}

	p, err := ComputeProgress(s.phases, f)
	if err != nil {
		report.Problems = append(report.Problems, err.Error())
		report.Status = f.Status
		return report, nil
	}
	report.Status = p.Status
	report.Progress = p.Percentage
	report.NextPhase = p.NextPhase

	seq, _ := s.phases.Sequence(f.FlowType)
	known := make(map[string]bool, len(seq))
	for _, phase := range seq {
		known[phase] = true
	}
	for phase := range f.PhaseResults {
		if !known[phase] {
			report.Problems = append(report.Problems,
				fmt.Sprintf("results recorded for phase %q not in the %s sequence", phase, f.FlowType))
		}
	}

	if f.ResumptionSnapshot != nil && f.ResumptionSnapshot.SchemaVersion != models.SnapshotSchemaVersion {
		report.Problems = append(report.Problems,
			fmt.Sprintf("resumption snapshot schema %d incompatible with %d",
				f.ResumptionSnapshot.SchemaVersion, models.SnapshotSchemaVersion))
		report.Resumable = false
	}

	if f.Status.IsTerminal() && p.Status != f.Status {
		report.Problems = append(report.Problems,
			fmt.Sprintf("stored status %s disagrees with derived status %s", f.Status, p.Status))
	}
	if f.ProgressPercentage != p.Percentage {
		report.Problems = append(report.Problems,
			fmt.Sprintf("cached progress %d%% is stale (derived %d%%)", f.ProgressPercentage, p.Percentage))
	}

	for _, rt := range models.OwnedResourceTypes() {
		n, err := s.store.CountResources(ctx, tenant, flowID, rt)
		if err != nil {
			report.Problems = append(report.Problems,
				fmt.Sprintf("counting %s: %v", rt, err))
			continue
		}
		report.Resources[rt] = n
	}

	report.Valid = len(report.Problems) == 0
	return report, nil
}
