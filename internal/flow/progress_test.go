package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-discovery/backend/pkg/models"
)

func discoveryFlow(results map[string][]models.PhaseResult) *models.Flow {
	if results == nil {
		results = map[string][]models.PhaseResult{}
	}
	return &models.Flow{
		ID:           "f-1",
		TenantKey:    models.TenantKey{ClientAccountID: "acct", EngagementID: "eng"},
		FlowType:     models.FlowTypeDiscovery,
		Status:       models.FlowStatusActive,
		PhaseResults: results,
	}
}

func completed() models.PhaseResult {
	now := time.Now().UTC()
	return models.PhaseResult{Status: models.PhaseStatusCompleted, CompletedAt: &now, Attempt: 1}
}

func failed(msg string) models.PhaseResult {
	now := time.Now().UTC()
	return models.PhaseResult{Status: models.PhaseStatusFailed, Error: msg, CompletedAt: &now, Attempt: 1}
}

func TestComputeProgress(t *testing.T) {
	cfg := DefaultPhaseConfig()

	t.Run("no results", func(t *testing.T) {
		p, err := ComputeProgress(cfg, discoveryFlow(nil))
		require.NoError(t, err)
		assert.Equal(t, 0, p.Percentage)
		assert.Equal(t, PhaseDataImport, p.NextPhase)
		assert.Equal(t, models.FlowStatusActive, p.Status)
	})

	t.Run("one of six completed", func(t *testing.T) {
		p, err := ComputeProgress(cfg, discoveryFlow(map[string][]models.PhaseResult{
			PhaseDataImport: {completed()},
		}))
		require.NoError(t, err)
		assert.Equal(t, 16, p.Percentage)
		assert.Equal(t, 1, p.CompletedCount)
		assert.Equal(t, 6, p.TotalPhases)
		assert.Equal(t, PhaseReadiness, p.NextPhase)
	})

	t.Run("failure overrides stored status", func(t *testing.T) {
		// Phase sequence [A completed, B failed] must report failed at
		// 16%, never completed at 100%.
		f := discoveryFlow(map[string][]models.PhaseResult{
			PhaseDataImport: {completed()},
			PhaseReadiness:  {failed("x")},
		})
		f.Status = models.FlowStatusActive

		p, err := ComputeProgress(cfg, f)
		require.NoError(t, err)
		assert.Equal(t, models.FlowStatusFailed, p.Status)
		assert.Equal(t, PhaseReadiness, p.FailurePhase)
		assert.Equal(t, 16, p.Percentage)
		assert.Empty(t, p.NextPhase)
	})

	t.Run("readiness completed complexity failed", func(t *testing.T) {
		p, err := ComputeProgress(cfg, discoveryFlow(map[string][]models.PhaseResult{
			PhaseDataImport: {completed()},
			PhaseReadiness:  {completed()},
			PhaseComplexity: {failed("x")},
		}))
		require.NoError(t, err)
		assert.Equal(t, models.FlowStatusFailed, p.Status)
		assert.Equal(t, PhaseComplexity, p.FailurePhase)
		assert.Equal(t, 33, p.Percentage)
	})

	t.Run("gap stops counting later results", func(t *testing.T) {
		// Results recorded past a gap in the sequence must not count:
		// progress reflects sequential completion, not index reached.
		p, err := ComputeProgress(cfg, discoveryFlow(map[string][]models.PhaseResult{
			PhaseDataImport:   {completed()},
			PhaseWavePlanning: {completed()},
		}))
		require.NoError(t, err)
		assert.Equal(t, 16, p.Percentage)
		assert.Equal(t, PhaseReadiness, p.NextPhase)
		assert.NotEqual(t, models.FlowStatusCompleted, p.Status)
	})

	t.Run("in progress stops the walk", func(t *testing.T) {
		p, err := ComputeProgress(cfg, discoveryFlow(map[string][]models.PhaseResult{
			PhaseDataImport: {completed()},
			PhaseReadiness:  {{Status: models.PhaseStatusInProgress, Attempt: 1}},
		}))
		require.NoError(t, err)
		assert.Equal(t, 16, p.Percentage)
		assert.Equal(t, PhaseReadiness, p.NextPhase)
		assert.Empty(t, p.FailurePhase)
	})

	t.Run("completed only when every phase completed", func(t *testing.T) {
		results := map[string][]models.PhaseResult{}
		seq, err := cfg.Sequence(models.FlowTypeDiscovery)
		require.NoError(t, err)
		for i, phase := range seq {
			if i < len(seq)-1 {
				results[phase] = []models.PhaseResult{completed()}
			}
		}
		p, err := ComputeProgress(cfg, discoveryFlow(results))
		require.NoError(t, err)
		assert.NotEqual(t, models.FlowStatusCompleted, p.Status)
		assert.Equal(t, 83, p.Percentage)

		results[seq[len(seq)-1]] = []models.PhaseResult{completed()}
		p, err = ComputeProgress(cfg, discoveryFlow(results))
		require.NoError(t, err)
		assert.Equal(t, models.FlowStatusCompleted, p.Status)
		assert.Equal(t, 100, p.Percentage)
	})

	t.Run("latest attempt wins", func(t *testing.T) {
		p, err := ComputeProgress(cfg, discoveryFlow(map[string][]models.PhaseResult{
			PhaseDataImport: {failed("first try"), completed()},
		}))
		require.NoError(t, err)
		assert.Empty(t, p.FailurePhase)
		assert.Equal(t, 16, p.Percentage)
		assert.Equal(t, PhaseReadiness, p.NextPhase)
	})

	t.Run("unknown flow type", func(t *testing.T) {
		f := discoveryFlow(nil)
		f.FlowType = "nonsense"
		_, err := ComputeProgress(cfg, f)
		assert.ErrorIs(t, err, ErrUnknownFlowType)
	})
}
