package flow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-discovery/backend/pkg/models"
)

func TestTransitionTable(t *testing.T) {
	allowed := []struct {
		from, to models.FlowStatus
	}{
		{models.FlowStatusInitializing, models.FlowStatusActive},
		{models.FlowStatusActive, models.FlowStatusWaitingForUser},
		{models.FlowStatusWaitingForUser, models.FlowStatusActive},
		{models.FlowStatusActive, models.FlowStatusPaused},
		{models.FlowStatusPaused, models.FlowStatusActive},
		{models.FlowStatusActive, models.FlowStatusCompleted},
		{models.FlowStatusActive, models.FlowStatusFailed},
		{models.FlowStatusPaused, models.FlowStatusFailed},
		{models.FlowStatusWaitingForUser, models.FlowStatusFailed},
		{models.FlowStatusInitializing, models.FlowStatusCancelled},
		{models.FlowStatusActive, models.FlowStatusCancelled},
		{models.FlowStatusPaused, models.FlowStatusCancelled},
		{models.FlowStatusWaitingForUser, models.FlowStatusCancelled},
		{models.FlowStatusFailed, models.FlowStatusActive},
	}
	for _, tc := range allowed {
		assert.True(t, CanTransition(tc.from, tc.to), "%s -> %s should be allowed", tc.from, tc.to)
	}

	rejected := []struct {
		from, to models.FlowStatus
	}{
		{models.FlowStatusCompleted, models.FlowStatusActive},
		{models.FlowStatusCancelled, models.FlowStatusActive},
		{models.FlowStatusCompleted, models.FlowStatusFailed},
		{models.FlowStatusInitializing, models.FlowStatusCompleted},
		{models.FlowStatusInitializing, models.FlowStatusPaused},
		{models.FlowStatusPaused, models.FlowStatusCompleted},
		{models.FlowStatusFailed, models.FlowStatusCompleted},
	}
	for _, tc := range rejected {
		assert.False(t, CanTransition(tc.from, tc.to), "%s -> %s should be rejected", tc.from, tc.to)
	}
}

func TestTransitionAppliesAndRecords(t *testing.T) {
	f := discoveryFlow(nil)
	f.Status = models.FlowStatusActive
	before := time.Now().UTC().Add(-time.Second)
	f.UpdatedAt = before

	rec, err := Transition(f, models.FlowStatusPaused, "user pause")
	require.NoError(t, err)

	assert.Equal(t, models.FlowStatusPaused, f.Status)
	assert.True(t, f.UpdatedAt.After(before))
	assert.Equal(t, models.FlowStatusActive, rec.From)
	assert.Equal(t, models.FlowStatusPaused, rec.To)
	assert.Equal(t, f.ID, rec.FlowID)
	assert.Equal(t, "user pause", rec.Reason)
}

func TestTransitionRejectsIllegalChange(t *testing.T) {
	f := discoveryFlow(nil)
	f.Status = models.FlowStatusCompleted

	_, err := Transition(f, models.FlowStatusActive, "")
	var invalid *InvalidTransitionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, models.FlowStatusCompleted, invalid.From)
	assert.Equal(t, models.FlowStatusActive, invalid.To)

	// Never silently coerced: the flow is untouched.
	assert.Equal(t, models.FlowStatusCompleted, f.Status)
}
