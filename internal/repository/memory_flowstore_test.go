package repository

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-discovery/backend/pkg/models"
)

var (
	tenantA = models.TenantKey{ClientAccountID: "acct-a", EngagementID: "eng-1"}
	tenantB = models.TenantKey{ClientAccountID: "acct-b", EngagementID: "eng-1"}
)

func newFlow(tenant models.TenantKey, status models.FlowStatus) *models.Flow {
	now := time.Now().UTC()
	return &models.Flow{
		ID:               uuid.New().String(),
		TenantKey:        tenant,
		FlowType:         models.FlowTypeDiscovery,
		Status:           status,
		PhaseResults:     map[string][]models.PhaseResult{},
		CreatedAt:        now,
		UpdatedAt:        now,
		LastUserActivity: now,
	}
}

func TestMemoryStoreSingleActiveConstraint(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	f1 := newFlow(tenantA, models.FlowStatusActive)
	require.NoError(t, store.CreateFlow(ctx, f1))

	f2 := newFlow(tenantA, models.FlowStatusInitializing)
	err := store.CreateFlow(ctx, f2)
	var exists *ActiveFlowExistsError
	require.ErrorAs(t, err, &exists)
	assert.Equal(t, f1.ID, exists.BlockingFlowID)

	// Terminal flows do not block.
	f1.Status = models.FlowStatusCancelled
	require.NoError(t, store.UpdateFlow(ctx, f1))
	require.NoError(t, store.CreateFlow(ctx, f2))

	// Other tenants are independent.
	require.NoError(t, store.CreateFlow(ctx, newFlow(tenantB, models.FlowStatusActive)))
}

func TestMemoryStoreTenantIsolation(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	f := newFlow(tenantA, models.FlowStatusActive)
	require.NoError(t, store.CreateFlow(ctx, f))

	// A flow id from another tenant behaves exactly like a missing row.
	_, err := store.GetFlow(ctx, tenantB, f.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	err = store.DeleteFlow(ctx, tenantB, f.ID)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	_, err = store.CountResources(ctx, tenantB, f.ID, models.ResourceImportedRecords)
	assert.ErrorIs(t, err, ErrFlowNotFound)

	flows, err := store.ListFlows(ctx, tenantB, FlowFilter{})
	require.NoError(t, err)
	assert.Empty(t, flows)
}

func TestMemoryStoreVersionedUpdates(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	f := newFlow(tenantA, models.FlowStatusActive)
	require.NoError(t, store.CreateFlow(ctx, f))
	assert.Equal(t, int64(1), f.Version)

	// Two readers load the same version; the second write loses.
	first, err := store.GetFlow(ctx, tenantA, f.ID)
	require.NoError(t, err)
	second, err := store.GetFlow(ctx, tenantA, f.ID)
	require.NoError(t, err)

	first.CurrentPhase = "readiness"
	require.NoError(t, store.UpdateFlow(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.CurrentPhase = "complexity"
	err = store.UpdateFlow(ctx, second)
	assert.ErrorIs(t, err, ErrVersionConflict)

	// The loser re-reads and retries against the refreshed row.
	refreshed, err := store.GetFlow(ctx, tenantA, f.ID)
	require.NoError(t, err)
	assert.Equal(t, "readiness", refreshed.CurrentPhase)
	refreshed.CurrentPhase = "complexity"
	require.NoError(t, store.UpdateFlow(ctx, refreshed))
}

func TestMemoryStoreCompareAndSwapStatus(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	f := newFlow(tenantA, models.FlowStatusPaused)
	require.NoError(t, store.CreateFlow(ctx, f))

	swapped, err := store.CompareAndSwapStatus(ctx, tenantA, f.ID, models.FlowStatusPaused, models.FlowStatusActive)
	require.NoError(t, err)
	assert.True(t, swapped)

	// Second swap from the same precondition fails.
	swapped, err = store.CompareAndSwapStatus(ctx, tenantA, f.ID, models.FlowStatusPaused, models.FlowStatusActive)
	require.NoError(t, err)
	assert.False(t, swapped)

	// Cross-tenant CAS reports not found, not false.
	_, err = store.CompareAndSwapStatus(ctx, tenantB, f.ID, models.FlowStatusActive, models.FlowStatusPaused)
	assert.ErrorIs(t, err, ErrFlowNotFound)
}

func TestMemoryStoreAuditImmutability(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	rec := &models.DeletionAuditRecord{
		ID:               uuid.New().String(),
		FlowID:           uuid.New().String(),
		TenantKey:        tenantA,
		Reason:           models.DeletionReasonUserRequested,
		ResourcesRemoved: map[models.ResourceType]int{},
		Outcome:          models.DeletionOutcomeInProgress,
		StartedAt:        time.Now().UTC(),
	}
	require.NoError(t, store.CreateAudit(ctx, rec))

	now := time.Now().UTC()
	rec.Outcome = models.DeletionOutcomeSuccess
	rec.CompletedAt = &now
	require.NoError(t, store.FinalizeAudit(ctx, rec))

	// Once terminal, the record can never change again.
	rec.Outcome = models.DeletionOutcomeFailed
	err := store.FinalizeAudit(ctx, rec)
	assert.ErrorIs(t, err, ErrAuditFinalized)

	got, err := store.GetAudit(ctx, tenantA, rec.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DeletionOutcomeSuccess, got.Outcome)

	_, err = store.GetAudit(ctx, tenantB, rec.ID)
	assert.ErrorIs(t, err, ErrAuditNotFound)
}
