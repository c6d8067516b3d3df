package flow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"migration-discovery/backend/internal/repository"
	"migration-discovery/backend/pkg/models"
)

// Delete removes a flow and every category of data it owns, leaving behind a
// deletion audit record as the only trace of the flow's existence.
//
// The audit record is written durably before any destructive action. Resource
// categories are removed one at a time with per-category counts; the flow row
// goes last, so a crash mid-cleanup leaves the flow discoverable and the
// audit marked partial, and the whole operation can be retried safely.
func (s *Service) Delete(ctx context.Context, tenant models.TenantKey, flowID string, force bool, reason models.DeletionReason) (*models.DeletionAuditRecord, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	ctx, cancel := context.WithTimeout(ctx, s.opts.ResumeTimeout)
	defer cancel()

	f, err := s.store.GetFlow(ctx, tenant, flowID)
	if err != nil {
		return nil, mapStoreErr(err, flowID)
	}

	if f.Status == models.FlowStatusActive && !force {
		return nil, &FlowActiveError{FlowID: flowID}
	}

	// Snapshot first, then make the audit record durable before anything
	// is destroyed.
	audit := &models.DeletionAuditRecord{
		ID:               uuid.New().String(),
		FlowID:           flowID,
		TenantKey:        tenant,
		Reason:           reason,
		Snapshot:         f,
		ResourcesRemoved: map[models.ResourceType]int{},
		Outcome:          models.DeletionOutcomeInProgress,
		StartedAt:        time.Now().UTC(),
	}
	if err := s.store.CreateAudit(ctx, audit); err != nil {
		return nil, Permanent(fmt.Errorf("create deletion audit: %w", err))
	}

	if !f.Status.IsTerminal() {
		if rec, terr := Transition(f, models.FlowStatusCancelled, "deletion: "+string(reason)); terr == nil {
			if err := s.store.UpdateFlow(ctx, f); err == nil {
				s.recordTransition(ctx, rec)
			}
		}
	}

	outcome := models.DeletionOutcomeSuccess
	for _, rt := range models.OwnedResourceTypes() {
		n, err := s.store.DeleteResources(ctx, tenant, flowID, rt)
		if err != nil {
			outcome = models.DeletionOutcomePartial
			audit.FailedCategory = rt
			audit.FailureDetail = err.Error()
			s.logger.Error("resource category deletion failed",
				"flow_id", flowID, "category", string(rt), "error", err)
			break
		}
		audit.ResourcesRemoved[rt] = n
	}

	if outcome == models.DeletionOutcomeSuccess {
		// Flow row last: its presence is what makes a retry possible.
		if err := s.store.DeleteFlow(ctx, tenant, flowID); err != nil {
			outcome = models.DeletionOutcomePartial
			audit.FailedCategory = ""
			audit.FailureDetail = fmt.Sprintf("flow row: %v", err)
		}
	}

	now := time.Now().UTC()
	audit.Outcome = outcome
	audit.CompletedAt = &now
	if err := s.store.FinalizeAudit(ctx, audit); err != nil {
		return nil, Permanent(fmt.Errorf("finalize deletion audit %s: %w", audit.ID, err))
	}

	s.deletionCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("outcome", string(outcome)),
		attribute.String("reason", string(reason)),
	))
	s.logger.Info("flow deletion finished",
		"flow_id", flowID, "tenant", tenant.String(),
		"outcome", string(outcome), "reason", string(reason))

	return audit, nil
}

// DeleteMany applies Delete to each flow independently. One flow's failure
// never aborts the rest; the aggregate summarizes per-flow outcomes.
func (s *Service) DeleteMany(ctx context.Context, tenant models.TenantKey, flowIDs []string, force bool) (*models.BatchDeleteResult, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	result := &models.BatchDeleteResult{}
	for _, id := range flowIDs {
		audit, err := s.Delete(ctx, tenant, id, force, models.DeletionReasonBatchOperation)
		if err != nil {
			s.logger.Warn("batch deletion: flow skipped", "flow_id", id, "error", err)
			result.Failed++
			result.Audits = append(result.Audits, &models.DeletionAuditRecord{
				FlowID:        id,
				TenantKey:     tenant,
				Reason:        models.DeletionReasonBatchOperation,
				Outcome:       models.DeletionOutcomeFailed,
				FailureDetail: err.Error(),
			})
			continue
		}

		result.Audits = append(result.Audits, audit)
		switch audit.Outcome {
		case models.DeletionOutcomeSuccess:
			result.Succeeded++
		case models.DeletionOutcomePartial:
			result.Partial++
		default:
			result.Failed++
		}
	}
	return result, nil
}

// Audit returns a deletion audit record within the tenant scope.
func (s *Service) Audit(ctx context.Context, tenant models.TenantKey, auditID string) (*models.DeletionAuditRecord, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	rec, err := s.store.GetAudit(ctx, tenant, auditID)
	if err != nil {
		if errors.Is(err, repository.ErrAuditNotFound) {
			return nil, &NotFoundError{Resource: "deletion audit", ID: auditID}
		}
		return nil, err
	}
	return rec, nil
}

// Audits lists the tenant's deletion audit records.
func (s *Service) Audits(ctx context.Context, tenant models.TenantKey) ([]*models.DeletionAuditRecord, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}
	return s.store.ListAudits(ctx, tenant)
}
