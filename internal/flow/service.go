// Package flow implements the discovery flow lifecycle: creation under the
// one-active-flow-per-tenant constraint, phase completion handling, progress
// derivation, pause/resume, and audited deletion.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"migration-discovery/backend/internal/logging"
	"migration-discovery/backend/internal/repository"
	"migration-discovery/backend/pkg/models"
)

// Options tunes service behavior.
type Options struct {
	// FlowTTL sets expiration_at on new flows; zero disables expiry.
	FlowTTL time.Duration

	// ResumeTimeout bounds how long Resume and Delete may block on the
	// store's compare-and-swap.
	ResumeTimeout time.Duration
}

const defaultResumeTimeout = 10 * time.Second

// Service is the flow lifecycle core exposed to the API layer. All mutations
// to a single flow are linearized through the store's per-row version
// counter; losers of a write race re-read and retry.
type Service struct {
	store  repository.Store
	phases *PhaseConfig
	logger *logging.Logger
	opts   Options

	transitionCount metric.Int64Counter
	deletionCount   metric.Int64Counter
}

// NewService creates a flow Service.
func NewService(store repository.Store, phases *PhaseConfig, logger *logging.Logger, opts Options) (*Service, error) {
	if opts.ResumeTimeout <= 0 {
		opts.ResumeTimeout = defaultResumeTimeout
	}

	meter := otel.Meter("migration-discovery/backend/flow")
	transitionCount, err := meter.Int64Counter("flow.transitions",
		metric.WithDescription("Flow status transitions applied"))
	if err != nil {
		return nil, err
	}
	deletionCount, err := meter.Int64Counter("flow.deletions",
		metric.WithDescription("Flow delete operations by outcome"))
	if err != nil {
		return nil, err
	}

	return &Service{
		store:           store,
		phases:          phases,
		logger:          logger,
		opts:            opts,
		transitionCount: transitionCount,
		deletionCount:   deletionCount,
	}, nil
}

// storeRetryAttempts bounds internal retries of transient store contention
// before it surfaces to the caller.
const storeRetryAttempts = 3

// newStoreBackoff returns a fresh backoff for one retried operation.
// BackOff implementations are stateful, so never share instances.
func newStoreBackoff(ctx context.Context) backoff.BackOffContext {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 25 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	return backoff.WithContext(backoff.WithMaxRetries(bo, storeRetryAttempts-1), ctx)
}

// retryOnContention runs op, retrying with exponential backoff while it
// reports RetryableError. Other errors pass through immediately.
func retryOnContention(ctx context.Context, op func() error) error {
	wrapped := func() error {
		err := op()
		if err == nil || IsRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}
	err := backoff.Retry(wrapped, newStoreBackoff(ctx))
	var perm *backoff.PermanentError
	if errors.As(err, &perm) {
		return perm.Err
	}
	return err
}

// mapStoreErr translates repository sentinels into the service taxonomy.
func mapStoreErr(err error, flowID string) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, repository.ErrFlowNotFound):
		return &NotFoundError{Resource: "flow", ID: flowID}
	case errors.Is(err, repository.ErrVersionConflict):
		return Retryable(err)
	case errors.Is(err, context.DeadlineExceeded):
		return Retryable(err)
	}
	var exists *repository.ActiveFlowExistsError
	if errors.As(err, &exists) {
		return &ConflictError{BlockingFlowID: exists.BlockingFlowID}
	}
	return err
}

// Create starts a new flow for the tenant. The store's conditional insert is
// the concurrency guard: if the tenant already holds a non-terminal flow the
// returned ConflictError names it so the caller can offer resume or delete.
func (s *Service) Create(ctx context.Context, tenant models.TenantKey, flowType models.FlowType) (*models.Flow, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	seq, err := s.phases.Sequence(flowType)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	f := &models.Flow{
		ID:               uuid.New().String(),
		TenantKey:        tenant,
		FlowType:         flowType,
		Status:           models.FlowStatusInitializing,
		NextPhase:        seq[0],
		PhaseResults:     map[string][]models.PhaseResult{},
		CreatedAt:        now,
		UpdatedAt:        now,
		LastUserActivity: now,
	}
	if s.opts.FlowTTL > 0 {
		expires := now.Add(s.opts.FlowTTL)
		f.ExpiresAt = &expires
	}

	if err := s.store.CreateFlow(ctx, f); err != nil {
		mapped := mapStoreErr(err, f.ID)
		var c *ConflictError
		if errors.As(mapped, &c) {
			c.TenantKey = tenant
			s.logger.Info("flow creation blocked by existing flow",
				"tenant", tenant.String(), "blocking_flow_id", c.BlockingFlowID)
		}
		return nil, mapped
	}

	s.logger.Info("flow created", "flow_id", f.ID, "tenant", tenant.String(), "flow_type", string(flowType))
	return f, nil
}

// Get returns the flow with status and progress freshly derived from the
// phase results. The stored percentage and status are a cache; this is the
// authoritative read path.
func (s *Service) Get(ctx context.Context, tenant models.TenantKey, flowID string) (*models.Flow, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	f, err := s.store.GetFlow(ctx, tenant, flowID)
	if err != nil {
		return nil, mapStoreErr(err, flowID)
	}

	if err := s.refreshDerived(ctx, f); err != nil {
		return nil, err
	}
	return f, nil
}

// refreshDerived recomputes progress, reconciles the status when the derived
// value disagrees with the stored one, and writes the cache back on a
// best-effort basis.
func (s *Service) refreshDerived(ctx context.Context, f *models.Flow) error {
	p, err := ComputeProgress(s.phases, f)
	if err != nil {
		return err
	}

	changed := f.ProgressPercentage != p.Percentage || f.NextPhase != p.NextPhase
	f.ProgressPercentage = p.Percentage
	f.NextPhase = p.NextPhase

	// A failed phase overrides a stale stored status.
	if p.Status != f.Status && !f.Status.IsTerminal() && CanTransition(f.Status, p.Status) {
		rec, terr := Transition(f, p.Status, "derived from phase results")
		if terr == nil {
			s.recordTransition(ctx, rec)
			changed = true
		}
	}

	if changed {
		// Cache write-back only; a lost race here is harmless because
		// the next read re-derives.
		if err := s.store.UpdateFlow(ctx, f); err != nil && !errors.Is(err, repository.ErrVersionConflict) {
			s.logger.Warn("progress cache write-back failed", "flow_id", f.ID, "error", err)
		}
	}
	return nil
}

// ListIncomplete returns the tenant's non-terminal flows with freshly derived
// progress (not written back on the list path).
func (s *Service) ListIncomplete(ctx context.Context, tenant models.TenantKey) ([]*models.Flow, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	flows, err := s.store.ListFlows(ctx, tenant, repository.FlowFilter{Incomplete: true})
	if err != nil {
		return nil, err
	}
	for _, f := range flows {
		p, err := ComputeProgress(s.phases, f)
		if err != nil {
			return nil, err
		}
		f.ProgressPercentage = p.Percentage
		f.NextPhase = p.NextPhase
		if p.Status == models.FlowStatusFailed {
			f.Status = models.FlowStatusFailed
		}
	}
	return flows, nil
}

// RecordPhaseResult applies a completion callback from the execution layer.
// Phases are gated strictly sequentially: a result is only accepted for the
// first phase without a terminal result. Concurrent callbacks for the same
// flow are serialized by the store's version counter; the loser re-reads and
// retries here.
func (s *Service) RecordPhaseResult(ctx context.Context, tenant models.TenantKey, flowID, phase string, result models.PhaseResult) (*models.Flow, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	var out *models.Flow
	err := retryOnContention(ctx, func() error {
		f, err := s.applyPhaseResult(ctx, tenant, flowID, phase, result)
		if err != nil {
			return err
		}
		out = f
		return nil
	})
	return out, err
}

func (s *Service) applyPhaseResult(ctx context.Context, tenant models.TenantKey, flowID, phase string, result models.PhaseResult) (*models.Flow, error) {
	f, err := s.store.GetFlow(ctx, tenant, flowID)
	if err != nil {
		return nil, mapStoreErr(err, flowID)
	}

	if !s.phases.HasPhase(f.FlowType, phase) {
		return nil, fmt.Errorf("%w: %s for flow type %s", ErrUnknownPhase, phase, f.FlowType)
	}
	if f.Status.IsTerminal() {
		return nil, &InvalidTransitionError{From: f.Status, To: models.FlowStatusActive}
	}

	p, err := ComputeProgress(s.phases, f)
	if err != nil {
		return nil, err
	}
	expected := p.NextPhase
	if p.FailurePhase != "" {
		// A resumed flow retries the phase that failed; completed phases
		// are never re-opened.
		expected = p.FailurePhase
	}
	if phase != expected {
		return nil, &OutOfOrderPhaseError{FlowID: flowID, Reported: phase, Expected: expected}
	}

	var recs []models.TransitionRecord

	// First phase dispatch activates the flow.
	if f.Status == models.FlowStatusInitializing {
		rec, terr := Transition(f, models.FlowStatusActive, "first phase dispatched")
		if terr != nil {
			return nil, terr
		}
		recs = append(recs, rec)
	}

	result.Attempt = len(f.PhaseResults[phase]) + 1
	if result.Status != models.PhaseStatusInProgress && result.CompletedAt == nil {
		now := time.Now().UTC()
		result.CompletedAt = &now
	}
	f.PhaseResults[phase] = append(f.PhaseResults[phase], result)
	f.CurrentPhase = phase

	p, err = ComputeProgress(s.phases, f)
	if err != nil {
		return nil, err
	}
	f.ProgressPercentage = p.Percentage
	f.NextPhase = p.NextPhase

	switch {
	case p.FailurePhase != "":
		rec, terr := Transition(f, models.FlowStatusFailed, "phase failed: "+p.FailurePhase)
		if terr != nil {
			return nil, terr
		}
		recs = append(recs, rec)
	case p.Status == models.FlowStatusCompleted:
		rec, terr := Transition(f, models.FlowStatusCompleted, "terminal phase completed")
		if terr != nil {
			return nil, terr
		}
		recs = append(recs, rec)
	default:
		f.UpdatedAt = time.Now().UTC()
	}

	if err := s.store.UpdateFlow(ctx, f); err != nil {
		return nil, mapStoreErr(err, flowID)
	}
	for _, rec := range recs {
		s.recordTransition(ctx, rec)
	}

	s.logger.Info("phase result recorded",
		"flow_id", flowID, "phase", phase, "phase_status", string(result.Status),
		"flow_status", string(f.Status), "progress", f.ProgressPercentage)
	return f, nil
}

// Pause suspends an active flow and persists a resumption snapshot. Cursor is
// opaque execution-layer state carried through to Resume.
func (s *Service) Pause(ctx context.Context, tenant models.TenantKey, flowID string, cursor json.RawMessage) (*models.Flow, error) {
	return s.userTransition(ctx, tenant, flowID, models.FlowStatusPaused, "paused by user", func(f *models.Flow) {
		f.ResumptionSnapshot = &models.ResumptionSnapshot{
			SchemaVersion: models.SnapshotSchemaVersion,
			Phase:         f.NextPhase,
			Cursor:        cursor,
			CapturedAt:    time.Now().UTC(),
		}
	})
}

// RequestUserInput parks an active flow until the user responds.
func (s *Service) RequestUserInput(ctx context.Context, tenant models.TenantKey, flowID, reason string) (*models.Flow, error) {
	return s.userTransition(ctx, tenant, flowID, models.FlowStatusWaitingForUser, reason, nil)
}

// ProvideInput reactivates a flow waiting for user input.
func (s *Service) ProvideInput(ctx context.Context, tenant models.TenantKey, flowID string) (*models.Flow, error) {
	return s.userTransition(ctx, tenant, flowID, models.FlowStatusActive, "user input received", func(f *models.Flow) {
		f.LastUserActivity = time.Now().UTC()
	})
}

func (s *Service) userTransition(ctx context.Context, tenant models.TenantKey, flowID string, to models.FlowStatus, reason string, mutate func(*models.Flow)) (*models.Flow, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}

	var out *models.Flow
	err := retryOnContention(ctx, func() error {
		f, err := s.store.GetFlow(ctx, tenant, flowID)
		if err != nil {
			return mapStoreErr(err, flowID)
		}

		rec, terr := Transition(f, to, reason)
		if terr != nil {
			return terr
		}
		if mutate != nil {
			mutate(f)
		}

		if err := s.store.UpdateFlow(ctx, f); err != nil {
			return mapStoreErr(err, flowID)
		}
		s.recordTransition(ctx, rec)
		out = f
		return nil
	})
	return out, err
}

// Transitions returns a flow's append-only transition log.
func (s *Service) Transitions(ctx context.Context, tenant models.TenantKey, flowID string) ([]models.TransitionRecord, error) {
	if tenant.IsZero() {
		return nil, ErrMissingTenantKey
	}
	if _, err := s.store.GetFlow(ctx, tenant, flowID); err != nil {
		return nil, mapStoreErr(err, flowID)
	}
	return s.store.ListTransitions(ctx, tenant, flowID)
}

// recordTransition appends to the transition log and bumps the counter. Log
// writes are observability, not correctness, so failures are only logged.
func (s *Service) recordTransition(ctx context.Context, rec models.TransitionRecord) {
	if err := s.store.AppendTransition(ctx, rec); err != nil {
		s.logger.Warn("transition log append failed",
			"flow_id", rec.FlowID, "from", string(rec.From), "to", string(rec.To), "error", err)
	}
	s.transitionCount.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", string(rec.From)),
		attribute.String("to", string(rec.To)),
	))
}
