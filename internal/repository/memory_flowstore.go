package repository

import (
	"context"
	"sync"

	"migration-discovery/backend/pkg/models"
)

// MemoryStore is a goroutine-safe Store backed by maps. It mirrors the
// Postgres implementation's semantics (tenant scoping, version CAS, the
// one-active-flow constraint) and is used in unit tests and local runs.
type MemoryStore struct {
	mu          sync.RWMutex
	flows       map[string]*models.Flow
	resources   map[string]map[models.ResourceType]int
	transitions []models.TransitionRecord
	audits      map[string]*models.DeletionAuditRecord

	// DeleteResourcesHook, when set, runs before each resource-category
	// delete. Tests use it to simulate mid-cleanup store failures.
	DeleteResourcesHook func(flowID string, rt models.ResourceType) error
}

// Ensure MemoryStore implements the combined store surface.
var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		flows:     make(map[string]*models.Flow),
		resources: make(map[string]map[models.ResourceType]int),
		audits:    make(map[string]*models.DeletionAuditRecord),
	}
}

func cloneFlow(f *models.Flow) *models.Flow {
	c := *f
	c.PhaseResults = make(map[string][]models.PhaseResult, len(f.PhaseResults))
	for name, attempts := range f.PhaseResults {
		c.PhaseResults[name] = append([]models.PhaseResult(nil), attempts...)
	}
	if f.ResumptionSnapshot != nil {
		snap := *f.ResumptionSnapshot
		c.ResumptionSnapshot = &snap
	}
	if f.ExpiresAt != nil {
		t := *f.ExpiresAt
		c.ExpiresAt = &t
	}
	return &c
}

func cloneAudit(rec *models.DeletionAuditRecord) *models.DeletionAuditRecord {
	c := *rec
	c.ResourcesRemoved = make(map[models.ResourceType]int, len(rec.ResourcesRemoved))
	for rt, n := range rec.ResourcesRemoved {
		c.ResourcesRemoved[rt] = n
	}
	if rec.Snapshot != nil {
		c.Snapshot = cloneFlow(rec.Snapshot)
	}
	if rec.CompletedAt != nil {
		t := *rec.CompletedAt
		c.CompletedAt = &t
	}
	return &c
}

func (s *MemoryStore) CreateFlow(_ context.Context, f *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, existing := range s.flows {
		if existing.TenantKey == f.TenantKey && !existing.Status.IsTerminal() {
			return &ActiveFlowExistsError{BlockingFlowID: existing.ID}
		}
	}

	f.Version = 1
	s.flows[f.ID] = cloneFlow(f)
	return nil
}

func (s *MemoryStore) GetFlow(_ context.Context, tenant models.TenantKey, id string) (*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	f, ok := s.flows[id]
	if !ok || f.TenantKey != tenant {
		return nil, ErrFlowNotFound
	}
	return cloneFlow(f), nil
}

func (s *MemoryStore) ListFlows(_ context.Context, tenant models.TenantKey, filter FlowFilter) ([]*models.Flow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.Flow
	for _, f := range s.flows {
		if f.TenantKey != tenant {
			continue
		}
		if filter.Incomplete && f.Status.IsTerminal() {
			continue
		}
		if filter.Status != "" && f.Status != filter.Status {
			continue
		}
		result = append(result, cloneFlow(f))
	}
	return result, nil
}

func (s *MemoryStore) UpdateFlow(_ context.Context, f *models.Flow) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.flows[f.ID]
	if !ok || existing.TenantKey != f.TenantKey {
		return ErrFlowNotFound
	}
	if existing.Version != f.Version {
		return ErrVersionConflict
	}

	f.Version++
	s.flows[f.ID] = cloneFlow(f)
	return nil
}

func (s *MemoryStore) CompareAndSwapStatus(_ context.Context, tenant models.TenantKey, id string, from, to models.FlowStatus) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[id]
	if !ok || f.TenantKey != tenant {
		return false, ErrFlowNotFound
	}
	if f.Status != from {
		return false, nil
	}

	f.Status = to
	f.Version++
	return true, nil
}

func (s *MemoryStore) DeleteFlow(_ context.Context, tenant models.TenantKey, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flows[id]
	if !ok || f.TenantKey != tenant {
		return ErrFlowNotFound
	}

	delete(s.flows, id)
	delete(s.resources, id)
	return nil
}

func (s *MemoryStore) AppendTransition(_ context.Context, rec models.TransitionRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.transitions = append(s.transitions, rec)
	return nil
}

func (s *MemoryStore) ListTransitions(_ context.Context, tenant models.TenantKey, flowID string) ([]models.TransitionRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.TransitionRecord
	for _, rec := range s.transitions {
		if rec.FlowID == flowID && rec.TenantKey == tenant {
			result = append(result, rec)
		}
	}
	return result, nil
}

// SeedResources records n owned rows of the given category for a flow.
// The execution layer owns resource writes in production; tests and the seed
// command use this to populate cleanup inputs.
func (s *MemoryStore) SeedResources(flowID string, rt models.ResourceType, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.resources[flowID] == nil {
		s.resources[flowID] = make(map[models.ResourceType]int)
	}
	s.resources[flowID][rt] += n
}

func (s *MemoryStore) CountResources(_ context.Context, tenant models.TenantKey, flowID string, rt models.ResourceType) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if f, ok := s.flows[flowID]; !ok || f.TenantKey != tenant {
		return 0, ErrFlowNotFound
	}
	return s.resources[flowID][rt], nil
}

func (s *MemoryStore) DeleteResources(_ context.Context, tenant models.TenantKey, flowID string, rt models.ResourceType) (int, error) {
	if s.DeleteResourcesHook != nil {
		if err := s.DeleteResourcesHook(flowID, rt); err != nil {
			return 0, err
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if f, ok := s.flows[flowID]; !ok || f.TenantKey != tenant {
		return 0, ErrFlowNotFound
	}

	n := s.resources[flowID][rt]
	if s.resources[flowID] != nil {
		delete(s.resources[flowID], rt)
	}
	return n, nil
}

func (s *MemoryStore) CreateAudit(_ context.Context, rec *models.DeletionAuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.audits[rec.ID] = cloneAudit(rec)
	return nil
}

func (s *MemoryStore) FinalizeAudit(_ context.Context, rec *models.DeletionAuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.audits[rec.ID]
	if !ok || existing.TenantKey != rec.TenantKey {
		return ErrAuditNotFound
	}
	if existing.Outcome.IsTerminal() {
		return ErrAuditFinalized
	}

	s.audits[rec.ID] = cloneAudit(rec)
	return nil
}

func (s *MemoryStore) GetAudit(_ context.Context, tenant models.TenantKey, id string) (*models.DeletionAuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rec, ok := s.audits[id]
	if !ok || rec.TenantKey != tenant {
		return nil, ErrAuditNotFound
	}
	return cloneAudit(rec), nil
}

func (s *MemoryStore) ListAudits(_ context.Context, tenant models.TenantKey) ([]*models.DeletionAuditRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*models.DeletionAuditRecord
	for _, rec := range s.audits {
		if rec.TenantKey == tenant {
			result = append(result, cloneAudit(rec))
		}
	}
	return result, nil
}
