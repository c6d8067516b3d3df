package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"migration-discovery/backend/pkg/models"
)

// PostgresStore is a PostgreSQL implementation of the Store interface.
//
// The one-active-flow-per-tenant invariant is enforced by a partial unique
// index on (client_account_id, engagement_id) restricted to non-terminal
// statuses, so it holds under concurrent creates across service replicas.
type PostgresStore struct {
	db *pgxpool.Pool
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{db: db}
}

// resourceTables maps owned-resource categories to their tables. Deletion
// only ever touches tables named here.
var resourceTables = map[models.ResourceType]string{
	models.ResourceImportedRecords: "imported_records",
	models.ResourceDerivedAssets:   "derived_assets",
	models.ResourcePhaseArtifacts:  "phase_artifacts",
	models.ResourceAgentContexts:   "agent_contexts",
}

const schema = `
CREATE TABLE IF NOT EXISTS flows (
	id UUID PRIMARY KEY,
	client_account_id TEXT NOT NULL,
	engagement_id TEXT NOT NULL,
	flow_type TEXT NOT NULL,
	status TEXT NOT NULL,
	current_phase TEXT NOT NULL DEFAULT '',
	next_phase TEXT NOT NULL DEFAULT '',
	phase_results JSONB NOT NULL DEFAULT '{}',
	progress_percentage INT NOT NULL DEFAULT 0,
	resumption_snapshot JSONB,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL,
	last_user_activity TIMESTAMPTZ NOT NULL,
	expiration_at TIMESTAMPTZ,
	version BIGINT NOT NULL
);

CREATE UNIQUE INDEX IF NOT EXISTS flows_one_active_per_tenant
	ON flows (client_account_id, engagement_id)
	WHERE status IN ('initializing', 'active', 'paused', 'waiting_for_user');

CREATE TABLE IF NOT EXISTS flow_transitions (
	id BIGSERIAL PRIMARY KEY,
	flow_id UUID NOT NULL,
	client_account_id TEXT NOT NULL,
	engagement_id TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	reason TEXT NOT NULL DEFAULT '',
	at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS flow_deletion_audits (
	id UUID PRIMARY KEY,
	flow_id UUID NOT NULL,
	client_account_id TEXT NOT NULL,
	engagement_id TEXT NOT NULL,
	deletion_reason TEXT NOT NULL,
	snapshot JSONB,
	resources_removed JSONB NOT NULL DEFAULT '{}',
	outcome TEXT NOT NULL,
	failed_category TEXT NOT NULL DEFAULT '',
	failure_detail TEXT NOT NULL DEFAULT '',
	started_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS imported_records (
	id UUID PRIMARY KEY,
	flow_id UUID NOT NULL,
	client_account_id TEXT NOT NULL,
	engagement_id TEXT NOT NULL,
	payload JSONB
);

CREATE TABLE IF NOT EXISTS derived_assets (
	id UUID PRIMARY KEY,
	flow_id UUID NOT NULL,
	client_account_id TEXT NOT NULL,
	engagement_id TEXT NOT NULL,
	payload JSONB
);

CREATE TABLE IF NOT EXISTS phase_artifacts (
	id UUID PRIMARY KEY,
	flow_id UUID NOT NULL,
	client_account_id TEXT NOT NULL,
	engagement_id TEXT NOT NULL,
	phase TEXT NOT NULL DEFAULT '',
	payload JSONB
);

CREATE TABLE IF NOT EXISTS agent_contexts (
	id UUID PRIMARY KEY,
	flow_id UUID NOT NULL,
	client_account_id TEXT NOT NULL,
	engagement_id TEXT NOT NULL,
	payload JSONB
);
`

// InitSchema creates the required tables and indexes if they do not exist.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	_, err := s.db.Exec(ctx, schema)
	return err
}

const flowColumns = `id, client_account_id, engagement_id, flow_type, status,
	current_phase, next_phase, phase_results, progress_percentage,
	resumption_snapshot, created_at, updated_at, last_user_activity,
	expiration_at, version`

func (s *PostgresStore) CreateFlow(ctx context.Context, f *models.Flow) error {
	phaseResults, snapshot, err := encodeFlowBlobs(f)
	if err != nil {
		return err
	}

	f.Version = 1
	_, err = s.db.Exec(ctx, `
		INSERT INTO flows (`+flowColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		f.ID, f.TenantKey.ClientAccountID, f.TenantKey.EngagementID,
		string(f.FlowType), string(f.Status), f.CurrentPhase, f.NextPhase,
		phaseResults, f.ProgressPercentage, snapshot,
		f.CreatedAt, f.UpdatedAt, f.LastUserActivity, f.ExpiresAt, f.Version,
	)
	if err == nil {
		return nil
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		blocking, lookupErr := s.findBlockingFlowID(ctx, f.TenantKey)
		if lookupErr != nil {
			return lookupErr
		}
		return &ActiveFlowExistsError{BlockingFlowID: blocking}
	}
	return err
}

func (s *PostgresStore) findBlockingFlowID(ctx context.Context, tenant models.TenantKey) (string, error) {
	var id string
	err := s.db.QueryRow(ctx, `
		SELECT id FROM flows
		WHERE client_account_id = $1 AND engagement_id = $2
		AND status IN ('initializing', 'active', 'paused', 'waiting_for_user')`,
		tenant.ClientAccountID, tenant.EngagementID,
	).Scan(&id)
	return id, err
}

func (s *PostgresStore) GetFlow(ctx context.Context, tenant models.TenantKey, id string) (*models.Flow, error) {
	row := s.db.QueryRow(ctx, `
		SELECT `+flowColumns+` FROM flows
		WHERE id = $1 AND client_account_id = $2 AND engagement_id = $3`,
		id, tenant.ClientAccountID, tenant.EngagementID,
	)
	f, err := scanFlow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrFlowNotFound
	}
	return f, err
}

func (s *PostgresStore) ListFlows(ctx context.Context, tenant models.TenantKey, filter FlowFilter) ([]*models.Flow, error) {
	query := `SELECT ` + flowColumns + ` FROM flows
		WHERE client_account_id = $1 AND engagement_id = $2`
	args := []any{tenant.ClientAccountID, tenant.EngagementID}

	if filter.Incomplete {
		query += ` AND status IN ('initializing', 'active', 'paused', 'waiting_for_user')`
	}
	if filter.Status != "" {
		args = append(args, string(filter.Status))
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	query += " ORDER BY created_at"

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var flows []*models.Flow
	for rows.Next() {
		f, err := scanFlow(rows)
		if err != nil {
			return nil, err
		}
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *PostgresStore) UpdateFlow(ctx context.Context, f *models.Flow) error {
	phaseResults, snapshot, err := encodeFlowBlobs(f)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE flows SET
			status = $1, current_phase = $2, next_phase = $3,
			phase_results = $4, progress_percentage = $5,
			resumption_snapshot = $6, updated_at = $7,
			last_user_activity = $8, expiration_at = $9,
			version = version + 1
		WHERE id = $10 AND client_account_id = $11 AND engagement_id = $12
			AND version = $13`,
		string(f.Status), f.CurrentPhase, f.NextPhase,
		phaseResults, f.ProgressPercentage, snapshot,
		f.UpdatedAt, f.LastUserActivity, f.ExpiresAt,
		f.ID, f.TenantKey.ClientAccountID, f.TenantKey.EngagementID, f.Version,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		// Distinguish a stale version from a missing row.
		if _, getErr := s.GetFlow(ctx, f.TenantKey, f.ID); getErr != nil {
			return getErr
		}
		return ErrVersionConflict
	}

	f.Version++
	return nil
}

func (s *PostgresStore) CompareAndSwapStatus(ctx context.Context, tenant models.TenantKey, id string, from, to models.FlowStatus) (bool, error) {
	tag, err := s.db.Exec(ctx, `
		UPDATE flows SET status = $1, updated_at = $2, version = version + 1
		WHERE id = $3 AND client_account_id = $4 AND engagement_id = $5
			AND status = $6`,
		string(to), time.Now().UTC(),
		id, tenant.ClientAccountID, tenant.EngagementID, string(from),
	)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetFlow(ctx, tenant, id); getErr != nil {
			return false, getErr
		}
		return false, nil
	}
	return true, nil
}

func (s *PostgresStore) DeleteFlow(ctx context.Context, tenant models.TenantKey, id string) error {
	tag, err := s.db.Exec(ctx, `
		DELETE FROM flows
		WHERE id = $1 AND client_account_id = $2 AND engagement_id = $3`,
		id, tenant.ClientAccountID, tenant.EngagementID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrFlowNotFound
	}
	return nil
}

func (s *PostgresStore) AppendTransition(ctx context.Context, rec models.TransitionRecord) error {
	_, err := s.db.Exec(ctx, `
		INSERT INTO flow_transitions (flow_id, client_account_id, engagement_id, from_status, to_status, reason, at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		rec.FlowID, rec.TenantKey.ClientAccountID, rec.TenantKey.EngagementID,
		string(rec.From), string(rec.To), rec.Reason, rec.At,
	)
	return err
}

func (s *PostgresStore) ListTransitions(ctx context.Context, tenant models.TenantKey, flowID string) ([]models.TransitionRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT flow_id, from_status, to_status, reason, at FROM flow_transitions
		WHERE flow_id = $1 AND client_account_id = $2 AND engagement_id = $3
		ORDER BY id`,
		flowID, tenant.ClientAccountID, tenant.EngagementID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []models.TransitionRecord
	for rows.Next() {
		rec := models.TransitionRecord{TenantKey: tenant}
		var from, to string
		if err := rows.Scan(&rec.FlowID, &from, &to, &rec.Reason, &rec.At); err != nil {
			return nil, err
		}
		rec.From = models.FlowStatus(from)
		rec.To = models.FlowStatus(to)
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

func (s *PostgresStore) CountResources(ctx context.Context, tenant models.TenantKey, flowID string, rt models.ResourceType) (int, error) {
	table, ok := resourceTables[rt]
	if !ok {
		return 0, fmt.Errorf("unknown resource type %q", rt)
	}

	var n int
	err := s.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM `+table+`
		WHERE flow_id = $1 AND client_account_id = $2 AND engagement_id = $3`,
		flowID, tenant.ClientAccountID, tenant.EngagementID,
	).Scan(&n)
	return n, err
}

func (s *PostgresStore) DeleteResources(ctx context.Context, tenant models.TenantKey, flowID string, rt models.ResourceType) (int, error) {
	table, ok := resourceTables[rt]
	if !ok {
		return 0, fmt.Errorf("unknown resource type %q", rt)
	}

	tag, err := s.db.Exec(ctx, `
		DELETE FROM `+table+`
		WHERE flow_id = $1 AND client_account_id = $2 AND engagement_id = $3`,
		flowID, tenant.ClientAccountID, tenant.EngagementID,
	)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *PostgresStore) CreateAudit(ctx context.Context, rec *models.DeletionAuditRecord) error {
	snapshot, removed, err := encodeAuditBlobs(rec)
	if err != nil {
		return err
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO flow_deletion_audits (id, flow_id, client_account_id, engagement_id,
			deletion_reason, snapshot, resources_removed, outcome,
			failed_category, failure_detail, started_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		rec.ID, rec.FlowID, rec.TenantKey.ClientAccountID, rec.TenantKey.EngagementID,
		string(rec.Reason), snapshot, removed, string(rec.Outcome),
		string(rec.FailedCategory), rec.FailureDetail, rec.StartedAt, rec.CompletedAt,
	)
	return err
}

func (s *PostgresStore) FinalizeAudit(ctx context.Context, rec *models.DeletionAuditRecord) error {
	_, removed, err := encodeAuditBlobs(rec)
	if err != nil {
		return err
	}

	tag, err := s.db.Exec(ctx, `
		UPDATE flow_deletion_audits SET
			resources_removed = $1, outcome = $2,
			failed_category = $3, failure_detail = $4, completed_at = $5
		WHERE id = $6 AND client_account_id = $7 AND engagement_id = $8
			AND outcome = 'in_progress'`,
		removed, string(rec.Outcome),
		string(rec.FailedCategory), rec.FailureDetail, rec.CompletedAt,
		rec.ID, rec.TenantKey.ClientAccountID, rec.TenantKey.EngagementID,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		if _, getErr := s.GetAudit(ctx, rec.TenantKey, rec.ID); getErr != nil {
			return getErr
		}
		return ErrAuditFinalized
	}
	return nil
}

func (s *PostgresStore) GetAudit(ctx context.Context, tenant models.TenantKey, id string) (*models.DeletionAuditRecord, error) {
	row := s.db.QueryRow(ctx, `
		SELECT id, flow_id, deletion_reason, snapshot, resources_removed,
			outcome, failed_category, failure_detail, started_at, completed_at
		FROM flow_deletion_audits
		WHERE id = $1 AND client_account_id = $2 AND engagement_id = $3`,
		id, tenant.ClientAccountID, tenant.EngagementID,
	)
	rec, err := scanAudit(row, tenant)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrAuditNotFound
	}
	return rec, err
}

func (s *PostgresStore) ListAudits(ctx context.Context, tenant models.TenantKey) ([]*models.DeletionAuditRecord, error) {
	rows, err := s.db.Query(ctx, `
		SELECT id, flow_id, deletion_reason, snapshot, resources_removed,
			outcome, failed_category, failure_detail, started_at, completed_at
		FROM flow_deletion_audits
		WHERE client_account_id = $1 AND engagement_id = $2
		ORDER BY started_at`,
		tenant.ClientAccountID, tenant.EngagementID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var recs []*models.DeletionAuditRecord
	for rows.Next() {
		rec, err := scanAudit(rows, tenant)
		if err != nil {
			return nil, err
		}
		recs = append(recs, rec)
	}
	return recs, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func encodeFlowBlobs(f *models.Flow) (phaseResults, snapshot []byte, err error) {
	results := f.PhaseResults
	if results == nil {
		results = map[string][]models.PhaseResult{}
	}
	phaseResults, err = json.Marshal(results)
	if err != nil {
		return nil, nil, err
	}
	if f.ResumptionSnapshot != nil {
		snapshot, err = json.Marshal(f.ResumptionSnapshot)
		if err != nil {
			return nil, nil, err
		}
	}
	return phaseResults, snapshot, nil
}

func scanFlow(row rowScanner) (*models.Flow, error) {
	var f models.Flow
	var flowType, status string
	var phaseResults, snapshot []byte

	err := row.Scan(
		&f.ID, &f.TenantKey.ClientAccountID, &f.TenantKey.EngagementID,
		&flowType, &status, &f.CurrentPhase, &f.NextPhase,
		&phaseResults, &f.ProgressPercentage, &snapshot,
		&f.CreatedAt, &f.UpdatedAt, &f.LastUserActivity, &f.ExpiresAt, &f.Version,
	)
	if err != nil {
		return nil, err
	}

	f.FlowType = models.FlowType(flowType)
	f.Status = models.FlowStatus(status)

	if err := json.Unmarshal(phaseResults, &f.PhaseResults); err != nil {
		return nil, fmt.Errorf("decode phase results for flow %s: %w", f.ID, err)
	}
	if len(snapshot) > 0 {
		var snap models.ResumptionSnapshot
		if err := json.Unmarshal(snapshot, &snap); err != nil {
			return nil, fmt.Errorf("decode resumption snapshot for flow %s: %w", f.ID, err)
		}
		f.ResumptionSnapshot = &snap
	}
	return &f, nil
}

func encodeAuditBlobs(rec *models.DeletionAuditRecord) (snapshot, removed []byte, err error) {
	if rec.Snapshot != nil {
		snapshot, err = json.Marshal(rec.Snapshot)
		if err != nil {
			return nil, nil, err
		}
	}
	counts := rec.ResourcesRemoved
	if counts == nil {
		counts = map[models.ResourceType]int{}
	}
	removed, err = json.Marshal(counts)
	if err != nil {
		return nil, nil, err
	}
	return snapshot, removed, nil
}

func scanAudit(row rowScanner, tenant models.TenantKey) (*models.DeletionAuditRecord, error) {
	rec := models.DeletionAuditRecord{TenantKey: tenant}
	var reason, outcome, failedCategory string
	var snapshot, removed []byte

	err := row.Scan(
		&rec.ID, &rec.FlowID, &reason, &snapshot, &removed,
		&outcome, &failedCategory, &rec.FailureDetail,
		&rec.StartedAt, &rec.CompletedAt,
	)
	if err != nil {
		return nil, err
	}

	rec.Reason = models.DeletionReason(reason)
	rec.Outcome = models.DeletionOutcome(outcome)
	rec.FailedCategory = models.ResourceType(failedCategory)

	if len(snapshot) > 0 {
		var snap models.Flow
		if err := json.Unmarshal(snapshot, &snap); err != nil {
			return nil, fmt.Errorf("decode audit snapshot %s: %w", rec.ID, err)
		}
		rec.Snapshot = &snap
	}
	if err := json.Unmarshal(removed, &rec.ResourcesRemoved); err != nil {
		return nil, fmt.Errorf("decode audit resource counts %s: %w", rec.ID, err)
	}
	return &rec, nil
}
