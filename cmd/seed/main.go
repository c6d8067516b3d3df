// Command seed populates a local database with a demo tenant and a few flows
// in characteristic states, for exercising the API by hand.
package main

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"migration-discovery/backend/internal/config"
	"migration-discovery/backend/internal/flow"
	"migration-discovery/backend/internal/logging"
	"migration-discovery/backend/internal/repository"
	"migration-discovery/backend/pkg/models"
)

func main() {
	ctx := context.Background()
	logger := logging.NewLogger()

	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	connStr := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.DB.Host, cfg.DB.Port, cfg.DB.User, cfg.DB.Password, cfg.DB.Name, cfg.DB.SSLMode,
	)
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		log.Fatalf("Failed to connect to DB: %v", err)
	}
	defer pool.Close()

	store := repository.NewPostgresStore(pool)
	if err := store.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to initialize schema: %v", err)
	}

	svc, err := flow.NewService(store, flow.DefaultPhaseConfig(), logger, flow.Options{})
	if err != nil {
		log.Fatalf("Failed to create flow service: %v", err)
	}

	tenant := models.TenantKey{ClientAccountID: "demo-account", EngagementID: "demo-engagement"}

	// Skip if the demo tenant already holds a flow.
	existing, err := svc.ListIncomplete(ctx, tenant)
	if err != nil {
		log.Fatalf("Failed to list existing flows: %v", err)
	}
	if len(existing) > 0 {
		logger.Info("Demo tenant already seeded", "flow_id", existing[0].ID)
		return
	}

	f, err := svc.Create(ctx, tenant, models.FlowTypeDiscovery)
	if err != nil {
		log.Fatalf("Failed to create demo flow: %v", err)
	}
	logger.Info("Seeded flow", "flow_id", f.ID, "tenant", tenant.String())

	// Walk the flow part-way: two phases done, the third failed, so the
	// dashboard has something interesting to show.
	steps := []struct {
		phase  string
		result models.PhaseResult
	}{
		{flow.PhaseDataImport, models.PhaseResult{Status: models.PhaseStatusCompleted, PayloadRef: "imports/demo"}},
		{flow.PhaseReadiness, models.PhaseResult{Status: models.PhaseStatusCompleted, PayloadRef: "readiness/demo"}},
		{flow.PhaseComplexity, models.PhaseResult{Status: models.PhaseStatusFailed, Error: "complexity scoring timed out"}},
	}
	for _, step := range steps {
		if _, err := svc.RecordPhaseResult(ctx, tenant, f.ID, step.phase, step.result); err != nil {
			log.Fatalf("Failed to record %s: %v", step.phase, err)
		}
		logger.Info("Seeded phase result", "phase", step.phase, "status", string(step.result.Status))
	}

	// Give the flow some owned data so deletion audits have counts.
	for i := 0; i < 25; i++ {
		if _, err := pool.Exec(ctx, `
			INSERT INTO imported_records (id, flow_id, client_account_id, engagement_id, payload)
			VALUES ($1, $2, $3, $4, $5)`,
			uuid.New().String(), f.ID, tenant.ClientAccountID, tenant.EngagementID,
			fmt.Sprintf(`{"row": %d}`, i),
		); err != nil {
			log.Fatalf("Failed to seed imported record: %v", err)
		}
	}
	for i := 0; i < 4; i++ {
		if _, err := pool.Exec(ctx, `
			INSERT INTO phase_artifacts (id, flow_id, client_account_id, engagement_id, phase, payload)
			VALUES ($1, $2, $3, $4, $5, '{}')`,
			uuid.New().String(), f.ID, tenant.ClientAccountID, tenant.EngagementID, flow.PhaseDataImport,
		); err != nil {
			log.Fatalf("Failed to seed phase artifact: %v", err)
		}
	}

	logger.Info("Seeding complete!", "flow_id", f.ID)
}
