package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"migration-discovery/backend/internal/flow"
	"migration-discovery/backend/internal/logging"
	"migration-discovery/backend/internal/repository"
	"migration-discovery/backend/pkg/models"
)

func newTestServer(t *testing.T) (*echo.Echo, *repository.MemoryStore) {
	t.Helper()

	store := repository.NewMemoryStore()
	svc, err := flow.NewService(store, flow.DefaultPhaseConfig(), logging.NewLogger(), flow.Options{})
	require.NoError(t, err)

	e := echo.New()
	h := NewHandler(svc, logging.NewLogger())
	e.GET("/healthz", h.HandleHealth)
	h.RegisterRoutes(e.Group("/api/v1"))
	return e, store
}

func doRequest(t *testing.T, e *echo.Echo, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	return doRequestAs(t, e, method, path, body, "acct-1", "eng-1")
}

func doRequestAs(t *testing.T, e *echo.Echo, method, path, body, account, engagement string) *httptest.ResponseRecorder {
	t.Helper()

	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != "" {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	if account != "" {
		req.Header.Set("X-Client-Account", account)
	}
	if engagement != "" {
		req.Header.Set("X-Engagement", engagement)
	}

	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func decodeFlow(t *testing.T, rec *httptest.ResponseRecorder) models.Flow {
	t.Helper()
	var f models.Flow
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &f))
	return f
}

func decodeProblem(t *testing.T, rec *httptest.ResponseRecorder) ProblemDetails {
	t.Helper()
	assert.Contains(t, rec.Header().Get(echo.HeaderContentType), "application/problem+json")
	var p ProblemDetails
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &p))
	return p
}

func TestHealthEndpoint(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(t, e, http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestCreateFlowConflictCarriesBlockingID(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{"flow_type":"discovery"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	first := decodeFlow(t, rec)
	assert.Equal(t, models.FlowStatusInitializing, first.Status)
	assert.Equal(t, "data_import", first.NextPhase)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows", `{"flow_type":"discovery"}`)
	require.Equal(t, http.StatusConflict, rec.Code)
	problem := decodeProblem(t, rec)
	assert.Equal(t, first.ID, problem.BlockingFlowID)
	assert.Equal(t, http.StatusConflict, problem.Status)

	// A different tenant is unaffected.
	rec = doRequestAs(t, e, http.MethodPost, "/api/v1/flows", `{}`, "acct-2", "eng-1")
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestCreateFlowRequiresTenantHeaders(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequestAs(t, e, http.MethodPost, "/api/v1/flows", `{}`, "", "")
	require.Equal(t, http.StatusBadRequest, rec.Code)
	decodeProblem(t, rec)
}

func TestCreateFlowUnknownType(t *testing.T) {
	e, _ := newTestServer(t)
	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{"flow_type":"nonsense"}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetFlowCrossTenantIsNotFound(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decodeFlow(t, rec)

	rec = doRequest(t, e, http.MethodGet, "/api/v1/flows/"+f.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)

	// Never 403: ownership failures are indistinguishable from absence.
	rec = doRequestAs(t, e, http.MethodGet, "/api/v1/flows/"+f.ID, "", "acct-2", "eng-1")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPhaseCallbackLifecycle(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decodeFlow(t, rec)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/phases/data_import", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	updated := decodeFlow(t, rec)
	assert.Equal(t, models.FlowStatusActive, updated.Status)
	assert.Equal(t, 16, updated.ProgressPercentage)
	assert.Equal(t, "readiness", updated.NextPhase)

	// Skipping ahead in the sequence is a conflict.
	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/phases/wave_planning", `{"status":"completed"}`)
	assert.Equal(t, http.StatusConflict, rec.Code)

	// Failure short-circuits the flow.
	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/phases/readiness", `{"status":"failed","error":"schema drift"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	failed := decodeFlow(t, rec)
	assert.Equal(t, models.FlowStatusFailed, failed.Status)
	assert.Equal(t, 16, failed.ProgressPercentage)

	rec = doRequest(t, e, http.MethodGet, "/api/v1/flows/"+f.ID+"/transitions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var transitions []models.TransitionRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &transitions))
	require.NotEmpty(t, transitions)
	assert.Equal(t, models.FlowStatusFailed, transitions[len(transitions)-1].To)
}

func TestPhaseCallbackRejectsUnknownStatus(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decodeFlow(t, rec)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/phases/data_import", `{"status":"exploded"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPauseAndResumeEndpoints(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decodeFlow(t, rec)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/phases/data_import", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/pause", `{"cursor":{"offset":42}}`)
	require.Equal(t, http.StatusOK, rec.Code)
	paused := decodeFlow(t, rec)
	assert.Equal(t, models.FlowStatusPaused, paused.Status)
	require.NotNil(t, paused.ResumptionSnapshot)
	assert.Equal(t, "readiness", paused.ResumptionSnapshot.Phase)

	// Resuming an already-active flow after the first resume is a 409.
	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/resume", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var execCtx flow.ExecutionContext
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &execCtx))
	assert.Equal(t, "readiness", execCtx.ResumePhase)
	require.NotNil(t, execCtx.Snapshot)
	assert.JSONEq(t, `{"offset":42}`, string(execCtx.Snapshot.Cursor))

	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/resume", "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestResumeIncompatibleSnapshotIs422(t *testing.T) {
	e, store := newTestServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decodeFlow(t, rec)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/phases/data_import", `{"status":"completed"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/pause", `{}`)
	require.Equal(t, http.StatusOK, rec.Code)

	tenant := models.TenantKey{ClientAccountID: "acct-1", EngagementID: "eng-1"}
	raw, err := store.GetFlow(context.Background(), tenant, f.ID)
	require.NoError(t, err)
	raw.ResumptionSnapshot.SchemaVersion = models.SnapshotSchemaVersion - 1
	require.NoError(t, store.UpdateFlow(context.Background(), raw))

	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/resume", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestDeleteFlowReturnsAudit(t *testing.T) {
	e, store := newTestServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decodeFlow(t, rec)
	store.SeedResources(f.ID, models.ResourceImportedRecords, 5)

	// Activate, then deletion without force is refused.
	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/phases/data_import", `{"status":"in_progress"}`)
	require.Equal(t, http.StatusOK, rec.Code)
	rec = doRequest(t, e, http.MethodDelete, "/api/v1/flows/"+f.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = doRequest(t, e, http.MethodDelete, "/api/v1/flows/"+f.ID+"?force=true", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var audit models.DeletionAuditRecord
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &audit))
	assert.Equal(t, models.DeletionOutcomeSuccess, audit.Outcome)
	assert.Equal(t, 5, audit.ResourcesRemoved[models.ResourceImportedRecords])

	rec = doRequest(t, e, http.MethodGet, "/api/v1/flows/"+f.ID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = doRequest(t, e, http.MethodGet, "/api/v1/audits/"+audit.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestBatchDeleteEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	var ids []string
	for i := 0; i < 2; i++ {
		rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{}`)
		require.Equal(t, http.StatusCreated, rec.Code)
		f := decodeFlow(t, rec)
		ids = append(ids, f.ID)

		rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/"+f.ID+"/phases/data_import", `{"status":"failed","error":"boom"}`)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	body, err := json.Marshal(BatchDeleteRequest{FlowIDs: ids})
	require.NoError(t, err)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows/batch-delete", string(body))
	require.Equal(t, http.StatusOK, rec.Code)
	var result models.BatchDeleteResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &result))
	assert.Equal(t, 2, result.Succeeded)
	assert.Len(t, result.Audits, 2)

	rec = doRequest(t, e, http.MethodPost, "/api/v1/flows/batch-delete", `{"flow_ids":[]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidationEndpoint(t *testing.T) {
	e, _ := newTestServer(t)

	rec := doRequest(t, e, http.MethodPost, "/api/v1/flows", `{}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	f := decodeFlow(t, rec)

	rec = doRequest(t, e, http.MethodGet, "/api/v1/flows/"+f.ID+"/validation", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var report flow.ValidationReport
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.True(t, report.Valid)
	assert.Equal(t, f.ID, report.FlowID)
}
