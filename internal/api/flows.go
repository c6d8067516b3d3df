package api

import (
	"encoding/json"
	"net/http"

	"github.com/labstack/echo/v4"

	"migration-discovery/backend/pkg/models"
)

// RegisterRoutes mounts the flow lifecycle endpoints on the given group.
func (h *Handler) RegisterRoutes(g *echo.Group) {
	g.POST("/flows", h.CreateFlow)
	g.GET("/flows", h.ListFlows)
	g.GET("/flows/:id", h.GetFlow)
	g.GET("/flows/:id/validation", h.ValidateFlow)
	g.GET("/flows/:id/transitions", h.ListTransitions)
	g.POST("/flows/:id/resume", h.ResumeFlow)
	g.POST("/flows/:id/pause", h.PauseFlow)
	g.POST("/flows/:id/input", h.ProvideInput)
	g.POST("/flows/:id/phases/:phase", h.RecordPhaseResult)
	g.DELETE("/flows/:id", h.DeleteFlow)
	g.POST("/flows/batch-delete", h.BatchDeleteFlows)
	g.GET("/audits/:id", h.GetAudit)
}

// CreateFlowRequest is the body of POST /flows.
type CreateFlowRequest struct {
	FlowType models.FlowType `json:"flow_type"`
}

// CreateFlow creates a flow for the tenant, enforcing the single-active-flow
// constraint. A 409 response carries the blocking flow id.
// (POST /flows)
func (h *Handler) CreateFlow(c echo.Context) error {
	ctx := c.Request().Context()

	var req CreateFlowRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad request", "invalid request body: "+err.Error())
	}
	if req.FlowType == "" {
		req.FlowType = models.FlowTypeDiscovery
	}

	f, err := h.Flows.Create(ctx, tenantKey(c), req.FlowType)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusCreated, f)
}

// GetFlow returns a flow with freshly recomputed status and progress.
// (GET /flows/:id)
func (h *Handler) GetFlow(c echo.Context) error {
	f, err := h.Flows.Get(c.Request().Context(), tenantKey(c), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// ListFlows lists the tenant's flows. Only incomplete=true is supported; the
// terminal population is reachable through audit records.
// (GET /flows?incomplete=true)
func (h *Handler) ListFlows(c echo.Context) error {
	flows, err := h.Flows.ListIncomplete(c.Request().Context(), tenantKey(c))
	if err != nil {
		return h.respondError(c, err)
	}
	if flows == nil {
		flows = []*models.Flow{}
	}
	return c.JSON(http.StatusOK, flows)
}

// ValidateFlow runs the read-only integrity check.
// (GET /flows/:id/validation)
func (h *Handler) ValidateFlow(c echo.Context) error {
	report, err := h.Flows.Validate(c.Request().Context(), tenantKey(c), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, report)
}

// ListTransitions returns the flow's append-only transition log.
// (GET /flows/:id/transitions)
func (h *Handler) ListTransitions(c echo.Context) error {
	recs, err := h.Flows.Transitions(c.Request().Context(), tenantKey(c), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	if recs == nil {
		recs = []models.TransitionRecord{}
	}
	return c.JSON(http.StatusOK, recs)
}

// ResumeFlow reactivates a paused, failed, or waiting flow. A lost resume
// race yields 409.
// (POST /flows/:id/resume)
func (h *Handler) ResumeFlow(c echo.Context) error {
	execCtx, err := h.Flows.Resume(c.Request().Context(), tenantKey(c), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, execCtx)
}

// PauseFlowRequest is the body of POST /flows/:id/pause. Cursor is opaque
// execution-layer state carried through to resume.
type PauseFlowRequest struct {
	Cursor json.RawMessage `json:"cursor,omitempty"`
}

// PauseFlow suspends an active flow and persists its resumption snapshot.
// (POST /flows/:id/pause)
func (h *Handler) PauseFlow(c echo.Context) error {
	var req PauseFlowRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad request", "invalid request body: "+err.Error())
	}

	f, err := h.Flows.Pause(c.Request().Context(), tenantKey(c), c.Param("id"), req.Cursor)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// ProvideInput reactivates a flow waiting for user input.
// (POST /flows/:id/input)
func (h *Handler) ProvideInput(c echo.Context) error {
	f, err := h.Flows.ProvideInput(c.Request().Context(), tenantKey(c), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// PhaseResultRequest is the body of the worker completion callback.
type PhaseResultRequest struct {
	Status     models.PhaseStatus `json:"status"`
	Error      string             `json:"error,omitempty"`
	PayloadRef string             `json:"payload_ref,omitempty"`
}

// RecordPhaseResult accepts a phase completion callback from the execution
// layer. Phases complete strictly in the configured sequence.
// (POST /flows/:id/phases/:phase)
func (h *Handler) RecordPhaseResult(c echo.Context) error {
	var req PhaseResultRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad request", "invalid request body: "+err.Error())
	}

	switch req.Status {
	case models.PhaseStatusCompleted, models.PhaseStatusFailed, models.PhaseStatusInProgress:
	default:
		return writeProblem(c, http.StatusBadRequest, "Bad request", "unknown phase status")
	}

	f, err := h.Flows.RecordPhaseResult(c.Request().Context(), tenantKey(c), c.Param("id"), c.Param("phase"), models.PhaseResult{
		Status:     req.Status,
		Error:      req.Error,
		PayloadRef: req.PayloadRef,
	})
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, f)
}

// DeleteFlow removes a flow and all data it owns, returning the deletion
// audit record. Active flows require force=true.
// (DELETE /flows/:id?force=bool)
func (h *Handler) DeleteFlow(c echo.Context) error {
	force := c.QueryParam("force") == "true"

	reason := models.DeletionReason(c.QueryParam("reason"))
	switch reason {
	case models.DeletionReasonAutoCleanup, models.DeletionReasonAdminAction:
	default:
		reason = models.DeletionReasonUserRequested
	}

	audit, err := h.Flows.Delete(c.Request().Context(), tenantKey(c), c.Param("id"), force, reason)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, audit)
}

// BatchDeleteRequest is the body of POST /flows/batch-delete.
type BatchDeleteRequest struct {
	FlowIDs []string `json:"flow_ids"`
	Force   bool     `json:"force"`
}

// BatchDeleteFlows deletes flows independently; one failure never aborts the
// rest.
// (POST /flows/batch-delete)
func (h *Handler) BatchDeleteFlows(c echo.Context) error {
	var req BatchDeleteRequest
	if err := c.Bind(&req); err != nil {
		return writeProblem(c, http.StatusBadRequest, "Bad request", "invalid request body: "+err.Error())
	}
	if len(req.FlowIDs) == 0 {
		return writeProblem(c, http.StatusBadRequest, "Bad request", "flow_ids is required")
	}

	result, err := h.Flows.DeleteMany(c.Request().Context(), tenantKey(c), req.FlowIDs, req.Force)
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, result)
}

// GetAudit returns a deletion audit record.
// (GET /audits/:id)
func (h *Handler) GetAudit(c echo.Context) error {
	rec, err := h.Flows.Audit(c.Request().Context(), tenantKey(c), c.Param("id"))
	if err != nil {
		return h.respondError(c, err)
	}
	return c.JSON(http.StatusOK, rec)
}
